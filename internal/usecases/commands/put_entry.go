package commands

import (
	"context"
	"time"

	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/decorator"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type (
	PutEntryCommand struct {
		Key     string
		Payload []byte
		Tier    model.Tier
		TTL     time.Duration
		Version string

		// ForceEviction permits evicting critical entries when the
		// write cannot otherwise fit.
		ForceEviction bool
	}

	PutEntryCommandHandler = decorator.CommandHandler[PutEntryCommand, model.CacheEntry]

	putEntryCommandHandler struct {
		cache ports.CacheWriter
	}
)

func NewPutEntryCommandHandler(
	cache ports.CacheWriter,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) PutEntryCommandHandler {
	return decorator.ApplyCommandDecorators[PutEntryCommand, model.CacheEntry](
		putEntryCommandHandler{cache: cache},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h putEntryCommandHandler) Handle(ctx context.Context, cmd PutEntryCommand) (model.CacheEntry, error) {
	return h.cache.Put(ctx, ports.PutParams{
		Key:           cmd.Key,
		Payload:       cmd.Payload,
		Tier:          cmd.Tier,
		TTL:           cmd.TTL,
		Version:       cmd.Version,
		ForceEviction: cmd.ForceEviction,
	})
}
