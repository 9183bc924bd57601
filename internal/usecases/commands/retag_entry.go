package commands

import (
	"context"

	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/decorator"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type (
	RetagEntryCommand struct {
		Key  string
		Tier model.Tier
	}

	RetagEntryResult struct {
		Success bool
	}

	RetagEntryCommandHandler = decorator.CommandHandler[RetagEntryCommand, RetagEntryResult]

	retagEntryCommandHandler struct {
		cache ports.CacheStore
	}
)

func NewRetagEntryCommandHandler(
	cache ports.CacheStore,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) RetagEntryCommandHandler {
	return decorator.ApplyCommandDecorators[RetagEntryCommand, RetagEntryResult](
		retagEntryCommandHandler{cache: cache},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h retagEntryCommandHandler) Handle(ctx context.Context, cmd RetagEntryCommand) (RetagEntryResult, error) {
	if err := h.cache.Retag(ctx, cmd.Key, cmd.Tier); err != nil {
		return RetagEntryResult{Success: false}, err
	}

	return RetagEntryResult{Success: true}, nil
}
