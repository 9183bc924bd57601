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
	PauseSyncCommand struct{}

	PauseSyncCommandHandler = decorator.CommandHandler[PauseSyncCommand, model.SyncStatus]

	pauseSyncCommandHandler struct {
		sync ports.SyncController
	}
)

func NewPauseSyncCommandHandler(
	sync ports.SyncController,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) PauseSyncCommandHandler {
	return decorator.ApplyCommandDecorators[PauseSyncCommand, model.SyncStatus](
		pauseSyncCommandHandler{sync: sync},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h pauseSyncCommandHandler) Handle(ctx context.Context, _ PauseSyncCommand) (model.SyncStatus, error) {
	if err := h.sync.Pause(ctx); err != nil {
		return model.SyncStatus{}, err
	}

	return h.sync.Status(ctx)
}
