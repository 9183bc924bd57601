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
	ResumeSyncCommand struct{}

	ResumeSyncCommandHandler = decorator.CommandHandler[ResumeSyncCommand, model.SyncStatus]

	resumeSyncCommandHandler struct {
		sync ports.SyncController
	}
)

func NewResumeSyncCommandHandler(
	sync ports.SyncController,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) ResumeSyncCommandHandler {
	return decorator.ApplyCommandDecorators[ResumeSyncCommand, model.SyncStatus](
		resumeSyncCommandHandler{sync: sync},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h resumeSyncCommandHandler) Handle(ctx context.Context, _ ResumeSyncCommand) (model.SyncStatus, error) {
	if err := h.sync.Resume(ctx); err != nil {
		return model.SyncStatus{}, err
	}

	return h.sync.Status(ctx)
}
