package queries

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
	SyncStatusQuery struct{}

	SyncStatusQueryHandler = decorator.QueryHandler[SyncStatusQuery, model.SyncStatus]

	syncStatusQueryHandler struct {
		sync ports.SyncController
	}
)

func NewSyncStatusQueryHandler(
	sync ports.SyncController,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) SyncStatusQueryHandler {
	return decorator.ApplyQueryDecorators[SyncStatusQuery, model.SyncStatus](
		syncStatusQueryHandler{sync: sync},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h syncStatusQueryHandler) Execute(ctx context.Context, _ SyncStatusQuery) (model.SyncStatus, error) {
	return h.sync.Status(ctx)
}
