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
	// HistoryQuery lists terminal operation records, most recent
	// first. Limit <= 0 falls back to the configured history limit.
	HistoryQuery struct {
		Limit int
	}

	HistoryQueryHandler = decorator.QueryHandler[HistoryQuery, []model.OperationRecord]

	historyQueryHandler struct {
		queue ports.QueueInspector
	}
)

func NewHistoryQueryHandler(
	queue ports.QueueInspector,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) HistoryQueryHandler {
	return decorator.ApplyQueryDecorators[HistoryQuery, []model.OperationRecord](
		historyQueryHandler{queue: queue},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h historyQueryHandler) Execute(ctx context.Context, query HistoryQuery) ([]model.OperationRecord, error) {
	return h.queue.History(ctx, query.Limit)
}
