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
	GetEntryQuery struct {
		Key string
	}

	GetEntryQueryHandler = decorator.QueryHandler[GetEntryQuery, model.CacheEntry]

	getEntryQueryHandler struct {
		cache ports.CacheReader
	}
)

func NewGetEntryQueryHandler(
	cache ports.CacheReader,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) GetEntryQueryHandler {
	return decorator.ApplyQueryDecorators[GetEntryQuery, model.CacheEntry](
		getEntryQueryHandler{cache: cache},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h getEntryQueryHandler) Execute(ctx context.Context, query GetEntryQuery) (model.CacheEntry, error) {
	return h.cache.Get(ctx, query.Key)
}
