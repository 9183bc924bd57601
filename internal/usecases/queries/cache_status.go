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
	CacheStatusQuery struct{}

	CacheStatusQueryHandler = decorator.QueryHandler[CacheStatusQuery, model.CacheStatus]

	cacheStatusQueryHandler struct {
		cache ports.CacheInspector
	}
)

func NewCacheStatusQueryHandler(
	cache ports.CacheInspector,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) CacheStatusQueryHandler {
	return decorator.ApplyQueryDecorators[CacheStatusQuery, model.CacheStatus](
		cacheStatusQueryHandler{cache: cache},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h cacheStatusQueryHandler) Execute(ctx context.Context, _ CacheStatusQuery) (model.CacheStatus, error) {
	return h.cache.Status(ctx)
}
