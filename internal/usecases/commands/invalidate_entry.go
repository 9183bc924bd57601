package commands

import (
	"context"

	"github.com/agromesh/fieldsync/pkg/decorator"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type (
	InvalidateEntryCommand struct {
		Key string
	}

	InvalidateEntryResult struct {
		Success bool
	}

	InvalidateEntryCommandHandler = decorator.CommandHandler[InvalidateEntryCommand, InvalidateEntryResult]

	invalidateEntryCommandHandler struct {
		cache ports.CacheInvalidator
	}
)

func NewInvalidateEntryCommandHandler(
	cache ports.CacheInvalidator,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) InvalidateEntryCommandHandler {
	return decorator.ApplyCommandDecorators[InvalidateEntryCommand, InvalidateEntryResult](
		invalidateEntryCommandHandler{cache: cache},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h invalidateEntryCommandHandler) Handle(ctx context.Context, cmd InvalidateEntryCommand) (InvalidateEntryResult, error) {
	if err := h.cache.Invalidate(ctx, cmd.Key); err != nil {
		return InvalidateEntryResult{Success: false}, err
	}

	return InvalidateEntryResult{Success: true}, nil
}
