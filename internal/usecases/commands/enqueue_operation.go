package commands

import (
	"context"
	"fmt"

	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/decorator"
	"github.com/agromesh/fieldsync/pkg/idempotency"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type (
	EnqueueOperationCommand struct {
		Kind        model.OperationKind
		EntityKey   string
		Payload     []byte
		BaseVersion string
		DedupeKey   string
	}

	EnqueueOperationCommandHandler = decorator.CommandHandler[EnqueueOperationCommand, model.OperationRecord]

	enqueueOperationCommandHandler struct {
		queue  ports.Enqueuer
		kicker ports.DrainKicker

		// drainOnEnqueue starts a drain pass for work accepted while
		// online instead of waiting for the next connectivity event.
		drainOnEnqueue bool
	}
)

func NewEnqueueOperationCommandHandler(
	queue ports.Enqueuer,
	kicker ports.DrainKicker,
	drainOnEnqueue bool,
	log logger.Logger,
	metricsClient metrics.Client,
	tracerProvider otelTrace.TracerProvider,
) EnqueueOperationCommandHandler {
	return decorator.ApplyCommandDecorators[EnqueueOperationCommand, model.OperationRecord](
		enqueueOperationCommandHandler{
			queue:          queue,
			kicker:         kicker,
			drainOnEnqueue: drainOnEnqueue,
		},
		log,
		metricsClient,
		tracerProvider,
	)
}

func (h enqueueOperationCommandHandler) Handle(ctx context.Context, cmd EnqueueOperationCommand) (model.OperationRecord, error) {
	if cmd.DedupeKey != "" {
		if err := idempotency.Validate(cmd.DedupeKey); err != nil {
			return model.OperationRecord{}, fmt.Errorf("validating dedupe key: %w", err)
		}
	}

	record, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:        cmd.Kind,
		EntityKey:   cmd.EntityKey,
		Payload:     cmd.Payload,
		BaseVersion: cmd.BaseVersion,
		DedupeKey:   cmd.DedupeKey,
	})
	if err != nil {
		return model.OperationRecord{}, err
	}

	if h.drainOnEnqueue && h.kicker != nil {
		h.kicker.Kick()
	}

	return record, nil
}
