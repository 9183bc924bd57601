package ports

import (
	"context"
	"time"

	"github.com/agromesh/fieldsync/model"
)

type (
	// EnqueueParams carries one mutation to replay against the remote.
	// DedupeKey is optional; when set it lets the caller collapse
	// repeated enqueues of the same logical change.
	EnqueueParams struct {
		Kind        model.OperationKind
		EntityKey   string
		Payload     []byte
		BaseVersion string
		DedupeKey   string
	}

	Enqueuer interface {
		// Enqueue durably appends an operation and returns the stored
		// record. It never touches the network.
		Enqueue(ctx context.Context, params EnqueueParams) (model.OperationRecord, error)
	}

	QueuePeeker interface {
		// PeekNext returns the next attemptable record: highest
		// priority class first, enqueue order within a class, skipping
		// records whose retry delay has not elapsed. Returns
		// model.ErrQueueEmpty when nothing is attemptable.
		PeekNext(ctx context.Context) (model.OperationRecord, error)
	}

	QueueMarker interface {
		// MarkInFlight claims a pending record for transmission. At
		// most one record may be in-flight per queue.
		MarkInFlight(ctx context.Context, id model.OperationID) error

		// MarkCompleted moves a record to its terminal success state.
		MarkCompleted(ctx context.Context, id model.OperationID) error

		// MarkFailed records a failed attempt: the retry count
		// increases, the record returns to pending gated by
		// nextAttemptAt and moves to the tail of its priority class,
		// or becomes failed-permanent once retries are exhausted.
		// The returned status reports which of the two happened.
		MarkFailed(ctx context.Context, id model.OperationID, cause string, nextAttemptAt time.Time) (model.OperationStatus, error)

		// MarkFailedPermanent closes an in-flight record out as
		// failed-permanent immediately, bypassing remaining retries.
		// Used when the remote rejects an operation in a way a retry
		// cannot fix.
		MarkFailedPermanent(ctx context.Context, id model.OperationID, cause string) error

		// AttachNotice stores a user-facing notice on a record,
		// surfaced through History.
		AttachNotice(ctx context.Context, id model.OperationID, notice string) error
	}

	QueueInspector interface {
		// PendingCount counts records still awaiting sync, including
		// any record currently in-flight.
		PendingCount(ctx context.Context) (int, error)

		// History returns terminal records, most recent first.
		History(ctx context.Context, limit int) ([]model.OperationRecord, error)
	}

	// OperationQueue is the durable queue of mutations awaiting remote
	// application.
	OperationQueue interface {
		Enqueuer
		QueuePeeker
		QueueMarker
		QueueInspector

		// RecoverInFlight returns records left in-flight by a crash to
		// pending, relying on idempotency keys to make the re-send
		// safe. Returns how many records were recovered.
		RecoverInFlight(ctx context.Context) (int, error)

		// PruneHistory trims terminal records beyond the retention
		// policy and returns how many were purged.
		PruneHistory(ctx context.Context) (int, error)
	}
)
