package ports

import (
	"context"

	"github.com/agromesh/fieldsync/model"
)

type (
	// SyncController is the application-facing handle on the sync state
	// machine.
	SyncController interface {
		// Pause stops draining after the current in-flight record
		// finishes. Queue state is preserved.
		Pause(ctx context.Context) error

		// Resume lifts a pause and, when online with pending work,
		// restarts draining from where it stopped.
		Resume(ctx context.Context) error

		// Status reports the current state, pause flag, pending count,
		// last successful sync time and the most recent transmission
		// failure.
		Status(ctx context.Context) (model.SyncStatus, error)

		// Subscribe returns a channel receiving a status snapshot on
		// every state transition. Slow receivers miss intermediate
		// snapshots rather than blocking the coordinator.
		Subscribe() <-chan model.SyncStatus
	}

	// DrainKicker requests a drain pass outside the connectivity
	// triggers, e.g. for work enqueued while already online.
	DrainKicker interface {
		Kick()
	}

	// ConflictResolver merges local and remote divergent state for one
	// entity kind. The merged payload is written back to the cache and,
	// when the local change is discarded, the returned notice is
	// attached to the operation's history record.
	ConflictResolver interface {
		Resolve(ctx context.Context, operation model.OperationRecord, remote model.CanonicalState) (ResolveResult, error)
	}

	ResolveResult struct {
		MergedPayload  []byte
		Version        string
		LocalDiscarded bool
		Notice         model.Notice
	}
)
