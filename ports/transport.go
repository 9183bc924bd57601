package ports

import (
	"context"

	"github.com/agromesh/fieldsync/model"
)

// Transport applies queued operations to the remote system. The remote must
// deduplicate by the idempotency key, so replaying an operation after an
// ambiguous failure is safe.
//
// Apply returns the canonical state the remote settled on, a
// *model.TransportError for delivery failures, or a *model.ConflictError
// when the remote holds a newer version than the operation was based on.
// The key is also carried on ctx, readable with idempotency.FromContext,
// for implementations layered over clients that only see the context.
type Transport interface {
	Apply(ctx context.Context, operation model.OperationRecord, idempotencyKey string) (model.CanonicalState, error)
}
