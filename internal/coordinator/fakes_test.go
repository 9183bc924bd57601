package coordinator_test

import (
	"context"
	"errors"
	"sync"

	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/idempotency"
	"github.com/agromesh/fieldsync/ports"
)

// fakeMonitor feeds scripted connectivity transitions to the coordinator.
type fakeMonitor struct {
	events chan ports.ConnectivityEvent
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{events: make(chan ports.ConnectivityEvent, 8)}
}

func (m *fakeMonitor) Events() <-chan ports.ConnectivityEvent {
	return m.events
}

func (m *fakeMonitor) goOnline() {
	m.events <- ports.ConnectivityOnline
}

func (m *fakeMonitor) goOffline() {
	m.events <- ports.ConnectivityOffline
}

type transportCall struct {
	operation model.OperationRecord
	key       string
	ctxKey    string
}

// fakeTransport records every Apply and answers from an optional script
// keyed on the zero-based call number. Without a script every call
// succeeds with a fixed canonical state.
type fakeTransport struct {
	mu     sync.Mutex
	script func(call int, operation model.OperationRecord) (model.CanonicalState, error)
	calls  []transportCall
}

func (t *fakeTransport) Apply(ctx context.Context, operation model.OperationRecord, idempotencyKey string) (model.CanonicalState, error) {
	ctxKey, _ := idempotency.FromContext(ctx)

	t.mu.Lock()
	call := len(t.calls)
	t.calls = append(t.calls, transportCall{operation: operation, key: idempotencyKey, ctxKey: ctxKey})
	script := t.script
	t.mu.Unlock()

	if script != nil {
		return script(call, operation)
	}

	return model.CanonicalState{Payload: []byte(`{"ok":true}`), Version: "v1"}, nil
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.calls)
}

func (t *fakeTransport) call(i int) transportCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls[i]
}

// dedupingTransport behaves like a remote that deduplicates by the
// idempotency key. The first delivery of each key is applied but the ack
// is lost, so the coordinator must replay; the replay returns the stored
// canonical state without applying again.
type dedupingTransport struct {
	mu      sync.Mutex
	acked   map[string]model.CanonicalState
	keys    []string
	applied int
}

func newDedupingTransport() *dedupingTransport {
	return &dedupingTransport{acked: make(map[string]model.CanonicalState)}
}

func (t *dedupingTransport) Apply(_ context.Context, _ model.OperationRecord, idempotencyKey string) (model.CanonicalState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.keys = append(t.keys, idempotencyKey)

	if canonical, ok := t.acked[idempotencyKey]; ok {
		return canonical, nil
	}

	t.applied++
	t.acked[idempotencyKey] = model.CanonicalState{Payload: []byte(`{"id":"srv-1"}`), Version: "v1"}

	return model.CanonicalState{}, model.NewTransportError(errors.New("ack lost"))
}

func (t *dedupingTransport) stats() (applied int, keys []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.applied, append([]string(nil), t.keys...)
}

// gatedTransport blocks each Apply until the test releases it, so a test
// can act while a record is mid-transmission.
type gatedTransport struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (t *gatedTransport) Apply(ctx context.Context, _ model.OperationRecord, _ string) (model.CanonicalState, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()

	t.started <- struct{}{}

	select {
	case <-t.release:
	case <-ctx.Done():
		return model.CanonicalState{}, model.NewTransportError(ctx.Err())
	}

	return model.CanonicalState{Payload: []byte(`{"ok":true}`), Version: "v1"}, nil
}

func (t *gatedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls
}
