package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/internal/adapters/repos"
	"github.com/agromesh/fieldsync/internal/coordinator"
	"github.com/agromesh/fieldsync/internal/infrastructure"
	"github.com/agromesh/fieldsync/internal/resolver"
	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics/noop"
	"github.com/agromesh/fieldsync/ports"
	"github.com/stretchr/testify/require"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Cache: config.Cache{
			CapacityBytes:   1 << 20,
			SweepInterval:   time.Minute,
			RecencyWeight:   1.0,
			FrequencyWeight: 1.0,
		},
		Queue: config.Queue{
			MaxRetries:       5,
			HistoryLimit:     100,
			HistoryRetention: 168 * time.Hour,
		},
		Sync: config.Sync{
			DrainOnEnqueue: true,
			PruneInterval:  time.Hour,
			StatusBuffer:   8,
		},
		Backoff: config.Backoff{
			BaseDelay:  20 * time.Millisecond,
			Multiplier: 2.0,
			Jitter:     0,
			MaxDelay:   200 * time.Millisecond,
		},
		DrainPacing: config.DrainPacing{
			Enabled:      true,
			OpsPerSecond: 200,
			Burst:        50,
		},
		Compression: config.Compression{Enabled: true, Level: 5, MinSize: 256},
	}
}

type harness struct {
	store   *infrastructure.SQLiteStore
	queue   *repos.QueueRepository
	cache   *repos.CacheRepository
	monitor *fakeMonitor
	coord   *coordinator.Coordinator
}

func newHarness(t *testing.T, transport ports.Transport, cfg config.EngineConfig) *harness {
	t.Helper()

	return newHarnessAt(t, transport, cfg, ":memory:")
}

func newHarnessAt(t *testing.T, transport ports.Transport, cfg config.EngineConfig, path string) *harness {
	t.Helper()

	log := logger.NewTestLogger()

	store, err := infrastructure.NewSQLiteStore(config.Storage{
		Path:        path,
		BusyTimeout: 5 * time.Second,
	}, log)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	codec := infrastructure.NewCodec(cfg.Compression)

	queue, err := repos.NewQueueRepository(
		context.Background(), store, codec, repos.NewSQLScanner(),
		cfg.Queue, noop.NewMetricsClient(), log,
	)
	require.NoError(t, err)

	cache, err := repos.NewCacheRepository(
		context.Background(), store, codec, repos.NewSQLScanner(),
		cfg.Cache, noop.NewMetricsClient(), log,
	)
	require.NoError(t, err)

	monitor := newFakeMonitor()

	coord, err := coordinator.New(coordinator.Deps{
		Queue:     queue,
		Cache:     cache,
		Transport: transport,
		Resolver:  resolver.NewResolver(log),
		Monitor:   monitor,
		Metrics:   noop.NewMetricsClient(),
		Logger:    log,
	}, cfg)
	require.NoError(t, err)

	return &harness{
		store:   store,
		queue:   queue,
		cache:   cache,
		monitor: monitor,
		coord:   coord,
	}
}

// start runs the coordinator loop until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)

	go func() {
		runErr <- h.coord.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-runErr)
	})
}

func (h *harness) eventuallyPending(t *testing.T, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		count, err := h.queue.PendingCount(context.Background())

		return err == nil && count == want
	}, 3*time.Second, 10*time.Millisecond)
}

func (h *harness) historyRecord(t *testing.T, id model.OperationID) model.OperationRecord {
	t.Helper()

	records, err := h.queue.History(context.Background(), 0)
	require.NoError(t, err)

	for _, record := range records {
		if record.ID == id {
			return record
		}
	}

	t.Fatalf("operation %s not in history", id)

	return model.OperationRecord{}
}

func awaitStart(t *testing.T, transport *gatedTransport) {
	t.Helper()

	select {
	case <-transport.started:
	case <-time.After(3 * time.Second):
		t.Fatal("transport never received the operation")
	}
}

func profileDoc(t *testing.T, fields map[string]model.FieldStamp) []byte {
	t.Helper()

	payload, err := json.Marshal(model.ProfileDocument{Fields: fields})
	require.NoError(t, err)

	return payload
}

func fieldStamp(value string, at time.Time) model.FieldStamp {
	return model.FieldStamp{Value: json.RawMessage(value), UpdatedAt: at}
}

func TestCoordinatorDrainsQueueInPriorityOrder(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	profile, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:      model.KindProfileUpdate,
		EntityKey: "profile:farmer-1",
		Payload:   []byte(`{"fields":{}}`),
	})
	require.NoError(t, err)

	upload, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:      model.KindDiseaseAnalysisUpload,
		EntityKey: "analysis:7",
		Payload:   []byte(`{"photo":"leaf.jpg"}`),
	})
	require.NoError(t, err)

	feedback, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:      model.KindFeedback,
		EntityKey: "feedback:42",
		Payload:   []byte(`{"rating":5}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)

	// The upload jumps the queue; the two medium records keep their
	// enqueue order.
	require.Equal(t, 3, transport.callCount())
	require.Equal(t, upload.ID, transport.call(0).operation.ID)
	require.Equal(t, profile.ID, transport.call(1).operation.ID)
	require.Equal(t, feedback.ID, transport.call(2).operation.ID)
	require.NotEqual(t, transport.call(0).key, transport.call(1).key)
	require.Equal(t, transport.call(0).key, transport.call(0).ctxKey)

	// Acknowledged state lands in the cache under the operation's tier.
	entry, err := h.cache.Get(ctx, "analysis:7")
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(entry.Payload))
	require.Equal(t, "v1", entry.Version)
	require.Equal(t, model.TierHigh, entry.Tier)

	require.Eventually(t, func() bool {
		status, statusErr := h.coord.Status(ctx)

		return statusErr == nil && status.State == model.SyncStateIdle && !status.LastSyncAt.IsZero()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCoordinatorStaysOfflineUntilConnectivity(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindConsultationRequest,
		Payload: []byte(`{"topic":"soil"}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.coord.Kick()

	require.Never(t, func() bool {
		return transport.callCount() > 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, model.SyncStateOffline, status.State)
	require.Equal(t, 1, status.PendingCount)

	h.monitor.goOnline()

	h.eventuallyPending(t, 0)
	require.Equal(t, 1, transport.callCount())
}

func TestCoordinatorKickDrainsFreshWork(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindPriceAlertSubscription,
		Payload: []byte(`{"cropIds":["maize"]}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)
	require.Equal(t, 1, transport.callCount())

	// Let the loop park before enqueueing work behind its back.
	time.Sleep(50 * time.Millisecond)

	_, err = h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindPriceAlertSubscription,
		Payload: []byte(`{"cropIds":["cassava"]}`),
	})
	require.NoError(t, err)

	require.Never(t, func() bool {
		return transport.callCount() > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	h.coord.Kick()

	h.eventuallyPending(t, 0)
	require.Equal(t, 2, transport.callCount())
}

func TestCoordinatorRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		script: func(call int, _ model.OperationRecord) (model.CanonicalState, error) {
			if call < 2 {
				return model.CanonicalState{}, model.NewTransportError(errors.New("connection reset"))
			}

			return model.CanonicalState{Payload: []byte(`{"id":"srv-3"}`), Version: "v3"}, nil
		},
	}
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	record, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:      model.KindDiseaseAnalysisUpload,
		EntityKey: "analysis:12",
		Payload:   []byte(`{"photo":"leaf.jpg"}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)

	require.Equal(t, 3, transport.callCount())

	stored := h.historyRecord(t, record.ID)
	require.Equal(t, model.StatusCompleted, stored.Status)
	require.Equal(t, uint(2), stored.RetryCount)
	require.Contains(t, stored.LastError, "connection reset")

	entry, err := h.cache.Get(ctx, "analysis:12")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"srv-3"}`, string(entry.Payload))
	require.Equal(t, "v3", entry.Version)

	// The successful transmission cleared the failure from the observable
	// status.
	require.Eventually(t, func() bool {
		status, statusErr := h.coord.Status(ctx)

		return statusErr == nil && status.LastError == ""
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCoordinatorReplayReusesTransmissionKey(t *testing.T) {
	t.Parallel()

	transport := newDedupingTransport()
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	record, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:      model.KindDiseaseAnalysisUpload,
		EntityKey: "analysis:9",
		Payload:   []byte(`{"photo":"leaf.jpg"}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)

	// The lost ack forced a replay; the remote deduplicated it by the
	// unchanged key and applied the operation exactly once.
	applied, keys := transport.stats()
	require.Equal(t, 1, applied)
	require.Len(t, keys, 2)
	require.Equal(t, keys[0], keys[1])

	stored := h.historyRecord(t, record.ID)
	require.Equal(t, model.StatusCompleted, stored.Status)
	require.Equal(t, uint(1), stored.RetryCount)

	entry, err := h.cache.Get(ctx, "analysis:9")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"srv-1"}`, string(entry.Payload))
}

func TestCoordinatorClosesOutRemoteRejection(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		script: func(int, model.OperationRecord) (model.CanonicalState, error) {
			return model.CanonicalState{}, model.NewPermanentTransportError(errors.New("unknown entity"))
		},
	}
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	record, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindConsultationRequest,
		Payload: []byte(`{"topic":"pests"}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)

	require.Equal(t, 1, transport.callCount())

	stored := h.historyRecord(t, record.ID)
	require.Equal(t, model.StatusFailedPermanent, stored.Status)
	require.Equal(t, uint(0), stored.RetryCount)
	require.Contains(t, stored.LastError, "unknown entity")
	require.NotEmpty(t, stored.Notice)

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status.LastError, "unknown entity")
}

func TestCoordinatorExhaustsRetriesIntoPermanentFailure(t *testing.T) {
	t.Parallel()

	cfg := testEngineConfig()
	cfg.Queue.MaxRetries = 1

	transport := &fakeTransport{
		script: func(int, model.OperationRecord) (model.CanonicalState, error) {
			return model.CanonicalState{}, model.NewTransportError(errors.New("gateway timeout"))
		},
	}
	h := newHarness(t, transport, cfg)
	ctx := context.Background()

	record, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindFeedback,
		Payload: []byte(`{"rating":2}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)

	require.Equal(t, 2, transport.callCount())

	stored := h.historyRecord(t, record.ID)
	require.Equal(t, model.StatusFailedPermanent, stored.Status)
	require.Equal(t, uint(2), stored.RetryCount)
	require.NotEmpty(t, stored.Notice)
}

func TestCoordinatorResolvesConflicts(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	t.Run("newer local change survives the merge", func(t *testing.T) {
		t.Parallel()

		remoteDoc := profileDoc(t, map[string]model.FieldStamp{
			"village": fieldStamp(`"Makindu"`, base),
			"crop":    fieldStamp(`"maize"`, base),
		})
		transport := &fakeTransport{
			script: func(int, model.OperationRecord) (model.CanonicalState, error) {
				return model.CanonicalState{}, &model.ConflictError{RemoteState: remoteDoc, RemoteVersion: "v7"}
			},
		}
		h := newHarness(t, transport, testEngineConfig())
		ctx := context.Background()

		record, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
			Kind:      model.KindProfileUpdate,
			EntityKey: "profile:farmer-1",
			Payload: profileDoc(t, map[string]model.FieldStamp{
				"village": fieldStamp(`"Kibwezi"`, base.Add(2*time.Hour)),
			}),
			BaseVersion: "v1",
		})
		require.NoError(t, err)

		h.start(t)
		h.monitor.goOnline()

		h.eventuallyPending(t, 0)

		// The conflict settles locally; the operation is not re-sent.
		require.Equal(t, 1, transport.callCount())

		entry, err := h.cache.Get(ctx, "profile:farmer-1")
		require.NoError(t, err)
		require.Equal(t, "v7", entry.Version)
		require.Equal(t, model.TierCritical, entry.Tier)

		var merged model.ProfileDocument
		require.NoError(t, json.Unmarshal(entry.Payload, &merged))
		require.JSONEq(t, `"Kibwezi"`, string(merged.Fields["village"].Value))
		require.JSONEq(t, `"maize"`, string(merged.Fields["crop"].Value))

		stored := h.historyRecord(t, record.ID)
		require.Equal(t, model.StatusCompleted, stored.Status)
		require.Empty(t, stored.Notice)
	})

	t.Run("older local change is discarded with a notice", func(t *testing.T) {
		t.Parallel()

		remoteDoc := profileDoc(t, map[string]model.FieldStamp{
			"village": fieldStamp(`"Makindu"`, base.Add(2*time.Hour)),
		})
		transport := &fakeTransport{
			script: func(int, model.OperationRecord) (model.CanonicalState, error) {
				return model.CanonicalState{}, &model.ConflictError{RemoteState: remoteDoc, RemoteVersion: "v8"}
			},
		}
		h := newHarness(t, transport, testEngineConfig())
		ctx := context.Background()

		record, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
			Kind:      model.KindProfileUpdate,
			EntityKey: "profile:farmer-1",
			Payload: profileDoc(t, map[string]model.FieldStamp{
				"village": fieldStamp(`"Kibwezi"`, base),
			}),
			BaseVersion: "v1",
		})
		require.NoError(t, err)

		h.start(t)
		h.monitor.goOnline()

		h.eventuallyPending(t, 0)

		entry, err := h.cache.Get(ctx, "profile:farmer-1")
		require.NoError(t, err)
		require.Equal(t, "v8", entry.Version)

		var merged model.ProfileDocument
		require.NoError(t, json.Unmarshal(entry.Payload, &merged))
		require.JSONEq(t, `"Makindu"`, string(merged.Fields["village"].Value))

		stored := h.historyRecord(t, record.ID)
		require.Equal(t, model.StatusCompleted, stored.Status)
		require.Contains(t, stored.Notice, "newer copy")
	})
}

func TestCoordinatorPauseFinishesInFlightRecord(t *testing.T) {
	t.Parallel()

	transport := newGatedTransport()
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindFeedback,
		Payload: []byte(`{"rating":4}`),
	})
	require.NoError(t, err)

	_, err = h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindFeedback,
		Payload: []byte(`{"rating":5}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	// Pause lands while the first record is mid-transmission; that record
	// finishes, the second stays queued.
	awaitStart(t, transport)
	require.NoError(t, h.coord.Pause(ctx))
	transport.release <- struct{}{}

	h.eventuallyPending(t, 1)

	require.Never(t, func() bool {
		return transport.callCount() > 1
	}, 150*time.Millisecond, 10*time.Millisecond)

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Paused)
	require.Equal(t, model.SyncStateIdle, status.State)

	require.NoError(t, h.coord.Resume(ctx))

	awaitStart(t, transport)
	transport.release <- struct{}{}

	h.eventuallyPending(t, 0)
	require.Equal(t, 2, transport.callCount())
}

func TestCoordinatorOfflineEventHaltsDrain(t *testing.T) {
	t.Parallel()

	transport := newGatedTransport()
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindFeedback,
		Payload: []byte(`{"rating":3}`),
	})
	require.NoError(t, err)

	_, err = h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindFeedback,
		Payload: []byte(`{"rating":1}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	// Connectivity drops while the first record is mid-transmission; its
	// attempt completes, the second waits for the next online event.
	awaitStart(t, transport)
	h.monitor.goOffline()
	transport.release <- struct{}{}

	h.eventuallyPending(t, 1)

	require.Never(t, func() bool {
		return transport.callCount() > 1
	}, 150*time.Millisecond, 10*time.Millisecond)

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, model.SyncStateOffline, status.State)

	h.monitor.goOnline()

	awaitStart(t, transport)
	transport.release <- struct{}{}

	h.eventuallyPending(t, 0)
	require.Equal(t, 2, transport.callCount())
}

func TestCoordinatorOpenCircuitParksDrain(t *testing.T) {
	t.Parallel()

	cfg := testEngineConfig()
	cfg.CircuitBreaker = config.CircuitBreaker{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          60 * time.Millisecond,
		FailureThreshold: 1,
	}

	transport := &fakeTransport{
		script: func(call int, _ model.OperationRecord) (model.CanonicalState, error) {
			if call == 0 {
				return model.CanonicalState{}, model.NewTransportError(errors.New("connection reset"))
			}

			return model.CanonicalState{Payload: []byte(`{"ok":true}`), Version: "v1"}, nil
		},
	}
	h := newHarness(t, transport, cfg)
	ctx := context.Background()

	upload, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindDiseaseAnalysisUpload,
		Payload: []byte(`{"photo":"leaf.jpg"}`),
	})
	require.NoError(t, err)

	feedback, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindFeedback,
		Payload: []byte(`{"rating":4}`),
	})
	require.NoError(t, err)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)

	// The failed upload consumed one retry. The feedback claim the open
	// circuit refused was reverted, so it completes with none.
	uploadStored := h.historyRecord(t, upload.ID)
	require.Equal(t, model.StatusCompleted, uploadStored.Status)
	require.Equal(t, uint(1), uploadStored.RetryCount)

	feedbackStored := h.historyRecord(t, feedback.ID)
	require.Equal(t, model.StatusCompleted, feedbackStored.Status)
	require.Equal(t, uint(0), feedbackStored.RetryCount)

	require.Equal(t, 3, transport.callCount())
}

func TestCoordinatorRecoversInFlightAfterRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fieldsync.db")
	cfg := testEngineConfig()
	ctx := context.Background()

	// First process claims a record and dies before the ack arrives.
	crashed := newHarnessAt(t, &fakeTransport{}, cfg, path)

	record, err := crashed.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:      model.KindDiseaseAnalysisUpload,
		EntityKey: "analysis:3",
		Payload:   []byte(`{"photo":"stem.jpg"}`),
	})
	require.NoError(t, err)
	require.NoError(t, crashed.queue.MarkInFlight(ctx, record.ID))
	require.NoError(t, crashed.store.Close())

	transport := &fakeTransport{}
	h := newHarnessAt(t, transport, cfg, path)

	h.start(t)
	h.monitor.goOnline()

	h.eventuallyPending(t, 0)

	require.Equal(t, 1, transport.callCount())
	require.Equal(t, record.ID, transport.call(0).operation.ID)
	require.Equal(t, uint(0), transport.call(0).operation.RetryCount)

	stored := h.historyRecord(t, record.ID)
	require.Equal(t, model.StatusCompleted, stored.Status)
}

func TestCoordinatorSubscribePublishesTransitions(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	h := newHarness(t, transport, testEngineConfig())
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, ports.EnqueueParams{
		Kind:    model.KindFeedback,
		Payload: []byte(`{"rating":5}`),
	})
	require.NoError(t, err)

	updates := h.coord.Subscribe()

	h.start(t)
	h.monitor.goOnline()

	var snapshots []model.SyncStatus

	deadline := time.After(3 * time.Second)

	for settled := false; !settled; {
		select {
		case status, ok := <-updates:
			require.True(t, ok, "status channel closed before the drain settled")
			snapshots = append(snapshots, status)

			settled = status.State == model.SyncStateIdle && status.PendingCount == 0
		case <-deadline:
			t.Fatal("drain never settled")
		}
	}

	var sawDraining bool

	for _, status := range snapshots {
		if status.State == model.SyncStateDraining {
			sawDraining = true
		}
	}

	require.True(t, sawDraining)
	require.False(t, snapshots[len(snapshots)-1].LastSyncAt.IsZero())
}
