// Package coordinator drives the sync state machine. A single run loop
// consumes connectivity events and drain kicks, claims one queue record at
// a time, transmits it, and routes the outcome: acknowledged state lands in
// the cache, transient failures reschedule with backoff, conflicts go
// through the resolver, and rejections close out with a user notice.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/circuitbreaker"
	"github.com/agromesh/fieldsync/pkg/idempotency"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	"github.com/cenkalti/backoff/v5"
	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
	"go.opentelemetry.io/otel/attribute"
)

// A single device drains serially, so the pacer meters one shared key.
const drainPacerKey = "drain"

// errDrainHalted stops the current drain pass early. It never leaves the
// coordinator.
var errDrainHalted = errors.New("drain pass halted")

type (
	// transmission is one transport exchange as seen by the circuit
	// breaker. A conflict is a valid response from a reachable remote,
	// not a delivery failure, so it must not trip the breaker.
	transmission struct {
		canonical model.CanonicalState
		conflict  *model.ConflictError
	}

	// Deps collects the collaborators the coordinator drives.
	Deps struct {
		Queue     ports.OperationQueue
		Cache     ports.CacheStore
		Transport ports.Transport
		Resolver  ports.ConflictResolver
		Monitor   ports.ConnectivityMonitor
		Metrics   metrics.Client
		Logger    logger.Logger
	}

	// Coordinator owns the Idle/Draining/Offline state machine.
	// Connectivity events are the sole online/offline trigger; records
	// are applied one at a time in queue order, and a record is marked
	// completed only after the transport returns an unambiguous
	// acknowledgement.
	Coordinator struct {
		queue     ports.OperationQueue
		cache     ports.CacheStore
		transport ports.Transport
		resolver  ports.ConflictResolver
		monitor   ports.ConnectivityMonitor

		breaker *circuitbreaker.CircuitBreaker[transmission]
		pacer   *throttled.GCRARateLimiterCtx

		logger  logger.Logger
		metrics metrics.Client

		syncConfig    config.Sync
		backoffConfig config.Backoff
		breakerConfig config.CircuitBreaker

		clock func() time.Time

		kick chan struct{}

		mu          sync.Mutex
		online      bool
		draining    bool
		paused      bool
		lastSyncAt  time.Time
		lastError   string
		subscribers []chan model.SyncStatus
		closed      bool
	}
)

func New(deps Deps, cfg config.EngineConfig) (*Coordinator, error) {
	c := &Coordinator{
		queue:         deps.Queue,
		cache:         deps.Cache,
		transport:     deps.Transport,
		resolver:      deps.Resolver,
		monitor:       deps.Monitor,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		syncConfig:    cfg.Sync,
		backoffConfig: cfg.Backoff,
		breakerConfig: cfg.CircuitBreaker,
		clock:         time.Now,
		kick:          make(chan struct{}, 1),
	}

	c.breaker = circuitbreaker.New[transmission](circuitbreaker.Config{
		Name:             "sync-transport",
		Enabled:          cfg.CircuitBreaker.Enabled,
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
		Interval:         cfg.CircuitBreaker.Interval,
		Timeout:          cfg.CircuitBreaker.Timeout,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
	})

	if cfg.DrainPacing.Enabled {
		store, err := memstore.NewCtx(64)
		if err != nil {
			return nil, fmt.Errorf("creating pacer store: %w", err)
		}

		limiter, err := throttled.NewGCRARateLimiterCtx(store, throttled.RateQuota{
			MaxRate:  throttled.PerSec(cfg.DrainPacing.OpsPerSecond),
			MaxBurst: cfg.DrainPacing.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("creating drain pacer: %w", err)
		}

		c.pacer = limiter
	}

	return c, nil
}

// WithClock overrides the time source, which tests rely on.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock

	return c
}

// Run owns the event loop until ctx is canceled. Records left in-flight by
// a previous process are recovered before any event is consumed, so a
// restart resumes exactly where the interruption happened.
func (c *Coordinator) Run(ctx context.Context) error {
	if _, err := c.queue.RecoverInFlight(ctx); err != nil {
		return fmt.Errorf("recovering in-flight operations: %w", err)
	}

	if status, err := c.cache.Status(ctx); err == nil {
		c.mu.Lock()
		c.lastSyncAt = status.LastSyncAt
		c.mu.Unlock()
	}

	defer c.closeSubscribers()

	events := c.monitor.Events()

	var retryWake <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				events = nil

				continue
			}

			c.handleConnectivity(ctx, event)

		case <-retryWake:
			retryWake = nil
			c.Kick()

		case <-c.kick:
			if wakeAt := c.drain(ctx, events); !wakeAt.IsZero() {
				retryWake = time.After(wakeAt.Sub(c.clock()))
			}
		}
	}
}

// Kick requests a drain pass. Safe from any goroutine; a pass already
// pending absorbs the request.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Pause stops draining after the current in-flight record finishes. Queue
// state is preserved.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.mu.Lock()
	changed := !c.paused
	c.paused = true
	c.mu.Unlock()

	if changed {
		log := c.logger.WithContext(ctx)
		log.Info().Msg("sync paused")
		c.notify(ctx)
	}

	return nil
}

// Resume lifts a pause and restarts draining when online with pending work.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	changed := c.paused
	c.paused = false
	c.mu.Unlock()

	if changed {
		log := c.logger.WithContext(ctx)
		log.Info().Msg("sync resumed")
		c.notify(ctx)
		c.Kick()
	}

	return nil
}

// Status reports the current state, pause flag, pending count, last
// successful sync time and the most recent transmission failure.
func (c *Coordinator) Status(ctx context.Context) (model.SyncStatus, error) {
	count, err := c.queue.PendingCount(ctx)
	if err != nil {
		return model.SyncStatus{}, fmt.Errorf("reading pending count: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return model.SyncStatus{
		State:        c.stateLocked(),
		Paused:       c.paused,
		PendingCount: count,
		LastSyncAt:   c.lastSyncAt,
		LastError:    c.lastError,
	}, nil
}

// Subscribe returns a channel receiving a status snapshot on every state
// transition. Slow receivers miss intermediate snapshots rather than
// blocking the coordinator. The channel closes when the run loop exits.
func (c *Coordinator) Subscribe() <-chan model.SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := make(chan model.SyncStatus, c.statusBuffer())

	if c.closed {
		close(sub)

		return sub
	}

	c.subscribers = append(c.subscribers, sub)

	return sub
}

func (c *Coordinator) handleConnectivity(ctx context.Context, event ports.ConnectivityEvent) {
	online := event == ports.ConnectivityOnline

	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()

	if !changed {
		return
	}

	log := c.logger.WithContext(ctx)
	log.Info().
		Str("connectivity", string(event)).
		Msg("connectivity changed")

	c.notify(ctx)

	if online {
		c.Kick()
	}
}

// drain processes ready records until the queue is empty, the device goes
// offline, a pause lands, or the transport parks. Connectivity events are
// swept between records so an offline transition stops the pass after the
// record already in flight. The returned wake time, when set, schedules
// the next pass for records deferred by a retry delay.
func (c *Coordinator) drain(ctx context.Context, events <-chan ports.ConnectivityEvent) time.Time {
	count, err := c.queue.PendingCount(ctx)
	if err != nil {
		log := c.logger.WithContext(ctx)
		log.Warn().Err(err).Msg("failed to read pending count")
	}

	if count == 0 {
		return time.Time{}
	}

	if !c.beginDrain(ctx) {
		return time.Time{}
	}
	defer c.endDrain(ctx)

	var wakeAt time.Time

	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil

				break
			}

			c.handleConnectivity(ctx, event)
		default:
		}

		if ctx.Err() != nil || !c.attemptable() {
			return wakeAt
		}

		record, err := c.queue.PeekNext(ctx)
		if errors.Is(err, model.ErrQueueEmpty) {
			return c.emptyQueueWake(ctx, wakeAt)
		}

		if err != nil {
			log := c.logger.WithContext(ctx)
			log.Error().Err(err).Msg("failed to read queue head")

			return earliestWake(wakeAt, c.clock().Add(c.backoffConfig.BaseDelay))
		}

		attemptWake, err := c.attempt(ctx, record)
		wakeAt = earliestWake(wakeAt, attemptWake)

		if err != nil {
			return wakeAt
		}
	}
}

// attempt runs the per-record protocol: claim, transmit, route the outcome.
// The returned wake time schedules a deferred retry; a non-nil error ends
// the current drain pass.
func (c *Coordinator) attempt(ctx context.Context, record model.OperationRecord) (time.Time, error) {
	ctx = context.WithValue(ctx, logger.ContextKeyOperationID, record.ID.String())
	if record.EntityKey != "" {
		ctx = context.WithValue(ctx, logger.ContextKeyEntryKey, record.EntityKey)
	}

	if err := c.pace(ctx); err != nil {
		return time.Time{}, err
	}

	if err := c.queue.MarkInFlight(ctx, record.ID); err != nil {
		if errors.Is(err, model.ErrOperationNotFound) {
			return time.Time{}, nil
		}

		log := c.logger.WithContext(ctx)
		log.Error().Err(err).Msg("failed to claim queue head")

		return c.clock().Add(c.backoffConfig.BaseDelay), errDrainHalted
	}

	kindAttr := attribute.String("kind", record.Kind.String())
	c.metrics.Inc(ctx, metrics.SyncAttemptsTotal, 1, kindAttr)

	started := c.clock()
	transmissionKey := idempotency.BuildTransmissionKey(record.Kind.String(), record.EntityKey, record.ID.String())
	ctx = idempotency.WithKey(ctx, transmissionKey)

	result, err := circuitbreaker.Execute(c.breaker, func() (transmission, error) {
		canonical, applyErr := c.transport.Apply(ctx, record, transmissionKey)
		if applyErr != nil {
			if conflictErr, ok := model.AsConflictError(applyErr); ok {
				return transmission{conflict: conflictErr}, nil
			}

			return transmission{}, applyErr
		}

		return transmission{canonical: canonical}, nil
	})

	c.metrics.Inc(ctx, metrics.DrainCycleSeconds, c.clock().Sub(started).Seconds(), kindAttr)

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return c.parkDrain(ctx, record), errDrainHalted

	case err != nil:
		return c.recordFailure(ctx, record, err), nil

	case result.conflict != nil:
		return c.resolveConflict(ctx, record, result.conflict), nil

	default:
		c.finishRecord(ctx, record, result.canonical)

		return time.Time{}, nil
	}
}

// parkDrain releases a claim the breaker refused to transmit. The record
// returns to the front of its class with no retry consumed; the pass
// resumes once the breaker window elapses.
func (c *Coordinator) parkDrain(ctx context.Context, record model.OperationRecord) time.Time {
	if _, err := c.queue.RecoverInFlight(ctx); err != nil {
		log := c.logger.WithContext(ctx)
		log.Error().Err(err).Msg("failed to release claimed operation")
	}

	log := c.logger.WithContext(ctx)
	log.Warn().
		Str("kind", record.Kind.String()).
		Msg("transport circuit open, drain parked")

	return c.clock().Add(c.breakerTimeout())
}

func (c *Coordinator) recordFailure(ctx context.Context, record model.OperationRecord, cause error) time.Time {
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		// Shutdown interrupted the attempt. The record stays in-flight
		// and returns to pending on the next start with no retry
		// consumed.
		return time.Time{}
	}

	c.metrics.Inc(ctx, metrics.SyncFailuresTotal, 1, attribute.String("kind", record.Kind.String()))

	c.mu.Lock()
	c.lastError = cause.Error()
	c.mu.Unlock()

	if transportErr, ok := model.AsTransportError(cause); ok && transportErr.Permanent {
		if err := c.queue.MarkFailedPermanent(ctx, record.ID, cause.Error()); err != nil {
			log := c.logger.WithContext(ctx)
			log.Error().Err(err).Msg("failed to close out rejected operation")
		}

		return time.Time{}
	}

	delay := c.retryDelay(record.RetryCount)

	status, err := c.queue.MarkFailed(ctx, record.ID, cause.Error(), c.clock().Add(delay))
	if err != nil {
		log := c.logger.WithContext(ctx)
		log.Error().Err(err).Msg("failed to record failed attempt")

		return time.Time{}
	}

	if status == model.StatusPending {
		return c.clock().Add(delay)
	}

	return time.Time{}
}

func (c *Coordinator) resolveConflict(ctx context.Context, record model.OperationRecord, conflict *model.ConflictError) time.Time {
	c.metrics.Inc(ctx, metrics.SyncConflictsTotal, 1, attribute.String("kind", record.Kind.String()))

	remote := model.CanonicalState{
		Payload: conflict.RemoteState,
		Version: conflict.RemoteVersion,
	}

	resolved, err := c.resolver.Resolve(ctx, record, remote)
	if err != nil {
		log := c.logger.WithContext(ctx)
		log.Warn().Err(err).Msg("failed to resolve conflict")

		return c.recordFailure(ctx, record, err)
	}

	if resolved.LocalDiscarded {
		if err := c.queue.AttachNotice(ctx, record.ID, resolved.Notice.String()); err != nil {
			log := c.logger.WithContext(ctx)
			log.Warn().Err(err).Msg("failed to attach discard notice")
		}
	}

	log := c.logger.WithContext(ctx)
	log.Debug().
		Str("kind", record.Kind.String()).
		Bool("local_discarded", resolved.LocalDiscarded).
		Msg("conflict resolved")

	c.finishRecord(ctx, record, model.CanonicalState{
		Payload: resolved.MergedPayload,
		Version: resolved.Version,
	})

	return time.Time{}
}

// finishRecord applies the acknowledged state and closes the record out.
// The remote has already applied the operation at this point, so a failed
// local cache write downgrades to a log line instead of failing the sync.
func (c *Coordinator) finishRecord(ctx context.Context, record model.OperationRecord, state model.CanonicalState) {
	c.writeCanonical(ctx, record, state)

	if err := c.queue.MarkCompleted(ctx, record.ID); err != nil {
		log := c.logger.WithContext(ctx)
		log.Error().Err(err).Msg("failed to complete acknowledged operation")

		return
	}

	now := c.clock()

	if err := c.cache.RecordSyncTime(ctx, now); err != nil {
		log := c.logger.WithContext(ctx)
		log.Warn().Err(err).Msg("failed to record sync time")
	}

	c.mu.Lock()
	c.lastSyncAt = now
	c.lastError = ""
	c.mu.Unlock()

	log := c.logger.WithContext(ctx)
	log.Debug().
		Str("kind", record.Kind.String()).
		Msg("operation synchronized")
}

func (c *Coordinator) writeCanonical(ctx context.Context, record model.OperationRecord, state model.CanonicalState) {
	if record.EntityKey == "" || len(state.Payload) == 0 {
		return
	}

	_, err := c.cache.Put(ctx, ports.PutParams{
		Key:     record.EntityKey,
		Payload: state.Payload,
		Tier:    record.Kind.CacheTier(),
		Version: state.Version,
	})
	if err != nil {
		log := c.logger.WithContext(ctx)
		log.Warn().Err(err).Msg("failed to cache acknowledged state")
	}
}

// pace holds the loop to the configured drain rate before each claim, so a
// fleet of devices reconnecting together does not stampede the remote.
func (c *Coordinator) pace(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}

	for {
		limited, result, err := c.pacer.RateLimitCtx(ctx, drainPacerKey, 1)
		if err != nil {
			log := c.logger.WithContext(ctx)
			log.Warn().Err(err).Msg("drain pacer unavailable")

			return nil
		}

		if !limited {
			return nil
		}

		timer := time.NewTimer(result.RetryAfter)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()

		case <-timer.C:
		}
	}
}

// retryDelay follows the configured exponential curve for a record about to
// record another failure. The schedule lives on the record through
// nextAttemptAt, so the curve is replayed from the retry count rather than
// held as in-memory state.
func (c *Coordinator) retryDelay(retryCount uint) time.Duration {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.backoffConfig.BaseDelay
	expBackoff.Multiplier = c.backoffConfig.Multiplier
	expBackoff.RandomizationFactor = c.backoffConfig.Jitter
	expBackoff.MaxInterval = c.backoffConfig.MaxDelay

	delay := expBackoff.NextBackOff()
	for i := uint(0); i < retryCount; i++ {
		delay = expBackoff.NextBackOff()
	}

	return delay
}

// emptyQueueWake keeps gated records from stalling: retry delays assigned
// by a previous process have no in-memory wake time, so a non-empty queue
// with nothing attemptable re-checks after the base delay.
func (c *Coordinator) emptyQueueWake(ctx context.Context, wakeAt time.Time) time.Time {
	if !wakeAt.IsZero() {
		return wakeAt
	}

	count, err := c.queue.PendingCount(ctx)
	if err != nil {
		log := c.logger.WithContext(ctx)
		log.Warn().Err(err).Msg("failed to read pending count")

		return wakeAt
	}

	if count == 0 {
		return wakeAt
	}

	return c.clock().Add(c.backoffConfig.BaseDelay)
}

func (c *Coordinator) beginDrain(ctx context.Context) bool {
	c.mu.Lock()

	if !c.online || c.paused {
		c.mu.Unlock()

		return false
	}

	c.draining = true
	c.mu.Unlock()

	c.notify(ctx)

	return true
}

func (c *Coordinator) endDrain(ctx context.Context) {
	c.mu.Lock()
	c.draining = false
	c.mu.Unlock()

	c.notify(ctx)
}

// attemptable reports whether the loop may take another record. A pause
// lets the current record finish and stops here, before the next claim.
func (c *Coordinator) attemptable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.online && !c.paused
}

func (c *Coordinator) notify(ctx context.Context) {
	count, err := c.queue.PendingCount(ctx)
	if err != nil {
		log := c.logger.WithContext(ctx)
		log.Warn().Err(err).Msg("failed to read pending count")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	status := model.SyncStatus{
		State:        c.stateLocked(),
		Paused:       c.paused,
		PendingCount: count,
		LastSyncAt:   c.lastSyncAt,
		LastError:    c.lastError,
	}

	for _, sub := range c.subscribers {
		select {
		case sub <- status:
		default:
		}
	}
}

func (c *Coordinator) stateLocked() model.SyncState {
	switch {
	case !c.online:
		return model.SyncStateOffline
	case c.draining:
		return model.SyncStateDraining
	default:
		return model.SyncStateIdle
	}
}

func (c *Coordinator) closeSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	for _, sub := range c.subscribers {
		close(sub)
	}

	c.subscribers = nil
}

func (c *Coordinator) statusBuffer() int {
	if c.syncConfig.StatusBuffer == 0 {
		return 1
	}

	return int(c.syncConfig.StatusBuffer)
}

func (c *Coordinator) breakerTimeout() time.Duration {
	if c.breakerConfig.Timeout > 0 {
		return c.breakerConfig.Timeout
	}

	// gobreaker applies this default when the configured timeout is zero.
	return 60 * time.Second
}

func earliestWake(current, candidate time.Time) time.Time {
	if candidate.IsZero() {
		return current
	}

	if current.IsZero() || candidate.Before(current) {
		return candidate
	}

	return current
}
