// Package fieldsync is an offline-first cache and sync engine for
// intermittently connected devices. Reads are served from a tiered local
// cache; writes land locally and queue durably until connectivity returns,
// then drain to the remote in priority order with conflict resolution.
package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/internal/adapters/repos"
	"github.com/agromesh/fieldsync/internal/coordinator"
	"github.com/agromesh/fieldsync/internal/infrastructure"
	"github.com/agromesh/fieldsync/internal/resolver"
	"github.com/agromesh/fieldsync/internal/usecases"
	"github.com/agromesh/fieldsync/internal/usecases/commands"
	"github.com/agromesh/fieldsync/internal/usecases/queries"
	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics/noop"
	"github.com/agromesh/fieldsync/ports"
	otelNoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

type (
	// Engine bundles the cache, the operation queue and the sync
	// coordinator behind one handle. Construct it with New, launch the
	// background loops with Start, and release the store with Stop.
	Engine struct {
		config config.EngineConfig
		logger logger.Logger

		store *infrastructure.SQLiteStore
		cache *repos.CacheRepository
		queue *repos.QueueRepository
		coord *coordinator.Coordinator
		app   *usecases.Application

		mu      sync.Mutex
		started bool
		closed  bool
		stop    context.CancelFunc
		group   *errgroup.Group
	}

	// PutRequest writes one entry into the local cache.
	PutRequest struct {
		Key           string
		Payload       []byte
		Tier          model.Tier
		TTL           time.Duration
		Version       string
		ForceEviction bool
	}

	// EnqueueRequest appends one mutation to the durable queue.
	EnqueueRequest struct {
		Kind        model.OperationKind
		EntityKey   string
		Payload     []byte
		BaseVersion string
		DedupeKey   string
	}

	// RecordRequest captures a local mutation in one step: the
	// optimistic payload lands in the cache and the operation joins the
	// queue for replay.
	RecordRequest struct {
		Kind        model.OperationKind
		Key         string
		Payload     []byte
		BaseVersion string
		DedupeKey   string
		TTL         time.Duration
	}

	RecordResult struct {
		Entry     model.CacheEntry
		Operation model.OperationRecord
	}

	// FetchRequest reads an entry through the cache; a miss runs the
	// fill and stores what it produced.
	FetchRequest struct {
		Key  string
		Tier model.Tier
		TTL  time.Duration
	}
)

func New(cfg config.EngineConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	s := settings{
		metricsClient:  noop.NewMetricsClient(),
		tracerProvider: otelNoop.NewTracerProvider(),
		clock:          time.Now,
	}

	for _, opt := range opts {
		opt(&s)
	}

	if s.transport == nil {
		return nil, errors.New("a transport is required: use WithTransport")
	}

	if s.monitor == nil {
		return nil, errors.New("a connectivity monitor is required: use WithConnectivityMonitor")
	}

	if !s.loggerSet {
		s.logger = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	if s.resolver == nil {
		s.resolver = resolver.NewResolver(s.logger)
	}

	store, err := infrastructure.NewSQLiteStore(cfg.Storage, s.logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	codec := infrastructure.NewCodec(cfg.Compression)
	scanner := repos.NewSQLScanner()
	ctx := context.Background()

	cache, err := repos.NewCacheRepository(ctx, store, codec, scanner, cfg.Cache, s.metricsClient, s.logger)
	if err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("building cache repository: %w", err)
	}

	queue, err := repos.NewQueueRepository(ctx, store, codec, scanner, cfg.Queue, s.metricsClient, s.logger)
	if err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("building queue repository: %w", err)
	}

	cache.WithClock(s.clock)
	queue.WithClock(s.clock)

	coord, err := coordinator.New(coordinator.Deps{
		Queue:     queue,
		Cache:     cache,
		Transport: s.transport,
		Resolver:  s.resolver,
		Monitor:   s.monitor,
		Metrics:   s.metricsClient,
		Logger:    s.logger,
	}, cfg)
	if err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("building sync coordinator: %w", err)
	}

	coord.WithClock(s.clock)

	app := usecases.NewApplication(
		cache, queue, coord, coord, cfg.Sync,
		s.logger, s.metricsClient, s.tracerProvider,
	)

	return &Engine{
		config: cfg,
		logger: s.logger,
		store:  store,
		cache:  cache,
		queue:  queue,
		coord:  coord,
		app:    app,
	}, nil
}

// Start launches the sync coordinator and the maintenance sweepers. It
// returns once the loops are running; cancel ctx or call Stop to end them.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return model.ErrEngineClosed
	}

	if e.started {
		return errors.New("engine already started")
	}

	runCtx, stop := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		return e.coord.Run(groupCtx)
	})

	group.Go(func() error {
		return e.maintenanceLoop(groupCtx)
	})

	e.stop = stop
	e.group = group
	e.started = true

	return nil
}

// Stop ends the background loops, waits for them to settle, and closes the
// store. Cache entries and queued operations stay on disk for the next
// start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true
	stop, group := e.stop, e.group
	e.mu.Unlock()

	if stop != nil {
		stop()

		done := make(chan error, 1)

		go func() {
			done <- group.Wait()
		}()

		select {
		case err := <-done:
			if err != nil {
				e.logger.Warn().Err(err).Msg("background loop exited with error")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return e.store.Close()
}

// Cache exposes the tiered store directly, bypassing the decorated
// command and query paths.
func (e *Engine) Cache() ports.CacheStore {
	return e.cache
}

// Queue exposes the durable operation queue directly.
func (e *Engine) Queue() ports.OperationQueue {
	return e.queue
}

// Sync exposes the coordinator's pause, resume, status and subscribe
// surface.
func (e *Engine) Sync() ports.SyncController {
	return e.coord
}

func (e *Engine) Put(ctx context.Context, req PutRequest) (model.CacheEntry, error) {
	if err := e.guard(); err != nil {
		return model.CacheEntry{}, err
	}

	return e.app.Commands.PutEntry.Handle(ctx, commands.PutEntryCommand{
		Key:           req.Key,
		Payload:       req.Payload,
		Tier:          req.Tier,
		TTL:           req.TTL,
		Version:       req.Version,
		ForceEviction: req.ForceEviction,
	})
}

func (e *Engine) Get(ctx context.Context, key string) (model.CacheEntry, error) {
	if err := e.guard(); err != nil {
		return model.CacheEntry{}, err
	}

	return e.app.Queries.GetEntry.Execute(ctx, queries.GetEntryQuery{Key: key})
}

func (e *Engine) Invalidate(ctx context.Context, key string) error {
	if err := e.guard(); err != nil {
		return err
	}

	_, err := e.app.Commands.InvalidateEntry.Handle(ctx, commands.InvalidateEntryCommand{Key: key})

	return err
}

func (e *Engine) Retag(ctx context.Context, key string, tier model.Tier) error {
	if err := e.guard(); err != nil {
		return err
	}

	_, err := e.app.Commands.RetagEntry.Handle(ctx, commands.RetagEntryCommand{Key: key, Tier: tier})

	return err
}

func (e *Engine) CacheStatus(ctx context.Context) (model.CacheStatus, error) {
	if err := e.guard(); err != nil {
		return model.CacheStatus{}, err
	}

	return e.app.Queries.CacheStatus.Execute(ctx, queries.CacheStatusQuery{})
}

func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (model.OperationRecord, error) {
	if err := e.guard(); err != nil {
		return model.OperationRecord{}, err
	}

	return e.app.Commands.EnqueueOperation.Handle(ctx, commands.EnqueueOperationCommand{
		Kind:        req.Kind,
		EntityKey:   req.EntityKey,
		Payload:     req.Payload,
		BaseVersion: req.BaseVersion,
		DedupeKey:   req.DedupeKey,
	})
}

func (e *Engine) History(ctx context.Context, limit int) ([]model.OperationRecord, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}

	return e.app.Queries.History.Execute(ctx, queries.HistoryQuery{Limit: limit})
}

func (e *Engine) Pause(ctx context.Context) (model.SyncStatus, error) {
	if err := e.guard(); err != nil {
		return model.SyncStatus{}, err
	}

	return e.app.Commands.PauseSync.Handle(ctx, commands.PauseSyncCommand{})
}

func (e *Engine) Resume(ctx context.Context) (model.SyncStatus, error) {
	if err := e.guard(); err != nil {
		return model.SyncStatus{}, err
	}

	return e.app.Commands.ResumeSync.Handle(ctx, commands.ResumeSyncCommand{})
}

func (e *Engine) SyncStatus(ctx context.Context) (model.SyncStatus, error) {
	if err := e.guard(); err != nil {
		return model.SyncStatus{}, err
	}

	return e.app.Queries.SyncStatus.Execute(ctx, queries.SyncStatusQuery{})
}

// Subscribe returns a channel receiving a status snapshot on every sync
// state transition.
func (e *Engine) Subscribe() <-chan model.SyncStatus {
	return e.coord.Subscribe()
}

// Record captures a local mutation: the payload is written to the cache at
// the kind's tier and the operation is queued for replay. The cached copy
// answers reads immediately; the canonical payload replaces it once the
// remote acknowledges.
func (e *Engine) Record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	if err := e.guard(); err != nil {
		return RecordResult{}, err
	}

	entry, err := e.app.Commands.PutEntry.Handle(ctx, commands.PutEntryCommand{
		Key:     req.Key,
		Payload: req.Payload,
		Tier:    req.Kind.CacheTier(),
		TTL:     req.TTL,
		Version: req.BaseVersion,
	})
	if err != nil {
		return RecordResult{}, fmt.Errorf("caching local change: %w", err)
	}

	operation, err := e.app.Commands.EnqueueOperation.Handle(ctx, commands.EnqueueOperationCommand{
		Kind:        req.Kind,
		EntityKey:   req.Key,
		Payload:     req.Payload,
		BaseVersion: req.BaseVersion,
		DedupeKey:   req.DedupeKey,
	})
	if err != nil {
		return RecordResult{}, fmt.Errorf("queueing operation: %w", err)
	}

	return RecordResult{Entry: entry, Operation: operation}, nil
}

// Fetch reads key through the cache. A hit is served locally; a miss runs
// fill and caches its result, and concurrent misses on the same key share
// one fill.
func (e *Engine) Fetch(ctx context.Context, req FetchRequest, fill ports.FillFunc) (model.CacheEntry, error) {
	if err := e.guard(); err != nil {
		return model.CacheEntry{}, err
	}

	return e.app.Queries.FetchEntry.Execute(ctx, queries.FetchEntryQuery{
		Key:  req.Key,
		Tier: req.Tier,
		TTL:  req.TTL,
		Fill: fill,
	})
}

// maintenanceLoop expires cache entries and prunes queue history on their
// configured intervals.
func (e *Engine) maintenanceLoop(ctx context.Context) error {
	var sweepC, pruneC <-chan time.Time

	if d := e.config.Cache.SweepInterval; d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		sweepC = ticker.C
	}

	if d := e.config.Sync.PruneInterval; d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		pruneC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweepC:
			removed, err := e.cache.SweepExpired(ctx)
			if err != nil {
				e.logger.Warn().Err(err).Msg("cache sweep failed")

				continue
			}

			if removed > 0 {
				e.logger.Debug().Int("removed", removed).Msg("swept expired cache entries")
			}
		case <-pruneC:
			pruned, err := e.queue.PruneHistory(ctx)
			if err != nil {
				e.logger.Warn().Err(err).Msg("history prune failed")

				continue
			}

			if pruned > 0 {
				e.logger.Debug().Int("pruned", pruned).Msg("pruned operation history")
			}
		}
	}
}

func (e *Engine) guard() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return model.ErrEngineClosed
	}

	return nil
}
