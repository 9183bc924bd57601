package repos

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/internal/infrastructure"
	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
)

const (
	cacheTable = "cache_entries"

	metaKeyLastSyncAt = "last_sync_at"
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

type (
	// cacheMetaRow is the payload-free projection kept in memory. Payloads
	// stay on disk until a read asks for them.
	cacheMetaRow struct {
		Key            string `db:"key"`
		Tier           string `db:"tier"`
		SizeBytes      int64  `db:"size_bytes"`
		Version        string `db:"version"`
		CreatedAt      int64  `db:"created_at"`
		LastAccessedAt int64  `db:"last_accessed_at"`
		AccessCount    int64  `db:"access_count"`
		ExpiresAt      int64  `db:"expires_at"`
	}

	cachePayloadRow struct {
		Payload  []byte `db:"payload"`
		Encoding string `db:"encoding"`
		Checksum int64  `db:"checksum"`
	}

	// CacheRepository implements the CacheStore interface on sqlite with an
	// in-memory metadata index. The index is authoritative for capacity
	// accounting and eviction decisions; every write goes through to disk
	// before the index reflects it.
	CacheRepository struct {
		store   *infrastructure.SQLiteStore
		codec   *infrastructure.Codec
		scanner Scanner
		logger  logger.Logger
		metrics metrics.Client
		config  config.Cache

		clock func() time.Time

		mu         sync.Mutex
		entries    map[string]model.CacheEntry
		totalBytes int64
	}
)

var cacheMetaColumns = []string{
	"key", "tier", "size_bytes", "version",
	"created_at", "last_accessed_at", "access_count", "expires_at",
}

// NewCacheRepository creates a cache repository and primes its index from
// the rows already on disk.
func NewCacheRepository(
	ctx context.Context,
	store *infrastructure.SQLiteStore,
	codec *infrastructure.Codec,
	scanner Scanner,
	config config.Cache,
	metricsClient metrics.Client,
	log logger.Logger,
) (*CacheRepository, error) {
	repo := &CacheRepository{
		store:   store,
		codec:   codec,
		scanner: scanner,
		logger:  log,
		metrics: metricsClient,
		config:  config,
		clock:   time.Now,
		entries: make(map[string]model.CacheEntry),
	}

	if err := repo.loadIndex(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}

// WithClock overrides the time source, which tests rely on.
func (r *CacheRepository) WithClock(clock func() time.Time) *CacheRepository {
	r.clock = clock

	return r
}

// Put upserts an entry, evicting lower-value entries when the write would
// exceed capacity.
func (r *CacheRepository) Put(ctx context.Context, params ports.PutParams) (model.CacheEntry, error) {
	if strings.TrimSpace(params.Key) == "" {
		return model.CacheEntry{}, model.ErrEmptyKey
	}

	if !params.Tier.IsValid() {
		return model.CacheEntry{}, fmt.Errorf("invalid tier: %s", params.Tier)
	}

	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reclaim expired entries before judging capacity, so stale payloads
	// never force an eviction.
	if expired, err := r.sweepExpiredLocked(ctx, now); err != nil {
		return model.CacheEntry{}, err
	} else if expired > 0 {
		r.metrics.Inc(ctx, metrics.CacheExpirationsTotal, int64(expired))
	}

	entry := model.NewCacheEntry(params.Key, params.Payload, params.Tier, params.TTL, now)
	entry.Version = params.Version

	if entry.Size > r.config.CapacityBytes {
		return model.CacheEntry{}, fmt.Errorf("%w: payload of %d bytes exceeds capacity of %d",
			model.ErrStorageFull, entry.Size, r.config.CapacityBytes)
	}

	var existingSize int64
	if existing, ok := r.entries[params.Key]; ok {
		existingSize = existing.Size
	}

	projected := r.totalBytes - existingSize + entry.Size
	if required := projected - r.config.CapacityBytes; required > 0 {
		plan, ok := model.PlanEviction(r.candidatesLocked(params.Key), required, now, r.weights(), params.ForceEviction)
		if !ok {
			// The plan is discarded untouched: a write that cannot fit
			// must not cost other entries their place.
			return model.CacheEntry{}, fmt.Errorf("%w: eviction cannot free %d bytes",
				model.ErrStorageFull, required)
		}

		if err := r.evictLocked(ctx, plan); err != nil {
			return model.CacheEntry{}, err
		}
	}

	if err := r.upsertLocked(ctx, entry); err != nil {
		return model.CacheEntry{}, err
	}

	meta := entry
	meta.Payload = nil
	r.entries[entry.Key] = meta
	r.totalBytes += entry.Size - existingSize

	r.metrics.Inc(ctx, metrics.CacheBytesUsed, r.totalBytes)

	return entry, nil
}

// Get returns the entry for key and records the access.
func (r *CacheRepository) Get(ctx context.Context, key string) (model.CacheEntry, error) {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.entries[key]
	if !ok {
		r.metrics.Inc(ctx, metrics.CacheMissesTotal, int64(1))

		return model.CacheEntry{}, model.ErrCacheMiss
	}

	if meta.Expired(now) {
		if err := r.removeLocked(ctx, key); err != nil {
			return model.CacheEntry{}, err
		}

		r.metrics.Inc(ctx, metrics.CacheExpirationsTotal, int64(1))
		r.metrics.Inc(ctx, metrics.CacheMissesTotal, int64(1))

		return model.CacheEntry{}, model.ErrCacheMiss
	}

	payload, err := r.readPayloadLocked(ctx, key)
	if err != nil {
		if errors.Is(err, model.ErrCorruptRecord) {
			r.logger.Warn().
				Str("key", key).
				Err(err).
				Msg("discarding unreadable cache entry")

			if removeErr := r.removeLocked(ctx, key); removeErr != nil {
				return model.CacheEntry{}, removeErr
			}

			r.metrics.Inc(ctx, metrics.CacheMissesTotal, int64(1))

			return model.CacheEntry{}, model.ErrCacheMiss
		}

		return model.CacheEntry{}, err
	}

	meta.Touch(now)
	r.entries[key] = meta

	if err := r.writeAccessLocked(ctx, meta); err != nil {
		return model.CacheEntry{}, err
	}

	r.metrics.Inc(ctx, metrics.CacheHitsTotal, int64(1))

	entry := meta
	entry.Payload = payload

	return entry, nil
}

// Invalidate removes an entry immediately, regardless of tier. Removing an
// absent key is a no-op.
func (r *CacheRepository) Invalidate(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return nil
	}

	return r.removeLocked(ctx, key)
}

// SweepExpired removes every entry whose TTL has elapsed.
func (r *CacheRepository) SweepExpired(ctx context.Context) (int, error) {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	expired, err := r.sweepExpiredLocked(ctx, now)
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		r.metrics.Inc(ctx, metrics.CacheExpirationsTotal, int64(expired))
		r.metrics.Inc(ctx, metrics.CacheBytesUsed, r.totalBytes)
	}

	return expired, nil
}

// Status reports byte usage, per-tier entry counts, and the last successful
// sync time.
func (r *CacheRepository) Status(ctx context.Context) (model.CacheStatus, error) {
	lastSyncAt, err := r.lastSyncTime(ctx)
	if err != nil {
		return model.CacheStatus{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[model.Tier]int, len(model.AllTiers()))
	for _, tier := range model.AllTiers() {
		counts[tier] = 0
	}

	for _, entry := range r.entries {
		counts[entry.Tier]++
	}

	return model.CacheStatus{
		TotalBytes:     r.totalBytes,
		AvailableBytes: r.config.CapacityBytes - r.totalBytes,
		PerTierCounts:  counts,
		LastSyncAt:     lastSyncAt,
	}, nil
}

// Retag moves an existing entry to another tier without rewriting its
// payload or resetting its expiry.
func (r *CacheRepository) Retag(ctx context.Context, key string, tier model.Tier) error {
	if !tier.IsValid() {
		return fmt.Errorf("invalid tier: %s", tier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.entries[key]
	if !ok {
		return model.ErrCacheMiss
	}

	query, args, err := qb.Update(cacheTable).
		Set("tier", tier.String()).
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building retag query: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("retagging entry: %w", err)
	}

	meta.Tier = tier
	r.entries[key] = meta

	return nil
}

// RecordSyncTime stamps the last successful sync, surfaced by Status.
func (r *CacheRepository) RecordSyncTime(ctx context.Context, at time.Time) error {
	return r.store.SetMeta(ctx, metaKeyLastSyncAt, strconv.FormatInt(at.UnixMilli(), 10), at)
}

func (r *CacheRepository) loadIndex(ctx context.Context) error {
	query, args, err := qb.Select(cacheMetaColumns...).From(cacheTable).ToSql()
	if err != nil {
		return fmt.Errorf("building index query: %w", err)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("loading cache index: %w", err)
	}
	defer rows.Close()

	var metaRows []cacheMetaRow
	if err := r.scanner.ScanAll(&metaRows, rows); err != nil {
		return fmt.Errorf("scanning cache index: %w", err)
	}

	var unreadable []string

	for _, row := range metaRows {
		tier, err := model.ParseTier(row.Tier)
		if err != nil {
			r.logger.Warn().
				Str("key", row.Key).
				Err(err).
				Msg("dropping unreadable cache row")

			unreadable = append(unreadable, row.Key)

			continue
		}

		entry := model.CacheEntry{
			Key:            row.Key,
			Tier:           tier,
			Size:           row.SizeBytes,
			Version:        row.Version,
			CreatedAt:      fromMillis(row.CreatedAt),
			LastAccessedAt: fromMillis(row.LastAccessedAt),
			AccessCount:    row.AccessCount,
			ExpiresAt:      fromMillis(row.ExpiresAt),
		}

		r.entries[entry.Key] = entry
		r.totalBytes += entry.Size
	}

	if len(unreadable) > 0 {
		if err := r.deleteKeys(ctx, unreadable); err != nil {
			return err
		}
	}

	return nil
}

func (r *CacheRepository) weights() model.EvictionWeights {
	return model.EvictionWeights{
		Recency:   r.config.RecencyWeight,
		Frequency: r.config.FrequencyWeight,
	}
}

func (r *CacheRepository) candidatesLocked(excludeKey string) []model.CacheEntry {
	candidates := make([]model.CacheEntry, 0, len(r.entries))

	for key, entry := range r.entries {
		if key == excludeKey {
			continue
		}

		candidates = append(candidates, entry)
	}

	return candidates
}

func (r *CacheRepository) evictLocked(ctx context.Context, plan model.EvictionPlan) error {
	if err := r.deleteKeys(ctx, plan.Victims); err != nil {
		return err
	}

	for _, key := range plan.Victims {
		victim := r.entries[key]
		delete(r.entries, key)
		r.totalBytes -= victim.Size

		r.logger.Debug().
			Str("key", key).
			Str("tier", victim.Tier.String()).
			Int64("size_bytes", victim.Size).
			Msg("evicted cache entry")
	}

	r.metrics.Inc(ctx, metrics.CacheEvictionsTotal, int64(len(plan.Victims)))

	return nil
}

func (r *CacheRepository) sweepExpiredLocked(ctx context.Context, now time.Time) (int, error) {
	var expired []string

	for key, entry := range r.entries {
		if entry.Expired(now) {
			expired = append(expired, key)
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}

	if err := r.deleteKeys(ctx, expired); err != nil {
		return 0, err
	}

	for _, key := range expired {
		r.totalBytes -= r.entries[key].Size
		delete(r.entries, key)
	}

	r.logger.Debug().
		Int("count", len(expired)).
		Msg("swept expired cache entries")

	return len(expired), nil
}

func (r *CacheRepository) upsertLocked(ctx context.Context, entry model.CacheEntry) error {
	data, encoding, sum := r.codec.Encode(entry.Payload)

	query, args, err := qb.Insert(cacheTable).
		Columns("key", "tier", "payload", "encoding", "checksum", "size_bytes", "version",
			"created_at", "last_accessed_at", "access_count", "expires_at").
		Values(entry.Key, entry.Tier.String(), data, encoding, int64(sum), entry.Size, entry.Version,
			toMillis(entry.CreatedAt), toMillis(entry.LastAccessedAt), entry.AccessCount, toMillis(entry.ExpiresAt)).
		Suffix(`ON CONFLICT (key) DO UPDATE SET
			tier = excluded.tier,
			payload = excluded.payload,
			encoding = excluded.encoding,
			checksum = excluded.checksum,
			size_bytes = excluded.size_bytes,
			version = excluded.version,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count,
			expires_at = excluded.expires_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert query: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storing entry: %w", err)
	}

	return nil
}

func (r *CacheRepository) readPayloadLocked(ctx context.Context, key string) ([]byte, error) {
	query, args, err := qb.Select("payload", "encoding", "checksum").
		From(cacheTable).
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building payload query: %w", err)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	defer rows.Close()

	var row cachePayloadRow
	if err := r.scanner.ScanOne(&row, rows); err != nil {
		if r.scanner.IsNotFound(err) {
			return nil, fmt.Errorf("%w: indexed entry has no row", model.ErrCorruptRecord)
		}

		return nil, fmt.Errorf("scanning payload: %w", err)
	}

	return r.codec.Decode(row.Payload, row.Encoding, uint64(row.Checksum))
}

func (r *CacheRepository) writeAccessLocked(ctx context.Context, entry model.CacheEntry) error {
	query, args, err := qb.Update(cacheTable).
		Set("last_accessed_at", toMillis(entry.LastAccessedAt)).
		Set("access_count", entry.AccessCount).
		Where(sq.Eq{"key": entry.Key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building access update: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("recording access: %w", err)
	}

	return nil
}

func (r *CacheRepository) removeLocked(ctx context.Context, key string) error {
	if err := r.deleteKeys(ctx, []string{key}); err != nil {
		return err
	}

	r.totalBytes -= r.entries[key].Size
	delete(r.entries, key)

	return nil
}

func (r *CacheRepository) deleteKeys(ctx context.Context, keys []string) error {
	query, args, err := qb.Delete(cacheTable).Where(sq.Eq{"key": keys}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	if _, err := r.store.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting entries: %w", err)
	}

	return nil
}

func (r *CacheRepository) lastSyncTime(ctx context.Context) (time.Time, error) {
	value, err := r.store.GetMeta(ctx, metaKeyLastSyncAt)
	if err != nil {
		return time.Time{}, err
	}

	if value == "" {
		return time.Time{}, nil
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last sync time: %w", err)
	}

	return fromMillis(ms), nil
}
