package ports

import (
	"context"
	"time"

	"github.com/agromesh/fieldsync/model"
)

type (
	// PutParams carries one cache write. A zero TTL applies the tier
	// default; a negative TTL pins the entry. ForceEviction permits
	// evicting critical entries when capacity cannot otherwise be
	// satisfied.
	PutParams struct {
		Key           string
		Payload       []byte
		Tier          model.Tier
		TTL           time.Duration
		Version       string
		ForceEviction bool
	}

	// FillFunc produces the payload and version for an entry missing
	// from the cache. Concurrent fetches of the same key share one
	// invocation.
	FillFunc func(ctx context.Context) (payload []byte, version string, err error)

	CacheWriter interface {
		// Put upserts an entry, evicting lower-value entries when the
		// write would exceed capacity. Returns model.ErrStorageFull
		// when eviction cannot free enough space.
		Put(ctx context.Context, params PutParams) (model.CacheEntry, error)
	}

	CacheReader interface {
		// Get returns the entry for key and records the access.
		// Returns model.ErrCacheMiss when the key is absent or expired.
		Get(ctx context.Context, key string) (model.CacheEntry, error)
	}

	CacheInvalidator interface {
		// Invalidate removes an entry immediately, regardless of tier.
		Invalidate(ctx context.Context, key string) error
	}

	CacheSweeper interface {
		// SweepExpired removes every entry whose TTL has elapsed and
		// returns how many were removed.
		SweepExpired(ctx context.Context) (int, error)
	}

	CacheInspector interface {
		// Status reports byte usage, per-tier entry counts, and the
		// last successful sync time.
		Status(ctx context.Context) (model.CacheStatus, error)
	}

	// CacheStore is the tiered local store everything else builds on.
	// Operations are local only and never touch the network.
	CacheStore interface {
		CacheWriter
		CacheReader
		CacheInvalidator
		CacheSweeper
		CacheInspector

		// Retag moves an existing entry to another tier without
		// rewriting its payload or resetting its expiry.
		Retag(ctx context.Context, key string, tier model.Tier) error

		// RecordSyncTime stamps the last successful sync, surfaced by
		// Status.
		RecordSyncTime(ctx context.Context, at time.Time) error
	}
)
