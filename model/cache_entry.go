package model

import "time"

type CacheEntry struct {
	Key            string
	Tier           Tier
	Payload        []byte
	Size           int64
	Version        string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	ExpiresAt      time.Time
}

// NewCacheEntry builds an entry for a fresh write. A zero ttl falls back to
// the tier default; a negative ttl pins the entry regardless of tier.
func NewCacheEntry(key string, payload []byte, tier Tier, ttl time.Duration, now time.Time) CacheEntry {
	entry := CacheEntry{
		Key:            key,
		Tier:           tier,
		Payload:        payload,
		Size:           int64(len(payload)),
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if ttl == 0 {
		ttl = tier.DefaultTTL()
	}

	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	return entry
}

func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Touch records a read for eviction scoring.
func (e *CacheEntry) Touch(now time.Time) {
	e.LastAccessedAt = now
	e.AccessCount++
}

// Pinned entries are only removed by TTL expiry or explicit invalidation,
// never by capacity pressure, unless the caller forces eviction.
func (e CacheEntry) Pinned() bool {
	return e.Tier == TierCritical
}
