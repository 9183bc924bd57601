package model_test

import (
	"testing"
	"time"

	"github.com/agromesh/fieldsync/model"
	"github.com/stretchr/testify/require"
)

func entryForEviction(key string, tier model.Tier, size int64, createdAt, lastAccessedAt time.Time, accessCount int64) model.CacheEntry {
	return model.CacheEntry{
		Key:            key,
		Tier:           tier,
		Size:           size,
		CreatedAt:      createdAt,
		LastAccessedAt: lastAccessedAt,
		AccessCount:    accessCount,
	}
}

func TestCacheEntry_Score_RecencyBias(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	weights := model.DefaultEvictionWeights()

	stale := entryForEviction("stale", model.TierLow, 10, now.Add(-2*time.Hour), now.Add(-2*time.Hour), 1)
	fresh := entryForEviction("fresh", model.TierLow, 10, now.Add(-2*time.Hour), now.Add(-time.Minute), 1)
	popular := entryForEviction("popular", model.TierLow, 10, now.Add(-2*time.Hour), now.Add(-2*time.Hour), 50)

	require.Less(t, stale.Score(now, weights), fresh.Score(now, weights))
	require.Less(t, stale.Score(now, weights), popular.Score(now, weights))
}

func TestPlanEviction(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	weights := model.DefaultEvictionWeights()

	cases := []struct {
		name            string
		candidates      []model.CacheEntry
		required        int64
		force           bool
		expectedVictims []string
		expectedOK      bool
	}{
		{
			name:       "nothing required frees nothing",
			candidates: []model.CacheEntry{entryForEviction("a", model.TierLow, 10, now, now, 0)},
			required:   0,
			expectedOK: true,
		},
		{
			name: "lower tier goes before higher tier",
			candidates: []model.CacheEntry{
				entryForEviction("high", model.TierHigh, 10, now.Add(-time.Hour), now.Add(-time.Hour), 0),
				entryForEviction("low", model.TierLow, 10, now.Add(-time.Minute), now.Add(-time.Minute), 90),
			},
			required:        10,
			expectedVictims: []string{"low"},
			expectedOK:      true,
		},
		{
			name: "stale entry goes before fresh within a tier",
			candidates: []model.CacheEntry{
				entryForEviction("fresh", model.TierLow, 10, now.Add(-2*time.Hour), now.Add(-time.Minute), 5),
				entryForEviction("stale", model.TierLow, 10, now.Add(-2*time.Hour), now.Add(-2*time.Hour), 0),
			},
			required:        10,
			expectedVictims: []string{"stale"},
			expectedOK:      true,
		},
		{
			name: "equal scores break toward oldest created",
			candidates: []model.CacheEntry{
				entryForEviction("younger", model.TierLow, 10, now.Add(-time.Hour), now.Add(-time.Hour), 3),
				entryForEviction("older", model.TierLow, 10, now.Add(-3*time.Hour), now.Add(-time.Hour), 3),
			},
			required:        10,
			expectedVictims: []string{"older"},
			expectedOK:      true,
		},
		{
			name: "critical entries are skipped without force",
			candidates: []model.CacheEntry{
				entryForEviction("pinned", model.TierCritical, 50, now.Add(-3*time.Hour), now.Add(-3*time.Hour), 0),
				entryForEviction("low", model.TierLow, 10, now, now, 10),
			},
			required:        20,
			expectedVictims: []string{"low"},
			expectedOK:      false,
		},
		{
			name: "force admits critical entries last",
			candidates: []model.CacheEntry{
				entryForEviction("pinned", model.TierCritical, 50, now.Add(-3*time.Hour), now.Add(-3*time.Hour), 0),
				entryForEviction("low", model.TierLow, 10, now, now, 10),
			},
			required:        20,
			force:           true,
			expectedVictims: []string{"low", "pinned"},
			expectedOK:      true,
		},
		{
			name: "accumulates across tiers until satisfied",
			candidates: []model.CacheEntry{
				entryForEviction("low-1", model.TierLow, 4, now.Add(-time.Hour), now.Add(-time.Hour), 0),
				entryForEviction("medium-1", model.TierMedium, 4, now.Add(-time.Hour), now.Add(-time.Hour), 0),
				entryForEviction("high-1", model.TierHigh, 4, now.Add(-time.Hour), now.Add(-time.Hour), 0),
			},
			required:        8,
			expectedVictims: []string{"low-1", "medium-1"},
			expectedOK:      true,
		},
		{
			name: "insufficient candidates report failure",
			candidates: []model.CacheEntry{
				entryForEviction("low", model.TierLow, 4, now, now, 0),
			},
			required:        100,
			expectedVictims: []string{"low"},
			expectedOK:      false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			plan, ok := model.PlanEviction(tc.candidates, tc.required, now, weights, tc.force)

			require.Equal(t, tc.expectedOK, ok)
			require.Equal(t, tc.expectedVictims, plan.Victims)
		})
	}
}
