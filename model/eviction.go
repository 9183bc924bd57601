package model

import (
	"sort"
	"time"
)

type (
	// EvictionWeights tune the recency/frequency balance of the eviction
	// score. Higher weights favor keeping the corresponding signal.
	EvictionWeights struct {
		Recency   float64
		Frequency float64
	}

	EvictionPlan struct {
		Victims    []string
		FreedBytes int64
	}
)

func DefaultEvictionWeights() EvictionWeights {
	return EvictionWeights{
		Recency:   1.0,
		Frequency: 1.0,
	}
}

// Score ranks an entry for eviction; lower scores are evicted first.
func (e CacheEntry) Score(now time.Time, weights EvictionWeights) float64 {
	age := now.Sub(e.LastAccessedAt).Seconds()
	if age < 1 {
		age = 1
	}

	return weights.Recency/age + weights.Frequency*float64(e.AccessCount)
}

// PlanEviction selects victims so that at least required bytes are freed.
// Tiers are visited lowest first; within a tier the lowest score goes first,
// ties broken by oldest CreatedAt. Critical entries are candidates only when
// force is set. The second return reports whether the plan frees enough.
func PlanEviction(candidates []CacheEntry, required int64, now time.Time, weights EvictionWeights, force bool) (EvictionPlan, bool) {
	plan := EvictionPlan{}

	if required <= 0 {
		return plan, true
	}

	eligible := make([]CacheEntry, 0, len(candidates))

	for _, candidate := range candidates {
		if candidate.Pinned() && !force {
			continue
		}

		eligible = append(eligible, candidate)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Tier != eligible[j].Tier {
			return eligible[i].Tier.EvictionRank() < eligible[j].Tier.EvictionRank()
		}

		scoreI := eligible[i].Score(now, weights)
		scoreJ := eligible[j].Score(now, weights)

		if scoreI != scoreJ {
			return scoreI < scoreJ
		}

		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	for _, victim := range eligible {
		if plan.FreedBytes >= required {
			break
		}

		plan.Victims = append(plan.Victims, victim.Key)
		plan.FreedBytes += victim.Size
	}

	return plan, plan.FreedBytes >= required
}
