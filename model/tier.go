package model

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// Default retention per tier. Critical entries carry no expiry.
const (
	RetentionHigh   = 7 * 24 * time.Hour
	RetentionMedium = 3 * 24 * time.Hour
	RetentionLow    = 24 * time.Hour
)

func (t Tier) String() string {
	return string(t)
}

func (t Tier) IsValid() bool {
	switch t {
	case TierCritical, TierHigh, TierMedium, TierLow:
		return true
	default:
		return false
	}
}

// DefaultTTL returns the retention applied when the writer supplies none.
// Zero means the entry never expires.
func (t Tier) DefaultTTL() time.Duration {
	switch t {
	case TierHigh:
		return RetentionHigh
	case TierMedium:
		return RetentionMedium
	case TierLow:
		return RetentionLow
	default:
		return 0
	}
}

// EvictionRank orders tiers for pressure-driven eviction, lowest first.
func (t Tier) EvictionRank() int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	default:
		return 3
	}
}

func ParseTier(s string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !tier.IsValid() {
		return "", fmt.Errorf("invalid tier: %s", s)
	}

	return tier, nil
}

func AllTiers() []Tier {
	return []Tier{TierCritical, TierHigh, TierMedium, TierLow}
}
