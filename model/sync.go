package model

import "time"

type SyncState string

const (
	SyncStateIdle     SyncState = "idle"
	SyncStateDraining SyncState = "draining"
	SyncStateOffline  SyncState = "offline"
)

func (s SyncState) String() string {
	return string(s)
}

type (
	CacheStatus struct {
		TotalBytes     int64
		AvailableBytes int64
		PerTierCounts  map[Tier]int
		LastSyncAt     time.Time
	}

	// SyncStatus is the observable coordinator snapshot. LastError holds
	// the most recent transport failure and clears on the next successful
	// transmission.
	SyncStatus struct {
		State        SyncState
		Paused       bool
		PendingCount int
		LastSyncAt   time.Time
		LastError    string
	}

	// CanonicalState is what the remote returns after applying an
	// operation: the authoritative payload and version for the entity.
	CanonicalState struct {
		Payload []byte
		Version string
	}
)
