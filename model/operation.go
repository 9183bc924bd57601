package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OperationID struct {
	uuid.UUID
}

func NewOperationID() OperationID {
	return OperationID{UUID: uuid.Must(uuid.NewV7())}
}

func ParseOperationID(s string) (OperationID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return OperationID{}, err
	}

	return OperationID{UUID: id}, nil
}

func (id OperationID) String() string {
	return id.UUID.String()
}

func (id OperationID) IsZero() bool {
	return id.UUID == uuid.Nil
}

type OperationKind string

const (
	KindDiseaseAnalysisUpload  OperationKind = "disease-analysis-upload"
	KindProfileUpdate          OperationKind = "profile-update"
	KindFeedback               OperationKind = "feedback"
	KindConsultationRequest    OperationKind = "consultation-request"
	KindPriceAlertSubscription OperationKind = "price-alert-subscription"
)

func (k OperationKind) String() string {
	return string(k)
}

func (k OperationKind) IsValid() bool {
	switch k {
	case KindDiseaseAnalysisUpload, KindProfileUpdate, KindFeedback,
		KindConsultationRequest, KindPriceAlertSubscription:
		return true
	default:
		return false
	}
}

// Priority derives the queue class from the kind. Disease analyses carry
// field observations that lose value fast, so they always go first.
func (k OperationKind) Priority() Priority {
	switch k {
	case KindDiseaseAnalysisUpload:
		return PriorityHigh
	case KindProfileUpdate, KindFeedback, KindConsultationRequest:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// CacheTier places the acknowledged entity once the remote confirms an
// operation. User-authored settings pin; analysis results ride the high
// tier; delivery acks age out quickly.
func (k OperationKind) CacheTier() Tier {
	switch k {
	case KindProfileUpdate, KindPriceAlertSubscription:
		return TierCritical
	case KindDiseaseAnalysisUpload:
		return TierHigh
	case KindConsultationRequest:
		return TierMedium
	default:
		return TierLow
	}
}

func ParseOperationKind(s string) (OperationKind, error) {
	kind := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid operation kind: %s", s)
	}

	return kind, nil
}

func AllOperationKinds() []OperationKind {
	return []OperationKind{
		KindDiseaseAnalysisUpload,
		KindProfileUpdate,
		KindFeedback,
		KindConsultationRequest,
		KindPriceAlertSubscription,
	}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) String() string {
	return string(p)
}

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank orders priorities for dequeueing, highest class first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

func ParsePriority(s string) (Priority, error) {
	priority := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !priority.IsValid() {
		return "", fmt.Errorf("invalid priority: %s", s)
	}

	return priority, nil
}

type OperationStatus string

const (
	StatusPending         OperationStatus = "pending"
	StatusInFlight        OperationStatus = "in-flight"
	StatusCompleted       OperationStatus = "completed"
	StatusFailedPermanent OperationStatus = "failed-permanent"
)

func (s OperationStatus) String() string {
	return string(s)
}

func (s OperationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusCompleted, StatusFailedPermanent:
		return true
	default:
		return false
	}
}

func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

func ParseOperationStatus(s string) (OperationStatus, error) {
	status := OperationStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid operation status: %s", s)
	}

	return status, nil
}

type OperationRecord struct {
	ID     OperationID
	Kind   OperationKind
	Status OperationStatus

	// EntityKey names the cache entry the operation will update once the
	// remote acknowledges it. It is a lookup handle, not an owning
	// reference; the record carries its own replay payload.
	EntityKey string

	Payload     []byte
	BaseVersion string
	DedupeKey   string

	Priority      Priority
	RetryCount    uint
	EnqueuedAt    time.Time
	NextAttemptAt time.Time
	CompletedAt   time.Time
	LastError     string
	Notice        string
}

func NewOperationRecord(kind OperationKind, entityKey string, payload []byte, now time.Time) OperationRecord {
	return OperationRecord{
		ID:            NewOperationID(),
		Kind:          kind,
		Status:        StatusPending,
		EntityKey:     entityKey,
		Payload:       payload,
		Priority:      kind.Priority(),
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
}
