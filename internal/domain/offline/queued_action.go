package offline

import (
	"errors"
	"fmt"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/google/uuid"
)

// Priority orders queue tiers.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the drain order of the tier; lower drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// IsValid returns true if p is a known tier
func (p Priority) IsValid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// ActionStatus is the lifecycle state of a queued action.
type ActionStatus string

const (
	ActionStatusPending ActionStatus = "pending"
	ActionStatusFailed  ActionStatus = "failed"
	ActionStatusDead    ActionStatus = "dead"
)

// Default retry configuration
const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

// QueuedAction is a persisted side-effecting operation awaiting replay.
type QueuedAction struct {
	ID          string       `json:"id"`
	Action      Action       `json:"-"`
	Priority    Priority     `json:"priority"`
	Status      ActionStatus `json:"status"`
	RetryCount  int          `json:"retryCount"`
	MaxRetries  int          `json:"maxRetries"`
	LastError   string       `json:"lastError,omitempty"`
	NextRetryAt *time.Time   `json:"nextRetryAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// NewQueuedAction validates action and wraps it for the queue.
func NewQueuedAction(action Action, priority Priority, maxRetries int, now time.Time) (*QueuedAction, error) {
	if action == nil {
		return nil, fmt.Errorf("action is required: %w", shared.ErrInvalidInput)
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("unknown priority %q: %w", priority, shared.ErrInvalidInput)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now = now.UTC()
	return &QueuedAction{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Action:     action,
		Priority:   priority,
		Status:     ActionStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Type returns the discriminator of the wrapped action.
func (a *QueuedAction) Type() ActionType {
	if a.Action == nil {
		return ""
	}
	return a.Action.Type()
}

// Due reports whether the action may be attempted at now.
func (a *QueuedAction) Due(now time.Time) bool {
	if a.Status == ActionStatusDead {
		return false
	}
	return a.NextRetryAt == nil || !now.Before(*a.NextRetryAt)
}

// MarkFailed records a failed attempt. The action is dead-lettered once its
// retry budget is spent, otherwise rescheduled with exponential backoff.
func (a *QueuedAction) MarkFailed(errMsg string, now time.Time, base, maxDelay time.Duration) {
	a.RetryCount++
	a.LastError = errMsg
	a.UpdatedAt = now

	if a.RetryCount >= a.MaxRetries {
		a.Status = ActionStatusDead
		a.NextRetryAt = nil
		return
	}
	a.Status = ActionStatusFailed
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	// 1s, 2s, 4s, ...
	delay := base * time.Duration(1<<uint(a.RetryCount-1))
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	next := now.Add(delay)
	a.NextRetryAt = &next
}

// MarkDead moves the action straight to dead-letter.
func (a *QueuedAction) MarkDead(errMsg string, now time.Time) {
	a.RetryCount++
	a.LastError = errMsg
	a.Status = ActionStatusDead
	a.NextRetryAt = nil
	a.UpdatedAt = now
}

// ResetForRetry moves a dead-letter action back to pending.
func (a *QueuedAction) ResetForRetry(now time.Time) error {
	if a.Status != ActionStatusDead {
		return errors.New("can only retry dead letter actions")
	}
	a.Status = ActionStatusPending
	a.RetryCount = 0
	a.LastError = ""
	a.NextRetryAt = nil
	a.UpdatedAt = now
	return nil
}

// IsDead returns true if the action is in dead letter status
func (a *QueuedAction) IsDead() bool {
	return a.Status == ActionStatusDead
}
