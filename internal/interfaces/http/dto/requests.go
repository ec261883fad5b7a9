package dto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
)

// ResolveConflictRequest carries the user's decision for a conflict.
type ResolveConflictRequest struct {
	Strategy   string          `json:"strategy" binding:"required,oneof=local remote manual"`
	MergedData json.RawMessage `json:"mergedData,omitempty"`
}

// Resolution converts the request into its domain form.
func (r ResolveConflictRequest) Resolution() offline.Resolution {
	return offline.Resolution{Strategy: offline.Strategy(r.Strategy), MergedData: r.MergedData}
}

// QueueActionRequest queues either an entity operation (kind, op, entityId,
// data) or a raw request (method, path, body).
type QueueActionRequest struct {
	Kind     string          `json:"kind" binding:"omitempty,oneof=company voucher inventory_item"`
	Op       string          `json:"op" binding:"omitempty,oneof=create update delete"`
	EntityID string          `json:"entityId"`
	Data     json.RawMessage `json:"data,omitempty"`

	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`

	Priority   string `json:"priority" binding:"omitempty,oneof=high normal low"`
	MaxRetries int    `json:"maxRetries" binding:"omitempty,min=1,max=100"`
}

// Action builds the domain action the request describes and validates it.
func (r QueueActionRequest) Action() (offline.Action, error) {
	if r.Kind != "" && r.Path != "" {
		return nil, fmt.Errorf("kind and path are mutually exclusive: %w", shared.ErrInvalidInput)
	}
	a := r.action()
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (r QueueActionRequest) action() offline.Action {
	if r.Kind != "" {
		return offline.EntityAction{
			Op:       offline.ChangeAction(r.Op),
			Kind:     offline.EntityKind(r.Kind),
			EntityID: r.EntityID,
			Data:     r.Data,
		}
	}
	return offline.RequestAction{
		Method: strings.ToUpper(r.Method),
		Path:   r.Path,
		Body:   r.Body,
	}
}

// QueuePriority returns the requested tier, normal when unset.
func (r QueueActionRequest) QueuePriority() offline.Priority {
	if r.Priority == "" {
		return offline.PriorityNormal
	}
	return offline.Priority(r.Priority)
}

// QueuedActionResponse is returned after an action was persisted.
type QueuedActionResponse struct {
	ID string `json:"id"`
}

// DeviceTokenRequest replaces the stored device token.
type DeviceTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RecordListRequest filters the local cache of one entity kind.
type RecordListRequest struct {
	CompanyID string `form:"company_id"`
	Category  string `form:"category"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

// DefaultRecordLimit applies when a list request names no limit.
const DefaultRecordLimit = 100

// Filter converts the request into a store filter.
func (r RecordListRequest) Filter() offline.ListFilter {
	limit := r.Limit
	if limit == 0 {
		limit = DefaultRecordLimit
	}
	return offline.ListFilter{CompanyID: r.CompanyID, Category: r.Category, Limit: limit, Offset: r.Offset}
}

// HistoryRequest bounds the session history.
type HistoryRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

// ConflictListRequest filters conflicts by status.
type ConflictListRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=pending resolved"`
}

// QueuedActionView exposes a queued action together with its payload.
type QueuedActionView struct {
	*offline.QueuedAction
	Type   offline.ActionType `json:"type"`
	Action offline.Action     `json:"action"`
}

// NewQueuedActionView wraps qa for output.
func NewQueuedActionView(qa *offline.QueuedAction) QueuedActionView {
	return QueuedActionView{QueuedAction: qa, Type: qa.Type(), Action: qa.Action}
}

// NewQueuedActionViews wraps every action of list.
func NewQueuedActionViews(list []*offline.QueuedAction) []QueuedActionView {
	out := make([]QueuedActionView, 0, len(list))
	for _, qa := range list {
		out = append(out, NewQueuedActionView(qa))
	}
	return out
}
