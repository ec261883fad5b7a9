package offline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/erp/mobilesync/internal/domain/shared"
)

// ActionType is the persisted discriminator of a queued action.
type ActionType string

const (
	ActionCreateVoucher       ActionType = "CREATE_VOUCHER"
	ActionUpdateVoucher       ActionType = "UPDATE_VOUCHER"
	ActionDeleteVoucher       ActionType = "DELETE_VOUCHER"
	ActionCreateCompany       ActionType = "CREATE_COMPANY"
	ActionUpdateCompany       ActionType = "UPDATE_COMPANY"
	ActionDeleteCompany       ActionType = "DELETE_COMPANY"
	ActionCreateInventoryItem ActionType = "CREATE_INVENTORY_ITEM"
	ActionUpdateInventoryItem ActionType = "UPDATE_INVENTORY_ITEM"
	ActionDeleteInventoryItem ActionType = "DELETE_INVENTORY_ITEM"
	ActionCustomRequest       ActionType = "CUSTOM_REQUEST"
)

// Action is a side-effecting operation the queue replays against the server.
// The set of implementations is closed: EntityAction and RequestAction.
type Action interface {
	Type() ActionType
	// OrderKey groups actions whose relative order must be preserved.
	OrderKey() string
	Validate() error
	isAction()
}

// EntityAction mutates one synced entity on the server.
type EntityAction struct {
	Op       ChangeAction    `json:"op"`
	Kind     EntityKind      `json:"kind"`
	EntityID string          `json:"entityId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (EntityAction) isAction() {}

// Type derives the discriminator from the operation and kind.
func (a EntityAction) Type() ActionType {
	return ActionType(strings.ToUpper(string(a.Op)) + "_" + strings.ToUpper(string(a.Kind)))
}

func (a EntityAction) OrderKey() string {
	return string(a.Kind) + ":" + a.EntityID
}

func (a EntityAction) Validate() error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("unknown entity kind %q: %w", a.Kind, shared.ErrInvalidInput)
	}
	if !a.Op.IsValid() {
		return fmt.Errorf("unknown operation %q: %w", a.Op, shared.ErrInvalidInput)
	}
	if a.EntityID == "" {
		return fmt.Errorf("entity id is required: %w", shared.ErrInvalidInput)
	}
	if a.Op != ChangeDelete && len(a.Data) == 0 {
		return fmt.Errorf("%s requires data: %w", a.Type(), shared.ErrInvalidInput)
	}
	return nil
}

// Method returns the HTTP method the action maps to.
func (a EntityAction) Method() string {
	switch a.Op {
	case ChangeCreate:
		return http.MethodPost
	case ChangeUpdate:
		return http.MethodPut
	default:
		return http.MethodDelete
	}
}

// Path returns the server endpoint the action targets.
func (a EntityAction) Path() string {
	if a.Op == ChangeCreate {
		return a.Kind.CollectionPath()
	}
	return a.Kind.ItemPath(a.EntityID)
}

// RequestAction is an arbitrary HTTP call queued for replay.
type RequestAction struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (RequestAction) isAction() {}

func (RequestAction) Type() ActionType { return ActionCustomRequest }

func (a RequestAction) OrderKey() string {
	return "request:" + a.Path
}

func (a RequestAction) Validate() error {
	switch strings.ToUpper(a.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q: %w", a.Method, shared.ErrInvalidInput)
	}
	if !strings.HasPrefix(a.Path, "/") {
		return fmt.Errorf("path must be absolute: %w", shared.ErrInvalidInput)
	}
	return nil
}

// EncodeAction serializes an action into its persisted form.
func EncodeAction(a Action) (ActionType, []byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", nil, err
	}
	return a.Type(), data, nil
}

// DecodeAction rebuilds a persisted action. An unknown type is an error.
func DecodeAction(t ActionType, payload []byte) (Action, error) {
	if t == ActionCustomRequest {
		var a RequestAction
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return a, nil
	}

	op, kind, ok := splitEntityActionType(t)
	if !ok {
		return nil, fmt.Errorf("unknown action type %q: %w", t, shared.ErrInvalidInput)
	}
	var a EntityAction
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	a.Op = op
	a.Kind = kind
	return a, nil
}

func splitEntityActionType(t ActionType) (ChangeAction, EntityKind, bool) {
	opPart, kindPart, found := strings.Cut(string(t), "_")
	if !found {
		return "", "", false
	}
	op := ChangeAction(strings.ToLower(opPart))
	kind := EntityKind(strings.ToLower(kindPart))
	if !op.IsValid() || !kind.IsValid() {
		return "", "", false
	}
	return op, kind, true
}
