package offline

import (
	"context"
	"fmt"
	"strings"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
)

// Executor performs a queued action against the server.
type Executor interface {
	Execute(ctx context.Context, id string, action offline.Action) (*transport.Response, error)
}

// Requester is the part of the transport client the executor uses.
type Requester interface {
	Do(ctx context.Context, method, path string, opts *transport.RequestOptions) (*transport.Response, error)
}

// TransportExecutor replays actions over HTTP. Each call is registered
// under the cancel key "action:<id>".
type TransportExecutor struct {
	client Requester
}

// NewTransportExecutor creates an executor over client.
func NewTransportExecutor(client Requester) *TransportExecutor {
	return &TransportExecutor{client: client}
}

// Execute implements Executor
func (e *TransportExecutor) Execute(ctx context.Context, id string, action offline.Action) (*transport.Response, error) {
	opts := &transport.RequestOptions{CancelKey: "action:" + id}
	switch a := action.(type) {
	case offline.EntityAction:
		if a.Op != offline.ChangeDelete {
			opts.Body = a.Data
		}
		return e.client.Do(ctx, a.Method(), a.Path(), opts)
	case offline.RequestAction:
		if len(a.Body) > 0 {
			opts.Body = a.Body
		}
		return e.client.Do(ctx, strings.ToUpper(a.Method), a.Path, opts)
	default:
		return nil, fmt.Errorf("unsupported action %T", action)
	}
}
