package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Collection paths served by FakeERP.
const (
	CompaniesPath = "/companies"
	VouchersPath  = "/vouchers"
	ItemsPath     = "/inventory/items"
	HealthPath    = "/health"
)

var collections = []string{CompaniesPath, VouchersPath, ItemsPath}

// RecordedRequest is one request seen by FakeERP.
type RecordedRequest struct {
	Method string
	Path   string
	Body   json.RawMessage
}

type failure struct {
	method    string
	path      string
	status    int
	remaining int
}

// FakeERP is an in-memory ERP REST server. Entities are kept per collection
// and served in {success, data} envelopes, ordered by id.
type FakeERP struct {
	Server *httptest.Server

	mu       sync.Mutex
	data     map[string]map[string]json.RawMessage
	requests []RecordedRequest
	failures []*failure
	down     bool
	gate     chan struct{}
}

// NewFakeERP starts a server closed on cleanup.
func NewFakeERP(t *testing.T) *FakeERP {
	t.Helper()
	f := &FakeERP{data: make(map[string]map[string]json.RawMessage)}
	for _, c := range collections {
		f.data[c] = make(map[string]json.RawMessage)
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL to configure the transport with.
func (f *FakeERP) URL() string {
	return f.Server.URL
}

// Client returns a transport client for the server with millisecond retry
// delays.
func (f *FakeERP) Client(t *testing.T, retries int, opts ...transport.Option) *transport.Client {
	t.Helper()
	c, err := transport.NewClient(config.TransportConfig{
		BaseURL:    f.URL(),
		Timeout:    2 * time.Second,
		Retries:    retries,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Backoff:    transport.BackoffFixed,
		HealthPath: HealthPath,
	}, opts...)
	require.NoError(t, err)
	return c
}

// Seed stores entities in a collection. Each body must carry an "id".
func (f *FakeERP) Seed(collection string, bodies ...json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bodies {
		f.data[collection][idOf(b)] = b
	}
}

// Remove deletes an entity server-side without recording a request.
func (f *FakeERP) Remove(collection, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data[collection], id)
}

// Entity returns the stored body of an entity.
func (f *FakeERP) Entity(collection, id string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[collection][id]
	return b, ok
}

// Len returns the number of entities in a collection.
func (f *FakeERP) Len(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data[collection])
}

// FailNext makes the next n requests matching method and path answer with
// status. An empty method matches any method.
func (f *FakeERP) FailNext(method, path string, status, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &failure{method: method, path: path, status: status, remaining: n})
}

// SetDown makes the server drop every connection, health checks included.
func (f *FakeERP) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// Block holds collection GETs until the returned release func is called.
func (f *FakeERP) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Requests returns a copy of the request log, health checks excluded.
func (f *FakeERP) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// Count counts logged requests with the given method and path.
func (f *FakeERP) Count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (f *FakeERP) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	if f.down {
		f.mu.Unlock()
		dropConnection(w)
		return
	}
	if r.URL.Path == HealthPath {
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	f.requests = append(f.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	if status, ok := f.takeFailure(r.Method, r.URL.Path); ok {
		f.mu.Unlock()
		writeError(w, status, "INJECTED", http.StatusText(status))
		return
	}
	gate := f.gate
	f.mu.Unlock()

	collection, id, ok := route(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
		return
	}

	switch {
	case r.Method == http.MethodGet && id == "":
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		writeJSON(w, http.StatusOK, envelope(f.list(collection)))
	case r.Method == http.MethodGet:
		b, ok := f.Entity(collection, id)
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "entity not found")
			return
		}
		writeJSON(w, http.StatusOK, envelope(b))
	case r.Method == http.MethodPost && id == "":
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
			return
		}
		if idOf(body) == "" {
			body = withID(body, uuid.New().String())
		}
		f.Seed(collection, body)
		writeJSON(w, http.StatusCreated, envelope(json.RawMessage(body)))
	case (r.Method == http.MethodPut || r.Method == http.MethodPatch) && id != "":
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
			return
		}
		body = withID(body, id)
		f.Seed(collection, body)
		writeJSON(w, http.StatusOK, envelope(json.RawMessage(body)))
	case r.Method == http.MethodDelete && id != "":
		f.Remove(collection, id)
		writeJSON(w, http.StatusOK, envelope(nil))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method)
	}
}

// takeFailure must be called with f.mu held.
func (f *FakeERP) takeFailure(method, path string) (int, bool) {
	for i, fl := range f.failures {
		if fl.path != path || (fl.method != "" && fl.method != method) {
			continue
		}
		fl.remaining--
		if fl.remaining <= 0 {
			f.failures = append(f.failures[:i], f.failures[i+1:]...)
		}
		return fl.status, true
	}
	return 0, false
}

func (f *FakeERP) list(collection string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.data[collection]))
	for id := range f.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.data[collection][id])
	}
	return out
}

func route(path string) (collection, id string, ok bool) {
	for _, c := range collections {
		if path == c {
			return c, "", true
		}
		if rest, found := strings.CutPrefix(path, c+"/"); found && rest != "" && !strings.Contains(rest, "/") {
			return c, rest, true
		}
	}
	return "", "", false
}

func idOf(body json.RawMessage) string {
	var meta struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &meta)
	return meta.ID
}

func withID(body []byte, id string) []byte {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil || m == nil {
		m = map[string]any{}
	}
	m["id"] = id
	out, _ := json.Marshal(m)
	return out
}

func envelope(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		_ = conn.Close()
	}
}
