// Package shiftstest provides an in-memory shift API for tests and local
// load runs.
package shiftstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Prefix is where the API is mounted, matching a base URL of <host>/api/v1.
const Prefix = "/api/v1"

// Options configure a fake API.
type Options struct {
	// APIKey is required in x-api-key when set.
	APIKey string

	// Latency is added to every response.
	Latency time.Duration

	// Seed pre-populates the store with shifts "seed-1" .. "seed-N".
	Seed int

	Logger *zap.Logger
}

// API is an in-memory shift store behind the batch endpoints.
type API struct {
	opts   Options
	logger *zap.Logger

	requests atomic.Int64
	failing  atomic.Int32

	mu      sync.Mutex
	order   []string
	shifts  map[string]json.RawMessage
	updates map[string]int
}

// New creates a fake API.
func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{
		opts:    opts,
		logger:  logger,
		shifts:  make(map[string]json.RawMessage),
		updates: make(map[string]int),
	}
	for i := 1; i <= opts.Seed; i++ {
		a.insert("seed-"+strconv.Itoa(i), json.RawMessage(`{}`))
	}
	return a
}

// NewServer starts a fake API on a test server that is closed with the
// test. The base URL to use is server.URL + Prefix.
func NewServer(t interface{ Cleanup(func()) }, opts Options) (*API, *httptest.Server) {
	api := New(opts)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return api, srv
}

// Handler routes the batch and list endpoints under Prefix.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+Prefix+"/shifts/batch/create", a.guard(a.create))
	mux.HandleFunc("PATCH "+Prefix+"/shifts/batch/update", a.guard(a.update))
	mux.HandleFunc("DELETE "+Prefix+"/shifts/batch/delete", a.guard(a.delete))
	mux.HandleFunc("GET "+Prefix+"/shifts", a.guard(a.list))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return mux
}

// FailWith makes every following request answer status; zero restores
// normal handling.
func (a *API) FailWith(status int) {
	a.failing.Store(int32(status))
}

// Requests returns the number of API requests received.
func (a *API) Requests() int64 {
	return a.requests.Load()
}

// Len returns the number of stored shifts.
func (a *API) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.shifts)
}

// Updates returns how often each identifier was updated.
func (a *API) Updates() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.updates))
	for id, n := range a.updates {
		out[id] = n
	}
	return out
}

func (a *API) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.requests.Add(1)
		if a.opts.Latency > 0 {
			select {
			case <-time.After(a.opts.Latency):
			case <-r.Context().Done():
				return
			}
		}
		if a.opts.APIKey != "" && r.Header.Get("x-api-key") != a.opts.APIKey {
			reply(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "invalid API key"})
			return
		}
		if status := int(a.failing.Load()); status != 0 {
			reply(w, status, map[string]any{"success": false})
			return
		}
		next(w, r)
	}
}

type batchRequest struct {
	Shifts []json.RawMessage `json:"shifts"`
}

type shiftRef struct {
	ID string `json:"id"`
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Shifts) == 0 {
		reply(w, http.StatusBadRequest, map[string]any{"success": false, "message": "shifts are required"})
		return
	}

	created := make([]shiftRef, len(req.Shifts))
	a.mu.Lock()
	for i, body := range req.Shifts {
		id := uuid.NewString()
		a.insert(id, body)
		created[i] = shiftRef{ID: id}
	}
	a.mu.Unlock()

	a.logger.Debug("created shifts", zap.Int("count", len(created)))
	reply(w, http.StatusCreated, map[string]any{"data": created})
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shifts []shiftRef `json:"shifts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Shifts) == 0 {
		reply(w, http.StatusBadRequest, map[string]any{"success": false, "message": "shifts are required"})
		return
	}

	updated := make([]shiftRef, 0, len(req.Shifts))
	a.mu.Lock()
	for _, s := range req.Shifts {
		a.updates[s.ID]++
		if _, ok := a.shifts[s.ID]; ok {
			updated = append(updated, s)
		}
	}
	a.mu.Unlock()

	reply(w, http.StatusOK, map[string]any{"success": true, "data": updated})
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShiftIDs []string `json:"shiftIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ShiftIDs) == 0 {
		reply(w, http.StatusBadRequest, map[string]any{"success": false, "message": "shiftIds are required"})
		return
	}

	a.mu.Lock()
	deleted := 0
	for _, id := range req.ShiftIDs {
		if _, ok := a.shifts[id]; ok {
			delete(a.shifts, id)
			deleted++
		}
	}
	a.mu.Unlock()

	reply(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}

// list pages through live shifts, newest first.
func (a *API) list(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 50)

	a.mu.Lock()
	live := make([]string, 0, len(a.shifts))
	for i := len(a.order) - 1; i >= 0; i-- {
		if _, ok := a.shifts[a.order[i]]; ok {
			live = append(live, a.order[i])
		}
	}
	a.mu.Unlock()

	totalPages := (len(live) + pageSize - 1) / pageSize
	start := min((page-1)*pageSize, len(live))
	end := min(start+pageSize, len(live))

	data := make([]shiftRef, 0, end-start)
	for _, id := range live[start:end] {
		data = append(data, shiftRef{ID: id})
	}

	reply(w, http.StatusOK, map[string]any{
		"data": data,
		"meta": map[string]int{"page": page, "pageSize": pageSize, "total": len(live), "totalPages": totalPages},
	})
}

// insert requires a.mu, or exclusive access during construction.
func (a *API) insert(id string, body json.RawMessage) {
	a.order = append(a.order, id)
	a.shifts[id] = body
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func reply(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
