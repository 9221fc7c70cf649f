package shifts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// fakeAPI is an in-memory shift API recording what it received.
type fakeAPI struct {
	mu       sync.Mutex
	updated  []string
	deleted  []string
	created  int
	requests []*http.Request
	status   int // forced status for batch endpoints, 0 = normal
	total    int // shifts available to list
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{total: 250}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/shifts/batch/create", func(w http.ResponseWriter, r *http.Request) {
		var body BatchBody
		if !f.decode(w, r, &body) {
			return
		}
		f.mu.Lock()
		f.created += len(body.Shifts)
		f.mu.Unlock()
		f.reply(w, http.StatusCreated, map[string]any{"data": body.Shifts})
	})
	mux.HandleFunc("PATCH /api/v1/shifts/batch/update", func(w http.ResponseWriter, r *http.Request) {
		var body BatchBody
		if !f.decode(w, r, &body) {
			return
		}
		f.mu.Lock()
		for _, s := range body.Shifts {
			f.updated = append(f.updated, s.ID)
		}
		f.mu.Unlock()
		f.reply(w, http.StatusOK, map[string]any{"success": true, "data": body.Shifts})
	})
	mux.HandleFunc("DELETE /api/v1/shifts/batch/delete", func(w http.ResponseWriter, r *http.Request) {
		var body DeleteBody
		if !f.decode(w, r, &body) {
			return
		}
		f.mu.Lock()
		f.deleted = append(f.deleted, body.ShiftIDs...)
		f.mu.Unlock()
		f.reply(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("GET /api/v1/shifts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r)
		total := f.total
		f.mu.Unlock()

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		if page < 1 {
			page = 1
		}
		if size < 1 {
			size = 50
		}

		var data []map[string]string
		for i := (page - 1) * size; i < min(page*size, total); i++ {
			data = append(data, map[string]string{"id": "shift-" + strconv.Itoa(i)})
		}
		pages := (total + size - 1) / size
		f.reply(w, http.StatusOK, map[string]any{
			"data": data,
			"meta": map[string]int{"totalPages": pages, "page": page},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	forced := f.status
	f.mu.Unlock()

	if r.Header.Get(HeaderAPIKey) != "test-key" {
		f.reply(w, http.StatusUnauthorized, map[string]any{"success": false})
		return false
	}
	if forced != 0 {
		f.reply(w, forced, map[string]any{"success": false})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		f.reply(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return false
	}
	return true
}

func (f *fakeAPI) reply(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{BaseURL: srv.URL + "/api/v1", APIKey: "test-key", UserAgent: "shiftload-test"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}
