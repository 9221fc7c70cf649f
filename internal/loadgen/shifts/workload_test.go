package shifts

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
	"github.com/wesleyorama2/shiftload/internal/loadgen/payload"
	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
)

type outcomes struct {
	mu  sync.Mutex
	all []outcome.Outcome
}

func (r *outcomes) RecordOutcome(o outcome.Outcome) {
	r.mu.Lock()
	r.all = append(r.all, o)
	r.mu.Unlock()
}
func (r *outcomes) RecordIteration(time.Duration) {}
func (r *outcomes) RecordDropped()                {}

func newSynth(t *testing.T) *payload.Synthesizer {
	t.Helper()
	s, err := payload.New(payload.Config{Seed: 1, JobID: "job-1"})
	require.NoError(t, err)
	return s
}

func settings(batch int) Settings {
	return Settings{Scenario: "test", BatchSize: batch, Timeout: time.Second, SlowThreshold: 2 * time.Second}
}

func TestUpdateWorkload_OwnersNeverOverlap(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv)

	p := pool.Range("shift-", 0, 1000)
	alloc, err := pool.NewAllocator(p.Len(), 3, pool.WithAlignment(100))
	require.NoError(t, err)
	w := NewUpdateWorkload(client, newSynth(t), p, alloc, settings(100), nil)

	rec := &outcomes{}
	var wg sync.WaitGroup
	for owner := 0; owner < 3; owner++ {
		wg.Add(1)
		go func(owner int) {
			defer wg.Done()
			state := &loadgen.OwnerState{Slot: owner}
			for {
				err := w.Iterate(context.Background(), loadgen.NewIteration(state, rec))
				if err != nil {
					assert.ErrorIs(t, err, pool.ErrPoolExhausted)
					return
				}
			}
		}(owner)
	}
	wg.Wait()

	assert.Len(t, rec.all, 10)
	for _, o := range rec.all {
		assert.Equal(t, outcome.Success, o.Classification)
		assert.True(t, o.ChecksPassed, "%v", o.Err)
		assert.Equal(t, 100, o.BatchSize)
	}

	seen := make(map[string]bool)
	for _, id := range api.updated {
		require.False(t, seen[id], "shift %s updated twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 1000)
}

func TestUpdateWorkload_BatchesPerWorker(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv)

	p := pool.Range("shift-", 0, 1000)
	alloc, err := pool.NewAllocator(p.Len(), 2, pool.WithBandSize(300))
	require.NoError(t, err)

	s := settings(100)
	s.BatchesPerWorker = 3
	w := NewUpdateWorkload(client, newSynth(t), p, alloc, s, nil)

	state := &loadgen.OwnerState{Slot: 1}
	rec := &outcomes{}
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)))
	}
	assert.ErrorIs(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)), pool.ErrPoolExhausted)

	assert.Len(t, api.updated, 300)
	assert.Equal(t, "shift-300", api.updated[0])
}

func TestUpdateWorkload_ConcurrentBatches(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv)

	p := pool.Range("shift-", 0, 500)
	alloc, err := pool.NewAllocator(p.Len(), 1)
	require.NoError(t, err)

	s := settings(100)
	s.ConcurrentBatches = 5
	w := NewUpdateWorkload(client, newSynth(t), p, alloc, s, nil)

	state := &loadgen.OwnerState{}
	rec := &outcomes{}
	it := loadgen.NewIteration(state, rec)
	require.NoError(t, w.Iterate(context.Background(), it))

	assert.Equal(t, int64(5), it.Requests())
	assert.Equal(t, 5, state.Batches())
	assert.Len(t, api.updated, 500)

	assert.ErrorIs(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)), pool.ErrPoolExhausted)
}

func TestDeleteWorkload(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv)

	p := pool.Range("shift-", 0, 250)
	alloc, err := pool.NewAllocator(p.Len(), 1)
	require.NoError(t, err)
	w := NewDeleteWorkload(client, p, alloc, settings(100), nil)

	rec := &outcomes{}
	state := &loadgen.OwnerState{}
	require.NoError(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)))
	require.NoError(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)))
	assert.ErrorIs(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)), pool.ErrPoolExhausted)

	assert.Len(t, api.deleted, 200)
	require.Len(t, rec.all, 2)
	assert.Equal(t, http.MethodDelete, rec.all[0].Method)
	assert.True(t, rec.all[0].ChecksPassed)
}

func TestCreateWorkload(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv)

	s := settings(10)
	s.BatchesPerWorker = 2
	w := NewCreateWorkload(client, newSynth(t), s, nil)

	rec := &outcomes{}
	state := &loadgen.OwnerState{}
	require.NoError(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)))
	require.NoError(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)))
	assert.ErrorIs(t, w.Iterate(context.Background(), loadgen.NewIteration(state, rec)), pool.ErrPoolExhausted)

	assert.Equal(t, 20, api.created)
	for _, o := range rec.all {
		assert.Equal(t, http.StatusCreated, o.StatusCode)
		assert.True(t, o.ChecksPassed)
	}
}

func TestCreateWorkload_UnexpectedStatus(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.status = http.StatusTooManyRequests
	client := newTestClient(t, srv)

	w := NewCreateWorkload(client, newSynth(t), settings(5), nil)
	it := loadgen.NewIteration(nil, &outcomes{})
	require.NoError(t, w.Iterate(context.Background(), it))
	assert.True(t, it.RateLimited())
}

func TestListWorkload(t *testing.T) {
	api, srv := newFakeAPI(t)
	client := newTestClient(t, srv)

	s := settings(0)
	s.PageSize = 25
	s.JobID = "job-9"
	w := NewListWorkload(client, s)

	rec := &outcomes{}
	require.NoError(t, w.Iterate(context.Background(), loadgen.NewIteration(nil, rec)))

	require.Len(t, rec.all, 1)
	assert.Equal(t, outcome.Success, rec.all[0].Classification)
	assert.True(t, rec.all[0].ChecksPassed)

	q := api.requests[0].URL.Query()
	assert.Equal(t, "25", q.Get("pageSize"))
	assert.Equal(t, "job-9", q.Get("jobId"))
	assert.Equal(t, listInclude, q.Get("include"))
}

func TestFetchIDs(t *testing.T) {
	_, srv := newFakeAPI(t)
	client := newTestClient(t, srv)

	ids, err := client.FetchIDs(context.Background(), FetchOptions{PageSize: 100})
	require.NoError(t, err)
	assert.Len(t, ids, 250)
	assert.Equal(t, "shift-0", ids[0])
	assert.Equal(t, "shift-249", ids[249])

	ids, err = client.FetchIDs(context.Background(), FetchOptions{PageSize: 100, Limit: 120})
	require.NoError(t, err)
	assert.Len(t, ids, 120)
}

func TestFetchIDs_ErrorStatus(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.total = 10
	c, err := NewClient(ClientOptions{BaseURL: srv.URL + "/missing"})
	require.NoError(t, err)

	_, err = c.FetchIDs(context.Background(), FetchOptions{})
	assert.Error(t, err)
}
