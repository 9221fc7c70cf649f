package shifts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/payload"
	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
)

// listInclude is the relation set requested by list calls.
const listInclude = "bookedApplicant.applicant,metadata,tags"

// Settings shape the requests of one scenario.
type Settings struct {
	// Scenario names the outcomes' request and log lines.
	Scenario string

	BatchSize int

	// ConcurrentBatches is how many batch requests one iteration sends at
	// once. Each takes its own batch number and partition.
	ConcurrentBatches int

	// BatchesPerWorker caps the batches an owner sends. Zero is unlimited.
	BatchesPerWorker int

	PageSize      int
	JobID         string
	Timeout       time.Duration
	SlowThreshold time.Duration
}

func (s Settings) concurrency() int {
	return max(s.ConcurrentBatches, 1)
}

// BatchBody is the body of batch create and update requests.
type BatchBody struct {
	Shifts []payload.Shift `json:"shifts"`
}

// DeleteBody is the body of batch delete requests.
type DeleteBody struct {
	ShiftIDs []string `json:"shiftIds"`
}

// fanOut runs one batch per concurrent slot of the iteration. A slot that
// finds its owner exhausted sends nothing; the iteration reports
// exhaustion only after the others finish.
func fanOut(ctx context.Context, it *loadgen.Iteration, s Settings, send func(ctx context.Context, batch int) error) error {
	if s.concurrency() == 1 {
		batch, err := claimBatch(it, s)
		if err != nil {
			return err
		}
		return send(ctx, batch)
	}

	var g errgroup.Group
	for i := 0; i < s.concurrency(); i++ {
		batch, err := claimBatch(it, s)
		if err != nil {
			g.Go(func() error { return err })
			break
		}
		g.Go(func() error { return send(ctx, batch) })
	}
	return g.Wait()
}

func claimBatch(it *loadgen.Iteration, s Settings) (int, error) {
	batch := it.NextBatch()
	if s.BatchesPerWorker > 0 && batch >= s.BatchesPerWorker {
		return 0, pool.ErrPoolExhausted
	}
	return batch, nil
}

// CreateWorkload sends batch creates. Item indices come from a counter
// shared by every owner, so generated dates and patterns advance across
// the whole run.
type CreateWorkload struct {
	client   *Client
	synth    *payload.Synthesizer
	settings Settings
	logger   *zap.Logger

	next atomic.Int64
}

// NewCreateWorkload creates a batch create workload.
func NewCreateWorkload(client *Client, synth *payload.Synthesizer, s Settings, logger *zap.Logger) *CreateWorkload {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreateWorkload{client: client, synth: synth, settings: s, logger: logger}
}

// Iterate implements loadgen.Workload.
func (w *CreateWorkload) Iterate(ctx context.Context, it *loadgen.Iteration) error {
	return fanOut(ctx, it, w.settings, func(ctx context.Context, batch int) error {
		size := w.settings.BatchSize
		first := w.next.Add(int64(size)) - int64(size)
		tag := payload.NewCorrelation(it.Owner, batch)

		body := BatchBody{Shifts: make([]payload.Shift, size)}
		for i := range body.Shifts {
			body.Shifts[i] = w.synth.Build("", uint64(first)+uint64(i), tag).Shift
		}

		w.logger.Debug("sending batch",
			zap.String("scenario", w.settings.Scenario),
			zap.Int("owner", it.Owner),
			zap.Int("batch", batch),
			zap.Int("size", size))

		it.Record(w.client.Send(ctx, http.MethodPost, PathBatchCreate, body, w.settings.Timeout,
			Named(w.settings.Scenario),
			ExpectStatus(http.StatusCreated),
			ExpectSchema(CreateResponse),
			SlowThreshold(w.settings.SlowThreshold),
			BatchSize(size)))
		return nil
	})
}

// partitioned is shared by the workloads that mutate existing shifts: each
// batch claims the owner's next partition of the identifier pool.
type partitioned struct {
	client    *Client
	pool      *pool.Pool
	allocator *pool.Allocator
	settings  Settings
	logger    *zap.Logger
}

func newPartitioned(client *Client, p *pool.Pool, alloc *pool.Allocator, s Settings, logger *zap.Logger) partitioned {
	if logger == nil {
		logger = zap.NewNop()
	}
	return partitioned{client: client, pool: p, allocator: alloc, settings: s, logger: logger}
}

// claim takes the owner's next partition. ErrPoolExhausted passes through
// untouched so the scheduler retires the owner.
func (w *partitioned) claim(it *loadgen.Iteration, batch int) (pool.Partition, error) {
	part, err := w.allocator.Next(it.Owner, w.settings.BatchSize)
	if err != nil {
		if !errors.Is(err, pool.ErrPoolExhausted) {
			return part, fmt.Errorf("claiming batch %d for owner %d: %w", batch, it.Owner, err)
		}
		return part, err
	}

	w.logger.Debug("sending batch",
		zap.String("scenario", w.settings.Scenario),
		zap.Int("owner", it.Owner),
		zap.Int("batch", batch),
		zap.Int("offset", part.Offset),
		zap.Int("size", part.Size))
	return part, nil
}

// UpdateWorkload sends batch updates over the owner's partitions.
type UpdateWorkload struct {
	partitioned
	synth *payload.Synthesizer
}

// NewUpdateWorkload creates a batch update workload.
func NewUpdateWorkload(client *Client, synth *payload.Synthesizer, p *pool.Pool, alloc *pool.Allocator, s Settings, logger *zap.Logger) *UpdateWorkload {
	return &UpdateWorkload{partitioned: newPartitioned(client, p, alloc, s, logger), synth: synth}
}

// Iterate implements loadgen.Workload.
func (w *UpdateWorkload) Iterate(ctx context.Context, it *loadgen.Iteration) error {
	return fanOut(ctx, it, w.settings, func(ctx context.Context, batch int) error {
		part, err := w.claim(it, batch)
		if err != nil {
			return err
		}

		tag := payload.NewCorrelation(it.Owner, batch)
		ids := w.pool.Slice(part)
		body := BatchBody{Shifts: make([]payload.Shift, len(ids))}
		for i, id := range ids {
			body.Shifts[i] = w.synth.Build(id, uint64(part.Offset+i), tag).Shift
		}

		it.Record(w.client.Send(ctx, http.MethodPatch, PathBatchUpdate, body, w.settings.Timeout,
			Named(w.settings.Scenario),
			ExpectStatus(http.StatusOK),
			ExpectSchema(UpdateResponse),
			SlowThreshold(w.settings.SlowThreshold),
			BatchSize(len(ids))))
		return nil
	})
}

// DeleteWorkload sends batch deletes over the owner's partitions.
type DeleteWorkload struct {
	partitioned
}

// NewDeleteWorkload creates a batch delete workload.
func NewDeleteWorkload(client *Client, p *pool.Pool, alloc *pool.Allocator, s Settings, logger *zap.Logger) *DeleteWorkload {
	return &DeleteWorkload{partitioned: newPartitioned(client, p, alloc, s, logger)}
}

// Iterate implements loadgen.Workload.
func (w *DeleteWorkload) Iterate(ctx context.Context, it *loadgen.Iteration) error {
	return fanOut(ctx, it, w.settings, func(ctx context.Context, batch int) error {
		part, err := w.claim(it, batch)
		if err != nil {
			return err
		}

		ids := w.pool.Slice(part)
		it.Record(w.client.Send(ctx, http.MethodDelete, PathBatchDelete, DeleteBody{ShiftIDs: ids}, w.settings.Timeout,
			Named(w.settings.Scenario),
			ExpectStatus(http.StatusOK),
			ExpectSchema(DeleteResponse),
			SlowThreshold(w.settings.SlowThreshold),
			BatchSize(len(ids))))
		return nil
	})
}

// ListWorkload reads the first page of shifts.
type ListWorkload struct {
	client   *Client
	settings Settings
}

// NewListWorkload creates a list workload.
func NewListWorkload(client *Client, s Settings) *ListWorkload {
	return &ListWorkload{client: client, settings: s}
}

// Iterate implements loadgen.Workload.
func (w *ListWorkload) Iterate(ctx context.Context, it *loadgen.Iteration) error {
	opts := []SendOption{
		Named(w.settings.Scenario),
		ExpectStatus(http.StatusOK),
		ExpectSchema(ListResponse),
		SlowThreshold(w.settings.SlowThreshold),
		Query("include", listInclude),
		Query("page", "1"),
		Query("sortOrder", "desc"),
	}
	if w.settings.PageSize > 0 {
		opts = append(opts, Query("pageSize", strconv.Itoa(w.settings.PageSize)))
	}
	if w.settings.JobID != "" {
		opts = append(opts, Query("jobId", w.settings.JobID))
	}

	it.Record(w.client.Send(ctx, http.MethodGet, PathShifts, nil, w.settings.Timeout, opts...))
	return nil
}

var (
	_ loadgen.Workload = (*CreateWorkload)(nil)
	_ loadgen.Workload = (*UpdateWorkload)(nil)
	_ loadgen.Workload = (*DeleteWorkload)(nil)
	_ loadgen.Workload = (*ListWorkload)(nil)
)
