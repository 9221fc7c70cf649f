package shifts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Fetch defaults.
const (
	DefaultFetchPageSize = 100
	DefaultFetchLimit    = 6500
)

// FetchOptions controls FetchIDs.
type FetchOptions struct {
	PageSize int
	// Limit stops paging once this many identifiers were collected.
	Limit int
	JobID string
	// Delay is slept between pages.
	Delay time.Duration
}

// FetchIDs pages through the list endpoint and collects shift identifiers,
// newest first. The page count comes from meta.totalPages of the first
// page. Any non-2xx page ends the fetch with an error.
func (c *Client) FetchIDs(ctx context.Context, opts FetchOptions) ([]string, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultFetchPageSize
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultFetchLimit
	}

	var ids []string
	totalPages := 1
	for page := 1; page <= totalPages && len(ids) < opts.Limit; page++ {
		if page > 1 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return ids, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}

		query := map[string]string{
			"page":      strconv.Itoa(page),
			"pageSize":  strconv.Itoa(opts.PageSize),
			"sortOrder": "desc",
		}
		if opts.JobID != "" {
			query["jobId"] = opts.JobID
		}

		resp, err := c.Get(ctx, PathShifts, query)
		if err != nil {
			return ids, fmt.Errorf("fetching page %d: %w", page, err)
		}
		if !resp.IsSuccess() {
			return ids, fmt.Errorf("fetching page %d: status %d", page, resp.StatusCode)
		}
		if !gjson.ValidBytes(resp.Body) {
			return ids, fmt.Errorf("fetching page %d: invalid JSON body", page)
		}

		if page == 1 {
			totalPages = int(gjson.GetBytes(resp.Body, "meta.totalPages").Int())
			c.logger.Info("fetching shift ids", zap.Int("totalPages", totalPages))
		}

		found := gjson.GetBytes(resp.Body, "data.#.id").Array()
		for _, id := range found {
			if len(ids) >= opts.Limit {
				break
			}
			ids = append(ids, id.String())
		}
		c.logger.Debug("fetched page", zap.Int("page", page), zap.Int("ids", len(found)))

		if len(found) == 0 {
			break
		}
	}

	return ids, nil
}
