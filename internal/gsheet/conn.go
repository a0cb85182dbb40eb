// Package gsheet is the remote gateway: a batched, rate-limited client over a
// month-partitioned Google Sheet.
//
// Write operations are not executed immediately. They are appended to an
// operation queue and dispatched by Flush, which coalesces consecutive
// operations of the same type into one batched network call. A single
// rate limiter gates every physical call the gateway makes, reads included,
// because the remote quota is per spreadsheet, not per partition.
package gsheet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/budget-sync/internal/logger"
)

// ErrRemoteUnavailable wraps any network or auth failure talking to the
// remote. Operations already dispatched in earlier batches of the same flush
// remain applied; convergence relies on the next run being idempotent.
var ErrRemoteUnavailable = errors.New("remote spreadsheet unavailable")

// DefaultMinCallInterval is the minimum spacing between physical calls,
// matching the Sheets per-user write quota.
const DefaultMinCallInterval = time.Second

type opType int

const (
	opUpdate opType = iota
	opAppend
	opClear
)

func (t opType) String() string {
	switch t {
	case opUpdate:
		return "update"
	case opAppend:
		return "append"
	case opClear:
		return "clear"
	}
	return "unknown"
}

type operation struct {
	typ    opType
	rng    string
	values [][]any
}

// Connection owns the operation queue for one spreadsheet. It is not safe for
// concurrent use; exactly one sync invocation owns it at a time.
type Connection struct {
	api           API
	spreadsheetID string
	limiter       *rate.Limiter
	queue         []operation
}

// NewConnection wraps api for the given spreadsheet. minCallInterval of zero
// disables pacing (tests); production callers should pass
// DefaultMinCallInterval.
func NewConnection(api API, spreadsheetID string, minCallInterval time.Duration) *Connection {
	limit := rate.Inf
	if minCallInterval > 0 {
		limit = rate.Every(minCallInterval)
	}
	return &Connection{
		api:           api,
		spreadsheetID: spreadsheetID,
		limiter:       rate.NewLimiter(limit, 1),
	}
}

// Update queues a value write covering rng.
func (c *Connection) Update(rng string, values [][]any) {
	c.queue = append(c.queue, operation{typ: opUpdate, rng: rng, values: values})
}

// Append queues a row append starting at rng.
func (c *Connection) Append(rng string, values [][]any) {
	c.queue = append(c.queue, operation{typ: opAppend, rng: rng, values: values})
}

// Clear queues a range clear. A clear flips the run, forcing queued updates
// before and after it into separate batches.
func (c *Connection) Clear(rng string) {
	c.queue = append(c.queue, operation{typ: opClear, rng: rng})
}

// Pending reports how many operations are queued but not yet flushed.
func (c *Connection) Pending() int {
	return len(c.queue)
}

// Flush drains the queue in original order, batching greedily but never
// reordering across a type change. On failure the failed run and everything
// after it stay queued; the caller decides between retrying and Rollback.
func (c *Connection) Flush(ctx context.Context) error {
	log := logger.FromContext(ctx)

	for len(c.queue) > 0 {
		// Take the longest prefix of same-typed operations.
		run := 1
		for run < len(c.queue) && c.queue[run].typ == c.queue[0].typ {
			run++
		}
		batch := c.queue[:run]

		if err := c.dispatch(ctx, batch); err != nil {
			return err
		}

		log.Debug().
			Str("op", batch[0].typ.String()).
			Int("batched", len(batch)).
			Int("remaining", len(c.queue)-run).
			Msg("Dispatched operation batch")
		c.queue = c.queue[run:]
	}
	return nil
}

// Rollback discards the still-queued, not-yet-flushed operations. It never
// touches the remote: batches already flushed are not undone.
func (c *Connection) Rollback() {
	c.queue = nil
}

func (c *Connection) dispatch(ctx context.Context, batch []operation) error {
	switch batch[0].typ {
	case opUpdate:
		data := make([]*sheets.ValueRange, len(batch))
		for i, op := range batch {
			data[i] = &sheets.ValueRange{Range: op.rng, Values: op.values}
		}
		if err := c.wait(ctx); err != nil {
			return err
		}
		if err := c.api.BatchUpdate(ctx, c.spreadsheetID, data); err != nil {
			return fmt.Errorf("flush: batch update: %w: %w", ErrRemoteUnavailable, err)
		}

	case opClear:
		ranges := make([]string, len(batch))
		for i, op := range batch {
			ranges[i] = op.rng
		}
		if err := c.wait(ctx); err != nil {
			return err
		}
		if err := c.api.BatchClear(ctx, c.spreadsheetID, ranges); err != nil {
			return fmt.Errorf("flush: batch clear: %w: %w", ErrRemoteUnavailable, err)
		}

	case opAppend:
		// The values API has no batched append; each one is its own call.
		for _, op := range batch {
			if err := c.wait(ctx); err != nil {
				return err
			}
			if err := c.api.Append(ctx, c.spreadsheetID, op.rng, op.values); err != nil {
				return fmt.Errorf("flush: append %s: %w: %w", op.rng, ErrRemoteUnavailable, err)
			}
		}
	}
	return nil
}

// Values reads a range immediately, outside the operation queue.
func (c *Connection) Values(ctx context.Context, rng string) ([][]any, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	values, err := c.api.Values(ctx, c.spreadsheetID, rng)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %w", rng, ErrRemoteUnavailable, err)
	}
	return values, nil
}

// SheetTitles lists the spreadsheet's sheet names immediately.
func (c *Connection) SheetTitles(ctx context.Context) ([]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	titles, err := c.api.SheetTitles(ctx, c.spreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("listing sheets: %w: %w", ErrRemoteUnavailable, err)
	}
	return titles, nil
}

// AddSheet creates a new sheet immediately. Sheet creation cannot be queued:
// later queued writes address the sheet by name and need it to exist.
func (c *Connection) AddSheet(ctx context.Context, title string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.api.AddSheet(ctx, c.spreadsheetID, title); err != nil {
		return fmt.Errorf("adding sheet %q: %w: %w", title, ErrRemoteUnavailable, err)
	}
	return nil
}

func (c *Connection) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}
