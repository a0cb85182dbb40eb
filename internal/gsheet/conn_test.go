package gsheet

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/sheets/v4"
)

// fakeCall records one physical network call made through the fake API.
type fakeCall struct {
	kind   string
	ranges []string
}

// fakeAPI is an in-memory API that records calls and serves canned sheets.
type fakeAPI struct {
	calls  []fakeCall
	titles []string
	values map[string][][]any // range -> rows
	fail   map[string]error   // kind -> error to return
}

func newFakeAPI(titles ...string) *fakeAPI {
	return &fakeAPI{
		titles: titles,
		values: make(map[string][][]any),
		fail:   make(map[string]error),
	}
}

func (f *fakeAPI) BatchUpdate(_ context.Context, _ string, data []*sheets.ValueRange) error {
	if err := f.fail["batchUpdate"]; err != nil {
		return err
	}
	ranges := make([]string, len(data))
	for i, vr := range data {
		ranges[i] = vr.Range
	}
	f.calls = append(f.calls, fakeCall{kind: "batchUpdate", ranges: ranges})
	return nil
}

func (f *fakeAPI) BatchClear(_ context.Context, _ string, ranges []string) error {
	if err := f.fail["batchClear"]; err != nil {
		return err
	}
	f.calls = append(f.calls, fakeCall{kind: "batchClear", ranges: ranges})
	return nil
}

func (f *fakeAPI) Append(_ context.Context, _ string, rng string, values [][]any) error {
	if err := f.fail["append"]; err != nil {
		return err
	}
	f.calls = append(f.calls, fakeCall{kind: "append", ranges: []string{rng}})
	f.values[rng] = append(f.values[rng], values...)
	return nil
}

func (f *fakeAPI) Values(_ context.Context, _ string, rng string) ([][]any, error) {
	if err := f.fail["values"]; err != nil {
		return nil, err
	}
	f.calls = append(f.calls, fakeCall{kind: "values", ranges: []string{rng}})
	return f.values[rng], nil
}

func (f *fakeAPI) SheetTitles(_ context.Context, _ string) ([]string, error) {
	if err := f.fail["sheetTitles"]; err != nil {
		return nil, err
	}
	f.calls = append(f.calls, fakeCall{kind: "sheetTitles"})
	return f.titles, nil
}

func (f *fakeAPI) AddSheet(_ context.Context, _ string, title string) error {
	if err := f.fail["addSheet"]; err != nil {
		return err
	}
	f.calls = append(f.calls, fakeCall{kind: "addSheet", ranges: []string{title}})
	f.titles = append(f.titles, title)
	return nil
}

func TestFlushBatchesGreedilyWithoutReordering(t *testing.T) {
	api := newFakeAPI()
	conn := NewConnection(api, "sheet-id", 0)

	conn.Update("A", [][]any{{"a"}})
	conn.Update("B", [][]any{{"b"}})
	conn.Clear("C")
	conn.Update("D", [][]any{{"d"}})

	if err := conn.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := []fakeCall{
		{kind: "batchUpdate", ranges: []string{"A", "B"}},
		{kind: "batchClear", ranges: []string{"C"}},
		{kind: "batchUpdate", ranges: []string{"D"}},
	}
	if len(api.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %+v", len(want), len(api.calls), api.calls)
	}
	for i, w := range want {
		got := api.calls[i]
		if got.kind != w.kind || fmt.Sprint(got.ranges) != fmt.Sprint(w.ranges) {
			t.Errorf("call %d: got %+v, want %+v", i, got, w)
		}
	}
	if conn.Pending() != 0 {
		t.Errorf("queue should be empty after flush, %d pending", conn.Pending())
	}
}

func TestRollbackDiscardsQueueWithoutNetworkCalls(t *testing.T) {
	api := newFakeAPI()
	conn := NewConnection(api, "sheet-id", 0)

	conn.Update("A1", [][]any{{"a", "b"}})
	conn.Update("A2", [][]any{{"c", "d"}})
	conn.Rollback()

	if conn.Pending() != 0 {
		t.Errorf("rollback left %d operations queued", conn.Pending())
	}
	if err := conn.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(api.calls) != 0 {
		t.Errorf("expected zero network calls, got %+v", api.calls)
	}
}

func TestFlushFailureKeepsUndispatchedOps(t *testing.T) {
	api := newFakeAPI()
	boom := errors.New("boom")
	api.fail["batchClear"] = boom

	conn := NewConnection(api, "sheet-id", 0)
	conn.Update("A", [][]any{{"a"}})
	conn.Clear("B")
	conn.Update("C", [][]any{{"c"}})

	err := conn.Flush(context.Background())
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected the cause to be wrapped, got %v", err)
	}

	// The update batch before the failure was dispatched and stays applied;
	// the failed clear and everything after it remain queued.
	if len(api.calls) != 1 || api.calls[0].kind != "batchUpdate" {
		t.Errorf("unexpected calls: %+v", api.calls)
	}
	if conn.Pending() != 2 {
		t.Errorf("expected 2 operations still queued, got %d", conn.Pending())
	}

	conn.Rollback()
	if conn.Pending() != 0 {
		t.Errorf("rollback should empty the queue")
	}
}

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	api := newFakeAPI()
	conn := NewConnection(api, "sheet-id", 0)
	if err := conn.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(api.calls) != 0 {
		t.Errorf("expected no calls, got %+v", api.calls)
	}
}
