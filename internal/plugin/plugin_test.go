package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Fake plugin for dispatcher tests
// ---------------------------------------------------------------------------

// fakePlugin is a configurable Plugin for dispatcher tests.
type fakePlugin struct {
	name     string
	priority int
	active   bool
	summary  string
	err      error
	delay    time.Duration
	panics   bool
}

func (f *fakePlugin) Name() string             { return f.name }
func (f *fakePlugin) Priority() int            { return f.priority }
func (f *fakePlugin) Activate(_ string) bool   { return f.active }
func (f *fakePlugin) Execute(ctx context.Context, _ Request) (string, map[string]any, error) {
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	if f.err != nil {
		return "", nil, f.err
	}
	return f.summary, map[string]any{"from": f.name}, nil
}

func TestDispatch_NoActivation(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{}, &fakePlugin{name: "idle", active: false})
	if got := d.Dispatch(context.Background(), Request{Input: "hi"}); got != nil {
		t.Errorf("expected nil results, got %v", got)
	}
}

func TestDispatch_PriorityOrderAndCap(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{MaxPerRequest: 2},
		&fakePlugin{name: "low", priority: 1, active: true, summary: "l"},
		&fakePlugin{name: "high", priority: 10, active: true, summary: "h"},
		&fakePlugin{name: "mid", priority: 5, active: true, summary: "m"},
	)

	results := d.Dispatch(context.Background(), Request{Input: "x"})
	if len(results) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(results))
	}
	if results[0].Plugin != "high" || results[1].Plugin != "mid" {
		t.Errorf("expected priority order high, mid; got %s, %s",
			results[0].Plugin, results[1].Plugin)
	}
}

func TestDispatch_RegistrationOrderBreaksTies(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{},
		&fakePlugin{name: "first", priority: 5, active: true},
		&fakePlugin{name: "second", priority: 5, active: true},
	)

	results := d.Dispatch(context.Background(), Request{Input: "x"})
	if results[0].Plugin != "first" || results[1].Plugin != "second" {
		t.Errorf("equal priorities must keep registration order, got %s, %s",
			results[0].Plugin, results[1].Plugin)
	}
}

func TestDispatch_ErrorBecomesFailureResult(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{},
		&fakePlugin{name: "bad", active: true, err: errors.New("lookup failed")},
		&fakePlugin{name: "good", active: true, summary: "fine"},
	)

	results := d.Dispatch(context.Background(), Request{Input: "x"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Success {
		t.Error("failing plugin must report Success=false")
	}
	if results[0].ErrorCode != ErrCodeFailed {
		t.Errorf("got error code %q, want %q", results[0].ErrorCode, ErrCodeFailed)
	}
	if !strings.Contains(results[0].Error, "lookup failed") {
		t.Errorf("error message lost: %q", results[0].Error)
	}
	if !results[1].Success {
		t.Error("one plugin's failure must not affect another")
	}
}

func TestDispatch_PanicBecomesFailureResult(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{}, &fakePlugin{name: "crash", active: true, panics: true})

	results := d.Dispatch(context.Background(), Request{Input: "x"})
	if results[0].Success {
		t.Error("panicking plugin must report failure")
	}
	if results[0].ErrorCode != ErrCodeFailed {
		t.Errorf("got error code %q, want %q", results[0].ErrorCode, ErrCodeFailed)
	}
	if !strings.Contains(results[0].Error, "panic") {
		t.Errorf("panic detail lost: %q", results[0].Error)
	}
}

func TestDispatch_TimeoutResult(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{Timeout: 30 * time.Millisecond},
		&fakePlugin{name: "slow", active: true, delay: 5 * time.Second},
	)

	start := time.Now()
	results := d.Dispatch(context.Background(), Request{Input: "x"})
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("dispatch blocked for %v; timeout not enforced", elapsed)
	}
	if results[0].Success {
		t.Error("timed-out plugin must report failure")
	}
	if results[0].ErrorCode != ErrCodeTimeout {
		t.Errorf("got error code %q, want %q", results[0].ErrorCode, ErrCodeTimeout)
	}
}

func TestDispatch_ParentCancellationIsNotATimeout(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{Timeout: 5 * time.Second},
		&fakePlugin{name: "slow", active: true, delay: 5 * time.Second},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results := d.Dispatch(ctx, Request{Input: "x"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch blocked for %v after cancellation", elapsed)
	}
	if results[0].Success {
		t.Error("cancelled plugin must report failure")
	}
	if results[0].ErrorCode != ErrCodeCancelled {
		t.Errorf("got error code %q, want %q", results[0].ErrorCode, ErrCodeCancelled)
	}
}

func TestDispatch_ParallelRunsAll(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{Parallel: true, MaxPerRequest: 3},
		&fakePlugin{name: "a", priority: 3, active: true, summary: "sa", delay: 20 * time.Millisecond},
		&fakePlugin{name: "b", priority: 2, active: true, summary: "sb", delay: 20 * time.Millisecond},
		&fakePlugin{name: "c", priority: 1, active: true, summary: "sc", delay: 20 * time.Millisecond},
	)

	results := d.Dispatch(context.Background(), Request{Input: "x"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// Results stay in selection order regardless of completion order.
	for i, want := range []string{"a", "b", "c"} {
		if results[i].Plugin != want {
			t.Errorf("result %d: got %s, want %s", i, results[i].Plugin, want)
		}
		if !results[i].Success {
			t.Errorf("plugin %s failed unexpectedly: %s", want, results[i].Error)
		}
	}
}

func TestPlugins_Names(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{},
		&fakePlugin{name: "one"},
		&fakePlugin{name: "two"},
	)
	names := d.Plugins()
	if len(names) != 2 || names[0] != "one" || names[1] != "two" {
		t.Errorf("got %v", names)
	}
}
