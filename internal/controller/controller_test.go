package controller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"polyglot-sandbox/internal/engine"
	"polyglot-sandbox/internal/normalize"
	"polyglot-sandbox/internal/policy"
)

// blockingEngine runs until its context is cancelled or release is closed.
type blockingEngine struct {
	mu      sync.Mutex
	started chan string   // receives request code when a run begins
	release chan struct{} // closing it completes all in-flight runs
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (e *blockingEngine) Execute(ctx context.Context, req *engine.Request) *engine.Result {
	e.started <- req.Code
	select {
	case <-e.release:
		return &engine.Result{Success: true, Output: "done: " + req.Code}
	case <-ctx.Done():
		return &engine.Result{Success: false, Error: "execution timed out"}
	}
}

func (e *blockingEngine) ValidateCode(string) bool { return true }
func (e *blockingEngine) Cleanup(string)           {}

type fakeResolver struct {
	eng engine.Engine
}

func (r *fakeResolver) Get(lang policy.Language) (engine.Engine, error) {
	if lang == "cobol" {
		return nil, normalize.ErrUnsupportedLanguage
	}
	return r.eng, nil
}

func testPolicies(maxConcurrent int, timeout time.Duration) *policy.Store {
	overrides := make(map[policy.Language]policy.SecurityPolicy)
	for _, lang := range policy.Languages() {
		p := policy.SecurityPolicy{
			MaxExecutionTime: timeout,
			MaxMemoryBytes:   64 << 20,
			MaxCodeBytes:     1 << 20,
			MaxOutputBytes:   1 << 20,
			MaxConcurrent:    maxConcurrent,
		}
		overrides[lang] = p
	}
	return policy.NewStore(overrides)
}

func TestSubmitCompletes(t *testing.T) {
	eng := newBlockingEngine()
	c := New(testPolicies(2, 5*time.Second), &fakeResolver{eng: eng}, Options{})
	defer c.Close()

	go func() {
		<-eng.started
		close(eng.release)
	}()

	id, out := c.Submit(context.Background(), &engine.Request{Code: "a", Language: policy.LangLua}, 0)
	if id == "" {
		t.Error("missing execution id")
	}
	if out.Class != normalize.ClassNone || !out.Result.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if c.ActiveCount("") != 0 {
		t.Errorf("active count = %d after completion", c.ActiveCount(""))
	}
}

func TestTimeoutTransition(t *testing.T) {
	eng := newBlockingEngine()

	var timedOut []string
	var mu sync.Mutex
	c := New(testPolicies(2, 50*time.Millisecond), &fakeResolver{eng: eng}, Options{
		OnTimeout: func(id string, lang policy.Language) {
			mu.Lock()
			timedOut = append(timedOut, id)
			mu.Unlock()
		},
	})
	defer c.Close()

	id, out := c.Submit(context.Background(), &engine.Request{Code: "slow", Language: policy.LangLua}, 0)
	if out.Class != normalize.ClassTimeout {
		t.Fatalf("class = %q, want timeout", out.Class)
	}
	if !strings.Contains(out.Result.Error, "timed out") {
		t.Errorf("error = %q", out.Result.Error)
	}
	if !out.Retryable {
		t.Error("timeouts must be retryable")
	}
	if c.ActiveCount("") != 0 {
		t.Errorf("active count = %d, timed-out entry not removed", c.ActiveCount(""))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(timedOut) != 1 || timedOut[0] != id {
		t.Errorf("timeout callback ids = %v, want [%s]", timedOut, id)
	}
}

func TestConcurrencyCeilingQueuesOverflow(t *testing.T) {
	eng := newBlockingEngine()
	c := New(testPolicies(2, 5*time.Second), &fakeResolver{eng: eng}, Options{})
	defer c.Close()

	outcomes := make(chan normalize.Outcome, 3)
	for _, code := range []string{"a", "b", "c"} {
		code := code
		go func() {
			_, out := c.Submit(context.Background(), &engine.Request{Code: code, Language: policy.LangLua}, 0)
			outcomes <- out
		}()
	}

	// Exactly two may start; the third waits in the queue.
	<-eng.started
	<-eng.started
	waitFor(t, func() bool { return c.QueueLength() == 1 })
	if got := c.ActiveCount(policy.LangLua); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}
	select {
	case code := <-eng.started:
		t.Fatalf("third execution %q started beyond the ceiling", code)
	case <-time.After(100 * time.Millisecond):
	}

	// Releasing the running pair frees capacity; the queued entry runs.
	close(eng.release)
	for i := 0; i < 3; i++ {
		out := <-outcomes
		if !out.Result.Success {
			t.Errorf("outcome %d failed: %s", i, out.Result.Error)
		}
	}
	if c.QueueLength() != 0 {
		t.Errorf("queue length = %d after drain", c.QueueLength())
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	eng := newBlockingEngine()
	c := New(testPolicies(1, 5*time.Second), &fakeResolver{eng: eng}, Options{
		DispatchInterval: time.Hour, // promotion driven by completion only
	})
	defer c.Close()

	go c.Submit(context.Background(), &engine.Request{Code: "first", Language: policy.LangLua}, 0)
	<-eng.started

	// Queue low priority before high; high must be admitted first, and the
	// two equal-priority entries must keep FIFO order.
	go c.Submit(context.Background(), &engine.Request{Code: "low-1", Language: policy.LangLua}, 1)
	waitFor(t, func() bool { return c.QueueLength() == 1 })
	go c.Submit(context.Background(), &engine.Request{Code: "low-2", Language: policy.LangLua}, 1)
	waitFor(t, func() bool { return c.QueueLength() == 2 })
	go c.Submit(context.Background(), &engine.Request{Code: "high", Language: policy.LangLua}, 9)
	waitFor(t, func() bool { return c.QueueLength() == 3 })

	next := c.NextInLine()
	if next == nil || next.Priority != 9 {
		t.Fatalf("next in line = %+v, want the high-priority entry", next)
	}

	close(eng.release)
	want := []string{"high", "low-1", "low-2"}
	for _, expected := range want {
		select {
		case code := <-eng.started:
			if code != expected {
				t.Fatalf("admission order: got %q, want %q", code, expected)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("queued execution %q never started", expected)
		}
	}
}

func TestCancelRunning(t *testing.T) {
	eng := newBlockingEngine()

	var cancelled []string
	var mu sync.Mutex
	c := New(testPolicies(2, 5*time.Second), &fakeResolver{eng: eng}, Options{
		OnCancel: func(id string, lang policy.Language) {
			mu.Lock()
			cancelled = append(cancelled, id)
			mu.Unlock()
		},
	})
	defer c.Close()

	type submitResult struct {
		id  string
		out normalize.Outcome
	}
	results := make(chan submitResult, 1)
	go func() {
		id, out := c.Submit(context.Background(), &engine.Request{Code: "victim", Language: policy.LangLua}, 0)
		results <- submitResult{id, out}
	}()
	<-eng.started

	var target string
	waitFor(t, func() bool {
		infos := c.Executions()
		if len(infos) == 1 {
			target = infos[0].ID
			return true
		}
		return false
	})

	if !c.Cancel(target) {
		t.Fatal("Cancel returned false for a running execution")
	}

	res := <-results
	if res.out.Result.Success {
		t.Error("cancelled execution reported success")
	}
	if !strings.Contains(res.out.Result.Error, "cancelled") {
		t.Errorf("error = %q", res.out.Result.Error)
	}
	if res.out.Retryable {
		t.Error("cancellations are not auto-retryable")
	}
	if c.ActiveCount("") != 0 {
		t.Errorf("active count = %d after cancel", c.ActiveCount(""))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(cancelled) != 1 || cancelled[0] != res.id {
		t.Errorf("cancel callback ids = %v, want [%s]", cancelled, res.id)
	}
}

func TestCancelQueued(t *testing.T) {
	eng := newBlockingEngine()
	c := New(testPolicies(1, 5*time.Second), &fakeResolver{eng: eng}, Options{
		DispatchInterval: time.Hour,
	})
	defer c.Close()

	go c.Submit(context.Background(), &engine.Request{Code: "runner", Language: policy.LangLua}, 0)
	<-eng.started

	outcomes := make(chan normalize.Outcome, 1)
	go func() {
		_, out := c.Submit(context.Background(), &engine.Request{Code: "waiter", Language: policy.LangLua}, 0)
		outcomes <- out
	}()
	waitFor(t, func() bool { return c.QueueLength() == 1 })

	queued := c.NextInLine()
	if queued == nil || queued.Status != StatusQueued {
		t.Fatalf("next in line = %+v", queued)
	}
	if !c.Cancel(queued.ID) {
		t.Fatal("Cancel returned false for a queued execution")
	}

	out := <-outcomes
	if out.Result.Success || !strings.Contains(out.Result.Error, "cancelled") {
		t.Errorf("outcome = %+v", out)
	}
	if c.QueueLength() != 0 {
		t.Errorf("queue length = %d after cancelling the only waiter", c.QueueLength())
	}

	close(eng.release)
}

func TestCancelUnknownID(t *testing.T) {
	c := New(testPolicies(1, time.Second), &fakeResolver{eng: newBlockingEngine()}, Options{})
	defer c.Close()

	if c.Cancel("no-such-id") {
		t.Error("Cancel returned true for an unknown id")
	}
}

func TestSubmitUnsupportedLanguage(t *testing.T) {
	c := New(testPolicies(1, time.Second), &fakeResolver{eng: newBlockingEngine()}, Options{})
	defer c.Close()

	_, out := c.Submit(context.Background(), &engine.Request{Code: "x", Language: "cobol"}, 0)
	if out.Class != normalize.ClassUnsupported {
		t.Errorf("class = %q, want unsupported", out.Class)
	}
}

func TestCallerTimeoutCannotExtendPolicy(t *testing.T) {
	c := New(testPolicies(1, 100*time.Millisecond), &fakeResolver{eng: newBlockingEngine()}, Options{})
	defer c.Close()

	start := time.Now()
	_, out := c.Submit(context.Background(), &engine.Request{
		Code:     "x",
		Language: policy.LangLua,
		Options:  engine.Options{Timeout: time.Hour},
	}, 0)
	if out.Class != normalize.ClassTimeout {
		t.Fatalf("class = %q", out.Class)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("policy ceiling not enforced, elapsed %s", elapsed)
	}
}

func TestMemoryUsageSampling(t *testing.T) {
	c := New(testPolicies(1, time.Second), &fakeResolver{eng: newBlockingEngine()}, Options{})
	defer c.Close()

	m := c.MemoryUsage()
	if m["heap_alloc_bytes"] == 0 {
		t.Error("heap_alloc_bytes = 0")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
