// Package controller orchestrates executions: admission against per-language
// concurrency ceilings, a priority queue for the overflow, timeout and
// cancellation enforcement, and late-result discarding. It is the single
// source of truth for whether an execution is still allowed to run.
package controller

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"polyglot-sandbox/internal/engine"
	"polyglot-sandbox/internal/normalize"
	"polyglot-sandbox/internal/policy"
)

// Status of one execution. Entries leave the active set exactly when they
// reach a terminal status.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusError     Status = "error"
)

func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusTimeout, StatusError:
		return true
	}
	return false
}

// execution is the controller-owned record for one admitted request.
type execution struct {
	id       string
	req      *engine.Request
	priority int
	seq      uint64

	startTime time.Time
	timeout   time.Duration
	status    Status

	cancelRun context.CancelFunc     // set once running
	done      chan normalize.Outcome // buffered, receives exactly one outcome
}

// Info is the introspection view of one execution.
type Info struct {
	ID        string          `json:"id"`
	Language  policy.Language `json:"language"`
	SessionID string          `json:"session_id,omitempty"`
	Status    Status          `json:"status"`
	Priority  int             `json:"priority"`
	StartTime time.Time       `json:"start_time,omitempty"`
	Elapsed   time.Duration   `json:"elapsed,omitempty"`
}

// Options tune controller behavior.
type Options struct {
	// DispatchInterval is how often the background dispatcher sweeps the
	// queue, as a safety net behind completion-driven promotion.
	DispatchInterval time.Duration

	OnTimeout func(id string, lang policy.Language)
	OnCancel  func(id string, lang policy.Language)
}

// EngineResolver maps a language onto its engine. Satisfied by
// engine.Registry.
type EngineResolver interface {
	Get(lang policy.Language) (engine.Engine, error)
}

// Controller admits, runs, times out, and cancels executions.
type Controller struct {
	policies *policy.Store
	engines  EngineResolver
	opts     Options

	mu     sync.Mutex
	active map[string]*execution
	queued map[string]*execution
	counts map[policy.Language]int
	queue  *admissionQueue
	seq    uint64
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(policies *policy.Store, engines EngineResolver, opts Options) *Controller {
	if opts.DispatchInterval <= 0 {
		opts.DispatchInterval = 50 * time.Millisecond
	}
	c := &Controller{
		policies: policies,
		engines:  engines,
		opts:     opts,
		active:   make(map[string]*execution),
		queued:   make(map[string]*execution),
		counts:   make(map[policy.Language]int),
		queue:    newAdmissionQueue(),
		stop:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.dispatchLoop()
	return c
}

// Submit admits a request and blocks until it reaches a terminal status,
// returning the normalized outcome. When the language is at its concurrency
// ceiling the request waits in the priority queue instead of being rejected.
// Cancelling ctx while queued or running cancels the execution.
func (c *Controller) Submit(ctx context.Context, req *engine.Request, priority int) (string, normalize.Outcome) {
	id := uuid.New().String()

	if _, err := c.engines.Get(req.Language); err != nil {
		return id, normalize.Unsupported(string(req.Language))
	}

	e := &execution{
		id:       id,
		req:      req,
		priority: priority,
		status:   StatusQueued,
		timeout:  c.timeoutFor(req),
		done:     make(chan normalize.Outcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return id, normalize.Cancelled(0)
	}
	c.seq++
	e.seq = c.seq
	if c.counts[req.Language] < c.limitFor(req.Language) {
		c.startLocked(e)
	} else {
		c.queue.Push(e)
		c.queued[id] = e
		log.Debug().Str("exec_id", id).Str("language", string(req.Language)).
			Int("queue_len", c.queue.Len()).Msg("execution queued")
	}
	c.mu.Unlock()

	select {
	case out := <-e.done:
		return id, out
	case <-ctx.Done():
		c.Cancel(id)
		return id, <-e.done
	}
}

// Cancel aborts an execution by ID, whether queued or running. Returns false
// if the ID is unknown or already terminal. Cancellation is advisory to the
// engine but authoritative here: a late engine result is discarded.
func (c *Controller) Cancel(id string) bool {
	c.mu.Lock()

	if e, ok := c.queued[id]; ok {
		c.queue.Remove(id)
		delete(c.queued, id)
		e.status = StatusCancelled
		c.mu.Unlock()

		e.done <- normalize.Cancelled(0)
		if c.opts.OnCancel != nil {
			c.opts.OnCancel(id, e.req.Language)
		}
		return true
	}

	e, ok := c.active[id]
	if !ok || e.status.terminal() {
		c.mu.Unlock()
		return false
	}
	cancel := e.cancelRun
	c.mu.Unlock()

	// The run goroutine observes the cancellation and finalizes the entry.
	cancel()
	return true
}

// startLocked moves an entry into the active set and launches its run
// goroutine. Caller holds c.mu.
func (c *Controller) startLocked(e *execution) {
	e.status = StatusRunning
	e.startTime = time.Now()
	c.active[e.id] = e
	c.counts[e.req.Language]++

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancelRun = cancel

	c.wg.Add(1)
	go c.run(runCtx, e)
}

// run executes the entry under its deadline, races the engine against the
// timer and explicit cancellation, and finalizes exactly once.
func (c *Controller) run(ctx context.Context, e *execution) {
	defer c.wg.Done()

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	eng, err := c.engines.Get(e.req.Language)
	if err != nil {
		c.finish(e, StatusError, normalize.Unsupported(string(e.req.Language)))
		return
	}

	results := make(chan *engine.Result, 1)
	go func() {
		results <- eng.Execute(execCtx, e.req)
	}()

	select {
	case res := <-results:
		// The engine may have returned because the deadline fired inside
		// it; classify that as a controller timeout, not a completion.
		if execCtx.Err() == context.DeadlineExceeded {
			c.timeoutEntry(e)
			return
		}
		if ctx.Err() == context.Canceled {
			c.cancelEntry(e)
			return
		}
		out := normalize.FromEngine(res)
		status := StatusCompleted
		if !res.Success {
			status = StatusError
		}
		c.finish(e, status, out)

	case <-execCtx.Done():
		if ctx.Err() == context.Canceled {
			c.cancelEntry(e)
			return
		}
		c.timeoutEntry(e)
	}
}

func (c *Controller) timeoutEntry(e *execution) {
	elapsed := time.Since(e.startTime)
	log.Warn().Str("exec_id", e.id).Str("language", string(e.req.Language)).
		Dur("elapsed", elapsed).Msg("execution timed out")

	c.finish(e, StatusTimeout, normalize.Timeout(elapsed, e.timeout))
	if c.opts.OnTimeout != nil {
		c.opts.OnTimeout(e.id, e.req.Language)
	}
}

func (c *Controller) cancelEntry(e *execution) {
	c.finish(e, StatusCancelled, normalize.Cancelled(time.Since(e.startTime)))
	if c.opts.OnCancel != nil {
		c.opts.OnCancel(e.id, e.req.Language)
	}
}

// finish removes the entry from the active set, promotes queued work into the
// freed slot, and delivers the outcome.
func (c *Controller) finish(e *execution, status Status, out normalize.Outcome) {
	c.mu.Lock()
	if e.status.terminal() {
		// Already finalized; a late result loses the race and is dropped.
		c.mu.Unlock()
		return
	}
	e.status = status
	delete(c.active, e.id)
	c.counts[e.req.Language]--
	c.promoteLocked()
	c.mu.Unlock()

	e.done <- out
}

// promoteLocked starts queued entries while capacity allows. Entries whose
// language is still at capacity are set aside and re-queued, preserving their
// priority and sequence. Caller holds c.mu.
func (c *Controller) promoteLocked() {
	var blocked []*execution
	for {
		next := c.queue.Pop()
		if next == nil {
			break
		}
		if c.counts[next.req.Language] < c.limitFor(next.req.Language) {
			delete(c.queued, next.id)
			c.startLocked(next)
			continue
		}
		blocked = append(blocked, next)
	}
	for _, e := range blocked {
		c.queue.Push(e)
	}
}

func (c *Controller) dispatchLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.promoteLocked()
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops admitting work, cancels everything queued and running, and
// waits for in-flight goroutines to drain.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)

	var queued []*execution
	for {
		e := c.queue.Pop()
		if e == nil {
			break
		}
		delete(c.queued, e.id)
		e.status = StatusCancelled
		queued = append(queued, e)
	}
	var running []context.CancelFunc
	for _, e := range c.active {
		if e.cancelRun != nil {
			running = append(running, e.cancelRun)
		}
	}
	c.mu.Unlock()

	for _, e := range queued {
		e.done <- normalize.Cancelled(0)
	}
	for _, cancel := range running {
		cancel()
	}
	c.wg.Wait()
}

// ActiveCount returns the number of running executions, overall or for one
// language when given.
func (c *Controller) ActiveCount(lang policy.Language) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lang != "" {
		return c.counts[lang]
	}
	return len(c.active)
}

// QueueLength returns the number of executions waiting for admission.
func (c *Controller) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// NextInLine returns the queued execution that will be admitted next, or nil.
func (c *Controller) NextInLine() *Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.queue.Peek()
	if e == nil {
		return nil
	}
	info := infoOf(e)
	return &info
}

// Executions lists every non-terminal execution, running first.
func (c *Controller) Executions() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]Info, 0, len(c.active)+c.queue.Len())
	for _, e := range c.active {
		infos = append(infos, infoOf(e))
	}
	for _, e := range c.queued {
		infos = append(infos, infoOf(e))
	}
	return infos
}

// Lookup returns the introspection view for one non-terminal execution.
func (c *Controller) Lookup(id string) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.active[id]; ok {
		return infoOf(e), true
	}
	if e, ok := c.queued[id]; ok {
		return infoOf(e), true
	}
	return Info{}, false
}

// MemoryUsage samples best-effort process memory statistics.
func (c *Controller) MemoryUsage() map[string]uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]uint64{
		"heap_alloc_bytes": m.HeapAlloc,
		"heap_sys_bytes":   m.HeapSys,
		"num_gc":           uint64(m.NumGC),
	}
}

func (c *Controller) limitFor(lang policy.Language) int {
	limit := c.policies.Get(lang).MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	return limit
}

// timeoutFor resolves the effective deadline: the caller may shorten the
// policy ceiling but never extend it.
func (c *Controller) timeoutFor(req *engine.Request) time.Duration {
	max := c.policies.Get(req.Language).MaxExecutionTime
	if req.Options.Timeout > 0 && req.Options.Timeout < max {
		return req.Options.Timeout
	}
	return max
}

func infoOf(e *execution) Info {
	info := Info{
		ID:        e.id,
		Language:  e.req.Language,
		SessionID: e.req.SessionID,
		Status:    e.status,
		Priority:  e.priority,
	}
	if e.status == StatusRunning {
		info.StartTime = e.startTime
		info.Elapsed = time.Since(e.startTime)
	}
	return info
}
