package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
	"github.com/mindleap/mindleap-task-hub/pkg/backoff"
)

// sequenceProber replays a fixed sequence of responses; the index advances
// monotonically and clamps to the final step.
type sequenceProber struct {
	mu     sync.Mutex
	script []scriptStep
	calls  int
}

type scriptStep struct {
	resp task.ProbeResponse
	err  error
}

func (p *sequenceProber) PollStatus(context.Context, string) (task.ProbeResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	return p.script[i].resp, p.script[i].err
}

func (p *sequenceProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func passthroughNormalizer(resp task.ProbeResponse) (task.NormalizedResult, error) {
	status := task.Status(resp.Status)
	score := 0.0
	if status == task.StatusCompleted {
		score = 1.0
	}
	if status == task.StatusPartiallyReady {
		score = 0.5
	}
	return task.NormalizedResult{
		Status:            status,
		CompletenessScore: score,
		Payload:           resp.Data,
		ErrorMessage:      resp.Error,
	}, nil
}

func fastOptions() Options {
	return Options{
		IntervalBase: time.Millisecond,
		Policy: backoff.New(
			backoff.WithSuccessBase(time.Millisecond),
			backoff.WithFailureBase(time.Millisecond),
			backoff.WithFailureMultiplier(1.0),
			backoff.WithCap(2*time.Millisecond),
		),
	}
}

func testHandle(t *testing.T) task.Handle {
	t.Helper()
	h, err := task.NewHandle("task-123", task.KindLesson)
	require.NoError(t, err)
	return h
}

func waitDone(t *testing.T, tok *CancelToken) {
	t.Helper()
	select {
	case <-tok.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish in time")
	}
}

func TestPoller_PendingThenCompleted(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "queued"}},
		{resp: task.ProbeResponse{Status: "queued"}},
		{resp: task.ProbeResponse{Status: "queued"}},
		{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"answer": "42"}}},
	}}

	var terminalCalls int32
	var terminal task.ResultSnapshot
	var mu sync.Mutex

	opts := fastOptions()
	opts.OnTerminal = func(snap task.ResultSnapshot) {
		atomic.AddInt32(&terminalCalls, 1)
		mu.Lock()
		terminal = snap
		mu.Unlock()
	}

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	waitDone(t, tok)

	assert.Equal(t, int32(1), atomic.LoadInt32(&terminalCalls), "terminal callback must fire exactly once")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, task.StatusCompleted, terminal.Status)
	assert.Equal(t, "42", terminal.Payload["answer"])
	assert.Equal(t, 4, prober.callCount())
}

func TestPoller_TransientFailureBudgetReportsTimedOut(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{err: errors.New("connection reset")},
	}}

	var terminal task.ResultSnapshot
	var terminalCalls int32
	var mu sync.Mutex

	opts := fastOptions()
	opts.MaxAttempts = 5
	opts.OnTerminal = func(snap task.ResultSnapshot) {
		atomic.AddInt32(&terminalCalls, 1)
		mu.Lock()
		terminal = snap
		mu.Unlock()
	}

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	waitDone(t, tok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), atomic.LoadInt32(&terminalCalls))
	assert.Equal(t, task.StatusTimedOut, terminal.Status, "budget exhaustion is TimedOut, not Failed")
	assert.Equal(t, 6, prober.callCount(), "budget of 5 allows 6 probes before giving up")
}

func TestPoller_TransientFailuresAreAbsorbed(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"title": "Algebra"}}},
	}}

	var updates int32
	var terminal task.ResultSnapshot
	var mu sync.Mutex

	opts := fastOptions()
	opts.MaxAttempts = 10
	opts.OnUpdate = func(task.ResultSnapshot) { atomic.AddInt32(&updates, 1) }
	opts.OnTerminal = func(snap task.ResultSnapshot) {
		mu.Lock()
		terminal = snap
		mu.Unlock()
	}

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	waitDone(t, tok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, task.StatusCompleted, terminal.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&updates), "transport errors never surface as updates")
}

func TestPoller_CancelBeforeFirstProbe(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "running"}},
	}}

	opts := fastOptions()
	opts.IntervalBase = 200 * time.Millisecond

	var terminalCalls int32
	opts.OnTerminal = func(task.ResultSnapshot) { atomic.AddInt32(&terminalCalls, 1) }

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	tok.Cancel()
	waitDone(t, tok)

	assert.Equal(t, 0, prober.callCount(), "cancel before the first scheduled probe issues zero probes")
	assert.Equal(t, int32(0), atomic.LoadInt32(&terminalCalls), "cancellation produces no terminal callback")
}

func TestPoller_CancelIsIdempotent(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "running"}},
	}}

	opts := fastOptions()
	opts.IntervalBase = 100 * time.Millisecond

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	tok.Cancel()
	tok.Cancel()
	tok.Cancel()
	waitDone(t, tok)

	assert.True(t, tok.Cancelled())
}

func TestPoller_IndependentHandles(t *testing.T) {
	slow := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "running"}},
	}}
	fast := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"summary": "done"}}},
	}}

	var fastTerminal int32
	slowOpts := fastOptions()
	fastOpts := fastOptions()
	fastOpts.OnTerminal = func(task.ResultSnapshot) { atomic.AddInt32(&fastTerminal, 1) }

	hSlow, err := task.NewHandle("task-slow", task.KindLesson)
	require.NoError(t, err)
	hFast, err := task.NewHandle("task-fast", task.KindFinancialSimulation)
	require.NoError(t, err)

	p := NewPoller(nil)
	slowTok := p.Start(context.Background(), hSlow, slow, passthroughNormalizer, slowOpts)
	fastTok := p.Start(context.Background(), hFast, fast, passthroughNormalizer, fastOpts)

	// Killing one run must not touch the other.
	slowTok.Cancel()
	waitDone(t, slowTok)
	waitDone(t, fastTok)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fastTerminal))
}

func TestPoller_MaxElapsedProducesTimedOut(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "partially_ready", Data: map[string]any{"outline": "ch1"}}},
	}}

	var terminal task.ResultSnapshot
	var mu sync.Mutex

	opts := fastOptions()
	opts.MaxElapsed = 50 * time.Millisecond
	opts.OnTerminal = func(snap task.ResultSnapshot) {
		mu.Lock()
		terminal = snap
		mu.Unlock()
	}

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	waitDone(t, tok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, task.StatusTimedOut, terminal.Status)
	assert.Equal(t, "ch1", terminal.Payload["outline"], "partial payload survives the timeout")
}

func TestPoller_ContextCancellationStopsRun(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "running"}},
	}}

	ctx, cancel := context.WithCancel(context.Background())

	var terminalCalls int32
	opts := fastOptions()
	opts.OnTerminal = func(task.ResultSnapshot) { atomic.AddInt32(&terminalCalls, 1) }

	p := NewPoller(nil)
	tok := p.Start(ctx, testHandle(t), prober, passthroughNormalizer, opts)
	cancel()
	waitDone(t, tok)

	assert.Equal(t, int32(0), atomic.LoadInt32(&terminalCalls))
}

func TestPoller_PartialUpdatesReachCallback(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "partially_ready", Data: map[string]any{"title": "Fractions"}}},
		{resp: task.ProbeResponse{Status: "partially_ready", Data: map[string]any{"outline": "intro"}}},
		{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"quiz": "q1"}}},
	}}

	var mu sync.Mutex
	var updates []task.ResultSnapshot
	var terminal task.ResultSnapshot

	opts := fastOptions()
	opts.OnUpdate = func(snap task.ResultSnapshot) {
		mu.Lock()
		updates = append(updates, snap)
		mu.Unlock()
	}
	opts.OnTerminal = func(snap task.ResultSnapshot) {
		mu.Lock()
		terminal = snap
		mu.Unlock()
	}

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	waitDone(t, tok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 2)
	assert.Equal(t, task.StatusPartiallyReady, updates[0].Status)
	assert.Equal(t, "Fractions", updates[1].Payload["title"], "earlier fields survive later merges")
	assert.Equal(t, "intro", updates[1].Payload["outline"])
	assert.Equal(t, task.StatusCompleted, terminal.Status)
	assert.Equal(t, "Fractions", terminal.Payload["title"])
	assert.Equal(t, "q1", terminal.Payload["quiz"])
}

func TestPoller_AttemptsAreRecorded(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{err: errors.New("dns failure")},
		{resp: task.ProbeResponse{Status: "running"}},
		{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"answer": "ok"}}},
	}}

	var mu sync.Mutex
	var attempts []task.PollAttempt

	opts := fastOptions()
	opts.OnAttempt = func(a task.PollAttempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	p := NewPoller(nil)
	tok := p.Start(context.Background(), testHandle(t), prober, passthroughNormalizer, opts)
	waitDone(t, tok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 3)
	assert.Equal(t, task.OutcomeTransportError, attempts[0].Outcome)
	assert.Equal(t, task.OutcomePending, attempts[1].Outcome)
	assert.Equal(t, task.OutcomeCompleted, attempts[2].Outcome)
	assert.Equal(t, []int{1, 2, 3}, []int{attempts[0].AttemptNumber, attempts[1].AttemptNumber, attempts[2].AttemptNumber})
}
