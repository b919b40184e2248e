package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeBackend struct {
	mu          sync.Mutex
	submitErr   error
	receipt     task.SubmitReceipt
	prober      task.StatusProber
	submitCalls int
}

func (b *fakeBackend) SubmitTask(_ context.Context, _ task.Kind, _ map[string]any) (task.SubmitReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitCalls++
	if b.submitErr != nil {
		return task.SubmitReceipt{}, b.submitErr
	}
	return b.receipt, nil
}

func (b *fakeBackend) ProberFor(task.Kind) task.StatusProber {
	return b.prober
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]task.ResultSnapshot
	stores  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]task.ResultSnapshot)}
}

func (c *fakeCache) Lookup(_ context.Context, key string) (*task.ResultSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	out := snap.Clone()
	return &out, nil
}

func (c *fakeCache) Store(_ context.Context, key string, snap task.ResultSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = snap.Clone()
	c.stores++
	return nil
}

type captureBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *captureBus) Subscribe(shared.EventType, shared.EventHandler) error { return nil }
func (b *captureBus) SubscribeAll(shared.EventHandler) error                { return nil }
func (b *captureBus) Close() error                                          { return nil }

func (b *captureBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) ofType(t shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []shared.Event
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeJournal struct {
	mu        sync.Mutex
	attempts  []task.PollAttempt
	terminals []task.ResultSnapshot
}

func (j *fakeJournal) RecordAttempt(_ context.Context, _ task.Handle, a task.PollAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return nil
}

func (j *fakeJournal) RecordTerminal(_ context.Context, _ task.Handle, s task.ResultSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.terminals = append(j.terminals, s)
	return nil
}

func allNormalizers() map[task.Kind]task.Normalizer {
	out := make(map[task.Kind]task.Normalizer, len(task.Kinds()))
	for _, k := range task.Kinds() {
		out[k] = passthroughNormalizer
	}
	return out
}

func newTestService(t *testing.T, cfg ServiceConfig) *Service {
	t.Helper()
	if cfg.Normalizers == nil {
		cfg.Normalizers = allNormalizers()
	}
	if cfg.Poller.IntervalBase == 0 {
		cfg.Poller = fastOptions()
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	return svc
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestService_PollsToCompletion(t *testing.T) {
	backend := &fakeBackend{
		receipt: task.SubmitReceipt{TaskID: "task-1"},
		prober: &sequenceProber{script: []scriptStep{
			{resp: task.ProbeResponse{Status: "running"}},
			{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"answer": "done"}}},
		}},
	}
	bus := &captureBus{}
	journal := &fakeJournal{}
	svc := newTestService(t, ServiceConfig{Backend: backend, Bus: bus, Journal: journal})

	var terminal task.ResultSnapshot
	var terminalCalls int32
	var mu sync.Mutex

	sub, err := svc.Submit(context.Background(), SubmitRequest{Kind: task.KindLearningQuery}, Callbacks{
		OnTerminal: func(snap task.ResultSnapshot) {
			atomic.AddInt32(&terminalCalls, 1)
			mu.Lock()
			terminal = snap
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NotNil(t, sub.Token)
	assert.Nil(t, sub.Snapshot)
	assert.Equal(t, "task-1", sub.Handle.ID)

	select {
	case <-sub.Token.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), atomic.LoadInt32(&terminalCalls))
	assert.Equal(t, task.StatusCompleted, terminal.Status)

	assert.Len(t, bus.ofType(shared.EventTaskSubmitted), 1)
	assert.Len(t, bus.ofType(shared.EventTaskCompleted), 1)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	assert.Len(t, journal.attempts, 2)
	require.Len(t, journal.terminals, 1)
	assert.Equal(t, task.StatusCompleted, journal.terminals[0].Status)
}

func TestService_ImmediateResultSkipsPolling(t *testing.T) {
	backend := &fakeBackend{
		receipt: task.SubmitReceipt{
			Immediate: &task.ProbeResponse{
				Status: "completed",
				Data:   map[string]any{"summary": "instant"},
			},
		},
		prober: &sequenceProber{script: []scriptStep{{resp: task.ProbeResponse{Status: "running"}}}},
	}
	svc := newTestService(t, ServiceConfig{Backend: backend})

	var terminalCalls int32
	sub, err := svc.Submit(context.Background(), SubmitRequest{Kind: task.KindFinancialSimulation}, Callbacks{
		OnTerminal: func(task.ResultSnapshot) { atomic.AddInt32(&terminalCalls, 1) },
	})
	require.NoError(t, err)

	assert.Nil(t, sub.Token, "no polling for an immediate answer")
	require.NotNil(t, sub.Snapshot)
	assert.Equal(t, task.StatusCompleted, sub.Snapshot.Status)
	assert.Equal(t, "instant", sub.Snapshot.Payload["summary"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&terminalCalls))
	assert.NotEmpty(t, sub.Handle.ID, "a local handle is minted when the backend assigns none")
}

func TestService_OfflineSubmitServesCachedResult(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{{resp: task.ProbeResponse{Status: "running"}}}}
	backend := &fakeBackend{submitErr: shared.ErrOffline, prober: prober}

	cache := newFakeCache()
	cache.entries["lesson:algebra"] = task.ResultSnapshot{
		Status:            task.StatusCompleted,
		Payload:           map[string]any{"title": "Algebra basics"},
		CompletenessScore: 1,
		LastUpdated:       time.Now().Add(-time.Hour),
	}
	bus := &captureBus{}
	svc := newTestService(t, ServiceConfig{Backend: backend, Cache: cache, Bus: bus})

	var terminal task.ResultSnapshot
	var mu sync.Mutex
	sub, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:     task.KindLesson,
		CacheKey: "lesson:algebra",
	}, Callbacks{
		OnTerminal: func(snap task.ResultSnapshot) {
			mu.Lock()
			terminal = snap
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.True(t, sub.FromCache)
	assert.Nil(t, sub.Token)
	require.NotNil(t, sub.Snapshot)
	assert.Equal(t, "Algebra basics", sub.Snapshot.Payload["title"])
	assert.Equal(t, 0, prober.callCount(), "serving from cache issues no probes")
	assert.Len(t, bus.ofType(shared.EventTaskCacheFallback), 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, task.StatusCompleted, terminal.Status)
}

func TestService_OfflineSubmitWithoutCacheFails(t *testing.T) {
	backend := &fakeBackend{submitErr: shared.ErrOffline}
	svc := newTestService(t, ServiceConfig{Backend: backend, Cache: newFakeCache()})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:     task.KindLesson,
		CacheKey: "lesson:geometry",
	}, Callbacks{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrExternalService)
}

func TestService_CompletedResultIsCached(t *testing.T) {
	backend := &fakeBackend{
		receipt: task.SubmitReceipt{TaskID: "task-2"},
		prober: &sequenceProber{script: []scriptStep{
			{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"title": "Fractions"}}},
		}},
	}
	cache := newFakeCache()
	svc := newTestService(t, ServiceConfig{Backend: backend, Cache: cache})

	sub, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:     task.KindLesson,
		CacheKey: "lesson:fractions",
	}, Callbacks{})
	require.NoError(t, err)

	select {
	case <-sub.Token.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not finish")
	}

	cached, err := cache.Lookup(context.Background(), "lesson:fractions")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Fractions", cached.Payload["title"])
}

func TestService_FailedResultIsNotCached(t *testing.T) {
	backend := &fakeBackend{
		receipt: task.SubmitReceipt{TaskID: "task-3"},
		prober: &sequenceProber{script: []scriptStep{
			{resp: task.ProbeResponse{Status: "failed", Error: "model refused"}},
		}},
	}
	cache := newFakeCache()
	bus := &captureBus{}
	svc := newTestService(t, ServiceConfig{Backend: backend, Cache: cache, Bus: bus})

	var terminal task.ResultSnapshot
	var mu sync.Mutex
	sub, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:     task.KindLearningQuery,
		CacheKey: "query:q1",
	}, Callbacks{
		OnTerminal: func(snap task.ResultSnapshot) {
			mu.Lock()
			terminal = snap
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	select {
	case <-sub.Token.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not finish")
	}

	mu.Lock()
	assert.Equal(t, task.StatusFailed, terminal.Status)
	assert.Equal(t, "model refused", terminal.ErrorMessage)
	mu.Unlock()

	cached, err := cache.Lookup(context.Background(), "query:q1")
	require.NoError(t, err)
	assert.Nil(t, cached, "only Completed snapshots are cached")
	assert.Len(t, bus.ofType(shared.EventTaskFailed), 1)
}

func TestService_MidPollOfflineFallsBackToCache(t *testing.T) {
	prober := &sequenceProber{script: []scriptStep{
		{resp: task.ProbeResponse{Status: "running"}},
		{err: shared.ErrOffline},
	}}
	backend := &fakeBackend{receipt: task.SubmitReceipt{TaskID: "task-4"}, prober: prober}

	cache := newFakeCache()
	cache.entries["sim:retirement"] = task.ResultSnapshot{
		Status:            task.StatusCompleted,
		Payload:           map[string]any{"projections": "cached"},
		CompletenessScore: 1,
		LastUpdated:       time.Now(),
	}
	bus := &captureBus{}
	svc := newTestService(t, ServiceConfig{Backend: backend, Cache: cache, Bus: bus})

	var terminal task.ResultSnapshot
	var mu sync.Mutex
	sub, err := svc.Submit(context.Background(), SubmitRequest{
		Kind:     task.KindFinancialSimulation,
		CacheKey: "sim:retirement",
	}, Callbacks{
		OnTerminal: func(snap task.ResultSnapshot) {
			mu.Lock()
			terminal = snap
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	select {
	case <-sub.Token.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, task.StatusCompleted, terminal.Status)
	assert.Equal(t, "cached", terminal.Payload["projections"])
	assert.Len(t, bus.ofType(shared.EventTaskCacheFallback), 1)
}

func TestService_TerminalNotificationIsDeduplicated(t *testing.T) {
	backend := &fakeBackend{
		receipt: task.SubmitReceipt{TaskID: "task-5"},
		prober: &sequenceProber{script: []scriptStep{
			{resp: task.ProbeResponse{Status: "partially_ready", Data: map[string]any{"outline": "ch1"}}},
			{resp: task.ProbeResponse{Status: "partially_ready", Data: map[string]any{"outline": "ch1", "title": "T"}}},
			{resp: task.ProbeResponse{Status: "completed", Data: map[string]any{"quiz": "q"}}},
		}},
	}
	bus := &captureBus{}
	svc := newTestService(t, ServiceConfig{Backend: backend, Bus: bus})

	sub, err := svc.Submit(context.Background(), SubmitRequest{Kind: task.KindLesson}, Callbacks{})
	require.NoError(t, err)

	select {
	case <-sub.Token.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not finish")
	}

	assert.Len(t, bus.ofType(shared.EventTaskPartial), 1, "partial notification fires once despite repeated partial states")
	assert.Len(t, bus.ofType(shared.EventTaskCompleted), 1)
}

func TestService_RejectsUnknownKind(t *testing.T) {
	backend := &fakeBackend{receipt: task.SubmitReceipt{TaskID: "x"}}
	svc := newTestService(t, ServiceConfig{Backend: backend})

	_, err := svc.Submit(context.Background(), SubmitRequest{Kind: "essay"}, Callbacks{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestNewService_RequiresBackend(t *testing.T) {
	_, err := NewService(ServiceConfig{Normalizers: allNormalizers()})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = NewService(ServiceConfig{Backend: &fakeBackend{}})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
