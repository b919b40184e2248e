package polling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mindleap/mindleap-task-hub/internal/domain/notification"
	"github.com/mindleap/mindleap-task-hub/internal/domain/shared"
	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Backend is the collaborator that owns the transport: it submits jobs and
// hands out per-kind status probers.
type Backend interface {
	task.Submitter
	ProberFor(kind task.Kind) task.StatusProber
}

// Journal persists poll attempts and terminal snapshots for diagnostics.
type Journal interface {
	RecordAttempt(ctx context.Context, handle task.Handle, attempt task.PollAttempt) error
	RecordTerminal(ctx context.Context, handle task.Handle, snapshot task.ResultSnapshot) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// ServiceConfig wires the Service's collaborators. Backend and Normalizers
// are required; everything else is optional.
type ServiceConfig struct {
	Backend     Backend
	Normalizers map[task.Kind]task.Normalizer

	// Cache is the local fallback for Completed results. Optional.
	Cache task.ResultCache

	// Dedupe suppresses repeat notifications. Defaults to a fresh in-memory
	// deduplicator.
	Dedupe *notification.Deduplicator

	// Bus receives task lifecycle events. Optional.
	Bus shared.EventBus

	// Journal records attempts and terminal snapshots. Optional.
	Journal Journal

	// Poller defaults applied to every run; per-call callbacks are layered
	// on top.
	Poller Options

	Logger *slog.Logger
}

// Callbacks are the consumer-side observers for one submission.
type Callbacks struct {
	OnUpdate   func(task.ResultSnapshot)
	OnTerminal func(task.ResultSnapshot)
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	Kind    task.Kind
	Payload map[string]any

	// CacheKey is the caller-supplied logical key (e.g. subject+topic) under
	// which a Completed result is cached and looked up when offline. Empty
	// disables caching for this submission.
	CacheKey string
}

// Submission is the outcome of Submit. Exactly one of Token and Snapshot is
// set: Token when polling started, Snapshot when the result was terminal at
// submission time (immediate backend answer or cache fallback).
type Submission struct {
	Handle    task.Handle
	Token     *CancelToken
	Snapshot  *task.ResultSnapshot
	FromCache bool
}

// Service submits jobs and polls them to completion, absorbing transient
// errors, serving cached results when offline, deduplicating notifications,
// and publishing lifecycle events. Consumers only ever see terminal outcomes
// and update callbacks, never raw transport errors.
type Service struct {
	backend     Backend
	normalizers map[task.Kind]task.Normalizer
	cache       task.ResultCache
	dedupe      *notification.Deduplicator
	bus         shared.EventBus
	journal     Journal
	poller      *Poller
	opts        Options
	logger      *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, shared.NewDomainError("polling", "NewService", shared.ErrInvalidInput, "backend is required")
	}
	if len(cfg.Normalizers) == 0 {
		return nil, shared.NewDomainError("polling", "NewService", shared.ErrInvalidInput, "at least one normalizer is required")
	}
	if cfg.Dedupe == nil {
		cfg.Dedupe = notification.NewDeduplicator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Service{
		backend:     cfg.Backend,
		normalizers: cfg.Normalizers,
		cache:       cfg.Cache,
		dedupe:      cfg.Dedupe,
		bus:         cfg.Bus,
		journal:     cfg.Journal,
		poller:      NewPoller(cfg.Logger),
		opts:        cfg.Poller,
		logger:      cfg.Logger,
	}, nil
}

// Submit sends the job to its backend and, unless the answer was terminal on
// the spot, starts polling. When the network is unreachable and a fresh
// cached result exists for the request's logical key, the cached snapshot is
// returned instead and no probe is ever issued.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, cb Callbacks) (*Submission, error) {
	if !req.Kind.IsValid() {
		return nil, shared.NewDomainError("polling", "Submit", shared.ErrInvalidInput, "unknown task kind "+string(req.Kind))
	}
	normalize, ok := s.normalizers[req.Kind]
	if !ok {
		return nil, shared.NewDomainError("polling", "Submit", shared.ErrInvalidInput, "no normalizer for kind "+string(req.Kind))
	}

	receipt, err := s.backend.SubmitTask(ctx, req.Kind, req.Payload)
	if err != nil {
		if errors.Is(err, shared.ErrOffline) {
			if sub := s.fromCache(ctx, req, cb); sub != nil {
				return sub, nil
			}
		}
		return nil, shared.WrapDomainError("polling", "Submit", shared.ErrExternalService, "submit failed", err)
	}

	// A synchronous answer is an immediately-terminal snapshot.
	if receipt.IsImmediate() {
		return s.fromImmediate(ctx, req, *receipt.Immediate, normalize, cb)
	}

	handle, err := task.NewHandle(receipt.TaskID, req.Kind)
	if err != nil {
		return nil, err
	}

	s.publish(shared.NewTaskSubmittedEvent(handle.ID, handle.Kind.String()))
	s.logger.Info("task submitted", "task_id", handle.ID, "kind", handle.Kind.String())

	opts := s.opts
	opts.OnAttempt = s.attemptRecorder(handle)
	opts.OnUpdate = func(snap task.ResultSnapshot) {
		s.notifyProgress(ctx, handle, snap)
		if cb.OnUpdate != nil {
			cb.OnUpdate(snap)
		}
	}
	opts.OnTerminal = func(snap task.ResultSnapshot) {
		s.finalize(handle, req.CacheKey, snap)
		if cb.OnTerminal != nil {
			cb.OnTerminal(snap)
		}
	}

	prober := s.wrapProber(s.backend.ProberFor(req.Kind), handle, req.CacheKey)
	token := s.poller.Start(ctx, handle, prober, normalize, opts)

	return &Submission{Handle: handle, Token: token}, nil
}

// fromImmediate turns a synchronous backend answer into a terminal snapshot.
func (s *Service) fromImmediate(ctx context.Context, req SubmitRequest, resp task.ProbeResponse, normalize task.Normalizer, cb Callbacks) (*Submission, error) {
	norm, err := normalize(resp)
	if err != nil {
		return nil, shared.WrapDomainError("polling", "Submit", shared.ErrExternalService, "immediate result rejected by normalizer", err)
	}

	snap, err := task.Merge(nil, norm, time.Now())
	if err != nil {
		return nil, err
	}
	if !snap.IsTerminal() {
		// A backend that answers synchronously with a non-terminal status is
		// misbehaving; treat the data as complete, per the permissive
		// missing-status interpretation.
		snap.Status = task.StatusCompleted
		if snap.CompletenessScore < 1 {
			snap.CompletenessScore = 1
		}
	}

	handle := task.NewLocalHandle(req.Kind)
	s.finalize(handle, req.CacheKey, snap)
	if cb.OnTerminal != nil {
		cb.OnTerminal(snap)
	}

	return &Submission{Handle: handle, Snapshot: &snap}, nil
}

// fromCache attempts the offline fallback. Returns nil on miss.
func (s *Service) fromCache(ctx context.Context, req SubmitRequest, cb Callbacks) *Submission {
	if s.cache == nil || req.CacheKey == "" {
		return nil
	}

	snap, err := s.cache.Lookup(ctx, req.CacheKey)
	if err != nil {
		s.logger.Warn("cache lookup failed", "key", req.CacheKey, "error", err)
		return nil
	}
	if snap == nil {
		return nil
	}

	handle := task.NewLocalHandle(req.Kind)
	s.logger.Info("serving cached result while offline",
		"task_id", handle.ID, "kind", req.Kind.String(), "key", req.CacheKey)
	s.publish(shared.NewTaskCacheFallbackEvent(handle.ID, req.Kind.String(), req.CacheKey))

	if cb.OnTerminal != nil {
		cb.OnTerminal(*snap)
	}
	return &Submission{Handle: handle, Snapshot: snap, FromCache: true}
}

// wrapProber adds the mid-poll offline fallback: when the network drops and
// a fresh cached result exists, the cached payload is surfaced as a
// completed probe response instead of burning the transient-failure budget.
func (s *Service) wrapProber(inner task.StatusProber, handle task.Handle, cacheKey string) task.StatusProber {
	if s.cache == nil || cacheKey == "" {
		return inner
	}

	return task.ProberFunc(func(ctx context.Context, taskID string) (task.ProbeResponse, error) {
		resp, err := inner.PollStatus(ctx, taskID)
		if err == nil || !errors.Is(err, shared.ErrOffline) {
			return resp, err
		}

		cached, cerr := s.cache.Lookup(ctx, cacheKey)
		if cerr != nil || cached == nil {
			return resp, err
		}

		s.publish(shared.NewTaskCacheFallbackEvent(handle.ID, handle.Kind.String(), cacheKey))
		return task.ProbeResponse{
			Status: string(task.StatusCompleted),
			Data:   cached.Payload,
		}, nil
	})
}

// finalize stores completed results, journals and publishes the terminal
// transition, and releases dedupe records.
func (s *Service) finalize(handle task.Handle, cacheKey string, snap task.ResultSnapshot) {
	// Terminal handling must not be lost to a cancelled request context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if snap.Status == task.StatusCompleted && s.cache != nil && cacheKey != "" {
		if err := s.cache.Store(ctx, cacheKey, snap); err != nil {
			s.logger.Warn("storing completed result failed", "key", cacheKey, "error", err)
		}
	}

	if s.journal != nil {
		if err := s.journal.RecordTerminal(ctx, handle, snap); err != nil {
			s.logger.Warn("journaling terminal snapshot failed", "task_id", handle.ID, "error", err)
		}
	}

	switch snap.Status {
	case task.StatusCompleted:
		if s.dedupe.ShouldNotify(ctx, handle.ID, notification.EventResultsReady) {
			s.publish(shared.NewTaskCompletedEvent(handle.ID, handle.Kind.String(), snap.CompletenessScore, false))
		}
	case task.StatusFailed:
		if s.dedupe.ShouldNotify(ctx, handle.ID, notification.EventTaskFailed) {
			s.publish(shared.NewTaskFailedEvent(handle.ID, handle.Kind.String(), snap.ErrorMessage))
		}
	case task.StatusTimedOut:
		if s.dedupe.ShouldNotify(ctx, handle.ID, notification.EventTaskTimedOut) {
			s.publish(shared.NewTaskTimedOutEvent(handle.ID, handle.Kind.String(), 0))
		}
	}

	s.dedupe.Forget(handle.ID)
}

// notifyProgress publishes started/partial transitions at most once each.
func (s *Service) notifyProgress(ctx context.Context, handle task.Handle, snap task.ResultSnapshot) {
	if snap.Status == task.StatusRunning || snap.Status == task.StatusPartiallyReady {
		s.dedupe.ShouldNotify(ctx, handle.ID, notification.EventProcessingStarted)
	}
	if snap.Status == task.StatusPartiallyReady {
		if s.dedupe.ShouldNotify(ctx, handle.ID, notification.EventResultsPartial) {
			s.publish(shared.NewTaskPartialEvent(handle.ID, handle.Kind.String(), snap.CompletenessScore))
		}
	}
}

func (s *Service) attemptRecorder(handle task.Handle) func(task.PollAttempt) {
	if s.journal == nil {
		return nil
	}
	return func(attempt task.PollAttempt) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.journal.RecordAttempt(ctx, handle, attempt); err != nil {
			s.logger.Debug("journaling attempt failed", "task_id", handle.ID, "error", err)
		}
	}
}

func (s *Service) publish(event shared.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		s.logger.Warn("publishing event failed", "event_type", string(event.EventType()), "error", err)
	}
}
