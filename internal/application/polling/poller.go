// Package polling drives repeated status probes against long-running backend
// tasks: one parameterized poller replaces the per-feature retry loops the
// client features would otherwise each reimplement. Each feature supplies
// only its submit, probe, and normalize functions.
package polling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mindleap/mindleap-task-hub/internal/domain/task"
	"github.com/mindleap/mindleap-task-hub/pkg/backoff"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Default polling limits.
const (
	DefaultIntervalBase = 2 * time.Second
	DefaultMaxAttempts  = 60
	DefaultMaxElapsed   = 10 * time.Minute
)

// Options configures one poller run.
type Options struct {
	// IntervalBase is the delay before the first probe and the seed for the
	// backoff policy's success path. Default: 2s.
	IntervalBase time.Duration

	// MaxAttempts bounds transient transport failures over the whole run;
	// successful probes do not count against it. Default: 60.
	MaxAttempts int

	// MaxElapsed bounds the whole run regardless of attempt count. Guards
	// against a backend that returns Pending forever. Default: 10m.
	MaxElapsed time.Duration

	// Policy computes inter-probe delays. Default: backoff.Default() with
	// IntervalBase as the success base.
	Policy *backoff.Policy

	// OnUpdate is invoked after every non-terminal merge.
	OnUpdate func(task.ResultSnapshot)

	// OnTerminal is invoked exactly once when the run ends in Completed,
	// Failed, or TimedOut. Caller cancellation produces no terminal callback.
	OnTerminal func(task.ResultSnapshot)

	// OnAttempt receives every PollAttempt for diagnostics (e.g. a journal).
	OnAttempt func(task.PollAttempt)
}

func (o Options) withDefaults() Options {
	if o.IntervalBase <= 0 {
		o.IntervalBase = DefaultIntervalBase
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxElapsed <= 0 {
		o.MaxElapsed = DefaultMaxElapsed
	}
	if o.Policy == nil {
		o.Policy = backoff.New(backoff.WithSuccessBase(o.IntervalBase))
	}
	return o
}

// ══════════════════════════════════════════════════════════════════════════════
// CANCEL TOKEN
// ══════════════════════════════════════════════════════════════════════════════

// CancelToken stops a poller run. Cancellation is cooperative: the flag is
// checked before each scheduled probe fires, an in-flight probe's response is
// discarded on resolution, and cancelling twice is a no-op.
type CancelToken struct {
	once      sync.Once
	cancelled chan struct{}
	done      chan struct{}
}

func newCancelToken() *CancelToken {
	return &CancelToken{
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Cancel stops further probing. No probe is issued after Cancel returns and
// the run loop has observed it; no terminal callback fires.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.cancelled) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.cancelled:
		return true
	default:
		return false
	}
}

// Done is closed when the run loop has exited, whether by terminal state,
// cancellation, or context expiry.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// ══════════════════════════════════════════════════════════════════════════════
// POLLER
// ══════════════════════════════════════════════════════════════════════════════

// Poller drives repeated StatusProber calls under a backoff policy, feeding
// the result merger and emitting lifecycle callbacks. One goroutine per run;
// at most one in-flight probe per handle, and probe N+1 is never issued
// before probe N's response has been processed.
type Poller struct {
	logger *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{logger: logger}
}

// Start begins polling asynchronously and returns a token that stops it.
// The first probe fires after IntervalBase, so a token cancelled immediately
// after Start never issues a probe.
func (p *Poller) Start(ctx context.Context, handle task.Handle, prober task.StatusProber, normalize task.Normalizer, opts Options) *CancelToken {
	opts = opts.withDefaults()
	tok := newCancelToken()

	go p.run(ctx, handle, prober, normalize, opts, tok)

	return tok
}

func (p *Poller) run(ctx context.Context, handle task.Handle, prober task.StatusProber, normalize task.Normalizer, opts Options, tok *CancelToken) {
	defer close(tok.done)

	logger := p.logger.With("task_id", handle.ID, "kind", handle.Kind.String())
	started := time.Now()

	var snapshot *task.ResultSnapshot
	attempt := 0
	transientFailures := 0

	timer := time.NewTimer(opts.IntervalBase)
	defer timer.Stop()

	for {
		select {
		case <-tok.cancelled:
			logger.Debug("polling cancelled by caller")
			return
		case <-ctx.Done():
			logger.Debug("polling context expired", "error", ctx.Err())
			return
		case <-timer.C:
		}

		if time.Since(started) >= opts.MaxElapsed {
			p.finishTimedOut(logger, snapshot, attempt+transientFailures, opts)
			return
		}

		attempt++
		attemptStarted := time.Now()

		resp, err := prober.PollStatus(ctx, handle.ID)

		// Discard an in-flight response that resolved after cancellation.
		if tok.Cancelled() || ctx.Err() != nil {
			return
		}

		var delay time.Duration
		if err != nil {
			transientFailures++
			p.recordAttempt(opts, task.PollAttempt{
				AttemptNumber: attempt,
				StartedAt:     attemptStarted,
				Outcome:       task.OutcomeTransportError,
			})

			if transientFailures > opts.MaxAttempts {
				logger.Warn("transient failure budget exhausted",
					"failures", transientFailures, "error", err)
				p.finishTimedOut(logger, snapshot, attempt, opts)
				return
			}

			delay = opts.Policy.Delay(transientFailures, true)
			logger.Debug("probe failed, backing off",
				"failures", transientFailures, "delay", delay, "error", err)
		} else {
			norm, nerr := normalize(resp)
			if nerr != nil {
				// A payload we cannot interpret is as good as a transport
				// error; it stays inside the poller.
				transientFailures++
				p.recordAttempt(opts, task.PollAttempt{
					AttemptNumber: attempt,
					StartedAt:     attemptStarted,
					Outcome:       task.OutcomeTransportError,
				})
				if transientFailures > opts.MaxAttempts {
					p.finishTimedOut(logger, snapshot, attempt, opts)
					return
				}
				delay = opts.Policy.Delay(transientFailures, true)
				logger.Warn("probe payload rejected by normalizer", "error", nerr)
			} else {
				merged, merr := task.Merge(snapshot, norm, time.Now())
				if merr != nil {
					logger.Error("merge rejected", "error", merr)
					return
				}
				snapshot = &merged

				p.recordAttempt(opts, task.PollAttempt{
					AttemptNumber: attempt,
					StartedAt:     attemptStarted,
					Outcome:       task.OutcomeForStatus(merged.Status),
				})

				if merged.IsTerminal() {
					logger.Info("polling finished",
						"status", merged.Status.String(), "attempts", attempt)
					if opts.OnTerminal != nil {
						opts.OnTerminal(merged.Clone())
					}
					return
				}

				if opts.OnUpdate != nil {
					opts.OnUpdate(merged.Clone())
				}
				delay = opts.Policy.Delay(attempt, false)
			}
		}

		if time.Since(started) >= opts.MaxElapsed {
			p.finishTimedOut(logger, snapshot, attempt, opts)
			return
		}

		timer.Reset(delay)
	}
}

// finishTimedOut produces the terminal TimedOut snapshot, preserving whatever
// partial payload the last merge accumulated.
func (p *Poller) finishTimedOut(logger *slog.Logger, snapshot *task.ResultSnapshot, attempts int, opts Options) {
	out := task.ResultSnapshot{
		Status:      task.StatusTimedOut,
		LastUpdated: time.Now(),
	}
	if snapshot != nil {
		out = snapshot.Clone()
		out.Status = task.StatusTimedOut
		out.LastUpdated = time.Now()
	}

	logger.Warn("polling timed out", "attempts", attempts)
	if opts.OnTerminal != nil {
		opts.OnTerminal(out)
	}
}

func (p *Poller) recordAttempt(opts Options, attempt task.PollAttempt) {
	if opts.OnAttempt != nil {
		opts.OnAttempt(attempt)
	}
}
