package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/fileinsightpipeline/internal/adapters"
	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

// RetryPolicy bounds how one stage retries transient failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy matches the pipeline's stated defaults: three attempts,
// five second initial backoff doubling to a minute cap, two minutes per
// attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
		AttemptTimeout: 120 * time.Second,
	}
}

// StageFunc performs the work of one stage attempt, consuming the previous
// stage's artifact.
type StageFunc func(ctx context.Context, prev *models.Artifact) (*models.Artifact, error)

// PersistFunc durably checkpoints the instance after a StageRecord mutation.
// The executor never proceeds past a mutation until persistence succeeds.
type PersistFunc func(ctx context.Context) error

// StageFailure reports a stage that exhausted its attempts or hit a
// permanent failure.
type StageFailure struct {
	Stage    string
	Attempts int
	Err      error
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", f.Stage, f.Attempts, f.Err)
}

func (f *StageFailure) Unwrap() error { return f.Err }

// Executor runs single stages under the retry policy and provides the
// bounded fan-out primitive for stages that split into sub-calls.
type Executor struct {
	policy      RetryPolicy
	fanOutLimit int
	logger      *slog.Logger
}

// New creates an executor. fanOutLimit bounds intra-stage concurrency; it
// protects downstream rate limits and defaults to 8 when non-positive.
func New(policy RetryPolicy, fanOutLimit int, logger *slog.Logger) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if fanOutLimit < 1 {
		fanOutLimit = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{policy: policy, fanOutLimit: fanOutLimit, logger: logger}
}

// Execute runs one stage to completion under the retry policy, recording
// every attempt on rec and checkpointing through persist before each remote
// call and after each outcome. Only retryable failures are re-attempted;
// permanent failures and ceiling exhaustion return a *StageFailure with the
// record marked Failed.
func (e *Executor) Execute(ctx context.Context, rec *models.StageRecord, fn StageFunc, prev *models.Artifact, persist PersistFunc) (*models.Artifact, error) {
	logCtx := e.logger.With("stage", rec.Name)

	rec.Status = models.StageRunning
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		rec.Attempts++
		if err := persist(ctx); err != nil {
			return nil, fmt.Errorf("failed to checkpoint stage %s before attempt %d: %w", rec.Name, rec.Attempts, err)
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		}
		artifact, err := fn(attemptCtx, prev)
		cancel()

		if err == nil {
			rec.Status = models.StageSucceeded
			rec.Output = artifact
			rec.LastError = ""
			if perr := persist(ctx); perr != nil {
				return nil, fmt.Errorf("failed to checkpoint stage %s success: %w", rec.Name, perr)
			}
			logCtx.Info("Stage succeeded.", "attempts", rec.Attempts)
			return artifact, nil
		}

		lastErr = err
		rec.LastError = err.Error()
		if !adapters.IsRetryable(err) {
			logCtx.Warn("Stage hit a permanent failure.", "attempt", rec.Attempts, "error", err)
			break
		}
		if attempt == e.policy.MaxAttempts {
			logCtx.Warn("Stage exhausted its retry budget.", "attempts", rec.Attempts, "error", err)
			break
		}

		backoff := e.backoff(attempt)
		logCtx.Warn("Stage attempt failed, will retry.",
			"attempt", rec.Attempts,
			"maxAttempts", e.policy.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := persist(ctx); err != nil {
			return nil, fmt.Errorf("failed to checkpoint stage %s attempt %d: %w", rec.Name, rec.Attempts, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			rec.Status = models.StageFailed
			rec.LastError = ctx.Err().Error()
			_ = persist(context.WithoutCancel(ctx))
			return nil, &StageFailure{Stage: rec.Name, Attempts: rec.Attempts, Err: ctx.Err()}
		}
	}

	rec.Status = models.StageFailed
	if err := persist(ctx); err != nil {
		return nil, fmt.Errorf("failed to checkpoint stage %s failure: %w", rec.Name, err)
	}
	return nil, &StageFailure{Stage: rec.Name, Attempts: rec.Attempts, Err: lastErr}
}

// backoff computes the sleep before the next attempt: exponential growth
// from InitialBackoff, capped at MaxBackoff, with jitter over the upper half
// of the interval.
func (e *Executor) backoff(attempt int) time.Duration {
	base := e.policy.InitialBackoff
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if e.policy.MaxBackoff > 0 && d > e.policy.MaxBackoff {
		d = e.policy.MaxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// FanOut runs n sub-calls with bounded concurrency and an all-or-nothing
// barrier: the ordered results are returned only if every sub-call succeeds,
// otherwise the first error fails the whole fan-out and no partial result
// escapes.
func (e *Executor) FanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) (string, error)) ([]string, error) {
	results := make([]string, n)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.fanOutLimit)

	for i := 0; i < n; i++ {
		eg.Go(func() error {
			out, err := fn(gctx, i)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
