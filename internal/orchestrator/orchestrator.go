// Package orchestrator drives one input file through its route's stage
// sequence. All progress is checkpointed through the instance store before
// control advances, so a process restart or a duplicated trigger resumes at
// the first stage that has not succeeded instead of starting over.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/fileinsightpipeline/internal/adapters"
	"github.com/Lllllllleong/fileinsightpipeline/internal/classify"
	"github.com/Lllllllleong/fileinsightpipeline/internal/executor"
	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store"
)

var (
	// ErrNotFailed is returned by Rerun when the instance is not in the
	// Failed state; only failed instances may be cleared by an operator.
	ErrNotFailed = errors.New("instance is not in a failed state")
)

// pageSeparator joins per-page fan-out results into one artifact, matching
// the page break marker used in aggregated output downstream.
const pageSeparator = "\n\n---\n\n"

// Orchestrator is the pipeline's durable state machine.
type Orchestrator struct {
	store      store.Store
	adapters   *adapters.Set
	classifier classify.Classifier
	exec       *executor.Executor
	logger     *slog.Logger
	keys       *keyedMutex
}

// New creates an orchestrator over the given store and adapter set.
func New(st store.Store, set *adapters.Set, classifier classify.Classifier, exec *executor.Executor, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      st,
		adapters:   set,
		classifier: classifier,
		exec:       exec,
		logger:     logger,
		keys:       newKeyedMutex(),
	}
}

// StartOrResume is the single entry point for both notification-driven and
// manual triggers. It is idempotent per descriptor identity:
//   - no instance yet: classify, register, run the stage sequence;
//   - instance Completed: acknowledge as already done, invoke nothing;
//   - instance Failed: terminal until an operator Rerun, invoke nothing;
//   - instance Running (a resumable checkpoint or a duplicate trigger):
//     resume at the first stage not yet Succeeded.
//
// Duplicate triggers for the same key serialize on an in-process lock; a
// concurrent duplicate in another process loses the store Create race and
// observes the winner's instance instead.
func (o *Orchestrator) StartOrResume(ctx context.Context, d models.InputDescriptor) (*models.OrchestrationInstance, error) {
	unlock := o.keys.lock(d.ID)
	defer unlock()

	logCtx := o.logger.With("instanceKey", d.ID, "input", d.Name)

	inst, err := o.store.Get(ctx, d.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		route := o.classifier.Classify(d)
		inst = models.NewInstance(d, route)
		if createErr := o.store.Create(ctx, inst); createErr != nil {
			if !errors.Is(createErr, store.ErrAlreadyExists) {
				return nil, fmt.Errorf("failed to register instance: %w", createErr)
			}
			// Lost the cross-process race: adopt the winner's state.
			inst, err = o.store.Get(ctx, d.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load winning instance: %w", err)
			}
			logCtx.Info("Duplicate trigger converged on existing instance.")
		} else {
			logCtx.Info("Registered new orchestration instance.", "route", route)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load instance: %w", err)
	default:
		logCtx.Info("Trigger matched existing instance.", "status", inst.Status)
	}

	switch inst.Status {
	case models.InstanceCompleted:
		logCtx.Info("Instance already completed; acknowledging without work.")
		return inst, nil
	case models.InstanceFailed:
		logCtx.Info("Instance previously failed; awaiting operator re-run.")
		return inst, nil
	}

	return o.advance(ctx, logCtx, inst)
}

// Status returns the persisted instance for a key.
func (o *Orchestrator) Status(ctx context.Context, key string) (*models.OrchestrationInstance, error) {
	return o.store.Get(ctx, key)
}

// Rerun clears a Failed instance back to Running and resumes it. This is the
// only path that re-attempts a terminal failure; retried triggers never do.
func (o *Orchestrator) Rerun(ctx context.Context, key string) (*models.OrchestrationInstance, error) {
	unlock := o.keys.lock(key)
	defer unlock()

	inst, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.InstanceFailed {
		return inst, ErrNotFailed
	}

	logCtx := o.logger.With("instanceKey", key, "input", inst.Descriptor.Name)
	if inst.Route == models.RouteUnsupported {
		// Re-running cannot make an unsupported file type processable.
		logCtx.Info("Re-run requested for unsupported input; refusing.")
		return inst, ErrNotFailed
	}

	inst.Status = models.InstanceRunning
	inst.ErrorDetails = ""
	for _, rec := range inst.Stages {
		if rec.Status == models.StageFailed || rec.Status == models.StageRunning {
			rec.Status = models.StagePending
			rec.Attempts = 0
			rec.LastError = ""
			rec.Output = nil
		}
	}
	if err := o.persist(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to clear failed instance: %w", err)
	}
	logCtx.Info("Cleared failed instance for re-run.")

	return o.advance(ctx, logCtx, inst)
}

// advance runs the instance's remaining stages strictly in order. Stage
// failures are recorded on the instance and reported as a Failed instance,
// not as a Go error; errors are reserved for infrastructure faults such as
// an unreachable store.
func (o *Orchestrator) advance(ctx context.Context, logCtx *slog.Logger, inst *models.OrchestrationInstance) (*models.OrchestrationInstance, error) {
	if inst.Route == models.RouteUnsupported {
		inst.Status = models.InstanceFailed
		inst.ErrorDetails = fmt.Sprintf("unsupported file type: %q", inst.Descriptor.Extension)
		if err := o.persist(ctx, inst); err != nil {
			return nil, err
		}
		logCtx.Warn("Unsupported file type; instance failed without adapter calls.", "extension", inst.Descriptor.Extension)
		return inst, nil
	}

	for i, rec := range inst.Stages {
		if rec.Status == models.StageSucceeded {
			continue
		}

		fn, err := o.stageFunc(inst, rec.Name)
		if err != nil {
			return nil, err
		}
		prev := inst.ArtifactBefore(i)

		_, execErr := o.exec.Execute(ctx, rec, fn, prev, func(pctx context.Context) error {
			return o.persist(pctx, inst)
		})
		if execErr != nil {
			var sf *executor.StageFailure
			if errors.As(execErr, &sf) {
				inst.Status = models.InstanceFailed
				inst.ErrorDetails = sf.Error()
				if err := o.persist(ctx, inst); err != nil {
					return nil, err
				}
				logCtx.Error("Instance failed.", "stage", sf.Stage, "attempts", sf.Attempts, "error", sf.Err)
				return inst, nil
			}
			return nil, execErr
		}

		logCtx.Info("Stage complete.", "stage", rec.Name, "attempts", rec.Attempts)
	}

	inst.Status = models.InstanceCompleted
	if n := len(inst.Stages); n > 0 {
		inst.FinalArtifact = inst.Stages[n-1].Output
	}
	if err := o.persist(ctx, inst); err != nil {
		return nil, err
	}
	logCtx.Info("Instance completed.", "route", inst.Route)
	return inst, nil
}

// stageFunc binds a stage name to its adapter call. The route switch is
// exhaustive over the closed set of stage names produced by StageSequence.
func (o *Orchestrator) stageFunc(inst *models.OrchestrationInstance, name string) (executor.StageFunc, error) {
	d := inst.Descriptor
	switch name {
	case models.StageExtractText:
		return func(ctx context.Context, _ *models.Artifact) (*models.Artifact, error) {
			return o.adapters.Extractor.ExtractText(ctx, d)
		}, nil
	case models.StageTranscribe:
		return func(ctx context.Context, _ *models.Artifact) (*models.Artifact, error) {
			return o.adapters.Transcriber.Transcribe(ctx, d)
		}, nil
	case models.StageTextInfer:
		return func(ctx context.Context, prev *models.Artifact) (*models.Artifact, error) {
			if prev == nil {
				return nil, adapters.Permanent(name, fmt.Errorf("no upstream artifact to analyze"))
			}
			return o.adapters.Inferrer.Infer(ctx, prev.Text)
		}, nil
	case models.StageVisionInfer:
		return o.visionStage(d), nil
	case models.StageWriteOutput:
		return func(ctx context.Context, prev *models.Artifact) (*models.Artifact, error) {
			if prev == nil {
				return nil, adapters.Permanent(name, fmt.Errorf("no composed artifact to write"))
			}
			return o.adapters.Writer.Write(ctx, d, prev)
		}, nil
	default:
		return nil, fmt.Errorf("unknown stage %q for route %s", name, inst.Route)
	}
}

// visionStage splits the input into pages and fans the vision model out over
// them with the executor's bounded pool. The aggregation barrier is
// all-or-nothing: a single failed page fails the attempt and none of the
// sibling page results are composed.
func (o *Orchestrator) visionStage(d models.InputDescriptor) executor.StageFunc {
	return func(ctx context.Context, _ *models.Artifact) (*models.Artifact, error) {
		pages, cleanup, err := o.adapters.Vision.SplitPages(ctx, d)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		texts, err := o.exec.FanOut(ctx, len(pages), func(fctx context.Context, i int) (string, error) {
			return o.adapters.Vision.InferPage(fctx, pages[i])
		})
		if err != nil {
			return nil, err
		}
		return &models.Artifact{
			Kind: "application/json",
			Text: strings.Join(texts, pageSeparator),
		}, nil
	}
}

func (o *Orchestrator) persist(ctx context.Context, inst *models.OrchestrationInstance) error {
	inst.UpdatedAt = time.Now().UTC()
	return o.store.Update(ctx, inst)
}
