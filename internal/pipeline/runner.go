// Package pipeline sequences the ingestion, registry and scoring stages and keeps an audit
// trail of every stage execution in pipeline_runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EmpoweredVote/hexpulse/internal/metrics"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Gate decides when a stage runs.
type Gate int

const (
	// GateIngest stages pull new data. Their written counts decide whether post-processing runs.
	GateIngest Gate = iota
	// GatePostProcess stages only run after an ingest stage wrote something, or when forced.
	GatePostProcess
	// GateAlways stages run on every invocation.
	GateAlways
)

// Outcome is what a stage reports back.
type Outcome struct {
	Fetched  int64
	Written  int64
	Rejected int64
	// Skipped marks a stage that decided on its own that there was nothing to do.
	Skipped bool
}

type Stage struct {
	Name string
	Gate Gate
	// Due, when set, is consulted before an ingest stage runs. Forced runs ignore it.
	Due func(ctx context.Context) (bool, error)
	Run func(ctx context.Context) (Outcome, error)
}

// RunStore persists stage records.
type RunStore interface {
	Start(ctx context.Context, r *StageRun) error
	Finish(ctx context.Context, r *StageRun) error
}

type Runner struct {
	Store RunStore
	Clock clockwork.Clock
	// Force runs post-processing stages even when nothing was ingested and ignores Due.
	Force bool
	Log   *slog.Logger
}

func NewRunner(store RunStore, clock clockwork.Clock, log *slog.Logger) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Store: store, Clock: clock, Log: log.With("component", "pipeline")}
}

type Summary struct {
	RunID    uuid.UUID
	Ingested int64
	Stages   []StageRun
}

// Run executes stages in order. The first failing stage stops the run and its error is
// returned; stages already finished keep their committed results.
func (r *Runner) Run(ctx context.Context, stages []Stage) (Summary, error) {
	sum := Summary{RunID: uuid.New()}
	log := r.Log.With("run_id", sum.RunID)
	log.Info("pipeline run started", "stages", len(stages), "force", r.Force)
	started := r.Clock.Now()

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec, err := r.runStage(ctx, log, sum.RunID, st, sum.Ingested > 0)
		sum.Stages = append(sum.Stages, rec)
		if err != nil {
			log.Error("pipeline run failed", "stage", st.Name, "error", err)
			return sum, fmt.Errorf("stage %s: %w", st.Name, err)
		}
		if st.Gate == GateIngest {
			sum.Ingested += rec.Written
		}
	}

	log.Info("pipeline run finished", "duration", r.Clock.Since(started), "ingested", sum.Ingested)
	return sum, nil
}

func (r *Runner) runStage(ctx context.Context, log *slog.Logger, runID uuid.UUID, st Stage, ingested bool) (StageRun, error) {
	rec := StageRun{ID: uuid.New(), RunID: runID, Stage: st.Name, StartedAt: r.Clock.Now().UTC(), Status: StatusRunning}
	log = log.With("stage", st.Name)

	if reason := r.skipReason(ctx, st, ingested); reason != "" {
		rec.Status = StatusSkipped
		rec.Error = reason
		finished := rec.StartedAt
		rec.FinishedAt = &finished
		log.Info("stage skipped", "reason", reason)
		metrics.ObserveStage(st.Name, metrics.ResultSkipped, 0, metrics.Counts{})
		r.record(ctx, log, &rec, true)
		return rec, nil
	}

	r.record(ctx, log, &rec, false)
	log.Info("stage started")
	out, err := st.Run(ctx)
	finished := r.Clock.Now().UTC()
	elapsed := finished.Sub(rec.StartedAt)

	rec.FinishedAt = &finished
	rec.Fetched, rec.Written, rec.Rejected = out.Fetched, out.Written, out.Rejected
	result := metrics.ResultOK
	switch {
	case err != nil:
		rec.Status = StatusFailed
		rec.Error = err.Error()
		result = metrics.ResultFailed
	case out.Skipped:
		rec.Status = StatusSkipped
		result = metrics.ResultSkipped
	default:
		rec.Status = StatusSucceeded
	}
	metrics.ObserveStage(st.Name, result, elapsed, metrics.Counts{Fetched: out.Fetched, Written: out.Written, Rejected: out.Rejected})
	r.record(ctx, log, &rec, true)

	if err != nil {
		return rec, err
	}
	log.Info("stage finished", "status", rec.Status, "duration", elapsed,
		"fetched", out.Fetched, "written", out.Written, "rejected", out.Rejected)
	return rec, nil
}

func (r *Runner) skipReason(ctx context.Context, st Stage, ingested bool) string {
	if r.Force {
		return ""
	}
	switch st.Gate {
	case GatePostProcess:
		if !ingested {
			return "no new data"
		}
	case GateIngest:
		if st.Due == nil {
			return ""
		}
		due, err := st.Due(ctx)
		if err != nil {
			// unknown freshness counts as due
			r.Log.Warn("could not check whether stage is due", "stage", st.Name, "error", err)
			return ""
		}
		if !due {
			return "not due"
		}
	}
	return ""
}

// record writes bookkeeping. A failure here is logged; it never fails the stage itself.
func (r *Runner) record(ctx context.Context, log *slog.Logger, rec *StageRun, finish bool) {
	if r.Store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if finish {
		err = r.Store.Finish(ctx, rec)
	} else {
		err = r.Store.Start(ctx, rec)
	}
	if err != nil {
		log.Warn("could not record stage run", "error", err)
	}
}

var ErrUnknownStage = errors.New("unknown stage")

// Select returns the named stages in the order given.
func Select(stages []Stage, names ...string) ([]Stage, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name] = s
	}
	out := make([]Stage, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, n)
		}
		out = append(out, s)
	}
	return out, nil
}
