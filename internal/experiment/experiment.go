// Package experiment drives the adaptive sampling-convergence-checkpoint
// loop: sample a batch, evolve it, filter it, accumulate the converging
// population, and checkpoint once enough has accumulated, until either the
// iteration budget runs out or the convergence score stabilizes below the
// threshold. The loop is single-threaded; parallelism lives entirely inside
// the evolution pool.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/stellarforge/popsynth/internal/accum"
	"github.com/stellarforge/popsynth/internal/config"
	"github.com/stellarforge/popsynth/internal/evolve"
	"github.com/stellarforge/popsynth/internal/filter"
	"github.com/stellarforge/popsynth/internal/match"
	"github.com/stellarforge/popsynth/internal/observability"
	"github.com/stellarforge/popsynth/internal/population"
	"github.com/stellarforge/popsynth/internal/sampler"
	"github.com/stellarforge/popsynth/internal/store"
)

// Collaborator wiring errors.
var (
	ErrNoSampler   = errors.New("no sampler configured")
	ErrNoPool      = errors.New("no evolution pool configured")
	ErrNoEvaluator = errors.New("no convergence evaluator configured")
	ErrNoStore     = errors.New("no store configured")
)

// Experiment wires the loop collaborators. Config must be validated before
// Run; OutputPolicy nil means no explicit output-time policy, in which case
// only the final requested timestep per system is retained.
type Experiment struct {
	Config       *config.Config
	Sampler      sampler.Sampler
	Pool         *evolve.Pool
	Evaluator    match.Evaluator
	Store        *store.Store
	OutputPolicy *evolve.OutputPolicy
	Logger       *slog.Logger
	Metrics      *observability.RunMetrics

	// MaxBufferRows forces a checkpoint when the accumulation buffers grow
	// past it; zero uses accum.DefaultMaxBufferRows.
	MaxBufferRows int
}

// Result summarizes a completed run.
type Result struct {
	StepCount     int64
	Checkpoints   int
	ConvergedRows int
	Score         match.Score
	Totals        population.MassStats
	Converged     bool
	Resumed       bool
	Elapsed       time.Duration
}

func (e *Experiment) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *Experiment) maxBufferRows() int {
	if e.MaxBufferRows > 0 {
		return e.MaxBufferRows
	}

	return accum.DefaultMaxBufferRows
}

// runState is the mutable loop state, restored from the store on resume.
type runState struct {
	stepCount   int64
	nextBinNum  int64
	totals      population.MassStats
	acc         accum.State
	score       match.Score
	checkpoints int
}

// Run executes the experiment to completion. resumed reports whether the
// store held prior state when it was opened.
func (e *Experiment) Run(ctx context.Context, resumed bool) (Result, error) {
	err := e.checkWiring()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()

	state, err := e.restore(ctx, resumed)
	if err != nil {
		return Result{}, err
	}

	err = e.Store.WriteParams(e.Config)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot params: %w", err)
	}

	budget := e.Config.Sampling.IterationBudget
	threshold := e.Config.Convergence.Threshold

	for state.stepCount < budget && !state.score.Converged(threshold) {
		err = e.iterate(ctx, state)
		if err != nil {
			return Result{}, err
		}
	}

	e.Store.Logf("experiment complete: steps=%d checkpoints=%d converged_rows=%d converged=%v",
		state.stepCount, state.checkpoints, len(state.acc.Converged), state.score.Converged(threshold))

	err = e.Store.Close()
	if err != nil {
		return Result{}, err
	}

	return Result{
		StepCount:     state.stepCount,
		Checkpoints:   state.checkpoints,
		ConvergedRows: len(state.acc.Converged),
		Score:         state.score,
		Totals:        state.totals,
		Converged:     state.score.Converged(threshold),
		Resumed:       resumed,
		Elapsed:       time.Since(start),
	}, nil
}

func (e *Experiment) checkWiring() error {
	switch {
	case e.Sampler == nil:
		return ErrNoSampler
	case e.Pool == nil:
		return ErrNoPool
	case e.Evaluator == nil:
		return ErrNoEvaluator
	case e.Store == nil:
		return ErrNoStore
	default:
		return nil
	}
}

// restore rebuilds the loop state from the store. On a fresh store all
// counters are zero and the score carries its unevaluated sentinel.
func (e *Experiment) restore(ctx context.Context, resumed bool) (*runState, error) {
	state := &runState{
		stepCount:  e.Store.StepCount(),
		nextBinNum: e.Store.NextBinNum(),
		totals:     e.Store.Totals(),
	}

	if !resumed {
		e.Store.Logf("starting fresh: identity=%s", e.Store.Identity())

		return state, nil
	}

	converged, err := e.Store.LoadConverged()
	if err != nil {
		return nil, fmt.Errorf("restore converged population: %w", err)
	}

	state.acc.Converged = converged

	scores, err := e.Store.LoadScores()
	if err != nil {
		return nil, fmt.Errorf("restore scores: %w", err)
	}

	if len(scores) > 0 {
		last := scores[len(scores)-1]
		state.score = match.Score{Values: last.Values, Evaluations: last.Evaluations}
	}

	e.logger().InfoContext(ctx, "resuming experiment",
		"identity", e.Store.Identity().String(),
		"step_count", state.stepCount,
		"next_bin_num", state.nextBinNum,
		"converged_rows", len(converged))
	e.Store.Logf("resumed: steps=%d converged_rows=%d", state.stepCount, len(converged))

	return state, nil
}

// iterate runs one loop body: sample, evolve, filter, accumulate, and
// checkpoint when the converging population has grown enough. Empty filter
// results are warned about and skipped; the batch still consumes budget.
func (e *Experiment) iterate(ctx context.Context, state *runState) error {
	ctx, span := observability.Tracer().Start(ctx, "experiment.iterate")
	defer span.End()

	iterStart := time.Now()

	// Each batch is independently reproducible from the base seed and the
	// iteration offset.
	seed := e.Config.Seed + state.stepCount

	initial, stats, err := e.Sampler.Sample(ctx, sampler.Request{
		Size:        e.Config.Sampling.BatchSize,
		Seed:        seed,
		Metallicity: e.Config.Sampling.Metallicity,
		SFStart:     e.Config.Sampling.SFStart,
		SFDuration:  e.Config.Sampling.SFDuration,
		Kstar1Final: e.Config.Kstar1Range(),
		Kstar2Final: e.Config.Kstar2Range(),
	})
	if err != nil {
		return fmt.Errorf("sample batch: %w", err)
	}

	state.totals.Add(stats)

	policy := evolve.Timesteps(0)
	if e.OutputPolicy != nil {
		policy = *e.OutputPolicy
	}

	batch, err := e.Pool.Evolve(ctx, initial, e.Config.Physics, state.nextBinNum, policy)
	if err != nil {
		return fmt.Errorf("evolve batch: %w", err)
	}

	if maxID := batch.MaxBinNum(); maxID >= 0 {
		state.nextBinNum = maxID + 1
	}

	if e.OutputPolicy == nil {
		batch.Timesteps = finalRows(batch.Timesteps)
	}

	// The batch consumes budget by the number of systems actually drawn,
	// whatever happens downstream.
	nextStep := state.stepCount + int64(batch.Systems())
	e.Metrics.RecordBatch(ctx, batch.Systems(), time.Since(iterStart))

	defer func() {
		state.stepCount = nextStep
	}()

	criteria := filter.Criteria{
		Kstar1:    e.Config.Kstar1Range(),
		Kstar2:    e.Config.Kstar2Range(),
		BinStates: e.Config.Filters.BinStates,
	}

	filtered := filter.Apply(batch, criteria)
	if len(filtered.Timesteps) == 0 {
		e.logger().WarnContext(ctx, "no systems matched final-state filters",
			"seed", seed, "systems", batch.Systems())
		e.Store.Logf("warning: empty final-state filter result at step %d", state.stepCount)

		return nil
	}

	conv, err := filter.SelectConverging(filtered.Timesteps, e.Config.Convergence.Filter, e.Config.Convergence.Limits)
	if err != nil {
		return fmt.Errorf("convergence filter: %w", err)
	}

	if len(conv) == 0 {
		e.logger().WarnContext(ctx, "no systems matched convergence filter",
			"seed", seed, "filter", e.Config.Convergence.Filter)
		e.Store.Logf("warning: empty convergence filter result at step %d", state.stepCount)

		return nil
	}

	if e.Config.Filters.RestrictToConverging {
		filtered = filtered.Restrict(conv.IDs())
	}

	state.acc.Buffers.Merge(filtered, conv)

	if e.shouldCheckpoint(state) {
		err = e.checkpoint(ctx, state, nextStep)
		if err != nil {
			return err
		}
	}

	return nil
}

// shouldCheckpoint fires when the converging population (buffered plus
// long-lived) reaches the configured batch threshold, capped at the budget,
// or when the buffers have outgrown the memory bound.
func (e *Experiment) shouldCheckpoint(state *runState) bool {
	matchBatch := int64(e.Config.Convergence.MatchBatch)
	if budget := e.Config.Sampling.IterationBudget; matchBatch > budget {
		matchBatch = budget
	}

	if int64(state.acc.ConvergedRows()) >= matchBatch {
		return true
	}

	return state.acc.Buffers.Rows() > e.maxBufferRows()
}

// checkpoint evaluates convergence against the pre-existing population,
// persists the buffered tables and the score record, promotes the
// contribution into the long-lived table, and clears the buffers.
func (e *Experiment) checkpoint(ctx context.Context, state *runState, stepCount int64) error {
	ctx, span := observability.Tracer().Start(ctx, "experiment.checkpoint")
	defer span.End()

	full := make(population.TimestepTable, 0, state.acc.ConvergedRows())
	full = append(full, state.acc.Converged...)
	full = append(full, state.acc.Buffers.Converging...)

	values, err := e.Evaluator.Evaluate(e.Config.Convergence.Params, full, state.acc.Converged)
	if err != nil {
		return fmt.Errorf("evaluate convergence: %w", err)
	}

	state.score.Record(values)

	record := store.ScoreRecord{
		StepCount:   stepCount,
		Evaluations: state.score.Evaluations,
		Values:      values,
		Time:        time.Now().UTC(),
	}

	err = e.Store.AppendCheckpoint(ctx, store.Checkpoint{
		Initial:      state.acc.Buffers.Initial,
		Events:       state.acc.Buffers.Events,
		Timesteps:    state.acc.Buffers.Timesteps,
		Kicks:        state.acc.Buffers.Kicks,
		Contribution: state.acc.Buffers.Converging,
		Score:        record,
		StepCount:    stepCount,
		NextBinNum:   state.nextBinNum,
		Totals:       state.totals,
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	contribution := state.acc.PromoteConverged()
	state.acc.Buffers.Reset()
	state.checkpoints++

	e.Metrics.RecordCheckpoint(ctx, values)
	e.Store.Logf("checkpoint %d: steps=%d contribution=%d converged_rows=%d max_score=%g",
		state.checkpoints, stepCount, len(contribution), len(state.acc.Converged), state.score.Max())
	e.logger().InfoContext(ctx, "checkpoint written",
		"checkpoint", state.checkpoints,
		"step_count", stepCount,
		"converged_rows", len(state.acc.Converged),
		"max_score", state.score.Max())

	return nil
}

// finalRows keeps only the last requested timestep per system, dropping
// intermediate rows when no explicit output-time policy was configured.
func finalRows(t population.TimestepTable) population.TimestepTable {
	finalTime := make(map[int64]float64, len(t))

	for _, r := range t {
		if cur, ok := finalTime[r.BinNum]; !ok || r.TPhys > cur {
			finalTime[r.BinNum] = r.TPhys
		}
	}

	out := make(population.TimestepTable, 0, len(finalTime))

	for _, r := range t {
		if r.TPhys == finalTime[r.BinNum] {
			out = append(out, r)
		}
	}

	return out
}
