package experiment_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarforge/popsynth/internal/config"
	"github.com/stellarforge/popsynth/internal/evolve"
	"github.com/stellarforge/popsynth/internal/experiment"
	"github.com/stellarforge/popsynth/internal/match"
	"github.com/stellarforge/popsynth/internal/population"
	"github.com/stellarforge/popsynth/internal/sampler"
	"github.com/stellarforge/popsynth/internal/store"
)

// stubSampler draws req.Size systems with masses deterministic in the seed,
// so interrupted and uninterrupted runs see identical batches.
type stubSampler struct {
	seeds []int64
}

func (s *stubSampler) Name() string { return "stub" }

func (s *stubSampler) Sample(_ context.Context, req sampler.Request) (population.InitialTable, population.MassStats, error) {
	s.seeds = append(s.seeds, req.Seed)

	rng := rand.New(rand.NewSource(req.Seed))
	table := make(population.InitialTable, req.Size)

	for i := range table {
		table[i] = population.InitialRow{
			Mass1:      0.6 + rng.Float64(),
			Mass2:      0.5,
			TPhysFinal: req.SFStart,
		}
	}

	stats := population.MassStats{NBinaries: int64(req.Size)}

	return table, stats, nil
}

// stubIntegrator reports every system as an alive double white dwarf at the
// final time, unless kstar overrides make it miss the filters.
type stubIntegrator struct {
	kstar1   int
	kstar2   int
	binState int
}

func (s *stubIntegrator) Name() string { return "stub" }

func (s *stubIntegrator) Integrate(_ context.Context, sys population.InitialRow, _ map[string]float64, _ evolve.OutputPolicy) (evolve.SystemResult, error) {
	return evolve.SystemResult{
		Timesteps: population.TimestepTable{{
			TPhys:    sys.TPhysFinal,
			Mass1:    sys.Mass1,
			Mass2:    sys.Mass2,
			Kstar1:   s.kstar1,
			Kstar2:   s.kstar2,
			BinState: s.binState,
		}},
	}, nil
}

func wdIntegrator() *stubIntegrator {
	return &stubIntegrator{kstar1: 11, kstar2: 11, binState: population.StateAlive}
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Sampling: config.SamplingConfig{
			Method:          config.MethodMultidim,
			BatchSize:       5,
			IterationBudget: 50,
			Workers:         2,
			Metallicity:     0.02,
			SFStart:         10000,
		},
		Filters: config.FilterConfig{
			Kstar1:    []int{10, 12},
			Kstar2:    []int{10, 12},
			BinStates: []int{population.StateAlive},
		},
		Convergence: config.ConvergenceConfig{
			Params:     []string{"mass_1"},
			Filter:     "alive",
			Threshold:  -5,
			MatchBatch: 50,
		},
		Store: config.StoreConfig{Dir: dir},
	}
}

func openStore(t *testing.T, cfg *config.Config) (*store.Store, bool) {
	t.Helper()

	identity := store.NewIdentity(cfg.Kstar1Range(), cfg.Kstar2Range(),
		cfg.Sampling.SFStart, cfg.Sampling.SFDuration, cfg.Sampling.Metallicity)

	st, resumed, err := store.Open(cfg.Store.Dir, identity, nil)
	require.NoError(t, err)

	return st, resumed
}

func newExperiment(cfg *config.Config, smp sampler.Sampler, integ evolve.Integrator, st *store.Store) *experiment.Experiment {
	return &experiment.Experiment{
		Config:    cfg,
		Sampler:   smp,
		Pool:      &evolve.Pool{Workers: cfg.Sampling.Workers, Integrator: integ},
		Evaluator: match.NewBinnedEvaluator(),
		Store:     st,
	}
}

func TestCheckpointFiresOnceAtBatchThreshold(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir())
	require.NoError(t, cfg.Validate())

	smp := &stubSampler{}
	st, resumed := openStore(t, cfg)

	res, err := newExperiment(cfg, smp, wdIntegrator(), st).Run(context.Background(), resumed)
	require.NoError(t, err)

	// 5 matching systems per iteration against a match batch of 50: exactly
	// ten iterations, one checkpoint, and a running index one past the last
	// system.
	assert.Equal(t, int64(50), res.StepCount)
	assert.Equal(t, 1, res.Checkpoints)
	assert.Equal(t, 50, res.ConvergedRows)
	assert.False(t, res.Converged, "single evaluation cannot converge")
	assert.Len(t, smp.seeds, 10)

	st2, resumed2 := openStore(t, cfg)
	defer st2.Close()

	require.True(t, resumed2)
	assert.Equal(t, int64(50), st2.StepCount())
	assert.Equal(t, int64(50), st2.NextBinNum())
}

func TestPerIterationSeedDerivation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir())
	cfg.Seed = 1000
	require.NoError(t, cfg.Validate())

	smp := &stubSampler{}
	st, resumed := openStore(t, cfg)

	_, err := newExperiment(cfg, smp, wdIntegrator(), st).Run(context.Background(), resumed)
	require.NoError(t, err)

	require.Len(t, smp.seeds, 10)

	for i, seed := range smp.seeds {
		assert.Equal(t, cfg.Seed+int64(i*cfg.Sampling.BatchSize), seed)
	}
}

func TestEmptyFinalStateFilterRunsFullBudget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir())
	require.NoError(t, cfg.Validate())

	// Main-sequence pairs never match the white-dwarf criteria.
	integ := &stubIntegrator{kstar1: 1, kstar2: 1, binState: population.StateAlive}
	st, resumed := openStore(t, cfg)

	res, err := newExperiment(cfg, &stubSampler{}, integ, st).Run(context.Background(), resumed)
	require.NoError(t, err)

	assert.Equal(t, int64(50), res.StepCount)
	assert.Zero(t, res.Checkpoints)
	assert.Zero(t, res.ConvergedRows)
	assert.False(t, res.Score.Evaluated())
}

func TestEmptyConvergenceFilterRunsFullBudget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir())
	cfg.Filters.BinStates = []int{population.StateAlive, population.StateMerged}
	require.NoError(t, cfg.Validate())

	// Merged systems pass stage 1 but never the "alive" convergence filter.
	integ := &stubIntegrator{kstar1: 11, kstar2: 11, binState: population.StateMerged}
	st, resumed := openStore(t, cfg)

	res, err := newExperiment(cfg, &stubSampler{}, integ, st).Run(context.Background(), resumed)
	require.NoError(t, err)

	assert.Equal(t, int64(50), res.StepCount)
	assert.Zero(t, res.Checkpoints)
	assert.Zero(t, res.ConvergedRows)
}

func TestGenerousThresholdStopsAfterSecondEvaluation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir())
	cfg.Sampling.IterationBudget = 1000
	cfg.Convergence.MatchBatch = 5
	cfg.Convergence.Threshold = 10 // Above any attainable score.
	require.NoError(t, cfg.Validate())

	st, resumed := openStore(t, cfg)

	res, err := newExperiment(cfg, &stubSampler{}, wdIntegrator(), st).Run(context.Background(), resumed)
	require.NoError(t, err)

	// The unevaluated sentinel lets the loop enter despite the generous
	// threshold; the first evaluation is a self-comparison that carries no
	// stability information, so the loop stops after the second.
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Checkpoints)
	assert.Equal(t, int64(10), res.StepCount)
	assert.Equal(t, 2, res.Score.Evaluations)
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	t.Parallel()

	interrupted := testConfig(t.TempDir())
	interrupted.Convergence.MatchBatch = 10
	interrupted.Sampling.IterationBudget = 30
	interrupted.Convergence.Threshold = -100 // Unreachable.
	require.NoError(t, interrupted.Validate())

	st, resumed := openStore(t, interrupted)
	require.False(t, resumed)

	_, err := newExperiment(interrupted, &stubSampler{}, wdIntegrator(), st).Run(context.Background(), resumed)
	require.NoError(t, err)

	// Resume the same store with a doubled budget.
	interrupted.Sampling.IterationBudget = 60

	st, resumed = openStore(t, interrupted)
	require.True(t, resumed)

	resResumed, err := newExperiment(interrupted, &stubSampler{}, wdIntegrator(), st).Run(context.Background(), resumed)
	require.NoError(t, err)

	// Straight run with the full budget in a fresh store.
	straight := testConfig(t.TempDir())
	straight.Convergence.MatchBatch = 10
	straight.Sampling.IterationBudget = 60
	straight.Convergence.Threshold = -100
	require.NoError(t, straight.Validate())

	st2, resumed2 := openStore(t, straight)
	require.False(t, resumed2)

	resStraight, err := newExperiment(straight, &stubSampler{}, wdIntegrator(), st2).Run(context.Background(), resumed2)
	require.NoError(t, err)

	assert.Equal(t, resStraight.StepCount, resResumed.StepCount)
	assert.Equal(t, resStraight.ConvergedRows, resResumed.ConvergedRows)
	assert.Equal(t, resStraight.Totals, resResumed.Totals)

	// The persisted converged populations are identical row for row.
	stA, _ := openStore(t, interrupted)
	defer stA.Close()

	stB, _ := openStore(t, straight)
	defer stB.Close()

	convA, err := stA.LoadConverged()
	require.NoError(t, err)

	convB, err := stB.LoadConverged()
	require.NoError(t, err)

	assert.Equal(t, convB, convA)
}

func TestRestrictToConvergingNarrowsBufferedTables(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir())
	cfg.Filters.RestrictToConverging = true
	cfg.Sampling.IterationBudget = 5
	cfg.Convergence.MatchBatch = 5
	require.NoError(t, cfg.Validate())

	st, resumed := openStore(t, cfg)

	res, err := newExperiment(cfg, &stubSampler{}, wdIntegrator(), st).Run(context.Background(), resumed)
	require.NoError(t, err)
	require.Equal(t, 1, res.Checkpoints)

	st2, _ := openStore(t, cfg)
	defer st2.Close()

	converged, err := st2.LoadConverged()
	require.NoError(t, err)
	assert.Len(t, converged, 5)
}

func TestRunRequiresCollaborators(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t.TempDir())
	require.NoError(t, cfg.Validate())

	st, resumed := openStore(t, cfg)
	defer st.Close()

	exp := newExperiment(cfg, &stubSampler{}, wdIntegrator(), st)
	exp.Sampler = nil

	_, err := exp.Run(context.Background(), resumed)
	assert.ErrorIs(t, err, experiment.ErrNoSampler)
}
