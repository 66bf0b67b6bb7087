package match_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarforge/popsynth/internal/match"
	"github.com/stellarforge/popsynth/internal/population"
)

func gaussianTable(rng *rand.Rand, n int, mean float64) population.TimestepTable {
	table := make(population.TimestepTable, n)
	for i := range table {
		table[i] = population.TimestepRow{
			Mass1: mean + rng.NormFloat64(),
			Porb:  10 * (mean + rng.NormFloat64()),
		}
	}

	return table
}

func TestZeroScoreIsUnevaluatedSentinel(t *testing.T) {
	t.Parallel()

	var s match.Score

	assert.False(t, s.Evaluated())
	assert.True(t, math.IsInf(s.Max(), 1))
	// Not converged no matter how generous the threshold.
	assert.False(t, s.Converged(math.Inf(1)))
}

func TestConvergedRequiresTwoEvaluations(t *testing.T) {
	t.Parallel()

	var s match.Score

	s.Record(map[string]float64{"mass_1": -8})
	assert.False(t, s.Converged(-5), "first evaluation is self-comparison")

	s.Record(map[string]float64{"mass_1": -8})
	assert.True(t, s.Converged(-5))
}

func TestConvergedNeedsAllParamsBelowThreshold(t *testing.T) {
	t.Parallel()

	s := match.Score{
		Values:      map[string]float64{"mass_1": -8, "porb": -2},
		Evaluations: 2,
	}

	assert.False(t, s.Converged(-5))
	assert.InDelta(t, -2.0, s.Max(), 1e-12)
}

func TestEvaluateSelfComparisonScoresExactAgreement(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	full := gaussianTable(rng, 500, 10)

	e := match.NewBinnedEvaluator()

	// Empty reference is the first-checkpoint degenerate case.
	scores, err := e.Evaluate([]string{"mass_1", "porb"}, full, nil)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	for _, v := range scores {
		assert.InDelta(t, -9.0, v, 0.1)
	}
}

func TestEvaluateSimilarSamplesScoreLow(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(2))
	reference := gaussianTable(rng, 5000, 10)
	full := append(population.TimestepTable{}, reference...)
	full = append(full, gaussianTable(rng, 500, 10)...)

	e := match.NewBinnedEvaluator()

	scores, err := e.Evaluate([]string{"mass_1"}, full, reference)
	require.NoError(t, err)

	assert.Less(t, scores["mass_1"], -1.5)
}

func TestEvaluateDissimilarSamplesScoreHigh(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	reference := gaussianTable(rng, 1000, 10)
	shifted := gaussianTable(rng, 1000, 50)

	e := match.NewBinnedEvaluator()

	scores, err := e.Evaluate([]string{"mass_1"}, shifted, reference)
	require.NoError(t, err)

	// Disjoint distributions approach log10(1-0) = 0.
	assert.Greater(t, scores["mass_1"], -0.5)
}

func TestEvaluateUnknownParam(t *testing.T) {
	t.Parallel()

	e := match.NewBinnedEvaluator()

	_, err := e.Evaluate([]string{"spin"}, gaussianTable(rand.New(rand.NewSource(4)), 10, 1), nil)
	assert.ErrorIs(t, err, match.ErrUnknownParam)
}

func TestEvaluateDegenerateConstantColumn(t *testing.T) {
	t.Parallel()

	table := population.TimestepTable{
		{Ecc: 0}, {Ecc: 0}, {Ecc: 0},
	}

	e := match.NewBinnedEvaluator()

	scores, err := e.Evaluate([]string{"ecc"}, table, table)
	require.NoError(t, err)
	assert.InDelta(t, -9.0, scores["ecc"], 0.1)
}

func TestKnownParams(t *testing.T) {
	t.Parallel()

	for _, p := range match.Params() {
		assert.True(t, match.Known(p))
	}

	assert.False(t, match.Known("spin"))
}
