package population_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarforge/popsynth/internal/population"
)

func sampleBatch() population.Batch {
	return population.Batch{
		Initial: population.InitialTable{
			{BinNum: 0, Mass1: 1.2},
			{BinNum: 1, Mass1: 8.5},
			{BinNum: 2, Mass1: 0.9},
		},
		Events: population.EventTable{
			{BinNum: 0, TPhys: 0},
			{BinNum: 1, TPhys: 0},
			{BinNum: 1, TPhys: 12.5},
			{BinNum: 2, TPhys: 0},
		},
		Timesteps: population.TimestepTable{
			{BinNum: 0, TPhys: 100, BinState: population.StateAlive},
			{BinNum: 1, TPhys: 100, BinState: population.StateMerged},
			{BinNum: 2, TPhys: 100, BinState: population.StateAlive},
		},
		Kicks: population.KickTable{
			{BinNum: 1, Star: 1, VKick: 250},
		},
	}
}

func TestBatchRestrictKeepsOnlyRequestedSystems(t *testing.T) {
	t.Parallel()

	batch := sampleBatch()
	ids := population.IDSet{1: {}}

	got := batch.Restrict(ids)

	require.Len(t, got.Initial, 1)
	assert.Len(t, got.Events, 2)
	assert.Len(t, got.Timesteps, 1)
	assert.Len(t, got.Kicks, 1)

	for _, r := range got.Events {
		assert.Equal(t, int64(1), r.BinNum)
	}
}

func TestBatchRestrictPreservesOrder(t *testing.T) {
	t.Parallel()

	batch := sampleBatch()
	ids := population.IDSet{0: {}, 2: {}}

	got := batch.Restrict(ids)

	require.Len(t, got.Initial, 2)
	assert.Equal(t, int64(0), got.Initial[0].BinNum)
	assert.Equal(t, int64(2), got.Initial[1].BinNum)
}

func TestMaxBinNumEmptyBatch(t *testing.T) {
	t.Parallel()

	var batch population.Batch

	assert.Equal(t, int64(-1), batch.MaxBinNum())
}

func TestMaxBinNumScansAllTables(t *testing.T) {
	t.Parallel()

	batch := population.Batch{
		Initial: population.InitialTable{{BinNum: 3}},
		Kicks:   population.KickTable{{BinNum: 7}},
	}

	assert.Equal(t, int64(7), batch.MaxBinNum())
}

func TestTimestepIDs(t *testing.T) {
	t.Parallel()

	table := population.TimestepTable{
		{BinNum: 4}, {BinNum: 4}, {BinNum: 9},
	}

	ids := table.IDs()

	assert.Len(t, ids, 2)
	assert.True(t, ids.Contains(4))
	assert.True(t, ids.Contains(9))
	assert.False(t, ids.Contains(5))
}

func TestMassStatsAdd(t *testing.T) {
	t.Parallel()

	stats := population.MassStats{MassSingles: 10, NSingles: 5}
	stats.Add(population.MassStats{MassSingles: 2.5, MassBinaries: 30, NSingles: 1, NBinaries: 12})

	assert.InDelta(t, 12.5, stats.MassSingles, 1e-12)
	assert.InDelta(t, 30.0, stats.MassBinaries, 1e-12)
	assert.Equal(t, int64(6), stats.NSingles)
	assert.Equal(t, int64(12), stats.NBinaries)
}
