package accum_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarforge/popsynth/internal/accum"
	"github.com/stellarforge/popsynth/internal/population"
)

func filteredBatch(base int64) (population.Batch, population.TimestepTable) {
	batch := population.Batch{
		Initial:   population.InitialTable{{BinNum: base}},
		Events:    population.EventTable{{BinNum: base}},
		Timesteps: population.TimestepTable{{BinNum: base, BinState: population.StateAlive}},
		Kicks:     population.KickTable{{BinNum: base, Star: 1}},
	}

	return batch, batch.Timesteps
}

func TestBuffersMergeAppends(t *testing.T) {
	t.Parallel()

	var b accum.Buffers

	first, conv1 := filteredBatch(0)
	second, conv2 := filteredBatch(1)

	b.Merge(first, conv1)
	b.Merge(second, conv2)

	assert.Len(t, b.Initial, 2)
	assert.Len(t, b.Events, 2)
	assert.Len(t, b.Timesteps, 2)
	assert.Len(t, b.Kicks, 2)
	assert.Len(t, b.Converging, 2)
	assert.Equal(t, 10, b.Rows())
}

func TestBuffersReset(t *testing.T) {
	t.Parallel()

	var b accum.Buffers

	batch, conv := filteredBatch(0)
	b.Merge(batch, conv)
	b.Reset()

	assert.Zero(t, b.Rows())
}

func TestStateConvergedRowsSpansBufferAndTable(t *testing.T) {
	t.Parallel()

	var s accum.State

	s.Converged = population.TimestepTable{{BinNum: 100}}

	batch, conv := filteredBatch(0)
	s.Buffers.Merge(batch, conv)

	assert.Equal(t, 2, s.ConvergedRows())
}

func TestPromoteConvergedGrowsLongLivedTable(t *testing.T) {
	t.Parallel()

	var s accum.State

	sizes := []int{0}

	for base := int64(0); base < 3; base++ {
		batch, conv := filteredBatch(base)
		s.Buffers.Merge(batch, conv)

		contribution := s.PromoteConverged()
		s.Buffers.Reset()

		require.Len(t, contribution, 1)
		sizes = append(sizes, len(s.Converged))
	}

	// The long-lived table never shrinks across checkpoints.
	for i := 1; i < len(sizes); i++ {
		assert.Greater(t, sizes[i], sizes[i-1])
	}

	assert.Len(t, s.Converged, 3)
}
