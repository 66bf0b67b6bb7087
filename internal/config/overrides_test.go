package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarforge/popsynth/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestApplyOverridesWins(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Seed = 7

	o := config.Overrides{
		Seed:      ptr(int64(99)),
		BatchSize: ptr(250),
	}

	warnings := o.Apply(cfg)

	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 250, cfg.Sampling.BatchSize)
	require.Len(t, warnings, 2)
}

func TestApplyWarnsOnlyWhenValueChanges(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Seed = 99

	warnings := config.Overrides{Seed: ptr(int64(99))}.Apply(cfg)

	assert.Empty(t, warnings)
	assert.Equal(t, int64(99), cfg.Seed)
}

func TestApplyNilPointersLeaveConfigAlone(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	before := *cfg

	warnings := config.Overrides{}.Apply(cfg)

	assert.Empty(t, warnings)
	assert.Equal(t, before.Seed, cfg.Seed)
	assert.Equal(t, before.Sampling, cfg.Sampling)
}

func TestApplySliceOverride(t *testing.T) {
	t.Parallel()

	cfg := validConfig()

	warnings := config.Overrides{Kstar1: []int{13, 14}}.Apply(cfg)

	assert.Equal(t, []int{13, 14}, cfg.Filters.Kstar1)
	require.Len(t, warnings, 1)
	assert.Equal(t, "filters.kstar_1", warnings[0].Param)
}

func TestApplySliceNoWarningWhenFileUnset(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Convergence.Limits = nil

	warnings := config.Overrides{ConvLimits: []float64{1, 100}}.Apply(cfg)

	assert.Equal(t, []float64{1, 100}, cfg.Convergence.Limits)
	assert.Empty(t, warnings)
}

func TestOverrideWarningString(t *testing.T) {
	t.Parallel()

	w := config.OverrideWarning{
		Param:     "seed",
		FileValue: int64(1),
		FlagValue: int64(2),
		Source:    "command line",
	}

	assert.Contains(t, w.String(), "seed")
	assert.Contains(t, w.String(), "command line")
}
