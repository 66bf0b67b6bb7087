package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarforge/popsynth/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Sampling: config.SamplingConfig{
			Method:          config.MethodIndependent,
			BatchSize:       config.DefaultBatchSize,
			IterationBudget: config.DefaultIterationBudget,
			Workers:         1,
			Metallicity:     config.DefaultMetallicity,
			SFStart:         config.DefaultSFStart,
			Models: config.ModelChoices{
				Primary: config.DefaultPrimaryModel,
				Porb:    config.DefaultPorbModel,
				Ecc:     config.DefaultEccModel,
				SFH:     config.DefaultSFHModel,
			},
		},
		Filters: config.FilterConfig{
			Kstar1:    []int{10, 12},
			Kstar2:    []int{10, 14},
			BinStates: []int{0},
		},
		Convergence: config.ConvergenceConfig{
			Params:     []string{"mass_1", "porb"},
			Filter:     config.DefaultConvFilter,
			Threshold:  config.DefaultThreshold,
			MatchBatch: config.DefaultMatchBatch,
		},
		Store: config.StoreConfig{Dir: config.DefaultStoreDir},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())
}

func TestValidateRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kstar1  []int
		kstar2  []int
		wantErr error
	}{
		{name: "single endpoint ok", kstar1: []int{11}, kstar2: []int{11}, wantErr: nil},
		{name: "empty range", kstar1: nil, kstar2: []int{10, 14}, wantErr: config.ErrRangeEndpoints},
		{name: "too many endpoints", kstar1: []int{1, 2, 3}, kstar2: []int{10, 14}, wantErr: config.ErrRangeEndpoints},
		{name: "inverted range", kstar1: []int{12, 10}, kstar2: []int{10, 14}, wantErr: config.ErrRangeInverted},
		{name: "primary above secondary", kstar1: []int{13, 14}, kstar2: []int{10, 12}, wantErr: config.ErrRangeOrder},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			cfg.Filters.Kstar1 = tt.kstar1
			cfg.Filters.Kstar2 = tt.kstar2

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSampling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "unknown method",
			mutate:  func(c *config.Config) { c.Sampling.Method = "grid" },
			wantErr: config.ErrUnknownMethod,
		},
		{
			name: "independent needs models",
			mutate: func(c *config.Config) {
				c.Sampling.Models.Porb = ""
			},
			wantErr: config.ErrMissingModels,
		},
		{
			name: "multidim needs no models",
			mutate: func(c *config.Config) {
				c.Sampling.Method = config.MethodMultidim
				c.Sampling.Models = config.ModelChoices{}
			},
			wantErr: nil,
		},
		{
			name:    "zero batch size",
			mutate:  func(c *config.Config) { c.Sampling.BatchSize = 0 },
			wantErr: config.ErrInvalidBatchSize,
		},
		{
			name:    "negative budget",
			mutate:  func(c *config.Config) { c.Sampling.IterationBudget = -1 },
			wantErr: config.ErrInvalidBudget,
		},
		{
			name:    "zero workers",
			mutate:  func(c *config.Config) { c.Sampling.Workers = 0 },
			wantErr: config.ErrInvalidWorkers,
		},
		{
			name:    "zero metallicity",
			mutate:  func(c *config.Config) { c.Sampling.Metallicity = 0 },
			wantErr: config.ErrInvalidMetallicity,
		},
		{
			name:    "no convergence params",
			mutate:  func(c *config.Config) { c.Convergence.Params = nil },
			wantErr: config.ErrNoConvergenceParams,
		},
		{
			name:    "no convergence filter",
			mutate:  func(c *config.Config) { c.Convergence.Filter = "" },
			wantErr: config.ErrNoConvergenceFilter,
		},
		{
			name:    "zero match batch",
			mutate:  func(c *config.Config) { c.Convergence.MatchBatch = 0 },
			wantErr: config.ErrInvalidMatchBatch,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestKstarRangeNormalization(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Filters.Kstar1 = []int{11}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, [2]int{11, 11}, cfg.Kstar1Range())
	assert.Equal(t, [2]int{10, 14}, cfg.Kstar2Range())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultMethod, cfg.Sampling.Method)
	assert.Equal(t, config.DefaultBatchSize, cfg.Sampling.BatchSize)
	assert.Equal(t, config.DefaultIterationBudget, cfg.Sampling.IterationBudget)
	assert.Equal(t, config.DefaultThreshold, cfg.Convergence.Threshold)
	assert.Equal(t, config.DefaultMatchBatch, cfg.Convergence.MatchBatch)
	assert.Equal(t, []int{0}, cfg.Filters.BinStates)
	assert.Equal(t, []string{"mass_1", "mass_2", "porb", "ecc"}, cfg.Convergence.Params)
}

func TestLoadExplicitFile(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/run.yaml"
	content := []byte("seed: 42\nsampling:\n  batch_size: 500\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 500, cfg.Sampling.BatchSize)
	// Defaults still apply to keys the file does not set.
	assert.Equal(t, config.DefaultMethod, cfg.Sampling.Method)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Parallel()

	_, err := config.Load(t.TempDir() + "/absent.yaml")
	assert.Error(t, err)
}
