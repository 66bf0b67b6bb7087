// Package config defines the run configuration for popsynth, loaded from a
// yaml file with environment and command-line overrides.
package config

import (
	"errors"
	"fmt"
)

// Config is the top-level configuration struct for popsynth.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Seed        int64              `mapstructure:"seed"`
	Sampling    SamplingConfig     `mapstructure:"sampling"`
	Physics     map[string]float64 `mapstructure:"physics"`
	Filters     FilterConfig       `mapstructure:"filters"`
	Convergence ConvergenceConfig  `mapstructure:"convergence"`
	Store       StoreConfig        `mapstructure:"store"`
}

// SamplingConfig holds initial-conditions sampling knobs.
type SamplingConfig struct {
	Method          string       `mapstructure:"method"`
	BatchSize       int          `mapstructure:"batch_size"`
	IterationBudget int64        `mapstructure:"iteration_budget"`
	Workers         int          `mapstructure:"workers"`
	Metallicity     float64      `mapstructure:"metallicity"`
	SFStart         float64      `mapstructure:"sf_start"`
	SFDuration      float64      `mapstructure:"sf_duration"`
	Models          ModelChoices `mapstructure:"models"`
}

// ModelChoices names the distributional models used by the independent
// sampling method. The multidim method ignores them.
type ModelChoices struct {
	Primary string `mapstructure:"primary"`
	Porb    string `mapstructure:"porb"`
	Ecc     string `mapstructure:"ecc"`
	SFH     string `mapstructure:"sfh"`
}

// FilterConfig holds the final-state and lifecycle selection criteria.
// Kstar ranges are one endpoint (exact type) or two (inclusive range).
type FilterConfig struct {
	Kstar1               []int `mapstructure:"kstar_1"`
	Kstar2               []int `mapstructure:"kstar_2"`
	BinStates            []int `mapstructure:"bin_states"`
	RestrictToConverging bool  `mapstructure:"restrict_to_converging"`
}

// ConvergenceConfig holds convergence tracking settings.
type ConvergenceConfig struct {
	Params     []string  `mapstructure:"params"`
	Filter     string    `mapstructure:"filter"`
	Limits     []float64 `mapstructure:"limits"`
	Threshold  float64   `mapstructure:"threshold"`
	MatchBatch int       `mapstructure:"match_batch"`
}

// StoreConfig holds persistent store settings.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// Sampling method names accepted by Config.Validate.
const (
	// MethodIndependent samples each orbital parameter from an independent
	// named distribution and requires explicit model choices.
	MethodIndependent = "independent"

	// MethodMultidim samples from joint mass/period/eccentricity
	// distributions and requires only a seed and worker count.
	MethodMultidim = "multidim"
)

// maxRangeEndpoints is the most endpoints a kstar range flag may carry.
const maxRangeEndpoints = 2

// Sentinel errors for configuration validation.
var (
	// ErrRangeEndpoints indicates a kstar range with zero or >2 endpoints.
	ErrRangeEndpoints = errors.New("kstar range must have one or two endpoints")
	// ErrRangeInverted indicates a kstar range with lo > hi.
	ErrRangeInverted = errors.New("kstar range endpoints must be ascending")
	// ErrRangeOrder indicates the primary range exceeds the secondary range.
	ErrRangeOrder = errors.New("kstar_1 range must not exceed kstar_2 range")
	// ErrUnknownMethod indicates an unrecognized sampling method name.
	ErrUnknownMethod = errors.New("sampling.method must be independent or multidim")
	// ErrMissingModels indicates the independent method lacks model choices.
	ErrMissingModels = errors.New("sampling.models must be set for the independent method")
	// ErrInvalidBatchSize indicates a non-positive batch size.
	ErrInvalidBatchSize = errors.New("sampling.batch_size must be positive")
	// ErrInvalidBudget indicates a non-positive iteration budget.
	ErrInvalidBudget = errors.New("sampling.iteration_budget must be positive")
	// ErrInvalidWorkers indicates a non-positive worker count.
	ErrInvalidWorkers = errors.New("sampling.workers must be positive")
	// ErrInvalidMetallicity indicates a non-positive metallicity.
	ErrInvalidMetallicity = errors.New("sampling.metallicity must be positive")
	// ErrNoConvergenceParams indicates an empty tracked-parameter list.
	ErrNoConvergenceParams = errors.New("convergence.params must not be empty")
	// ErrInvalidMatchBatch indicates a non-positive match batch threshold.
	ErrInvalidMatchBatch = errors.New("convergence.match_batch must be positive")
	// ErrNoConvergenceFilter indicates an empty convergence filter name.
	ErrNoConvergenceFilter = errors.New("convergence.filter must be set")
)

// Validate checks Config invariants and returns the first error found.
// It runs before any sampling begins; a failure here is fatal.
func (c *Config) Validate() error {
	rangeErr := c.validateRanges()
	if rangeErr != nil {
		return rangeErr
	}

	samplingErr := c.validateSampling()
	if samplingErr != nil {
		return samplingErr
	}

	return c.validateConvergence()
}

func (c *Config) validateRanges() error {
	k1, err := validateRange("kstar_1", c.Filters.Kstar1)
	if err != nil {
		return err
	}

	k2, err := validateRange("kstar_2", c.Filters.Kstar2)
	if err != nil {
		return err
	}

	// The primary member's range must sit at or below the secondary's.
	if k1[0] > k2[0] || k1[1] > k2[1] {
		return fmt.Errorf("%w: kstar_1 %v vs kstar_2 %v", ErrRangeOrder, c.Filters.Kstar1, c.Filters.Kstar2)
	}

	return nil
}

// validateRange normalizes a one- or two-endpoint range to [lo, hi].
func validateRange(name string, endpoints []int) ([2]int, error) {
	switch len(endpoints) {
	case 1:
		return [2]int{endpoints[0], endpoints[0]}, nil
	case maxRangeEndpoints:
		if endpoints[0] > endpoints[1] {
			return [2]int{}, fmt.Errorf("%w: %s %v", ErrRangeInverted, name, endpoints)
		}

		return [2]int{endpoints[0], endpoints[1]}, nil
	default:
		return [2]int{}, fmt.Errorf("%w: %s has %d", ErrRangeEndpoints, name, len(endpoints))
	}
}

func (c *Config) validateSampling() error {
	s := c.Sampling

	switch s.Method {
	case MethodIndependent:
		if s.Models.Primary == "" || s.Models.Porb == "" || s.Models.Ecc == "" || s.Models.SFH == "" {
			return ErrMissingModels
		}
	case MethodMultidim:
		// Needs only seed and workers.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, s.Method)
	}

	if s.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if s.IterationBudget <= 0 {
		return ErrInvalidBudget
	}

	if s.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if s.Metallicity <= 0 {
		return ErrInvalidMetallicity
	}

	return nil
}

func (c *Config) validateConvergence() error {
	if len(c.Convergence.Params) == 0 {
		return ErrNoConvergenceParams
	}

	if c.Convergence.Filter == "" {
		return ErrNoConvergenceFilter
	}

	if c.Convergence.MatchBatch <= 0 {
		return ErrInvalidMatchBatch
	}

	return nil
}

// Kstar1Range returns the normalized [lo, hi] range for the primary member.
// Valid only after Validate has succeeded.
func (c *Config) Kstar1Range() [2]int {
	r, _ := validateRange("kstar_1", c.Filters.Kstar1)

	return r
}

// Kstar2Range returns the normalized [lo, hi] range for the secondary member.
// Valid only after Validate has succeeded.
func (c *Config) Kstar2Range() [2]int {
	r, _ := validateRange("kstar_2", c.Filters.Kstar2)

	return r
}
