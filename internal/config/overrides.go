package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// OverrideWarning records a command-line value displacing a config-file value.
// Warnings are logged by the caller rather than printed ad hoc.
type OverrideWarning struct {
	Param     string
	FileValue any
	FlagValue any
	Source    string
}

// String renders the warning for log output.
func (w OverrideWarning) String() string {
	return fmt.Sprintf("%s overridden by %s: %v -> %v", w.Param, w.Source, w.FileValue, w.FlagValue)
}

// LogValue implements slog.LogValuer so warnings log with structured fields.
func (w OverrideWarning) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("param", w.Param),
		slog.Any("file_value", w.FileValue),
		slog.Any("flag_value", w.FlagValue),
		slog.String("source", w.Source),
	)
}

// overrideSource is the source label for command-line overrides.
const overrideSource = "command line"

// Overrides carries explicitly set command-line values. Nil pointers mean
// the flag was not given and the config-file value stands.
type Overrides struct {
	Seed            *int64
	Method          *string
	BatchSize       *int
	IterationBudget *int64
	Workers         *int
	Metallicity     *float64
	SFStart         *float64
	SFDuration      *float64
	PrimaryModel    *string
	PorbModel       *string
	EccModel        *string
	SFHModel        *string
	Kstar1          []int
	Kstar2          []int
	ConvParams      []string
	ConvFilter      *string
	ConvLimits      []float64
	Threshold       *float64
	MatchBatch      *int
	StoreDir        *string
}

// Apply merges o into cfg. The command-line value always wins; a warning is
// recorded whenever it changes a value the config file had set.
func (o Overrides) Apply(cfg *Config) []OverrideWarning {
	var warnings []OverrideWarning

	warnings = override(warnings, "seed", &cfg.Seed, o.Seed)
	warnings = override(warnings, "sampling.method", &cfg.Sampling.Method, o.Method)
	warnings = override(warnings, "sampling.batch_size", &cfg.Sampling.BatchSize, o.BatchSize)
	warnings = override(warnings, "sampling.iteration_budget", &cfg.Sampling.IterationBudget, o.IterationBudget)
	warnings = override(warnings, "sampling.workers", &cfg.Sampling.Workers, o.Workers)
	warnings = override(warnings, "sampling.metallicity", &cfg.Sampling.Metallicity, o.Metallicity)
	warnings = override(warnings, "sampling.sf_start", &cfg.Sampling.SFStart, o.SFStart)
	warnings = override(warnings, "sampling.sf_duration", &cfg.Sampling.SFDuration, o.SFDuration)
	warnings = override(warnings, "sampling.models.primary", &cfg.Sampling.Models.Primary, o.PrimaryModel)
	warnings = override(warnings, "sampling.models.porb", &cfg.Sampling.Models.Porb, o.PorbModel)
	warnings = override(warnings, "sampling.models.ecc", &cfg.Sampling.Models.Ecc, o.EccModel)
	warnings = override(warnings, "sampling.models.sfh", &cfg.Sampling.Models.SFH, o.SFHModel)
	warnings = overrideSlice(warnings, "filters.kstar_1", &cfg.Filters.Kstar1, o.Kstar1)
	warnings = overrideSlice(warnings, "filters.kstar_2", &cfg.Filters.Kstar2, o.Kstar2)
	warnings = overrideSlice(warnings, "convergence.params", &cfg.Convergence.Params, o.ConvParams)
	warnings = override(warnings, "convergence.filter", &cfg.Convergence.Filter, o.ConvFilter)
	warnings = overrideSlice(warnings, "convergence.limits", &cfg.Convergence.Limits, o.ConvLimits)
	warnings = override(warnings, "convergence.threshold", &cfg.Convergence.Threshold, o.Threshold)
	warnings = override(warnings, "convergence.match_batch", &cfg.Convergence.MatchBatch, o.MatchBatch)
	warnings = override(warnings, "store.dir", &cfg.Store.Dir, o.StoreDir)

	return warnings
}

func override[T comparable](warnings []OverrideWarning, param string, dst *T, src *T) []OverrideWarning {
	if src == nil {
		return warnings
	}

	if *dst != *src {
		warnings = append(warnings, OverrideWarning{
			Param:     param,
			FileValue: *dst,
			FlagValue: *src,
			Source:    overrideSource,
		})
	}

	*dst = *src

	return warnings
}

func overrideSlice[T comparable](warnings []OverrideWarning, param string, dst *[]T, src []T) []OverrideWarning {
	if src == nil {
		return warnings
	}

	if len(*dst) > 0 && !slices.Equal(*dst, src) {
		warnings = append(warnings, OverrideWarning{
			Param:     param,
			FileValue: *dst,
			FlagValue: src,
			Source:    overrideSource,
		})
	}

	*dst = src

	return warnings
}
