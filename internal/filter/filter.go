// Package filter reduces evolved batches in two stages: a final-state stage
// that keeps only timestep rows matching the requested stellar-type ranges
// and lifecycle states, and a convergence stage that applies a named
// criterion to select the population tracked for statistical stability.
// Empty results are valid outcomes at both stages, never errors.
package filter

import (
	"errors"
	"fmt"
	"slices"

	"github.com/stellarforge/popsynth/internal/population"
)

// Criteria is the final-state selection: inclusive kstar ranges for both
// members and the set of allowed lifecycle states. Validation happens at
// config time; values here are assumed well-formed.
type Criteria struct {
	Kstar1    [2]int
	Kstar2    [2]int
	BinStates []int
}

// Apply restricts the timestep table to rows matching the criteria, then
// restricts the other three tables to the surviving system identifiers.
// Every identifier in the result is present in the returned timestep table.
func Apply(batch population.Batch, c Criteria) population.Batch {
	kept := make(population.TimestepTable, 0, len(batch.Timesteps))

	for _, r := range batch.Timesteps {
		if r.Kstar1 < c.Kstar1[0] || r.Kstar1 > c.Kstar1[1] {
			continue
		}

		if r.Kstar2 < c.Kstar2[0] || r.Kstar2 > c.Kstar2[1] {
			continue
		}

		if !slices.Contains(c.BinStates, r.BinState) {
			continue
		}

		kept = append(kept, r)
	}

	ids := kept.IDs()

	return population.Batch{
		Initial:   batch.Initial.Restrict(ids),
		Events:    batch.Events.Restrict(ids),
		Timesteps: kept,
		Kicks:     batch.Kicks.Restrict(ids),
	}
}

// Convergence filter errors.
var (
	ErrUnknownFilter = errors.New("unknown convergence filter")
	ErrLimitCount    = errors.New("wrong number of convergence limits")
)

// Named convergence filters.
const (
	FilterAlive     = "alive"
	FilterMerged    = "merged"
	FilterDisrupted = "disrupted"
	FilterFormation = "formation"
	FilterPorbRange = "porb_range"
)

// Names lists the recognized convergence filter names.
func Names() []string {
	return []string{FilterAlive, FilterMerged, FilterDisrupted, FilterFormation, FilterPorbRange}
}

// SelectConverging applies the named convergence filter to the final-state
// filtered timestep table. limits is filter-specific: porb_range requires
// exactly [low, high] in days; the lifecycle and formation filters take none.
func SelectConverging(filtered population.TimestepTable, name string, limits []float64) (population.TimestepTable, error) {
	switch name {
	case FilterAlive:
		return byState(filtered, population.StateAlive, limits, name)
	case FilterMerged:
		return byState(filtered, population.StateMerged, limits, name)
	case FilterDisrupted:
		return byState(filtered, population.StateDisrupted, limits, name)
	case FilterFormation:
		if len(limits) != 0 {
			return nil, fmt.Errorf("%w: %s takes none, got %d", ErrLimitCount, name, len(limits))
		}

		return formationRows(filtered), nil
	case FilterPorbRange:
		if len(limits) != 2 {
			return nil, fmt.Errorf("%w: %s takes [low high], got %d", ErrLimitCount, name, len(limits))
		}

		return porbRows(filtered, limits[0], limits[1]), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
}

func byState(filtered population.TimestepTable, state int, limits []float64, name string) (population.TimestepTable, error) {
	if len(limits) != 0 {
		return nil, fmt.Errorf("%w: %s takes none, got %d", ErrLimitCount, name, len(limits))
	}

	out := make(population.TimestepTable, 0, len(filtered))

	for _, r := range filtered {
		if r.BinState == state {
			out = append(out, r)
		}
	}

	return out, nil
}

// formationRows keeps the earliest row per system: the moment the system
// first reached the target final-state configuration.
func formationRows(filtered population.TimestepTable) population.TimestepTable {
	earliest := make(map[int64]population.TimestepRow, len(filtered))
	order := make([]int64, 0, len(filtered))

	for _, r := range filtered {
		cur, seen := earliest[r.BinNum]
		if !seen {
			earliest[r.BinNum] = r
			order = append(order, r.BinNum)

			continue
		}

		if r.TPhys < cur.TPhys {
			earliest[r.BinNum] = r
		}
	}

	out := make(population.TimestepTable, 0, len(order))
	for _, id := range order {
		out = append(out, earliest[id])
	}

	return out
}

func porbRows(filtered population.TimestepTable, low, high float64) population.TimestepTable {
	out := make(population.TimestepTable, 0, len(filtered))

	for _, r := range filtered {
		if r.Porb >= low && r.Porb <= high {
			out = append(out, r)
		}
	}

	return out
}
