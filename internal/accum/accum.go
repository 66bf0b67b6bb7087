// Package accum holds the in-memory accumulation state between checkpoints:
// append-only buffers of filtered tables plus the long-lived converged
// population, which only ever grows. Identifiers are globally unique by
// construction upstream, so merging never deduplicates.
package accum

import "github.com/stellarforge/popsynth/internal/population"

// DefaultMaxBufferRows bounds buffered rows between checkpoints. Crossing it
// forces an early checkpoint so a generous convergence batch setting cannot
// grow memory without bound.
const DefaultMaxBufferRows = 100_000

// Buffers are the since-last-checkpoint merges of filtered batch tables and
// the convergence-filtered contribution.
type Buffers struct {
	Initial    population.InitialTable
	Events     population.EventTable
	Timesteps  population.TimestepTable
	Kicks      population.KickTable
	Converging population.TimestepTable
}

// Merge appends one filtered batch and its convergence subset.
func (b *Buffers) Merge(filtered population.Batch, conv population.TimestepTable) {
	b.Initial = append(b.Initial, filtered.Initial...)
	b.Events = append(b.Events, filtered.Events...)
	b.Timesteps = append(b.Timesteps, filtered.Timesteps...)
	b.Kicks = append(b.Kicks, filtered.Kicks...)
	b.Converging = append(b.Converging, conv...)
}

// Rows is the total buffered row count across all tables.
func (b *Buffers) Rows() int {
	return len(b.Initial) + len(b.Events) + len(b.Timesteps) + len(b.Kicks) + len(b.Converging)
}

// Reset clears the buffers after a checkpoint.
func (b *Buffers) Reset() {
	*b = Buffers{}
}

// State is the full accumulation state the controller owns: buffers plus the
// long-lived converged table, which survives every checkpoint.
type State struct {
	Buffers   Buffers
	Converged population.TimestepTable
}

// ConvergedRows counts converged rows across the long-lived table and the
// not-yet-checkpointed buffer; the checkpoint trigger reads this.
func (s *State) ConvergedRows() int {
	return len(s.Converged) + len(s.Buffers.Converging)
}

// PromoteConverged moves the buffered convergence contribution into the
// long-lived table and returns the contribution. Called on checkpoint after
// the buffered tables have been persisted; the other buffers are cleared by
// the caller via Buffers.Reset.
func (s *State) PromoteConverged() population.TimestepTable {
	contribution := s.Buffers.Converging

	s.Converged = append(s.Converged, contribution...)

	return contribution
}
