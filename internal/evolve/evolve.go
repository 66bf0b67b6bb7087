// Package evolve distributes a batch of sampled initial conditions across
// stellar-evolution integrator workers. The integrator itself is an injected
// collaborator; this package owns fan-out, result ordering, and binary-number
// assignment so the rest of the pipeline sees one coherent batch.
package evolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/stellarforge/popsynth/internal/population"
)

// ErrNoIntegrator indicates a pool constructed without an integrator.
var ErrNoIntegrator = errors.New("no integrator configured")

// SystemResult holds everything the integrator produced for one system.
// BinNum values inside are local to the system and rewritten by the pool.
type SystemResult struct {
	Events    population.EventTable
	Timesteps population.TimestepTable
	Kicks     population.KickTable
}

// OutputPolicy selects which timestep rows the integrator reports.
type OutputPolicy struct {
	// Dtp is the timestep output interval in Myr. Zero with FinalOnly unset
	// means the integrator's native resolution.
	Dtp       float64
	FinalOnly bool
}

// Timesteps requests snapshot rows every dtp Myr up to the final time.
func Timesteps(dtp float64) OutputPolicy { return OutputPolicy{Dtp: dtp} }

// FinalOnly requests a single snapshot row at the final requested time.
func FinalOnly() OutputPolicy { return OutputPolicy{FinalOnly: true} }

// Integrator evolves one binary system. Implementations are expected to be
// safe for concurrent use; the call is opaque and blocking, so ctx is only
// honored between systems.
type Integrator interface {
	Name() string
	Integrate(ctx context.Context, system population.InitialRow, params map[string]float64, policy OutputPolicy) (SystemResult, error)
}

// Pool fans a batch of systems across integrator workers.
type Pool struct {
	Workers    int
	Integrator Integrator
	Logger     *slog.Logger
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type job struct {
	pos int
	row population.InitialRow
}

type jobResult struct {
	pos int
	res SystemResult
	err error
}

// Evolve integrates every system in initial and merges the results in input
// order. Each system, and every row it produced, is assigned the binary
// number startIndex + its position in the batch, so ids are dense and
// contiguous regardless of worker interleaving.
func (p *Pool) Evolve(ctx context.Context, initial population.InitialTable, params map[string]float64, startIndex int64, policy OutputPolicy) (population.Batch, error) {
	if p.Integrator == nil {
		return population.Batch{}, ErrNoIntegrator
	}

	if len(initial) == 0 {
		return population.Batch{}, nil
	}

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	if workers > len(initial) {
		workers = len(initial)
	}

	p.logger().InfoContext(ctx, "evolving batch",
		"systems", len(initial),
		"workers", workers,
		"integrator", p.Integrator.Name(),
		"start_index", startIndex)

	jobs := make(chan job)
	results := make(chan jobResult, len(initial))

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- jobResult{pos: j.pos, err: err}

					continue
				}

				res, err := p.Integrator.Integrate(ctx, j.row, params, policy)
				results <- jobResult{pos: j.pos, res: res, err: err}
			}
		}()
	}

	for i, row := range initial {
		jobs <- job{pos: i, row: row}
	}

	close(jobs)
	wg.Wait()
	close(results)

	ordered := make([]SystemResult, len(initial))

	for r := range results {
		if r.err != nil {
			return population.Batch{}, fmt.Errorf("integrate system %d: %w", r.pos, r.err)
		}

		ordered[r.pos] = r.res
	}

	return assemble(initial, ordered, startIndex), nil
}

// assemble merges per-system results into one batch, rewriting every binary
// number to startIndex + position.
func assemble(initial population.InitialTable, results []SystemResult, startIndex int64) population.Batch {
	var batch population.Batch

	batch.Initial = make(population.InitialTable, 0, len(initial))

	for i, row := range initial {
		id := startIndex + int64(i)

		row.BinNum = id
		batch.Initial = append(batch.Initial, row)

		for _, ev := range results[i].Events {
			ev.BinNum = id
			batch.Events = append(batch.Events, ev)
		}

		for _, ts := range results[i].Timesteps {
			ts.BinNum = id
			batch.Timesteps = append(batch.Timesteps, ts)
		}

		for _, k := range results[i].Kicks {
			k.BinNum = id
			batch.Kicks = append(batch.Kicks, k)
		}
	}

	return batch
}
