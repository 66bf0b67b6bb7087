// Package sampler draws batches of initial binary-star conditions. Two
// strategies are registered by name: "independent", which samples each
// orbital parameter from an explicitly chosen distribution, and "multidim",
// which samples correlated mass/period/eccentricity distributions and needs
// only a seed.
package sampler

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarforge/popsynth/internal/population"
)

// Request describes one batch draw. Seed makes the draw reproducible;
// the controller derives it from the base seed and the current step count.
type Request struct {
	Size        int
	Seed        int64
	Metallicity float64

	// SFStart is the lookback time in Myr at which star formation begins.
	SFStart float64

	// SFDuration is the burst duration in Myr; zero means constant star
	// formation over the whole window.
	SFDuration float64

	// KstarFinal are the target final-state ranges. Samplers oversample
	// massive primaries when the target is a compact object.
	Kstar1Final [2]int
	Kstar2Final [2]int
}

// Sampler produces a batch of initial conditions plus its aggregate
// mass/count statistics.
type Sampler interface {
	Name() string
	Sample(ctx context.Context, req Request) (population.InitialTable, population.MassStats, error)
}

// ErrUnknownSampler indicates a sampling method name with no registered constructor.
var ErrUnknownSampler = errors.New("unknown sampling method")

// ModelSet names the component distributions for the independent sampler.
type ModelSet struct {
	Primary string
	Porb    string
	Ecc     string
	SFH     string
}

// New constructs the named sampler. The independent method requires models;
// the multidim method ignores them.
func New(method string, models ModelSet) (Sampler, error) {
	switch method {
	case "independent":
		return NewIndependent(models)
	case "multidim":
		return NewMultidim(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSampler, method)
	}
}
