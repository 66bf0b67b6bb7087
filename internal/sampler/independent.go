package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/stellarforge/popsynth/internal/population"
)

// Physical constants (SI unless noted).
const (
	gravConst   = 6.67384e-11
	rsunMeters  = 6.955e8
	msunKG      = 1.9891e30
	secondsDay  = 86400.0
	kstarCutoff = 0.7 // Msun; below this stars initialize as kstar 0.
)

// Kroupa (1993) inverse-CDF segment constants, normalization per
// Hurley (2002), valid between 0.1 and 100 Msun.
const (
	kroupaLowCut   = 0.740074
	kroupaHighCut  = 0.908422
	kroupaMaxU     = 0.9999797
	kroupaLowNorm  = 0.968533
	kroupaMidNorm  = 0.129758
	kroupaHighNorm = 0.0915941
)

// Salpeter (1955) power-law IMF bounds and slope.
const (
	salpeterSlope = -2.35
	imfMassLo     = 0.1
	imfMassHi     = 100.0
)

// Compact-object source cuts: when the target final state is a neutron star
// or black hole, primaries below the progenitor mass floor are redrawn.
const (
	kstarNSBound      = 12
	massCutNSSource   = 8.0  // Msun; minimum primary mass to form an NS.
	massCutBHSource   = 15.0 // Msun; minimum primary mass to form a BH.
	kstarMassCutBound = 13
	secondaryQMin     = 0.001
)

// Han (1998) separation distribution constants.
const (
	hanLowCut  = 0.0583333
	hanLowNorm = 0.00368058
	hanHiNorm  = 0.07
)

// Log-normal orbital-period model parameters, log10(porb/days).
const (
	logNormalPorbMu    = 5.03
	logNormalPorbSigma = 2.28
)

// Model names accepted by NewIndependent.
var (
	primaryModels = map[string]bool{"kroupa93": true, "salpeter55": true}
	porbModels    = map[string]bool{"han": true, "log_normal": true}
	eccModels     = map[string]bool{"thermal": true, "uniform": true}
	sfhModels     = map[string]bool{"const": true, "burst": true}
)

// ErrUnknownModel indicates a distributional model name with no implementation.
var ErrUnknownModel = errors.New("unknown distribution model")

// Independent samples each orbital parameter from an independently chosen
// distribution: an IMF for the primary, a uniform mass ratio for the
// secondary, a mass-dependent binary fraction, and named period,
// eccentricity, and star-formation-history models.
type Independent struct {
	models ModelSet
}

// NewIndependent validates the model choices and builds the sampler.
func NewIndependent(models ModelSet) (*Independent, error) {
	if !primaryModels[models.Primary] {
		return nil, fmt.Errorf("%w: primary %q", ErrUnknownModel, models.Primary)
	}

	if !porbModels[models.Porb] {
		return nil, fmt.Errorf("%w: porb %q", ErrUnknownModel, models.Porb)
	}

	if !eccModels[models.Ecc] {
		return nil, fmt.Errorf("%w: ecc %q", ErrUnknownModel, models.Ecc)
	}

	if !sfhModels[models.SFH] {
		return nil, fmt.Errorf("%w: sfh %q", ErrUnknownModel, models.SFH)
	}

	return &Independent{models: models}, nil
}

// Name implements Sampler.
func (s *Independent) Name() string { return "independent" }

// Sample draws req.Size binary systems. Primaries failing the binary-fraction
// draw are counted as singles in the mass statistics but produce no row.
func (s *Independent) Sample(ctx context.Context, req Request) (population.InitialTable, population.MassStats, error) {
	rng := rand.New(rand.NewSource(req.Seed))

	table := make(population.InitialTable, 0, req.Size)

	var stats population.MassStats

	for len(table) < req.Size {
		if err := ctx.Err(); err != nil {
			return nil, population.MassStats{}, fmt.Errorf("sampling interrupted: %w", err)
		}

		primary := s.samplePrimary(rng, req)
		if primary == 0 {
			continue // Draw fell below the compact-object mass cut.
		}

		if !binarySelect(rng, primary) {
			stats.MassSingles += primary
			stats.NSingles++

			continue
		}

		secondary := primary * (secondaryQMin + rng.Float64()*(1-secondaryQMin))

		row := population.InitialRow{
			Mass1:       primary,
			Mass2:       secondary,
			Porb:        s.samplePorb(rng, primary, secondary),
			Ecc:         s.sampleEcc(rng),
			Metallicity: req.Metallicity,
			TPhysFinal:  s.sampleFormationTime(rng, req),
			Kstar1:      initialKstar(primary),
			Kstar2:      initialKstar(secondary),
		}

		stats.MassBinaries += primary + secondary
		stats.NBinaries++

		table = append(table, row)
	}

	return table, stats, nil
}

// samplePrimary draws one primary mass from the configured IMF, applying the
// compact-object source mass cut. Returns 0 when the draw is cut.
func (s *Independent) samplePrimary(rng *rand.Rand, req Request) float64 {
	var mass float64

	switch s.models.Primary {
	case "kroupa93":
		mass = sampleKroupa93(rng)
	case "salpeter55":
		mass = sampleSalpeter55(rng)
	}

	hi := req.Kstar1Final[1]

	switch {
	case hi > kstarMassCutBound && mass <= massCutBHSource:
		return 0
	case hi > kstarNSBound && hi <= kstarMassCutBound && mass <= massCutNSSource:
		return 0
	default:
		return mass
	}
}

// sampleKroupa93 inverts the three-segment Kroupa (1993) cumulative mass
// function between 0.1 and 100 Msun.
func sampleKroupa93(rng *rand.Rand) float64 {
	u := rng.Float64() * kroupaMaxU

	switch {
	case u <= kroupaLowCut:
		return math.Pow(math.Pow(imfMassLo, -3.0/10.0)-u/kroupaLowNorm, -10.0/3.0)
	case u < kroupaHighCut:
		return math.Pow(math.Pow(0.5, -6.0/5.0)-(u-kroupaLowCut)/kroupaMidNorm, -5.0/6.0)
	default:
		return math.Pow(1-(u-kroupaHighCut)/kroupaHighNorm, -10.0/17.0)
	}
}

// sampleSalpeter55 inverts the single power-law Salpeter (1955) IMF between
// 0.1 and 100 Msun.
func sampleSalpeter55(rng *rand.Rand) float64 {
	exp := salpeterSlope + 1

	lo := math.Pow(imfMassLo, exp)
	hi := math.Pow(imfMassHi, exp)

	return math.Pow(lo+rng.Float64()*(hi-lo), 1/exp)
}

// binarySelect applies the van Haaften et al. (2013) mass-dependent binary
// fraction: 1/2 + 1/4 log10(m), clamped to [0, 1].
func binarySelect(rng *rand.Rand, primary float64) bool {
	frac := 0.5 + 0.25*math.Log10(primary)
	frac = math.Max(0, math.Min(1, frac))

	return frac > rng.Float64()
}

// samplePorb draws an orbital period in days.
func (s *Independent) samplePorb(rng *rand.Rand, mass1, mass2 float64) float64 {
	if s.models.Porb == "log_normal" {
		return math.Pow(10, rng.NormFloat64()*logNormalPorbSigma+logNormalPorbMu)
	}

	// Han (1998): draw a separation, then convert via Kepler's third law.
	u := rng.Float64()

	var sepRsun float64
	if u <= hanLowCut {
		sepRsun = math.Pow(u/hanLowNorm, 5.0/6.0)
	} else {
		sepRsun = math.Exp(u/hanHiNorm + math.Log(10.0))
	}

	sep := sepRsun * rsunMeters
	totalMass := (mass1 + mass2) * msunKG
	porbSec := math.Sqrt(4 * math.Pi * math.Pi / (gravConst * totalMass) * sep * sep * sep)

	return porbSec / secondsDay
}

// sampleEcc draws an eccentricity. The thermal distribution follows
// Heggie (1975).
func (s *Independent) sampleEcc(rng *rand.Rand) float64 {
	if s.models.Ecc == "thermal" {
		return math.Sqrt(rng.Float64())
	}

	return rng.Float64()
}

// sampleFormationTime assigns the evolution time in Myr from the
// star-formation history: constant over the window, or a burst of
// SFDuration starting SFStart ago.
func (s *Independent) sampleFormationTime(rng *rand.Rand, req Request) float64 {
	if s.models.SFH == "burst" {
		return req.SFStart - rng.Float64()*req.SFDuration
	}

	return rng.Float64() * req.SFStart
}

// initialKstar classifies a zero-age star: kstar 1 at or above the
// hydrogen-burning cutoff, kstar 0 below it.
func initialKstar(mass float64) int {
	if mass >= kstarCutoff {
		return 1
	}

	return 0
}
