package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/stellarforge/popsynth/internal/population"
)

// Multidim samples correlated primary-mass, period, mass-ratio, and
// eccentricity distributions following the Moe & Di Stefano (2017) fits:
// the companion frequency, power-law mass-ratio slopes, excess-twin
// fraction, and eccentricity slope all depend on primary mass and orbital
// period. Only a seed is required; there are no model choices.
type Multidim struct {
	massGrid []float64
	massCDF  []float64
}

// Primary mass function segments (single stars and primaries).
const (
	mdMassLo = 0.08
	mdMassHi = 150.0

	mdMassGridN = 1500

	// Binary-fraction anchors from the M+D17 multiplicity statistics:
	// 41% at 1 Msun, 96% at 28 Msun. mdBinFracM28Lg is log10(28).
	mdBinFracM1    = 0.41
	mdBinFracM28   = 0.96
	mdBinFracM28Lg = 1.4471580313422192
)

// Period, mass-ratio, and eccentricity grids.
const (
	mdLogPLo   = 0.15
	mdLogPHi   = 8.0
	mdLogPN    = 80
	mdQLo      = 0.1
	mdQHi      = 1.0
	mdQN       = 46
	mdEccLo    = 0.0001
	mdEccN     = 50
	mdTwinQMin = 0.95
)

// NewMultidim tabulates the primary mass CDF once; per-system distributions
// are built on demand because they depend on the drawn primary mass.
func NewMultidim() *Multidim {
	grid := make([]float64, mdMassGridN)
	pdf := make([]float64, mdMassGridN)

	for i := range grid {
		m := mdMassLo + (mdMassHi-mdMassLo)*float64(i)/float64(mdMassGridN-1)
		grid[i] = m
		pdf[i] = primaryMassPDF(m)
	}

	return &Multidim{massGrid: grid, massCDF: cumulative(pdf)}
}

// Name implements Sampler.
func (s *Multidim) Name() string { return "multidim" }

// Sample draws req.Size binaries; primaries that fail the binary-fraction
// draw contribute to the single-star mass statistics only.
func (s *Multidim) Sample(ctx context.Context, req Request) (population.InitialTable, population.MassStats, error) {
	rng := rand.New(rand.NewSource(req.Seed))

	table := make(population.InitialTable, 0, req.Size)

	var stats population.MassStats

	for len(table) < req.Size {
		if err := ctx.Err(); err != nil {
			return nil, population.MassStats{}, fmt.Errorf("sampling interrupted: %w", err)
		}

		mass1 := interpInverse(rng.Float64(), s.massCDF, s.massGrid)

		if rng.Float64() >= binaryFraction(mass1) {
			stats.MassSingles += mass1
			stats.NSingles++

			continue
		}

		logP := samplePeriod(rng, mass1)
		q := sampleMassRatio(rng, mass1, logP)
		mass2 := q * mass1

		row := population.InitialRow{
			Mass1:       mass1,
			Mass2:       mass2,
			Porb:        math.Pow(10, logP),
			Ecc:         sampleEccentricity(rng, mass1, logP),
			Metallicity: req.Metallicity,
			TPhysFinal:  formationTime(rng, req),
			Kstar1:      initialKstar(mass1),
			Kstar2:      initialKstar(mass2),
		}

		stats.MassBinaries += mass1 + mass2
		stats.NBinaries++

		table = append(table, row)
	}

	return table, stats, nil
}

// primaryMassPDF is the three-segment power-law primary mass function:
// slope -0.8 below 0.5 Msun, -1.6 to 1 Msun, -2.3 above.
func primaryMassPDF(m float64) float64 {
	switch {
	case m <= 0.5:
		return math.Pow(m, -0.8) / math.Pow(0.5, 1.6-0.8)
	case m <= 1.0:
		return math.Pow(m, -1.6)
	default:
		return math.Pow(m, -2.3)
	}
}

// binaryFraction interpolates the binary star fraction in log primary mass
// through the M+D17 anchors: zero at the hydrogen-burning limit, 41% at
// 1 Msun, 96% at 28 Msun.
func binaryFraction(mass1 float64) float64 {
	lg := math.Log10(mass1)

	switch {
	case mass1 <= mdMassLo:
		return 0
	case mass1 < 1:
		span := -math.Log10(mdMassLo)

		return mdBinFracM1 * (lg + span) / span
	case mass1 < 28:
		return mdBinFracM1 + (mdBinFracM28-mdBinFracM1)*lg/mdBinFracM28Lg
	default:
		return mdBinFracM28
	}
}

// periodFrequency is the frequency of companions with q > 0.3 per decade of
// orbital period (M+D17 section 9.3, Eqns 20-23).
func periodFrequency(mass1, logP float64) float64 {
	lgM := math.Log10(mass1)

	fLe1 := 0.020 + 0.04*lgM + 0.07*lgM*lgM
	fEq27 := 0.039 + 0.07*lgM + 0.01*lgM*lgM
	fEq55 := 0.078 - 0.05*lgM + 0.04*lgM*lgM

	const (
		alpha = 0.018
		dLogP = 0.7
	)

	switch {
	case logP <= 1:
		return fLe1
	case logP <= 2.7-dLogP:
		return fLe1 + (logP-1)/(1.7-dLogP)*(fEq27-fLe1-alpha*dLogP)
	case logP <= 2.7+dLogP:
		return fEq27 + alpha*(logP-2.7)
	case logP <= 5.5:
		return fEq27 + alpha*dLogP + (logP-2.7-dLogP)/(2.8-dLogP)*(fEq55-fEq27-alpha*dLogP)
	default:
		return fEq55 * math.Exp(-0.3*(logP-5.5))
	}
}

// innerBinaryProb approximates the probability that a companion at logP is
// the inner binary rather than an outer tertiary (M+D17 section 9.4).
func innerBinaryProb(mass1, logP float64) float64 {
	if logP <= 1.5 {
		return 1
	}

	p := 1 - 0.11*math.Pow(logP-1.5, 1.43)*math.Pow(mass1/10, 0.56)

	return math.Max(0, p)
}

// samplePeriod inverse-CDF samples log10(P/days) from the period-frequency
// distribution weighted by the inner-binary probability.
func samplePeriod(rng *rand.Rand, mass1 float64) float64 {
	grid := make([]float64, mdLogPN)
	pdf := make([]float64, mdLogPN)

	for i := range grid {
		logP := mdLogPLo + (mdLogPHi-mdLogPLo)*float64(i)/float64(mdLogPN-1)
		grid[i] = logP
		pdf[i] = periodFrequency(mass1, logP) * innerBinaryProb(mass1, logP)
	}

	return interpInverse(rng.Float64(), cumulative(pdf), grid)
}

// gammaLargeQ is the mass-ratio power-law slope across 0.3 < q < 1.0
// (M+D17 Eqns 9-11), interpolated in log primary mass.
func gammaLargeQ(mass1, logP float64) float64 {
	var gl12 float64
	if logP <= 5 {
		gl12 = -0.5
	} else {
		gl12 = -0.5 - 0.3*(logP-5)
	}

	var gl35 float64

	switch {
	case logP <= 1:
		gl35 = -0.5
	case logP <= 4.5:
		gl35 = -0.5 - 0.2*(logP-1)
	case logP <= 6.5:
		gl35 = -1.2 - 0.4*(logP-4.5)
	default:
		gl35 = -2.0
	}

	var gl6 float64

	switch {
	case logP <= 1:
		gl6 = -0.5
	case logP <= 2:
		gl6 = -0.5 - 0.9*(logP-1)
	case logP <= 4:
		gl6 = -1.4 - 0.3*(logP-2)
	default:
		gl6 = -2.0
	}

	return interpLogMass(mass1, 1.2, 3.5, 6.0, gl12, gl35, gl6)
}

// gammaSmallQ is the mass-ratio power-law slope across 0.1 < q < 0.3
// (M+D17 Eqns 13-15), interpolated in log primary mass.
func gammaSmallQ(mass1, logP float64) float64 {
	const gs12 = 0.3

	var gs35 float64

	switch {
	case logP <= 2.5:
		gs35 = 0.2
	case logP <= 5.5:
		gs35 = 0.2 - 0.3*(logP-2.5)
	default:
		gs35 = -0.7 - 0.2*(logP-5.5)
	}

	var gs6 float64

	switch {
	case logP <= 1:
		gs6 = 0.1
	case logP <= 3:
		gs6 = 0.1 - 0.15*(logP-1)
	case logP <= 5.6:
		gs6 = -0.2 - 0.5*(logP-3)
	default:
		gs6 = -1.5
	}

	return interpLogMass(mass1, 1.2, 3.5, 6.0, gs12, gs35, gs6)
}

// twinFraction is the excess fraction of near-equal-mass pairs
// (M+D17 section 9.1, Eqns 5-7).
func twinFraction(mass1, logP float64) float64 {
	ftLe1 := 0.3 - 0.15*math.Log10(mass1)

	logPTwin := 8.0 - mass1
	if mass1 >= 6.5 {
		logPTwin = 1.5
	}

	switch {
	case logP <= 1:
		return ftLe1
	case logP >= logPTwin:
		return 0
	default:
		return ftLe1 * (1 - (logP-1)/(logPTwin-1))
	}
}

// sampleMassRatio inverse-CDF samples q from the broken power law with the
// twin excess added above q = 0.95.
func sampleMassRatio(rng *rand.Rand, mass1, logP float64) float64 {
	gl := gammaLargeQ(mass1, logP)
	gs := gammaSmallQ(mass1, logP)
	ftwin := twinFraction(mass1, logP)

	grid := make([]float64, mdQN)
	pdf := make([]float64, mdQN)

	for i := range grid {
		q := mdQLo + (mdQHi-mdQLo)*float64(i)/float64(mdQN-1)
		grid[i] = q

		if q >= 0.3 {
			pdf[i] = math.Pow(q, gl)
		} else {
			pdf[i] = math.Pow(0.3, gl) * math.Pow(q/0.3, gs)
		}

		if q >= mdTwinQMin {
			pdf[i] *= 1 + ftwin/(1-mdTwinQMin)
		}
	}

	return interpInverse(rng.Float64(), cumulative(pdf), grid)
}

// eccSlope is the eccentricity power-law slope eta (M+D17 Eqns 17-18),
// interpolated in log primary mass. Below logP = 0.7 the fits at 0.7 apply.
func eccSlope(mass1, logP float64) float64 {
	var eta3, eta7 float64

	if logP >= 0.7 {
		eta3 = 0.6 - 0.7/(logP-0.5)
		eta7 = 0.9 - 0.2/(logP-0.5)
	} else {
		eta3 = -2.9
		eta7 = -0.1
	}

	switch {
	case mass1 <= 3:
		return eta3
	case mass1 <= 7:
		frac := (math.Log10(mass1) - math.Log10(3)) / (math.Log10(7) - math.Log10(3))

		return eta3 + frac*(eta7-eta3)
	default:
		return eta7
	}
}

// sampleEccentricity draws e from a power law truncated at the tidal
// circularization limit for the drawn period.
func sampleEccentricity(rng *rand.Rand, mass1, logP float64) float64 {
	// Periods below two days circularize.
	if math.Pow(10, logP) <= 2 {
		return 0
	}

	eta := eccSlope(mass1, logP)
	eMax := 1 - math.Pow(math.Pow(10, logP)/2, -2.0/3.0)

	grid := make([]float64, mdEccN)
	pdf := make([]float64, mdEccN)

	for i := range grid {
		e := mdEccLo + (eMax-mdEccLo)*float64(i)/float64(mdEccN-1)
		grid[i] = e
		pdf[i] = math.Pow(e, eta)

		// Linear turnover to zero across the last fifth of the range keeps
		// the distribution continuous at e_max.
		if e >= 0.8*eMax {
			pdf[i] *= (eMax - e) / (0.2 * eMax)
		}
	}

	return interpInverse(rng.Float64(), cumulative(pdf), grid)
}

// formationTime assigns the evolution time in Myr: a burst of SFDuration
// starting SFStart ago, or constant star formation over the window.
func formationTime(rng *rand.Rand, req Request) float64 {
	if req.SFDuration > 0 {
		return req.SFStart - rng.Float64()*req.SFDuration
	}

	return rng.Float64() * req.SFStart
}

// cumulative builds a normalized cumulative distribution from pdf samples.
func cumulative(pdf []float64) []float64 {
	cdf := make([]float64, len(pdf))

	sum := 0.0
	for i, p := range pdf {
		sum += p
		cdf[i] = sum
	}

	if sum > 0 {
		for i := range cdf {
			cdf[i] /= sum
		}
	}

	return cdf
}

// interpInverse maps a uniform draw through the inverse of a tabulated CDF.
func interpInverse(u float64, cdf, grid []float64) float64 {
	for i, c := range cdf {
		if u <= c {
			if i == 0 {
				return grid[0]
			}

			span := cdf[i] - cdf[i-1]
			if span == 0 {
				return grid[i]
			}

			frac := (u - cdf[i-1]) / span

			return grid[i-1] + frac*(grid[i]-grid[i-1])
		}
	}

	return grid[len(grid)-1]
}

// interpLogMass interpolates a quantity defined at three anchor masses in
// log10 primary mass, clamping outside the anchors.
func interpLogMass(mass1, m1, m2, m3, v1, v2, v3 float64) float64 {
	switch {
	case mass1 <= m1:
		return v1
	case mass1 <= m2:
		frac := (math.Log10(mass1) - math.Log10(m1)) / (math.Log10(m2) - math.Log10(m1))

		return v1 + frac*(v2-v1)
	case mass1 <= m3:
		frac := (math.Log10(mass1) - math.Log10(m2)) / (math.Log10(m3) - math.Log10(m2))

		return v2 + frac*(v3-v2)
	default:
		return v3
	}
}
