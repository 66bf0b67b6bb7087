// Package match scores the statistical agreement between the accumulated
// converged population and its pre-existing portion. The score for each
// tracked parameter is log10(1 - c) of the cosine similarity c between
// normalized histograms of the two samples: smaller is closer, and exact
// agreement bottoms out near -9.
package match

import (
	"errors"
	"fmt"
	"math"

	"github.com/stellarforge/popsynth/internal/population"
)

// ErrUnknownParam indicates a tracked parameter with no extractor.
var ErrUnknownParam = errors.New("unknown convergence parameter")

// floor keeps the log argument positive when the histograms agree exactly.
const floor = 1e-9

// extractors maps tracked parameter names to timestep-row columns.
var extractors = map[string]func(population.TimestepRow) float64{
	"mass_1": func(r population.TimestepRow) float64 { return r.Mass1 },
	"mass_2": func(r population.TimestepRow) float64 { return r.Mass2 },
	"porb":   func(r population.TimestepRow) float64 { return r.Porb },
	"sep":    func(r population.TimestepRow) float64 { return r.Sep },
	"ecc":    func(r population.TimestepRow) float64 { return r.Ecc },
	"tphys":  func(r population.TimestepRow) float64 { return r.TPhys },
}

// Params lists the recognized convergence parameter names.
func Params() []string {
	return []string{"mass_1", "mass_2", "porb", "sep", "ecc", "tphys"}
}

// Known reports whether name has an extractor.
func Known(name string) bool {
	_, ok := extractors[name]

	return ok
}

// Score is the per-parameter convergence record. A zero Score carries the
// "not yet evaluated" sentinel: Evaluations is 0 and Converged is always
// false, so the loop enters regardless of the threshold's sign.
type Score struct {
	Values      map[string]float64
	Evaluations int
}

// Evaluated reports whether any checkpoint evaluation has happened.
func (s Score) Evaluated() bool { return s.Evaluations > 0 }

// Record replaces the score values and counts the evaluation.
func (s *Score) Record(values map[string]float64) {
	s.Values = values
	s.Evaluations++
}

// Max is the worst (largest) per-parameter value, or +Inf when unevaluated.
func (s Score) Max() float64 {
	if !s.Evaluated() {
		return math.Inf(1)
	}

	max := math.Inf(-1)

	for _, v := range s.Values {
		if v > max {
			max = v
		}
	}

	return max
}

// Converged reports whether every tracked parameter is at or below the
// threshold. The first evaluation compares the contribution with itself and
// carries no stability information, so at least two evaluations are
// required before the score can terminate the loop.
func (s Score) Converged(threshold float64) bool {
	if s.Evaluations < 2 {
		return false
	}

	for _, v := range s.Values {
		if v > threshold {
			return false
		}
	}

	return true
}

// Evaluator compares the full converged population against a reference
// sample and returns one score per tracked parameter.
type Evaluator interface {
	Evaluate(params []string, full, reference population.TimestepTable) (map[string]float64, error)
}

// BinnedEvaluator scores agreement with fixed-width histograms over the
// union range of both samples.
type BinnedEvaluator struct {
	Bins int
}

// defaultBins balances resolution against noise for batch sizes around the
// default convergence batch.
const defaultBins = 50

// NewBinnedEvaluator returns an evaluator with the default bin count.
func NewBinnedEvaluator() *BinnedEvaluator {
	return &BinnedEvaluator{Bins: defaultBins}
}

// Evaluate scores each tracked parameter. When reference is empty (the first
// checkpoint), the full sample is compared with itself, which scores exact
// agreement.
func (e *BinnedEvaluator) Evaluate(params []string, full, reference population.TimestepTable) (map[string]float64, error) {
	if len(reference) == 0 {
		reference = full
	}

	scores := make(map[string]float64, len(params))

	for _, p := range params {
		extract, ok := extractors[p]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParam, p)
		}

		a := column(full, extract)
		b := column(reference, extract)

		scores[p] = e.score(a, b)
	}

	return scores, nil
}

func column(t population.TimestepTable, extract func(population.TimestepRow) float64) []float64 {
	out := make([]float64, len(t))
	for i, r := range t {
		out[i] = extract(r)
	}

	return out
}

// score histograms both samples over their shared range and returns
// log10(1 - c) of the cosine similarity of the normalized counts.
func (e *BinnedEvaluator) score(a, b []float64) float64 {
	bins := e.Bins
	if bins < 1 {
		bins = defaultBins
	}

	lo, hi := bounds(a, b)
	if hi == lo {
		// All values identical in both samples: exact agreement.
		return math.Log10(floor)
	}

	ha := histogram(a, lo, hi, bins)
	hb := histogram(b, lo, hi, bins)

	var dot, na, nb float64

	for i := range ha {
		dot += ha[i] * hb[i]
		na += ha[i] * ha[i]
		nb += hb[i] * hb[i]
	}

	if na == 0 || nb == 0 {
		return math.Log10(1 + floor)
	}

	c := dot / math.Sqrt(na*nb)

	return math.Log10(math.Max(1-c, floor))
}

func bounds(a, b []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)

	for _, v := range a {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	for _, v := range b {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	return lo, hi
}

func histogram(values []float64, lo, hi float64, bins int) []float64 {
	h := make([]float64, bins)
	width := (hi - lo) / float64(bins)

	for _, v := range values {
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}

		if i < 0 {
			i = 0
		}

		h[i]++
	}

	// Normalize to a unit-sum distribution so sample sizes cancel.
	total := float64(len(values))
	if total > 0 {
		for i := range h {
			h[i] /= total
		}
	}

	return h
}
