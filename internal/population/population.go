// Package population defines the table data model shared by every stage of
// the synthesis pipeline: initial conditions, evolutionary-change events,
// per-timestep snapshots, and natal kicks, all keyed by a per-system binary
// number that stays stable from sampling through persistence.
package population

// Lifecycle states recorded in the timestep table.
const (
	StateAlive     = 0
	StateMerged    = 1
	StateDisrupted = 2
)

// InitialRow is one sampled binary system before evolution.
type InitialRow struct {
	BinNum      int64   `json:"bin_num"`
	Mass1       float64 `json:"mass_1"`
	Mass2       float64 `json:"mass_2"`
	Porb        float64 `json:"porb"`
	Ecc         float64 `json:"ecc"`
	Metallicity float64 `json:"metallicity"`
	TPhysFinal  float64 `json:"tphysf"`
	Kstar1      int     `json:"kstar_1"`
	Kstar2      int     `json:"kstar_2"`
}

// EventRow records one evolutionary change of state for a system.
type EventRow struct {
	BinNum    int64   `json:"bin_num"`
	TPhys     float64 `json:"tphys"`
	Mass1     float64 `json:"mass_1"`
	Mass2     float64 `json:"mass_2"`
	Kstar1    int     `json:"kstar_1"`
	Kstar2    int     `json:"kstar_2"`
	Sep       float64 `json:"sep"`
	Porb      float64 `json:"porb"`
	Ecc       float64 `json:"ecc"`
	RRLO1     float64 `json:"rrlo_1"`
	RRLO2     float64 `json:"rrlo_2"`
	EvolState int     `json:"evol_state"`
}

// TimestepRow is one requested-time snapshot of a system. BinState is one of
// the State constants; MergerType encodes the kstar pair at merger, or -1.
type TimestepRow struct {
	BinNum     int64   `json:"bin_num"`
	TPhys      float64 `json:"tphys"`
	Mass1      float64 `json:"mass_1"`
	Mass2      float64 `json:"mass_2"`
	Kstar1     int     `json:"kstar_1"`
	Kstar2     int     `json:"kstar_2"`
	Sep        float64 `json:"sep"`
	Porb       float64 `json:"porb"`
	Ecc        float64 `json:"ecc"`
	BinState   int     `json:"bin_state"`
	MergerType int     `json:"merger_type"`
}

// KickRow records one supernova natal kick. Star is 1 or 2.
type KickRow struct {
	BinNum int64   `json:"bin_num"`
	Star   int     `json:"star"`
	VKick  float64 `json:"vkick"`
	Phi    float64 `json:"phi"`
	Theta  float64 `json:"theta"`
}

// Table types. Rows for one system are contiguous and tables are ordered by
// BinNum, then time.
type (
	InitialTable  []InitialRow
	EventTable    []EventRow
	TimestepTable []TimestepRow
	KickTable     []KickRow
)

// MassStats aggregates the total mass and count of every system the sampler
// drew, including singles that produced no binary row. The totals let a
// population be normalized to the full amount of star formation it represents.
type MassStats struct {
	MassSingles  float64 `json:"mass_singles"`
	MassBinaries float64 `json:"mass_binaries"`
	NSingles     int64   `json:"n_singles"`
	NBinaries    int64   `json:"n_binaries"`
}

// Add accumulates other into s.
func (s *MassStats) Add(other MassStats) {
	s.MassSingles += other.MassSingles
	s.MassBinaries += other.MassBinaries
	s.NSingles += other.NSingles
	s.NBinaries += other.NBinaries
}

// IDSet is a set of binary numbers.
type IDSet map[int64]struct{}

// Contains reports whether id is in the set.
func (s IDSet) Contains(id int64) bool {
	_, ok := s[id]

	return ok
}

// Batch bundles the four tables produced by evolving one sampled batch.
type Batch struct {
	Initial   InitialTable
	Events    EventTable
	Timesteps TimestepTable
	Kicks     KickTable
}

// Systems is the number of systems in the batch.
func (b Batch) Systems() int { return len(b.Initial) }

// MaxBinNum is the largest binary number across all four tables, or -1 for
// an empty batch.
func (b Batch) MaxBinNum() int64 {
	max := int64(-1)

	for _, r := range b.Initial {
		if r.BinNum > max {
			max = r.BinNum
		}
	}

	for _, r := range b.Events {
		if r.BinNum > max {
			max = r.BinNum
		}
	}

	for _, r := range b.Timesteps {
		if r.BinNum > max {
			max = r.BinNum
		}
	}

	for _, r := range b.Kicks {
		if r.BinNum > max {
			max = r.BinNum
		}
	}

	return max
}

// Restrict returns a copy of the batch holding only rows whose binary number
// is in ids, preserving row order.
func (b Batch) Restrict(ids IDSet) Batch {
	return Batch{
		Initial:   b.Initial.Restrict(ids),
		Events:    b.Events.Restrict(ids),
		Timesteps: b.Timesteps.Restrict(ids),
		Kicks:     b.Kicks.Restrict(ids),
	}
}

// IDs collects the distinct binary numbers present in the table.
func (t TimestepTable) IDs() IDSet {
	ids := make(IDSet, len(t))

	for _, r := range t {
		ids[r.BinNum] = struct{}{}
	}

	return ids
}

// Restrict returns the rows whose binary number is in ids, in order.
func (t InitialTable) Restrict(ids IDSet) InitialTable {
	out := make(InitialTable, 0, len(t))

	for _, r := range t {
		if ids.Contains(r.BinNum) {
			out = append(out, r)
		}
	}

	return out
}

// Restrict returns the rows whose binary number is in ids, in order.
func (t EventTable) Restrict(ids IDSet) EventTable {
	out := make(EventTable, 0, len(t))

	for _, r := range t {
		if ids.Contains(r.BinNum) {
			out = append(out, r)
		}
	}

	return out
}

// Restrict returns the rows whose binary number is in ids, in order.
func (t TimestepTable) Restrict(ids IDSet) TimestepTable {
	out := make(TimestepTable, 0, len(t))

	for _, r := range t {
		if ids.Contains(r.BinNum) {
			out = append(out, r)
		}
	}

	return out
}

// Restrict returns the rows whose binary number is in ids, in order.
func (t KickTable) Restrict(ids IDSet) KickTable {
	out := make(KickTable, 0, len(t))

	for _, r := range t {
		if ids.Contains(r.BinNum) {
			out = append(out, r)
		}
	}

	return out
}
