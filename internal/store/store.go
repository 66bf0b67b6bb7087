// Package store persists experiment state under a directory named by the
// run identity. Table data lives in append-only numbered segment files, one
// set per checkpoint; a small meta file carries the aggregate counters and
// segment counts and is rewritten atomically on every checkpoint. Any
// failure to load an existing store falls back to starting fresh.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stellarforge/popsynth/internal/population"
)

// Section names. Keys are namespaced per section so repeated runs with the
// same identity append rather than collide.
const (
	SectionConverged = "converged"
	SectionTimesteps = "timesteps"
	SectionEvents    = "events"
	SectionInitial   = "initial"
	SectionKicks     = "kicks"
	SectionScores    = "scores"
)

// Store file names.
const (
	metaBasename   = "meta"
	paramsFilename = "params.yaml"
	logFilename    = "run.log"
)

// metaVersion guards the meta layout; a mismatch falls back to fresh.
const metaVersion = 1

// dirPerm and filePerm are the permissions for store directories and files.
const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Meta is the atomically rewritten store header.
type Meta struct {
	Version       int                  `json:"version"`
	Identity      string               `json:"identity"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	StepCount     int64                `json:"step_count"`
	NextBinNum    int64                `json:"next_bin_num"`
	Totals        population.MassStats `json:"totals"`
	SegmentCounts map[string]int       `json:"segment_counts"`
}

// ScoreRecord is one persisted convergence evaluation.
type ScoreRecord struct {
	StepCount   int64              `json:"step_count"`
	Evaluations int                `json:"evaluations"`
	Values      map[string]float64 `json:"values"`
	Time        time.Time          `json:"time"`
}

// Checkpoint bundles everything one checkpoint persists.
type Checkpoint struct {
	Initial      population.InitialTable
	Events       population.EventTable
	Timesteps    population.TimestepTable
	Kicks        population.KickTable
	Contribution population.TimestepTable
	Score        ScoreRecord
	StepCount    int64
	NextBinNum   int64
	Totals       population.MassStats
}

// Store is the durable keyed experiment state. It is used from a single
// control goroutine; no locking.
type Store struct {
	dir       string
	identity  Identity
	meta      Meta
	codec     Codec
	metaCodec Codec
	logFile   *os.File
	logger    *slog.Logger
}

func (s *Store) slogger() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Open loads the store for identity under baseDir, creating it when absent.
// The second return reports whether existing state was resumed. Any load
// failure (missing meta, version mismatch, decode error) starts fresh: the
// run log is truncated and the previous segments are ignored.
func Open(baseDir string, identity Identity, logger *slog.Logger) (*Store, bool, error) {
	dir := filepath.Join(baseDir, identity.String())

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, false, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		identity:  identity,
		codec:     NewGobLZ4Codec(),
		metaCodec: NewJSONCodec(),
		logger:    logger,
	}

	resumed := s.loadMeta()
	if !resumed {
		s.meta = Meta{
			Version:       metaVersion,
			Identity:      identity.String(),
			CreatedAt:     time.Now().UTC(),
			SegmentCounts: make(map[string]int),
		}
	}

	logFlags := os.O_CREATE | os.O_WRONLY
	if resumed {
		logFlags |= os.O_APPEND
	} else {
		logFlags |= os.O_TRUNC
	}

	s.logFile, err = os.OpenFile(filepath.Join(dir, logFilename), logFlags, filePerm)
	if err != nil {
		return nil, false, fmt.Errorf("open run log: %w", err)
	}

	return s, resumed, nil
}

// loadMeta reports whether a usable meta file was read into s.meta.
func (s *Store) loadMeta() bool {
	f, err := os.Open(filepath.Join(s.dir, metaBasename+s.metaCodec.Extension()))
	if err != nil {
		return false
	}
	defer f.Close()

	var meta Meta

	err = s.metaCodec.Decode(f, &meta)
	if err != nil || meta.Version != metaVersion || meta.Identity != s.identity.String() {
		s.slogger().Warn("store meta unreadable, starting fresh",
			"dir", s.dir, "error", err)

		return false
	}

	if meta.SegmentCounts == nil {
		meta.SegmentCounts = make(map[string]int)
	}

	s.meta = meta

	return true
}

// Dir is the identity-specific store directory.
func (s *Store) Dir() string { return s.dir }

// Identity is the run identity the store is keyed by.
func (s *Store) Identity() Identity { return s.identity }

// StepCount is the persisted iteration progress.
func (s *Store) StepCount() int64 { return s.meta.StepCount }

// NextBinNum is the persisted running system-index counter.
func (s *Store) NextBinNum() int64 { return s.meta.NextBinNum }

// Totals are the persisted aggregate mass/count statistics.
func (s *Store) Totals() population.MassStats { return s.meta.Totals }

// WriteParams snapshots the run configuration as YAML, once. An existing
// snapshot is left untouched so a resumed run keeps its original record.
func (s *Store) WriteParams(cfg any) error {
	path := filepath.Join(s.dir, paramsFilename)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	err = os.WriteFile(path, data, filePerm)
	if err != nil {
		return fmt.Errorf("write params: %w", err)
	}

	return nil
}

// AppendCheckpoint writes every non-empty section as a new segment, then
// rewrites the meta atomically. A crash between the two leaves orphan
// segments the next open ignores; the store is then one checkpoint behind,
// never corrupt.
func (s *Store) AppendCheckpoint(ctx context.Context, cp Checkpoint) error {
	sections := []struct {
		name  string
		value any
		rows  int
	}{
		{SectionConverged, cp.Contribution, len(cp.Contribution)},
		{SectionTimesteps, cp.Timesteps, len(cp.Timesteps)},
		{SectionEvents, cp.Events, len(cp.Events)},
		{SectionInitial, cp.Initial, len(cp.Initial)},
		{SectionKicks, cp.Kicks, len(cp.Kicks)},
		{SectionScores, []ScoreRecord{cp.Score}, 1},
	}

	for _, sec := range sections {
		if sec.rows == 0 {
			continue
		}

		err := s.appendSegment(sec.name, sec.value)
		if err != nil {
			return err
		}
	}

	s.meta.StepCount = cp.StepCount
	s.meta.NextBinNum = cp.NextBinNum
	s.meta.Totals = cp.Totals
	s.meta.UpdatedAt = time.Now().UTC()

	err := s.writeMeta()
	if err != nil {
		return err
	}

	s.slogger().InfoContext(ctx, "checkpoint persisted",
		"dir", s.dir,
		"step_count", cp.StepCount,
		"next_bin_num", cp.NextBinNum,
		"converged_rows", len(cp.Contribution))

	return nil
}

func (s *Store) segmentPath(section string, n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%03d%s", section, n, s.codec.Extension()))
}

func (s *Store) appendSegment(section string, value any) error {
	n := s.meta.SegmentCounts[section]

	f, err := os.Create(s.segmentPath(section, n))
	if err != nil {
		return fmt.Errorf("create %s segment: %w", section, err)
	}
	defer f.Close()

	err = s.codec.Encode(f, value)
	if err != nil {
		return fmt.Errorf("encode %s segment: %w", section, err)
	}

	s.meta.SegmentCounts[section] = n + 1

	return nil
}

// writeMeta rewrites the meta file via temp file + rename so readers never
// observe a partial write.
func (s *Store) writeMeta() error {
	path := filepath.Join(s.dir, metaBasename+s.metaCodec.Extension())
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create meta temp: %w", err)
	}

	err = s.metaCodec.Encode(f, s.meta)
	if err != nil {
		f.Close()

		return fmt.Errorf("encode meta: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("close meta temp: %w", err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("replace meta: %w", err)
	}

	return nil
}

// LoadConverged merges all persisted converged-population segments, in
// checkpoint order.
func (s *Store) LoadConverged() (population.TimestepTable, error) {
	var merged population.TimestepTable

	for n := 0; n < s.meta.SegmentCounts[SectionConverged]; n++ {
		var seg population.TimestepTable

		err := s.readSegment(SectionConverged, n, &seg)
		if err != nil {
			return nil, err
		}

		merged = append(merged, seg...)
	}

	return merged, nil
}

// LoadScores returns every persisted convergence evaluation, in order.
func (s *Store) LoadScores() ([]ScoreRecord, error) {
	var merged []ScoreRecord

	for n := 0; n < s.meta.SegmentCounts[SectionScores]; n++ {
		var seg []ScoreRecord

		err := s.readSegment(SectionScores, n, &seg)
		if err != nil {
			return nil, err
		}

		merged = append(merged, seg...)
	}

	return merged, nil
}

func (s *Store) readSegment(section string, n int, value any) error {
	f, err := os.Open(s.segmentPath(section, n))
	if err != nil {
		return fmt.Errorf("open %s segment %d: %w", section, n, err)
	}
	defer f.Close()

	err = s.codec.Decode(f, value)
	if err != nil {
		return fmt.Errorf("decode %s segment %d: %w", section, n, err)
	}

	return nil
}

// Logf appends one human-readable line to the run log.
func (s *Store) Logf(format string, args ...any) {
	if s.logFile == nil {
		return
	}

	line := fmt.Sprintf(format, args...)
	fmt.Fprintf(s.logFile, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
}

// Close flushes and closes the run log.
func (s *Store) Close() error {
	if s.logFile == nil {
		return nil
	}

	err := s.logFile.Close()
	s.logFile = nil

	if err != nil {
		return fmt.Errorf("close run log: %w", err)
	}

	return nil
}
