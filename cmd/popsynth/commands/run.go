// Package commands implements CLI command handlers for popsynth.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarforge/popsynth/internal/config"
	"github.com/stellarforge/popsynth/internal/evolve"
	"github.com/stellarforge/popsynth/internal/experiment"
	"github.com/stellarforge/popsynth/internal/match"
	"github.com/stellarforge/popsynth/internal/observability"
	"github.com/stellarforge/popsynth/internal/report"
	"github.com/stellarforge/popsynth/internal/sampler"
	"github.com/stellarforge/popsynth/internal/store"
)

// ErrNoEvolver is returned when no external integrator command was given.
var ErrNoEvolver = errors.New(
	"no evolver configured. Use --evolver-cmd to name the external integrator binary",
)

// metricsReadTimeout bounds the Prometheus scrape handler's header read.
const metricsReadTimeout = 10 * time.Second

// scorePlotFilename is the default plot file name inside the store directory.
const scorePlotFilename = "scores.html"

// RunCommand holds the flag surface and wiring for the run command.
type RunCommand struct {
	configPath string

	seed        int64
	method      string
	batchSize   int
	budget      int64
	workers     int
	metallicity float64
	sfStart     float64
	sfDuration  float64

	primaryModel string
	porbModel    string
	eccModel     string
	sfhModel     string

	kstar1 []int
	kstar2 []int

	convParams []string
	convFilter string
	convLimits []float64
	threshold  float64
	matchBatch int

	storeDir string

	evolverCmd  string
	evolverArgs []string
	dtp         float64
	finalOnly   bool

	plot        bool
	metricsAddr string
	verbose     bool
	jsonLogs    bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sampling-convergence loop",
		Long: "Run the population-synthesis experiment: sample, evolve, filter, and\n" +
			"accumulate until the converged population stabilizes or the iteration\n" +
			"budget is exhausted. Progress is checkpointed and the run resumes from\n" +
			"its store when restarted with the same physics.",
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.configPath, "config", "", "Config file (default is ./.popsynth.yaml, then $HOME)")

	cmd.Flags().Int64Var(&rc.seed, "seed", 0, "Base random seed; per-batch seeds derive from it")
	cmd.Flags().StringVar(&rc.method, "method", config.DefaultMethod, "Sampling method: independent, multidim")
	cmd.Flags().IntVar(&rc.batchSize, "batch-size", config.DefaultBatchSize, "Systems sampled per iteration")
	cmd.Flags().Int64Var(&rc.budget, "budget", config.DefaultIterationBudget, "Total systems to attempt before giving up")
	cmd.Flags().IntVar(&rc.workers, "workers", config.DefaultWorkers, "Parallel integrator workers")
	cmd.Flags().Float64Var(&rc.metallicity, "metallicity", config.DefaultMetallicity, "Metallicity of the sampled population")
	cmd.Flags().Float64Var(&rc.sfStart, "sf-start", config.DefaultSFStart, "Lookback time in Myr at which star formation begins")
	cmd.Flags().Float64Var(&rc.sfDuration, "sf-duration", config.DefaultSFDuration, "Burst duration in Myr (0 = constant star formation)")

	cmd.Flags().StringVar(&rc.primaryModel, "primary-model", config.DefaultPrimaryModel, "Primary-mass IMF for the independent method: kroupa93, salpeter55")
	cmd.Flags().StringVar(&rc.porbModel, "porb-model", config.DefaultPorbModel, "Orbital-period model: han, log_normal")
	cmd.Flags().StringVar(&rc.eccModel, "ecc-model", config.DefaultEccModel, "Eccentricity model: thermal, uniform")
	cmd.Flags().StringVar(&rc.sfhModel, "sfh-model", config.DefaultSFHModel, "Star-formation history: const, burst")

	cmd.Flags().IntSliceVar(&rc.kstar1, "kstar1", nil, "Final stellar-type range for the primary (one or two values)")
	cmd.Flags().IntSliceVar(&rc.kstar2, "kstar2", nil, "Final stellar-type range for the secondary (one or two values)")

	cmd.Flags().StringSliceVar(&rc.convParams, "conv-params", nil, "Tracked convergence parameters (mass_1, mass_2, porb, sep, ecc, tphys)")
	cmd.Flags().StringVar(&rc.convFilter, "conv-filter", config.DefaultConvFilter, "Convergence filter: alive, merged, disrupted, formation, porb_range")
	cmd.Flags().Float64SliceVar(&rc.convLimits, "conv-limits", nil, "Numeric limits for the convergence filter")
	cmd.Flags().Float64Var(&rc.threshold, "threshold", config.DefaultThreshold, "Convergence threshold; all scores at or below it stop the loop")
	cmd.Flags().IntVar(&rc.matchBatch, "match-batch", config.DefaultMatchBatch, "Converged rows required before each convergence check")

	cmd.Flags().StringVar(&rc.storeDir, "store-dir", config.DefaultStoreDir, "Base directory for run stores")

	cmd.Flags().StringVar(&rc.evolverCmd, "evolver-cmd", "", "External integrator binary (JSON on stdin/stdout)")
	cmd.Flags().StringSliceVar(&rc.evolverArgs, "evolver-args", nil, "Extra arguments passed to the integrator binary")
	cmd.Flags().Float64Var(&rc.dtp, "dtp", 0, "Timestep output interval in Myr (0 = final state only)")
	cmd.Flags().BoolVar(&rc.finalOnly, "final-only", false, "Request only the final timestep per system from the integrator")

	cmd.Flags().BoolVar(&rc.plot, "plot", false, "Write an HTML convergence-score plot into the store directory")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty = disabled)")
	cmd.Flags().BoolVarP(&rc.verbose, "verbose", "v", false, "Debug-level logging")
	cmd.Flags().BoolVar(&rc.jsonLogs, "json-logs", false, "JSON-formatted log output")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	logger := observability.NewLogger(rc.verbose, rc.jsonLogs)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(rc.configPath)
	if err != nil {
		return err
	}

	warnings := rc.overrides(cmd).Apply(cfg)
	for _, w := range warnings {
		logger.WarnContext(ctx, "config value overridden", "override", w)
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	if rc.evolverCmd == "" {
		return ErrNoEvolver
	}

	metrics, err := rc.setupMetrics(logger)
	if err != nil {
		return err
	}

	smp, err := sampler.New(cfg.Sampling.Method, sampler.ModelSet{
		Primary: cfg.Sampling.Models.Primary,
		Porb:    cfg.Sampling.Models.Porb,
		Ecc:     cfg.Sampling.Models.Ecc,
		SFH:     cfg.Sampling.Models.SFH,
	})
	if err != nil {
		return err
	}

	identity := store.NewIdentity(cfg.Kstar1Range(), cfg.Kstar2Range(),
		cfg.Sampling.SFStart, cfg.Sampling.SFDuration, cfg.Sampling.Metallicity)

	st, resumed, err := store.Open(cfg.Store.Dir, identity, logger)
	if err != nil {
		return err
	}

	exp := &experiment.Experiment{
		Config:  cfg,
		Sampler: smp,
		Pool: &evolve.Pool{
			Workers:    cfg.Sampling.Workers,
			Integrator: &evolve.ExecIntegrator{Command: rc.evolverCmd, Args: rc.evolverArgs},
			Logger:     logger,
		},
		Evaluator:    match.NewBinnedEvaluator(),
		Store:        st,
		OutputPolicy: rc.outputPolicy(),
		Logger:       logger,
		Metrics:      metrics,
	}

	res, err := exp.Run(ctx, resumed)
	if err != nil {
		return err
	}

	report.WriteSummary(os.Stdout, identity.String(), res)

	if rc.plot {
		return rc.writePlot(st)
	}

	return nil
}

// overrides collects only the flags the user actually set, so unset flags
// never displace config-file values.
func (rc *RunCommand) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides

	flags := cmd.Flags()

	if flags.Changed("seed") {
		o.Seed = &rc.seed
	}

	if flags.Changed("method") {
		o.Method = &rc.method
	}

	if flags.Changed("batch-size") {
		o.BatchSize = &rc.batchSize
	}

	if flags.Changed("budget") {
		o.IterationBudget = &rc.budget
	}

	if flags.Changed("workers") {
		o.Workers = &rc.workers
	}

	if flags.Changed("metallicity") {
		o.Metallicity = &rc.metallicity
	}

	if flags.Changed("sf-start") {
		o.SFStart = &rc.sfStart
	}

	if flags.Changed("sf-duration") {
		o.SFDuration = &rc.sfDuration
	}

	if flags.Changed("primary-model") {
		o.PrimaryModel = &rc.primaryModel
	}

	if flags.Changed("porb-model") {
		o.PorbModel = &rc.porbModel
	}

	if flags.Changed("ecc-model") {
		o.EccModel = &rc.eccModel
	}

	if flags.Changed("sfh-model") {
		o.SFHModel = &rc.sfhModel
	}

	if flags.Changed("kstar1") {
		o.Kstar1 = rc.kstar1
	}

	if flags.Changed("kstar2") {
		o.Kstar2 = rc.kstar2
	}

	if flags.Changed("conv-params") {
		o.ConvParams = rc.convParams
	}

	if flags.Changed("conv-filter") {
		o.ConvFilter = &rc.convFilter
	}

	if flags.Changed("conv-limits") {
		o.ConvLimits = rc.convLimits
	}

	if flags.Changed("threshold") {
		o.Threshold = &rc.threshold
	}

	if flags.Changed("match-batch") {
		o.MatchBatch = &rc.matchBatch
	}

	if flags.Changed("store-dir") {
		o.StoreDir = &rc.storeDir
	}

	return o
}

func (rc *RunCommand) outputPolicy() *evolve.OutputPolicy {
	switch {
	case rc.finalOnly:
		policy := evolve.FinalOnly()

		return &policy
	case rc.dtp > 0:
		policy := evolve.Timesteps(rc.dtp)

		return &policy
	default:
		return nil
	}
}

// setupMetrics starts the Prometheus scrape endpoint when requested and
// returns the run instruments; nil metrics record nothing.
func (rc *RunCommand) setupMetrics(logger *slog.Logger) (*observability.RunMetrics, error) {
	if rc.metricsAddr == "" {
		return nil, nil
	}

	handler, err := observability.SetupPrometheus()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              rc.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", serveErr)
		}
	}()

	return observability.NewRunMetrics()
}

func (rc *RunCommand) writePlot(st *store.Store) error {
	records, err := st.LoadScores()
	if err != nil {
		return err
	}

	path := filepath.Join(st.Dir(), scorePlotFilename)

	err = report.WriteScorePlot(path, records)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "score plot written to %s\n", path)

	return nil
}
