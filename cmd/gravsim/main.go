package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/gravsim/internal/analysis"
	"github.com/san-kum/gravsim/internal/bodies"
	"github.com/san-kum/gravsim/internal/checkpoint"
	"github.com/san-kum/gravsim/internal/config"
	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/engine"
	"github.com/san-kum/gravsim/internal/export"
	"github.com/san-kum/gravsim/internal/kernels"
	"github.com/san-kum/gravsim/internal/metrics"
	"github.com/san-kum/gravsim/internal/sim"
	"github.com/san-kum/gravsim/internal/storage"
	"github.com/san-kum/gravsim/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string

	backendName    string
	groupSize      int
	solverName     string
	dt             float64
	numBodies      int
	steps          int
	outputSteps    int
	invariantSteps int
	outputPrefix   string
	energyFile     string
	noUpdate       bool
	resume         bool
	maxFailures    int
	seed           uint64
	logLevel       string

	positionFile string
	velocityFile string
	massFile     string

	generate bool
	members  int
	workers  int

	exportOut string
	svgOut    string
	svgSize   int
	svgExtent float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "gravsim",
		Short:        "device-resident n-body simulation",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".gravsim", "run store directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation from state files",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addSimFlags(runCmd)
	runCmd.Flags().BoolVar(&generate, "generate", false, "sample initial conditions instead of reading state files")
	runCmd.Flags().BoolVar(&resume, "resume", false, "continue snapshot numbering after the last snapshot on disk")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "write sampled initial conditions to state files",
		Args:  cobra.NoArgs,
		RunE:  generateBodies,
	}
	addConfigFlags(generateCmd)
	generateCmd.Flags().IntVar(&numBodies, "bodies", config.DefaultBodies, "number of bodies")
	generateCmd.Flags().Uint64Var(&seed, "seed", 0, "random seed")
	addStateFlags(generateCmd)

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run a simulation with live visualization",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	addSimFlags(liveCmd)
	liveCmd.Flags().BoolVar(&generate, "generate", false, "sample initial conditions instead of reading state files")

	ensembleCmd := &cobra.Command{
		Use:   "ensemble",
		Short: "run independently sampled members and compare their drift",
		Args:  cobra.NoArgs,
		RunE:  runEnsemble,
	}
	addSimFlags(ensembleCmd)
	ensembleCmd.Flags().IntVar(&members, "members", 4, "number of members")
	ensembleCmd.Flags().IntVar(&workers, "workers", 0, "members run at once (0 for all)")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the energy history of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&svgOut, "svg", "", "also write the total energy plot as svg")

	renderCmd := &cobra.Command{
		Use:   "render [snapshot]",
		Short: "render a position snapshot as svg",
		Args:  cobra.ExactArgs(1),
		RunE:  renderSnapshot,
	}
	renderCmd.Flags().StringVarP(&svgOut, "out", "o", "", "output file (default <snapshot>.svg)")
	renderCmd.Flags().IntVar(&svgSize, "size", 800, "image size in pixels")
	renderCmd.Flags().Float64Var(&svgExtent, "extent", 0, "half width of the view (0 to fit)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "energy exchange spectrum and phase portrait of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to a file instead of stdout")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				cfg := config.GetPreset(p)
				fmt.Printf("  %-14s %s, %d bodies, dt %g, %d steps\n", p, cfg.Solver, cfg.Bodies, cfg.Dt, cfg.Steps)
			}
			return nil
		},
	}

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "probe compute devices and list solvers",
		Args:  cobra.NoArgs,
		RunE:  listDevices,
	}
	devicesCmd.Flags().IntVar(&groupSize, "group-size", config.DefaultWorkGroupSize, "host work group size")

	rootCmd.AddCommand(runCmd, generateCmd, liveCmd, ensembleCmd, runsCmd, plotCmd, renderCmd, analyzeCmd, exportCmd, presetsCmd, devicesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level")
}

func addStateFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&positionFile, "position", "", "position file")
	cmd.Flags().StringVar(&velocityFile, "velocity", "", "velocity file")
	cmd.Flags().StringVar(&massFile, "mass", "", "mass file")
}

func addSimFlags(cmd *cobra.Command) {
	addConfigFlags(cmd)
	addStateFlags(cmd)
	cmd.Flags().StringVar(&backendName, "backend", config.DefaultBackend, "compute backend (host, opencl, auto)")
	cmd.Flags().IntVar(&groupSize, "group-size", config.DefaultWorkGroupSize, "host work group size")
	cmd.Flags().StringVar(&solverName, "solver", config.DefaultSolver, "solver")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	cmd.Flags().IntVar(&numBodies, "bodies", config.DefaultBodies, "number of bodies")
	cmd.Flags().IntVar(&steps, "steps", 0, "ticks to run (0 until interrupted)")
	cmd.Flags().IntVar(&outputSteps, "output-steps", config.DefaultOutputSteps, "ticks between position snapshots")
	cmd.Flags().IntVar(&invariantSteps, "invariant-steps", config.DefaultInvariantSteps, "ticks between invariant samples")
	cmd.Flags().StringVar(&outputPrefix, "prefix", config.DefaultOutputPrefix, "snapshot file prefix (empty disables snapshots)")
	cmd.Flags().StringVar(&energyFile, "energy", "", "energy log file")
	cmd.Flags().BoolVar(&noUpdate, "no-update", false, "do not write the final state back")
	cmd.Flags().IntVar(&maxFailures, "max-failures", 0, "consecutive failed ticks before aborting (0 never)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed for --generate")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	st, err := openEngine(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("cannot set up the engine")
		return err
	}
	defer st.Teardown()

	if err := loadBodies(st, cfg, generate, logger); err != nil {
		logger.WithError(err).Error("cannot load initial state")
		return err
	}

	opts := []sim.Option{sim.WithLogger(logger)}
	if cfg.EnergyFile != "" {
		f, err := os.OpenFile(cfg.EnergyFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		opts = append(opts, sim.WithEnergyLog(f))
	}

	runCfg := cfg.RunConfig()
	runCfg.Resume = resume
	runner := sim.NewRunner(st, runCfg, opts...)
	for _, m := range metrics.Defaults() {
		runner.AddMetric(m)
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("running %s...\n", st)
	start := time.Now()
	result, runErr := runner.Run(ctx)
	elapsed := time.Since(start)
	if result == nil {
		return runErr
	}
	if runErr != nil {
		logger.WithError(runErr).Error("run aborted")
	}

	runID, err := storage.New(dataDir).Save(storage.RunMetadata{
		Solver:  cfg.Solver,
		Backend: cfg.Backend,
		Device:  st.Device().Name,
		Seed:    cfg.Seed,
		Dt:      cfg.Dt,
		Bodies:  st.N(),
	}, result)
	if err != nil {
		logger.WithError(err).Warn("cannot store run")
	}

	printResult(runID, elapsed, result)
	return runErr
}

func printResult(runID string, elapsed time.Duration, result *sim.Result) {
	fmt.Printf("completed in %v\n", elapsed)
	if runID != "" {
		fmt.Printf("run id: %s\n", runID)
	}
	fmt.Printf("ticks: %d (from %d, %d failed)\n", result.Ticks, result.StartTick, result.FailedTicks)
	if result.Interrupted {
		fmt.Println("interrupted")
	}

	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6e\n", name, result.Metrics[name])
	}
}

func generateBodies(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	set, err := bodies.Generate(cfg.Bodies, cfg.Distribution, cfg.Seed)
	if err != nil {
		return err
	}
	files := cfg.State
	if s, err := engine.LookupSolver(cfg.Solver); err == nil && !s.Model.HasMass() && !cmd.Flags().Changed("mass") {
		files.Mass = ""
	}
	if err := bodies.WriteFiles(set, files); err != nil {
		return err
	}

	sum := set.Summary()
	fmt.Printf("wrote %d bodies (seed %d)\n", set.Len(), cfg.Seed)
	fmt.Printf("  mass   %.4e ± %.4e\n", sum.MassMean, sum.MassStd)
	fmt.Printf("  speed  %.4e ± %.4e\n", sum.SpeedMean, sum.SpeedStd)
	fmt.Printf("  radius %.4e (mean)\n", sum.RadiusMean)
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	// The alternate screen owns stdout, so only errors are logged.
	logger := setupLogger(logrus.ErrorLevel.String())

	st, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Teardown()

	if err := loadBodies(st, cfg, generate, logger); err != nil {
		return err
	}

	title := fmt.Sprintf("%s · %d bodies", st.Solver().Name, st.N())
	m, err := viz.RunMonitor(viz.NewMonitor(st, title, cfg.InvariantSteps, cfg.MaxTickFailures))
	if err != nil {
		return err
	}

	fmt.Printf("ticks: %d (%d failed), energy drift %.3e\n", m.Ticks(), m.FailedTicks(), m.Drift())
	if cfg.NoUpdate {
		return nil
	}
	return sim.SaveState(st, cfg.State)
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	factory := func(member int) (sim.Engine, func(), error) {
		memberCfg := *cfg
		memberCfg.Seed = cfg.Seed + uint64(member)
		st, err := openEngine(&memberCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := loadBodies(st, &memberCfg, true, logger); err != nil {
			st.Teardown()
			return nil, nil, err
		}
		return st, st.Teardown, nil
	}

	ens := sim.NewEnsemble(factory, members)
	ens.SetLogger(logger)
	ens.SetWorkers(workers)
	ens.SetMetrics(metrics.Defaults)

	ctx, stop := signalContext()
	defer stop()

	results, err := ens.Run(ctx, cfg.RunConfig())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MEMBER\tSEED\tTICKS\tFAILED\tENERGY DRIFT\tMOMENTUM DRIFT\tVIRIAL")
	for i, res := range results {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%.3e\t%.3e\t%.3f\n",
			i, cfg.Seed+uint64(i), res.Ticks, res.FailedTicks,
			res.Metrics["energy_drift"], res.Metrics["momentum_drift"], res.Metrics["virial"])
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOLVER\tTIME\tBODIES\tTICKS\tDT\tDRIFT")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%g\t%.3e\n",
			run.ID,
			run.Solver,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Bodies,
			run.Ticks,
			run.Dt,
			run.EnergyDrift,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(runID)
	if err != nil {
		return err
	}
	if len(samples) < 2 {
		return fmt.Errorf("run %s has %d samples, need at least 2 to plot", runID, len(samples))
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("solver: %s, %d bodies, dt %g\n", meta.Solver, meta.Bodies, meta.Dt)
	fmt.Printf("samples: %d\n\n", len(samples))

	series := []struct {
		caption string
		value   func(sim.Sample) float64
	}{
		{"total energy", func(s sim.Sample) float64 { return s.Total }},
		{"kinetic energy", func(s sim.Sample) float64 { return s.Kinetic }},
		{"potential energy", func(s sim.Sample) float64 { return s.Potential }},
		{"angular momentum", func(s sim.Sample) float64 { return s.Angular }},
	}
	for _, ser := range series {
		data := make([]float64, len(samples))
		for i, s := range samples {
			data[i] = ser.value(s)
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(ser.caption),
		))
		fmt.Println()
	}

	if svgOut != "" {
		f, err := os.Create(svgOut)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := export.SeriesToSVG(f, samples, analysis.Total, 800, 300, "#00ccff"); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", svgOut)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if exportOut == "" {
		return st.Export(cmd.OutOrStdout(), args[0])
	}
	if err := st.ExportFile(exportOut, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", args[0], exportOut)
	return nil
}

func renderSnapshot(cmd *cobra.Command, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	positions, err := checkpoint.ReadAllRecords(in, engine.Position.Stride())
	if err != nil {
		return err
	}

	out := svgOut
	if out == "" {
		out = args[0] + ".svg"
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := export.SnapshotToSVG(f, positions, svgExtent, svgSize); err != nil {
		return err
	}
	fmt.Printf("rendered %d bodies to %s\n", len(positions)/2, out)
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(runID)
	if err != nil {
		return err
	}

	spectrum, err := analysis.Analyze(samples, analysis.Kinetic)
	if err != nil {
		return err
	}

	fmt.Printf("energy exchange: %s\n", meta.ID)
	fmt.Printf("solver: %s, %d samples every %d ticks\n\n", meta.Solver, len(samples), spectrum.Cadence)

	plotData := spectrum.Power[1:]
	fmt.Println(asciigraph.Plot(plotData,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption("kinetic energy spectrum"),
	))
	fmt.Println()

	if spectrum.DominantBin > 0 {
		fmt.Printf("dominant period: %.1f ticks (%.4g time units)\n", spectrum.DominantPeriod, spectrum.DominantPeriod*float64(meta.Dt))
	} else {
		fmt.Println("no oscillation found")
	}

	fmt.Println("\nkinetic vs potential:")
	fmt.Print(analysis.PhasePortraitToASCII(analysis.PortraitOf(samples, analysis.Kinetic, analysis.Potential), 60, 20))
	return nil
}

func listDevices(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tPLATFORM\tDEVICE\tVENDOR\tMAX GROUP\tMEMORY")

	backends := []device.Backend{
		device.NewHostBackend(device.WithWorkGroupSize(groupSize)),
		device.NewOpenCLBackend(),
	}
	for _, b := range backends {
		info, err := b.Probe()
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t%v\t\t\t\n", b.Name(), err)
			b.Release()
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d MiB\n",
			b.Name(), info.Platform, info.Name, info.Vendor, info.MaxWorkGroupSize, info.GlobalMemBytes>>20)
		b.Release()
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println("\nsolvers:")
	for _, name := range engine.Solvers() {
		s, err := engine.LookupSolver(name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-8s %-14s program %s, entry point %s\n", s.Name, s.Model, s.Model.Program(), s.EntryPoint())
	}
	fmt.Printf("\nprograms: %v\n", kernels.Names())
	return nil
}
