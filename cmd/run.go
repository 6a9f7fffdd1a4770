package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/config"
	"github.com/cwbudde/curvesearch/internal/dataset"
	"github.com/cwbudde/curvesearch/internal/opt"
	"github.com/cwbudde/curvesearch/internal/search"
	"github.com/cwbudde/curvesearch/internal/store"
	"github.com/cwbudde/curvesearch/internal/viz"
)

var (
	dataPath   string
	xColumn    string
	yColumn    string
	sigmaCol   string
	configPath string

	functions      []string
	operator       string
	piecewise      bool
	maxCombination int
	method         string
	maxEvals       int
	workers        int
	absoluteSigma  bool

	outDir   string
	prefix   string
	plotTop  int
	xScale   string
	yScale   string
	htmlOut  bool
	runStore string
	dataDir  string
	trace    bool

	seedGlobal bool
	seedIters  int
	popSize    int
	seed       int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Search the catalog for the best model of a dataset",
	Long: `Fits every candidate model to the dataset, prints the ranking and writes
the CSV report, fit plots of the best models and optionally an HTML chart.
Flags override values from --config.`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	runCmd.Flags().StringVar(&dataPath, "data", "", "CSV dataset path (required)")
	runCmd.Flags().StringVar(&xColumn, "x", "", "X column name or index (default first column)")
	runCmd.Flags().StringVar(&yColumn, "y", "", "Y column name or index (default second column)")
	runCmd.Flags().StringVar(&sigmaCol, "sigma", "", "Optional per-sample uncertainty column")
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML search configuration")

	runCmd.Flags().StringSliceVar(&functions, "functions", nil, "Catalog functions to combine (default all)")
	runCmd.Flags().StringVar(&operator, "operator", "+", "Composite operator: + - * /")
	runCmd.Flags().BoolVar(&piecewise, "piecewise", false, "Also fit piecewise splits of every function pair")
	runCmd.Flags().IntVar(&maxCombination, "max-combination", search.DefaultMaxCombination, "Largest number of functions per composite")
	runCmd.Flags().StringVar(&method, "method", "", "Solver: lm, trf or lbfgs (default by bounds)")
	runCmd.Flags().IntVar(&maxEvals, "max-evals", 0, "Function evaluation budget per candidate (0 = solver default)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent fits (0 = number of CPUs)")
	runCmd.Flags().BoolVar(&absoluteSigma, "absolute-sigma", false, "Treat sigma as absolute when scaling the covariance")

	runCmd.Flags().StringVar(&outDir, "out", ".", "Output directory for the CSV report and plots")
	runCmd.Flags().StringVar(&prefix, "prefix", "fit", "File name prefix for outputs")
	runCmd.Flags().IntVar(&plotTop, "plot", 10, "Plot the N best models (0 = none)")
	runCmd.Flags().StringVar(&xScale, "xscale", config.ScaleLinear, "Extra plot x scale: linear or log")
	runCmd.Flags().StringVar(&yScale, "yscale", config.ScaleLinear, "Extra plot y scale: linear or log")
	runCmd.Flags().BoolVar(&htmlOut, "html", false, "Write an interactive HTML chart of the plotted models")
	runCmd.Flags().StringVar(&runStore, "store", storeFS, "Save the report to a store: fs, sqlite or none")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for report storage")
	runCmd.Flags().BoolVar(&trace, "trace", false, "Record per-candidate events to a compressed trace")

	runCmd.Flags().BoolVar(&seedGlobal, "seed-global", false, "Seed each fit with a Mayfly global search")
	runCmd.Flags().IntVar(&seedIters, "seed-iters", 50, "Mayfly iterations per seed search")
	runCmd.Flags().IntVar(&popSize, "pop", 20, "Mayfly population size (at least 20)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for the global search")

	runCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(runCmd)
}

// searchFile loads --config when given and applies every flag the user
// set explicitly on top of it.
func searchFile(cmd *cobra.Command) (*config.File, error) {
	f := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		f = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("functions") {
		f.Functions = functions
	}
	if flags.Changed("operator") {
		f.Operator = operator
	}
	if flags.Changed("piecewise") {
		f.Piecewise = piecewise
	}
	if flags.Changed("max-combination") {
		f.MaxCombination = maxCombination
	}
	if flags.Changed("method") {
		f.Method = method
	}
	if flags.Changed("max-evals") {
		f.MaxFunctionEvals = maxEvals
	}
	if flags.Changed("workers") {
		f.Workers = workers
	}
	if flags.Changed("plot") {
		f.PlotTop = plotTop
	}
	if flags.Changed("xscale") {
		f.XScale = xScale
	}
	if flags.Changed("yscale") {
		f.YScale = yScale
	}
	if flags.Changed("prefix") {
		f.Prefix = prefix
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	f, err := searchFile(cmd)
	if err != nil {
		return err
	}
	cfg, err := f.Search()
	if err != nil {
		return err
	}

	ds, err := dataset.Load(dataPath, dataset.Options{X: xColumn, Y: yColumn, Sigma: sigmaCol})
	if err != nil {
		return err
	}
	cfg.Sigma = ds.Sigma
	cfg.AbsoluteSigma = absoluteSigma
	if seedGlobal {
		cfg.Seeder = opt.NewMayfly(seedIters, popSize, seed)
	}

	st, closeStore, err := openStore(runStore, dataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	id := uuid.New().String()
	slog.Info("Starting search", "run_id", id, "dataset", ds.Path, "samples", ds.Len(), "operator", f.Operator, "max_combination", f.MaxCombination)

	var tw *store.TraceWriter
	if trace {
		tw, err = store.NewTraceWriter(dataDir, id)
		if err != nil {
			return err
		}
	}
	cfg.Observer = func(ev search.Event) {
		if ev.State == search.Failed {
			slog.Debug("Candidate failed", "index", ev.Index, "model", ev.ModelName, "error", ev.Err)
		} else {
			slog.Debug("Candidate fitted", "index", ev.Index, "model", ev.ModelName, "cost", ev.Cost)
		}
		if tw != nil {
			tw.Observe(ev)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := search.NewEngine(catalog.Default())
	report, runErr := engine.Run(ctx, ds.X, ds.Y, cfg)

	if tw != nil {
		if err := tw.Close(); err != nil {
			slog.Error("Failed to write trace", "error", err)
		} else {
			slog.Info("Wrote trace", "path", tw.Path())
		}
	}
	if report == nil {
		return runErr
	}
	if runErr != nil {
		// Keep what finished before the interrupt.
		slog.Warn("Search interrupted, writing partial results", "error", runErr)
	}

	saved := store.NewReport(id, report, store.NewRunConfig(cfg), store.DatasetInfo{
		Path:        ds.Path,
		Samples:     ds.Len(),
		Fingerprint: ds.Fingerprint(),
	})

	printRecords(os.Stdout, saved.Records, 0)
	fmt.Printf("\n%d of %d candidates fitted in %s\n", len(report.Results), report.Candidates, report.Elapsed.Round(time.Millisecond))

	csvPath := filepath.Join(outDir, fmt.Sprintf("%s_report_%d.csv", f.Prefix, time.Now().UnixMicro()))
	if err := store.AppendCSV(csvPath, saved.Records); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", csvPath)

	if err := writePlots(report, ds, f); err != nil {
		return err
	}

	if htmlOut {
		path, err := writeChart(report, ds, f)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
	}

	if st != nil {
		if err := st.SaveReport(id, saved); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		fmt.Printf("Saved report %s\n", id)
	}

	return runErr
}

// writePlots saves one PNG per top model, plus a second copy on the
// configured axes when either is logarithmic.
func writePlots(report *search.Report, ds *dataset.Dataset, f *config.File) error {
	top := min(f.PlotTop, len(report.Results))
	logX := f.XScale == config.ScaleLog
	logY := f.YScale == config.ScaleLog

	for i := range report.Results[:top] {
		res := &report.Results[i]
		s := fitSeries(res, ds.X, ds.Y)
		base := filepath.Join(outDir, fmt.Sprintf("%s_%02d_%s", f.Prefix, i+1, res.ModelName))
		opts := viz.Options{
			Title:  fmt.Sprintf("#%d %s (cost %.4g)", i+1, res.ModelName, res.Cost),
			XLabel: "x",
			YLabel: "y",
		}

		if err := viz.SavePNG(base+".png", s, opts); err != nil {
			return fmt.Errorf("plot %s: %w", res.ModelName, err)
		}
		if !logX && !logY {
			continue
		}
		opts.LogX, opts.LogY = logX, logY
		if err := viz.SavePNG(base+"_log.png", s, opts); err != nil {
			// Data outside a log axis is not fatal for the run.
			slog.Warn("Skipped log plot", "model", res.ModelName, "error", err)
		}
	}
	if top > 0 {
		slog.Info("Wrote plots", "count", top, "dir", outDir)
	}
	return nil
}

func writeChart(report *search.Report, ds *dataset.Dataset, f *config.File) (string, error) {
	top := min(max(f.PlotTop, 1), len(report.Results))
	series := make([]viz.Series, 0, top)
	for i := range report.Results[:top] {
		series = append(series, fitSeries(&report.Results[i], ds.X, ds.Y))
	}

	title := filepath.Base(ds.Path)
	path := filepath.Join(outDir, f.Prefix+"_chart.html")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create chart: %w", err)
	}
	if err := viz.WriteHTML(out, title, ds.X, ds.Y, series); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close chart: %w", err)
	}
	return path, nil
}

func fitSeries(res *search.FitResult, x, y []float64) viz.Series {
	return viz.Series{
		Name:   res.ModelName,
		X:      x,
		Y:      y,
		Fitted: res.Evaluate(x),
		Curve:  res.Evaluate,
	}
}

// printRecords writes the ranking as a table. A positive limit truncates
// it.
func printRecords(w io.Writer, records []store.Record, limit int) {
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tMODEL\tCOST\tPARAMETERS")
	for i, rec := range records {
		params := make([]string, len(rec.Parameters))
		symbols := rec.SymbolList()
		for j, p := range rec.Parameters {
			params[j] = fmt.Sprintf("%s=%.6g", symbols[j], float64(p))
		}
		note := ""
		if rec.CovarianceIndeterminate {
			note = " (covariance indeterminate)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%.6g\t%s%s\n", i+1, rec.ModelName, float64(rec.Cost), strings.Join(params, " "), note)
	}
	tw.Flush()
}
