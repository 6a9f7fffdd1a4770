package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/model"
	"github.com/cwbudde/curvesearch/internal/store"
)

var (
	evalFunctions []string
	evalRule      string
	evalParams    []float64
	evalAt        []float64
	evalReport    string
	evalModel     string
	evalStore     string
	evalDataDir   string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a model at given x values",
	Long: `Evaluates either a model built from catalog names with explicit
parameters, or a fitted model taken from a saved report:

  curvesearch eval --functions gaussian,linear --rule + --params 5,2,1.5,0.1,1 --at 0,1,2
  curvesearch eval --report <id> --model gaussian --at 0,1,2`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringSliceVar(&evalFunctions, "functions", nil, "Catalog names to combine")
	evalCmd.Flags().StringVar(&evalRule, "rule", "+", "Combination rule: + - * / or piecewise")
	evalCmd.Flags().Float64SliceVar(&evalParams, "params", nil, "Parameter values in symbol order")
	evalCmd.Flags().Float64SliceVar(&evalAt, "at", nil, "X values to evaluate at (required)")
	evalCmd.Flags().StringVar(&evalReport, "report", "", "Saved report ID to take a fitted model from")
	evalCmd.Flags().StringVar(&evalModel, "model", "", "Model name within the report (default best)")
	evalCmd.Flags().StringVar(&evalStore, "store", storeFS, "Report store: fs or sqlite")
	evalCmd.Flags().StringVar(&evalDataDir, "data-dir", "./data", "Base directory for report storage")

	evalCmd.MarkFlagRequired("at")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	var (
		spec   *model.Spec
		params []float64
		err    error
	)
	if evalReport != "" {
		spec, params, err = reportModel(evalStore, evalDataDir, evalReport, evalModel)
	} else {
		spec, params, err = namedModel(evalFunctions, evalRule, evalParams)
	}
	if err != nil {
		return err
	}
	return writeEvaluation(os.Stdout, spec, params, evalAt)
}

// namedModel compiles catalog names and checks the parameter count.
func namedModel(names []string, rule string, params []float64) (*model.Spec, []float64, error) {
	r, err := model.ParseRule(rule)
	if err != nil {
		return nil, nil, err
	}
	spec, err := model.NewCompiler(catalog.Default()).Compile(names, r, "")
	if err != nil {
		return nil, nil, err
	}
	if len(params) != spec.NumParams() {
		return nil, nil, errs.Invalid("params", "%s takes %d parameters (%s), got %d",
			spec.Name, spec.NumParams(), strings.Join(spec.Symbols, ", "), len(params))
	}
	return spec, params, nil
}

// reportModel recompiles a fitted record from a saved report. An empty
// name selects the best record.
func reportModel(kind, dir, id, name string) (*model.Spec, []float64, error) {
	if kind == storeNone {
		return nil, nil, fmt.Errorf("--report needs a store, got %q", storeNone)
	}
	st, closeStore, err := openStore(kind, dir)
	if err != nil {
		return nil, nil, err
	}
	defer closeStore()

	rep, err := st.LoadReport(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("no report with id %s", id)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rep.Records) == 0 {
		return nil, nil, fmt.Errorf("report %s has no fitted models", id)
	}

	rec := rep.Records[0]
	if name != "" {
		found := false
		for _, r := range rep.Records {
			if r.ModelName == name {
				rec, found = r, true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("model %q not in report %s", name, id)
		}
	}

	spec, params, err := namedModel(rec.Functions, rec.Rule, store.Values(rec.Parameters))
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild %s: %w", rec.ModelName, err)
	}
	return spec, params, nil
}

func writeEvaluation(w io.Writer, spec *model.Spec, params, xs []float64) error {
	ys := spec.EvalAll(nil, xs, params)
	if _, err := fmt.Fprintf(w, "# %s: %s\n", spec.Name, spec.Form); err != nil {
		return err
	}
	for i, x := range xs {
		if _, err := fmt.Fprintf(w, "%g,%g\n", x, ys[i]); err != nil {
			return err
		}
	}
	return nil
}
