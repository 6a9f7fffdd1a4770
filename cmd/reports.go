package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/cwbudde/curvesearch/internal/store"
)

const (
	storeFS     = "fs"
	storeSQLite = "sqlite"
	storeNone   = "none"

	sqliteFile = "reports.db"
)

var (
	reportsDataDir string
	reportsStore   string
	keepLast       int
	olderThanDays  int
	forceClean     bool
	showCSV        bool
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Manage saved search reports",
	Long: `Manage saved search reports including listing, showing and cleaning
old reports. Reports are kept in a filesystem or SQLite store under the data
directory.`,
}

var listReportsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved reports",
	Long:  `Display all reports with metadata including ID, timestamp, dataset, best model and cost.`,
	Args:  cobra.NoArgs,
	RunE:  runListReports,
}

var showReportCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show the ranked records of a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowReport,
}

var cleanReportsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old reports",
	Long: `Delete old reports based on retention policy.
You can specify how many reports to keep or delete reports older than N days.`,
	Args: cobra.NoArgs,
	RunE: runCleanReports,
}

func init() {
	rootCmd.AddCommand(reportsCmd)

	reportsCmd.AddCommand(listReportsCmd)
	reportsCmd.AddCommand(showReportCmd)
	reportsCmd.AddCommand(cleanReportsCmd)

	reportsCmd.PersistentFlags().StringVar(&reportsDataDir, "data-dir", "./data", "Base directory for report storage")
	reportsCmd.PersistentFlags().StringVar(&reportsStore, "store", storeFS, "Report store: fs or sqlite")

	showReportCmd.Flags().BoolVar(&showCSV, "csv", false, "Print the records as CSV")

	cleanReportsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N reports (0 = keep all)")
	cleanReportsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete reports older than N days (0 = no age limit)")
	cleanReportsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

// openStore opens the report store of the given kind under dataDir. The
// returned close function is never nil. Kind "none" yields a nil store.
func openStore(kind, dataDir string) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch kind {
	case storeFS:
		st, err := store.NewFSStore(dataDir)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create report store: %w", err)
		}
		return st, noop, nil
	case storeSQLite:
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, noop, fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := store.NewSQLiteStore(filepath.Join(dataDir, sqliteFile))
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	case storeNone:
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store %q (want %s, %s or %s)", kind, storeFS, storeSQLite, storeNone)
	}
}

func openReportStore() (store.Store, func() error, error) {
	if reportsStore == storeNone {
		return nil, nil, fmt.Errorf("reports need a store, got %q", storeNone)
	}
	return openStore(reportsStore, reportsDataDir)
}

func runListReports(cmd *cobra.Command, args []string) error {
	st, closeStore, err := openReportStore()
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := st.ListReports()
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No reports found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tDATASET\tSAMPLES\tFITTED\tBEST MODEL\tBEST COST")
	fmt.Fprintln(w, "--\t-------\t-------\t-------\t------\t----------\t---------")

	for _, info := range infos {
		dataset := info.Dataset
		if dataset == "" {
			dataset = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%.6g\n",
			shortID(info.ID),
			info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			dataset,
			info.Samples,
			info.Succeeded,
			info.Candidates,
			info.BestModel,
			float64(info.BestCost),
		)
	}

	w.Flush()

	fmt.Printf("\nTotal reports: %d\n", len(infos))
	return nil
}

func runShowReport(cmd *cobra.Command, args []string) error {
	st, closeStore, err := openReportStore()
	if err != nil {
		return err
	}
	defer closeStore()

	rep, err := st.LoadReport(args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no report with id %s", args[0])
	}
	if err != nil {
		return err
	}

	if showCSV {
		return store.WriteCSV(os.Stdout, rep.Records, true)
	}

	fmt.Printf("Report: %s\n", rep.ID)
	fmt.Printf("Created: %s\n", rep.CreatedAt.Local().Format(time.RFC3339))
	if rep.Dataset.Path != "" {
		fmt.Printf("Dataset: %s (%d samples, %s)\n", rep.Dataset.Path, rep.Dataset.Samples, rep.Dataset.Fingerprint)
	} else {
		fmt.Printf("Dataset: %d samples (%s)\n", rep.Dataset.Samples, rep.Dataset.Fingerprint)
	}
	fmt.Printf("Operator: %s  Piecewise: %v  Max combination: %d\n", rep.Config.Operator, rep.Config.Piecewise, rep.Config.MaxCombination)
	fmt.Printf("Candidates: %d  Fitted: %d  Failed: %d  Elapsed: %s\n",
		rep.Candidates, len(rep.Records), len(rep.Failures), time.Duration(rep.ElapsedMS)*time.Millisecond)
	for _, warning := range rep.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
	fmt.Println()

	printRecords(os.Stdout, rep.Records, 0)

	if len(rep.Failures) > 0 {
		fmt.Println("\nFailures:")
		for _, f := range rep.Failures {
			fmt.Printf("  %d %s (after %s): %s\n", f.Index, f.ModelName, f.Stage, f.Error)
		}
	}
	return nil
}

func runCleanReports(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, closeStore, err := openReportStore()
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := st.ListReports()
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No reports to clean.")
		return nil
	}

	toDelete := selectReportsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No reports match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d report(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, best %s)\n",
			shortID(info.ID),
			info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			info.BestModel,
		)
	}

	if !forceClean {
		proceed := false
		prompt := &survey.Confirm{
			Message: "Proceed with deletion?",
			Default: false,
		}
		if err := survey.AskOne(prompt, &proceed); err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !proceed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := st.DeleteReport(info.ID); err != nil {
			slog.Error("Failed to delete report", "report_id", info.ID, "error", err)
			failed++
			continue
		}
		// The SQLite store keeps traces outside the database.
		if err := store.DeleteTrace(reportsDataDir, info.ID); err != nil {
			slog.Warn("Failed to delete trace", "report_id", info.ID, "error", err)
		}
		slog.Info("Deleted report", "report_id", info.ID)
		deleted++
	}

	fmt.Printf("\nDeleted %d report(s), %d failed.\n", deleted, failed)
	return nil
}

// selectReportsForDeletion applies the retention policy: every report
// created before now minus olderThanDays, plus every report beyond the
// keepLast newest. Zero disables either rule. The result is oldest first.
func selectReportsForDeletion(infos []store.ReportInfo, keepLast, olderThanDays int, now time.Time) []store.ReportInfo {
	sorted := make([]store.ReportInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range sorted {
			if info.CreatedAt.Before(cutoff) {
				selected[info.ID] = true
			}
		}
	}

	if keepLast > 0 && len(sorted) > keepLast {
		for _, info := range sorted[:len(sorted)-keepLast] {
			selected[info.ID] = true
		}
	}

	var toDelete []store.ReportInfo
	for _, info := range sorted {
		if selected[info.ID] {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

// shortID truncates an ID for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
