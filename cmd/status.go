package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/curvesearch/internal/store"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobView is the subset of a server job the status command prints.
type jobView struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Config struct {
		DatasetPath string   `json:"datasetPath"`
		Functions   []string `json:"functions"`
		Operator    string   `json:"operator"`
		Piecewise   bool     `json:"piecewise"`
	} `json:"config"`
	Samples   int         `json:"samples"`
	Total     int         `json:"total"`
	Done      int         `json:"done"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	BestModel string      `json:"bestModel"`
	BestCost  store.Float `json:"bestCost"`
	Elapsed   float64     `json:"elapsed"`
	Error     string      `json:"error"`
	Warnings  []string    `json:"warnings"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(serverURL + "/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, url.PathEscape(jobID)), jobID)
}

func getJSON(target string, v any) (int, error) {
	resp, err := http.Get(target)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(target string) error {
	var jobs []jobView
	if _, err := getJSON(target, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Progress: %d/%d\n", job.Done, job.Total)
		if job.BestModel != "" {
			fmt.Printf("  Best: %s (cost %.6g)\n", job.BestModel, float64(job.BestCost))
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(target, jobID string) error {
	var job jobView
	code, err := getJSON(target, &job)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("State: %s\n", job.State)
	fmt.Println()

	fmt.Println("Configuration:")
	if job.Config.DatasetPath != "" {
		fmt.Printf("  Dataset: %s\n", job.Config.DatasetPath)
	}
	fmt.Printf("  Samples: %d\n", job.Samples)
	if len(job.Config.Functions) > 0 {
		fmt.Printf("  Functions: %v\n", job.Config.Functions)
	}
	operator := job.Config.Operator
	if operator == "" {
		operator = "+"
	}
	fmt.Printf("  Operator: %s  Piecewise: %v\n", operator, job.Config.Piecewise)
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Candidates: %d/%d (%d fitted, %d failed)\n", job.Done, job.Total, job.Succeeded, job.Failed)
	if job.BestModel != "" && !math.IsInf(float64(job.BestCost), 1) {
		fmt.Printf("  Best: %s (cost %.6g)\n", job.BestModel, float64(job.BestCost))
	}
	elapsed := time.Duration(job.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	for _, w := range job.Warnings {
		fmt.Printf("\nWarning: %s\n", w)
	}
	if job.Error != "" {
		fmt.Printf("\nError: %s\n", job.Error)
	}

	return nil
}
