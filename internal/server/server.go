package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/curvesearch/internal/dataset"
	"github.com/cwbudde/curvesearch/internal/errs"
	"github.com/cwbudde/curvesearch/internal/search"
	"github.com/cwbudde/curvesearch/internal/store"
	"github.com/cwbudde/curvesearch/internal/viz"
)

// maxBodyBytes bounds job submissions, which may carry inline data.
const maxBodyBytes = 32 << 20

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	addr       string
	server     *http.Server

	// jobs run under baseCtx so Shutdown can stop them.
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewServer creates a server that runs jobs on jm.
func NewServer(addr string, jm *JobManager) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		jobManager: jm,
		addr:       addr,
		baseCtx:    ctx,
		stop:       stop,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)

	mux.HandleFunc("/api/v1/models", s.handleModels)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs, waits for them to return and then stops
// the HTTP server. Cancelled jobs end their event streams, so open
// connections drain.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.stop()

	done := make(chan struct{})
	go func() {
		s.jobManager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Jobs still running at shutdown")
	}

	return s.server.Shutdown(ctx)
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	if r.Method == http.MethodDelete && sub == "" {
		s.handleCancelJob(w, r, jobID)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "report":
		s.handleGetReport(w, r, jobID)
	case "plot.png":
		s.handleGetPlot(w, r, jobID)
	case "chart.html":
		s.handleGetChart(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var config JobConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	// Reject bad configurations up front instead of as a failed job.
	if _, err := config.SearchConfig(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if config.DatasetPath == "" && len(config.X) != len(config.Y) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("x and y lengths differ (%d, %d)", len(config.X), len(config.Y)))
		return
	}

	job := s.jobManager.Start(s.baseCtx, config)
	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleCancelJob handles DELETE /api/v1/jobs/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !s.jobManager.CancelJob(jobID) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// jobStatus is a job plus derived timing.
type jobStatus struct {
	Job
	Elapsed float64 `json:"elapsed"`
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	writeJSON(w, http.StatusOK, jobStatus{Job: job, Elapsed: elapsed.Seconds()})
}

// finishedReport returns the report of a job, writing the HTTP error when
// there is none yet.
func (s *Server) finishedReport(w http.ResponseWriter, jobID string) (Job, *search.Report, bool) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return job, nil, false
	}
	rep := job.Report()
	if rep == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("Job is %s, no report yet", job.State))
		return job, nil, false
	}
	return job, rep, true
}

// handleGetReport handles GET /api/v1/jobs/:id/report
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request, jobID string) {
	job, rep, ok := s.finishedReport(w, jobID)
	if !ok {
		return
	}
	cfg, _ := job.Config.SearchConfig()
	x, y := job.Data()
	out := store.NewReport(job.ID, rep, store.NewRunConfig(cfg), store.DatasetInfo{
		Path:        job.Config.DatasetPath,
		Samples:     len(x),
		Fingerprint: dataset.Fingerprint(x, y),
	})
	out.CreatedAt = job.StartTime
	writeJSON(w, http.StatusOK, out)
}

// handleGetPlot handles GET /api/v1/jobs/:id/plot.png?model=&rank=
func (s *Server) handleGetPlot(w http.ResponseWriter, r *http.Request, jobID string) {
	job, rep, ok := s.finishedReport(w, jobID)
	if !ok {
		return
	}

	result, err := pickResult(rep, r.URL.Query().Get("model"), r.URL.Query().Get("rank"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	q := r.URL.Query()
	x, y := job.Data()
	opts := viz.Options{
		Title:  fmt.Sprintf("%s (cost %.4g)", result.ModelName, result.Cost),
		XLabel: "x",
		YLabel: "y",
		LogX:   q.Get("xscale") == "log",
		LogY:   q.Get("yscale") == "log",
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := viz.WritePNG(w, seriesFor(result, x, y), opts); err != nil {
		slog.Error("Failed to render plot", "job_id", jobID, "model", result.ModelName, "error", err)
	}
}

// handleGetChart handles GET /api/v1/jobs/:id/chart.html?top=
func (s *Server) handleGetChart(w http.ResponseWriter, r *http.Request, jobID string) {
	job, rep, ok := s.finishedReport(w, jobID)
	if !ok {
		return
	}

	top := 5
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid top %q", v))
			return
		}
		top = n
	}
	top = min(top, len(rep.Results))

	x, y := job.Data()
	series := make([]viz.Series, 0, top)
	for i := range rep.Results[:top] {
		series = append(series, seriesFor(&rep.Results[i], x, y))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := viz.WriteHTML(w, "Job "+job.ID, x, y, series); err != nil {
		slog.Error("Failed to render chart", "job_id", jobID, "error", err)
	}
}

// modelInfo describes one catalog entry.
type modelInfo struct {
	Name     string   `json:"name"`
	Params   []string `json:"params"`
	Constant bool     `json:"constant,omitempty"`
}

// handleModels handles GET /api/v1/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models := s.jobManager.Registry().Models()
	out := make([]modelInfo, len(models))
	for i, m := range models {
		out[i] = modelInfo{Name: m.Name, Params: m.Params, Constant: m.Constant}
	}
	writeJSON(w, http.StatusOK, out)
}

// pickResult selects a result by model name, or by rank (default 0).
func pickResult(rep *search.Report, model, rank string) (*search.FitResult, error) {
	if model != "" {
		if res := rep.Find(model); res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("model %q not in report", model)
	}
	i := 0
	if rank != "" {
		n, err := strconv.Atoi(rank)
		if err != nil {
			return nil, errs.Invalid("rank", "not an integer: %q", rank)
		}
		i = n
	}
	if i < 0 || i >= len(rep.Results) {
		return nil, fmt.Errorf("rank %d out of range (%d results)", i, len(rep.Results))
	}
	return &rep.Results[i], nil
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
