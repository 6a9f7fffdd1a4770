package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(":0", NewJobManager(catalog.Default(), nil))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

// completedJob runs a job to completion and returns its ID.
func completedJob(t *testing.T, s *Server) string {
	t.Helper()
	job := s.jobManager.Start(s.baseCtx, testJobConfig())
	s.jobManager.Wait()

	done, _ := s.jobManager.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", done.State, done.Error)
	}
	return job.ID
}

func serve(s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_CreateJob(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(testJobConfig())
	w := serve(s, http.MethodPost, "/api/v1/jobs", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"x": [1, 2`},
		{"unknown field", `{"x": [1], "y": [1], "frames": 3}`},
		{"no data", `{"functions": ["linear"]}`},
		{"length mismatch", `{"x": [1, 2, 3], "y": [1, 2]}`},
		{"bad operator", `{"x": [1], "y": [1], "operator": "^"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, http.MethodPost, "/api/v1/jobs", []byte(tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("Expected a JSON error body, got %q", w.Body.String())
			}
		})
	}

	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Errorf("Rejected submissions should not create jobs, got %d", n)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := newTestServer(t)

	s.jobManager.CreateJob(testJobConfig())
	s.jobManager.CreateJob(testJobConfig())

	w := serve(s, http.MethodGet, "/api/v1/jobs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	if w := serve(s, http.MethodPut, "/api/v1/jobs", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /api/v1/jobs: expected 405, got %d", w.Code)
	}
	if w := serve(s, http.MethodPost, "/api/v1/jobs/abc/status", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status: expected 405, got %d", w.Code)
	}
	if w := serve(s, http.MethodPost, "/api/v1/models", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST models: expected 405, got %d", w.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodOptions, "/api/v1/jobs", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Missing CORS header, got %q", got)
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := newTestServer(t)
	id := completedJob(t, s)

	for _, path := range []string{"/api/v1/jobs/" + id, "/api/v1/jobs/" + id + "/status"} {
		w := serve(s, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, w.Code)
		}

		var status map[string]any
		if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status["id"] != id {
			t.Errorf("Wrong job ID: %v", status["id"])
		}
		if status["state"] != string(StateCompleted) {
			t.Errorf("Expected completed, got %v", status["state"])
		}
		if _, ok := status["elapsed"]; !ok {
			t.Error("Status should include elapsed time")
		}
		if status["done"] != float64(5) {
			t.Errorf("Expected done 5, got %v", status["done"])
		}
	}
}

func TestServer_NotFound(t *testing.T) {
	s := newTestServer(t)

	paths := []string{
		"/api/v1/jobs/nonexistent",
		"/api/v1/jobs/nonexistent/report",
		"/api/v1/jobs/nonexistent/plot.png",
		"/api/v1/jobs/nonexistent/chart.html",
		"/api/v1/jobs/nonexistent/stream",
		"/api/v1/jobs/abc/unknown",
		"/favicon.ico",
	}
	for _, path := range paths {
		if w := serve(s, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, w.Code)
		}
	}

	if w := serve(s, http.MethodDelete, "/api/v1/jobs/nonexistent", nil); w.Code != http.StatusNotFound {
		t.Errorf("DELETE unknown job: expected 404, got %d", w.Code)
	}
	if w := serve(s, http.MethodGet, "/api/v1/jobs/", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Missing job ID: expected 400, got %d", w.Code)
	}
}

func TestServer_ReportNotReady(t *testing.T) {
	s := newTestServer(t)
	job := s.jobManager.CreateJob(testJobConfig())

	for _, sub := range []string{"report", "plot.png", "chart.html"} {
		w := serve(s, http.MethodGet, "/api/v1/jobs/"+job.ID+"/"+sub, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("%s of a pending job: expected 409, got %d", sub, w.Code)
		}
	}
}

func TestServer_GetReport(t *testing.T) {
	s := newTestServer(t)
	id := completedJob(t, s)

	w := serve(s, http.MethodGet, "/api/v1/jobs/"+id+"/report", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var rep store.Report
	if err := json.NewDecoder(w.Body).Decode(&rep); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if rep.ID != id {
		t.Errorf("Report ID = %q, want %q", rep.ID, id)
	}
	if err := rep.Validate(); err != nil {
		t.Errorf("Served report should be valid: %v", err)
	}
	if rep.Candidates != 5 || rep.Dataset.Samples != 25 {
		t.Errorf("Unexpected report summary: candidates=%d samples=%d", rep.Candidates, rep.Dataset.Samples)
	}
	if rep.Config.Operator != "+" {
		t.Errorf("Operator = %q, want +", rep.Config.Operator)
	}
}

func TestServer_GetPlot(t *testing.T) {
	s := newTestServer(t)
	id := completedJob(t, s)

	w := serve(s, http.MethodGet, "/api/v1/jobs/"+id+"/plot.png?model=linear", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	if _, err := png.Decode(w.Body); err != nil {
		t.Errorf("Failed to decode PNG: %v", err)
	}

	if w := serve(s, http.MethodGet, "/api/v1/jobs/"+id+"/plot.png?rank=1", nil); w.Code != http.StatusOK {
		t.Errorf("rank=1: expected 200, got %d", w.Code)
	}
	if w := serve(s, http.MethodGet, "/api/v1/jobs/"+id+"/plot.png?model=gaussian", nil); w.Code != http.StatusNotFound {
		t.Errorf("Model outside the report: expected 404, got %d", w.Code)
	}
	if w := serve(s, http.MethodGet, "/api/v1/jobs/"+id+"/plot.png?rank=99", nil); w.Code != http.StatusNotFound {
		t.Errorf("Rank out of range: expected 404, got %d", w.Code)
	}
}

func TestServer_GetChart(t *testing.T) {
	s := newTestServer(t)
	id := completedJob(t, s)

	w := serve(s, http.MethodGet, "/api/v1/jobs/"+id+"/chart.html?top=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("Chart page should load echarts")
	}

	if w := serve(s, http.MethodGet, "/api/v1/jobs/"+id+"/chart.html?top=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Negative top: expected 400, got %d", w.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := newTestServer(t)
	job := s.jobManager.CreateJob(testJobConfig())

	w := serve(s, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
}

func TestServer_Models(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/v1/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var models []modelInfo
	if err := json.NewDecoder(w.Body).Decode(&models); err != nil {
		t.Fatalf("Failed to decode models: %v", err)
	}
	if len(models) != catalog.Default().Len() {
		t.Errorf("Expected %d models, got %d", catalog.Default().Len(), len(models))
	}

	constants := 0
	for _, m := range models {
		if m.Constant {
			constants++
		}
		if len(m.Params) == 0 {
			t.Errorf("Model %s has no parameters", m.Name)
		}
	}
	if constants != 1 {
		t.Errorf("Expected exactly one constant model, got %d", constants)
	}
}

func TestServer_Index(t *testing.T) {
	s := newTestServer(t)
	id := completedJob(t, s)

	w := serve(s, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, id) {
		t.Error("Index should list the job")
	}
	if !strings.Contains(body, "/chart.html") {
		t.Error("Completed jobs should link their chart")
	}
}

func TestServer_StreamCompletedJob(t *testing.T) {
	s := newTestServer(t)
	id := completedJob(t, s)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + id + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}

	// A finished job yields one event and the stream ends.
	var events []ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].State != StateCompleted || events[0].Done != 5 {
		t.Errorf("Unexpected event: %+v", events[0])
	}
}

func TestServer_StreamLiveJob(t *testing.T) {
	s := newTestServer(t)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, _ := json.Marshal(testJobConfig())
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST job: %v", err)
	}
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()

	stream, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer stream.Body.Close()

	// The stream ends with a terminal event whether it attached early or late.
	var last ProgressEvent
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last)
		}
	}
	if last.State != StateCompleted {
		t.Errorf("Stream should end on completed, got %s", last.State)
	}
}

func TestEventBroadcaster_TerminalNotDropped(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")
	defer eb.Unsubscribe("job", ch)

	for i := 0; i < cap(ch)+10; i++ {
		eb.Broadcast(ProgressEvent{JobID: "job", State: StateRunning, Done: i})
	}
	eb.Broadcast(ProgressEvent{JobID: "job", State: StateCompleted})

	var last ProgressEvent
	for len(ch) > 0 {
		last = <-ch
	}
	if last.State != StateCompleted {
		t.Errorf("Terminal event was dropped, last state %s", last.State)
	}
}

func TestEventBroadcaster_ReplayAndCleanup(t *testing.T) {
	eb := NewEventBroadcaster()
	eb.Broadcast(ProgressEvent{JobID: "job", State: StateRunning, Done: 2})

	ch := eb.Subscribe("job")
	select {
	case ev := <-ch:
		if ev.Done != 2 {
			t.Errorf("Replayed wrong event: %+v", ev)
		}
	default:
		t.Fatal("New subscriber should receive the last event")
	}

	eb.CleanupJob("job")
	if _, ok := <-ch; ok {
		t.Error("CleanupJob should close subscriber channels")
	}
	// Unsubscribing after cleanup must not close the channel twice.
	eb.Unsubscribe("job", ch)
}
