package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cwbudde/curvesearch/internal/search"
	"github.com/cwbudde/curvesearch/internal/viz"
)

// errorResponse is the body of every API error.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// seriesFor pairs a fitted result with the samples it was fitted to.
func seriesFor(res *search.FitResult, x, y []float64) viz.Series {
	s := viz.Series{
		Name: res.ModelName,
		X:    x,
		Y:    y,
	}
	if fitted := res.Evaluate(x); fitted != nil {
		s.Fitted = fitted
		s.Curve = res.Evaluate
	}
	return s
}
