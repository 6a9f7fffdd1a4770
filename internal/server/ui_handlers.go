package server

import (
	"html/template"
	"log/slog"
	"net/http"
)

var jobListTemplate = template.Must(template.New("jobs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>curvesearch jobs</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { padding: 0.3em 0.8em; border-bottom: 1px solid #ddd; text-align: left; }
.failed, .cancelled { color: #a00; }
.completed { color: #070; }
</style>
</head>
<body>
<h1>Jobs</h1>
{{if .}}
<table>
<tr><th>ID</th><th>State</th><th>Dataset</th><th>Progress</th><th>Best model</th><th>Cost</th><th>Started</th></tr>
{{range .}}
<tr>
<td><a href="/api/v1/jobs/{{.ID}}/status">{{.ID}}</a></td>
<td class="{{.State}}">{{.State}}{{if .Error}}: {{.Error}}{{end}}</td>
<td>{{if .Config.DatasetPath}}{{.Config.DatasetPath}}{{else}}inline ({{.Samples}} samples){{end}}</td>
<td>{{.Done}}/{{.Total}}</td>
<td>{{if .BestModel}}<a href="/api/v1/jobs/{{.ID}}/plot.png?model={{.BestModel}}">{{.BestModel}}</a>{{end}}</td>
<td>{{if .BestModel}}{{printf "%.6g" .BestCost}}{{end}}</td>
<td>{{.StartTime.Format "2006-01-02 15:04:05"}}{{if eq .State "completed"}} <a href="/api/v1/jobs/{{.ID}}/chart.html">chart</a>{{end}}</td>
</tr>
{{end}}
</table>
{{else}}
<p>No jobs yet. Submit one with POST /api/v1/jobs.</p>
{{end}}
</body>
</html>
`))

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := jobListTemplate.Execute(w, s.jobManager.ListJobs()); err != nil {
		slog.Error("Failed to render job list", "error", err)
	}
}
