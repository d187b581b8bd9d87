package api

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goodboyai/kennel/pkg/metrics"
)

type dashboardView struct {
	Snapshot metrics.Snapshot
	Backend  string
	Sessions int
	HeadSlot int
	Pending  int
	Tools    int
	SSE      int
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>kennel</title>
<style>
body { font-family: monospace; background: #101418; color: #d8dee9; margin: 2rem; }
h1 { font-size: 1.2rem; }
table { border-collapse: collapse; margin-top: 1rem; }
td, th { border: 1px solid #2e3440; padding: 0.3rem 0.8rem; text-align: left; }
th { background: #1b2128; }
.ok { color: #a3be8c; }
</style>
</head>
<body>
<h1>kennel <span class="ok">up {{.Snapshot.Uptime}}</span></h1>
<table>
<tr><th>backend</th><td>{{.Backend}}</td></tr>
<tr><th>tools</th><td>{{.Tools}}</td></tr>
<tr><th>tool calls</th><td>{{.Snapshot.ToolCalls}} ({{.Snapshot.ToolErrors}} errors, {{.Snapshot.ToolsBlocked}} blocked)</td></tr>
<tr><th>blocks sealed</th><td>{{.Snapshot.BlocksSealed}} (head slot {{.HeadSlot}}, {{.Pending}} pending)</td></tr>
<tr><th>http requests</th><td>{{.Snapshot.HTTPRequests}}</td></tr>
<tr><th>sse clients</th><td>{{.SSE}}</td></tr>
<tr><th>active sessions</th><td>{{.Sessions}}</td></tr>
</table>
{{if .Snapshot.Judgments}}
<table>
<tr><th>verdict</th><th>count</th></tr>
{{range $verdict, $count := .Snapshot.Judgments}}<tr><td>{{$verdict}}</td><td>{{$count}}</td></tr>
{{end}}
</table>
{{end}}
</body>
</html>
`))

// handleDashboard renders the plain-HTML operational view over the same
// numbers the Prometheus endpoint exports.
func (s *Server) handleDashboard(c *gin.Context) {
	view := dashboardView{
		Snapshot: s.metrics.Snapshot(),
		SSE:      s.sse.count(),
	}
	if s.store != nil {
		view.Backend = s.store.Backend()
	}
	if s.sessions != nil {
		view.Sessions = s.sessions.GetSummary().ActiveSessions
	}
	if s.chain != nil {
		stats := s.chain.Stats()
		view.HeadSlot = stats.HeadSlot
		view.Pending = stats.Pending
	}
	if s.registry != nil {
		view.Tools = len(s.registry.List())
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := dashboardTmpl.Execute(c.Writer, view); err != nil {
		s.logger.Error("failed to render dashboard", "error", err)
	}
}
