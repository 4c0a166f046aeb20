package web

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"studentcal/internal/conflict"
	"studentcal/internal/grid"
	appLog "studentcal/internal/log"
	"studentcal/internal/model"
)

// printTemplate renders a grid as a static page. The root carries
// data-ready="true" once rendered so headless captures know when to shoot.
var printTemplate = template.Must(template.New("print").Funcs(template.FuncMap{
	"day":   func(t time.Time) string { return t.Format("Mon 2") },
	"clock": func(t time.Time) string { return t.Format("15:04") },
	"title": func(g grid.Grid) string {
		switch g.Granularity {
		case grid.Day:
			return g.Reference.Format("Monday, 2 January 2006")
		case grid.Week:
			return "Week of " + grid.WeekStart(g.Reference).Format("2 January 2006")
		default:
			return g.Reference.Format("January 2006")
		}
	},
	"instant": func(ev model.CalendarEvent) bool { return ev.IsInstant() },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Student}} · {{title .Grid}}</title>
<style>
body { font-family: sans-serif; margin: 16px; }
table { border-collapse: collapse; width: 100%; table-layout: fixed; }
th, td { border: 1px solid #444; vertical-align: top; padding: 4px; }
td.other { color: #999; }
td.today { background: #eee; }
.ev { font-size: 12px; margin: 2px 0; }
.conflicts { margin-top: 12px; }
</style>
</head>
<body>
<div id="calendar" data-ready="true" data-granularity="{{.Grid.Granularity}}">
<h1>{{title .Grid}}</h1>
<table>
{{range .Grid.Rows}}<tr>
{{range .}}<td class="{{if not .IsCurrentPeriod}}other{{end}}{{if .IsToday}} today{{end}}">
<div class="date">{{day .Date}}</div>
{{range .Events}}<div class="ev {{.Kind}}">{{if not (instant .)}}{{clock .Start}} {{end}}{{.Title}}{{if .Location}} ({{.Location}}){{end}}</div>
{{end}}</td>
{{end}}</tr>
{{end}}</table>
{{if .Conflicts}}<div class="conflicts"><h2>Conflicts</h2><ul>
{{range .Conflicts}}<li class="{{.Severity}}">{{.A.Title}} / {{.B.Title}} at {{clock .OverlapStart}} ({{.Severity}})</li>
{{end}}</ul></div>{{end}}
</div>
</body>
</html>
`))

type printData struct {
	Student   string
	Grid      grid.Grid
	Conflicts []conflict.Conflict
}

// handlePrint renders the grid as a printable HTML page.
//
// GET /students/{student}/print?granularity=week&date=2026-10-14
func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	g, ref, err := s.gridParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	out, err := sess.Grid(g, ref)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	var buf bytes.Buffer
	data := printData{Student: sess.StudentID(), Grid: out, Conflicts: sess.Conflicts()}
	if err := printTemplate.Execute(&buf, data); err != nil {
		appLog.Error("print template failed", err, "student", sess.StudentID())
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
