package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html").Funcs(template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("Jan 2, 2006")
		},
		"join": strings.Join,
	}).ParseFS(templateFS, "templates/report.html"),
)

type ReportData struct {
	Title        string
	Description  string
	Status       string
	CurrentStage string
	GeneratedAt  time.Time
	Stages       []ReportStage
	History      []ReportEvent
}

type ReportStage struct {
	Label   string
	Current bool
	Done    int
	Total   int
	Tasks   []ReportTask
}

type ReportTask struct {
	Title           string
	Description     string
	Status          string
	AccountableRole string
	ResponsibleRole string
	Activities      []string
}

type ReportEvent struct {
	At        time.Time
	FromStage string
	ToStage   string
	Actor     string
	Note      string
}

func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
