package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"formatDate": func(t *time.Time) string {
		return t.Format("Jan 2, 2006")
	},
	"formatTime": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006 15:04 UTC")
	},
}).ParseFS(templateFS, "templates/report.html"))

// ReportData holds data for the review report template
type ReportData struct {
	FileName    string
	Label       string
	Uploader    string
	Team        string
	Priority    string
	Description string
	Supersedes  string
	DueDate     *time.Time
	CreatedAt   time.Time
	GeneratedAt time.Time
	History     []HistoryEntry
	Comments    []ReportComment
}

// RenderReportHTML renders the review report template
func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
