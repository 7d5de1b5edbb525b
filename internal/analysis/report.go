package analysis

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

//go:embed templates/report.md.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.md.tmpl").Funcs(template.FuncMap{
	"upper":    strings.ToUpper,
	"percent":  func(f float64) string { return humanize.FtoaWithDigits(f, 1) + "%" },
	"duration": func(d time.Duration) string { return d.Round(time.Second).String() },
	"stamp":    func(t time.Time) string { return t.Local().Format("2006-01-02 15:04") },
	"count":    func(n int) string { return humanize.Comma(int64(n)) },
}).ParseFS(templateFS, "templates/report.md.tmpl"))

// Render returns the RUN_REPORT.md content.
func Render(a Analysis) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, a); err != nil {
		return nil, fmt.Errorf("rendering run report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteReport renders the report into dir and returns its path.
func WriteReport(dir string, a Analysis) (string, error) {
	content, err := Render(a)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
