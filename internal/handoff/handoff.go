// Package handoff parses the completion report a worker leaves in its lane directory.
//
// A report is markdown with an optional YAML front matter block:
//
//	---
//	status: complete
//	summary: Added the health endpoint
//	follow_ups:
//	  - wire the endpoint into the load balancer check
//	---
//
// Without front matter the "## Completed" or "## Summary" section supplies the
// summary and bullets under "## Next Steps" and "## Notes" become follow-ups.
package handoff

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyReport indicates the report file exists but has no content.
	ErrEmptyReport = errors.New("handoff: empty report")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("handoff: malformed frontmatter")
)

// Status values a worker may declare.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusBlocked  = "blocked"
)

// Report is a parsed completion report.
type Report struct {
	Status    string
	Summary   string
	FollowUps []string
	Body      string
}

// Blocked reports whether the worker declared it could not finish.
// The scheduler counts a blocked report as a failed attempt.
func (r *Report) Blocked() bool {
	return r != nil && r.Status == StatusBlocked
}

type frontMatter struct {
	Status    string   `yaml:"status"`
	Summary   string   `yaml:"summary"`
	FollowUps []string `yaml:"follow_ups"`
}

// Read loads and parses the report at path.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading handoff %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses report content. Malformed front matter returns a report built
// from the markdown body alongside an error wrapping ErrMalformedFrontMatter.
func Parse(content []byte) (*Report, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if len(bytes.TrimSpace(normalized)) == 0 {
		return nil, ErrEmptyReport
	}

	body := normalized
	var meta frontMatter
	var metaErr error
	if bytes.HasPrefix(normalized, []byte("---\n")) {
		parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
		if len(parts) == 2 {
			body = parts[1]
			if err := yaml.Unmarshal(parts[0], &meta); err != nil {
				metaErr = fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
				meta = frontMatter{}
			}
		} else {
			metaErr = ErrMalformedFrontMatter
		}
	}

	r := parseMarkdown(string(body))
	r.Body = strings.TrimSpace(string(body))

	if s := strings.ToLower(strings.TrimSpace(meta.Status)); s != "" {
		r.Status = s
	}
	if s := strings.TrimSpace(meta.Summary); s != "" {
		r.Summary = s
	}
	if len(meta.FollowUps) > 0 {
		r.FollowUps = nil
		for _, f := range meta.FollowUps {
			if f = strings.TrimSpace(f); f != "" {
				r.FollowUps = append(r.FollowUps, f)
			}
		}
	}
	if r.Status == "" {
		r.Status = StatusComplete
	}

	return r, metaErr
}

func parseMarkdown(body string) *Report {
	r := &Report{}
	var summary []string
	section := ""

	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "#") {
			section = sectionName(line)
			if section == "status" {
				if _, rest, ok := strings.Cut(line, ":"); ok {
					if s := statusWord(rest); s != "" {
						r.Status = s
					}
				}
			}
			continue
		}
		if line == "" {
			continue
		}

		switch section {
		case "completed", "summary":
			summary = append(summary, bulletText(line))
		case "next steps", "notes":
			if text := bulletText(line); text != "" {
				r.FollowUps = append(r.FollowUps, text)
			}
		case "status":
			if s := statusWord(line); s != "" {
				r.Status = s
			}
		}
	}

	r.Summary = strings.Join(summary, "; ")
	if r.Summary == "" {
		r.Summary = firstProse(body)
	}
	return r
}

// sectionName returns the lower-cased heading text for level-2 and deeper headings.
// A "## Status: BLOCKED" heading is folded into the status section.
func sectionName(line string) string {
	level := len(line) - len(strings.TrimLeft(line, "#"))
	name := strings.ToLower(strings.TrimSpace(line[level:]))
	if level < 2 {
		return ""
	}
	if strings.HasPrefix(name, "status") {
		return "status"
	}
	return name
}

func bulletText(line string) string {
	for _, prefix := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	// numbered list: "1. text"
	if i := strings.Index(line, ". "); i > 0 && i <= 3 && isDigits(line[:i]) {
		return strings.TrimSpace(line[i+2:])
	}
	return line
}

func statusWord(line string) string {
	s := strings.ToLower(bulletText(line))
	if strings.Contains(s, "|") {
		// unfilled template line
		return ""
	}
	switch {
	case strings.Contains(s, "blocked"):
		return StatusBlocked
	case strings.Contains(s, "partial"):
		return StatusPartial
	case strings.Contains(s, "complete"), strings.Contains(s, "done"):
		return StatusComplete
	}
	return ""
}

func firstProse(body string) string {
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" && !strings.HasPrefix(line, "#") {
			return bulletText(line)
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
