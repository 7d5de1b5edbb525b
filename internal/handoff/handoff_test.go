package handoff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MarkdownSections(t *testing.T) {
	content := `# R1L2 Handoff

## Completed
- Added /healthz endpoint
- Wrote handler tests

## Next Steps
- Wire the endpoint into the deploy check
1. Update the runbook

## Notes
* Port 8081 is reserved
`
	r, err := Parse([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, r.Status)
	assert.Equal(t, "Added /healthz endpoint; Wrote handler tests", r.Summary)
	assert.Equal(t, []string{
		"Wire the endpoint into the deploy check",
		"Update the runbook",
		"Port 8081 is reserved",
	}, r.FollowUps)
	assert.False(t, r.Blocked())
}

func TestParse_FrontMatterWins(t *testing.T) {
	content := "---\r\nstatus: Blocked\r\nsummary: Could not reach the database\r\nfollow_ups:\r\n  - provision a local postgres\r\n  - \"\"\r\n---\r\n\r\n## Summary\r\nTried migrations\r\n\r\n## Notes\r\n- ignored when front matter lists follow-ups\r\n"

	r, err := Parse([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, StatusBlocked, r.Status)
	assert.True(t, r.Blocked())
	assert.Equal(t, "Could not reach the database", r.Summary)
	assert.Equal(t, []string{"provision a local postgres"}, r.FollowUps)
	assert.Contains(t, r.Body, "Tried migrations")
}

func TestParse_FrontMatterFallsBackToBody(t *testing.T) {
	content := "---\nstatus: partial\n---\n## Summary\nHalf of the form is built\n"

	r, err := Parse([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, r.Status)
	assert.Equal(t, "Half of the form is built", r.Summary)
	assert.Empty(t, r.FollowUps)
}

func TestParse_StatusHeading(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "inline blocked", content: "## Status: BLOCKED\n- missing credentials\n", want: StatusBlocked},
		{name: "section line", content: "## Status\nCompleted\n", want: StatusComplete},
		{name: "unfilled template", content: "## Status: IN_PROGRESS | COMPLETED | BLOCKED\n", want: StatusComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse([]byte(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Status)
		})
	}
}

func TestParse_FreeTextSummary(t *testing.T) {
	r, err := Parse([]byte("Done. Everything compiles.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Done. Everything compiles.", r.Summary)
	assert.Equal(t, StatusComplete, r.Status)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("  \n\n"))
	assert.ErrorIs(t, err, ErrEmptyReport)

	r, err := Parse([]byte("---\nstatus: [unclosed\n---\n## Summary\nstill useful\n"))
	assert.ErrorIs(t, err, ErrMalformedFrontMatter)
	require.NotNil(t, r)
	assert.Equal(t, "still useful", r.Summary)

	_, err = Parse([]byte("---\nstatus: complete\nno closing fence\n"))
	assert.ErrorIs(t, err, ErrMalformedFrontMatter)
}

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HANDOFF.md")
	require.NoError(t, os.WriteFile(path, []byte("## Completed\n- it works\n"), 0644))

	r, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "it works", r.Summary)

	_, err = Read(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}
