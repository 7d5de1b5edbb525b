package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrMalformedLedger is returned when the ledger is missing or contains no task lines.
// Callers treat it as "nothing to do", not as a fatal error.
var ErrMalformedLedger = errors.New("ledger: no tasks found")

// taskLine matches "- [ ] text", "* [x] text" with any leading indentation.
// Groups: 1 = bullet prefix, 2 = mark, 3 = spacing, 4 = text.
var taskLine = regexp.MustCompile(`^(\s*[-*]\s*)\[([ xX])\](\s*)(.+?)\s*$`)

// Task is one checkable line item in the ledger.
type Task struct {
	Line      int    // 1-based line number in the ledger file
	Text      string // Description with surrounding whitespace trimmed
	Completed bool
}

// Key identifies a task across reloads. Line numbers move when the file is
// edited, so retry bookkeeping keys on the literal text.
func (t Task) Key() string {
	return t.Text
}

// Ledger is the ordered task list backed by a markdown file.
// It is not safe for concurrent use; the scheduler owns it.
type Ledger struct {
	path  string
	lines []string // Split on "\n"; a CRLF line keeps its trailing "\r"
	tasks []Task
}

// Load reads and parses the ledger at path.
// Returns ErrMalformedLedger (wrapped) if the file is missing or has no tasks;
// the returned Ledger is still usable and simply empty in that case.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path}
	if err := l.Reload(); err != nil {
		return l, err
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Reload re-reads the ledger file. Workers edit the file while they run, so the
// scheduler reloads before every assignment and after every collection.
func (l *Ledger) Reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		l.lines, l.tasks = nil, nil
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", ErrMalformedLedger, l.path)
		}
		return fmt.Errorf("reading ledger %s: %w", l.path, err)
	}

	l.lines = strings.Split(string(data), "\n")
	l.tasks = parseTasks(l.lines)

	if len(l.tasks) == 0 {
		return fmt.Errorf("%w in %s", ErrMalformedLedger, l.path)
	}
	return nil
}

func parseTasks(lines []string) []Task {
	var tasks []Task
	for i, line := range lines {
		m := taskLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[4])
		if text == "" {
			continue
		}
		tasks = append(tasks, Task{
			Line:      i + 1,
			Text:      text,
			Completed: m[2] != " ",
		})
	}
	return tasks
}

// Tasks returns a copy of all tasks in ledger order.
func (l *Ledger) Tasks() []Task {
	return append([]Task(nil), l.tasks...)
}

// NextIncomplete returns up to n incomplete tasks in ledger order.
// skip, if non-nil, excludes tasks from consideration (e.g. exhausted retries);
// skipped tasks do not count toward n.
func (l *Ledger) NextIncomplete(n int, skip func(Task) bool) []Task {
	if n <= 0 {
		return nil
	}
	var out []Task
	for _, t := range l.tasks {
		if t.Completed {
			continue
		}
		if skip != nil && skip(t) {
			continue
		}
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out
}

// Counts returns the number of completed and pending tasks.
func (l *Ledger) Counts() (completed, pending int) {
	for _, t := range l.tasks {
		if t.Completed {
			completed++
		} else {
			pending++
		}
	}
	return completed, pending
}

// Pending returns the number of incomplete tasks.
func (l *Ledger) Pending() int {
	_, pending := l.Counts()
	return pending
}

// MarkComplete ticks the checkbox for t and rewrites the ledger in place.
// Marking an already-complete task is a no-op. The task is located by its line
// if that line still carries the same text, otherwise by the first incomplete
// task with identical text.
func (l *Ledger) MarkComplete(t Task) error {
	idx := l.locate(t)
	if idx < 0 {
		if l.isComplete(t.Text) {
			return nil
		}
		return fmt.Errorf("task %q not found in %s", t.Text, l.path)
	}

	task := &l.tasks[idx]
	if task.Completed {
		return nil
	}

	lineIdx := task.Line - 1
	m := taskLine.FindStringSubmatchIndex(l.lines[lineIdx])
	if m == nil {
		return fmt.Errorf("line %d of %s is no longer a task", task.Line, l.path)
	}
	line := l.lines[lineIdx]
	// m[4]:m[5] is the mark group
	l.lines[lineIdx] = line[:m[4]] + "x" + line[m[5]:]
	task.Completed = true

	return l.write()
}

func (l *Ledger) locate(t Task) int {
	for i, cur := range l.tasks {
		if cur.Line == t.Line && cur.Text == t.Text {
			return i
		}
	}
	for i, cur := range l.tasks {
		if cur.Text == t.Text && !cur.Completed {
			return i
		}
	}
	return -1
}

func (l *Ledger) isComplete(text string) bool {
	for _, cur := range l.tasks {
		if cur.Text == text && cur.Completed {
			return true
		}
	}
	return false
}

// write replaces the ledger atomically (temp file + rename) keeping the original mode.
func (l *Ledger) write() error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(l.path); err == nil {
		mode = info.Mode().Perm()
	}

	content := strings.Join(l.lines, "\n")

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("setting ledger mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("replacing ledger %s: %w", l.path, err)
	}
	return nil
}
