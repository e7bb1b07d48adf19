// Package obsidian parses and serializes markdown task lines in the
// Obsidian Tasks plugin format:
//
//	- [ ] Task title 🔼 📅 2026-01-25 #tag1 #tag2
//	- [x] Completed task ⏫ 📅 2026-01-20 #tag ✅ 2026-01-20
package obsidian

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Status is the checkbox state of a parsed task.
type Status string

const (
	StatusTodo Status = "todo"
	StatusDone Status = "done"
)

// Priority is the glyph-derived priority of a parsed task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsedTask is the transient representation of one checkbox line. It
// lives only for the duration of a file-processing step and is never
// persisted directly.
type ParsedTask struct {
	Title       string
	Status      Status
	Priority    Priority
	DueDate     *time.Time
	CompletedAt *time.Time
	Tags        []string

	SourceFile   string
	SourceLine   int // 1-indexed
	Section      string
	RawLine      string
	FileModified *time.Time
}

// priorityGlyphs maps glyph to priority. The highest (🔺) and high (⏫)
// glyphs both map to high; lowest (⏬) and low (🔽) both map to low.
var priorityGlyphs = map[string]Priority{
	"🔺": PriorityHigh,
	"⏫": PriorityHigh,
	"🔼": PriorityMedium,
	"🔽": PriorityLow,
	"⏬": PriorityLow,
}

// priorityToGlyph is the serialization direction. Medium is omitted
// when writing, so it has no entry here.
var priorityToGlyph = map[Priority]string{
	PriorityHigh: "⏫",
	PriorityLow:  "🔽",
}

const dateLayout = "2006-01-02"

var (
	checkboxRe  = regexp.MustCompile(`^(\s*)-\s*\[([ xX])\]\s*`)
	dueDateRe   = regexp.MustCompile(`📅\s*(\d{4}-\d{2}-\d{2})`)
	completedRe = regexp.MustCompile(`✅\s*(\d{4}-\d{2}-\d{2})`)
	tagRe       = regexp.MustCompile(`#([\p{L}\p{N}_\-/]+)`)
	priorityRe  = regexp.MustCompile(`[🔺⏫🔼🔽⏬]`)
	sectionRe   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	indentRe    = regexp.MustCompile(`^(\s*)`)
	spaceRunRe  = regexp.MustCompile(`\s+`)

	// Everything that is metadata rather than title text: priority
	// glyphs, due/completed dates, recurrence markers and tags.
	metadataRe = regexp.MustCompile(
		`\s*(` +
			`[🔺⏫🔼🔽⏬]` +
			`|📅\s*\d{4}-\d{2}-\d{2}` +
			`|✅\s*\d{4}-\d{2}-\d{2}` +
			`|🔁[^📅]*` +
			`|#[\p{L}\p{N}_\-/]+` +
			`)\s*`)
)

// Parser parses markdown task lines and renders them back.
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses all tasks from a markdown file on disk.
func (p *Parser) ParseFile(path string) ([]ParsedTask, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	modified := info.ModTime()
	return p.ParseContent(string(data), path, &modified), nil
}

// ParseContent parses tasks from markdown content in a single linear
// scan. Any heading line (any depth, no hierarchy) becomes the current
// section for the tasks below it.
func (p *Parser) ParseContent(content, sourceFile string, fileModified *time.Time) []ParsedTask {
	var tasks []ParsedTask
	var currentSection string

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			currentSection = strings.TrimSpace(m[2])
			continue
		}

		task := p.ParseLine(line)
		if task == nil {
			continue
		}
		task.SourceFile = sourceFile
		task.SourceLine = i + 1
		task.Section = currentSection
		task.RawLine = line
		task.FileModified = fileModified
		tasks = append(tasks, *task)
	}
	return tasks
}

// ParseLine parses a single line as a task. Returns nil when the line
// is not a checkbox line or when stripping metadata leaves no title.
func (p *Parser) ParseLine(line string) *ParsedTask {
	checkbox := checkboxRe.FindStringSubmatch(line)
	if checkbox == nil {
		return nil
	}

	status := StatusTodo
	if strings.EqualFold(checkbox[2], "x") {
		status = StatusDone
	}

	content := line[len(checkbox[0]):]

	// First glyph in a left-to-right scan wins.
	priority := PriorityMedium
	if glyph := priorityRe.FindString(content); glyph != "" {
		if mapped, ok := priorityGlyphs[glyph]; ok {
			priority = mapped
		}
	}

	// Dates that do not parse as valid calendar dates are dropped.
	var dueDate, completedAt *time.Time
	if m := dueDateRe.FindStringSubmatch(content); m != nil {
		if d, err := time.Parse(dateLayout, m[1]); err == nil {
			dueDate = &d
		}
	}
	if m := completedRe.FindStringSubmatch(content); m != nil {
		if d, err := time.Parse(dateLayout, m[1]); err == nil {
			completedAt = &d
		}
	}

	var tags []string
	for _, m := range tagRe.FindAllStringSubmatch(content, -1) {
		tags = append(tags, m[1])
	}

	title := metadataRe.ReplaceAllString(content, " ")
	title = strings.TrimSpace(spaceRunRe.ReplaceAllString(title, " "))
	if title == "" {
		// A checkbox line carrying only metadata is not a task: the
		// title is the identity key during reconciliation.
		return nil
	}

	return &ParsedTask{
		Title:       title,
		Status:      status,
		Priority:    priority,
		DueDate:     dueDate,
		CompletedAt: completedAt,
		Tags:        tags,
	}
}

// TaskToMarkdown renders a task back to a markdown line with a fixed
// field order: checkbox, title, priority glyph, due date, tags,
// completed date. Re-parsing the result yields the same title, status,
// priority, dates and tag set; the original byte layout is not
// preserved.
func (p *Parser) TaskToMarkdown(task *ParsedTask) string {
	var parts []string

	checkbox := "[ ]"
	if task.Status == StatusDone {
		checkbox = "[x]"
	}
	parts = append(parts, fmt.Sprintf("- %s %s", checkbox, task.Title))

	if glyph, ok := priorityToGlyph[task.Priority]; ok {
		parts = append(parts, glyph)
	}

	if task.DueDate != nil {
		parts = append(parts, "📅 "+task.DueDate.Format(dateLayout))
	}

	for _, tag := range task.Tags {
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		parts = append(parts, tag)
	}

	if task.Status == StatusDone && task.CompletedAt != nil {
		parts = append(parts, "✅ "+task.CompletedAt.Format(dateLayout))
	}

	return strings.Join(parts, " ")
}

// FindTaskInContent locates a task by case-insensitive exact title
// match. Returns the 1-indexed line number and the raw line.
func (p *Parser) FindTaskInContent(content, title string) (int, string, bool) {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		task := p.ParseLine(line)
		if task != nil && strings.EqualFold(task.Title, title) {
			return i + 1, line, true
		}
	}
	return 0, "", false
}

// UpdateTaskInContent replaces a single task line, preserving the
// original line's indentation. An out-of-range line number leaves the
// content unchanged.
func (p *Parser) UpdateTaskInContent(content string, lineNumber int, task *ParsedTask) string {
	lines := strings.Split(content, "\n")
	if lineNumber < 1 || lineNumber > len(lines) {
		return content
	}

	indent := indentRe.FindString(lines[lineNumber-1])
	newLine := p.TaskToMarkdown(task)
	if strings.HasPrefix(newLine, "- ") {
		newLine = indent + newLine
	}
	lines[lineNumber-1] = newLine

	return strings.Join(lines, "\n")
}
