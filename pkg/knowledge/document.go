package knowledge

import (
	"strings"
)

// Structural markers of the knowledge document. Headings are matched by
// prefix so that suffixes such as "(auto-updated)" are tolerated.
const (
	parentTitle  = "🧠 Compounding Knowledge"
	sectionTitle = "📚 Lessons Learned"

	ParentMarker  = "## " + parentTitle
	SectionMarker = "### " + sectionTitle
)

const sectionIntro = "Approved verification runs are recorded here automatically.\n"

// line is one source line with its trailing newline kept.
type line struct {
	text  string
	level int
}

func splitLines(doc string) []line {
	if doc == "" {
		return nil
	}
	raw := strings.SplitAfter(doc, "\n")
	if raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}

	lines := make([]line, len(raw))
	inFence := false
	for i, text := range raw {
		lines[i].text = text
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if !inFence {
			lines[i].level = headingLevel(text)
		}
	}
	return lines
}

// headingLevel returns the ATX heading level of a line, or 0.
func headingLevel(text string) int {
	n := 0
	for n < len(text) && text[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0
	}
	if n == len(text) || text[n] == ' ' || text[n] == '\t' || text[n] == '\n' || text[n] == '\r' {
		return n
	}
	return 0
}

func joinLines(lines []line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.text)
	}
	return b.String()
}

// findHeading returns the index of the first heading of the given level
// starting with marker, or -1.
func findHeading(lines []line, level int, marker string) int {
	for i, l := range lines {
		if l.level == level && strings.HasPrefix(strings.TrimSpace(l.text), marker) {
			return i
		}
	}
	return -1
}

// sectionEnd returns the index of the first heading after start whose level
// is at most level, or len(lines).
func sectionEnd(lines []line, start, level int) int {
	for i := start + 1; i < len(lines); i++ {
		if lines[i].level > 0 && lines[i].level <= level {
			return i
		}
	}
	return len(lines)
}

// EnsureSection returns doc with a Lessons Learned section. A missing section
// is added at the end of the Compounding Knowledge section, or with a new
// Compounding Knowledge section at the end of the document.
func EnsureSection(doc string) string {
	lines := splitLines(doc)
	if findHeading(lines, 3, SectionMarker) >= 0 {
		return doc
	}

	section := SectionMarker + "\n\n" + sectionIntro
	parent := findHeading(lines, 2, ParentMarker)
	if parent < 0 {
		return withBlankLine(doc) + ParentMarker + "\n\n" + section
	}

	end := sectionEnd(lines, parent, 2)
	before := joinLines(lines[:end])
	after := joinLines(lines[end:])
	if after == "" {
		return withBlankLine(before) + section
	}
	return withBlankLine(before) + section + "\n" + after
}

// Append adds entry at the end of the Lessons Learned section, creating the
// section when needed. Prior entries are left untouched.
func Append(doc, entry string) string {
	doc = EnsureSection(doc)
	lines := splitLines(doc)
	start := findHeading(lines, 3, SectionMarker)
	end := sectionEnd(lines, start, 3)

	before := joinLines(lines[:end])
	after := joinLines(lines[end:])
	block := strings.TrimRight(entry, "\n") + "\n"
	if after == "" {
		return withBlankLine(before) + block
	}
	return withBlankLine(before) + block + "\n" + after
}

// withBlankLine makes s end with exactly one blank line, keeping any content.
func withBlankLine(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimRight(s, "\n") + "\n\n"
}
