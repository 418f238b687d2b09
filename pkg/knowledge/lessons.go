package knowledge

import (
	"bytes"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Lesson is one dated block of the Lessons Learned section.
type Lesson struct {
	Date  time.Time `json:"date"`
	Title string    `json:"title"`
	Items []string  `json:"items"`
	Body  string    `json:"body"`
}

var lessonHeading = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2})\]\s*(.*)$`)

// ListLessons reads the Lessons Learned section of the document at docPath,
// newest first. Entries sharing a date are listed last-appended first.
func ListLessons(docPath string) ([]Lesson, error) {
	src, err := os.ReadFile(docPath)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrDocumentNotFound, docPath)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read knowledge document %s", docPath)
	}
	return ParseLessons(src), nil
}

// ParseLessons extracts lessons from a knowledge document.
func ParseLessons(src []byte) []Lesson {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	type block struct {
		lesson Lesson
		start  int
	}
	var (
		blocks    []block
		inSection bool
		end       = len(src)
	)

	closeLast := func(at int) {
		if len(blocks) == 0 {
			return
		}
		last := &blocks[len(blocks)-1]
		if last.lesson.Body == "" && last.start >= 0 {
			last.lesson.Body = strings.TrimSpace(string(src[last.start:at]))
			last.lesson.Items = topLevelItems(last.lesson.Body)
			last.start = -1
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		title, lineStart, lineEnd := headingSpan(h, src)

		switch {
		case h.Level == 3 && strings.HasPrefix(title, sectionTitle):
			inSection = true
		case h.Level <= 3:
			if inSection {
				closeLast(lineStart)
				end = lineStart
			}
			inSection = false
		case h.Level == 4 && inSection:
			closeLast(lineStart)
			m := lessonHeading.FindStringSubmatch(title)
			if m == nil {
				continue
			}
			date, err := time.Parse("2006-01-02", m[1])
			if err != nil {
				continue
			}
			blocks = append(blocks, block{lesson: Lesson{Date: date, Title: strings.TrimSpace(m[2])}, start: lineEnd})
		}
	}
	if inSection {
		closeLast(end)
	}

	lessons := make([]Lesson, 0, len(blocks))
	for i := len(blocks) - 1; i >= 0; i-- {
		lessons = append(lessons, blocks[i].lesson)
	}
	sort.SliceStable(lessons, func(i, j int) bool {
		return lessons[i].Date.After(lessons[j].Date)
	})
	return lessons
}

// headingSpan returns the heading text and the byte offsets of the start and
// end of its source line.
func headingSpan(h *ast.Heading, src []byte) (string, int, int) {
	lines := h.Lines()
	if lines.Len() == 0 {
		return "", 0, 0
	}
	seg := lines.At(0)
	title := strings.TrimSpace(string(seg.Value(src)))

	start := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
	end := len(src)
	if i := bytes.IndexByte(src[seg.Stop:], '\n'); i >= 0 {
		end = seg.Stop + i + 1
	}
	return title, start, end
}

func topLevelItems(body string) []string {
	var items []string
	for _, l := range strings.Split(body, "\n") {
		if strings.HasPrefix(l, "- ") || strings.HasPrefix(l, "* ") {
			items = append(items, strings.TrimSpace(l[2:]))
		}
	}
	return items
}
