package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Markers skills print on the line before their JSON payload, in priority
// order. A bare top-level object is the last resort.
var Markers = []string{
	"--- JSON Output ---",
	"--- JSON Report ---",
	"--- Log Analysis Results (JSON) ---",
	"--- Visual Verification Results (JSON) ---",
}

// Extract finds the JSON payload embedded in free-form skill output. It never
// panics; ok is false when no object could be parsed.
func Extract(raw string) (payload map[string]any, ok bool) {
	return ExtractContext(context.Background(), raw)
}

// ExtractContext is Extract with cancellation. Scanning is linear in the
// size of raw; ok is false once ctx is done.
func ExtractContext(ctx context.Context, raw string) (payload map[string]any, ok bool) {
	for _, marker := range Markers {
		idx := strings.LastIndex(raw, marker)
		if idx < 0 {
			continue
		}
		if payload, ok := decodeLeading(raw[idx+len(marker):]); ok {
			return payload, true
		}
	}
	return lastObject(ctx, raw)
}

// decodeLeading decodes the first JSON value in s, ignoring anything after it.
func decodeLeading(s string) (map[string]any, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var m map[string]any
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&m); err != nil {
		return nil, false
	}
	return m, m != nil
}

// checkEvery is how many bytes are scanned between context checks.
const checkEvery = 64 << 10

// span is a balanced {...} block, s[start:end].
type span struct {
	start, end int
}

// objectSpans returns every balanced brace block in s, ordered by end
// offset, in a single pass. Braces inside JSON strings are ignored. A string
// never spans a newline, so a stray quote in a log line cannot hide the rest
// of the output.
func objectSpans(ctx context.Context, s string) ([]span, error) {
	var (
		spans    []span
		open     []int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c := s[i]
		if c == '\n' {
			inString, escaped = false, false
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if n := len(open); n > 0 {
				spans = append(spans, span{start: open[n-1], end: i + 1})
				open = open[:n-1]
			}
		}
	}
	return spans, nil
}

// lastObject returns the last balanced {...} block that parses as a JSON
// object. An enclosing block is preferred over the blocks nested inside it.
// Failed parses are charged against a budget proportional to len(s) so deeply
// nested broken blocks cannot make the search quadratic.
func lastObject(ctx context.Context, s string) (map[string]any, bool) {
	spans, err := objectSpans(ctx, s)
	if err != nil {
		return nil, false
	}
	budget := int64(4*len(s) + checkEvery)
	for i := len(spans) - 1; i >= 0 && budget > 0; i-- {
		if ctx.Err() != nil {
			return nil, false
		}
		block := s[spans[i].start:spans[i].end]
		var m map[string]any
		err := json.Unmarshal([]byte(block), &m)
		if err == nil && m != nil {
			return m, true
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			budget -= syntaxErr.Offset
		} else {
			budget -= int64(len(block))
		}
	}
	return nil, false
}

// compact renders a payload for logging.
func compact(payload map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
