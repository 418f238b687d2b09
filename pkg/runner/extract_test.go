package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   map[string]any
		wantOK bool
	}{
		{
			name:   "json output marker",
			raw:    "--- JSON Output ---\n{\"suggestions\":[{\"type\":\"x\",\"message\":\"y\"}]}",
			want:   map[string]any{"suggestions": []any{map[string]any{"type": "x", "message": "y"}}},
			wantOK: true,
		},
		{
			name:   "marker after progress output with braces",
			raw:    "Scanning {src}...\nfound 0 issues\n--- JSON Report ---\n{\"status\": \"passed\"}\ntrailing text\n",
			want:   map[string]any{"status": "passed"},
			wantOK: true,
		},
		{
			name:   "log analysis marker",
			raw:    "--- Log Analysis Results (JSON) ---\n{\"status\":\"failed\",\"summary\":{\"error_count\":1}}\n",
			want:   map[string]any{"status": "failed", "summary": map[string]any{"error_count": float64(1)}},
			wantOK: true,
		},
		{
			name:   "bare object without marker",
			raw:    "{\"vulnerabilities\":[{\"name\":\"CVE-x\",\"severity\":\"high\"}]}\n",
			want:   map[string]any{"vulnerabilities": []any{map[string]any{"name": "CVE-x", "severity": "high"}}},
			wantOK: true,
		},
		{
			name:   "last bare object wins",
			raw:    "{\"a\":1}\nmore text\n{\"b\":2}\n",
			want:   map[string]any{"b": float64(2)},
			wantOK: true,
		},
		{
			name:   "braces inside strings",
			raw:    "result: {\"message\":\"use {curly} braces\"}",
			want:   map[string]any{"message": "use {curly} braces"},
			wantOK: true,
		},
		{
			name:   "marker with broken json falls back to bare object",
			raw:    "{\"fallback\":true}\n--- JSON Output ---\n{not json",
			want:   map[string]any{"fallback": true},
			wantOK: true,
		},
		{
			name:   "unterminated object",
			raw:    "progress...\n{\"suggestions\": [",
			wantOK: false,
		},
		{
			name:   "no json at all",
			raw:    "all good\n",
			wantOK: false,
		},
		{
			name:   "empty output",
			raw:    "",
			wantOK: false,
		},
		{
			name:   "array is not a payload",
			raw:    "--- JSON Output ---\n[1,2,3]",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.raw)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestObjectSpans(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want []span
	}{
		{"single", "{}", []span{{0, 2}}},
		{"nested ends first", `{"a":{}} }`, []span{{5, 7}, {0, 8}}},
		{"brace in string", `{"a":"}"`, nil},
		{"escaped quote", `{"a":"\"}"}`, []span{{0, 11}}},
		{"stray quote ends at newline", "{ 5\" screen\n{\"a\":1}", []span{{12, 19}}},
		{"unmatched close ignored", `} {"b":2}`, []span{{2, 9}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := objectSpans(context.Background(), tt.s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_LargeNoisyOutput(t *testing.T) {
	raw := strings.Repeat("{ log line\n", 200000) + `{"status":"passed"}` + "\n"

	done := make(chan map[string]any, 1)
	go func() {
		payload, _ := Extract(raw)
		done <- payload
	}()

	select {
	case payload := <-done:
		assert.Equal(t, map[string]any{"status": "passed"}, payload)
	case <-time.After(10 * time.Second):
		t.Fatal("extracting from 2MB of output did not finish in time")
	}
}

func TestExtract_DeeplyNestedBrokenBlocks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5000; i++ {
		b.WriteString(`{"a":`)
	}
	b.WriteString("1")
	for i := 0; i < 5000; i++ {
		b.WriteString(" x}")
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := Extract(b.String())
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(10 * time.Second):
		t.Fatal("extraction did not finish in time")
	}
}

func TestExtractContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload, ok := ExtractContext(ctx, `{"status":"passed"}`)
	assert.False(t, ok)
	assert.Nil(t, payload)

	payload, ok = ExtractContext(ctx, "--- JSON Output ---\n{\"status\":\"passed\"}")
	assert.True(t, ok, "a marked payload is decoded without scanning")
	assert.Equal(t, map[string]any{"status": "passed"}, payload)
}
