package main

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchConfigValidate(t *testing.T) {
	assert.NoError(t, (&WatchConfig{Ignore: []string{"**/.git/**"}, Debounce: time.Second}).Validate())
	assert.ErrorContains(t, (&WatchConfig{Debounce: -time.Second}).Validate(), "debounce cannot be negative")
	assert.ErrorContains(t, (&WatchConfig{Ignore: []string{"[unclosed"}}).Validate(), "invalid ignore pattern")
}

func TestIgnored(t *testing.T) {
	patterns := []string{"**/.git/**", "**/node_modules/**", "**/*.log"}

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{"sub/.git", true, true},
		{".git/HEAD", false, true},
		{"web/node_modules/left-pad/index.js", false, true},
		{"web/node_modules", true, true},
		{"logs/app.log", false, true},
		{"src/main.go", false, false},
		{"src", true, false},
		{"gitignore", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ignored(patterns, tt.path, tt.isDir))
		})
	}
}

func TestDebounceFileEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan FileEvent)
	output := make(chan []FileEvent)
	go debounceFileEvents(ctx, input, output, 50*time.Millisecond)

	now := time.Now()
	input <- FileEvent{Path: "a.go", Op: fsnotify.Write, Time: now}
	input <- FileEvent{Path: "b.go", Op: fsnotify.Create, Time: now}
	input <- FileEvent{Path: "a.go", Op: fsnotify.Remove, Time: now}

	select {
	case batch := <-output:
		require.Len(t, batch, 2)
		assert.Equal(t, "a.go", batch[0].Path)
		assert.Equal(t, fsnotify.Remove, batch[0].Op)
		assert.Equal(t, "b.go", batch[1].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}

	input <- FileEvent{Path: "c.go", Op: fsnotify.Write, Time: now}
	select {
	case batch := <-output:
		require.Len(t, batch, 1)
		assert.Equal(t, "c.go", batch[0].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no second batch emitted")
	}
}
