package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/orchestrator"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/service"
)

// WatchConfig holds configuration for the watch command
type WatchConfig struct {
	Target   string
	Ignore   []string
	Debounce time.Duration
	Skills   []string
	Persist  bool
}

// Validate validates the WatchConfig and returns an error if invalid
func (c *WatchConfig) Validate() error {
	if c.Debounce < 0 {
		return errors.Errorf("debounce cannot be negative: %s", c.Debounce)
	}
	for _, pattern := range c.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return errors.Errorf("invalid ignore pattern: %s", pattern)
		}
	}
	return nil
}

// FileEvent represents a file system event with additional metadata
type FileEvent struct {
	Path string
	Op   fsnotify.Op
	Time time.Time
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Re-run verification whenever the project changes",
	Long: `Watch a project directory and re-run the applicable skills after each burst of
file changes. Watch runs are approved automatically and only write to the knowledge
document and run history with --persist.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getWatchConfigFromFlags(cmd)
		if len(args) > 0 {
			config.Target = args[0]
		}
		if err := config.Validate(); err != nil {
			return errors.Wrap(err, "invalid watch configuration")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runWatchMode(ctx, config)
	},
}

func init() {
	watchCmd.Flags().StringSliceP("ignore", "i", nil, "Glob patterns to ignore, e.g. '**/build/**' (default from watch.ignore)")
	watchCmd.Flags().DurationP("debounce", "d", 2*time.Second, "Quiet period after the last change before re-running")
	watchCmd.Flags().StringSlice("skills", nil, "Glob patterns selecting the skills to run")
	watchCmd.Flags().Bool("persist", false, "Record runs in the knowledge document and run history")

	viper.BindPFlag("watch.debounce", watchCmd.Flags().Lookup("debounce"))
	viper.BindPFlag("watch.ignore", watchCmd.Flags().Lookup("ignore"))
}

// getWatchConfigFromFlags extracts watch configuration from command flags
func getWatchConfigFromFlags(cmd *cobra.Command) *WatchConfig {
	config := &WatchConfig{
		Target:   ".",
		Ignore:   viper.GetStringSlice("watch.ignore"),
		Debounce: viper.GetDuration("watch.debounce"),
	}
	if skills, err := cmd.Flags().GetStringSlice("skills"); err == nil {
		config.Skills = skills
	}
	if persist, err := cmd.Flags().GetBool("persist"); err == nil {
		config.Persist = persist
	}
	return config
}

// ignored reports whether rel, a slash separated path relative to the
// watched root, matches one of the patterns. A directory is also ignored
// when its contents are.
func ignored(patterns []string, rel string, isDir bool) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if isDir {
			if ok, _ := doublestar.Match(pattern, path.Join(rel, "_")); ok {
				return true
			}
		}
	}
	return false
}

func addWatchDirs(ctx context.Context, watcher *fsnotify.Watcher, root, dir string, patterns []string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel != "." && ignored(patterns, filepath.ToSlash(rel), true) {
			logger.G(ctx).WithField("directory", p).Debug("skipping ignored directory")
			return filepath.SkipDir
		}
		logger.G(ctx).WithField("directory", p).Debug("adding directory to watcher")
		return watcher.Add(p)
	})
}

func runWatchMode(ctx context.Context, config *WatchConfig) error {
	root, err := filepath.Abs(config.Target)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", config.Target)
	}

	_, svc, err := openService(ctx, config.Persist)
	if err != nil {
		return err
	}
	defer svc.Close()

	// recording a run rewrites the knowledge document, which must not
	// trigger the next run
	knowledgeDoc, _ := filepath.Abs(svc.KnowledgeDoc(root))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	if err := addWatchDirs(ctx, watcher, root, root, config.Ignore); err != nil {
		return errors.Wrap(err, "failed to watch directories")
	}

	events := make(chan FileEvent)
	batches := make(chan []FileEvent)
	go debounceFileEvents(ctx, events, batches, config.Debounce)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == knowledgeDoc {
					continue
				}
				rel, err := filepath.Rel(root, event.Name)
				if err != nil {
					continue
				}
				info, statErr := os.Stat(event.Name)
				isDir := statErr == nil && info.IsDir()
				if ignored(config.Ignore, filepath.ToSlash(rel), isDir) {
					continue
				}
				if isDir && event.Op&fsnotify.Create != 0 {
					if err := addWatchDirs(ctx, watcher, root, event.Name, config.Ignore); err != nil {
						logger.G(ctx).WithError(err).WithField("directory", event.Name).Warn("failed to watch new directory")
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case events <- FileEvent{Path: event.Name, Op: event.Op, Time: time.Now()}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.G(ctx).WithError(err).Error("error watching files")
			case <-ctx.Done():
				return
			}
		}
	}()

	presenter.Info(fmt.Sprintf("Watching %s for changes... Press Ctrl+C to stop", root))
	for {
		select {
		case batch := <-batches:
			logger.G(ctx).WithFields(map[string]interface{}{
				"files": len(batch),
				"first": batch[0].Path,
			}).Info("change detected, re-running verification")
			presenter.Section(fmt.Sprintf("Change detected in %s", batch[0].Path))
			runWatchedVerification(ctx, svc, root, config)
		case <-ctx.Done():
			presenter.Info("watch stopped")
			return nil
		}
	}
}

func runWatchedVerification(ctx context.Context, svc *service.Service, root string, config *WatchConfig) {
	r, err := svc.Verify(ctx, root, service.VerifyOptions{
		Approver:  approval.Auto{Source: "watch"},
		Patterns:  config.Skills,
		Observers: []orchestrator.Observer{printStage},
		Record:    config.Persist,
	})
	switch {
	case errors.Is(err, orchestrator.ErrInterrupted):
		return
	case err != nil:
		presenter.Error(err, "verification failed")
		return
	}
	if failed := r.Failed(); len(failed) > 0 {
		presenter.Warning(fmt.Sprintf("%d stage(s) failed, exit code would be %d", len(failed), r.ExitCode()))
		return
	}
	presenter.Success("all stages passed")
}

// debounceFileEvents collects events until no new event has arrived for
// delay, then emits the batch with one entry per path.
func debounceFileEvents(ctx context.Context, input <-chan FileEvent, output chan<- []FileEvent, delay time.Duration) {
	var (
		batch []FileEvent
		index = map[string]int{}
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-input:
			if !ok {
				return
			}
			if i, seen := index[event.Path]; seen {
				batch[i] = event
			} else {
				index[event.Path] = len(batch)
				batch = append(batch, event)
			}
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C
		case <-fire:
			select {
			case output <- batch:
			case <-ctx.Done():
				return
			}
			batch = nil
			index = map[string]int{}
			fire = nil
		case <-ctx.Done():
			return
		}
	}
}
