package asyncprof

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/DanielAmmar/gprofiler/internal/retry"
)

// defaultPollInterval backs up the watch: events are not delivered for files
// created through some overlay and procfs root paths.
const defaultPollInterval = 100 * time.Millisecond

// settleRetry waits for the output size to stop changing.
var settleRetry = retry.Config{
	MaxRetries:     8,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

// waitForFile blocks until path exists, timeout elapses, or ctx ends. It reports
// whether the file exists.
func waitForFile(ctx context.Context, path string, timeout time.Duration, logger zerolog.Logger) (bool, error) {
	if exists(path) {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug().Err(err).Msg("File watch unavailable, polling")
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			logger.Debug().Err(err).Str("dir", filepath.Dir(path)).Msg("File watch unavailable, polling")
		} else {
			events = watcher.Events
		}
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return exists(path), nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(path) && exists(path) {
				return true, nil
			}
		case <-ticker.C:
			if exists(path) {
				return true, nil
			}
		}
	}
}

// waitForStableSize waits until two consecutive stats of path report the same size.
func waitForStableSize(ctx context.Context, path string) error {
	last := int64(-1)
	err := retry.Until(ctx, settleRetry, func() (bool, error) {
		info, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		size := info.Size()
		stable := size == last
		last = size
		return stable, nil
	})
	if errors.Is(err, retry.ErrNotReady) {
		// Still growing after every attempt; read what is there.
		return nil
	}
	return err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
