package fah

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMonitorDuration is used when Monitor is given no duration.
const DefaultMonitorDuration = 5 * time.Second

const fileTimestamp = "20060102_150405"

// Dump writes the pretty-printed configuration to
// <dir>/freeathome_dump_<host>_<timestamp>.xml and returns the path.
func (s *Session) Dump(ctx context.Context, dir string) (string, error) {
	config, err := s.GetConfig(ctx, true)
	if err != nil {
		return "", err
	}

	path := s.outputPath(dir, "dump")
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		return "", fmt.Errorf("write dump: %w", err)
	}
	s.logInfo("configuration dumped", "host", s.cfg.Host, "path", path)
	return path, nil
}

// Monitor appends every update message, followed by a newline, to
// <dir>/freeathome_monitor_<host>_<timestamp>.xml for duration or until
// ctx ends. It blocks for that time, then clears the update handlers and
// returns the path.
func (s *Session) Monitor(ctx context.Context, dir string, duration time.Duration) (string, error) {
	if duration <= 0 {
		duration = DefaultMonitorDuration
	}

	path := s.outputPath(dir, "monitor")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return "", fmt.Errorf("open monitor file: %w", err)
	}

	var (
		mu       sync.Mutex
		writeErr error
		closed   bool
	)
	s.AddUpdateHandler(func(message string) {
		mu.Lock()
		defer mu.Unlock()
		if closed || writeErr != nil {
			return
		}
		if _, err := f.WriteString(message + "\n"); err != nil {
			writeErr = err
		}
	})
	s.logInfo("monitoring device updates", "host", s.cfg.Host, "path", path, "duration", duration.String())

	timer := time.NewTimer(duration)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	s.ClearUpdateHandlers()
	mu.Lock()
	closed = true
	err = writeErr
	mu.Unlock()

	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return path, fmt.Errorf("write monitor file: %w", err)
	}
	s.logInfo("finished monitoring device updates", "host", s.cfg.Host, "path", path)
	return path, nil
}

func (s *Session) outputPath(dir, kind string) string {
	host := strings.NewReplacer(":", "_", "/", "_").Replace(s.cfg.Host)
	name := fmt.Sprintf("freeathome_%s_%s_%s.xml", kind, host, s.now().Format(fileTimestamp))
	return filepath.Join(dir, name)
}
