package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogConfig configures the log backend.
type LogConfig struct {
	// LogFile is the path of the rotated log file. Empty disables file
	// logging.
	LogFile string

	// DebugLevel is one of trace, debug, info, warn, error, critical, off.
	DebugLevel string

	// MaxLogFiles is the number of rotated files kept around.
	MaxLogFiles int

	// Stdout mirrors log output to stdout. Must stay off while a terminal
	// UI owns the screen.
	Stdout bool
}

// LogBackend hands out per-subsystem loggers that share a single writer and
// level.
type LogBackend struct {
	mtx     sync.Mutex
	backend *slog.Backend
	rotator *rotator.Rotator
	level   slog.Level
	loggers map[string]slog.Logger
}

// NewLogBackend creates the backend described by cfg.
func NewLogBackend(cfg LogConfig) (*LogBackend, error) {
	level := slog.LevelInfo
	if cfg.DebugLevel != "" {
		l, ok := slog.LevelFromString(cfg.DebugLevel)
		if !ok {
			return nil, fmt.Errorf("invalid debug level %q", cfg.DebugLevel)
		}
		level = l
	}

	var writers []io.Writer
	var r *rotator.Rotator
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxRolls := cfg.MaxLogFiles
		if maxRolls <= 0 {
			maxRolls = 3
		}
		var err error
		r, err = rotator.New(cfg.LogFile, 10*1024, false, maxRolls)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		writers = append(writers, r)
	}
	if cfg.Stdout {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	return &LogBackend{
		backend: slog.NewBackend(w),
		rotator: r,
		level:   level,
		loggers: make(map[string]slog.Logger),
	}, nil
}

// Logger returns the logger for the given subsystem tag, creating it on first
// use.
func (lb *LogBackend) Logger(subsys string) slog.Logger {
	lb.mtx.Lock()
	defer lb.mtx.Unlock()
	if l, ok := lb.loggers[subsys]; ok {
		return l
	}
	l := lb.backend.Logger(subsys)
	l.SetLevel(lb.level)
	lb.loggers[subsys] = l
	return l
}

// SetLevel changes the level of every logger created so far and of the
// ones created later.
func (lb *LogBackend) SetLevel(level string) error {
	l, ok := slog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}
	lb.mtx.Lock()
	lb.level = l
	for _, logger := range lb.loggers {
		logger.SetLevel(l)
	}
	lb.mtx.Unlock()
	return nil
}

// Close flushes and closes the rotated log file.
func (lb *LogBackend) Close() error {
	if lb.rotator == nil {
		return nil
	}
	return lb.rotator.Close()
}

// OrDisabled returns l, or slog.Disabled when l is nil.
func OrDisabled(l slog.Logger) slog.Logger {
	if l == nil {
		return slog.Disabled
	}
	return l
}
