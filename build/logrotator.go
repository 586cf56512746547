// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// RotatingLogWriter is a wrapper around the log rotator that writes every
// line to stdout and, once InitLogRotator succeeded, to a rotating file. It
// also keeps track of every subsystem logger created from it so levels can be
// changed at runtime.
type RotatingLogWriter struct {
	backend *btclog.Backend

	rotator *rotator.Rotator

	mtx              sync.Mutex
	subsystemLoggers map[string]btclog.Logger
}

// A compile time check to ensure RotatingLogWriter implements io.Writer.
var _ io.Writer = (*RotatingLogWriter)(nil)

// NewRotatingLogWriter creates a new file rotating log writer.
//
// NOTE: InitLogRotator must be called to set up log rotation after creating
// the writer.
func NewRotatingLogWriter() *RotatingLogWriter {
	w := &RotatingLogWriter{
		subsystemLoggers: make(map[string]btclog.Logger),
	}
	w.backend = btclog.NewBackend(w)
	return w
}

// GenSubLogger creates a new sublogger and registers it. A given subsystem is
// only created once.
func (r *RotatingLogWriter) GenSubLogger(tag string) btclog.Logger {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if logger, ok := r.subsystemLoggers[tag]; ok {
		return logger
	}

	logger := r.backend.Logger(tag)
	r.subsystemLoggers[tag] = logger
	return logger
}

// InitLogRotator initializes the log file rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize int,
	maxLogFiles int) error {

	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r.rotator, err = rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	return nil
}

// Write writes the byte slice to both stdout and the log rotator, if present.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r.rotator != nil {
		if _, err := r.rotator.Write(b); err != nil {
			return 0, err
		}
	}
	return os.Stdout.Write(b)
}

// Close closes the underlying log rotator if it has already been created.
func (r *RotatingLogWriter) Close() error {
	if r.rotator != nil {
		return r.rotator.Close()
	}
	return nil
}

// SupportedSubsystems returns a sorted string slice of all keys in the
// subsystems map, so we can query it for valid subsystems.
func (r *RotatingLogWriter) SupportedSubsystems() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	subsystems := make([]string, 0, len(r.subsystemLoggers))
	for subsysID := range r.subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. It returns whether the subsystem is known.
func (r *RotatingLogWriter) SetLogLevel(subsystemID string,
	logLevel string) bool {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	logger, ok := r.subsystemLoggers[subsystemID]
	if !ok {
		return false
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
	return true
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func (r *RotatingLogWriter) SetLogLevels(logLevel string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	level, _ := btclog.LevelFromString(logLevel)
	for _, logger := range r.subsystemLoggers {
		logger.SetLevel(level)
	}
}
