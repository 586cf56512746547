// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package build carries the compile time deployment and logging settings of
// btcdeposit together with the rotating log backend shared by every
// subsystem.
package build

import (
	"os"

	"github.com/btcsuite/btclog"
)

// LogType is an indicating the type of logging specified by the build flag.
type LogType byte

const (
	// LogTypeNone indicates no logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut all logging is written directly to stdout.
	LogTypeStdOut

	// LogTypeDefault logs to both stdout and a given io.PipeWriter.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// NewSubLogger constructs a new subsystem log from the current LogWriter
// implementation. Library packages call it with a nil constructor from their
// init functions, which leaves them silent in production builds until the
// daemon hands them a logger through UseLogger.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch LoggingType {
	case LogTypeNone:
		return btclog.Disabled

	// Logging to stdout is used in unit tests. It is not important that
	// they share the same backend, since all output is written to std
	// out.
	case LogTypeStdOut:
		backend := btclog.NewBackend(os.Stdout)
		logger := backend.Logger(subsystem)

		// Set the logging level of the stdout logger to use the
		// configured logging level specified by build flags.
		level, _ := btclog.LevelFromString(LogLevel)
		logger.SetLevel(level)

		return logger
	}

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	// For development builds without a backend we still want to see what
	// is going on.
	if Deployment == Development {
		backend := btclog.NewBackend(os.Stdout)
		return backend.Logger(subsystem)
	}

	return btclog.Disabled
}
