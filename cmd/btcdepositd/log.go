// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcdeposit/build"
	"github.com/btcsuite/btcdeposit/chain"
	"github.com/btcsuite/btcdeposit/claim"
	"github.com/btcsuite/btcdeposit/notify"
	"github.com/btcsuite/btcdeposit/reconcile"
	"github.com/btcsuite/btcdeposit/rpc/httpapi"
	"github.com/btcsuite/btcdeposit/store"
	"github.com/btcsuite/btclog"
)

const (
	// defaultMaxLogFileSize is the size in KiB at which the log file is
	// rolled.
	defaultMaxLogFileSize = 10 * 1024

	// defaultMaxLogFiles is the number of rolled log files kept.
	defaultMaxLogFiles = 3
)

var (
	// logWriter is the shared backend of all subsystem loggers. It writes
	// to stdout and, once initLogRotator is called, to the log file.
	logWriter = build.NewRotatingLogWriter()

	log = build.NewSubLogger("BDEP", logWriter.GenSubLogger)
)

func init() {
	setSubLogger(chain.Subsystem, chain.UseLogger)
	setSubLogger(claim.Subsystem, claim.UseLogger)
	setSubLogger(notify.Subsystem, notify.UseLogger)
	setSubLogger(reconcile.Subsystem, reconcile.UseLogger)
	setSubLogger(httpapi.Subsystem, httpapi.UseLogger)
	setSubLogger(store.Subsystem, store.UseLogger)
}

// setSubLogger hands a package a logger of the shared backend.
func setSubLogger(subsystem string, useLogger func(btclog.Logger)) {
	useLogger(build.NewSubLogger(subsystem, logWriter.GenSubLogger))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// A level without delimiters applies to every subsystem.
	if !strings.Contains(debugLevel, ",") &&
		!strings.Contains(debugLevel, "=") {

		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", debugLevel)
		}
		logWriter.SetLogLevels(debugLevel)
		return nil
	}

	// Validate every pair before touching any level.
	levels := make(map[string]string)
	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level contains "+
				"an invalid subsystem/level pair [%v]", pair)
		}

		subsysID, logLevel := fields[0], fields[1]
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}
		levels[subsysID] = logLevel
	}

	for subsysID := range levels {
		if !containsString(logWriter.SupportedSubsystems(), subsysID) {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems %v", subsysID,
				logWriter.SupportedSubsystems())
		}
	}
	for subsysID, logLevel := range levels {
		logWriter.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

func containsString(set []string, s string) bool {
	for _, e := range set {
		if e == s {
			return true
		}
	}
	return false
}
