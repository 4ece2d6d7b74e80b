// Package logging provides the process-wide structured logger. Operational
// messages (job transitions, pipeline stage timing, HTTP access) go through
// zap's structured API; unexpected server-side faults are additionally
// mirrored into the rotating file sink in internal/errlog, exactly as the
// document pipeline does for its own failures.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Init builds the process-wide logger. dev selects a human-readable console
// encoder (for local runs); otherwise JSON output suited to log collection.
func Init(dev bool) error {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		return nil
	}
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	global = l
	return nil
}

// L returns the process-wide logger, falling back to a no-op logger if Init
// was never called (e.g. in unit tests).
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		_ = global.Sync()
	}
}
