package app

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const testModeEnv = "GRC_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once

	processStart = time.Now()
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether commands should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// Uptime reports how long the process has been running.
func Uptime() time.Duration {
	return time.Since(processStart)
}
