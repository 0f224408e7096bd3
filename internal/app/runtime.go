package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "APOTHECA_TEST_MODE"

// testMode caches the flag: 0 unknown, 1 off, 2 on.
var testMode atomic.Int32

func readTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	if on {
		testMode.Store(2)
	} else {
		testMode.Store(1)
	}
	return on
}

// InTestMode reports whether binaries should return before dialing Postgres
// or Redis. The environment is read once.
func InTestMode() bool {
	switch testMode.Load() {
	case 1:
		return false
	case 2:
		return true
	}
	return readTestMode()
}

// RefreshTestMode re-reads the flag after the environment changed.
func RefreshTestMode() {
	readTestMode()
}
