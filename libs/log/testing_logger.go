package log

import (
	"os"
	"testing"
)

var (
	// reuse the same logger across all tests
	_testingLogger Logger
)

// TestingLogger returns a Logger which writes to STDOUT if the tests are run
// with the verbose (-v) flag, NopLogger otherwise.
//
// NOTE: not safe to use from multiple goroutines at the same time.
func TestingLogger() Logger {
	if _testingLogger != nil {
		return _testingLogger
	}

	if testing.Verbose() {
		_testingLogger = NewIMLogger(NewSyncWriter(os.Stdout))
	} else {
		_testingLogger = NewNopLogger()
	}

	return _testingLogger
}
