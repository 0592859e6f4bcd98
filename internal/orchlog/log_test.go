package orchlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// the package logger is a guarded singleton, so all tests in this file
// share a single Init call against one log file.
var testLogPath string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "orchlog_test")
	if err != nil {
		panic(err)
	}
	testLogPath = filepath.Join(dir, "test.log")
	if _, err := Init(testLogPath); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var readMu sync.Mutex

func readLog(t *testing.T) string {
	t.Helper()
	readMu.Lock()
	defer readMu.Unlock()
	data, err := os.ReadFile(testLogPath)
	require.NoError(t, err)
	return string(data)
}

func TestLog_WritesCategoryAndFields(t *testing.T) {
	Info(CatQueue, "enqueued run", "run_id", "abc123")
	assert.Contains(t, readLog(t), "[queue]")
	assert.Contains(t, readLog(t), "run_id=abc123")
}

func TestErrorErr_AttachesErrorField(t *testing.T) {
	ErrorErr(CatProcess, "spawn failed", assert.AnError)
	assert.Contains(t, readLog(t), "error="+assert.AnError.Error())
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	SafeGo("panicker", func() {
		panic("boom")
	})

	require.Eventually(t, func() bool {
		log := readLog(t)
		return strings.Contains(log, "goroutine panic recovered") && strings.Contains(log, "panicker")
	}, time.Second, 10*time.Millisecond)
}
