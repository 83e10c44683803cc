package logging

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lineRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} --- \[.{15}\] : .*\n$`)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := out
	out = w
	defer func() { out = orig }()

	fn()
	require.NoError(t, w.Close())

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	return string(buf[:n])
}

func TestLogFormat(t *testing.T) {
	line := captureLog(t, func() {
		Log("hello %s", "world")
	})
	assert.Regexp(t, lineRE, line)
	assert.Contains(t, line, "hello world")
}

func TestLogReplacesControlCharacters(t *testing.T) {
	line := captureLog(t, func() {
		Log("first\nsecond\rthird")
	})
	assert.False(t, strings.Contains(strings.TrimSuffix(line, "\n"), "\n"))
	assert.Contains(t, line, "first second third")
}

func TestLogTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", maxMessageLength+200)
	line := captureLog(t, func() {
		Log("%s", long)
	})
	assert.LessOrEqual(t, len(line), maxMessageLength+64)
}

func TestGoroutineNameAppearsRightAligned(t *testing.T) {
	done := make(chan string, 1)
	go func() {
		SetGoroutineName("thread-pool-0")
		defer ClearGoroutineName()
		done <- captureLog(t, func() {
			Log("running")
		})
	}()
	line := <-done
	assert.Contains(t, line, "[  thread-pool-0] :")
}

func TestGoroutineNameTruncatedToColumnWidth(t *testing.T) {
	done := make(chan string, 1)
	go func() {
		SetGoroutineName("a-very-long-thread-name-indeed")
		defer ClearGoroutineName()
		done <- captureLog(t, func() {
			Log("running")
		})
	}()
	line := <-done
	assert.Regexp(t, regexp.MustCompile(`\[.{15}\] :`), line)
}
