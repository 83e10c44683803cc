// Package logging provides the proxy's single serialized log sink.
//
// Every component funnels through Log, which renders one line per call in
// a fixed, greppable format:
//
//	YYYY-MM-DD HH:MM:SS.mmm --- [    thread-name] : message text
//
// Go has no native per-goroutine thread name, so the package maintains a
// small registry keyed by goroutine id: long-lived goroutines (executors,
// the cache expirer, the accept loop) call SetGoroutineName once at
// startup, mirroring pthread_setname_np/pthread_getname_np in the original
// C implementation this proxy is modeled on.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// maxMessageLength truncates any single formatted message, matching the
// C logger's fixed-size vsnprintf buffer.
const maxMessageLength = 1024

// nameColumnWidth is the right-aligned width of the thread-name column.
const nameColumnWidth = 15

var (
	writeMu sync.Mutex
	out     = os.Stdout

	namesMu sync.RWMutex
	names   = make(map[int64]string)
)

// SetGoroutineName registers a display name for the calling goroutine.
// Call this once at the top of any long-lived goroutine that should be
// identifiable in log output; short-lived or unnamed goroutines log under
// an empty name.
func SetGoroutineName(name string) {
	id := goroutineID()
	namesMu.Lock()
	names[id] = name
	namesMu.Unlock()
}

// ClearGoroutineName removes the calling goroutine's registered name. Call
// it when a long-lived goroutine is about to exit, to keep the registry
// from growing unbounded across worker pool churn.
func ClearGoroutineName() {
	id := goroutineID()
	namesMu.Lock()
	delete(names, id)
	namesMu.Unlock()
}

func currentGoroutineName() string {
	id := goroutineID()
	namesMu.RLock()
	name := names[id]
	namesMu.RUnlock()
	return name
}

// goroutineID parses the numeric goroutine id out of runtime.Stack, the
// same trick net/http/pprof uses internally; there is no public API for
// this in Go.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Log writes one formatted, timestamped, goroutine-tagged line. It never
// blocks on anything but the internal write lock, and every call is
// flushed immediately: os.Stdout performs unbuffered writes, so there is
// no separate flush step.
func Log(format string, args ...interface{}) {
	now := time.Now()

	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxMessageLength {
		msg = msg[:maxMessageLength]
	}
	msg = sanitize(msg)

	name := currentGoroutineName()
	if len(name) > nameColumnWidth {
		name = name[len(name)-nameColumnWidth:]
	}

	line := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%03d --- [%*s] : %s\n",
		now.Year(), now.Month(), now.Day(),
		now.Hour(), now.Minute(), now.Second(), now.Nanosecond()/1_000_000,
		nameColumnWidth, name, msg)

	writeMu.Lock()
	defer writeMu.Unlock()
	_, _ = out.WriteString(line)
}

// sanitize replaces every control character (newlines included) with a
// space, so a logical log entry never spans multiple output lines.
func sanitize(msg string) string {
	if strings.IndexFunc(msg, unicode.IsControl) < 0 {
		return msg
	}
	var b bytes.Buffer
	b.Grow(len(msg))
	for _, r := range msg {
		if unicode.IsControl(r) {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
