package redolog

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingHandler records every log message for assertions.
type countingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, r.Message)
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

// openTinyLog opens a log whose capacity is only around 80 KiB, so age
// thresholds are reachable with a few appends.
func openTinyLog(t *testing.T, optFns ...func(o *Options)) *Log {
	t.Helper()
	return openTestLog(t, append([]func(o *Options){
		func(o *Options) {
			o.FileSize = 128 * 1024
			o.BufferSize = 32 * 1024
			o.PageSize = 512
			o.ThreadConcurrency = 1
			o.WarnInterval = time.Hour
		},
	}, optFns...)...)
}

const overwriteWarning = "checkpoint age exceeds log capacity; the server is crash-unsafe"

func TestOverwriteWarningIsRateLimited(t *testing.T) {
	handler := &countingHandler{}
	l := openTinyLog(t, func(o *Options) { o.Logger = NewLogger(handler) })
	defer func() { _ = l.Close() }()

	// Push the checkpoint age well past the capacity without ever
	// checkpointing. The condition persists across many appends, but the
	// warning fires once per interval, not once per append.
	for i := 0; i < 24; i++ {
		appendBytes(t, l, make([]byte, 4096))
	}
	require.Greater(t, uint64(l.CheckpointAge()), uint64(l.logCapacity))
	assert.Equal(t, 1, handler.count(overwriteWarning))
}

func TestOverwriteWarningFiresAgainAfterInterval(t *testing.T) {
	handler := &countingHandler{}
	l := openTinyLog(t, func(o *Options) {
		o.Logger = NewLogger(handler)
		o.WarnInterval = 10 * time.Millisecond
	})
	defer func() { _ = l.Close() }()

	for i := 0; i < 24; i++ {
		appendBytes(t, l, make([]byte, 4096))
	}
	require.Equal(t, 1, handler.count(overwriteWarning))

	time.Sleep(20 * time.Millisecond)
	appendBytes(t, l, make([]byte, 512))
	assert.Equal(t, 2, handler.count(overwriteWarning))
}

func TestFinishSetsPendingCheckOnOccupancy(t *testing.T) {
	l := openTestLog(t) // 64 KiB halves, flush threshold at 32 KiB
	defer func() { _ = l.Close() }()

	appendBytes(t, l, make([]byte, 8*1024))
	assert.False(t, l.pendingCheck.Load())

	appendBytes(t, l, make([]byte, 32*1024))
	assert.True(t, l.pendingCheck.Load())
}

func TestFreeCheckClearsFlagAndFlushes(t *testing.T) {
	l := openTestLog(t)
	defer func() { _ = l.Close() }()

	require.NoError(t, l.FreeCheck()) // nothing pending, cheap no-op

	end := appendBytes(t, l, make([]byte, 40*1024))
	require.True(t, l.pendingCheck.Load())

	require.NoError(t, l.FreeCheck())
	assert.False(t, l.pendingCheck.Load())
	assert.Equal(t, end, l.writeLSN)
}

func TestCheckMarginsPreflushesAndCheckpoints(t *testing.T) {
	dirty := &fakeDirtyPages{}
	l := openTinyLog(t, func(o *Options) { o.DirtyPages = dirty })
	defer func() { _ = l.Close() }()

	var end LSN
	for i := 0; i < 24; i++ {
		end = appendBytes(t, l, make([]byte, 4096))
	}
	dirty.set(FirstLSN, true)

	require.NoError(t, l.CheckMargins())

	// The oldest dirty page was too far behind: a preflush request went
	// out and the checkpoint advanced past the stale page.
	require.NotEmpty(t, dirty.flushed)
	assert.Greater(t, uint64(dirty.flushed[0]), uint64(FirstLSN))
	assert.Greater(t, uint64(l.LastCheckpointLSN()), uint64(FirstLSN))
	assert.False(t, l.pendingCheck.Load())
	assert.Equal(t, end, l.writeLSN)
}

func TestMarginCheckpointAgeUnblocksViaCheckpoint(t *testing.T) {
	l := openTinyLog(t)
	defer func() { _ = l.Close() }()

	for i := 0; i < 24; i++ {
		appendBytes(t, l, make([]byte, 4096))
	}
	require.Greater(t, uint64(l.CheckpointAge()), uint64(l.logCapacity))

	// No dirty pages, so the checkpoint it triggers reaches the current
	// LSN and the margin clears without blocking.
	require.NoError(t, l.MarginCheckpointAge(4096))
	assert.Equal(t, LSN(0), l.CheckpointAge())
}

func TestMarginCheckpointAgeNoopWhenSafe(t *testing.T) {
	l := openTestLog(t)
	defer func() { _ = l.Close() }()

	appendBytes(t, l, make([]byte, 1024))
	before := l.LastCheckpointLSN()
	require.NoError(t, l.MarginCheckpointAge(4096))
	assert.Equal(t, before, l.LastCheckpointLSN())
}
