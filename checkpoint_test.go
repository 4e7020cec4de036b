package redolog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirtyPages is a scriptable buffer-pool stand-in.
type fakeDirtyPages struct {
	mu      sync.Mutex
	oldest  LSN
	hasAny  bool
	flushed []LSN  // FlushUpTo limits, in call order
	onQuery func() // runs before each OldestModification answer
}

func (f *fakeDirtyPages) set(oldest LSN, hasAny bool) {
	f.mu.Lock()
	f.oldest = oldest
	f.hasAny = hasAny
	f.mu.Unlock()
}

func (f *fakeDirtyPages) OldestModification() (LSN, bool) {
	if f.onQuery != nil {
		f.onQuery()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.oldest, f.hasAny
}

func (f *fakeDirtyPages) FlushUpTo(limit LSN) {
	f.mu.Lock()
	f.flushed = append(f.flushed, limit)
	// Flushing leaves no page older than the limit.
	if f.hasAny && f.oldest < limit {
		f.oldest = limit
	}
	f.mu.Unlock()
}

func readSlot(t *testing.T, path string, slot int64) (CheckpointRecord, error) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	block := make([]byte, BlockSize)
	_, err = f.ReadAt(block, slot)
	require.NoError(t, err)

	var rec CheckpointRecord
	return rec, rec.UnmarshalBinary(block)
}

func TestCheckpointAlternatesSlots(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, func(o *Options) { o.Path = dir })
	defer func() { _ = l.Close() }()
	path := filepath.Join(dir, MainFileName)

	// The initial checkpoint from New sits in slot one.
	rec, err := readSlot(t, path, CheckpointSlot1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Number)
	assert.Equal(t, FirstLSN, rec.LSN)

	end := appendBytes(t, l, make([]byte, 1000))
	performed, err := l.Checkpoint()
	require.NoError(t, err)
	require.True(t, performed)
	assert.Equal(t, end, l.LastCheckpointLSN())

	rec, err = readSlot(t, path, CheckpointSlot2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Number)
	assert.Equal(t, end, rec.LSN)

	end = appendBytes(t, l, make([]byte, 1000))
	performed, err = l.Checkpoint()
	require.NoError(t, err)
	require.True(t, performed)

	rec, err = readSlot(t, path, CheckpointSlot1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Number)
	assert.Equal(t, end, rec.LSN)

	// Slot two still holds the previous record.
	rec, err = readSlot(t, path, CheckpointSlot2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Number)
}

func TestCheckpointMakesLogDurableFirst(t *testing.T) {
	l := openTestLog(t)
	defer func() { _ = l.Close() }()

	end := appendBytes(t, l, make([]byte, 4000))
	require.Less(t, uint64(l.FlushedLSN()), uint64(end))

	performed, err := l.Checkpoint()
	require.NoError(t, err)
	require.True(t, performed)
	assert.Equal(t, end, l.FlushedLSN())
	assert.Equal(t, end, l.LastCheckpointLSN())
}

func TestCheckpointUsesOldestDirtyPage(t *testing.T) {
	dirty := &fakeDirtyPages{}
	l := openTestLog(t, func(o *Options) { o.DirtyPages = dirty })
	defer func() { _ = l.Close() }()

	end := appendBytes(t, l, make([]byte, 2000))
	dirty.set(end-500, true)

	performed, err := l.Checkpoint()
	require.NoError(t, err)
	require.True(t, performed)
	assert.Equal(t, end-500, l.LastCheckpointLSN())

	// A momentarily older snapshot never moves the checkpoint backwards.
	dirty.set(end-1500, true)
	performed, err = l.Checkpoint()
	require.NoError(t, err)
	require.True(t, performed)
	assert.Equal(t, end-500, l.LastCheckpointLSN())
}

func TestConcurrentCheckpointSingleFlight(t *testing.T) {
	dirty := &fakeDirtyPages{}
	l := openTestLog(t, func(o *Options) { o.DirtyPages = dirty })
	defer func() { _ = l.Close() }()

	appendBytes(t, l, make([]byte, 1000))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	dirty.onQuery = func() {
		// Park the next checkpoint mid-write while it holds the
		// single-flight slot; later queries pass through.
		once.Do(func() {
			entered <- struct{}{}
			<-release
		})
	}

	done := make(chan error, 1)
	go func() {
		performed, err := l.Checkpoint()
		if err == nil && !performed {
			err = assert.AnError
		}
		done <- err
	}()
	<-entered

	// The competing call declines immediately instead of queueing.
	performed, err := l.Checkpoint()
	require.NoError(t, err)
	assert.False(t, performed)

	close(release)
	require.NoError(t, <-done)
}

func TestMakeCheckpointFlushesAndAdvances(t *testing.T) {
	dirty := &fakeDirtyPages{}
	l := openTestLog(t, func(o *Options) { o.DirtyPages = dirty })
	defer func() { _ = l.Close() }()

	end := appendBytes(t, l, make([]byte, 3000))
	dirty.set(FirstLSN+100, true)

	require.NoError(t, l.MakeCheckpoint())

	// Pages older than the call-time LSN were flushed and the checkpoint
	// reached that snapshot.
	require.NotEmpty(t, dirty.flushed)
	assert.Equal(t, end, dirty.flushed[0])
	assert.Equal(t, end, l.LastCheckpointLSN())
	assert.Equal(t, LSN(0), l.CheckpointAge())
}

func TestSetCapacityRejectsTinyFile(t *testing.T) {
	l := openTestLog(t)
	defer func() { _ = l.Close() }()

	l.mu.Lock()
	before := l.logCapacity
	beforeSync := l.maxModifiedAgeSync
	l.mu.Unlock()

	err := l.SetCapacity(64 * 1024)
	require.Error(t, err)

	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(64*1024), ce.FileSize)

	// Failure leaves the previous thresholds untouched.
	l.mu.Lock()
	assert.Equal(t, before, l.logCapacity)
	assert.Equal(t, beforeSync, l.maxModifiedAgeSync)
	l.mu.Unlock()
}

func TestSetCapacityThresholdOrdering(t *testing.T) {
	l := openTestLog(t)
	defer func() { _ = l.Close() }()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Less(t, uint64(l.maxModifiedAgeAsync), uint64(l.maxModifiedAgeSync))
	assert.Less(t, uint64(l.maxModifiedAgeSync), uint64(l.maxCheckpointAgeAsync))
	assert.Less(t, uint64(l.maxCheckpointAgeAsync), uint64(l.maxCheckpointAge))
	assert.Equal(t, l.logCapacity, l.maxCheckpointAge)
}
