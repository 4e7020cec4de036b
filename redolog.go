package redolog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LSN is a log sequence number: a byte position in the logical redo
// stream. It is strictly non-decreasing and never reused.
type LSN uint64

// FirstLSN is the LSN assigned to the first byte of a freshly created log.
// It is block-aligned and nonzero so that zero stays an invalid LSN.
const FirstLSN LSN = 8192

// DirtyPages is the buffer-pool collaborator. The redo log consumes it to
// decide how far a checkpoint may advance and when to ask for page
// writeback.
type DirtyPages interface {
	// OldestModification returns the LSN of the oldest change among
	// currently dirty pages. ok is false when no page is dirty. The
	// result need not be monotonic, only a valid snapshot at call time.
	OldestModification() (lsn LSN, ok bool)

	// FlushUpTo writes back every page whose oldest modification is
	// below limit and returns once none remain.
	FlushUpTo(limit LSN)
}

type noopDirtyPages struct{}

func (noopDirtyPages) OldestModification() (LSN, bool) { return 0, false }
func (noopDirtyPages) FlushUpTo(LSN)                   {}

// Log is the redo log state of a storage engine instance. It owns the log
// buffer, the log files and the durability cursors, and is shared by every
// component that appends redo or requests durability.
//
// A single main mutex serializes buffer reservation, LSN assignment and
// half switching. Dirty-page registration order is serialized by a second,
// independent mutex so the main mutex can be released earlier during
// commit. Direct appends to the main file use a third lock inside the file
// group.
type Log struct {
	logger *Logger
	dirty  DirtyPages

	pageSize uint64
	threads  int

	mu        sync.Mutex
	writeCond *sync.Cond // broadcast when a write round lands

	flushOrderMu sync.Mutex

	// lsnValue is the highest assigned LSN. Written under mu, read with
	// relaxed atomics.
	lsnValue         atomic.Uint64
	flushedToDiskLSN atomic.Uint64

	// pendingCheck signals that a buffer flush or checkpoint is due.
	// Mutators poll it in FreeCheck without taking any lock.
	pendingCheck atomic.Bool

	// Log buffer: two halves of bufSize bytes each, exactly one writable
	// at a time. All fields below are protected by mu.
	bufs           [2][]byte
	activeBuf      int
	bufSize        uint64
	maxBufFree     uint64
	bufFree        uint64 // next free offset within the active half
	bufNextToWrite uint64 // first offset not yet handed to a write round
	bufStartLSN    LSN    // LSN of byte 0 of the active half

	// Write pipeline, protected by mu.
	writeLSN        LSN  // end of the last completed write round
	currentFlushLSN LSN  // end of the in-flight round, if any
	writeInFlight   bool // at most one round writes at a time

	// Capacity thresholds, derived by SetCapacity. Written under mu;
	// effectively constant after startup.
	logCapacity           LSN
	maxModifiedAgeAsync   LSN
	maxModifiedAgeSync    LSN
	maxCheckpointAgeAsync LSN
	maxCheckpointAge      LSN

	// Checkpoint state. The semaphore enforces at most one checkpoint
	// write in flight; checkpointCond is broadcast when one completes.
	checkpointSem     *semaphore.Weighted
	checkpointCond    *sync.Cond
	nextCheckpointNo  uint64
	lastCheckpointLSN atomic.Uint64
	nextCheckpointLSN LSN

	warn *rate.Limiter

	// Observability counters.
	nPendingFlushes atomic.Int64
	nFlushes        atomic.Int64
	nLogIOs         atomic.Int64

	// Stats rate window, protected by mu.
	statLogIOs int64
	statSince  int64 // unix nanos

	files  fileGroup
	closed bool
}

// New opens the redo log in opts.Path, creating and formatting the files
// when they do not exist yet.
func New(optFns ...func(o *Options)) (*Log, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BufferSize < 2*BlockSize {
		return nil, fmt.Errorf("redolog: buffer size %d below minimum %d", opts.BufferSize, 2*BlockSize)
	}
	if opts.FileSize%BlockSize != 0 || opts.FileSize == 0 {
		return nil, fmt.Errorf("redolog: file size %d is not a positive multiple of %d", opts.FileSize, BlockSize)
	}
	if opts.PageSize <= 0 || opts.ThreadConcurrency <= 0 {
		return nil, fmt.Errorf("redolog: page size and thread concurrency must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(nil)
	}
	dirty := opts.DirtyPages
	if dirty == nil {
		dirty = noopDirtyPages{}
	}

	l := &Log{
		logger:        logger,
		dirty:         dirty,
		pageSize:      uint64(opts.PageSize),
		threads:       opts.ThreadConcurrency,
		bufSize:       uint64(opts.BufferSize),
		maxBufFree:    uint64(opts.BufferSize) / 2,
		checkpointSem: semaphore.NewWeighted(1),
		warn:          rate.NewLimiter(rate.Every(opts.WarnInterval), 1),
	}
	l.writeCond = sync.NewCond(&l.mu)
	l.checkpointCond = sync.NewCond(&l.mu)
	l.bufs[0] = make([]byte, l.bufSize)
	l.bufs[1] = make([]byte, l.bufSize)
	l.statSince = time.Now().UnixNano()

	if err := l.SetCapacity(opts.FileSize); err != nil {
		return nil, err
	}

	created, err := l.files.openFiles(&opts)
	logger.LogOpen(opts.Path, l.files.format, created, err)
	if err != nil {
		return nil, err
	}

	// The LSN to offset mapping is pure modular arithmetic from a fixed
	// anchor, so it is identical across restarts.
	l.files.setAnchor(FirstLSN, 0)

	if created {
		l.initCursors(FirstLSN)
		l.nextCheckpointNo = 1
		// Persist an initial checkpoint so recovery always finds a
		// verifiable slot.
		if _, err := l.Checkpoint(); err != nil {
			_ = l.files.closeFiles()
			return nil, err
		}
	} else {
		rec, err := l.readLastCheckpoint()
		if err != nil {
			_ = l.files.closeFiles()
			return nil, err
		}
		// The checkpoint LSN can sit mid-block. Reload the partial block
		// into the buffer so the next write round rewrites it with the
		// existing bytes preserved.
		aligned := rec.LSN &^ (BlockSize - 1)
		l.initCursors(aligned)
		if frag := uint64(rec.LSN - aligned); frag > 0 {
			block := make([]byte, BlockSize)
			off := int64(HeaderSize + l.files.calcLSNOffset(aligned))
			if err := l.files.mainRead(off, block); err != nil {
				_ = l.files.closeFiles()
				return nil, err
			}
			copy(l.bufs[0], block[:frag])
			l.bufFree = frag
			l.bufNextToWrite = frag
		}
		l.lsnValue.Store(uint64(rec.LSN))
		l.flushedToDiskLSN.Store(uint64(rec.LSN))
		l.writeLSN = rec.LSN
		l.currentFlushLSN = rec.LSN
		l.lastCheckpointLSN.Store(uint64(rec.LSN))
		l.nextCheckpointLSN = rec.LSN
		l.nextCheckpointNo = rec.Number + 1
	}

	return l, nil
}

// initCursors positions every cursor at lsn, which must be block-aligned.
func (l *Log) initCursors(lsn LSN) {
	l.lsnValue.Store(uint64(lsn))
	l.flushedToDiskLSN.Store(uint64(lsn))
	l.lastCheckpointLSN.Store(uint64(lsn))
	l.nextCheckpointLSN = lsn
	l.writeLSN = lsn
	l.currentFlushLSN = lsn
	l.bufStartLSN = lsn
	l.bufFree = 0
	l.bufNextToWrite = 0
	l.activeBuf = 0
}

// readLastCheckpoint returns the newest verifiable checkpoint record from
// the two slots. At least one slot survives any crash mid-checkpoint.
func (l *Log) readLastCheckpoint() (*CheckpointRecord, error) {
	var best *CheckpointRecord
	block := make([]byte, BlockSize)
	for _, slot := range []int64{CheckpointSlot1, CheckpointSlot2} {
		if err := l.files.mainRead(slot, block); err != nil {
			return nil, err
		}
		var rec CheckpointRecord
		if err := rec.UnmarshalBinary(block); err != nil {
			continue
		}
		if best == nil || rec.Number > best.Number {
			r := rec
			best = &r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("redolog: no valid checkpoint found in %s", l.files.main.Path())
	}
	return best, nil
}

// LSN returns the highest assigned log sequence number.
func (l *Log) LSN() LSN { return LSN(l.lsnValue.Load()) }

// FlushedLSN returns the durable floor: every byte below it survives a
// crash.
func (l *Log) FlushedLSN() LSN { return LSN(l.flushedToDiskLSN.Load()) }

// LastCheckpointLSN returns the LSN of the last completed checkpoint.
func (l *Log) LastCheckpointLSN() LSN { return LSN(l.lastCheckpointLSN.Load()) }

// CheckpointAge returns the amount of log that would need replay after a
// crash right now.
func (l *Log) CheckpointAge() LSN { return l.LSN() - l.LastCheckpointLSN() }

// Format returns the format tag of the opened log file.
func (l *Log) Format() uint32 { return l.files.format }

// Close drains pending writes and checkpoints, then closes the files.
// It is the shutdown path: the buffer is written out durably and a final
// checkpoint is taken before the handles are released.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	if err := l.FlushToDisk(); err != nil {
		return err
	}
	if err := l.MakeCheckpoint(); err != nil {
		return err
	}

	l.mu.Lock()
	// No write round can be in flight here: FlushToDisk waited for the
	// last one and nothing appends during shutdown.
	l.closed = true
	l.writeCond.Broadcast()
	l.checkpointCond.Broadcast()
	l.mu.Unlock()

	return l.files.closeFiles()
}

// ReadSegment reads the LSN range [*start, end) into buf, validating the
// checksum of every block. *start must be block-aligned; on return it has
// been advanced past the last verified block so callers can use the valid
// prefix after a partial failure. The result is true iff every block
// verified.
func (l *Log) ReadSegment(start *LSN, end LSN, buf []byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrClosed
	}
	return l.files.readSegment(start, end, buf)
}

// AppendToMainLog appends buf directly to the main file, bypassing the log
// buffer. It contends only with other direct appenders, never with buffer
// bookkeeping.
func (l *Log) AppendToMainLog(buf []byte) error {
	return l.files.appendToMainLog(buf)
}

// FlushOrderGuard grants the right to register dirty pages on the
// buffer-pool flush list. Holding it is the only way pages may be
// inserted, which keeps list order non-decreasing in LSN even though the
// main mutex has already been released.
type FlushOrderGuard struct {
	l    *Log
	done bool
}

// LockFlushOrder acquires the flush-order mutex. It is taken while the
// main mutex is still held during commit and released after the pages are
// on the list.
func (l *Log) LockFlushOrder() *FlushOrderGuard {
	l.flushOrderMu.Lock()
	return &FlushOrderGuard{l: l}
}

// Unlock releases the flush-order mutex. Calling it twice is a no-op.
func (g *FlushOrderGuard) Unlock() {
	if g.done {
		return
	}
	g.done = true
	g.l.flushOrderMu.Unlock()
}

// Appender is a scoped guard over the append pipeline. It is the only way
// to reserve buffer space and assign LSNs; holding one means holding the
// main log mutex, so at most one Appender is live at a time.
//
// The sequence is Reserve, one or more Append calls covering exactly the
// reserved bytes, then Finish with the end LSN of the reservation, then
// Close.
type Appender struct {
	l    *Log
	done bool
}

// BeginAppend acquires the main log mutex and returns the append guard.
func (l *Log) BeginAppend() (*Appender, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	return &Appender{l: l}, nil
}

// Close releases the main log mutex. Calling it twice is a no-op.
func (a *Appender) Close() {
	if a.done {
		return
	}
	a.done = true
	a.l.mu.Unlock()
}

// Reserve claims size bytes in the active half and returns the start LSN
// of the reservation. When the active half cannot hold size more bytes,
// the mutex is dropped, the buffer is written out (switching halves), and
// the reservation is retried.
func (a *Appender) Reserve(size int) (LSN, error) {
	l := a.l
	// A switch can leave up to one partial block in the new half, so the
	// largest grantable reservation is one block short of a half.
	if uint64(size) > l.bufSize-BlockSize {
		return 0, fmt.Errorf("redolog: reservation of %d bytes exceeds buffer half size %d", size, l.bufSize)
	}
	for l.bufFree+uint64(size) > l.bufSize {
		target := l.lsnLocked()
		l.mu.Unlock()
		err := l.WriteUpTo(target, false)
		l.mu.Lock()
		if err != nil {
			return 0, err
		}
		if l.closed {
			return 0, ErrClosed
		}
	}
	return l.bufStartLSN + LSN(l.bufFree), nil
}

// Append copies b into the reserved region and advances the free offset.
// It does not touch the LSN.
func (a *Appender) Append(b []byte) {
	l := a.l
	copy(l.bufs[l.activeBuf][l.bufFree:], b)
	l.bufFree += uint64(len(b))
}

// Finish publishes endLSN as the highest assigned LSN and evaluates
// whether a background flush or checkpoint is due. endLSN must equal the
// reservation start plus the appended byte count.
func (a *Appender) Finish(endLSN LSN) {
	l := a.l
	l.lsnValue.Store(uint64(endLSN))

	flagged := false
	if l.bufFree > l.maxBufFree {
		l.pendingCheck.Store(true)
		flagged = true
	}

	age := endLSN - l.LastCheckpointLSN()
	if age >= l.logCapacity && l.warn.Allow() {
		l.logger.LogOverwriteRisk(age, l.logCapacity)
	}

	// Deliberate short-circuit: when the occupancy flag was just raised,
	// or the age is still comfortably small, the dirty-page query is
	// skipped entirely.
	if flagged || age <= l.maxModifiedAgeSync {
		return
	}

	oldest, ok := l.dirty.OldestModification()
	if !ok || endLSN-oldest > l.maxModifiedAgeSync || age > l.maxCheckpointAgeAsync {
		l.pendingCheck.Store(true)
	}
}

// lsnLocked returns the current LSN. Caller holds mu.
func (l *Log) lsnLocked() LSN { return LSN(l.lsnValue.Load()) }
