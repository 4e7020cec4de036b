package redolog

import "context"

// Checkpoint writes a checkpoint at the oldest dirty-page LSN, or at the
// current LSN when no page is dirty. If a checkpoint write is already in
// flight the call returns (false, nil) immediately instead of queueing a
// duplicate. On success last_checkpoint_lsn has advanced and the record is
// durable in the slot not used by the previous checkpoint.
func (l *Log) Checkpoint() (bool, error) {
	if !l.checkpointSem.TryAcquire(1) {
		return false, nil
	}
	defer l.checkpointSem.Release(1)
	return true, l.writeCheckpoint()
}

// MakeCheckpoint is the blocking variant used at shutdown or on request:
// it flushes every page dirtied before the current LSN, then performs a
// checkpoint of its own even when it has to wait out a concurrent one.
// Afterwards last_checkpoint_lsn is at least the LSN observed at call
// time.
func (l *Log) MakeCheckpoint() error {
	target := l.LSN()
	l.dirty.FlushUpTo(target)

	if err := l.checkpointSem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer l.checkpointSem.Release(1)
	return l.writeCheckpoint()
}

// writeCheckpoint persists one checkpoint record. Caller holds the
// checkpoint semaphore.
func (l *Log) writeCheckpoint() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	ckptLSN := l.lsnLocked()
	if oldest, ok := l.dirty.OldestModification(); ok && oldest < ckptLSN {
		ckptLSN = oldest
	}
	// The checkpoint never moves backwards, even when the dirty-page
	// snapshot momentarily reports an older page than last time.
	if last := LSN(l.lastCheckpointLSN.Load()); ckptLSN < last {
		ckptLSN = last
	}
	number := l.nextCheckpointNo
	l.nextCheckpointLSN = ckptLSN
	l.mu.Unlock()

	// All log up to the checkpoint LSN must be durable before the record
	// that declares it replayed-from is.
	if err := l.WriteUpTo(ckptLSN, true); err != nil {
		return err
	}

	rec := CheckpointRecord{Number: number, LSN: ckptLSN}
	block, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	slot := int64(CheckpointSlot2)
	if number%2 == 1 {
		slot = CheckpointSlot1
	}
	l.nLogIOs.Add(1)
	err = l.files.mainWriteDurable(slot, block)
	l.logger.LogCheckpoint(number, ckptLSN, err)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.lastCheckpointLSN.Store(uint64(ckptLSN))
	l.nextCheckpointNo = number + 1
	l.checkpointCond.Broadcast()
	l.mu.Unlock()
	return nil
}

// SetCapacity derives the log capacity and the async/sync age thresholds
// from the configured redo size and the expected number of concurrently
// appending threads. It fails without side effects when the size cannot
// give every thread its free-space margin.
func (l *Log) SetCapacity(fileSize uint64) error {
	if fileSize <= HeaderSize {
		return &CapacityError{FileSize: fileSize, Threads: l.threads}
	}
	smallest := fileSize - fileSize/10

	// Every concurrent thread may need to complete a query step without
	// a margin check, plus a fixed extra allowance.
	free := 4*l.pageSize*uint64(10+l.threads) + 8*l.pageSize
	if free >= smallest/2 {
		return &CapacityError{
			FileSize: fileSize,
			Threads:  l.threads,
			Required: 2 * free,
			Usable:   smallest,
		}
	}

	margin := smallest - free
	margin -= margin / 10

	l.mu.Lock()
	l.logCapacity = LSN(margin)
	l.maxModifiedAgeAsync = LSN(margin - margin/8)
	l.maxModifiedAgeSync = LSN(margin - margin/16)
	l.maxCheckpointAgeAsync = LSN(margin - margin/32)
	l.maxCheckpointAge = LSN(margin)
	l.mu.Unlock()
	return nil
}
