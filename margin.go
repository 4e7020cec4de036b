package redolog

// FreeCheck is called by mutators after modifying a batch of pages, while
// holding no latches other than a flush-order guard. It is a cheap poll:
// only when a previous Finish raised the pending-check flag does it fall
// through to the margin evaluation.
func (l *Log) FreeCheck() error {
	if !l.pendingCheck.Load() {
		return nil
	}
	return l.CheckMargins()
}

// MarginCheckpointAge blocks the caller until appending margin more bytes
// cannot bring the checkpoint age within the safety distance of the log
// capacity. It triggers checkpoints as needed and waits for them; this is
// the mechanism that keeps the log tail from overwriting un-checkpointed
// log.
func (l *Log) MarginCheckpointAge(margin uint64) error {
	// Room for the checkpoint-age growth between the check and the
	// append it guards.
	safety := LSN(8 * l.pageSize)

	l.mu.Lock()
	for {
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		age := l.lsnLocked() + LSN(margin) - LSN(l.lastCheckpointLSN.Load())
		if age+safety <= l.logCapacity {
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if _, err := l.Checkpoint(); err != nil {
			return err
		}

		l.mu.Lock()
		age = l.lsnLocked() + LSN(margin) - LSN(l.lastCheckpointLSN.Load())
		if age+safety <= l.logCapacity {
			l.mu.Unlock()
			return nil
		}
		// The checkpoint could not advance far enough, or a concurrent
		// one is still in flight. Wait for the next one to land.
		l.checkpointCond.Wait()
	}
}

// CheckMargins re-evaluates the pending-check flag: it writes out the
// buffer when occupancy is past the flush threshold, requests page
// writeback when the oldest dirty page is too far behind, and checkpoints
// when the age passed the asynchronous threshold. It loops until the flag
// stays clear.
func (l *Log) CheckMargins() error {
	for {
		l.pendingCheck.Store(false)

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		lsn := l.lsnLocked()
		needWrite := l.bufFree > l.maxBufFree
		modifiedAgeAsync := l.maxModifiedAgeAsync
		modifiedAgeSync := l.maxModifiedAgeSync
		checkpointAgeAsync := l.maxCheckpointAgeAsync
		capacity := l.logCapacity
		l.mu.Unlock()

		if needWrite {
			if err := l.WriteUpTo(lsn, false); err != nil {
				return err
			}
		}

		if oldest, ok := l.dirty.OldestModification(); ok {
			switch {
			case lsn-oldest > modifiedAgeSync:
				l.dirty.FlushUpTo(lsn - modifiedAgeSync)
			case lsn-oldest > modifiedAgeAsync:
				l.dirty.FlushUpTo(lsn - modifiedAgeAsync)
			}
		}

		age := lsn - l.LastCheckpointLSN()
		if age > checkpointAgeAsync {
			if _, err := l.Checkpoint(); err != nil {
				return err
			}
		}
		if age >= capacity {
			if err := l.MarginCheckpointAge(0); err != nil {
				return err
			}
		}

		if !l.pendingCheck.Load() {
			return nil
		}
	}
}
