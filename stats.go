package redolog

import (
	"fmt"
	"io"
	"time"
)

// Stats is a snapshot of the log cursors and I/O counters.
type Stats struct {
	LSN               LSN
	WriteLSN          LSN
	CurrentFlushLSN   LSN
	FlushedLSN        LSN
	LastCheckpointLSN LSN
	NextCheckpointLSN LSN
	CheckpointAge     LSN

	PendingFlushes int64
	Flushes        int64
	LogIOs         int64
	LogIOsPerSec   float64
}

// Stats returns the current counters. The per-second I/O rate covers the
// window since the last RefreshStats call.
func (l *Log) Stats() Stats {
	s := Stats{
		LSN:               l.LSN(),
		FlushedLSN:        l.FlushedLSN(),
		LastCheckpointLSN: l.LastCheckpointLSN(),
		PendingFlushes:    l.nPendingFlushes.Load(),
		Flushes:           l.nFlushes.Load(),
		LogIOs:            l.nLogIOs.Load(),
	}
	s.CheckpointAge = s.LSN - s.LastCheckpointLSN

	l.mu.Lock()
	s.WriteLSN = l.writeLSN
	s.CurrentFlushLSN = l.currentFlushLSN
	s.NextCheckpointLSN = l.nextCheckpointLSN
	since := l.statSince
	base := l.statLogIOs
	l.mu.Unlock()

	if elapsed := time.Since(time.Unix(0, since)).Seconds(); elapsed > 0 && since > 0 {
		s.LogIOsPerSec = float64(s.LogIOs-base) / elapsed
	}
	return s
}

// PrintStats writes a human-readable summary of the log state to w, in the
// style of an engine status report.
func (l *Log) PrintStats(w io.Writer) {
	s := l.Stats()
	fmt.Fprintf(w, "Log sequence number %d\n", uint64(s.LSN))
	fmt.Fprintf(w, "Log flushed up to   %d\n", uint64(s.FlushedLSN))
	fmt.Fprintf(w, "Last checkpoint at  %d\n", uint64(s.LastCheckpointLSN))
	fmt.Fprintf(w, "%d pending log flushes, %d done\n", s.PendingFlushes, s.Flushes)
	fmt.Fprintf(w, "%d log i/o's done, %.2f log i/o's/second\n", s.LogIOs, s.LogIOsPerSec)
}

// RefreshStats resets the window used for the per-second I/O rate.
func (l *Log) RefreshStats() {
	ios := l.nLogIOs.Load()
	l.mu.Lock()
	l.statLogIOs = ios
	l.statSince = time.Now().UnixNano()
	l.mu.Unlock()
}
