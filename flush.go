package redolog

import (
	"encoding/binary"

	"github.com/hupe1980/redolog/internal/hash"
)

func alignDown(v uint64) uint64 { return v &^ (BlockSize - 1) }

func alignUp(v uint64) uint64 { return (v + BlockSize - 1) &^ (BlockSize - 1) }

// WriteUpTo ensures the on-disk log is advanced at least to target. When a
// round already in flight covers the target, the caller waits for it
// instead of issuing a duplicate write. With flushToDisk set the call does
// not return before the durable floor has reached the target.
func (l *Log) WriteUpTo(target LSN, flushToDisk bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.closed {
			return ErrClosed
		}
		if lsn := l.lsnLocked(); target > lsn {
			target = lsn
		}
		if l.satisfiedLocked(target, flushToDisk) {
			return nil
		}
		if l.writeInFlight {
			// Write coalescing: an overlapping round is running. If it
			// covers the target, the broadcast after it lands is all we
			// need; otherwise we retry and become the writer ourselves.
			l.writeCond.Wait()
			continue
		}
		if err := l.writeRoundLocked(target, flushToDisk); err != nil {
			return err
		}
	}
}

// satisfiedLocked reports whether target has already reached the requested
// pipeline stage. Caller holds mu.
func (l *Log) satisfiedLocked(target LSN, flushToDisk bool) bool {
	if flushToDisk {
		return LSN(l.flushedToDiskLSN.Load()) >= target
	}
	return l.writeLSN >= target
}

// writeRoundLocked runs one write round: it snapshots the written area of
// the active half, switches halves, then stamps and writes the blocks with
// the mutex released. Caller holds mu; the round holds writeInFlight for
// its duration and broadcasts writeCond when it lands.
func (l *Log) writeRoundLocked(target LSN, flushToDisk bool) error {
	writeEnd := l.bufStartLSN + LSN(l.bufFree)
	areaStart := alignDown(l.bufNextToWrite)
	areaEnd := alignUp(l.bufFree)
	startLSN := l.bufStartLSN + LSN(areaStart)
	frag := l.bufFree % BlockSize
	writeBuf := l.bufs[l.activeBuf][areaStart:areaEnd]

	l.writeInFlight = true
	l.currentFlushLSN = writeEnd
	if areaStart != areaEnd {
		l.switchBufferLocked()
	}
	l.mu.Unlock()

	var err error
	if areaStart != areaEnd {
		stampBlocks(writeBuf, frag)
		err = l.files.bodyWrite(startLSN, writeBuf)
		l.nLogIOs.Add(1)
	}

	flushed := l.files.main.WritesAreDurable()
	if err == nil && flushToDisk && !flushed {
		l.nPendingFlushes.Add(1)
		err = l.files.main.Flush()
		l.nPendingFlushes.Add(-1)
		l.nFlushes.Add(1)
		flushed = err == nil
	}
	l.logger.LogWrite(writeEnd, flushed, err)

	l.mu.Lock()
	if err == nil {
		if writeEnd > l.writeLSN {
			l.writeLSN = writeEnd
		}
		if flushed && writeEnd > LSN(l.flushedToDiskLSN.Load()) {
			l.flushedToDiskLSN.Store(uint64(writeEnd))
		}
	}
	l.writeInFlight = false
	l.writeCond.Broadcast()
	return err
}

// switchBufferLocked makes the other half the active one. The trailing
// partial block of the old half, if any, is carried over to offset 0 of
// the new half so the next round rewrites that block with more data.
// Caller holds mu.
func (l *Log) switchBufferLocked() {
	areaEnd := alignUp(l.bufFree)
	frag := l.bufFree % BlockSize
	old := l.bufs[l.activeBuf]
	l.activeBuf = 1 - l.activeBuf
	next := l.bufs[l.activeBuf]

	if frag > 0 {
		copy(next[:frag], old[areaEnd-BlockSize:areaEnd-BlockSize+frag])
		l.bufStartLSN += LSN(areaEnd - BlockSize)
		l.bufFree = frag
	} else {
		l.bufStartLSN += LSN(areaEnd)
		l.bufFree = 0
	}
	l.bufNextToWrite = l.bufFree
}

// stampBlocks zero-pads the tail of a trailing partial block and stores
// the CRC32C of each block's data bytes into its trailer. frag is the
// payload length within the last block, 0 meaning the last block is full.
func stampBlocks(buf []byte, frag uint64) {
	for off := 0; off < len(buf); off += BlockSize {
		block := buf[off : off+BlockSize]
		if off+BlockSize >= len(buf) && frag > 0 && frag < BlockDataSize {
			for i := frag; i < BlockDataSize; i++ {
				block[i] = 0
			}
		}
		binary.BigEndian.PutUint32(block[BlockDataSize:], hash.CRC32C(block[:BlockDataSize]))
	}
}

// FlushBuffer writes the current buffer contents to the log file without
// waiting for durability.
func (l *Log) FlushBuffer() error {
	return l.WriteUpTo(l.LSN(), false)
}

// FlushToDisk advances both pipeline stages to the current LSN: the buffer
// is written out and an OS flush is issued.
func (l *Log) FlushToDisk() error {
	return l.WriteUpTo(l.LSN(), true)
}

// ExtendBuffer grows each buffer half to newSize bytes. The buffer must be
// idle: any in-flight round is waited out and the active half is restored
// to the primary position before reallocating, so subsequent switches stay
// consistent.
func (l *Log) ExtendBuffer(newSize int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if uint64(newSize) <= l.bufSize {
		return nil
	}

	for l.writeInFlight {
		l.writeCond.Wait()
	}
	if l.activeBuf != 0 {
		// With no round in flight the content can simply move back to
		// the primary half; offsets and LSNs are unaffected.
		copy(l.bufs[0][:l.bufFree], l.bufs[1][:l.bufFree])
		l.activeBuf = 0
	}

	bufs := [2][]byte{make([]byte, newSize), make([]byte, newSize)}
	copy(bufs[0], l.bufs[0][:l.bufFree])
	l.bufs = bufs
	l.bufSize = uint64(newSize)
	l.maxBufFree = uint64(newSize) / 2
	return nil
}
