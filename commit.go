package txlog

import "fmt"

// commit runs the four-step commit sequence described in spec.md §4.2:
// copy absorbed blocks into the log's data slots (writeLog), durably mark
// the transaction committed (writeHeadTo), install the logged blocks into
// their home locations (installTrans), then durably clear the header so
// the transaction is never replayed again.
//
// commit takes a snapshot of the in-progress header under l.mu and then
// releases the lock for the rest of the sequence: EndOp only calls commit
// once outstanding has reached zero and committing is already true, so no
// other goroutine can be inside BeginOp's admission check (it only reads
// l.lh while committing is false) or LogWrite (which requires an
// outstanding operation) for the duration of the commit.
func (l *Log) commit() error {
	l.mu.Lock()
	h := l.lh.clone()
	l.mu.Unlock()

	if h.n == 0 {
		return nil
	}

	if err := l.writeLog(h); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := l.writeHeadTo(h); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := l.installTrans(h, false); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	l.mu.Lock()
	l.lh.n = 0
	l.mu.Unlock()

	empty := newLogHeader(l.logSize)
	if err := l.writeHeadTo(empty); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// writeLog copies each block absorbed into h from the cache to its log
// data slot (start+1..start+h.n). This is the step that makes the
// transaction replayable from the log region alone.
func (l *Log) writeLog(h logHeader) error {
	for i := uint32(0); i < h.n; i++ {
		from, err := l.cache.Read(h.block[i])
		if err != nil {
			return fmt.Errorf("write log: read home block %d: %w", h.block[i], err)
		}

		to, err := l.cache.Read(l.start + 1 + i)
		if err != nil {
			return fmt.Errorf("write log: read log slot %d: %w", i, err)
		}

		copy(to.Data, from.Data)

		if err := l.cache.Write(to); err != nil {
			return fmt.Errorf("write log: write log slot %d: %w", i, err)
		}

		l.cache.Release(from)
		l.cache.Release(to)
	}

	return nil
}

// installTrans copies each of h's logged blocks from its log data slot to
// its home location. When recovering is false (the normal commit path)
// the home block's pin — taken by LogWrite when it was first absorbed —
// is released once installed; during recovery nothing was ever pinned, so
// there is nothing to release.
func (l *Log) installTrans(h logHeader, recovering bool) error {
	for i := uint32(0); i < h.n; i++ {
		from, err := l.cache.Read(l.start + 1 + i)
		if err != nil {
			return fmt.Errorf("install: read log slot %d: %w", i, err)
		}

		to, err := l.cache.Read(h.block[i])
		if err != nil {
			return fmt.Errorf("install: read home block %d: %w", h.block[i], err)
		}

		copy(to.Data, from.Data)

		if err := l.cache.Write(to); err != nil {
			return fmt.Errorf("install: write home block %d: %w", h.block[i], err)
		}

		if !recovering {
			l.cache.Unpin(to)
		}

		l.cache.Release(from)
		l.cache.Release(to)
	}

	return nil
}
