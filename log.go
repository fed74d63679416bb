// Package txlog implements a crash-safe write-ahead log for fixed-size
// block devices, modeled on the transaction log in a Unix-like kernel's
// filesystem layer: callers bracket a group of block writes with
// BeginOp/EndOp, write blocks through LogWrite, and the log absorbs,
// commits and — on the next Init after a crash — replays them.
//
// The log never interprets block contents. It only ever copies whole
// blocks between the log region and their "home" location, so it composes
// with any filesystem or store built on top of [internal/bcache.Cache].
package txlog

import (
	"fmt"
	"sync"

	"txlog/internal/bcache"
)

// Log is a crash-safe write-ahead log over a region of a block device.
//
// The region is start..start+size-1: block start is the header, and
// blocks start+1..start+logSize are the log's data slots. Log is safe for
// concurrent use by multiple goroutines; BeginOp/EndOp is how callers
// demarcate a transaction.
type Log struct {
	cache *bcache.Cache

	start       uint32 // header block number
	size        uint32 // total blocks in the region, including the header
	logSize     uint32 // number of log data slots (LogSize)
	maxOpBlocks uint32 // max distinct blocks a single operation may write

	mu          sync.Mutex
	cond        *sync.Cond
	outstanding int  // number of operations currently between BeginOp/EndOp
	committing  bool // a commit is in flight; new operations must wait
	lh          logHeader
}

// LogStats is point-in-time instrumentation over a Log, useful for
// observability and for tests asserting on admission behavior. It has no
// counterpart in the kernel this design is modeled on — it is additive.
type LogStats struct {
	Outstanding   int
	Committing    bool
	HeaderEntries uint32
	Capacity      uint32
}

// Init opens the log region [start, start+size) on cache's device and
// recovers any committed-but-not-installed transaction left over from a
// prior crash, per spec.md §4.3.
//
// maxOpBlocks bounds the number of distinct blocks a single operation is
// allowed to write; it is used only to throttle transaction admission in
// BeginOp, matching MAXOPBLOCKS in the design this is based on.
func Init(cache *bcache.Cache, start, size, logSize, maxOpBlocks uint32) (*Log, error) {
	validateHeaderFits(logSize, cache.BlockSize())

	if size < logSize+1 {
		return nil, fmt.Errorf("init log: %w: region size %d, need at least %d for LogSize %d", ErrRegionTooSmall, size, logSize+1, logSize)
	}

	l := &Log{
		cache:       cache,
		start:       start,
		size:        size,
		logSize:     logSize,
		maxOpBlocks: maxOpBlocks,
		lh:          newLogHeader(logSize),
	}
	l.cond = sync.NewCond(&l.mu)

	if err := l.recover(); err != nil {
		return nil, fmt.Errorf("init log: %w", err)
	}

	return l, nil
}

// recover replays any transaction the header shows as committed, then
// clears the header. It runs once, from Init, before any concurrent
// access is possible, so it touches l.lh without taking l.mu.
func (l *Log) recover() error {
	h, err := l.readHead()
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	if err := l.installTrans(h, true); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	h.n = 0
	if err := l.writeHeadTo(h); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	l.lh = newLogHeader(l.logSize)

	return nil
}

// BeginOp reserves room in the log for one operation of up to
// maxOpBlocks distinct block writes, blocking while a commit is in
// flight or while admitting the operation would risk overrunning the log
// region. Every BeginOp must be matched by exactly one EndOp.
func (l *Log) BeginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.committing || !l.canAdmitLocked() {
			l.cond.Wait()

			continue
		}

		l.outstanding++

		return
	}
}

// canAdmitLocked reports whether one more operation can be admitted
// without risking a commit that needs more log slots than exist.
//
// It assumes every already-admitted operation, plus this one, still
// writes its full maxOpBlocks quota — a pessimistic bound, but the only
// one that lets commit run without first asking every outstanding
// operation how many blocks it actually ended up touching. Callers must
// hold l.mu.
func (l *Log) canAdmitLocked() bool {
	return l.lh.n+(uint32(l.outstanding)+1)*l.maxOpBlocks <= l.logSize
}

// EndOp ends one operation admitted by BeginOp. If it is the last
// outstanding operation, EndOp commits the transaction before returning;
// otherwise it wakes any operations waiting in BeginOp so they can
// re-check admission now that this one's reservation is no longer
// outstanding (commit may have freed header slots, or might not — they
// just need to re-evaluate).
func (l *Log) EndOp() {
	l.mu.Lock()

	l.outstanding--
	if l.committing {
		l.mu.Unlock()
		panic("txlog: end_op: commit already in progress")
	}

	commitNow := false
	if l.outstanding == 0 {
		commitNow = true
		l.committing = true
	} else {
		// outstanding operations may have freed up reservation room.
		l.cond.Broadcast()
	}

	l.mu.Unlock()

	if commitNow {
		if err := l.commit(); err != nil {
			panic(fmt.Sprintf("txlog: commit: %v", err))
		}

		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// LogWrite records that buf must be written to its home block (buf.Blockno)
// as part of the current transaction. The write is not installed until the
// transaction commits; LogWrite only absorbs buf into the in-progress
// header, deduplicating repeated writes to the same block within one
// transaction and pinning the block's cache entry so it cannot be evicted
// before commit installs it.
//
// LogWrite panics if called outside of a BeginOp/EndOp pair, or if the
// transaction has already filled every log slot (even when buf's block is
// among them) — both are caller bugs, not recoverable conditions.
func (l *Log) LogWrite(buf *bcache.Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.outstanding < 1 {
		panic(fmt.Sprintf("txlog: log_write: %v", ErrNoTransaction))
	}

	if l.lh.n >= l.logSize {
		panic(fmt.Sprintf("txlog: log_write: %v", ErrTransactionTooBig))
	}

	i := uint32(0)
	for ; i < l.lh.n; i++ {
		if l.lh.block[i] == buf.Blockno {
			break
		}
	}

	l.lh.block[i] = buf.Blockno

	if i == l.lh.n {
		l.cache.Pin(buf)
		l.lh.n++
	}
}

// Stat returns a snapshot of the log's current admission state.
func (l *Log) Stat() LogStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LogStats{
		Outstanding:   l.outstanding,
		Committing:    l.committing,
		HeaderEntries: l.lh.n,
		Capacity:      l.logSize,
	}
}
