// Package crashsim wraps a block device to inject a crash at a chosen
// point in a sequence of writes, so tests can exercise the log's recovery
// path the way spec.md's crash scenarios describe it: a run of operations
// is interrupted mid-way, only the writes that completed before the
// injection point are durable, and a fresh Init against that state must
// recover cleanly.
//
// This is the block-level counterpart of a durable-snapshot-vs-live-view
// design: Recorder counts every WriteBlock call, and once tripped it drops
// every further write so a test can reopen the device and assert on
// exactly what survived.
package crashsim

import (
	"errors"
	"sync"

	"txlog/internal/bcache"
)

// ErrTripped is returned by WriteBlock once a Recorder has been tripped —
// every write after the injection point is dropped, not merely delayed, to
// model "the process died and never issued this write."
var ErrTripped = errors.New("crashsim: device tripped, write dropped")

// Recorder wraps a [bcache.Device], counting writes and optionally
// refusing every write once a configured number have gone through.
//
// Recorder implements [bcache.Device] so it can be swapped in wherever a
// real device is used.
type Recorder struct {
	dev bcache.Device

	mu      sync.Mutex
	writes  int
	tripAt  int // 0 means "never trip"
	tripped bool
}

// New wraps dev with a Recorder that never trips on its own — use Trip or
// ArmTripAfter to arm it.
func New(dev bcache.Device) *Recorder {
	return &Recorder{dev: dev}
}

// TripAfter arms the recorder to drop every write starting with the
// (n+1)th: the first n writes succeed and reach the device; all
// subsequent WriteBlock calls return ErrTripped and have no effect. This
// is how a test picks the exact I/O point spec.md's S5/S6 scenarios crash
// at — e.g. n counted up to just after write_head's call but before
// install_trans's first write. An n of 0 leaves the recorder unarmed, as
// New does.
func TripAfter(dev bcache.Device, n int) *Recorder {
	r := New(dev)
	r.mu.Lock()
	r.tripAt = n
	r.mu.Unlock()

	return r
}

// BlockSize implements bcache.Device.
func (r *Recorder) BlockSize() uint32 { return r.dev.BlockSize() }

// ReadBlock implements bcache.Device. Reads are never dropped — crashes
// in this model only lose in-flight writes, matching a host crash rather
// than media corruption.
func (r *Recorder) ReadBlock(blockno uint32) ([]byte, error) {
	return r.dev.ReadBlock(blockno)
}

// WriteBlock implements bcache.Device, counting the call and dropping it
// if the recorder has tripped (either via TripAfter reaching its count or
// via an explicit Trip call).
func (r *Recorder) WriteBlock(blockno uint32, data []byte) error {
	r.mu.Lock()

	r.writes++

	if r.tripped || (r.tripAt > 0 && r.writes > r.tripAt) {
		r.tripped = true

		r.mu.Unlock()

		return ErrTripped
	}

	r.mu.Unlock()

	return r.dev.WriteBlock(blockno, data)
}

// ArmTripAfter (re)arms the recorder to drop every write once the total
// write count exceeds n, counting from the recorder's creation — not from
// this call. Use Writes() first to compute n relative to "now" when
// arming a recorder that has already serviced some writes.
func (r *Recorder) ArmTripAfter(n int) {
	r.mu.Lock()
	r.tripAt = n
	r.tripped = false
	r.mu.Unlock()
}

// Trip immediately arms the recorder: every WriteBlock from this point on
// is dropped, regardless of count. Writes already in flight when Trip is
// called are unaffected (Go's memory model serializes Trip against the
// mutex the same way WriteBlock is).
func (r *Recorder) Trip() {
	r.mu.Lock()
	r.tripped = true
	r.mu.Unlock()
}

// Writes returns how many WriteBlock calls have been observed so far,
// including dropped ones — useful for picking a TripAfter count in a test
// that first runs a scenario uninstrumented to see how many writes it
// takes.
func (r *Recorder) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writes
}
