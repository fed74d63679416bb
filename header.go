package txlog

import (
	"encoding/binary"
	"fmt"
)

// logHeader is the in-memory mirror of the on-disk header block described
// in spec.md §3: n valid entries, and for each entry the home block number
// the matching log data slot should be installed to.
//
// The zero value is not meaningful on its own — block must be sized to the
// configured LogSize before use (see newLogHeader).
type logHeader struct {
	n     uint32
	block []uint32
}

func newLogHeader(logSize uint32) logHeader {
	return logHeader{block: make([]uint32, logSize)}
}

// clone returns a deep copy restricted to the first n entries — exactly
// the slice of state commit() needs once it stops holding Log.mu.
func (h logHeader) clone() logHeader {
	out := logHeader{n: h.n, block: make([]uint32, h.n)}
	copy(out.block, h.block[:h.n])

	return out
}

// headerByteSize returns the number of bytes logHeader occupies on disk
// for a given LogSize, matching serializeHeader/deserializeHeader.
func headerByteSize(logSize uint32) int {
	return 4 + int(logSize)*4
}

// validateHeaderFits panics if a header built for logSize entries would not
// fit inside one block of blockSize bytes; a header that fills the block
// exactly is accepted. This is the counterpart of xv6's
// sizeof(struct logheader) check in initlog — a configuration error, not
// an operational one, so it is checked once at Init and panics rather
// than returning an error.
func validateHeaderFits(logSize, blockSize uint32) {
	if uint32(headerByteSize(logSize)) > blockSize {
		panic(fmt.Sprintf("txlog: init: log header for LogSize=%d does not fit in a %d-byte block", logSize, blockSize))
	}
}

// serializeHeader encodes h into a blockSize-byte buffer (little-endian,
// fixed width, unused trailing bytes left zero) suitable for writing
// directly to the header block.
func serializeHeader(h logHeader, blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.n)

	for i, b := range h.block {
		off := 4 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], b)
	}

	return buf
}

// deserializeHeader decodes a header block into a logHeader with logSize
// slots (the full configured capacity, not just the n valid ones — callers
// needing just the valid prefix should slice block[:n]).
func deserializeHeader(data []byte, logSize uint32) (logHeader, error) {
	need := headerByteSize(logSize)
	if len(data) < need {
		return logHeader{}, fmt.Errorf("deserialize header: block too small: have %d need %d", len(data), need)
	}

	h := newLogHeader(logSize)
	h.n = binary.LittleEndian.Uint32(data[0:4])

	for i := range h.block {
		off := 4 + i*4
		h.block[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}

	return h, nil
}

// readHead reads the on-disk header block into a fresh logHeader.
func (l *Log) readHead() (logHeader, error) {
	buf, err := l.cache.Read(l.start)
	if err != nil {
		return logHeader{}, fmt.Errorf("read head: %w", err)
	}

	h, err := deserializeHeader(buf.Data, l.logSize)
	if err != nil {
		l.cache.Release(buf)

		return logHeader{}, fmt.Errorf("read head: %w", err)
	}

	l.cache.Release(buf)

	return h, nil
}

// writeHeadTo writes h to the on-disk header block. Completion of this
// write is the transaction commit point described in spec.md §4.2 and
// §4.5: once it returns, the blocks named in h are durably committed (if
// h.n > 0) or the log is durably empty (if h.n == 0).
func (l *Log) writeHeadTo(h logHeader) error {
	buf, err := l.cache.Read(l.start)
	if err != nil {
		return fmt.Errorf("write head: %w", err)
	}

	copy(buf.Data, serializeHeader(h, l.cache.BlockSize()))

	err = l.cache.Write(buf)
	if err != nil {
		l.cache.Release(buf)

		return fmt.Errorf("write head: %w", err)
	}

	l.cache.Release(buf)

	return nil
}
