// Package bcache implements the block buffer cache collaborator spec.md
// names but declares out of scope: Read/Write/Release/Pin/Unpin over a
// fixed-size disk. It is the one collaborator SPEC_FULL must supply a real
// implementation for, since there is no shared kernel buffer cache to call
// into from a hosted Go module.
//
// Entries referenced by a positive pin count are never evicted, which is
// what lets the log manager hold a block pinned across an entire
// transaction (I5 in the log package) without it being silently dropped
// under memory pressure from unrelated readers.
package bcache

import (
	"container/list"
	"fmt"
	"sync"
)

// Device is the raw storage Cache reads through to and writes through to.
// [txlog/internal/blockdev.Device] satisfies it; so does anything in
// [txlog/internal/crashsim] wrapping one to inject crashes.
type Device interface {
	BlockSize() uint32
	ReadBlock(blockno uint32) ([]byte, error)
	WriteBlock(blockno uint32, data []byte) error
}

// Cache is a pinning, least-recently-used block buffer cache in front of a
// [Device].
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	mu       sync.Mutex
	dev      Device
	capacity int

	entries map[uint32]*list.Element // blockno -> list element
	order   *list.List               // front = most recently used
}

type entry struct {
	buf      *Buf
	pinCount int
}

// New creates a Cache over dev holding at most capacity blocks in memory.
// capacity must be large enough to hold every block a single transaction
// can pin at once, or Read will return [ErrCacheFull] once the log manager
// starts pinning — callers size capacity from the same LogSize/MaxOpBlocks
// configuration the log manager uses.
func New(dev Device, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}

	return &Cache{
		dev:      dev,
		capacity: capacity,
		entries:  make(map[uint32]*list.Element, capacity),
		order:    list.New(),
	}
}

// BlockSize returns the fixed block size of the underlying device.
func (c *Cache) BlockSize() uint32 {
	return c.dev.BlockSize()
}

// Read returns the cached contents of blockno, reading through to the
// device on a miss. The returned Buf is shared with the cache and with any
// other caller that reads the same blockno concurrently — Read does not
// hand out an exclusive copy, so callers that mutate Data for a block they
// do not otherwise know to be single-owner (e.g. a home block mid-transaction,
// which the log manager never shares) must synchronize separately. Callers
// must not retain the Buf past the matching Release.
func (c *Cache) Read(blockno uint32) (*Buf, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[blockno]; ok {
		c.order.MoveToFront(elem)

		return elem.Value.(*entry).buf, nil
	}

	err := c.makeRoomLocked()
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", blockno, err)
	}

	data, err := c.dev.ReadBlock(blockno)
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", blockno, err)
	}

	buf := &Buf{Blockno: blockno, Data: data}
	elem := c.order.PushFront(&entry{buf: buf})
	c.entries[blockno] = elem

	return buf, nil
}

// makeRoomLocked evicts the least-recently-used unpinned entry if the
// cache is at capacity. Callers must hold mu.
func (c *Cache) makeRoomLocked() error {
	if len(c.entries) < c.capacity {
		return nil
	}

	for e := c.order.Back(); e != nil; e = e.Prev() {
		ent := e.Value.(*entry)
		if ent.pinCount == 0 {
			c.order.Remove(e)
			delete(c.entries, ent.buf.Blockno)

			return nil
		}
	}

	return ErrCacheFull
}

// Write synchronously writes b's current contents to disk through the
// underlying device. It does not touch the cache's own state: a Buf
// obtained from Read is the cached copy, so it already holds the contents
// being written. This is the
// write-through semantics spec.md §9 relies on: data logged at commit time
// is always the latest contents, because nothing is ever buffered in the
// cache without also being durable once Write returns.
func (c *Cache) Write(b *Buf) error {
	err := c.dev.WriteBlock(b.Blockno, b.Data)
	if err != nil {
		return fmt.Errorf("write block %d: %w", b.Blockno, err)
	}

	return nil
}

// Release drops the caller's reference to b. Release never evicts and is
// currently a no-op: it exists so call sites mirror spec.md's bread/brelse
// discipline even though this cache has no per-handle refcount beyond the
// pin bias.
func (c *Cache) Release(*Buf) {}

// Pin biases b against eviction. Pin is idempotent-safe: pinning an
// already-pinned buffer simply increases the bias, and the matching number
// of Unpin calls is required to clear it (the log manager only ever pins
// once per block per transaction, matching log_write's "pin on first
// absorption into this transaction" rule).
func (c *Cache) Pin(b *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[b.Blockno]; ok {
		elem.Value.(*entry).pinCount++
	}
}

// Unpin removes one pin bias from b.
func (c *Cache) Unpin(b *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[b.Blockno]; ok {
		ent := elem.Value.(*entry)
		if ent.pinCount > 0 {
			ent.pinCount--
		}
	}
}
