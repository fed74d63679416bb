package bcache

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"txlog/internal/blockdev"
)

func newTestCache(t *testing.T, blocks uint32, capacity int) (*Cache, *blockdev.Device) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk.img")

	dev, err := blockdev.Open(path, 64, blocks)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}

	t.Cleanup(func() { _ = dev.Close() })

	return New(dev, capacity), dev
}

func TestReadMissThenHit(t *testing.T) {
	cache, dev := newTestCache(t, 4, 4)

	payload := bytes.Repeat([]byte{0x11}, 64)
	if err := dev.WriteBlock(2, payload); err != nil {
		t.Fatalf("seed WriteBlock: %v", err)
	}

	buf, err := cache.Read(2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !bytes.Equal(buf.Data, payload) {
		t.Fatalf("got %x want %x", buf.Data, payload)
	}

	// Mutate in place; a second Read must see the cached mutation, not the
	// stale on-disk contents, since Write hasn't been called yet.
	buf.Data[0] = 0x22

	again, err := cache.Read(2)
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}

	if again.Data[0] != 0x22 {
		t.Fatalf("cache did not retain in-place mutation")
	}
}

func TestWriteIsDurable(t *testing.T) {
	cache, dev := newTestCache(t, 4, 4)

	buf, err := cache.Read(0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	copy(buf.Data, bytes.Repeat([]byte{0x33}, 64))

	if err := cache.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	onDisk, err := dev.ReadBlock(0)
	if err != nil {
		t.Fatalf("direct ReadBlock: %v", err)
	}

	if !bytes.Equal(onDisk, buf.Data) {
		t.Fatalf("write did not reach device: got %x want %x", onDisk, buf.Data)
	}
}

func TestPinnedEntryIsNotEvicted(t *testing.T) {
	cache, _ := newTestCache(t, 4, 2)

	buf0, err := cache.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %v", err)
	}

	cache.Pin(buf0)

	if _, err := cache.Read(1); err != nil {
		t.Fatalf("Read(1): %v", err)
	}

	// Capacity is 2 and both slots are full; block 0 is pinned, so the
	// next read must evict block 1, never block 0.
	if _, err := cache.Read(2); err != nil {
		t.Fatalf("Read(2): %v", err)
	}

	again, err := cache.Read(0)
	if err != nil {
		t.Fatalf("re-Read(0): %v", err)
	}

	if again != buf0 {
		t.Fatalf("pinned block 0 was evicted from cache")
	}
}

func TestCacheFullWhenAllPinned(t *testing.T) {
	cache, _ := newTestCache(t, 4, 2)

	b0, err := cache.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %v", err)
	}

	b1, err := cache.Read(1)
	if err != nil {
		t.Fatalf("Read(1): %v", err)
	}

	cache.Pin(b0)
	cache.Pin(b1)

	_, err = cache.Read(2)
	if !errors.Is(err, ErrCacheFull) {
		t.Fatalf("got %v want ErrCacheFull", err)
	}

	cache.Unpin(b1)

	if _, err := cache.Read(2); err != nil {
		t.Fatalf("Read(2) after Unpin: %v", err)
	}
}
