// Package blockdev implements the raw block device the log region lives
// on: a single file, fixed block size, fixed block count. It stands in for
// the disk and the superblock fields (logstart/nlog) that spec.md leaves
// to an external collaborator.
package blockdev

import (
	"fmt"
	"os"
)

// Device is a fixed-block-size, file-backed block device.
//
// ReadBlock and WriteBlock may be called from multiple goroutines at once;
// Close must not run concurrently with any other method, since the closed
// flag is not synchronized. Callers above (internal/bcache) still need
// their own synchronization for anything that must look atomic across more
// than one Device call.
type Device struct {
	file      *os.File
	blockSize uint32
	numBlocks uint32
	closed    bool
}

// Open opens (creating if necessary) a block device backed by path, with
// room for exactly numBlocks blocks of blockSize bytes each.
//
// If the file already exists and is shorter than blockSize*numBlocks, it is
// extended (zero-filled) to that length. It is never truncated shorter —
// an existing device is trusted to already hold a superset of the blocks
// it was last opened with.
func Open(path string, blockSize uint32, numBlocks uint32) (*Device, error) {
	if blockSize == 0 {
		return nil, fmt.Errorf("open device %q: block size must be non-zero", path)
	}

	if numBlocks == 0 {
		return nil, fmt.Errorf("open device %q: block count must be non-zero", path)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("open device %q: %w", path, err)
	}

	wantSize := int64(blockSize) * int64(numBlocks)

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("stat device %q: %w", path, err)
	}

	if info.Size() < wantSize {
		err = file.Truncate(wantSize)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("grow device %q: %w", path, err)
		}
	}

	return &Device{
		file:      file,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

// BlockSize returns the device's fixed block size in bytes.
func (d *Device) BlockSize() uint32 { return d.blockSize }

// NumBlocks returns the total number of addressable blocks.
func (d *Device) NumBlocks() uint32 { return d.numBlocks }

// ReadBlock reads block blockno and returns a fresh copy of its contents.
func (d *Device) ReadBlock(blockno uint32) ([]byte, error) {
	if d.closed {
		return nil, fmt.Errorf("read block %d: %w", blockno, ErrClosed)
	}

	if blockno >= d.numBlocks {
		return nil, fmt.Errorf("read block %d: %w", blockno, ErrBlockRange)
	}

	buf := make([]byte, d.blockSize)

	offset := int64(blockno) * int64(d.blockSize)

	_, err := d.file.ReadAt(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", blockno, err)
	}

	return buf, nil
}

// WriteBlock writes data (which must be exactly BlockSize() bytes) to
// blockno and fsyncs before returning. Every write through Device is
// durable on return; there is no write-back path.
func (d *Device) WriteBlock(blockno uint32, data []byte) error {
	if d.closed {
		return fmt.Errorf("write block %d: %w", blockno, ErrClosed)
	}

	if blockno >= d.numBlocks {
		return fmt.Errorf("write block %d: %w", blockno, ErrBlockRange)
	}

	if uint32(len(data)) != d.blockSize {
		return fmt.Errorf("write block %d: %w: got %d want %d", blockno, ErrShortData, len(data), d.blockSize)
	}

	offset := int64(blockno) * int64(d.blockSize)

	_, err := d.file.WriteAt(data, offset)
	if err != nil {
		return fmt.Errorf("write block %d: %w", blockno, err)
	}

	err = d.file.Sync()
	if err != nil {
		return fmt.Errorf("sync block %d: %w", blockno, err)
	}

	return nil
}

// Close closes the underlying file. Close is idempotent.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}

	d.closed = true

	err := d.file.Close()
	if err != nil {
		return fmt.Errorf("close device: %w", err)
	}

	return nil
}
