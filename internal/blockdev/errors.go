package blockdev

import "errors"

// ErrBlockRange reports a block number outside [0, NumBlocks).
var ErrBlockRange = errors.New("block out of range")

// ErrShortData reports a write whose payload does not match the device's
// block size exactly.
var ErrShortData = errors.New("data does not match block size")

// ErrClosed reports an operation attempted after Close.
var ErrClosed = errors.New("device closed")
