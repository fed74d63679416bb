package bcache

import "errors"

// ErrCacheFull reports that every cache slot holds a pinned buffer and
// none can be evicted to make room for a new read.
var ErrCacheFull = errors.New("block cache full: all entries pinned")
