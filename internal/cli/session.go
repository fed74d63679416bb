package cli

import (
	"fmt"
	"path/filepath"

	"txlog"
	"txlog/internal/bcache"
	"txlog/internal/blockdev"
)

// openLog opens (creating if necessary) the device cfg describes, wraps it
// in a cache, and brings a Log up — replaying any committed-but-not
// installed transaction left over from a previous run in the process.
//
// Callers own the returned device and must Close it when done.
func openLog(cfg txlog.Config, workDir string) (*txlog.Log, *bcache.Cache, *blockdev.Device, error) {
	path := cfg.DevicePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	dev, err := blockdev.Open(path, cfg.BlockSize, cfg.NumBlocks)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open device: %w", err)
	}

	cache := bcache.New(dev, cfg.CacheBlocks)

	l, err := txlog.Init(cache, cfg.LogStart, cfg.LogSize+1, cfg.LogSize, cfg.MaxOpBlocks)
	if err != nil {
		_ = dev.Close()

		return nil, nil, nil, fmt.Errorf("init log: %w", err)
	}

	return l, cache, dev, nil
}
