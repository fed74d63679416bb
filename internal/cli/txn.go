package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"txlog"

	flag "github.com/spf13/pflag"
)

// TxnCmd runs a single transaction that fills one or more blocks with a
// repeated byte, committing them through the log.
func TxnCmd(cfg txlog.Config, workDir string) *Command {
	flags := flag.NewFlagSet("txn", flag.ContinueOnError)
	fill := flags.Uint8("fill", 0xAA, "byte value to write into each block")
	blocksFlag := flags.String("blocks", "", "comma-separated list of home block numbers to write")

	return &Command{
		Flags: flags,
		Usage: "txn --blocks <n,n,...> [--fill <byte>]",
		Short: "Commit one transaction writing the given blocks",
		Long:  "Opens the log, writes --fill into each listed home block inside a single BeginOp/EndOp transaction, and reports how many distinct blocks the transaction absorbed.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			blocks, err := parseBlockList(*blocksFlag)
			if err != nil {
				return err
			}

			if len(blocks) == 0 {
				return fmt.Errorf("txn: --blocks is required")
			}

			if uint32(len(blocks)) > cfg.MaxOpBlocks {
				return fmt.Errorf("txn: %d blocks exceeds max_op_blocks %d", len(blocks), cfg.MaxOpBlocks)
			}

			l, cache, dev, err := openLog(cfg, workDir)
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			l.BeginOp()

			for _, blockno := range blocks {
				buf, err := cache.Read(blockno)
				if err != nil {
					l.EndOp()

					return fmt.Errorf("read block %d: %w", blockno, err)
				}

				for i := range buf.Data {
					buf.Data[i] = *fill
				}

				l.LogWrite(buf)
			}

			stat := l.Stat()
			o.Printf("transaction absorbed %d distinct block(s)\n", stat.HeaderEntries)

			l.EndOp()

			o.Printf("committed blocks: %v (fill=0x%02x)\n", blocks, *fill)

			return nil
		},
	}
}

func parseBlockList(s string) ([]uint32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	blocks := make([]uint32, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)

		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid block number %q: %w", p, err)
		}

		blocks = append(blocks, uint32(n))
	}

	return blocks, nil
}
