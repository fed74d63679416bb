package cli

import (
	"context"

	"txlog"

	flag "github.com/spf13/pflag"
)

// InitCmd creates (or opens and recovers) the device described by cfg.
func InitCmd(cfg txlog.Config, workDir string) *Command {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "init",
		Short: "Create or recover the log device",
		Long:  "Creates the backing device file if missing and brings the log up, replaying any committed transaction left over from a previous crash.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			l, _, dev, err := openLog(cfg, workDir)
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			stat := l.Stat()
			o.Printf("device ready: %s\n", cfg.DevicePath)
			o.Printf("log region: start=%d size=%d max_op_blocks=%d\n", cfg.LogStart, cfg.LogSize, cfg.MaxOpBlocks)
			o.Printf("header entries after recovery: %d\n", stat.HeaderEntries)

			return nil
		},
	}
}
