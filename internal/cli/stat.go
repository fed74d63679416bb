package cli

import (
	"context"

	"txlog"

	flag "github.com/spf13/pflag"
)

// StatCmd reports the current admission state of the log.
func StatCmd(cfg txlog.Config, workDir string) *Command {
	flags := flag.NewFlagSet("stat", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "stat",
		Short: "Show log admission state",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			l, _, dev, err := openLog(cfg, workDir)
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			s := l.Stat()
			o.Printf("outstanding:    %d\n", s.Outstanding)
			o.Printf("committing:     %t\n", s.Committing)
			o.Printf("header entries: %d/%d\n", s.HeaderEntries, s.Capacity)

			return nil
		},
	}
}

// PrintConfigCmd prints the resolved configuration as JSON.
func PrintConfigCmd(cfg txlog.Config) *Command {
	flags := flag.NewFlagSet("print-config", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "print-config",
		Short: "Print the resolved configuration",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			out, err := txlog.FormatConfig(cfg)
			if err != nil {
				return err
			}

			o.Println(out)

			return nil
		},
	}
}
