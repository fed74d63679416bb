package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"txlog"
	"txlog/internal/bcache"
	"txlog/internal/blockdev"
	"txlog/internal/crashsim"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
)

// crashReport is the sidecar written next to the device after each
// crash-demo run, so the demo's outcome survives the process exiting
// (deliberately, since a crash is what's being simulated) without relying
// on stdout having been captured.
type crashReport struct {
	Block              uint32 `json:"block"`
	Fill               uint8  `json:"fill"`
	At                 string `json:"at"`
	Crashed            bool   `json:"crashed"`
	InstalledAfterOpen bool   `json:"installed_after_recovery"`
	HeaderEntries      uint32 `json:"header_entries_after_recovery"`
}

// writeCrashReport atomically replaces crash-report.json in workDir. A
// partial write here would be exactly the kind of bug this whole package
// exists to prevent, so the report itself is written via the same
// rename-based primitive the rest of the corpus uses for durable files.
func writeCrashReport(workDir string, r crashReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal crash report: %w", err)
	}

	path := filepath.Join(workDir, "crash-report.json")

	if err := atomic.WriteFile(path, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("write crash report: %w", err)
	}

	return nil
}

// crashPoints maps the human-readable --at values to how many writes past
// the recorder's baseline (its write count right after Init's own
// recovery pass) a single-block transaction should be allowed before the
// recorder starts dropping writes.
//
// A single-block commit issues exactly four writes in order: writeLog,
// writeHead (the commit point), installTrans, and the header-clearing
// writeHead. Tripping after k of them drops everything from the (k+1)th
// write onward.
var crashPoints = map[string]int{
	"pre-commit":   1, // writeLog lands, the commit-point write is lost
	"post-commit":  2, // transaction is committed, install is lost
	"post-install": 3, // data is installed, the header is never cleared
}

// CrashDemoCmd runs a one-block transaction against a device wrapped in a
// crash-injection recorder, drops every write from the chosen point
// onward, then reopens the (now "crashed") device to show what Init's
// recovery pass does with whatever was durably on disk.
func CrashDemoCmd(cfg txlog.Config, workDir string) *Command {
	flags := flag.NewFlagSet("crash-demo", flag.ContinueOnError)
	block := flags.Uint32("block", cfg.LogStart+cfg.LogSize+1, "home block number to write")
	fill := flags.Uint8("fill", 0x7E, "byte value to write into the block")
	at := flags.String("at", "post-commit", "injection point: pre-commit, post-commit, or post-install")

	return &Command{
		Flags: flags,
		Usage: "crash-demo [--block <n>] [--fill <byte>] [--at <point>]",
		Short: "Demonstrate recovery after a crash at a chosen commit phase",
		Long: "Writes one block inside a transaction over a crash-injecting device, " +
			"drops every write from --at onward to simulate a power loss, then reopens " +
			"the device fresh and reports what recovery found.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			offset, ok := crashPoints[*at]
			if !ok {
				return fmt.Errorf("crash-demo: unknown --at value %q (want pre-commit, post-commit, or post-install)", *at)
			}

			path := cfg.DevicePath
			if !filepath.IsAbs(path) {
				path = filepath.Join(workDir, path)
			}

			dev, err := blockdev.Open(path, cfg.BlockSize, cfg.NumBlocks)
			if err != nil {
				return fmt.Errorf("open device: %w", err)
			}

			rec := crashsim.New(dev)
			cache := bcache.New(rec, cfg.CacheBlocks)

			l, err := txlog.Init(cache, cfg.LogStart, cfg.LogSize+1, cfg.LogSize, cfg.MaxOpBlocks)
			if err != nil {
				_ = dev.Close()

				return fmt.Errorf("init log: %w", err)
			}

			rec.ArmTripAfter(rec.Writes() + offset)

			crashed := runTransactionExpectingCrash(l, cache, *block, *fill)
			if crashed {
				o.Printf("simulated crash %s: transaction interrupted\n", *at)
			} else {
				o.Printf("transaction completed before the injected crash point was reached\n")
			}

			_ = dev.Close()

			o.Println("--- reopening device after crash ---")

			dev2, err := blockdev.Open(path, cfg.BlockSize, cfg.NumBlocks)
			if err != nil {
				return fmt.Errorf("reopen device: %w", err)
			}
			defer func() { _ = dev2.Close() }()

			cache2 := bcache.New(dev2, cfg.CacheBlocks)

			l2, err := txlog.Init(cache2, cfg.LogStart, cfg.LogSize+1, cfg.LogSize, cfg.MaxOpBlocks)
			if err != nil {
				return fmt.Errorf("init log after crash: %w", err)
			}

			onDisk, err := dev2.ReadBlock(*block)
			if err != nil {
				return fmt.Errorf("read block %d: %w", *block, err)
			}

			installed := len(onDisk) > 0 && onDisk[0] == *fill
			o.Printf("block %d installed after recovery: %t\n", *block, installed)
			o.Printf("header entries after recovery: %d\n", l2.Stat().HeaderEntries)

			if err := writeCrashReport(workDir, crashReport{
				Block:              *block,
				Fill:               *fill,
				At:                 *at,
				Crashed:            crashed,
				InstalledAfterOpen: installed,
				HeaderEntries:      l2.Stat().HeaderEntries,
			}); err != nil {
				return err
			}

			return nil
		},
	}
}

// runTransactionExpectingCrash runs one transaction that may panic midway
// due to an injected crash, reporting whether it did.
func runTransactionExpectingCrash(l *txlog.Log, cache *bcache.Cache, block uint32, fill byte) (crashed bool) {
	defer func() {
		if recover() != nil {
			crashed = true
		}
	}()

	l.BeginOp()

	buf, err := cache.Read(block)
	if err != nil {
		panic(err)
	}

	for i := range buf.Data {
		buf.Data[i] = fill
	}

	l.LogWrite(buf)
	l.EndOp()

	return false
}
