// preclear overwrites a disk, or an image file standing in for one, with a
// key-derived pseudo-random pattern or zeros and reads it back to verify
// every byte. Without -w or -z it only measures read throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"preclear/pass"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitMismatch    = 2
	exitInterrupted = 130
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "preclear [flags] PATH",
		Short: "Write and verify a disk with a reproducible pattern",
		Long: "Fill a block device or image with an AES-XTS pattern derived from a key (-w) or with\n" +
			"zeros (-z), then read it back and check every byte. Without -w or -z the device is\n" +
			"only read. Interrupted runs can be resumed with --start and the same key.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), args[0])
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return &ConfigError{Err: err}
			}
			defer func() { _ = log.Sync() }()
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), log)
		},
	}
	addRunFlags(root.Flags())

	var all bool
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List whole-disk devices with size and sector size (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := discoverDevices("/dev")
			if err != nil {
				return err
			}
			vols, err := listMounts()
			if err != nil {
				return fmt.Errorf("list mounts: %w", err)
			}
			probeDevices(infos, vols)
			printDevices(cmd.OutOrStdout(), infos, all)
			return nil
		},
	}
	devicesCmd.Flags().BoolVar(&all, "all", false, "include partitions and inaccessible devices")
	root.AddCommand(devicesCmd)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(os.Stderr, err))
}

// exitCode reports err on w and maps it to the process status.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return exitOK
	}
	c := paletteFor(w)
	var mm *pass.MismatchError
	var ie *pass.InterruptedError
	switch {
	case errors.As(err, &mm):
		fmt.Fprintf(w, "\n%s\n", c.bad(fmt.Sprintf("Validation failed at byte offset %d!", mm.Offset)))
		return exitMismatch
	case errors.As(err, &ie):
		fmt.Fprintf(w, "\n%s\nRe-run with --start %s and the same key to resume.\n", c.bad(err.Error()), c.given(fmt.Sprint(ie.ResumeOffset)))
		return exitInterrupted
	default:
		fmt.Fprintf(w, "%s %v\n", c.bad("error:"), err)
		return exitFailure
	}
}
