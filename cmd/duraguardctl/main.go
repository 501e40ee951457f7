// Command duraguardctl is a small demonstration harness for dag.Guard: it
// opens a target file and a staging side-file, appends whatever is piped to
// stdin (or a literal string from --data) as a single Write, and reports the
// guard's durable/staged watermarks. Passing --simulate-crash skips Deinit,
// leaving the background flusher to be abandoned exactly as an unexpected
// process exit would.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"duraguard/dag"
)

func newRootCmd() *cobra.Command {
	var (
		targetPath    string
		stagingDir    string
		stagingName   string
		stagingMB     int
		reset         bool
		data          string
		simulateCrash bool
		debug         bool
	)

	cmd := &cobra.Command{
		Use:   "duraguardctl",
		Short: "exercise a dag.Guard against a real target and staging file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if targetPath == "" {
				return fmt.Errorf("--target is required")
			}
			if stagingDir == "" {
				return fmt.Errorf("--staging-dir is required")
			}

			payload := []byte(data)
			if data == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				payload = b
			}

			fd, err := os.OpenFile(targetPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening target file: %w", err)
			}
			defer fd.Close()

			g, err := dag.Init(fd, stagingDir, stagingName, uint64(stagingMB)*dag.BLOCK, reset)
			if err != nil {
				return fmt.Errorf("dag.Init: %w", err)
			}

			if len(payload) > 0 {
				if err := g.Write(payload); err != nil {
					return fmt.Errorf("dag.Write: %w", err)
				}
			}

			fmt.Printf("durable_length=%d staged_length=%d ring_start=%d\n", g.DurableLength(), g.StagedLength(), g.RingStart())

			if simulateCrash {
				fmt.Println("simulating crash: exiting without Deinit")
				return nil
			}
			return g.Deinit()
		},
	}

	f := cmd.Flags()
	f.StringVar(&targetPath, "target", "", "path to the append-only target file")
	f.StringVar(&stagingDir, "staging-dir", "", "directory holding the staging side-file")
	f.StringVar(&stagingName, "staging-name", "staging.ag", "staging side-file name within staging-dir")
	f.IntVar(&stagingMB, "staging-mib", 2, "staging capacity in MiB (must be a whole number of BLOCKs)")
	f.BoolVar(&reset, "reset", false, "discard any recoverable staging state and start fresh")
	f.StringVar(&data, "data", "", "literal bytes to append instead of reading stdin")
	f.BoolVar(&simulateCrash, "simulate-crash", false, "skip Deinit, leaving the flusher abandoned")
	f.BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("duraguardctl failed")
	}
}
