// Package cmdcli implements the csk command-line front end: cobra
// commands that parse flags, call into internal/kernel, and render the
// resulting envelope.
package cmdcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	flagJSON    bool
	flagText    bool
	flagRoot    string
	flagNoColor bool
)

var rootCmd = &cobra.Command{
	Use:           "csk",
	Short:         "Local workflow kernel that drives a task through scope, verify, review, and e2e gates",
	Long: `csk is a local, non-networked command-line kernel that drives a single
software-delivery workflow from draft through verified, reviewed, ready,
and closed, enforcing every gate transition through an event-sourced log
rather than trusting agent self-reports.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "render output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagText, "text", false, "render output as human-readable text")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "explicit state root (defaults to CSK_STATE_ROOT, else the nearest ancestor holding .git or .csk, else the working directory)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable color output")

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(sliceCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(retroCmd)
	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
}

// Execute runs the root command and exits with the code the resulting
// error (if any) carries.
func Execute() {
	_, err := rootCmd.ExecuteC()
	if err == nil {
		return
	}

	var silent *clierr.SilentError
	if errors.As(err, &silent) {
		os.Exit(silent.Code)
	}

	e := envelope.FromError(err)
	mode := envelope.Detect(flagJSON, flagText)
	if writeErr := envelope.Write(os.Stdout, e, mode); writeErr != nil {
		fmt.Fprintln(os.Stderr, writeErr)
	}

	var cliErr *clierr.Error
	if errors.As(err, &cliErr) {
		os.Exit(cliErr.ExitCode())
	}
	os.Exit(20)
}

// render writes e to stdout in the effective output mode and, for error
// envelopes, turns it into the SilentError the exit code map expects —
// the envelope has already been printed, so Execute must not print the
// raw error again. defaultCode is used when the first error line carries
// no recognizable clierr.Code prefix (replay and validate report raw
// violation kinds rather than taxonomy codes).
func render(e envelope.Envelope, defaultCode int) error {
	mode := envelope.Detect(flagJSON, flagText)
	if err := envelope.Write(os.Stdout, e, mode); err != nil {
		return err
	}
	if e.Status == "error" {
		code := defaultCode
		if len(e.Errors) > 0 {
			if c, ok := exitCodeForErrorLine(e.Errors[0]); ok {
				code = c
			}
		}
		return &clierr.SilentError{Code: code}
	}
	return nil
}

// exitCodeForErrorLine recovers the clierr.Code prefix envelope.FromError
// writes ("<code>: <message>") and resolves it to an exit code.
func exitCodeForErrorLine(line string) (int, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return 0, false
	}
	prefix := clierr.Code(line[:idx])
	code := clierr.ExitCodeForCode(prefix)
	if code == 1 && prefix != clierr.InternalError && prefix != clierr.NotFound && prefix != clierr.InvalidInput {
		return 0, false
	}
	return code, true
}

// withKernel opens a kernel against the resolved state root, runs fn, and
// closes it, propagating whichever error came first.
func withKernel(defaultCode int, fn func(ctx context.Context, k *kernel.Kernel) envelope.Envelope) error {
	k, err := kernel.Open(flagRoot)
	if err != nil {
		return render(envelope.FromError(err), defaultCode)
	}
	defer k.Close()
	return render(fn(context.Background(), k), defaultCode)
}
