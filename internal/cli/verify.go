package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// errDrift makes verify exit non-zero.
var errDrift = errors.New("identity drift detected")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the identity for drift",
	Long: `Compare the base personality with its reference, validate the surface
expression and check aesthetic bounds. A diverged base is restored from the
reference. Exits with status 1 when any check fails.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	r, err := loadRunner()
	if err != nil {
		return err
	}
	defer r.Close()
	return verify(cmd.OutOrStdout(), r)
}

// #region verify
func verify(out io.Writer, r *Runner) error {
	r.lock.Lock()
	report := r.Identity.CheckDrift()
	r.lock.Unlock()

	for _, c := range report.Checks {
		status := "PASS"
		if !c.Pass {
			status = "FAIL"
		}
		if c.Detail != "" {
			fmt.Fprintf(out, "%s  %-20s %s\n", status, c.Name, c.Detail)
		} else {
			fmt.Fprintf(out, "%s  %s\n", status, c.Name)
		}
	}
	if report.Drifted() {
		return errDrift
	}
	fmt.Fprintln(out, "identity intact")
	return nil
}

// #endregion verify
