package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/companion-kernel/internal/identity"
)

var inspectTargets = []string{"affect", "identity", "reference", "history", "hypotheses", "review", "beliefs", "journal", "audit"}

var inspectCmd = &cobra.Command{
	Use:   "inspect <target>",
	Short: "Print stored state",
	Long: `Print one of the persisted records:

  affect      the affective state
  identity    the identity record
  reference   the immutable base personality
  history     identity evolution entries, newest first
  hypotheses  the hypothesis ledger, newest first
  review      the pending-review queue, oldest first
  beliefs     promoted long-term beliefs
  journal     consolidation reflections
  audit       row counts of the audit tables`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: inspectTargets,
	RunE:      runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("format", "yaml", "output format (yaml or json)")
	inspectCmd.Flags().Int("last", 20, "number of entries for list targets")
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	last, _ := cmd.Flags().GetInt("last")

	r, err := loadRunner()
	if err != nil {
		return err
	}
	defer r.Close()
	return inspect(cmd.OutOrStdout(), r, args[0], format, last)
}

// #region inspect
func inspect(out io.Writer, r *Runner, target, format string, last int) error {
	var (
		v   any
		err error
	)
	switch target {
	case "affect":
		v = r.Affect.Snapshot()
	case "identity":
		v = r.Identity.Snapshot()
	case "reference":
		v = identity.Reference()
	case "history":
		v, err = r.Identity.History().List(last)
	case "hypotheses":
		v, err = r.Ledger.All(last)
	case "review":
		v, err = r.Ledger.ReviewQueue(r.cfg.Consolidation.PendingCap)
	case "beliefs":
		v, err = r.Beliefs.List()
	case "journal":
		v, err = r.Journal.List(last)
	case "audit":
		turns, frictions, cycles, cerr := r.Audit.Counts()
		v, err = map[string]int{"turns": turns, "frictions": frictions, "cycles": cycles}, cerr
	default:
		return fmt.Errorf("unknown target %q", target)
	}
	if err != nil {
		return fmt.Errorf("inspect %s: %w", target, err)
	}
	return render(out, format, v)
}

// #endregion inspect
