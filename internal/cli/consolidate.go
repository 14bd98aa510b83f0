package cli

import (
	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one maintenance cycle",
	Long: `Run one consolidation cycle: settle affect, summarize recent memory, verify
identity, extract and promote behavioral hypotheses, and journal a reflection.
The cycle report is printed when it finishes.`,
	RunE: runConsolidate,
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
	consolidateCmd.Flags().String("format", "yaml", "report format (yaml or json)")
}

func runConsolidate(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")

	r, err := loadRunner()
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Connect(); err != nil {
		return err
	}
	rep := r.Consolidation().Run(cmd.Context())
	return render(cmd.OutOrStdout(), format, rep)
}
