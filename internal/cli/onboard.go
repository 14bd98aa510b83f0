package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/companion-kernel/internal/identity"
	"github.com/danielpatrickdp/companion-kernel/internal/persist"
)

const (
	// onboardedFlag marks an agent that has completed onboarding.
	onboardedFlag = "onboarded"
	// onboardingFlag is set while the elastic window opened by onboarding
	// is still running.
	onboardingFlag = "onboarding"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Set the initial surface expression",
	Long: `Apply the principal's initial choices for appearance, interests, style and
preferences, and open the elastic window during which affect adapts faster.

Use --finish to close the elastic window before it expires.

Example:
  companion onboard --interest astronomy --interest jazz --appearance hair_color=#aa33ff`,
	RunE: runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
	onboardCmd.Flags().StringSlice("interest", nil, "interest (repeatable)")
	onboardCmd.Flags().StringToString("appearance", nil, "appearance key=value pairs")
	onboardCmd.Flags().StringToString("style", nil, "style key=value pairs")
	onboardCmd.Flags().StringToString("preference", nil, "preference key=value pairs")
	onboardCmd.Flags().Bool("finish", false, "close the elastic window now")
}

func runOnboard(cmd *cobra.Command, _ []string) error {
	if finish, _ := cmd.Flags().GetBool("finish"); finish {
		r, err := loadRunner()
		if err != nil {
			return err
		}
		defer r.Close()
		return finishOnboarding(cmd.OutOrStdout(), r)
	}

	var patch identity.SurfacePatch
	patch.Interests, _ = cmd.Flags().GetStringSlice("interest")
	patch.Appearance, _ = cmd.Flags().GetStringToString("appearance")
	patch.Style, _ = cmd.Flags().GetStringToString("style")
	patch.Preferences, _ = cmd.Flags().GetStringToString("preference")
	if len(patch.Appearance) == 0 {
		patch.Appearance = nil
	}
	if len(patch.Style) == 0 {
		patch.Style = nil
	}
	if len(patch.Preferences) == 0 {
		patch.Preferences = nil
	}

	r, err := loadRunner()
	if err != nil {
		return err
	}
	defer r.Close()
	return onboard(cmd.OutOrStdout(), r, patch, time.Now())
}

// #region onboard
func onboard(out io.Writer, r *Runner, patch identity.SurfacePatch, now time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	until := now.Add(r.cfg.Affect.ElasticWindow)
	if _, res := r.Affect.StartElastic(until); res.Outcome == persist.Failed {
		return fmt.Errorf("start elastic window: %w", res.Err)
	}
	fmt.Fprintf(out, "elastic window open until %s\n", until.UTC().Format(time.RFC3339))

	if !patch.Empty() {
		res := r.Identity.Onboard(patch)
		for _, f := range res.Applied {
			fmt.Fprintf(out, "applied   %s\n", f)
		}
		fields := make([]string, 0, len(res.Rejected))
		for f := range res.Rejected {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(out, "rejected  %s: %s\n", f, res.Rejected[f])
		}
		fmt.Fprintf(out, "identity version %d\n", res.Version)
	}

	r.Affect.SetFlag(onboardingFlag)
	r.Affect.SetFlag(onboardedFlag)
	return nil
}

// finishOnboarding closes the elastic window early.
func finishOnboarding(out io.Writer, r *Runner) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.closeOnboardingLocked(); err != nil {
		return err
	}
	fmt.Fprintln(out, "elastic window closed")
	return nil
}

// #endregion onboard
