package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/palmkit/throttle/internal/ratelimit"
)

var (
	resetType   string
	resetPeriod string
)

var resetCmd = &cobra.Command{
	Use:   "reset KEY",
	Short: "Clear the state of a key",
	Long: `Clear the sliding window record of KEY under --type, or its quota
counter when --period is given.

Examples:
  throttled reset user:42 --type login
  throttled reset tenant-7 --period monthly`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetType, "type", ratelimit.DefaultType, "limiter type")
	resetCmd.Flags().StringVar(&resetPeriod, "period", "", "reset the quota for this period instead")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	rt, err := openSession(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	key := args[0]
	if resetPeriod != "" {
		period, err := ratelimit.ParsePeriod(resetPeriod)
		if err != nil {
			return err
		}
		tracker := ratelimit.NewQuotaTracker(rt.windows, ratelimit.WithLogger(rt.log))
		if err := tracker.ResetQuota(cmd.Context(), key, period); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %s quota for %s\n", period, key)
		return nil
	}

	limiter, err := rt.limiter()
	if err != nil {
		return err
	}
	if err := limiter.Reset(cmd.Context(), key, resetType); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset %s limit for %s\n", resetType, key)
	return nil
}
