package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/palmkit/throttle/internal/ratelimit"
)

var (
	quotaLimit  int
	quotaPeriod string
)

var quotaCmd = &cobra.Command{
	Use:   "quota KEY",
	Short: "Count one use of a key against a quota",
	Long: `Count one use of KEY against --limit uses per --period and print the
decision as JSON. Periods: hourly, daily, weekly, monthly.

Examples:
  throttled quota tenant-7 --limit 10000 --period monthly`,
	Args: cobra.ExactArgs(1),
	RunE: runQuota,
}

// quotaOutput is the JSON printed by the quota command.
type quotaOutput struct {
	Key       string `json:"key"`
	Period    string `json:"period"`
	Allowed   bool   `json:"allowed"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

func init() {
	quotaCmd.Flags().IntVar(&quotaLimit, "limit", 0, "uses allowed per period")
	quotaCmd.Flags().StringVar(&quotaPeriod, "period", string(ratelimit.Daily), "quota period")
	_ = quotaCmd.MarkFlagRequired("limit")
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	period, err := ratelimit.ParsePeriod(quotaPeriod)
	if err != nil {
		return err
	}

	rt, err := openSession(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	tracker := ratelimit.NewQuotaTracker(rt.windows, ratelimit.WithLogger(rt.log))
	result, err := tracker.CheckQuota(cmd.Context(), args[0], quotaLimit, period)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), quotaOutput{
		Key:       args[0],
		Period:    string(period),
		Allowed:   result.Allowed,
		Limit:     result.Limit,
		Used:      result.Used,
		Remaining: result.Remaining,
		ResetAt:   result.ResetAt.UTC().Format(time.RFC3339),
	})
}
