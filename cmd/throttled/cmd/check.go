package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/palmkit/throttle/internal/ratelimit"
)

var checkType string

var checkCmd = &cobra.Command{
	Use:   "check KEY",
	Short: "Record one request for a key and print the decision",
	Long: `Record one request for KEY under the rule of --type and print the
decision as JSON. Penalties live in process memory, so repeated CLI calls
do not escalate them.

Examples:
  throttled check user:42 --type login`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

// checkOutput is the JSON printed by the check command.
type checkOutput struct {
	Key        string `json:"key"`
	Type       string `json:"type"`
	Allowed    bool   `json:"allowed"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetAt    string `json:"reset_at"`
	RetryAfter int    `json:"retry_after"`
}

func init() {
	checkCmd.Flags().StringVar(&checkType, "type", ratelimit.DefaultType, "limiter type")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	rt, err := openSession(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	limiter, err := rt.limiter()
	if err != nil {
		return err
	}

	result := limiter.Check(cmd.Context(), args[0], checkType)
	return printJSON(cmd.OutOrStdout(), checkOutput{
		Key:        args[0],
		Type:       checkType,
		Allowed:    result.Allowed,
		Limit:      result.Limit,
		Remaining:  result.Remaining,
		ResetAt:    result.ResetAt.UTC().Format(time.RFC3339),
		RetryAfter: result.RetryAfterSeconds(),
	})
}
