package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/palmkit/throttle/internal/ratelimit"
)

var cleanupMaxAge time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale records once",
	Long: `Remove every record not written for longer than --max-age
(default: CLEANUP_MAX_AGE) and print how many were removed.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "age after which records are removed")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	rt, err := openSession(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	maxAge := rt.cfg.Cleanup.MaxAge
	if cleanupMaxAge > 0 {
		maxAge = cleanupMaxAge
	}

	janitor := ratelimit.NewJanitor(rt.windows, 0, maxAge, ratelimit.WithLogger(rt.log))
	n, err := janitor.SweepOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("removed %d records before failing: %w", n, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d records older than %s\n", n, maxAge)
	return nil
}
