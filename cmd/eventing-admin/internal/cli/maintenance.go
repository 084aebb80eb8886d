package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var withRetention bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail expired and exhausted events once",
		Long: `Run one janitor pass: pending events past their expiration or at their
subscription's delivery ceiling are moved to the failed ledger. With
--retention the pass also purges old ledger rows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				janitor, err := a.janitor(withRetention)
				if err != nil {
					return err
				}
				result, err := janitor.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), rootOpts, result, func(w io.Writer) {
					fmt.Fprintf(w, "expired=%d exhausted=%d superseded=%d consumed_purged=%d failed_purged=%d topic_events_purged=%d payloads_deleted=%d\n",
						result.Expired, result.Exhausted, result.Superseded, result.ConsumedPurged, result.FailedPurged,
						result.TopicEventsPurged, result.PayloadsDeleted)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&withRetention, "retention", false, "also purge rows older than janitor.retention")
	return cmd
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the janitor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, rootOpts, func(a *app) error {
				janitor, err := a.janitor(true)
				if err != nil {
					return err
				}
				every := interval
				if every == 0 {
					every = a.cfg.Janitor.Interval
				}
				a.logger.Infof("Sweeping every %v (retention %v)", every, a.cfg.Janitor.Retention)
				janitor.Run(ctx, every)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep interval (default: janitor.interval)")
	return cmd
}
