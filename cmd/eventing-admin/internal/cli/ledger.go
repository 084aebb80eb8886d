package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var failed bool
	var limit int
	var subscription string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show row counts, optionally with the newest failed events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				stats, err := a.ledger.Stats(cmd.Context())
				if err != nil {
					return err
				}

				out := struct {
					Pending  int64       `json:"pending"`
					Consumed int64       `json:"consumed"`
					Failed   int64       `json:"failed"`
					Payloads int64       `json:"payloads"`
					Recent   interface{} `json:"recentFailures,omitempty"`
				}{Pending: stats.Pending, Consumed: stats.Consumed, Failed: stats.Failed, Payloads: stats.Payloads}

				if !failed {
					return render(cmd.OutOrStdout(), rootOpts, out, func(w io.Writer) {
						fmt.Fprintf(w, "pending=%d consumed=%d failed=%d payloads=%d\n",
							stats.Pending, stats.Consumed, stats.Failed, stats.Payloads)
					})
				}

				subscriptionID := ""
				if subscription != "" {
					sub, err := a.store.GetSubscriptionByName(cmd.Context(), nil, subscription)
					if err != nil {
						return err
					}
					subscriptionID = sub.ID
				}
				recent, err := a.ledger.ListFailed(cmd.Context(), subscriptionID, limit)
				if err != nil {
					return err
				}
				out.Recent = recent

				return render(cmd.OutOrStdout(), rootOpts, out, func(w io.Writer) {
					fmt.Fprintf(w, "pending=%d consumed=%d failed=%d payloads=%d\n",
						stats.Pending, stats.Consumed, stats.Failed, stats.Payloads)
					for _, f := range recent {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
							f.FailedDateUtc.Format(time.RFC3339), f.ID, f.Reason, f.ReasonOther.String)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "list the newest failed events")
	cmd.Flags().IntVar(&limit, "limit", 20, "how many failed events to list")
	cmd.Flags().StringVar(&subscription, "subscription", "", "only list failures of this subscription")
	return cmd
}

// PurgeResult counts what purge deleted.
type PurgeResult struct {
	Consumed    int64 `json:"consumed"`
	Failed      int64 `json:"failed"`
	TopicEvents int64 `json:"topicEvents"`
	Payloads    int64 `json:"payloads"`
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete ledger rows, topic events and payloads past retention",
		Long: `Delete consumed and failed ledger rows and topic events older than
--older-than (default: janitor.retention), then every payload nothing refers
to any more. Pending events are never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				retention := olderThan
				if retention == 0 {
					retention = a.cfg.Janitor.Retention
				}
				if retention <= 0 {
					return fmt.Errorf("retention must be > 0")
				}

				ctx := cmd.Context()
				cutoff := time.Now().UTC().Add(-retention)
				var res PurgeResult
				var err error

				if res.Consumed, err = a.ledger.PurgeConsumedBefore(ctx, cutoff); err != nil {
					return err
				}
				if res.Failed, err = a.ledger.PurgeFailedBefore(ctx, cutoff); err != nil {
					return err
				}
				if res.TopicEvents, err = a.ledger.PurgeTopicEventsBefore(ctx, cutoff); err != nil {
					return err
				}
				for {
					n, err := a.ledger.DeleteOrphanedPayloads(ctx, a.cfg.Janitor.Batch)
					if err != nil {
						return err
					}
					res.Payloads += n
					if n < int64(a.cfg.Janitor.Batch) {
						break
					}
				}

				a.logger.Infof("Purged rows older than %s", cutoff.Format(time.RFC3339))
				return render(cmd.OutOrStdout(), rootOpts, res, func(w io.Writer) {
					fmt.Fprintf(w, "consumed=%d failed=%d topic_events=%d payloads=%d\n",
						res.Consumed, res.Failed, res.TopicEvents, res.Payloads)
				})
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention, e.g. 72h")
	return cmd
}
