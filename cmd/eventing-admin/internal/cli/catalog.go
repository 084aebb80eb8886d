package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

// NewTopicCommand creates the topic command group.
func NewTopicCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Manage topics",
	}

	var notes string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create or update a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				topic, err := a.store.GetTopicByName(cmd.Context(), nil, args[0])
				if eventing.IsNoData(err) {
					topic, err = model.NewTopic(args[0], ""), nil
				}
				if err != nil {
					return err
				}
				topic.Notes = notes
				if err := a.store.AddOrUpdateTopic(cmd.Context(), nil, &topic); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), rootOpts, topic, func(w io.Writer) {
					fmt.Fprintf(w, "%s\t%s\n", topic.ID, topic.Name)
				})
			})
		},
	}
	create.Flags().StringVar(&notes, "notes", "", "free-form description")

	list := &cobra.Command{
		Use:   "list [name-part]",
		Short: "List topics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			part := ""
			if len(args) == 1 {
				part = args[0]
			}
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				topics, err := a.store.GetTopics(cmd.Context(), nil, part)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), rootOpts, topics, func(w io.Writer) {
					for _, t := range topics {
						fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, t.Notes)
					}
				})
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

// SubscriptionOptions holds flags for subscription create.
type SubscriptionOptions struct {
	Topics        []string
	Ordered       bool
	MaxDeliveries int
	DeliveryDelay int
	TimeToLive    int
}

// NewSubscriptionCommand creates the subscription command group.
func NewSubscriptionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Manage subscriptions",
	}

	opts := &SubscriptionOptions{}
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create or update a subscription and its topic links",
		Long: `Create a subscription, or update it when the name exists. Its topic
links are replaced by the --topic flags.

Example:
  eventing-admin subscription create billing --topic orders --ordered --max-deliveries 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				return createSubscription(cmd, a, rootOpts, opts, args[0])
			})
		},
	}
	create.Flags().StringSliceVar(&opts.Topics, "topic", nil, "topic name to link (repeatable)")
	create.Flags().BoolVar(&opts.Ordered, "ordered", false, "deliver one event per functional key at a time")
	create.Flags().IntVar(&opts.MaxDeliveries, "max-deliveries", 0, "lease attempts before failing (0 = unlimited)")
	create.Flags().IntVar(&opts.DeliveryDelay, "delay", 0, "delivery delay in seconds")
	create.Flags().IntVar(&opts.TimeToLive, "ttl", 0, "time to live in seconds (0 = forever)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				subs, err := a.store.GetSubscriptions(cmd.Context(), nil, "")
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), rootOpts, subs, func(w io.Writer) {
					for _, s := range subs {
						fmt.Fprintf(w, "%s\t%s\tordered=%t\tmax_deliveries=%d\n", s.ID, s.Name, s.Ordered, s.MaxDeliveries)
					}
				})
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a subscription and its topic links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				sub, err := a.store.GetSubscriptionByName(cmd.Context(), nil, args[0])
				if err != nil {
					return err
				}
				return a.store.DeleteSubscription(cmd.Context(), nil, sub.ID)
			})
		},
	}

	cmd.AddCommand(create, list, deleteCmd)
	return cmd
}

func createSubscription(cmd *cobra.Command, a *app, rootOpts *RootOptions, opts *SubscriptionOptions, name string) error {
	ctx := cmd.Context()

	sub, err := a.store.GetSubscriptionByName(ctx, nil, name)
	if eventing.IsNoData(err) {
		sub, err = model.NewSubscription(name), nil
	}
	if err != nil {
		return err
	}
	sub.Ordered = opts.Ordered
	sub.MaxDeliveries = opts.MaxDeliveries
	sub.DeliveryDelay = opts.DeliveryDelay
	sub.TimeToLive = opts.TimeToLive

	sub.TopicSubscriptions = nil
	for _, topicName := range opts.Topics {
		topic, err := a.store.GetTopicByName(ctx, nil, topicName)
		if err != nil {
			return fmt.Errorf("topic %q: %w", topicName, err)
		}
		sub.Link(topic.ID)
	}

	if err := a.store.AddOrUpdateSubscription(ctx, nil, &sub); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), rootOpts, sub, func(w io.Writer) {
		fmt.Fprintf(w, "%s\t%s\t%d topics\n", sub.ID, sub.Name, len(sub.TopicSubscriptions))
	})
}
