package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coregx/eventing"
	"github.com/coregx/eventing/model"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	Key      string
	Priority int
	Headers  []string
	File     string
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{}

	cmd := &cobra.Command{
		Use:   "publish <topic> [payload]",
		Short: "Publish one event",
		Long: `Publish one event to a topic. The payload is taken from the argument,
from --file, or from stdin when neither is given.

Example:
  eventing-admin publish orders '{"orderId": 42}' --key cust-1 --header region=eu-west`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, opts, args)
			if err != nil {
				return err
			}
			headers, err := parseHeaders(opts.Headers)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), rootOpts, func(a *app) error {
				publisher, err := eventing.NewPublisher(
					eventing.WithPublicationStore(a.store),
					eventing.WithPublisherLogger(a.logger),
				)
				if err != nil {
					return err
				}

				result, err := publisher.Publish(cmd.Context(), eventing.PublishRequest{
					TopicName:     args[0],
					FunctionalKey: opts.Key,
					Priority:      opts.Priority,
					Headers:       headers,
					Payload:       payload,
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), rootOpts, result, func(w io.Writer) {
					fmt.Fprintf(w, "%s\t%d subscriptions\n", result.TopicEventID, len(result.SubscriptionEventIDs))
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "functional key for ordered subscriptions")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "higher is delivered first")
	cmd.Flags().StringArrayVar(&opts.Headers, "header", nil, "header as name=value (repeatable)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the payload from a file")

	return cmd
}

func readPayload(cmd *cobra.Command, opts *PublishOptions, args []string) (string, error) {
	switch {
	case len(args) == 2:
		return args[1], nil
	case opts.File != "":
		b, err := os.ReadFile(opts.File)
		if err != nil {
			return "", fmt.Errorf("failed to read payload: %w", err)
		}
		return string(b), nil
	default:
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		return string(b), nil
	}
}

func parseHeaders(raw []string) (model.Headers, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(model.Headers, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: want name=value", h)
		}
		headers[name] = value
	}
	return headers, nil
}
