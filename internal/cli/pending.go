package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	DiscardCorrupt bool
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List messages and tracking records waiting in the retry store",
		Long: `List the items the node could not hand to the broker. They are replayed
automatically after the next load of a running node.

Example:
  edgenode pending --config ./edgenode.yaml
  edgenode pending --config ./edgenode.yaml --discard-corrupt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPending(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DiscardCorrupt, "discard-corrupt", false, "delete items that cannot be decoded")

	return cmd
}

func runPending(cmd *cobra.Command, opts *PendingOptions) error {
	conf, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	store, err := retrystore.Open(conf)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open retry store", err)
	}
	defer store.Close()

	return listPending(cmd, store, opts.DiscardCorrupt)
}

func listPending(cmd *cobra.Command, store retrystore.Store, discard bool) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	keys, err := store.Keys(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list retry store", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(w, "No pending items.")
		return nil
	}

	var messages, tracking, corrupt int
	for _, key := range keys {
		item, err := store.Load(ctx, key)
		switch {
		case errors.Is(err, errspkg.ErrCorruptItem):
			corrupt++
			printCorrupt(w, key, discard)
			if discard {
				if err := store.Delete(ctx, key); err != nil {
					return WrapExitError(ExitFailure, "failed to delete "+key, err)
				}
			}
			continue
		case err != nil:
			return WrapExitError(ExitFailure, "failed to load "+key, err)
		}

		switch item.Kind {
		case retrystore.KindMessage:
			messages++
			fmt.Fprintf(w, "message   %-40s -> %s/%s\n", key, item.Message.Node, item.Message.Service)
		case retrystore.KindTracking:
			tracking++
			fmt.Fprintf(w, "tracking  %-40s %s %s\n", key, item.Tracking.LastActivity, item.Tracking.State)
		}
	}

	fmt.Fprintf(w, "\n%d messages, %d tracking records, %d corrupt\n", messages, tracking, corrupt)
	return nil
}

func printCorrupt(w io.Writer, key string, discarded bool) {
	suffix := ""
	if discarded {
		suffix = " (discarded)"
	}
	fmt.Fprintf(w, "corrupt   %s%s\n", key, suffix)
}
