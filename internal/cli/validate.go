package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	"github.com/drblury/edgeflow/internal/runtime/host"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	SignInFile string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the node config and show what the node would run",
		Long: `Validate the node config. With --sign-in, also list the activities of
every itinerary that would be placed on this node, without starting them.

Example:
  edgenode validate --config ./edgenode.yaml
  edgenode validate --config ./edgenode.yaml --sign-in ./signin.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.SignInFile, "sign-in", "", "path to a sign-in document")

	return cmd
}

func runValidate(w io.Writer, opts *ValidateOptions) error {
	conf, err := loadConfig(opts.RootOptions)
	if err != nil {
		fmt.Fprintln(w, "✗ Configuration invalid")
		return err
	}
	fmt.Fprintf(w, "✓ Configuration valid (node %s, broker %s, store %s)\n", conf.NodeName, conf.PubSubSystem, conf.RetryStore)

	if opts.SignInFile == "" {
		return nil
	}
	resp, err := configpkg.LoadSignIn(opts.SignInFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load sign-in", err)
	}
	conf.ApplySignIn(resp)

	problems := 0
	for i := range resp.Itineraries {
		it := &resp.Itineraries[i]
		selected := it.SelectForNode(conf.NodeName, conf.HasTag)
		fmt.Fprintf(w, "\nItinerary %s (%s): %d activities on this node\n", it.ItineraryID, it.IntegrationName, len(selected))
		for _, sel := range selected {
			note, ok := describeSelection(sel)
			if !ok {
				problems++
			}
			fmt.Fprintf(w, "  %s %-24s %-20s %s\n", mark(ok), sel.Activity.UserData.ID, sel.Activity.UserData.Type, note)
		}
	}

	if problems > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d activities cannot start", problems), nil)
	}
	return nil
}

func describeSelection(sel itinerary.Selection) (string, bool) {
	a := sel.Activity
	enabled, err := a.Enabled()
	if err != nil {
		return err.Error(), false
	}
	if !enabled {
		return "disabled", true
	}
	if a.UserData.Type == "" {
		return "no unit type", false
	}
	kind := "script"
	if _, ok := host.LookupUnit(a.UserData.Type); ok {
		kind = "built-in"
	}
	if sel.Claimed {
		kind += ", claimed by tag"
	}
	return kind, true
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
