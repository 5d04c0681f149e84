package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lockharness/internal/harness"
)

// BuiltinInfo describes one shipped scenario.
type BuiltinInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Datastore   string `json:"datastore,omitempty"`
	Actors      int    `json:"actors"`
	Lockstep    bool   `json:"lockstep,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List built-in scenarios",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	all, err := harness.Builtins()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load built-in scenarios", err)
	}

	infos := make([]BuiltinInfo, 0, len(all))
	for _, sc := range all {
		infos = append(infos, BuiltinInfo{
			Name:        sc.Name,
			Description: sc.Description,
			Datastore:   sc.Datastore,
			Actors:      len(sc.Actors),
			Lockstep:    sc.Lockstep,
		})
	}

	if formatter.isJSON() {
		return formatter.Success(infos)
	}
	w := cmd.OutOrStdout()
	for _, info := range infos {
		fmt.Fprintf(w, "%-28s %s\n", info.Name, info.Description)
	}
	return nil
}
