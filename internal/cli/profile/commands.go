package profile

import "github.com/spf13/cobra"

// RegisterCommands adds the profiling commands directly on root.
func RegisterCommands(root *cobra.Command) {
	root.AddCommand(NewSnapshotCmd())
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
}
