package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var workspaceRoot string
	var verbose bool

	root := &cobra.Command{
		Use:           "ciel",
		Short:         "Manage layered build-instance filesystems",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&workspaceRoot, "workspace", ".", "path to the ciel workspace root")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newMountCommand(&workspaceRoot),
		newUnmountCommand(&workspaceRoot),
		newStopCommand(&workspaceRoot),
		newCommitCommand(&workspaceRoot),
		newRollbackCommand(&workspaceRoot),
		newListCommand(&workspaceRoot),
		newAddCommand(&workspaceRoot),
		newRemoveCommand(&workspaceRoot),
		newDiagnoseCommand(&workspaceRoot),
	)
	root.AddCommand(outOfScopeCommands()...)

	return root
}
