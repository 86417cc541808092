package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMountCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mount NAME",
		Short: "Mount an instance's stacked filesystem view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			return c.controller.Mount(cmd.Context(), args[0])
		},
	}
}

func newUnmountCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unmount NAME",
		Short: "Unmount an instance's stacked filesystem view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			return c.controller.Unmount(cmd.Context(), args[0])
		},
	}
}

func newStopCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop an instance's running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			return c.controller.Stop(cmd.Context(), args[0])
		},
	}
}

// newCommitCommand's bare form (no NAME) commits every known instance,
// fanning out through the registry.
func newCommitCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "commit [NAME]",
		Short: "Merge an instance's upper layer into its lower layer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return c.controller.Commit(cmd.Context(), args[0])
			}
			return c.registry.ForEach(cmd.Context(), func(ctx context.Context, name string) error {
				return c.controller.Commit(ctx, name)
			})
		},
	}
}

func newRollbackCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback NAME",
		Short: "Discard an instance's upper layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			return c.controller.Rollback(cmd.Context(), args[0])
		},
	}
}

func newListCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances and their mounted/active/booted state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			summaries, err := c.registry.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tmounted=%v\tactive=%v\tbooted=%v\n",
					s.Name, s.Mounted, s.Active, s.Booted)
			}
			return nil
		},
	}
}

func newAddCommand(root *string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a new instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			return c.controller.Add(cmd.Context(), args[0], note)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "free-form note recorded in the instance's metadata")
	return cmd
}

func newRemoveCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Destroy an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			return c.controller.Remove(cmd.Context(), args[0])
		},
	}
}

func newDiagnoseCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Report workspace and instance state without mutating anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContext(*root)
			if err != nil {
				return err
			}
			diag, err := c.controller.Diagnose(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workspace marker: %v\n", diag.WorkspaceMarkerPresent)
			fmt.Fprintf(cmd.OutOrStdout(), "dist exists: %v\n", diag.DistExists)
			for _, inst := range diag.Instances {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: well-formed=%v mounted=%v active=%v booted=%v\n",
					inst.Name, inst.WellFormed, inst.Mounted, inst.Active, inst.Booted)
			}
			return nil
		},
	}
}

// outOfScopeCommands stubs the verbs this module does not implement
// (network download, packaging, interactive shell) so the CLI's verb
// surface is complete without pretending to own concerns it doesn't.
func outOfScopeCommands() []*cobra.Command {
	names := []string{"load-os", "load-tree", "local-repo", "build", "shell"}
	cmds := make([]*cobra.Command, 0, len(names))
	for _, name := range names {
		name := name
		cmds = append(cmds, &cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("(stub) %s is not implemented in this module", name),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: not implemented in this module\n", name)
				return errNotImplemented
			},
		})
	}
	return cmds
}

var errNotImplemented = fmt.Errorf("not implemented in this module")
