package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
)

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage registered modules",
}

var moduleAddCmd = &cobra.Command{
	Use:   "add <module-id> <path>",
	Short: "Register a module at a path relative to the state root",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.ModuleAdd(ctx, args[0], args[1])
		})
	},
}

var moduleInitCmd = &cobra.Command{
	Use:   "init <module-id>",
	Short: "Scaffold a registered module's kernel metadata directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.ModuleInit(ctx, args[0])
		})
	},
}

func init() {
	moduleCmd.AddCommand(moduleAddCmd, moduleInitCmd)
}
