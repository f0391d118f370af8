package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize the kernel's on-disk state root",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.Bootstrap(ctx)
		})
	},
}
