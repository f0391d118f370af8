package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
	"github.com/csk-next/csk/internal/pathio"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the project's phase and per-module progress",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if statusWatch {
			root, err := pathio.ResolveStateRoot(flagRoot)
			if err != nil {
				return err
			}
			return runDashboard(root)
		}
		return withKernel(1, func(_ context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.StatusProject()
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "render a live-refreshing dashboard instead of a single report")
}
