package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the event log and check every invariant it must uphold",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withKernel(30, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.Replay(ctx)
		})
	},
}
