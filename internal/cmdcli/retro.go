package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
)

var retroCmd = &cobra.Command{
	Use:   "retro",
	Short: "Run and cluster a task's retrospective",
}

var retroUserFeedback string

var retroRunCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run the retro stage, clustering any incidents the task accumulated",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.RetroRun(ctx, args[0], retroUserFeedback)
		})
	},
}

func init() {
	retroRunCmd.Flags().StringVar(&retroUserFeedback, "feedback", "", "free-text feedback to fold into the retro")
	retroCmd.AddCommand(retroRunCmd)
}
