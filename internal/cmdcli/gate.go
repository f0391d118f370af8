package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Aggregate and approve a task's readiness",
}

var gateUserCheckRequired bool

var gateValidateReadyCmd = &cobra.Command{
	Use:   "validate-ready <task-id>",
	Short: "Aggregate every slice's gate outcome into a ready proof and write the handoff",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(10, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.GateValidateReady(ctx, args[0], gateUserCheckRequired)
		})
	},
}

var (
	gateApproveBy    string
	gateApproveNotes string
)

var gateApproveReadyCmd = &cobra.Command{
	Use:   "approve-ready <task-id>",
	Short: "Record the human approval that follows a passed ready gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.GateApproveReady(ctx, args[0], gateApproveBy, gateApproveNotes)
		})
	},
}

func init() {
	gateValidateReadyCmd.Flags().BoolVar(&gateUserCheckRequired, "user-check-required", true, "require a manual smoke check before ready approval")

	gateApproveReadyCmd.Flags().StringVar(&gateApproveBy, "approved-by", "", "approver identity")
	gateApproveReadyCmd.Flags().StringVar(&gateApproveNotes, "notes", "", "approval notes")
	_ = gateApproveReadyCmd.MarkFlagRequired("approved-by")

	gateCmd.AddCommand(gateValidateReadyCmd, gateApproveReadyCmd)
}
