package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
	"github.com/csk-next/csk/internal/mission"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Group tasks across modules toward a shared goal",
}

var (
	missionTitle           string
	missionModuleIDs        []string
	missionCreateWorktrees  bool
	missionWorktreeRoot     string
)

var missionNewCmd = &cobra.Command{
	Use:   "new <mission-id>",
	Short: "Create a mission spanning one or more modules",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.MissionNew(ctx, mission.NewMissionInput{
				MissionID:       args[0],
				Title:           missionTitle,
				ModuleIDs:       missionModuleIDs,
				CreateWorktrees: missionCreateWorktrees,
				WorktreeRoot:    missionWorktreeRoot,
			})
		})
	},
}

var missionStatusCmd = &cobra.Command{
	Use:   "status <mission-id>",
	Short: "Report a mission's durable record",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(1, func(_ context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.MissionStatus(args[0])
		})
	},
}

var missionAdvanceCmd = &cobra.Command{
	Use:   "advance <mission-id>",
	Short: "Activate a mission's next pending milestone",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.MissionAdvance(ctx, args[0])
		})
	},
}

func init() {
	missionNewCmd.Flags().StringVar(&missionTitle, "title", "", "mission title")
	missionNewCmd.Flags().StringSliceVar(&missionModuleIDs, "module", nil, "module id to include, repeatable")
	missionNewCmd.Flags().BoolVar(&missionCreateWorktrees, "worktrees", false, "create a git worktree per module")
	missionNewCmd.Flags().StringVar(&missionWorktreeRoot, "worktree-root", "", "parent directory for per-module worktrees")
	_ = missionNewCmd.MarkFlagRequired("module")

	missionCmd.AddCommand(missionNewCmd, missionStatusCmd, missionAdvanceCmd)
}
