package cmdcli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
	"github.com/csk-next/csk/internal/taskengine"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Drive a task through its lifecycle",
}

var (
	taskNewModuleID     string
	taskNewPlanTemplate string
	taskNewSliceTitles  []string
)

var taskNewCmd = &cobra.Command{
	Use:   "new <task-id>",
	Short: "Create a task and scaffold its plan and slices",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.TaskNew(ctx, taskengine.NewTaskInput{
				TaskID:       args[0],
				ModuleID:     taskNewModuleID,
				PlanTemplate: taskNewPlanTemplate,
				SliceTitles:  taskNewSliceTitles,
			})
		})
	},
}

var criticNotes string

var taskCriticCmd = &cobra.Command{
	Use:   "critic <task-id>",
	Short: "Run the structural critic against a draft plan and slices",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(10, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.TaskCritic(ctx, args[0], criticNotes)
		})
	},
}

var taskFreezeCmd = &cobra.Command{
	Use:   "freeze <task-id>",
	Short: "Hash and freeze a critic-passed plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.TaskFreeze(ctx, args[0])
		})
	},
}

var (
	approvePlanBy    string
	approvePlanNotes string
)

var taskApprovePlanCmd = &cobra.Command{
	Use:   "approve-plan <task-id>",
	Short: "Approve a frozen plan, checking it hasn't drifted",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.TaskApprovePlan(ctx, args[0], approvePlanBy, approvePlanNotes)
		})
	},
}

var (
	userCheckBy    string
	userCheckNotes string
)

var taskUserCheckCmd = &cobra.Command{
	Use:   "user-check <task-id>",
	Short: "Record the manual smoke check a profile's user_check_required demands",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(2, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.TaskUserCheck(ctx, args[0], userCheckBy, userCheckNotes)
		})
	},
}

var taskCloseCmd = &cobra.Command{
	Use:   "close <task-id>",
	Short: "Close a task that has completed its retro",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(10, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			return k.TaskClose(ctx, args[0])
		})
	},
}

func init() {
	taskNewCmd.Flags().StringVar(&taskNewModuleID, "module", "", "module the task belongs to")
	taskNewCmd.Flags().StringVar(&taskNewPlanTemplate, "plan-template", "", "seed contents for plan.md")
	taskNewCmd.Flags().StringSliceVar(&taskNewSliceTitles, "slice", nil, "slice title, repeatable")
	_ = taskNewCmd.MarkFlagRequired("module")

	taskCriticCmd.Flags().StringVar(&criticNotes, "notes", "", "critic notes")

	taskApprovePlanCmd.Flags().StringVar(&approvePlanBy, "approved-by", "", "approver identity")
	taskApprovePlanCmd.Flags().StringVar(&approvePlanNotes, "notes", "", "approval notes")
	_ = taskApprovePlanCmd.MarkFlagRequired("approved-by")

	taskUserCheckCmd.Flags().StringVar(&userCheckBy, "approved-by", "", "operator identity")
	taskUserCheckCmd.Flags().StringVar(&userCheckNotes, "notes", "", "manual check notes")
	_ = taskUserCheckCmd.MarkFlagRequired("approved-by")

	taskCmd.AddCommand(taskNewCmd, taskCriticCmd, taskFreezeCmd, taskApprovePlanCmd, taskUserCheckCmd, taskCloseCmd)
}
