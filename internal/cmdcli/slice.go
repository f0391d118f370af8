package cmdcli

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/kernel"
	"github.com/csk-next/csk/internal/profile"
	"github.com/csk-next/csk/internal/registry"
	"github.com/csk-next/csk/internal/taskengine"
)

var sliceCmd = &cobra.Command{
	Use:   "slice",
	Short: "Run a task's slices through the gate pipeline",
}

var (
	sliceImplementCmds []string
	sliceE2ERequired    bool
	sliceE2ECommands    []string
	sliceReviewer       string
	sliceP0, sliceP1, sliceP2, sliceP3 int
	sliceReviewNotes    string
)

var sliceRunCmd = &cobra.Command{
	Use:   "run <task-id> <slice-id>",
	Short: "Execute one attempt of a slice's scope/verify/review/e2e gates",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return withKernel(10, func(ctx context.Context, k *kernel.Kernel) envelope.Envelope {
			taskID, sliceID := args[0], args[1]

			ts, err := k.Tasks.ReadState(taskID)
			if err != nil {
				return envelope.FromError(err)
			}
			rec, err := registry.Get(k.StateRoot, ts.ModuleID)
			if err != nil {
				return envelope.FromError(err)
			}

			enginePath := filepath.Join(registry.ModuleKernelDir(k.StateRoot, rec), "profile.yaml")
			localPath := filepath.Join(k.StateRoot, ".csk", "local", "profiles", ts.ModuleID+".yaml")
			prof, err := profile.Layer(enginePath, localPath)
			if err != nil {
				return envelope.FromError(clierr.Newf(clierr.ScopeConfigMissing, "loading profile for module %s: %v", ts.ModuleID, err))
			}

			return k.SliceRun(ctx, kernel.SliceRunInput{
				TaskID:       taskID,
				SliceID:      sliceID,
				RepoRoot:     registry.ModuleRoot(k.StateRoot, rec),
				Profile:      prof,
				ImplementCmd: sliceImplementCmds,
				E2ERequired:  sliceE2ERequired,
				E2ECommands:  sliceE2ECommands,
				Review: taskengine.ReviewInput{
					Reviewer: sliceReviewer,
					P0:       sliceP0,
					P1:       sliceP1,
					P2:       sliceP2,
					P3:       sliceP3,
					Notes:    sliceReviewNotes,
				},
			})
		})
	},
}

func init() {
	sliceRunCmd.Flags().StringArrayVar(&sliceImplementCmds, "implement", nil, "implementation command to run, repeatable; run in order before gates")
	sliceRunCmd.Flags().BoolVar(&sliceE2ERequired, "e2e", false, "require the e2e gate for this slice")
	sliceRunCmd.Flags().StringArrayVar(&sliceE2ECommands, "e2e-cmd", nil, "e2e command to run, repeatable")
	sliceRunCmd.Flags().StringVar(&sliceReviewer, "reviewer", "", "reviewer identity")
	sliceRunCmd.Flags().IntVar(&sliceP0, "p0", 0, "P0 review finding count")
	sliceRunCmd.Flags().IntVar(&sliceP1, "p1", 0, "P1 review finding count")
	sliceRunCmd.Flags().IntVar(&sliceP2, "p2", 0, "P2 review finding count")
	sliceRunCmd.Flags().IntVar(&sliceP3, "p3", 0, "P3 review finding count")
	sliceRunCmd.Flags().StringVar(&sliceReviewNotes, "review-notes", "", "reviewer notes")

	sliceCmd.AddCommand(sliceRunCmd)
}
