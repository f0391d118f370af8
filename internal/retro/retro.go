// Package retro runs the retrospective stage: clustering a task's logged
// incidents into a small set of themes and writing a retro document plus
// a standing patch-proposal note.
package retro

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/incident"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/taskengine"
)

// clusterMap groups incident kinds into themes a retro can reason about
// without the reader needing to know the full error taxonomy.
var clusterMap = map[string]string{
	string(clierr.CommandNotFound):          "toolchain",
	string(clierr.CommandDenied):            "toolchain",
	string(clierr.VerifyConfigMissing):      "toolchain",
	string(clierr.ScopeConfigMissing):       "plan",
	string(clierr.ScopeViolation):           "plan",
	string(clierr.PlanDrift):                "plan",
	string(clierr.VerifyFail):               "test",
	string(clierr.ReviewFail):                "test",
	string(clierr.E2EFail):                  "test",
	string(clierr.E2EMissing):               "test",
	string(clierr.ImplementFail):            "process",
	string(clierr.TokenWaste):               "process",
	string(clierr.WorktreeCreateFailed):     "env",
}

func clusterFor(kind string) string {
	if c, ok := clusterMap[kind]; ok {
		return c
	}
	return "process"
}

// Engine drives the retro stage.
type Engine struct {
	StateRoot string
	Events    *eventlog.Store
}

func New(stateRoot string, events *eventlog.Store) *Engine {
	return &Engine{StateRoot: stateRoot, Events: events}
}

func patchesDir(stateRoot string) string {
	return filepath.Join(stateRoot, ".csk", "local", "patches")
}

func retroPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(taskengine.Dir(stateRoot, modulePath, taskID), "retro.md")
}

// Run requires the task be in ready_approved or blocked, clusters its
// logged incidents, writes retro.md and a patch proposal file, and
// transitions the task to retro_done.
func (e *Engine) Run(ctx context.Context, taskID, userFeedback string) (string, error) {
	te := taskengine.New(e.StateRoot, e.Events)
	ts, err := te.ReadState(taskID)
	if err != nil {
		return "", err
	}
	if ts.Status != domain.TaskReadyApproved && ts.Status != domain.TaskBlocked {
		return "", clierr.Newf(clierr.RetroPreconditionMissing,
			"retro requires status ready_approved or blocked, task %s is %s", taskID, ts.Status)
	}

	mp, err := te.ModulePathFor(taskID)
	if err != nil {
		return "", err
	}

	incidents, err := incident.ReadForTask(e.StateRoot, mp, taskID)
	if err != nil {
		return "", err
	}

	clusters := map[string][]domain.Incident{}
	for _, inc := range incidents {
		c := clusterFor(inc.Kind)
		clusters[c] = append(clusters[c], inc)
	}

	md := renderRetro(taskID, clusters, userFeedback)
	if err := pathio.WriteFileAtomic(retroPath(e.StateRoot, mp, taskID), []byte(md)); err != nil {
		return "", err
	}

	patchPath := filepath.Join(patchesDir(e.StateRoot), fmt.Sprintf("%s-%d.md", taskID, time.Now().UTC().Unix()))
	if err := pathio.WriteFileAtomic(patchPath, []byte(renderPatchProposal(taskID, clusters))); err != nil {
		return "", err
	}

	if err := te.SetStatus(ts, domain.TaskRetroDone); err != nil {
		return "", err
	}
	if _, err := e.Events.Append(ctx, domain.EventEnvelope{
		Type:         "retro.completed",
		TaskID:       taskID,
		ArtifactRefs: []string{retroPath(e.StateRoot, mp, taskID), patchPath},
	}); err != nil {
		return "", err
	}

	return md, nil
}

func renderRetro(taskID string, clusters map[string][]domain.Incident, userFeedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Retro: %s\n\n", taskID)

	names := make([]string, 0, len(clusters))
	for name := range clusters {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		b.WriteString("No incidents were logged for this task.\n\n")
	} else {
		b.WriteString("## Incident clusters\n\n")
		b.WriteString("| Cluster | Count | Kinds |\n|---|---|---|\n")
		for _, name := range names {
			incs := clusters[name]
			kinds := map[string]bool{}
			for _, inc := range incs {
				kinds[inc.Kind] = true
			}
			kindList := make([]string, 0, len(kinds))
			for k := range kinds {
				kindList = append(kindList, k)
			}
			sort.Strings(kindList)
			fmt.Fprintf(&b, "| %s | %d | %s |\n", name, len(incs), strings.Join(kindList, ", "))
		}
		b.WriteString("\n")
	}

	if userFeedback != "" {
		b.WriteString("## User feedback\n\n")
		b.WriteString(userFeedback)
		b.WriteString("\n\n")
	}

	return b.String()
}

func renderPatchProposal(taskID string, clusters map[string][]domain.Incident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Patch proposal: %s\n\n", taskID)
	b.WriteString("Based on this task's retro, consider:\n\n")
	b.WriteString("- Tightening the scope or verify configuration that produced the most incidents above.\n")
	b.WriteString("- Adding a regression check for the specific failure mode that recurred most often.\n")
	b.WriteString("- Updating the module's AGENTS.md with any constraint this task's incidents revealed.\n")
	return b.String()
}
