package taskengine

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/csk-next/csk/internal/domain"
)

// RunStructuralCritic reads a task's plan.md and slices.json and evaluates
// the fixed set of structural rules a critic pass checks: missing plan
// sections, slices that claim a gate but carry nothing for it to run
// against, broad or cyclic scoping, and duplicate or dangling slice ids.
// P0 findings block a pass outright; P1 findings also block a pass but
// describe looser problems than P0's; P2/P3 are advisory only.
func (e *Engine) RunStructuralCritic(taskID string) (domain.CriticReport, error) {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return domain.CriticReport{}, err
	}

	planBytes, err := os.ReadFile(planPath(e.StateRoot, mp, taskID))
	if err != nil {
		return domain.CriticReport{}, fmt.Errorf("reading plan.md: %w", err)
	}

	doc, err := e.LoadSlices(taskID)
	if err != nil {
		return domain.CriticReport{}, fmt.Errorf("reading slices.json: %w", err)
	}

	report := StructuralCritic(string(planBytes), doc)
	report.TaskID = taskID
	return report, nil
}

// StructuralCritic is the pure rule set behind RunStructuralCritic,
// separated out so it can be exercised directly against in-memory plan
// text and a slices document without touching disk.
func StructuralCritic(plan string, doc *domain.SlicesDoc) domain.CriticReport {
	headings := planHeadings(plan)

	var findings []string
	var p0, p1, p2, p3 int

	p0Finding := func(format string, args ...any) {
		p0++
		findings = append(findings, "P0: "+fmt.Sprintf(format, args...))
	}
	p1Finding := func(format string, args ...any) {
		p1++
		findings = append(findings, "P1: "+fmt.Sprintf(format, args...))
	}
	p2Finding := func(format string, args ...any) {
		p2++
		findings = append(findings, "P2: "+fmt.Sprintf(format, args...))
	}

	if !headings["goal"] {
		p0Finding("plan.md has no Goal section")
	}
	if !headings["acceptance"] {
		p0Finding("plan.md has no Acceptance section")
	}

	seen := map[string]bool{}
	known := map[string]bool{}
	for _, s := range doc.Slices {
		known[s.SliceID] = true
	}

	for _, s := range doc.Slices {
		if seen[s.SliceID] {
			p1Finding("duplicate slice id %s", s.SliceID)
		}
		seen[s.SliceID] = true

		if strings.TrimSpace(s.Title) == "" {
			p2Finding("slice %s has no title", s.SliceID)
		}

		for _, dep := range s.Deps {
			if !known[dep] {
				p0Finding("slice %s depends on undefined slice %s", s.SliceID, dep)
			}
		}

		if s.RequiresGate(string(domain.GateNameScope)) && len(s.AllowedPaths) == 0 {
			p0Finding("slice %s requires the scope gate but has no allowed_paths", s.SliceID)
		}
		if s.RequiresGate(string(domain.GateNameVerify)) && len(s.VerifyCommands) == 0 {
			p0Finding("slice %s requires the verify gate but has no verify_commands of its own", s.SliceID)
		}

		for _, p := range s.AllowedPaths {
			if isModuleRootGlob(p) {
				p1Finding("slice %s allowed_paths %q is effectively the whole module", s.SliceID, p)
			}
		}
		if !s.RequiresGate(string(domain.GateNameVerify)) && len(s.VerifyCommands) == 0 {
			p1Finding("slice %s documents no verification of its own", s.SliceID)
		}
	}

	if cycle := findDepCycle(doc.Slices); cycle != "" {
		p0Finding("dependency cycle involving slice %s", cycle)
	}

	sort.Strings(findings)

	return domain.CriticReport{
		P0Count:  p0,
		P1Count:  p1,
		P2Count:  p2,
		P3Count:  p3,
		Passed:   p0 == 0 && p1 == 0,
		Findings: findings,
	}
}

// planHeadings returns the set of lowercased level-2 markdown headings
// ("## Goal" -> "goal") present in plan.
func planHeadings(plan string) map[string]bool {
	out := map[string]bool{}
	for _, line := range strings.Split(plan, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "## ") {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))] = true
	}
	return out
}

// isModuleRootGlob reports whether p grants access to the entire module
// tree rather than a scoped subset of it.
func isModuleRootGlob(p string) bool {
	switch strings.TrimSpace(p) {
	case "", ".", "./", "*", "**", "**/*", "/**":
		return true
	default:
		return false
	}
}

// findDepCycle returns a slice id on a dependency cycle, or "" if the
// slice graph is acyclic.
func findDepCycle(slices []domain.SliceEntry) string {
	deps := map[string][]string{}
	for _, s := range slices {
		deps[s.SliceID] = s.Deps
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if cyc := visit(dep); cyc != "" {
					return cyc
				}
			}
		}
		color[id] = black
		return ""
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if cyc := visit(id); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}
