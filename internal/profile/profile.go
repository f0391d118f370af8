// Package profile loads and merges the kernel's runtime policy records.
// A profile controls which gates are required and how commands may be
// run; it is assembled by layering an engine-provided template, an
// optional local override, onto a fixed built-in default.
package profile

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/csk-next/csk/internal/domain"
)

// Default returns the kernel's built-in baseline profile: scope, verify,
// and review required (e2e not), a conservative command denylist, no PTY,
// no worktree.
func Default() domain.Profile {
	return domain.Profile{
		Name:              "default",
		RequireScope:      true,
		RequireVerify:     true,
		RequireReview:     true,
		RequireE2E:        false,
		AllowlistCommands: []string{},
		DenylistCommands:  []string{"rm", "sudo", "curl", "wget"},
		UserCheckRequired: true,
		WorktreeDefault:   false,
		PTY:               false,
	}
}

// Layer merges, in order, the built-in default, an optional engine
// template profile, and an optional local override profile. An engine
// template, when present, replaces the built-in default as a whole. The
// local override is then applied with applyOverride: a non-empty name,
// command list, or timeout replaces the earlier value, and every boolean
// field is taken from the override as written (an absent boolean reads as
// false). No field is OR-combined across layers.
func Layer(enginePath, localPath string) (domain.Profile, error) {
	p := Default()

	if enginePath != "" {
		if tmpl, err := loadProfileFile(enginePath); err == nil {
			p = tmpl
		} else if !os.IsNotExist(err) {
			return domain.Profile{}, fmt.Errorf("loading engine profile: %w", err)
		}
	}

	if localPath != "" {
		if local, err := loadProfileFile(localPath); err == nil {
			p = applyOverride(p, local)
		} else if !os.IsNotExist(err) {
			return domain.Profile{}, fmt.Errorf("loading local profile: %w", err)
		}
	}

	if err := domain.ValidateProfile(&p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// applyOverride replaces every field present in override's YAML document;
// since loadProfileFile always yields a fully-populated struct (YAML
// unmarshal zero-fills absent keys), we treat override as authoritative
// for any field it does not leave at its Go zero value, and otherwise keep
// base. This mirrors the engine/local two-layer merge the profile
// documents are designed around.
func applyOverride(base, override domain.Profile) domain.Profile {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	out.RequireScope = override.RequireScope
	out.RequireVerify = override.RequireVerify
	out.RequireReview = override.RequireReview
	out.RequireE2E = override.RequireE2E
	if len(override.VerifyCommands) > 0 {
		out.VerifyCommands = override.VerifyCommands
	}
	if len(override.E2ECommands) > 0 {
		out.E2ECommands = override.E2ECommands
	}
	if len(override.AllowlistCommands) > 0 {
		out.AllowlistCommands = override.AllowlistCommands
	}
	if len(override.DenylistCommands) > 0 {
		out.DenylistCommands = override.DenylistCommands
	}
	out.UserCheckRequired = override.UserCheckRequired
	out.WorktreeDefault = override.WorktreeDefault
	out.PTY = override.PTY
	if override.CommandTimeoutSecs > 0 {
		out.CommandTimeoutSecs = override.CommandTimeoutSecs
	}
	return out
}

func loadProfileFile(path string) (domain.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.Profile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return p, nil
}

// CommandPolicy splits a profile's allow/deny lists into sets for O(1)
// membership checks by the command runner.
func CommandPolicy(p domain.Profile) (allow map[string]bool, deny map[string]bool) {
	allow = map[string]bool{}
	deny = map[string]bool{}
	for _, c := range p.AllowlistCommands {
		allow[c] = true
	}
	for _, c := range p.DenylistCommands {
		deny[c] = true
	}
	return allow, deny
}
