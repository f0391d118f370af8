// Package registry manages the durable list of modules the kernel knows
// about. It accepts only explicit (module_id, path) registrations — the
// heuristic path-sniffing that an intake or wizard front-end might use to
// guess modules from a repository layout lives outside the kernel.
package registry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/pathio"
)

// Path returns the registry.json path under stateRoot.
func Path(stateRoot string) string {
	return filepath.Join(stateRoot, ".csk", "app", "registry.json")
}

// Load reads the registry, returning a fresh empty one if the file does
// not exist yet.
func Load(stateRoot string) (*domain.Registry, error) {
	path := Path(stateRoot)
	if !pathio.Exists(path) {
		return domain.NewRegistry(), nil
	}
	var r domain.Registry
	if err := pathio.ReadJSON(path, &r); err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if err := domain.ValidateRegistry(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Save validates and durably writes r.
func Save(stateRoot string, r *domain.Registry) error {
	if err := domain.ValidateRegistry(r); err != nil {
		return err
	}
	return pathio.WriteJSON(Path(stateRoot), r)
}

var invalidModuleChars = regexp.MustCompile(`[^a-z0-9-]+`)

// Slugify lowercases s and replaces every run of non-alphanumeric
// characters with a single hyphen, producing a stable module ID component.
func Slugify(s string) string {
	lower := strings.ToLower(s)
	slug := invalidModuleChars.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "module"
	}
	return slug
}

// NormalizeModulePath rejects absolute paths and paths that escape the
// repository root via "..", and returns the path with a trailing slash
// trimmed.
func NormalizeModulePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", clierr.Newf(clierr.InvalidInput, "module path %q must be relative", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", clierr.Newf(clierr.InvalidInput, "module path %q escapes the repository root", path)
	}
	return strings.TrimSuffix(clean, "/"), nil
}

// Add registers a new module at path with the given ID, deduplicating by
// path first (returning the existing record) and then by ID (an error, since
// two distinct paths cannot share an ID).
func Add(stateRoot, moduleID, path string) (domain.ModuleRecord, error) {
	norm, err := NormalizeModulePath(path)
	if err != nil {
		return domain.ModuleRecord{}, err
	}

	r, err := Load(stateRoot)
	if err != nil {
		return domain.ModuleRecord{}, err
	}

	if existing, ok := r.FindModuleByPath(norm); ok {
		return existing, nil
	}
	if _, ok := r.FindModule(moduleID); ok {
		return domain.ModuleRecord{}, clierr.Newf(clierr.InvalidInput, "module id %q is already registered", moduleID).
			WithDetails(map[string]any{"module_id": moduleID})
	}

	rec := domain.ModuleRecord{
		ModuleID:   moduleID,
		Path:       norm,
		Registered: true,
		CreatedAt:  time.Now().UTC(),
	}
	r.Modules = append(r.Modules, rec)
	if err := Save(stateRoot, r); err != nil {
		return domain.ModuleRecord{}, err
	}
	return rec, nil
}

// Get returns the module with the given ID.
func Get(stateRoot, moduleID string) (domain.ModuleRecord, error) {
	r, err := Load(stateRoot)
	if err != nil {
		return domain.ModuleRecord{}, err
	}
	rec, ok := r.FindModule(moduleID)
	if !ok {
		return domain.ModuleRecord{}, clierr.Newf(clierr.NotFound, "module %q is not registered", moduleID).
			WithDetails(map[string]any{"module_id": moduleID})
	}
	return rec, nil
}

// ModuleRoot returns the absolute path to a registered module's code.
func ModuleRoot(stateRoot string, rec domain.ModuleRecord) string {
	return filepath.Join(stateRoot, rec.Path)
}

// PathSegment turns a normalized module path into a directory-safe
// component for the kernel's own state tree (.csk/modules/<segment>/).
// The root module normalizes to ".", which would collapse away if
// joined directly, so it maps to the literal segment "_root".
func PathSegment(modulePath string) string {
	if modulePath == "" || modulePath == "." {
		return "_root"
	}
	return modulePath
}

// ModuleKernelDir returns the module's .csk kernel metadata directory,
// created on Init.
func ModuleKernelDir(stateRoot string, rec domain.ModuleRecord) string {
	return filepath.Join(ModuleRoot(stateRoot, rec), ".csk")
}

// Init scaffolds a registered module's kernel metadata directory: its
// .csk dir, a tasks dir, a run dir, a kernel.json stamp, and placeholder
// AGENTS.md / PUBLIC_API.md documents.
func Init(stateRoot string, rec domain.ModuleRecord) error {
	kernelDir := ModuleKernelDir(stateRoot, rec)
	for _, sub := range []string{"tasks", "run"} {
		if err := pathio.EnsureDir(filepath.Join(kernelDir, sub)); err != nil {
			return err
		}
	}

	stamp := map[string]any{
		"module_id":   rec.ModuleID,
		"initialized": true,
		"initialized_at": time.Now().UTC(),
	}
	if err := pathio.WriteJSON(filepath.Join(kernelDir, "kernel.json"), stamp); err != nil {
		return err
	}

	agentsPath := filepath.Join(ModuleRoot(stateRoot, rec), "AGENTS.md")
	if !pathio.Exists(agentsPath) {
		if err := pathio.WriteFileAtomic(agentsPath, []byte("# "+rec.ModuleID+"\n\nModule-specific operating notes go here.\n")); err != nil {
			return err
		}
	}
	apiPath := filepath.Join(ModuleRoot(stateRoot, rec), "PUBLIC_API.md")
	if !pathio.Exists(apiPath) {
		if err := pathio.WriteFileAtomic(apiPath, []byte("# "+rec.ModuleID+" public API\n\nDocument the module's externally-consumed surface here.\n")); err != nil {
			return err
		}
	}
	return nil
}

// IsInitialized reports whether Init has already run for rec.
func IsInitialized(stateRoot string, rec domain.ModuleRecord) bool {
	return pathio.Exists(filepath.Join(ModuleKernelDir(stateRoot, rec), "kernel.json"))
}
