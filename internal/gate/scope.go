// Package gate implements the kernel's fixed gate pipeline — scope,
// verify, review, e2e, and the task-level ready aggregate — each of which
// writes a typed proof whether it passes or fails.
package gate

import (
	"strings"
	"time"

	"github.com/csk-next/csk/internal/domain"
)

// CheckScope reports whether every path in changed falls under one of
// allowedPaths and none falls under forbiddenPaths. A pattern ending in
// "/**" or "**" matches every path under its prefix; otherwise a path is
// in scope if it equals the pattern or starts with "pattern/". Patterns
// are normalized by trimming leading slashes before comparison.
// forbiddenPaths takes precedence over allowedPaths: a path matching both
// is a violation.
func CheckScope(allowedPaths, forbiddenPaths, changed []string) domain.ScopeProof {
	allowed := normalizePrefixes(allowedPaths)
	forbidden := normalizePrefixes(forbiddenPaths)

	var violations []string
	for _, path := range changed {
		if inScope(path, forbidden) || !inScope(path, allowed) {
			violations = append(violations, path)
		}
	}

	return domain.ScopeProof{
		AllowedPaths: allowedPaths,
		Changed:      changed,
		Violations:   violations,
		Passed:       len(violations) == 0,
		CheckedAt:    time.Now().UTC(),
	}
}

func normalizePrefixes(paths []string) []string {
	prefixes := make([]string, 0, len(paths))
	for _, p := range paths {
		prefixes = append(prefixes, strings.TrimLeft(strings.TrimSuffix(strings.TrimSuffix(p, "/**"), "**"), "/"))
	}
	return prefixes
}

func inScope(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" || prefix == "*" {
			return true
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
