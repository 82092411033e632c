package validate

import (
	"fmt"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Permission is one of the three access kinds a path pattern can grant.
type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermEdit  Permission = "edit"
)

// PathRule grants Permissions on paths matching Pattern (doublestar glob
// syntax, matched against the path relative to the validator's root).
type PathRule struct {
	Pattern     string
	Permissions []Permission
}

// PathResult is the outcome of validating one path against a rule set.
type PathResult struct {
	Allowed  bool
	Error    string
	Resolved string
}

var envLikeBasename = regexp.MustCompile(`^\.env(\..+)?$`)
var envExempt = map[string]bool{".env.example": true, ".env.sample": true, ".env.template": true}

// PathValidator validates a path against a configured rule set rooted at
// a project directory, per spec.md §4.1's path validator.
type PathValidator struct {
	root  string
	rules []PathRule
}

// NewPathValidator builds a validator bound to root and its rule set. An
// empty rule set denies every path (spec.md: "empty config denies all").
func NewPathValidator(root string, rules []PathRule) *PathValidator {
	abs, _ := filepath.Abs(root)
	return &PathValidator{root: abs, rules: rules}
}

// Validate resolves path and checks it against the rule set for perm.
func (v *PathValidator) Validate(path string, perm Permission) PathResult {
	expanded := expandHome(path)
	expanded = strings.ReplaceAll(expanded, "${root}", v.root)
	expanded = strings.ReplaceAll(expanded, "${cwd}", v.root)

	var resolved string
	if filepath.IsAbs(expanded) {
		resolved = filepath.Clean(expanded)
	} else {
		resolved = filepath.Clean(filepath.Join(v.root, expanded))
	}

	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	} else if parentReal, perr := filepath.EvalSymlinks(filepath.Dir(resolved)); perr == nil {
		resolved = filepath.Join(parentReal, filepath.Base(resolved))
	}

	base := filepath.Base(resolved)
	if envLikeBasename.MatchString(base) && !envExempt[strings.ToLower(base)] {
		return PathResult{Allowed: false, Error: "access to .env files is always denied", Resolved: resolved}
	}

	rel, err := filepath.Rel(v.root, resolved)
	if err != nil {
		return PathResult{Allowed: false, Error: "cannot make path relative to root", Resolved: resolved}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return PathResult{Allowed: false, Error: "path resolves outside root", Resolved: resolved}
	}

	matchedAny := false
	for _, rule := range v.rules {
		matched, _ := doublestar.Match(rule.Pattern, filepath.ToSlash(rel))
		if !matched {
			continue
		}
		matchedAny = true
		for _, p := range rule.Permissions {
			if p == perm {
				return PathResult{Allowed: true, Resolved: resolved}
			}
		}
	}
	if matchedAny {
		return PathResult{Allowed: false, Error: fmt.Sprintf("no matching pattern grants %s", perm), Resolved: resolved}
	}

	return PathResult{Allowed: false, Error: "no matching allow pattern", Resolved: resolved}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if u, err := user.Current(); err == nil {
			return filepath.Join(u.HomeDir, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
