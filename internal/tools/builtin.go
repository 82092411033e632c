package tools

import (
	"github.com/agentuse/agentuse/internal/agentfile"
	"github.com/agentuse/agentuse/internal/validate"
)

// BuildBuiltins constructs the built-in tool set for one agent: bash
// wrapping a command validator over spec.Tools.Bash.Commands, and
// read/write/edit wrapping a path validator over spec.Tools.Filesystem,
// plus the store CRUD tools scoped to storeName under projectRoot.
func BuildBuiltins(projectRoot string, spec agentfile.ToolsSpec, storeName string) []Tool {
	cmdValidator := validate.NewCommandValidator(projectRoot, spec.Bash.Commands)

	var rules []validate.PathRule
	for _, entry := range spec.Filesystem {
		rules = append(rules, validate.PathRule{
			Pattern:     entry.Path,
			Permissions: toPermissions(entry.Permissions),
		})
	}
	pathValidator := validate.NewPathValidator(projectRoot, rules)

	out := []Tool{
		NewShellTool(projectRoot, cmdValidator),
		NewReadFileTool(pathValidator),
		NewWriteFileTool(pathValidator),
		NewEditFileTool(pathValidator),
	}
	if storeName != "" {
		out = append(out, NewStoreTools(NewStore(projectRoot, storeName))...)
	}
	return out
}

func toPermissions(perms []string) []validate.Permission {
	out := make([]validate.Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, validate.Permission(p))
	}
	return out
}
