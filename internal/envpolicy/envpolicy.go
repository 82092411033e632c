// Package envpolicy implements the environment-variable policy pass (C12):
// it walks an agent's configuration extracting every environment variable
// reference, classifies each by source, and validates the set against the
// process environment before any MCP provider is started, per spec.md §4.12.
package envpolicy

import (
	"os"

	"github.com/agentuse/agentuse/internal/agentfile"
)

// Source names where a variable reference came from.
type Source string

const (
	// SourceInline is a "${env:VAR}" reference anywhere in the front matter;
	// spec.md §4.12 treats these as required.
	SourceInline Source = "inline"
	// SourceRequired is an entry in an MCP provider's requiredEnvVars list.
	SourceRequired Source = "required"
	// SourceAllowed is an entry in an MCP provider's allowedEnvVars list;
	// these are optional — their absence is reported but never blocks a run.
	SourceAllowed Source = "allowed"
)

// Ref is one discovered environment variable reference.
type Ref struct {
	Name   string
	Source Source
	// Provider names which MCP provider spec named this variable; empty for
	// an inline front-matter reference.
	Provider string
}

// Report is the result of validating an agent's environment references
// against the current process environment.
type Report struct {
	Refs []Ref

	// MissingRequired holds variable names from an inline reference or a
	// requiredEnvVars list that are unset. A non-empty MissingRequired
	// means the agent cannot run.
	MissingRequired []string
	// MissingOptional holds allowedEnvVars names that are unset. These are
	// informational only: an unset optional variable is simply not
	// forwarded to the provider's subprocess.
	MissingOptional []string

	// Missing is an alias for MissingRequired, named for call sites that
	// only care about what blocks a run (e.g. the HTTP service's
	// pre-flight check, spec.md §4.10).
	Missing []string

	Valid bool
}

// HasMissing reports whether any required variable is unset.
func (r Report) HasMissing() bool {
	return len(r.MissingRequired) > 0
}

// Extract walks agent's configuration and returns every environment
// variable reference it finds, without checking the environment.
func Extract(agent *agentfile.Agent) []Ref {
	var refs []Ref
	seen := make(map[string]bool)

	add := func(name string, source Source, provider string) {
		key := string(source) + "|" + provider + "|" + name
		if seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, Ref{Name: name, Source: source, Provider: provider})
	}

	for _, name := range agentfile.EnvRefs(agent.RawFrontMatter) {
		add(name, SourceInline, "")
	}

	for providerName, spec := range agent.Config.MCPServers {
		if spec == nil {
			continue
		}
		for _, name := range spec.RequiredEnvVars {
			add(name, SourceRequired, providerName)
		}
		for _, name := range spec.AllowedEnvVars {
			add(name, SourceAllowed, providerName)
		}
	}

	return refs
}

// Check extracts agent's environment variable references and validates each
// against the current process environment, per spec.md §4.12. It runs
// before any MCP provider is started.
func Check(agent *agentfile.Agent) Report {
	refs := Extract(agent)

	report := Report{Refs: refs, Valid: true}
	for _, ref := range refs {
		if _, ok := os.LookupEnv(ref.Name); ok {
			continue
		}
		switch ref.Source {
		case SourceAllowed:
			report.MissingOptional = append(report.MissingOptional, ref.Name)
		default: // SourceInline, SourceRequired
			report.MissingRequired = append(report.MissingRequired, ref.Name)
			report.Valid = false
		}
	}
	report.Missing = report.MissingRequired
	return report
}
