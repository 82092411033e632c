// Package agentfile holds the Agent data model and the thin front-matter
// adapter that turns a *.agentuse file into a typed Config. Parsing the
// YAML dialect itself is a small external-facing concern (spec.md frames
// front-matter parsing as out of scope for the execution core); this package
// is the boundary where that text becomes the typed values the rest of the
// runtime consumes.
package agentfile

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent is an immutable, loaded agent file: instructions plus configuration.
// Agents never mutate after Load; hot reload produces a fresh instance.
type Agent struct {
	Path         string
	Name         string
	Instructions string
	Config       Config

	// RawFrontMatter is the YAML block exactly as it appeared in the file,
	// before "${env:VAR}" references were expanded. envpolicy needs the
	// unexpanded text to discover which variables a file references.
	RawFrontMatter string
}

// Config is the typed form of a *.agentuse front-matter block.
type Config struct {
	Model       string `yaml:"model"`
	Description string `yaml:"description"`
	Timeout     int    `yaml:"timeout"`
	MaxSteps    int    `yaml:"maxSteps"`

	MCPServers map[string]*MCPServerSpec `yaml:"mcpServers"`
	// Deprecated alias; still accepted with a warning at load time.
	MCPServersLegacy map[string]*MCPServerSpec `yaml:"mcp_servers"`

	Subagents []SubagentSpec `yaml:"subagents"`

	Tools ToolsSpec `yaml:"tools"`

	Schedule string `yaml:"schedule"`

	// Provider-specific options (openai, anthropic, ...) forwarded verbatim.
	ProviderOptions map[string]map[string]any `yaml:"-"`
}

// ToolsSpec carries the shell and filesystem permission grants.
type ToolsSpec struct {
	Bash       BashSpec          `yaml:"bash"`
	Filesystem []FilesystemEntry `yaml:"filesystem"`
}

// BashSpec is the shell-tool allowlist.
type BashSpec struct {
	Commands []string `yaml:"commands"`
}

// FilesystemEntry grants permissions on a path pattern.
type FilesystemEntry struct {
	Path        string   `yaml:"path"`
	Permissions []string `yaml:"permissions"`
}

// MCPServerSpec is the discriminated MCP provider spec (§3 of spec.md).
// Exactly one of the stdio or http shapes applies, selected by Transport.
type MCPServerSpec struct {
	Transport string `yaml:"transport"` // "stdio" | "http" (default inferred below)

	// stdio
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	AllowedEnvVars []string          `yaml:"allowedEnvVars"`
	RequiredEnvVars []string         `yaml:"requiredEnvVars"`

	// http
	URL       string     `yaml:"url"`
	SessionID string     `yaml:"sessionId"`
	Auth      *AuthSpec  `yaml:"auth"`
}

// AuthSpec describes how an http MCP provider authenticates.
type AuthSpec struct {
	Kind   string `yaml:"kind"` // "bearer" | "basic" | "custom"
	Token  string `yaml:"token"`
	User   string `yaml:"user"`
	Pass   string `yaml:"pass"`
	Header string `yaml:"header"`
	Value  string `yaml:"value"`
}

// IsStdio reports whether this spec describes a subprocess provider.
func (s *MCPServerSpec) IsStdio() bool {
	return s.Transport == "stdio" || (s.Transport == "" && s.Command != "")
}

// SubagentSpec names an agent file usable as a sub-agent tool.
type SubagentSpec struct {
	Path     string `yaml:"path"`
	Name     string `yaml:"name"`
	MaxSteps int    `yaml:"maxSteps"`
}

var frontMatterFence = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

// Load reads path, splits the YAML front matter from the markdown body, and
// returns the typed Agent. Environment variable references of the form
// "${env:VAR}" inside string fields are expanded against the process
// environment before the YAML is interpreted as config (so allowlists and
// commands can reference secrets without embedding them in the file).
func Load(path string) (*Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent file: %w", err)
	}
	return Parse(path, string(raw))
}

// Parse is the pure form of Load, exposed so callers (hot reload, tests) can
// supply content without a filesystem round trip.
func Parse(path, content string) (*Agent, error) {
	match := frontMatterFence.FindStringSubmatchIndex(content)
	if match == nil {
		return nil, fmt.Errorf("%s: missing YAML front matter (expected leading --- fences)", path)
	}
	yamlBlock := content[match[2]:match[3]]
	body := content[match[1]:]

	expanded := ExpandEnv(yamlBlock)

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("%s: parse front matter: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("%s: decode front matter: %w", path, err)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s: model is required", path)
	}
	if len(cfg.MCPServersLegacy) > 0 {
		slog.Warn("agentfile.deprecated_key", "path", path, "key", "mcp_servers", "use", "mcpServers")
		if cfg.MCPServers == nil {
			cfg.MCPServers = map[string]*MCPServerSpec{}
		}
		for k, v := range cfg.MCPServersLegacy {
			if _, exists := cfg.MCPServers[k]; !exists {
				cfg.MCPServers[k] = v
			}
		}
	}

	cfg.ProviderOptions = extractProviderOptions(raw)

	name := strings.TrimSuffix(filepathBase(path), ".agentuse")
	return &Agent{
		Path:           path,
		Name:           name,
		Instructions:   strings.TrimSpace(body),
		Config:         cfg,
		RawFrontMatter: yamlBlock,
	}, nil
}

var knownKeys = map[string]bool{
	"model": true, "description": true, "timeout": true, "maxSteps": true,
	"mcpServers": true, "mcp_servers": true, "subagents": true,
	"tools": true, "schedule": true,
}

// extractProviderOptions collects the front-matter keys spec.md §6 forwards
// verbatim (openai, anthropic, ... any key this package doesn't model).
func extractProviderOptions(raw map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			out[k] = m
		}
	}
	return out
}

var envRef = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every "${env:VAR}" reference with the value of VAR from
// the process environment, leaving unset variables as an empty string (the
// env-var policy pass, run separately, is what reports them missing).
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		name := envRef.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// EnvRefs returns the distinct "${env:VAR}" variable names referenced in s.
func EnvRefs(s string) []string {
	matches := envRef.FindAllStringSubmatch(s, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func filepathBase(p string) string {
	i := strings.LastIndexAny(p, "/\\")
	if i < 0 {
		return p
	}
	return p[i+1:]
}
