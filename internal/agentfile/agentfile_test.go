package agentfile

import (
	"strings"
	"testing"
)

const sampleAgent = `---
model: anthropic:claude-3-5-sonnet
description: demo agent
timeout: 30
maxSteps: 5
tools:
  bash:
    commands:
      - "echo *"
  filesystem:
    - path: "docs/**"
      permissions: ["read"]
mcpServers:
  fs:
    command: npx
    args: ["mcp-fs"]
    allowedEnvVars: ["HOME"]
anthropic:
  thinking: true
---

Say hi to the user.
`

func TestParse_BasicFields(t *testing.T) {
	agent, err := Parse("/agents/demo.agentuse", sampleAgent)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if agent.Name != "demo" {
		t.Fatalf("Name = %q, want demo", agent.Name)
	}
	if agent.Config.Model != "anthropic:claude-3-5-sonnet" {
		t.Fatalf("Model = %q", agent.Config.Model)
	}
	if agent.Config.Timeout != 30 || agent.Config.MaxSteps != 5 {
		t.Fatalf("Timeout/MaxSteps = %d/%d", agent.Config.Timeout, agent.Config.MaxSteps)
	}
	if strings.TrimSpace(agent.Instructions) != "Say hi to the user." {
		t.Fatalf("Instructions = %q", agent.Instructions)
	}
	if len(agent.Config.Tools.Bash.Commands) != 1 || agent.Config.Tools.Bash.Commands[0] != "echo *" {
		t.Fatalf("Bash.Commands = %v", agent.Config.Tools.Bash.Commands)
	}
	if len(agent.Config.Tools.Filesystem) != 1 || agent.Config.Tools.Filesystem[0].Path != "docs/**" {
		t.Fatalf("Filesystem = %+v", agent.Config.Tools.Filesystem)
	}
	fs, ok := agent.Config.MCPServers["fs"]
	if !ok {
		t.Fatal("expected an mcpServers.fs entry")
	}
	if !fs.IsStdio() || fs.Command != "npx" {
		t.Fatalf("fs spec = %+v", fs)
	}
	opts, ok := agent.Config.ProviderOptions["anthropic"]
	if !ok || opts["thinking"] != true {
		t.Fatalf("ProviderOptions[anthropic] = %+v", opts)
	}
}

func TestParse_MissingModelRejected(t *testing.T) {
	_, err := Parse("/agents/bad.agentuse", "---\ndescription: no model\n---\nbody")
	if err == nil {
		t.Fatal("expected an error when model is missing")
	}
}

func TestParse_MissingFrontMatterRejected(t *testing.T) {
	_, err := Parse("/agents/bad.agentuse", "just a markdown body, no fences")
	if err == nil {
		t.Fatal("expected an error for missing front matter")
	}
}

func TestParse_LegacyMCPServersKeyMergedWithWarningSemantics(t *testing.T) {
	content := `---
model: openai:gpt-4o-mini
mcp_servers:
  legacy:
    command: old-tool
---
body
`
	agent, err := Parse("/agents/legacy.agentuse", content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := agent.Config.MCPServers["legacy"]; !ok {
		t.Fatal("expected deprecated mcp_servers entries to be merged into MCPServers")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AGENTUSE_TEST_VAR", "secretvalue")
	out := ExpandEnv("token: ${env:AGENTUSE_TEST_VAR}")
	if out != "token: secretvalue" {
		t.Fatalf("ExpandEnv = %q", out)
	}
}

func TestEnvRefs_DistinctNamesOnly(t *testing.T) {
	refs := EnvRefs("${env:A} text ${env:B} ${env:A}")
	if len(refs) != 2 {
		t.Fatalf("EnvRefs = %v, want 2 distinct entries", refs)
	}
}
