package envpolicy

import (
	"os"
	"testing"

	"github.com/agentuse/agentuse/internal/agentfile"
)

const sampleAgent = `---
model: anthropic:claude-sonnet-4-5
mcpServers:
  files:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem"]
    requiredEnvVars: ["FILES_TOKEN"]
    allowedEnvVars: ["FILES_DEBUG"]
tools:
  bash:
    commands: ["echo ${env:GREETING}"]
---
Say hi.
`

func loadSample(t *testing.T) *agentfile.Agent {
	t.Helper()
	os.Setenv("GREETING", "hello") // consumed by Parse's eager expansion
	defer os.Unsetenv("GREETING")
	agent, err := agentfile.Parse("sample.agentuse", sampleAgent)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return agent
}

func TestExtract_CollectsAllThreeSources(t *testing.T) {
	agent := loadSample(t)
	refs := Extract(agent)

	want := map[string]Source{
		"GREETING":    SourceInline,
		"FILES_TOKEN": SourceRequired,
		"FILES_DEBUG": SourceAllowed,
	}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d: %+v", len(refs), len(want), refs)
	}
	for _, ref := range refs {
		src, ok := want[ref.Name]
		if !ok {
			t.Errorf("unexpected ref %+v", ref)
			continue
		}
		if ref.Source != src {
			t.Errorf("ref %s: source = %s, want %s", ref.Name, ref.Source, src)
		}
	}
}

func TestCheck_MissingRequiredFailsValidation(t *testing.T) {
	agent := loadSample(t)
	os.Unsetenv("FILES_TOKEN")
	os.Unsetenv("GREETING")
	os.Unsetenv("FILES_DEBUG")

	report := Check(agent)
	if report.Valid {
		t.Fatal("Valid = true, want false when required vars are unset")
	}
	if !report.HasMissing() {
		t.Fatal("HasMissing() = false, want true")
	}
	if len(report.MissingOptional) != 1 || report.MissingOptional[0] != "FILES_DEBUG" {
		t.Errorf("MissingOptional = %v, want [FILES_DEBUG]", report.MissingOptional)
	}
}

func TestCheck_AllSetIsValid(t *testing.T) {
	os.Setenv("GREETING", "hello")
	os.Setenv("FILES_TOKEN", "secret")
	os.Setenv("FILES_DEBUG", "1")
	defer func() {
		os.Unsetenv("GREETING")
		os.Unsetenv("FILES_TOKEN")
		os.Unsetenv("FILES_DEBUG")
	}()

	agent, err := agentfile.Parse("sample.agentuse", sampleAgent)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	report := Check(agent)
	if !report.Valid {
		t.Fatalf("Valid = false, want true: %+v", report)
	}
	if report.HasMissing() {
		t.Fatal("HasMissing() = true, want false")
	}
}
