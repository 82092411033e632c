package mcp

import (
	"sort"
	"testing"

	"github.com/agentuse/agentuse/internal/agentfile"
)

func TestComposeEnv_AllowedPlusLiteral(t *testing.T) {
	t.Setenv("AGENTUSE_MCP_TEST_ALLOWED", "ambient-value")

	env := composeEnv([]string{"AGENTUSE_MCP_TEST_ALLOWED", "AGENTUSE_MCP_TEST_UNSET"}, map[string]string{"LITERAL": "override"})
	sort.Strings(env)

	found := map[string]bool{}
	for _, e := range env {
		found[e] = true
	}
	if !found["AGENTUSE_MCP_TEST_ALLOWED=ambient-value"] {
		t.Fatalf("expected allowed ambient var forwarded, got %v", env)
	}
	if !found["LITERAL=override"] {
		t.Fatalf("expected literal override present, got %v", env)
	}
	for _, e := range env {
		if len(e) >= len("AGENTUSE_MCP_TEST_UNSET") && e[:len("AGENTUSE_MCP_TEST_UNSET")] == "AGENTUSE_MCP_TEST_UNSET" {
			t.Fatalf("unset allowed var must not appear in composed env, got %v", env)
		}
	}
}

func TestHTTPOptions_NilAuthProducesNoOptions(t *testing.T) {
	opts := httpOptions(nil)
	if opts != nil {
		t.Fatalf("expected nil options for nil auth, got %v", opts)
	}
}

func TestHTTPOptions_BearerSetsAuthorizationHeader(t *testing.T) {
	opts := httpOptions(&agentfile.AuthSpec{Kind: "bearer", Token: "tok123"})
	if len(opts) != 1 {
		t.Fatalf("expected one option for bearer auth, got %d", len(opts))
	}
}

func TestBasicAuthHeader_Format(t *testing.T) {
	h := basicAuthHeader("user", "pass")
	if h[:6] != "Basic " {
		t.Fatalf("expected Basic prefix, got %q", h)
	}
}
