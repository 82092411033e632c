package mcp

import (
	"fmt"
	"os"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/agentuse/agentuse/internal/agentfile"
)

// newClient builds the mcp-go client for one provider spec, composing the
// stdio environment from the allowed ambient variables plus literal
// overrides, or configuring the HTTP auth scheme, per spec.md §3/§4.3.
func newClient(spec *agentfile.MCPServerSpec) (*mcpclient.Client, string, error) {
	if spec.IsStdio() {
		env := composeEnv(spec.AllowedEnvVars, spec.Env)
		client, err := mcpclient.NewStdioMCPClient(spec.Command, env, spec.Args...)
		return client, "stdio", err
	}

	if spec.URL == "" {
		return nil, "", fmt.Errorf("http provider requires a url")
	}
	opts := httpOptions(spec.Auth)
	client, err := mcpclient.NewStreamableHttpClient(spec.URL, opts...)
	return client, "http", err
}

// composeEnv builds the subprocess environment from defaults (none beyond
// what exec.Cmd inherits are passed — the child receives exactly this list)
// plus the ambient variables named in allowed, plus literal overrides.
func composeEnv(allowed []string, literal map[string]string) []string {
	var env []string
	for _, name := range allowed {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	for k, v := range literal {
		env = append(env, k+"="+v)
	}
	return env
}

func httpOptions(auth *agentfile.AuthSpec) []transport.StreamableHTTPCOption {
	if auth == nil {
		return nil
	}
	headers := map[string]string{}
	switch auth.Kind {
	case "bearer":
		headers["Authorization"] = "Bearer " + auth.Token
	case "basic":
		headers["Authorization"] = basicAuthHeader(auth.User, auth.Pass)
	case "custom":
		if auth.Header != "" {
			headers[auth.Header] = auth.Value
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return []transport.StreamableHTTPCOption{transport.WithHTTPHeaders(headers)}
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + basicAuthEncode(user, pass)
}
