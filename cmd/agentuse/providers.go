package main

import (
	"log/slog"
	"os"

	"github.com/agentuse/agentuse/internal/providers"
)

// registerProviders wires every model provider with credentials present in
// the process environment, mirroring the teacher's registerProviders
// (cmd/gateway_providers.go) but sourcing keys from the environment: spec.md
// §6 defers credential storage and OAuth flows to an external resolver, so
// the core only ever sees an already-resolved API key.
func registerProviders(registry *providers.Registry) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		registry.Register(providers.NewAnthropicProvider(key))
		slog.Debug("provider.registered", "name", "anthropic")
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		registry.Register(providers.NewOpenAIProvider(key))
		slog.Debug("provider.registered", "name", "openai")
	}
}
