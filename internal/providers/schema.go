package providers

// CleanSchemaForProvider strips JSON Schema keywords a given provider's tool
// schema dialect does not accept, so the same ToolDefinition.Parameters map
// (authored once, and checked against the tool's declared arguments by
// tools.ValidateArgs before invocation) can be sent to any backend.
// Anthropic and OpenAI both reject "$schema" and "additionalProperties" at
// the top level of a tool input schema; Anthropic additionally rejects
// "default".
func CleanSchemaForProvider(provider string, schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	cleaned := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "$schema", "additionalProperties":
			continue
		case "default":
			if provider == "anthropic" {
				continue
			}
		}
		cleaned[k] = v
	}
	if _, ok := cleaned["type"]; !ok {
		cleaned["type"] = "object"
	}
	return cleaned
}
