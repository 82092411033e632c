package providers

import "strings"

// contextWindows maps known model identifiers to their context-window size
// in tokens, per each vendor's published model card. Looked up with the
// bare model id (the part after "provider:"), so the same table serves
// every registered provider.
var contextWindows = map[string]int{
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-5-sonnet-latest":   200000,
	"claude-3-5-haiku-20241022":  200000,
	"claude-3-opus-20240229":     200000,
	"claude-sonnet-4-5":          200000,
	"claude-opus-4-1":            200000,
	"gpt-4o":                     128000,
	"gpt-4o-mini":                128000,
	"gpt-4-turbo":                128000,
	"gpt-4":                      8192,
	"gpt-3.5-turbo":              16385,
}

// defaultContextWindow is used for any model id not in contextWindows, so
// an unrecognized or newly-released model still gets a usable (if
// conservative) compaction budget instead of disabling C4 outright.
const defaultContextWindow = 128000

// ContextWindow returns the context-window size, in tokens, for model —
// either a bare model id ("gpt-4o") or a "provider:model" identifier
// ("anthropic:claude-3-5-sonnet-20241022").
func ContextWindow(model string) int {
	if _, id, found := strings.Cut(model, ":"); found {
		model = id
	}
	if w, ok := contextWindows[model]; ok {
		return w
	}
	return defaultContextWindow
}
