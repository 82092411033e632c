package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// DoomLoopMode selects how a detected doom loop is handled.
type DoomLoopMode string

const (
	DoomLoopWarn      DoomLoopMode = "warn"
	DoomLoopError     DoomLoopMode = "error"
	DoomLoopTerminate DoomLoopMode = "terminate"
)

// DoomLoopConfig configures repeated-call detection, per spec.md §4.5.
type DoomLoopConfig struct {
	Mode      DoomLoopMode
	Threshold int // number of identical trailing calls that trip detection
	Window    int // how many recent calls to remember
}

// DefaultDoomLoopConfig matches spec.md's stated defaults.
func DefaultDoomLoopConfig() DoomLoopConfig {
	return DoomLoopConfig{Mode: DoomLoopWarn, Threshold: 3, Window: 10}
}

// doomLoopDetector maintains a sliding record of (tool name, argument
// fingerprint) pairs and reports whether the most recent Threshold calls
// are all identical.
type doomLoopDetector struct {
	cfg     DoomLoopConfig
	history []string
}

func newDoomLoopDetector(cfg DoomLoopConfig) *doomLoopDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.Mode == "" {
		cfg.Mode = DoomLoopWarn
	}
	return &doomLoopDetector{cfg: cfg}
}

// Record appends one call's fingerprint and reports whether it trips the
// doom-loop threshold.
func (d *doomLoopDetector) Record(name string, args map[string]any) bool {
	d.history = append(d.history, fingerprint(name, args))
	if len(d.history) > d.cfg.Window {
		d.history = d.history[len(d.history)-d.cfg.Window:]
	}
	if len(d.history) < d.cfg.Threshold {
		return false
	}
	tail := d.history[len(d.history)-d.cfg.Threshold:]
	first := tail[0]
	for _, h := range tail[1:] {
		if h != first {
			return false
		}
	}
	return true
}

func fingerprint(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(args))
	for _, k := range keys {
		ordered[k] = args[k]
	}
	b, _ := json.Marshal(struct {
		Name string
		Args map[string]any
	}{name, ordered})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
