package validate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathValidator_EnvFilesAlwaysDenied(t *testing.T) {
	root := t.TempDir()
	v := NewPathValidator(root, []PathRule{{Pattern: "**", Permissions: []Permission{PermRead, PermWrite, PermEdit}}})

	for _, name := range []string{".env", ".env.local", "nested/.env.production"} {
		res := v.Validate(name, PermRead)
		if res.Allowed {
			t.Fatalf("expected %q to be denied, got %+v", name, res)
		}
	}
	for _, name := range []string{".env.example", ".env.sample", ".env.template"} {
		res := v.Validate(name, PermRead)
		if !res.Allowed {
			t.Fatalf("expected %q to be allowed, got %+v", name, res)
		}
	}
}

func TestPathValidator_EmptyRulesDenyAll(t *testing.T) {
	v := NewPathValidator(t.TempDir(), nil)
	res := v.Validate("anything.txt", PermRead)
	if res.Allowed {
		t.Fatal("expected empty rule set to deny all paths")
	}
}

func TestPathValidator_PatternGrantsSpecificPermission(t *testing.T) {
	root := t.TempDir()
	v := NewPathValidator(root, []PathRule{{Pattern: "docs/**", Permissions: []Permission{PermRead}}})

	if res := v.Validate("docs/readme.txt", PermRead); !res.Allowed {
		t.Fatalf("expected read to be allowed, got %+v", res)
	}
	if res := v.Validate("docs/readme.txt", PermWrite); res.Allowed {
		t.Fatal("expected write to be denied by a read-only rule")
	}
}

// A later, more specific rule must still grant access when an earlier,
// broader rule matches the same path but doesn't grant the requested
// permission — matching must not stop at the first matching pattern.
func TestPathValidator_LaterRuleGrantsAfterEarlierMatchWithoutGrant(t *testing.T) {
	root := t.TempDir()
	v := NewPathValidator(root, []PathRule{
		{Pattern: "**", Permissions: []Permission{PermRead}},
		{Pattern: "src/**", Permissions: []Permission{PermRead, PermWrite, PermEdit}},
	})

	res := v.Validate("src/foo.go", PermEdit)
	if !res.Allowed {
		t.Fatalf("expected the second rule to grant edit despite the first rule matching without granting it, got %+v", res)
	}
}

func TestPathValidator_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(outsideFile, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	v := NewPathValidator(root, []PathRule{{Pattern: "**", Permissions: []Permission{PermRead}}})
	res := v.Validate("link", PermRead)
	if res.Allowed {
		t.Fatalf("expected symlink escaping root to be denied once resolved, got %+v", res)
	}
}
