package project

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

func TestInitAndFind(t *testing.T) {
	root := t.TempDir()

	proj, existed, err := Init(root, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("fresh init should not report already-initialized")
	}
	if _, err := os.Stat(proj.DataDir); err != nil {
		t.Fatalf("data dir missing: %v", err)
	}

	// Discovery walks up from a nested path.
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	found, err := Find(nested)
	if err != nil {
		t.Fatal(err)
	}
	if found.Root != proj.Root {
		t.Errorf("found root = %s, want %s", found.Root, proj.Root)
	}
}

func TestInit_Idempotent(t *testing.T) {
	root := t.TempDir()

	if _, _, err := Init(root, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	_, existed, err := Init(root, zap.NewNop())
	if err != nil {
		t.Fatalf("re-init must not fail: %v", err)
	}
	if !existed {
		t.Error("re-init should report already-initialized")
	}
}

func TestFind_NoProject(t *testing.T) {
	_, err := Find(t.TempDir())
	if err == nil {
		t.Fatal("expected NoProjectFound")
	}
	if !errs.Is(err, errs.NoProjectFound) {
		t.Errorf("expected NoProjectFound, got %v", err)
	}
}

func TestProjectPaths(t *testing.T) {
	root := t.TempDir()
	proj, _, err := Init(root, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if proj.DBPath() != filepath.Join(proj.DataDir, DBFileName) {
		t.Errorf("db path = %s", proj.DBPath())
	}
	if proj.PromptOverridesPath() != filepath.Join(proj.DataDir, PromptOverridesFile) {
		t.Errorf("overrides path = %s", proj.PromptOverridesPath())
	}
}

func TestContains(t *testing.T) {
	root := t.TempDir()
	proj, _, err := Init(root, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{proj.Root, true},
		{filepath.Join(proj.Root, "src", "a.py"), true},
		{filepath.Join(proj.Root, ".."), false},
		{"/somewhere/else", false},
	}

	for _, tt := range tests {
		if got := proj.Contains(tt.path); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
