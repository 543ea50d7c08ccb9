package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/config"
)

func newTestMatcher(t *testing.T, root string, cfg *config.Config) *Matcher {
	t.Helper()
	return NewMatcher(root, cfg, zap.NewNop())
}

func TestMatcher_Builtins(t *testing.T) {
	root := t.TempDir()
	m := newTestMatcher(t, root, config.Defaults())

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{filepath.Join(root, ".paranoid-coder"), true, true},
		{filepath.Join(root, ".git"), true, true},
		{filepath.Join(root, "src"), true, false},
		{filepath.Join(root, "src", "a.py"), false, false},
	}

	for _, tt := range tests {
		if got := m.Ignored(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Ignored(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestMatcher_GitignoreOverlay(t *testing.T) {
	root := t.TempDir()
	gitignore := "*.log\nbuild/\n!keep.log\n# a comment\n\n"
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestMatcher(t, root, config.Defaults())

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{filepath.Join(root, "debug.log"), false, true},
		{filepath.Join(root, "keep.log"), false, false},
		{filepath.Join(root, "build"), true, true},
		{filepath.Join(root, "build"), false, false}, // trailing / restricts to dirs
		{filepath.Join(root, "main.py"), false, false},
	}

	for _, tt := range tests {
		if got := m.Ignored(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Ignored(%s, dir=%v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestMatcher_ParanoidignoreOverlay(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ParanoidIgnoreFile), []byte("secrets/\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newTestMatcher(t, root, config.Defaults())
	if !m.Ignored(filepath.Join(root, "secrets"), true) {
		t.Error("paranoidignore patterns should apply")
	}
}

func TestMatcher_UseGitignoreDisabled(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	off := false
	cfg.UseGitignore = &off

	m := newTestMatcher(t, root, cfg)
	if m.Ignored(filepath.Join(root, "debug.log"), false) {
		t.Error("gitignore should not apply when disabled")
	}
}

func TestMatcher_AdditionalPatterns(t *testing.T) {
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.AdditionalPatterns = []string{"**/generated.py"}

	m := newTestMatcher(t, root, cfg)
	if !m.Ignored(filepath.Join(root, "src", "generated.py"), false) {
		t.Error("additional patterns should apply")
	}
}

func TestMatcher_DataDirAlwaysIgnored(t *testing.T) {
	root := t.TempDir()
	cfg := config.Defaults()
	off := false
	cfg.BuiltinPatterns = &off

	m := newTestMatcher(t, root, cfg)
	if !m.Ignored(filepath.Join(root, ".paranoid-coder"), true) {
		t.Error("the data directory is never indexable")
	}
}

func TestMatcher_OutsideRoot(t *testing.T) {
	root := t.TempDir()
	m := newTestMatcher(t, root, config.Defaults())
	if !m.Ignored(filepath.Join(root, "..", "outside.py"), false) {
		t.Error("paths outside the root are ignored")
	}
}
