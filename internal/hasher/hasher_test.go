package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

func TestContentHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	content := []byte("def f():\n    return 1\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ContentHash(path)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}

	want := sha256.Sum256(content)
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("ContentHash = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestContentHash_BinarySafe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	content := []byte{0x00, 0xff, 0x7f, 0x00, 0x01}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ContentHash(path); err != nil {
		t.Errorf("ContentHash should succeed on binary content: %v", err)
	}
}

func TestContentHash_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope")},
		{"directory", dir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ContentHash(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errs.Is(err, errs.IoError) {
				t.Errorf("expected IoError, got %v", err)
			}
		})
	}
}

func TestTreeHash_EmptyChildren(t *testing.T) {
	empty := sha256.Sum256(nil)
	if got := TreeHash(nil); got != hex.EncodeToString(empty[:]) {
		t.Errorf("empty tree hash = %s, want hash of empty concatenation", got)
	}
}

func TestTreeHash_OrderIndependent(t *testing.T) {
	a := TreeHash([]string{"h1", "h2", "h3"})
	b := TreeHash([]string{"h3", "h1", "h2"})
	if a != b {
		t.Error("tree hash should not depend on input order")
	}
}

func TestTreeHash_ChangePropagates(t *testing.T) {
	before := TreeHash([]string{"h1", "h2"})
	after := TreeHash([]string{"h1", "h2-changed"})
	if before == after {
		t.Error("changing any child hash must change the tree hash")
	}
}

func TestNormalizePath_NFC(t *testing.T) {
	// "é" composed vs decomposed.
	composed := "café.py"
	decomposed := "café.py"
	if NormalizePath(composed) != NormalizePath(decomposed) {
		t.Error("unicode-equal paths should normalize to the same key")
	}
}
