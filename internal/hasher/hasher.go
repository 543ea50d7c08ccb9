// Package hasher implements the two-level hashing scheme that drives
// incremental summarization: a content hash over file bytes and a tree hash
// over the sorted hashes of a directory's direct children.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

// ContentHash returns the SHA-256 hex digest of the file's bytes.
// Binary-safe. Fails with IoError for unreadable or non-regular files.
func ContentHash(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", errs.Wrap(errs.IoError, err, "stat %s", path)
	}
	if !info.Mode().IsRegular() {
		return "", errs.New(errs.IoError, "not a regular file: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.IoError, err, "open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.Wrap(errs.IoError, err, "read %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TreeHash digests the lexicographically sorted child hashes concatenated.
// An empty child set hashes the empty concatenation, so empty directories
// still get a stable hash. Any change to any descendant propagates upward
// because each ancestor's tree hash is a pure function of its children's.
func TreeHash(childHashes []string) string {
	sorted := make([]string, len(childHashes))
	copy(sorted, childHashes)
	sort.Strings(sorted)

	h := sha256.New()
	for _, ch := range sorted {
		h.Write([]byte(ch))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashStrings digests a sorted copy of the given identifiers. Used for the
// imports-hash of a summary context snapshot.
func HashStrings(values []string) string {
	return TreeHash(values)
}

// NormalizePath NFC-normalizes a path so that unicode-equal paths collide
// on the same store key.
func NormalizePath(path string) string {
	return norm.NFC.String(path)
}
