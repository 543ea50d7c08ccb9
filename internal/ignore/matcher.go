// Package ignore decides which paths participate in indexing. Pattern
// semantics are gitignore's, delegated to go-git's matcher: *, **, ?,
// character classes, leading ! negation, trailing / directory restriction.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/config"
	"github.com/bradylowe/paranoid-coder/internal/project"
)

// ParanoidIgnoreFile is the project-local ignore file overlaying .gitignore.
const ParanoidIgnoreFile = ".paranoidignore"

// builtinPatterns always apply: the project data directory and the VCS
// directory never participate.
var builtinPatterns = []string{
	project.DataDirName + "/",
	".git/",
}

// Matcher answers whether a path under the project root is ignored.
type Matcher struct {
	root    string
	matcher gitignore.Matcher
	loaded  []LoadedPattern
	logger  *zap.Logger
}

// LoadedPattern records a pattern and which layer supplied it, for the
// ignore-pattern audit table.
type LoadedPattern struct {
	Pattern string
	Source  string // "builtin", "gitignore", "paranoidignore", "config"
}

// NewMatcher builds the layered matcher: built-ins, then .gitignore and
// .paranoidignore when enabled, then configured additional patterns.
// Later layers win, which gives ! negations in project files the last word.
func NewMatcher(root string, cfg *config.Config, logger *zap.Logger) *Matcher {
	var patterns []gitignore.Pattern
	var loaded []LoadedPattern

	add := func(raw, source string) {
		patterns = append(patterns, gitignore.ParsePattern(raw, nil))
		loaded = append(loaded, LoadedPattern{Pattern: raw, Source: source})
	}

	if cfg.GetBuiltinPatterns() {
		for _, p := range builtinPatterns {
			add(p, "builtin")
		}
	} else {
		// The data directory is never indexable, even with builtins off.
		add(project.DataDirName+"/", "builtin")
	}

	if cfg.GetUseGitignore() {
		for _, p := range readPatternFile(filepath.Join(root, ".gitignore"), logger) {
			add(p, "gitignore")
		}
		for _, p := range readPatternFile(filepath.Join(root, ParanoidIgnoreFile), logger) {
			add(p, "paranoidignore")
		}
	}

	for _, p := range cfg.AdditionalPatterns {
		add(p, "config")
	}

	return &Matcher{
		root:    root,
		matcher: gitignore.NewMatcher(patterns),
		loaded:  loaded,
		logger:  logger,
	}
}

// readPatternFile reads one ignore file, skipping comments and blanks.
// A missing file is fine.
func readPatternFile(path string, logger *zap.Logger) []string {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read ignore file", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Failed to scan ignore file", zap.String("path", path), zap.Error(err))
	}
	return out
}

// Ignored reports whether the absolute path is excluded. Matching is
// relative to the project root; paths outside the root are ignored.
func (m *Matcher) Ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	if rel == "." {
		return false
	}
	return m.matcher.Match(strings.Split(filepath.ToSlash(rel), "/"), isDir)
}

// Patterns returns the patterns in effect, in load order.
func (m *Matcher) Patterns() []LoadedPattern {
	return m.loaded
}
