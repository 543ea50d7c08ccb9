// Package project locates and initializes the per-project data directory.
// A project is any directory containing a .paranoid-coder subdirectory; the
// subdirectory holds the store database, the optional project config, and
// the optional prompt override file.
package project

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/errs"
	"github.com/bradylowe/paranoid-coder/internal/hasher"
)

// DataDirName is the marker subdirectory created by init.
const DataDirName = ".paranoid-coder"

// DBFileName is the store database inside the data directory.
const DBFileName = "summaries.db"

// PromptOverridesFile is the optional prompt override file.
const PromptOverridesFile = "prompts.json"

// Project is a resolved project root and its data paths.
type Project struct {
	Root    string
	DataDir string
}

// Find walks parents of start until a directory containing .paranoid-coder
// is found. Fails with NoProjectFound when the filesystem root is reached.
func Find(start string) (*Project, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "resolve %s", start)
	}
	abs = hasher.NormalizePath(abs)

	dir := abs
	for {
		dataDir := filepath.Join(dir, DataDirName)
		if info, err := os.Stat(dataDir); err == nil && info.IsDir() {
			return &Project{Root: dir, DataDir: dataDir}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, errs.New(errs.NoProjectFound, "no %s found above %s", DataDirName, abs).
				WithRemedy("run 'paranoid init' in the project root")
		}
		dir = parent
	}
}

// Init creates the data directory under root. Re-initializing an existing
// project is idempotent: the bool result is true and no error is returned.
func Init(root string, logger *zap.Logger) (*Project, bool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false, errs.Wrap(errs.IoError, err, "resolve %s", root)
	}
	abs = hasher.NormalizePath(abs)

	dataDir := filepath.Join(abs, DataDirName)
	if info, err := os.Stat(dataDir); err == nil && info.IsDir() {
		logger.Info("Project already initialized", zap.String("root", abs))
		return &Project{Root: abs, DataDir: dataDir}, true, nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, false, errs.Wrap(errs.IoError, err, "create %s", dataDir)
	}

	logger.Info("Initialized project", zap.String("root", abs))
	return &Project{Root: abs, DataDir: dataDir}, false, nil
}

// DBPath returns the store database path.
func (p *Project) DBPath() string {
	return filepath.Join(p.DataDir, DBFileName)
}

// PromptOverridesPath returns the prompt override file path.
func (p *Project) PromptOverridesPath() string {
	return filepath.Join(p.DataDir, PromptOverridesFile)
}

// Contains reports whether path is under the project root.
func (p *Project) Contains(path string) bool {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}

// Rel returns path relative to the project root.
func (p *Project) Rel(path string) (string, error) {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil {
		return "", errs.Wrap(errs.IoError, err, "relativize %s", path)
	}
	return rel, nil
}
