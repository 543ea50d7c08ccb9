package parse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/config"
	"github.com/bradylowe/paranoid-coder/internal/errs"
	"github.com/bradylowe/paranoid-coder/internal/hasher"
	"github.com/bradylowe/paranoid-coder/internal/ignore"
	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/store"
)

type extractorFixture struct {
	root  string
	store *store.Store
	ex    *Extractor
}

func newExtractorFixture(t *testing.T) *extractorFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "summaries.db"), "python", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	return &extractorFixture{
		root:  t.TempDir(),
		store: st,
		ex:    NewExtractor(st, zap.NewNop()),
	}
}

func (fx *extractorFixture) writeFile(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(fx.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return hasher.NormalizePath(path)
}

const authSource = `
class User:
    """A user account."""

    def login(self, password):
        return password == "ok"


def authenticate(user):
    return User.login(user)
`

func TestAnalyzeFile_EntitiesAndCalls(t *testing.T) {
	fx := newExtractorFixture(t)
	ctx := context.Background()
	path := fx.writeFile(t, "auth.py", authSource)

	count, skipped, err := fx.ex.AnalyzeFile(ctx, path, false)
	if err != nil {
		t.Fatal(err)
	}
	if skipped || count != 3 {
		t.Fatalf("count = %d skipped = %v, want 3 entities", count, skipped)
	}

	entities, err := fx.store.EntitiesForFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	byQual := map[string]*model.Entity{}
	for _, e := range entities {
		byQual[e.QualifiedName] = e
	}

	if byQual["User"] == nil || byQual["User"].Kind != model.EntityClass {
		t.Errorf("User = %+v", byQual["User"])
	}
	if byQual["User.login"] == nil || byQual["User.login"].Kind != model.EntityMethod {
		t.Errorf("User.login = %+v", byQual["User.login"])
	}
	if byQual["authenticate"] == nil || byQual["authenticate"].Kind != model.EntityFunction {
		t.Errorf("authenticate = %+v", byQual["authenticate"])
	}

	callers, err := fx.store.CallersOf(ctx, byQual["User.login"].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(callers) != 1 || callers[0].FromEntity != byQual["authenticate"].ID {
		t.Errorf("callers of User.login = %+v", callers)
	}
}

func TestAnalyzeFile_IncrementalSkip(t *testing.T) {
	fx := newExtractorFixture(t)
	ctx := context.Background()
	path := fx.writeFile(t, "auth.py", authSource)

	if _, _, err := fx.ex.AnalyzeFile(ctx, path, false); err != nil {
		t.Fatal(err)
	}

	// Unchanged content: the second analysis performs zero parses.
	_, skipped, err := fx.ex.AnalyzeFile(ctx, path, false)
	if err != nil {
		t.Fatal(err)
	}
	if !skipped {
		t.Error("unchanged file should be skipped")
	}

	// --force bypasses the skip.
	_, skipped, err = fx.ex.AnalyzeFile(ctx, path, true)
	if err != nil {
		t.Fatal(err)
	}
	if skipped {
		t.Error("force must bypass the analysis-hash skip")
	}
}

func TestAnalyzeFile_ReplaceOnChange(t *testing.T) {
	fx := newExtractorFixture(t)
	ctx := context.Background()
	path := fx.writeFile(t, "auth.py", authSource)

	if _, _, err := fx.ex.AnalyzeFile(ctx, path, false); err != nil {
		t.Fatal(err)
	}

	fx.writeFile(t, "auth.py", "def only_one(): pass\n")
	count, skipped, err := fx.ex.AnalyzeFile(ctx, path, false)
	if err != nil {
		t.Fatal(err)
	}
	if skipped || count != 1 {
		t.Fatalf("count = %d skipped = %v after rewrite", count, skipped)
	}

	entities, _ := fx.store.EntitiesForFile(ctx, path)
	if len(entities) != 1 || entities[0].QualifiedName != "only_one" {
		t.Errorf("entities after rewrite = %+v", entities)
	}
}

func TestAnalyzeFile_UnsupportedLanguage(t *testing.T) {
	fx := newExtractorFixture(t)
	path := fx.writeFile(t, "notes.txt", "hello")

	_, _, err := fx.ex.AnalyzeFile(context.Background(), path, false)
	if !errs.Is(err, errs.UnsupportedLanguage) {
		t.Errorf("expected UnsupportedLanguage, got %v", err)
	}
}

func TestAnalyzeFile_InstantiationResolvesToClass(t *testing.T) {
	fx := newExtractorFixture(t)
	ctx := context.Background()
	path := fx.writeFile(t, "svc.py", `
class Store:
    pass


def build():
    return Store()
`)

	if _, _, err := fx.ex.AnalyzeFile(ctx, path, false); err != nil {
		t.Fatal(err)
	}

	entities, _ := fx.store.EntitiesForFile(ctx, path)
	var build *model.Entity
	for _, e := range entities {
		if e.QualifiedName == "build" {
			build = e
		}
	}
	if build == nil {
		t.Fatal("missing build")
	}

	callees, err := fx.store.CalleesOf(ctx, build.ID)
	if err != nil {
		t.Fatal(err)
	}
	// Calls to a resolved class entity record as instantiation, so the
	// plain calls query returns nothing for build.
	if len(callees) != 0 {
		t.Errorf("calls = %+v, want construction edge instead", callees)
	}
}

func TestAnalyzeFile_CrossFileResolution(t *testing.T) {
	fx := newExtractorFixture(t)
	ctx := context.Background()

	libPath := fx.writeFile(t, "lib.py", "def helper():\n    pass\n")
	if _, _, err := fx.ex.AnalyzeFile(ctx, libPath, false); err != nil {
		t.Fatal(err)
	}

	appPath := fx.writeFile(t, "app.py", `
import lib


def run():
    lib.helper()
`)
	if _, _, err := fx.ex.AnalyzeFile(ctx, appPath, false); err != nil {
		t.Fatal(err)
	}

	helpers, err := fx.store.GetEntitiesByQualifiedName(ctx, "helper")
	if err != nil {
		t.Fatal(err)
	}
	if len(helpers) != 1 {
		t.Fatal("missing helper entity")
	}

	callers, err := fx.store.CallersOf(ctx, helpers[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(callers) != 1 || callers[0].FromFile != appPath {
		t.Errorf("cross-file callers = %+v", callers)
	}
}

func TestAnalyzeTree_WalksAndSkips(t *testing.T) {
	fx := newExtractorFixture(t)
	ctx := context.Background()

	fx.writeFile(t, "src/a.py", "def a(): pass\n")
	fx.writeFile(t, "src/b.js", "function b() {}\n")
	fx.writeFile(t, "README.md", "# readme\n")
	fx.writeFile(t, ".gitignore", "skip.py\n")
	fx.writeFile(t, "skip.py", "def s(): pass\n")

	matcher := ignore.NewMatcher(fx.root, config.Defaults(), zap.NewNop())
	res, err := fx.ex.AnalyzeTree(ctx, fx.root, matcher, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesParsed != 2 {
		t.Errorf("parsed = %d, want 2 (a.py, b.js)", res.FilesParsed)
	}

	// Second run over an unchanged tree performs zero parses.
	res, err = fx.ex.AnalyzeTree(ctx, fx.root, matcher, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesParsed != 0 || res.FilesSkipped != 2 {
		t.Errorf("second run = %+v, want all skipped", res)
	}
}

func TestDocQualityHeuristics(t *testing.T) {
	fx := newExtractorFixture(t)
	ctx := context.Background()
	path := fx.writeFile(t, "doc.py", `
def documented(x: int) -> int:
    """Adds one.

    Example:
        >>> documented(1)
    """
    return x + 1


def bare(x):
    return x
`)

	if _, _, err := fx.ex.AnalyzeFile(ctx, path, false); err != nil {
		t.Fatal(err)
	}

	entities, _ := fx.store.EntitiesForFile(ctx, path)
	for _, e := range entities {
		dq, err := fx.store.GetDocQuality(ctx, e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if dq == nil {
			t.Fatalf("no doc quality row for %s", e.QualifiedName)
		}
		switch e.QualifiedName {
		case "documented":
			if !dq.HasDocstring || !dq.HasExamples || !dq.HasTypeHints {
				t.Errorf("documented quality = %+v", dq)
			}
		case "bare":
			if dq.HasDocstring || dq.PriorityScore <= 0 {
				t.Errorf("bare quality = %+v", dq)
			}
		}
	}
}
