package index

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/config"
	"github.com/bradylowe/paranoid-coder/internal/llm"
	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/store"
)

type fakeHost struct {
	mu         sync.Mutex
	embedCalls int
}

func (f *fakeHost) Generate(ctx context.Context, mdl, prompt string, opts llm.GenerateOptions) (*llm.GenerateResponse, error) {
	return &llm.GenerateResponse{Content: "x", Model: mdl}, nil
}

func (f *fakeHost) GenerateSimple(ctx context.Context, mdl, prompt string) (string, error) {
	return "x", nil
}

func (f *fakeHost) Embed(ctx context.Context, mdl, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	return []float32{1, 0, 0}, nil
}

func (f *fakeHost) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls
}

type indexerFixture struct {
	store *store.Store
	host  *fakeHost
	cfg   *config.Config
	dir   string
}

func newIndexerFixture(t *testing.T) *indexerFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "summaries.db"), "python", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Defaults()
	one := 1
	cfg.WorkerCount = &one

	return &indexerFixture{store: st, host: &fakeHost{}, cfg: cfg, dir: t.TempDir()}
}

func (fx *indexerFixture) newIndexer() *Indexer {
	return NewIndexer(fx.store, fx.host, fx.cfg, fx.dir, zap.NewNop())
}

func (fx *indexerFixture) seedSummary(t *testing.T, path, description string) {
	t.Helper()
	now := time.Now().UTC()
	if err := fx.store.UpsertSummary(context.Background(), &model.Summary{
		Path: path, Kind: model.KindFile, Hash: "h", Description: description,
		Language: "python", GeneratedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestRun_EmbedsSummaries(t *testing.T) {
	fx := newIndexerFixture(t)
	ctx := context.Background()

	fx.seedSummary(t, "/p/a.py", "describes a")
	fx.seedSummary(t, "/p/b.py", "describes b")

	res, err := fx.newIndexer().Run(ctx, Options{Summaries: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedded != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	_, _, ok, err := fx.store.GetVectorInfo(ctx, model.VectorSummary, "/p/a.py")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("vector row missing after index run")
	}
}

func TestRun_SecondRunMakesZeroEmbedCalls(t *testing.T) {
	fx := newIndexerFixture(t)
	ctx := context.Background()

	fx.seedSummary(t, "/p/a.py", "describes a")

	if _, err := fx.newIndexer().Run(ctx, Options{Summaries: true}); err != nil {
		t.Fatal(err)
	}
	before := fx.host.calls()

	res, err := fx.newIndexer().Run(ctx, Options{Summaries: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := fx.host.calls() - before; got != 0 {
		t.Errorf("second run made %d embed calls, want 0", got)
	}
	if res.Skipped != 1 || res.Embedded != 0 {
		t.Errorf("second run = %+v", res)
	}
}

func TestRun_ContentChangeTriggersReembed(t *testing.T) {
	fx := newIndexerFixture(t)
	ctx := context.Background()

	fx.seedSummary(t, "/p/a.py", "describes a")
	if _, err := fx.newIndexer().Run(ctx, Options{Summaries: true}); err != nil {
		t.Fatal(err)
	}

	fx.seedSummary(t, "/p/a.py", "describes a differently now")
	res, err := fx.newIndexer().Run(ctx, Options{Summaries: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedded != 1 {
		t.Errorf("result = %+v, want re-embed after content change", res)
	}
}

func TestRun_ModelChangeTriggersReembed(t *testing.T) {
	fx := newIndexerFixture(t)
	ctx := context.Background()

	fx.seedSummary(t, "/p/a.py", "describes a")
	if _, err := fx.newIndexer().Run(ctx, Options{Summaries: true}); err != nil {
		t.Fatal(err)
	}

	fx.cfg.DefaultEmbeddingModel = "mxbai-embed-large"
	res, err := fx.newIndexer().Run(ctx, Options{Summaries: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedded != 1 {
		t.Errorf("result = %+v, want re-embed after model change", res)
	}
}

func TestRun_FullModeReembedsEverything(t *testing.T) {
	fx := newIndexerFixture(t)
	ctx := context.Background()

	fx.seedSummary(t, "/p/a.py", "describes a")
	fx.seedSummary(t, "/p/b.py", "describes b")

	if _, err := fx.newIndexer().Run(ctx, Options{Summaries: true}); err != nil {
		t.Fatal(err)
	}
	res, err := fx.newIndexer().Run(ctx, Options{Mode: ModeFull, Summaries: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedded != 2 || res.Skipped != 0 {
		t.Errorf("full run = %+v", res)
	}
}

func TestRun_EntitiesOptIn(t *testing.T) {
	fx := newIndexerFixture(t)
	ctx := context.Background()

	fx.seedSummary(t, "/p/a.py", "describes a")
	if err := fx.store.PutEntitiesForFile(ctx, "/p/a.py", []*model.Entity{{
		FilePath: "/p/a.py", Kind: model.EntityFunction, Name: "f", QualifiedName: "f",
		StartLine: 1, EndLine: 2, Signature: "(x)", Docstring: "does f", Language: "python",
	}}); err != nil {
		t.Fatal(err)
	}

	res, err := fx.newIndexer().Run(ctx, Options{Summaries: true, Entities: true})
	if err != nil {
		t.Fatal(err)
	}
	// One summary plus one entity.
	if res.Embedded != 2 {
		t.Errorf("result = %+v, want summary and entity embedded", res)
	}

	res, err = fx.newIndexer().Run(ctx, Options{Summaries: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedded != 0 {
		t.Errorf("summaries-only rerun = %+v", res)
	}
}

func TestRun_EmptyDescriptionsSkipped(t *testing.T) {
	fx := newIndexerFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := fx.store.UpsertSummary(ctx, &model.Summary{
		Path: "/p/stub.py", Kind: model.KindFile, Hash: "h",
		GeneratedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := fx.newIndexer().Run(ctx, Options{Summaries: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Embedded != 0 {
		t.Errorf("stub summaries must not be embedded: %+v", res)
	}
}
