package store

import (
	"context"
	"testing"

	"github.com/bradylowe/paranoid-coder/internal/model"
)

func TestVectors_PutInfoNearest(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"/p/a.py", "/p/b.py"} {
		if err := st.UpsertSummary(ctx, fileSummary(p)); err != nil {
			t.Fatal(err)
		}
	}

	if err := st.PutVector(ctx, model.VectorSummary, "/p/a.py", "nomic-embed-text", "fp-a",
		[]float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutVector(ctx, model.VectorSummary, "/p/b.py", "nomic-embed-text", "fp-b",
		[]float32{0, 1, 0, 0}); err != nil {
		t.Fatal(err)
	}

	mdl, fp, ok, err := st.GetVectorInfo(ctx, model.VectorSummary, "/p/a.py")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || mdl != "nomic-embed-text" || fp != "fp-a" {
		t.Errorf("vector info = %s %s %v", mdl, fp, ok)
	}

	hits, err := st.Nearest(ctx, model.VectorSummary, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].ObjectID != "/p/a.py" {
		t.Errorf("nearest hit = %+v, want /p/a.py first", hits[0])
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits must be ordered by similarity descending")
	}
}

func TestVectors_ReplaceOnPut(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.UpsertSummary(ctx, fileSummary("/p/a.py")); err != nil {
		t.Fatal(err)
	}

	if err := st.PutVector(ctx, model.VectorSummary, "/p/a.py", "m1", "fp1", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutVector(ctx, model.VectorSummary, "/p/a.py", "m2", "fp2", []float32{0, 1}); err != nil {
		t.Fatal(err)
	}

	n, err := st.CountVectors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("vector rows = %d, want 1 after replace", n)
	}

	mdl, fp, _, _ := st.GetVectorInfo(ctx, model.VectorSummary, "/p/a.py")
	if mdl != "m2" || fp != "fp2" {
		t.Errorf("vector info = %s %s after replace", mdl, fp)
	}
}

func TestVectors_DimensionMismatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.UpsertSummary(ctx, fileSummary("/p/a.py")); err != nil {
		t.Fatal(err)
	}
	if err := st.PutVector(ctx, model.VectorSummary, "/p/a.py", "m", "fp", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}

	if err := st.PutVector(ctx, model.VectorSummary, "/p/b.py", "m", "fp", []float32{1, 0}); err == nil {
		t.Error("mismatched dimension should be rejected")
	}
	if _, err := st.Nearest(ctx, model.VectorSummary, []float32{1, 0}, 1); err == nil {
		t.Error("mismatched query dimension should be rejected")
	}
}

func TestVectors_DeletedWithSummary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.UpsertSummary(ctx, fileSummary("/p/a.py")); err != nil {
		t.Fatal(err)
	}
	if err := st.PutVector(ctx, model.VectorSummary, "/p/a.py", "m", "fp", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	if err := st.DeleteSummary(ctx, "/p/a.py"); err != nil {
		t.Fatal(err)
	}

	_, _, ok, err := st.GetVectorInfo(ctx, model.VectorSummary, "/p/a.py")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("vector should cascade with its summary")
	}
}

func TestVectors_EmptyIndex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	hits, err := st.Nearest(ctx, model.VectorSummary, []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if hits != nil {
		t.Errorf("hits on empty index = %+v", hits)
	}

	n, err := st.CountVectors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("count = %d on empty index", n)
	}
}
