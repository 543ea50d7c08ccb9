// Package index embeds summaries and entities into the vector tables. It
// is incremental: an object is re-embedded only when its vector row is
// missing, was written by a different embedding model, or its source text
// changed since the vector was written.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/config"
	"github.com/bradylowe/paranoid-coder/internal/hasher"
	"github.com/bradylowe/paranoid-coder/internal/llm"
	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/store"
	"github.com/bradylowe/paranoid-coder/internal/util"
)

// Mode selects between incremental and full re-indexing.
type Mode int

const (
	ModeIncremental Mode = iota
	ModeFull
)

// Options controls which object kinds are indexed.
type Options struct {
	Mode      Mode
	Summaries bool
	Entities  bool
}

// Result counts what an index run did.
type Result struct {
	Embedded int
	Skipped  int
	Failed   int
}

// Indexer writes embeddings for stale objects. A bloom filter over
// (kind, id, model, fingerprint) keys answers "definitely not indexed yet"
// without a database read; positives still hit the database, so false
// positives only cost a query.
type Indexer struct {
	store  *store.Store
	host   llm.Host
	cfg    *config.Config
	logger *zap.Logger

	filter     *bloom.BloomFilter
	filterPath string
}

func NewIndexer(st *store.Store, host llm.Host, cfg *config.Config, dataDir string, logger *zap.Logger) *Indexer {
	ix := &Indexer{
		store:  st,
		host:   host,
		cfg:    cfg,
		logger: logger,
	}

	if cfg.GetBloomEnabled() {
		ix.filterPath = filepath.Join(dataDir, "index.bloom")
		ix.filter = ix.loadFilter()
	}
	return ix
}

// embedTask is one stale object queued for embedding.
type embedTask struct {
	kind        model.VectorKind
	objectID    string
	text        string
	fingerprint string
	key         string
}

// Run indexes the enabled kinds. Stale objects fan out to a worker pool
// for the embed calls; per-item failures are logged and counted, the run
// continues, and the caller exits non-zero when any item failed.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}

	if opts.Mode == ModeFull {
		if err := ix.store.DeleteAllVectors(ctx); err != nil {
			return res, err
		}
		if ix.filter != nil {
			ix.filter.ClearAll()
		}
	}

	var tasks []embedTask
	if opts.Summaries {
		t, err := ix.collectSummaryTasks(ctx, opts.Mode, res)
		if err != nil {
			return res, err
		}
		tasks = append(tasks, t...)
	}
	if opts.Entities {
		t, err := ix.collectEntityTasks(ctx, opts.Mode, res)
		if err != nil {
			return res, err
		}
		tasks = append(tasks, t...)
	}

	var mu sync.Mutex
	pool := util.NewExecutorPool(ix.cfg.GetWorkerCount(), len(tasks)+1, func(task embedTask) {
		if ctx.Err() != nil {
			return
		}
		ok := ix.embedOne(ctx, task)
		mu.Lock()
		if ok {
			res.Embedded++
		} else {
			res.Failed++
		}
		mu.Unlock()
	})
	for _, task := range tasks {
		pool.Submit(task)
	}
	pool.Close()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	ix.saveFilter()

	ix.logger.Info("Index run completed",
		zap.Int("embedded", res.Embedded),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (ix *Indexer) collectSummaryTasks(ctx context.Context, mode Mode, res *Result) ([]embedTask, error) {
	summaries, err := ix.store.AllSummaries(ctx, "")
	if err != nil {
		return nil, err
	}

	var tasks []embedTask
	for _, sum := range summaries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if sum.Description == "" {
			continue
		}
		task, stale, err := ix.makeTask(ctx, model.VectorSummary, sum.Path, sum.Description, mode)
		if err != nil {
			ix.logger.Error("Staleness check failed", zap.String("object", sum.Path), zap.Error(err))
			res.Failed++
			continue
		}
		if !stale {
			res.Skipped++
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (ix *Indexer) collectEntityTasks(ctx context.Context, mode Mode, res *Result) ([]embedTask, error) {
	entities, err := ix.store.AllEntities(ctx, "")
	if err != nil {
		return nil, err
	}

	var tasks []embedTask
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := entityText(e)
		if text == "" {
			continue
		}
		objectID := strconv.FormatInt(e.ID, 10)
		task, stale, err := ix.makeTask(ctx, model.VectorEntity, objectID, text, mode)
		if err != nil {
			ix.logger.Error("Staleness check failed", zap.String("object", objectID), zap.Error(err))
			res.Failed++
			continue
		}
		if !stale {
			res.Skipped++
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (ix *Indexer) makeTask(ctx context.Context, kind model.VectorKind, objectID, text string, mode Mode) (embedTask, bool, error) {
	embedModel := ix.cfg.DefaultEmbeddingModel
	fingerprint := hasher.HashStrings([]string{text})
	task := embedTask{
		kind:        kind,
		objectID:    objectID,
		text:        text,
		fingerprint: fingerprint,
		key:         vectorKey(kind, objectID, embedModel, fingerprint),
	}

	if mode == ModeFull {
		return task, true, nil
	}
	stale, err := ix.isStale(ctx, kind, objectID, embedModel, fingerprint, task.key)
	return task, stale, err
}

func (ix *Indexer) embedOne(ctx context.Context, task embedTask) bool {
	embedModel := ix.cfg.DefaultEmbeddingModel

	vector, err := ix.host.Embed(ctx, embedModel, task.text)
	if err != nil {
		ix.logger.Error("Embedding failed",
			zap.String("kind", string(task.kind)),
			zap.String("object", task.objectID),
			zap.Error(err))
		return false
	}

	if err := ix.store.PutVector(ctx, task.kind, task.objectID, embedModel, task.fingerprint, vector); err != nil {
		ix.logger.Error("Failed to store vector", zap.String("object", task.objectID), zap.Error(err))
		return false
	}

	if ix.filter != nil {
		ix.filter.AddString(task.key)
	}
	return true
}

// isStale decides whether an object needs (re-)embedding. A bloom miss
// means the key was never written, so the database read is skipped.
func (ix *Indexer) isStale(ctx context.Context, kind model.VectorKind, objectID, embedModel, fingerprint, key string) (bool, error) {
	if ix.filter != nil && !ix.filter.TestString(key) {
		return true, nil
	}

	storedModel, storedFingerprint, ok, err := ix.store.GetVectorInfo(ctx, kind, objectID)
	if err != nil {
		return false, err
	}
	if !ok || storedModel != embedModel || storedFingerprint != fingerprint {
		return true, nil
	}
	return false, nil
}

func vectorKey(kind model.VectorKind, objectID, embedModel, fingerprint string) string {
	return fmt.Sprintf("%s|%s|%s|%s", kind, objectID, embedModel, fingerprint)
}

// entityText builds the embeddable text of an entity: its qualified name,
// signature and docstring.
func entityText(e *model.Entity) string {
	text := e.QualifiedName
	if e.Signature != "" {
		text += " " + e.Signature
	}
	if e.Docstring != "" {
		text += "\n" + e.Docstring
	}
	return text
}

func (ix *Indexer) loadFilter() *bloom.BloomFilter {
	filter := bloom.NewWithEstimates(ix.cfg.GetBloomExpectedItems(), ix.cfg.GetBloomFalsePositiveRate())

	f, err := os.Open(ix.filterPath)
	if err != nil {
		return filter
	}
	defer f.Close()

	if _, err := filter.ReadFrom(f); err != nil {
		ix.logger.Warn("Failed to load bloom filter, starting fresh", zap.Error(err))
		return bloom.NewWithEstimates(ix.cfg.GetBloomExpectedItems(), ix.cfg.GetBloomFalsePositiveRate())
	}
	return filter
}

func (ix *Indexer) saveFilter() {
	if ix.filter == nil {
		return
	}

	f, err := os.Create(ix.filterPath)
	if err != nil {
		ix.logger.Warn("Failed to persist bloom filter", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := ix.filter.WriteTo(f); err != nil {
		ix.logger.Warn("Failed to write bloom filter", zap.Error(err))
	}
}
