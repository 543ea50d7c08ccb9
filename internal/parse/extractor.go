package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bradylowe/paranoid-coder/internal/errs"
	"github.com/bradylowe/paranoid-coder/internal/hasher"
	"github.com/bradylowe/paranoid-coder/internal/ignore"
	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/store"
)

// ParserVersion is recorded in metadata after an analysis run. Bumped when
// extraction output changes shape.
const ParserVersion = "2"

// Extractor parses supported files and writes entities and relationships
// to the store.
type Extractor struct {
	store  *store.Store
	logger *zap.Logger
}

// Result summarizes one analysis run.
type Result struct {
	FilesParsed  int
	FilesSkipped int
	FilesFailed  int
	Entities     int
}

func NewExtractor(st *store.Store, logger *zap.Logger) *Extractor {
	return &Extractor{store: st, logger: logger}
}

// AnalyzeTree walks every non-ignored supported file under root and
// extracts its graph with a bounded worker pool. Per-file failures are
// recorded and do not abort the walk.
func (ex *Extractor) AnalyzeTree(ctx context.Context, root string, matcher *ignore.Matcher, workers int, force bool) (*Result, error) {
	files, err := ex.collectFiles(root, matcher)
	if err != nil {
		return nil, err
	}

	if workers <= 0 {
		workers = 4
	}

	res := &Result{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	results := make(chan fileOutcome, len(files))
	for _, file := range files {
		file := file
		g.Go(func() error {
			outcome := ex.analyzeOne(gctx, file, force)
			select {
			case results <- outcome:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	close(results)

	for outcome := range results {
		switch {
		case outcome.err != nil:
			res.FilesFailed++
		case outcome.skipped:
			res.FilesSkipped++
		default:
			res.FilesParsed++
			res.Entities += outcome.entities
		}
	}

	if err := ex.store.TouchAnalysisTimestamp(ctx, ParserVersion); err != nil {
		return res, err
	}

	ex.logger.Info("Analysis completed",
		zap.Int("parsed", res.FilesParsed),
		zap.Int("skipped", res.FilesSkipped),
		zap.Int("failed", res.FilesFailed),
		zap.Int("entities", res.Entities))
	return res, nil
}

type fileOutcome struct {
	skipped  bool
	entities int
	err      error
}

func (ex *Extractor) analyzeOne(ctx context.Context, path string, force bool) fileOutcome {
	entities, skipped, err := ex.AnalyzeFile(ctx, path, force)
	if err != nil {
		if errs.Is(err, errs.ParseError) {
			// Recorded on the summary already; the walk continues.
			return fileOutcome{err: err}
		}
		ex.logger.Error("Failed to analyze file", zap.String("path", path), zap.Error(err))
		return fileOutcome{err: err}
	}
	return fileOutcome{skipped: skipped, entities: entities}
}

// AnalyzeFile extracts one file. Returns the entity count and whether the
// file was skipped because its content hash matched the last analysis.
func (ex *Extractor) AnalyzeFile(ctx context.Context, path string, force bool) (int, bool, error) {
	path = hasher.NormalizePath(path)

	lang := ByPath(path)
	if lang == nil {
		return 0, false, errs.New(errs.UnsupportedLanguage, "no grammar registered for %s", filepath.Ext(path))
	}

	contentHash, err := hasher.ContentHash(path)
	if err != nil {
		return 0, false, err
	}

	if !force {
		lastHash, err := ex.store.GetAnalysisHash(ctx, path)
		if err != nil {
			return 0, false, err
		}
		if lastHash == contentHash {
			ex.logger.Debug("Skipping unchanged file", zap.String("path", path))
			return 0, true, nil
		}
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return 0, false, errs.Wrap(errs.IoError, err, "read %s", path)
	}

	// Entities need a summary row to hang off; a stub is enough until the
	// summarizer gets there.
	ext := filepath.Ext(path)
	if err := ex.store.EnsureSummaryStub(ctx, path, model.KindFile, contentHash, ext, lang.Tag); err != nil {
		return 0, false, err
	}

	graph, err := ex.parseFile(lang, source)
	if err != nil {
		perr := errs.Wrap(errs.ParseError, err, "parse %s", path)
		if updated, recErr := ex.store.SetSummaryError(ctx, path, perr.Error()); recErr != nil {
			return 0, false, recErr
		} else if !updated {
			ex.logger.Warn("Parse failed", zap.String("path", path), zap.Error(err))
		}
		// An empty result replaces whatever was extracted before.
		if err := ex.store.PutEntitiesForFile(ctx, path, nil); err != nil {
			return 0, false, err
		}
		if err := ex.store.SetAnalysisHash(ctx, path, contentHash); err != nil {
			return 0, false, err
		}
		return 0, false, perr
	}

	entities := make([]*model.Entity, len(graph.Entities))
	for i, raw := range graph.Entities {
		entities[i] = &model.Entity{
			FilePath:      path,
			Kind:          raw.Kind,
			Name:          raw.Name,
			QualifiedName: raw.QualifiedName,
			ParentEntity:  raw.ParentEntity,
			StartLine:     raw.StartLine,
			EndLine:       raw.EndLine,
			Docstring:     raw.Docstring,
			Signature:     raw.Signature,
			Language:      lang.Tag,
		}
	}

	// Entity writes commit before the relationship writes that reference
	// them.
	if err := ex.store.PutEntitiesForFile(ctx, path, entities); err != nil {
		return 0, false, err
	}

	rels, err := ex.resolveRelationships(ctx, path, graph, entities)
	if err != nil {
		return 0, false, err
	}
	if err := ex.store.PutRelationships(ctx, rels); err != nil {
		return 0, false, err
	}

	for _, e := range entities {
		if err := ex.store.UpsertDocQuality(ctx, docQualityOf(e)); err != nil {
			return 0, false, err
		}
	}

	if err := ex.store.SetAnalysisHash(ctx, path, contentHash); err != nil {
		return 0, false, err
	}

	ex.logger.Debug("Analyzed file",
		zap.String("path", path),
		zap.Int("entities", len(entities)),
		zap.Int("relationships", len(rels)))
	return len(entities), false, nil
}

func (ex *Extractor) parseFile(lang *Language, source []byte) (*FileGraph, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(lang.Grammar()); err != nil {
		return nil, fmt.Errorf("set language %s: %w", lang.Tag, err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("parser returned no tree")
	}
	defer tree.Close()

	visitor := lang.NewVisitor(source)
	visitor.TraverseNode(tree.RootNode(), "")
	return visitor.Result(), nil
}

// resolveRelationships turns the raw file graph into store relationships.
// Call and base targets resolve by qualified name, then by simple name;
// ambiguous or missing symbols stay unresolved with the textual hint kept.
func (ex *Extractor) resolveRelationships(ctx context.Context, path string, graph *FileGraph, entities []*model.Entity) ([]*model.Relationship, error) {
	local := make(map[string]*model.Entity, len(entities))
	for _, e := range entities {
		local[e.QualifiedName] = e
	}

	var rels []*model.Relationship

	for _, imp := range graph.Imports {
		rels = append(rels, &model.Relationship{
			FromFile: path,
			ToFile:   imp.Module,
			Kind:     model.RelImports,
			Location: fmt.Sprintf("%s:%d", path, imp.Line),
		})
	}

	for _, call := range graph.Calls {
		from := local[call.FromQualified]
		if from == nil {
			continue
		}

		target, err := ex.resolveName(ctx, local, call.Callee)
		if err != nil {
			return nil, err
		}

		kind := model.RelCalls
		if call.IsNew || (target != nil && target.Kind == model.EntityClass) {
			kind = model.RelInstantiates
		}

		rel := &model.Relationship{
			FromEntity: from.ID,
			FromFile:   path,
			Kind:       kind,
			Location:   fmt.Sprintf("%s:%d", path, call.Line),
			ToHint:     call.Callee,
		}
		if target != nil {
			rel.ToEntity = target.ID
			rel.ToFile = target.FilePath
		}
		rels = append(rels, rel)
	}

	for _, inherit := range graph.Inherits {
		from := local[inherit.FromQualified]
		if from == nil {
			continue
		}

		target, err := ex.resolveName(ctx, local, inherit.Base)
		if err != nil {
			return nil, err
		}

		rel := &model.Relationship{
			FromEntity: from.ID,
			FromFile:   path,
			Kind:       model.RelInherits,
			Location:   fmt.Sprintf("%s:%d", path, inherit.Line),
			ToHint:     inherit.Base,
		}
		if target != nil {
			rel.ToEntity = target.ID
			rel.ToFile = target.FilePath
		}
		rels = append(rels, rel)
	}

	return rels, nil
}

// resolveName finds the entity a textual reference points at: the local
// file first, then the store by qualified name, then by simple name. Only
// unambiguous matches resolve.
func (ex *Extractor) resolveName(ctx context.Context, local map[string]*model.Entity, name string) (*model.Entity, error) {
	if e, ok := local[name]; ok {
		return e, nil
	}

	matches, err := ex.store.GetEntitiesByQualifiedName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return nil, nil
	}

	simple := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		simple = name[idx+1:]
	}
	matches, err = ex.store.GetEntitiesBySimpleName(ctx, simple)
	if err != nil {
		return nil, err
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	return nil, nil
}

// collectFiles gathers the supported, non-ignored files under root in
// sorted order. Symlinked directories are not followed, which also keeps
// cyclic links out of the walk.
func (ex *Extractor) collectFiles(root string, matcher *ignore.Matcher) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			ex.logger.Warn("Walk error", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			if matcher.Ignored(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if matcher.Ignored(path, false) {
			return nil
		}
		if ByPath(path) == nil {
			ex.logger.Debug("Skipping unsupported file", zap.String("path", path))
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "walk %s", root)
	}

	sort.Strings(files)
	return files, nil
}

// docQualityOf computes the documentation heuristics for an entity.
func docQualityOf(e *model.Entity) *model.DocQuality {
	hasDoc := e.Docstring != ""
	hasExamples := strings.Contains(e.Docstring, ">>>") ||
		strings.Contains(strings.ToLower(e.Docstring), "example")
	hasHints := strings.Contains(e.Signature, ":") || strings.Contains(e.Signature, "->")

	score := 0.0
	if !hasDoc {
		score += 0.6
	}
	if !hasHints {
		score += 0.3
	}
	if !hasExamples {
		score += 0.1
	}

	return &model.DocQuality{
		EntityID:      e.ID,
		HasDocstring:  hasDoc,
		HasExamples:   hasExamples,
		HasTypeHints:  hasHints,
		PriorityScore: score,
	}
}
