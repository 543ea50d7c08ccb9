package summarize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bradylowe/paranoid-coder/internal/config"
	"github.com/bradylowe/paranoid-coder/internal/errs"
	"github.com/bradylowe/paranoid-coder/internal/hasher"
	"github.com/bradylowe/paranoid-coder/internal/ignore"
	"github.com/bradylowe/paranoid-coder/internal/llm"
	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/parse"
	"github.com/bradylowe/paranoid-coder/internal/store"
)

// ContextVersion is the opaque version of the context-construction logic,
// stored with every snapshot. Bumping it re-summarizes level-1 summaries on
// their next visit.
const ContextVersion = 1

// promptOverhead is the slack allowed for the template around the
// truncated content before the prompt counts as overflowing.
const promptOverhead = 4096

// Summarizer walks a subtree bottom-up and (re)generates descriptions for
// changed files and directories.
type Summarizer struct {
	store   *store.Store
	host    llm.Host
	prompts *PromptManager
	matcher *ignore.Matcher
	cfg     *config.Config
	logger  *zap.Logger

	symlinkWarn sync.Once
}

// RunResult counts what a walk did.
type RunResult struct {
	Summarized int
	Skipped    int
	Failed     int
}

func NewSummarizer(st *store.Store, host llm.Host, prompts *PromptManager, matcher *ignore.Matcher, cfg *config.Config, logger *zap.Logger) *Summarizer {
	return &Summarizer{
		store:   st,
		host:    host,
		prompts: prompts,
		matcher: matcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run summarizes the subtree rooted at target. Files within a directory
// complete (or are skipped) before the directory's tree hash is computed;
// ancestors wait on descendants. Per-item errors are recorded on the
// summary and do not abort the walk.
func (s *Summarizer) Run(ctx context.Context, target string, force bool) (*RunResult, error) {
	target = hasher.NormalizePath(target)
	res := &RunResult{}

	info, err := os.Lstat(target)
	if err != nil {
		return res, errs.Wrap(errs.IoError, err, "stat %s", target)
	}

	if !info.IsDir() {
		s.processFile(ctx, target, force, res)
		return res, ctx.Err()
	}

	if err := s.walkDir(ctx, target, force, res); err != nil {
		return res, err
	}

	s.logger.Info("Summarization completed",
		zap.Int("summarized", res.Summarized),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// walkDir processes dir's files and subdirectories, then dir itself.
func (s *Summarizer) walkDir(ctx context.Context, dir string, force bool, res *RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Error("Failed to read directory", zap.String("path", dir), zap.Error(err))
		res.Failed++
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.Type()&os.ModeSymlink != 0 {
			s.symlinkWarn.Do(func() {
				s.logger.Warn("Symlinks are not followed", zap.String("first", path))
			})
			continue
		}

		if entry.IsDir() {
			if s.matcher.Ignored(path, true) {
				continue
			}
			if err := s.walkDir(ctx, path, force, res); err != nil {
				return err
			}
			continue
		}

		if s.matcher.Ignored(path, false) {
			continue
		}
		files = append(files, path)
	}

	// Model-host calls dominate; files of one directory run on the pool.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.GetWorkerCount())
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local := &RunResult{}
			s.processFile(gctx, file, force, local)
			mu.Lock()
			res.Summarized += local.Summarized
			res.Skipped += local.Skipped
			res.Failed += local.Failed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.processDir(ctx, dir, force, res)
	return ctx.Err()
}

// NeedsSummarization implements the change-detection predicate: no
// summary, hash drift, a manual flag, or smart invalidation for level-1
// summaries.
func (s *Summarizer) NeedsSummarization(ctx context.Context, path, currentHash string) (bool, error) {
	sum, err := s.store.GetSummary(ctx, path)
	if err != nil {
		return false, err
	}
	if sum == nil || sum.Hash != currentHash || sum.NeedsUpdate {
		return true, nil
	}
	// Stubs written by graph extraction have no description yet.
	if sum.Description == "" {
		return true, nil
	}

	if sum.Kind == model.KindFile && sum.ContextLevel >= model.ContextWithGraph {
		return s.contextDrifted(ctx, path)
	}
	return false, nil
}

// contextDrifted applies the smart-invalidation thresholds to a stored
// level-1 snapshot.
func (s *Summarizer) contextDrifted(ctx context.Context, path string) (bool, error) {
	stored, err := s.store.GetSummaryContext(ctx, path)
	if err != nil {
		return false, err
	}
	if stored == nil || stored.ContextVersion != ContextVersion {
		return true, nil
	}

	current, err := s.currentGraphContext(ctx, path)
	if err != nil {
		return false, err
	}

	if s.cfg.GetReSummarizeOnImportsChange() && current.ImportsHash != stored.ImportsHash {
		s.logger.Debug("Imports changed", zap.String("path", path))
		return true, nil
	}
	if abs(current.CallersCount-stored.CallersCount) > s.cfg.GetCallersThreshold() {
		s.logger.Debug("Caller count drifted", zap.String("path", path),
			zap.Int("stored", stored.CallersCount), zap.Int("current", current.CallersCount))
		return true, nil
	}
	if abs(current.CalleesCount-stored.CalleesCount) > s.cfg.GetCalleesThreshold() {
		s.logger.Debug("Callee count drifted", zap.String("path", path),
			zap.Int("stored", stored.CalleesCount), zap.Int("current", current.CalleesCount))
		return true, nil
	}
	return false, nil
}

// graphContext is the computed level-1 context for a file: the prompt
// block plus the snapshot values persisted alongside the summary.
type graphContext struct {
	Block        string
	ImportsHash  string
	CallersCount int
	CalleesCount int
}

// currentGraphContext assembles imports, callers and callees for every
// entity of the file.
func (s *Summarizer) currentGraphContext(ctx context.Context, path string) (*graphContext, error) {
	imports, err := s.store.ImportsOf(ctx, path)
	if err != nil {
		return nil, err
	}
	modules := make([]string, 0, len(imports))
	for _, imp := range imports {
		modules = append(modules, imp.ToFile)
	}
	sort.Strings(modules)

	entities, err := s.store.EntitiesForFile(ctx, path)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	if len(modules) > 0 {
		b.WriteString("Imports: " + strings.Join(modules, ", ") + "\n")
	}

	gc := &graphContext{ImportsHash: hasher.HashStrings(modules)}
	for _, e := range entities {
		callers, err := s.relationNames(ctx, s.store.CallersOf, e.ID, true)
		if err != nil {
			return nil, err
		}
		callees, err := s.relationNames(ctx, s.store.CalleesOf, e.ID, false)
		if err != nil {
			return nil, err
		}
		gc.CallersCount += len(callers)
		gc.CalleesCount += len(callees)

		if len(callers) == 0 && len(callees) == 0 {
			continue
		}
		b.WriteString(e.QualifiedName)
		if len(callers) > 0 {
			b.WriteString(" | called by: " + strings.Join(callers, ", "))
		}
		if len(callees) > 0 {
			b.WriteString(" | calls: " + strings.Join(callees, ", "))
		}
		b.WriteString("\n")
	}

	if b.Len() > 0 {
		gc.Block = "Code graph context:\n" + b.String()
	}
	return gc, nil
}

// relationNames resolves the far end of call edges to qualified names.
// For callers the far end is from_entity; for callees it is to_entity or
// the textual hint when unresolved.
func (s *Summarizer) relationNames(ctx context.Context, query func(context.Context, int64) ([]*model.Relationship, error), entityID int64, far bool) ([]string, error) {
	rels, err := query(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, rel := range rels {
		id := rel.ToEntity
		if far {
			id = rel.FromEntity
		}
		if id != 0 {
			e, err := s.store.GetEntityByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if e != nil {
				names = append(names, e.QualifiedName)
				continue
			}
		}
		if rel.ToHint != "" {
			names = append(names, rel.ToHint)
		}
	}
	return names, nil
}

func (s *Summarizer) processFile(ctx context.Context, path string, force bool, res *RunResult) {
	path = hasher.NormalizePath(path)

	contentHash, err := hasher.ContentHash(path)
	if err != nil {
		s.logger.Error("Failed to hash file", zap.String("path", path), zap.Error(err))
		res.Failed++
		return
	}

	if !force {
		needs, err := s.NeedsSummarization(ctx, path, contentHash)
		if err != nil {
			s.logger.Error("Change detection failed", zap.String("path", path), zap.Error(err))
			res.Failed++
			return
		}
		if !needs {
			res.Skipped++
			return
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		s.recordFailure(ctx, path, model.KindFile, contentHash, errs.Wrap(errs.IoError, err, "read %s", path), res)
		return
	}

	existing := ""
	if prior, err := s.store.GetSummary(ctx, path); err == nil && prior != nil && prior.Description != "" {
		existing = "Previous description: " + prior.Description
	}

	level := model.ContextLevel(s.cfg.GetContextLevel())
	if level > model.ContextWithGraph {
		// With-RAG context is reserved; alias to with-graph.
		level = model.ContextWithGraph
	}

	var gc *graphContext
	if level >= model.ContextWithGraph {
		gc, err = s.currentGraphContext(ctx, path)
		if err != nil {
			s.recordFailure(ctx, path, model.KindFile, contentHash, err, res)
			return
		}
	}

	langTag := parse.DetectLanguageTag(path)
	maxCtx := s.cfg.GetMaxContextChars()
	in := FilePromptInput{
		Filename:  filepath.Base(path),
		Content:   truncateText(string(content), maxCtx),
		Existing:  existing,
		Length:    LengthBucket(len(content)),
		Extension: filepath.Ext(path),
	}
	if gc != nil {
		in.GraphContext = gc.Block
	}

	prompt := RenderFilePrompt(s.prompts.FileTemplate(langTag), in)
	if len(prompt) > maxCtx+promptOverhead {
		s.recordFailure(ctx, path, model.KindFile, contentHash,
			errs.New(errs.ContextOverflow, "prompt for %s exceeds the model context window", path), res)
		return
	}

	resp, err := s.host.Generate(ctx, s.cfg.DefaultModel, prompt, llm.GenerateOptions{
		MaxTokens:   s.cfg.GetMaxTokens(),
		Temperature: s.cfg.GetTemperature(),
	})
	if err != nil {
		s.recordFailure(ctx, path, model.KindFile, contentHash, err, res)
		return
	}

	now := time.Now().UTC()
	sum := &model.Summary{
		Path:          path,
		Kind:          model.KindFile,
		Hash:          contentHash,
		Description:   resp.Content,
		Extension:     filepath.Ext(path),
		Language:      langTag,
		Model:         s.cfg.DefaultModel,
		ModelVersion:  resp.ModelVersion,
		PromptVersion: PromptVersion,
		ContextLevel:  level,
		GeneratedAt:   now,
		UpdatedAt:     now,
		TokensUsed:    resp.TokensUsed,
		GenerationMS:  resp.Elapsed.Milliseconds(),
	}
	if err := s.store.UpsertSummary(ctx, sum); err != nil {
		s.logger.Error("Failed to save summary", zap.String("path", path), zap.Error(err))
		res.Failed++
		return
	}

	if level >= model.ContextWithGraph && gc != nil {
		if err := s.store.SetSummaryContext(ctx, &model.SummaryContext{
			Path:           path,
			ImportsHash:    gc.ImportsHash,
			CallersCount:   gc.CallersCount,
			CalleesCount:   gc.CalleesCount,
			ContextVersion: ContextVersion,
		}); err != nil {
			s.logger.Error("Failed to save context snapshot", zap.String("path", path), zap.Error(err))
		}
	}

	res.Summarized++
}

func (s *Summarizer) processDir(ctx context.Context, dir string, force bool, res *RunResult) {
	dir = hasher.NormalizePath(dir)

	children, err := s.store.ListChildren(ctx, dir)
	if err != nil {
		s.logger.Error("Failed to list children", zap.String("path", dir), zap.Error(err))
		res.Failed++
		return
	}

	hashes := make([]string, 0, len(children))
	for _, child := range children {
		hashes = append(hashes, child.Hash)
	}
	treeHash := hasher.TreeHash(hashes)

	if !force {
		needs, err := s.NeedsSummarization(ctx, dir, treeHash)
		if err != nil {
			s.logger.Error("Change detection failed", zap.String("path", dir), zap.Error(err))
			res.Failed++
			return
		}
		if !needs {
			res.Skipped++
			return
		}
	}

	existing := ""
	if prior, err := s.store.GetSummary(ctx, dir); err == nil && prior != nil && prior.Description != "" {
		existing = "Previous description: " + prior.Description
	}

	var lines []string
	for _, child := range children {
		desc := firstLine(child.Description)
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", filepath.Base(child.Path), child.Kind, desc))
	}

	prompt := RenderDirectoryPrompt(s.prompts.DirectoryTemplate("default"), DirectoryPromptInput{
		DirPath:     dir,
		Children:    strings.Join(lines, "\n"),
		Existing:    existing,
		NParagraphs: ParagraphCount(len(children)),
	})

	resp, err := s.host.Generate(ctx, s.cfg.DefaultModel, prompt, llm.GenerateOptions{
		MaxTokens:   s.cfg.GetMaxTokens(),
		Temperature: s.cfg.GetTemperature(),
	})
	if err != nil {
		s.recordFailure(ctx, dir, model.KindDirectory, treeHash, err, res)
		return
	}

	now := time.Now().UTC()
	sum := &model.Summary{
		Path:          dir,
		Kind:          model.KindDirectory,
		Hash:          treeHash,
		Description:   resp.Content,
		Model:         s.cfg.DefaultModel,
		ModelVersion:  resp.ModelVersion,
		PromptVersion: PromptVersion,
		ContextLevel:  model.ContextIsolated,
		GeneratedAt:   now,
		UpdatedAt:     now,
		TokensUsed:    resp.TokensUsed,
		GenerationMS:  resp.Elapsed.Milliseconds(),
	}
	if err := s.store.UpsertSummary(ctx, sum); err != nil {
		s.logger.Error("Failed to save summary", zap.String("path", dir), zap.Error(err))
		res.Failed++
		return
	}

	res.Summarized++
}

// recordFailure stores the error on the item's summary row (creating a
// stub if needed) and counts the failure. The walk continues.
func (s *Summarizer) recordFailure(ctx context.Context, path string, kind model.SummaryKind, hash string, cause error, res *RunResult) {
	s.logger.Error("Summarization failed", zap.String("path", path), zap.Error(cause))
	res.Failed++

	if err := s.store.EnsureSummaryStub(ctx, path, kind, hash,
		filepath.Ext(path), parse.DetectLanguageTag(path)); err != nil {
		s.logger.Error("Failed to create stub for error record", zap.String("path", path), zap.Error(err))
		return
	}
	if _, err := s.store.SetSummaryError(ctx, path, cause.Error()); err != nil {
		s.logger.Error("Failed to record error", zap.String("path", path), zap.Error(err))
	}
}

// truncateText cuts text to maxLen, preferring a line or word boundary in
// the final quarter.
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	truncated := text[:maxLen]
	if lastNewline := strings.LastIndex(truncated, "\n"); lastNewline > maxLen*3/4 {
		return truncated[:lastNewline] + "\n... (truncated)"
	}
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLen*3/4 {
		return truncated[:lastSpace] + " ... (truncated)"
	}
	return truncated + "... (truncated)"
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
