// Package query implements the hybrid ask pipeline: a small classifier
// labels the question, usage and definition queries route to direct graph
// lookups, and explanation or generation queries go through vector
// retrieval plus synthesis.
package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/config"
	"github.com/bradylowe/paranoid-coder/internal/errs"
	"github.com/bradylowe/paranoid-coder/internal/graph"
	"github.com/bradylowe/paranoid-coder/internal/llm"
	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/store"
)

// Intent is the classifier's label for a question.
type Intent string

const (
	IntentUsage       Intent = "USAGE"
	IntentDefinition  Intent = "DEFINITION"
	IntentExplanation Intent = "EXPLANATION"
	IntentGeneration  Intent = "GENERATION"
)

// Source is one provenance entry of an answer: a graph hit or a retrieved
// document.
type Source struct {
	Path       string  `json:"path"`
	Line       int     `json:"line,omitempty"`
	Name       string  `json:"name,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Preview    string  `json:"preview,omitempty"`
}

// Response is the router's answer plus structured sources.
type Response struct {
	Intent  Intent   `json:"intent"`
	Route   string   `json:"route"` // "graph" or "rag"
	Answer  string   `json:"answer,omitempty"`
	Sources []Source `json:"sources"`
}

// Router classifies and routes natural-language questions.
type Router struct {
	store  *store.Store
	api    *graph.API
	host   llm.Host
	cfg    *config.Config
	logger *zap.Logger
}

func NewRouter(st *store.Store, api *graph.API, host llm.Host, cfg *config.Config, logger *zap.Logger) *Router {
	return &Router{store: st, api: api, host: host, cfg: cfg, logger: logger}
}

// Ask answers a question. forceRAG sends every query down the retrieval
// path regardless of classification.
func (r *Router) Ask(ctx context.Context, question string, forceRAG bool) (*Response, error) {
	intent := r.classify(ctx, question)
	entityName := ExtractEntityName(question)

	r.logger.Debug("Classified question",
		zap.String("intent", string(intent)),
		zap.String("entity", entityName))

	if !forceRAG && entityName != "" {
		switch intent {
		case IntentUsage:
			if resp, ok, err := r.answerUsage(ctx, intent, entityName); err != nil {
				return nil, err
			} else if ok {
				return resp, nil
			}
		case IntentDefinition:
			if resp, ok, err := r.answerDefinition(ctx, intent, entityName); err != nil {
				return nil, err
			} else if ok {
				return resp, nil
			}
		}
	}

	return r.answerRAG(ctx, intent, question, entityName)
}

// classify asks the configured classifier model for one of the four
// labels. Timeouts, connection errors and malformed output fall back to
// EXPLANATION.
func (r *Router) classify(ctx context.Context, question string) Intent {
	prompt := fmt.Sprintf(
		"Classify this question about a codebase. Answer with exactly one word: "+
			"USAGE (where is something used or called), "+
			"DEFINITION (where is something defined), "+
			"EXPLANATION (how or why does something work), or "+
			"GENERATION (write or modify code).\n\nQuestion: %s\nLabel:", question)

	out, err := r.host.GenerateSimple(ctx, r.cfg.DefaultClassifierModel, prompt)
	if err != nil {
		r.logger.Warn("Classifier unavailable, falling back to explanation", zap.Error(err))
		return IntentExplanation
	}

	upper := strings.ToUpper(out)
	for _, intent := range []Intent{IntentUsage, IntentDefinition, IntentGeneration, IntentExplanation} {
		if strings.Contains(upper, string(intent)) {
			return intent
		}
	}

	r.logger.Warn("Malformed classifier output, falling back to explanation",
		zap.String("output", out))
	return IntentExplanation
}

var (
	dottedNameRe = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)+\b`)
	identifierRe = regexp.MustCompile(`\b([A-Z][A-Za-z0-9]*[a-z][A-Za-z0-9]*|[a-z][a-z0-9]*_[a-z0-9_]+)\b`)
	callNameRe   = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\(`)
)

// ExtractEntityName pulls a candidate entity name out of a question: a
// dotted name like Class.method, a called name like login(), or a bare
// CamelCase / snake_case identifier.
func ExtractEntityName(question string) string {
	if m := dottedNameRe.FindString(question); m != "" {
		return m
	}
	if m := callNameRe.FindStringSubmatch(question); m != nil {
		return m[1]
	}
	if m := identifierRe.FindString(question); m != "" {
		return m
	}
	return ""
}

// answerUsage resolves the entity and returns its callers. With zero or
// ambiguous matches the router falls back to RAG. No answer-LLM call is
// made on the graph path.
func (r *Router) answerUsage(ctx context.Context, intent Intent, entityName string) (*Response, bool, error) {
	matches, err := r.api.FindDefinition(ctx, entityName)
	if err != nil {
		return nil, false, err
	}
	if len(matches) != 1 {
		r.logger.Debug("Entity did not resolve uniquely, falling back to retrieval",
			zap.String("entity", entityName),
			zap.Int("matches", len(matches)))
		return nil, false, nil
	}

	callers, err := r.api.GetCallers(ctx, matches[0])
	if err != nil {
		return nil, false, err
	}

	resp := &Response{Intent: intent, Route: "graph"}
	for _, caller := range callers {
		resp.Sources = append(resp.Sources, Source{
			Path: caller.File,
			Line: lineOf(caller.Location),
			Name: caller.QualifiedName,
		})
	}
	return resp, true, nil
}

// answerDefinition resolves the entity and returns the matches with
// signature and docstring preview. No answer-LLM call is made.
func (r *Router) answerDefinition(ctx context.Context, intent Intent, entityName string) (*Response, bool, error) {
	matches, err := r.api.FindDefinition(ctx, entityName)
	if err != nil {
		return nil, false, err
	}
	if len(matches) == 0 {
		return nil, false, nil
	}

	resp := &Response{Intent: intent, Route: "graph"}
	for _, e := range matches {
		preview := e.Signature
		if e.Docstring != "" {
			preview += " — " + firstLine(e.Docstring)
		}
		resp.Sources = append(resp.Sources, Source{
			Path:    e.FilePath,
			Line:    e.StartLine,
			Name:    e.QualifiedName,
			Preview: preview,
		})
	}
	return resp, true, nil
}

const explanationSystemPrompt = "You are a codebase assistant. Answer the question using only the " +
	"provided context from the project's summaries and code graph. Explain clearly and cite the " +
	"files you draw on. If the context is insufficient, say so."

const generationSystemPrompt = "You are a codebase assistant. Using the provided context about the " +
	"project, write the requested code in the project's style. Point out which existing files the " +
	"new code should live near or modify."

// answerRAG retrieves the nearest summaries (and entities) to the
// question and synthesizes an answer.
func (r *Router) answerRAG(ctx context.Context, intent Intent, question, entityName string) (*Response, error) {
	total, err := r.store.CountVectors(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, errs.New(errs.IndexEmpty, "the vector index is empty").
			WithRemedy("run 'paranoid index' first")
	}

	queryVec, err := r.host.Embed(ctx, r.cfg.DefaultEmbeddingModel, question)
	if err != nil {
		return nil, err
	}

	topK := r.cfg.GetTopK()
	hits, err := r.store.Nearest(ctx, model.VectorSummary, queryVec, topK)
	if err != nil {
		return nil, err
	}
	entityHits, err := r.store.Nearest(ctx, model.VectorEntity, queryVec, topK)
	if err != nil {
		return nil, err
	}

	sources, contextBlock, err := r.assembleContext(ctx, hits, entityHits)
	if err != nil {
		return nil, err
	}

	// Graph context for an explicitly named entity sharpens the answer
	// when analysis data is available.
	if entityName != "" {
		if block, err := r.entityGraphBlock(ctx, entityName); err == nil && block != "" {
			contextBlock += "\n" + block
		}
	}

	system := explanationSystemPrompt
	if intent == IntentGeneration {
		system = generationSystemPrompt
	}

	prompt := fmt.Sprintf("Context:\n%s\nQuestion: %s", contextBlock, question)
	resp, err := r.host.Generate(ctx, r.cfg.DefaultModel, prompt, llm.GenerateOptions{
		MaxTokens:   r.cfg.GetMaxTokens(),
		Temperature: r.cfg.GetTemperature(),
		System:      system,
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		Intent:  intent,
		Route:   "rag",
		Answer:  resp.Content,
		Sources: sources,
	}, nil
}

// assembleContext merges and orders hits by similarity, truncating the
// block to the model context budget.
func (r *Router) assembleContext(ctx context.Context, summaryHits, entityHits []store.NearestResult) ([]Source, string, error) {
	type scored struct {
		source Source
		text   string
	}

	var items []scored
	for _, hit := range summaryHits {
		sum, err := r.store.GetSummary(ctx, hit.ObjectID)
		if err != nil {
			return nil, "", err
		}
		if sum == nil || sum.Description == "" {
			continue
		}
		items = append(items, scored{
			source: Source{
				Path:       sum.Path,
				Similarity: hit.Similarity,
				Preview:    firstLine(sum.Description),
			},
			text: fmt.Sprintf("[%s]\n%s\n", sum.Path, sum.Description),
		})
	}

	for _, hit := range entityHits {
		id, err := strconv.ParseInt(hit.ObjectID, 10, 64)
		if err != nil {
			continue
		}
		e, err := r.store.GetEntityByID(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if e == nil {
			continue
		}
		items = append(items, scored{
			source: Source{
				Path:       e.FilePath,
				Line:       e.StartLine,
				Name:       e.QualifiedName,
				Similarity: hit.Similarity,
				Preview:    firstLine(e.Docstring),
			},
			text: fmt.Sprintf("[%s %s]\n%s %s\n%s\n", e.Kind, e.QualifiedName, e.QualifiedName, e.Signature, e.Docstring),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].source.Similarity > items[j].source.Similarity
	})

	budget := r.cfg.GetMaxContextChars()
	var b strings.Builder
	var sources []Source
	for _, item := range items {
		if b.Len()+len(item.text) > budget {
			break
		}
		b.WriteString(item.text)
		b.WriteString("\n")
		sources = append(sources, item.source)
	}

	return sources, b.String(), nil
}

// entityGraphBlock summarizes the graph neighborhood of a named entity.
func (r *Router) entityGraphBlock(ctx context.Context, entityName string) (string, error) {
	matches, err := r.api.FindDefinition(ctx, entityName)
	if err != nil || len(matches) != 1 {
		return "", err
	}
	e := matches[0]

	callers, err := r.api.GetCallers(ctx, e)
	if err != nil {
		return "", err
	}
	callees, err := r.api.GetCallees(ctx, e)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Graph facts for %s (%s, %s:%d):\n", e.QualifiedName, e.Kind, e.FilePath, e.StartLine)
	if len(callers) > 0 {
		b.WriteString("Called by: " + joinNames(callers) + "\n")
	}
	if len(callees) > 0 {
		b.WriteString("Calls: " + joinNames(callees) + "\n")
	}
	return b.String(), nil
}

func joinNames(refs []graph.Reference) string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.QualifiedName)
	}
	return strings.Join(names, ", ")
}

// lineOf parses the line number out of a "file:line" location.
func lineOf(location string) int {
	idx := strings.LastIndex(location, ":")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(location[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
