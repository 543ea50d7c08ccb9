package model

import "time"

// SummaryKind distinguishes file summaries from directory summaries.
type SummaryKind string

const (
	KindFile      SummaryKind = "file"
	KindDirectory SummaryKind = "directory"
)

// ContextLevel records how much graph context a summary was generated with.
type ContextLevel int

const (
	// ContextIsolated summarizes from file content alone.
	ContextIsolated ContextLevel = 0
	// ContextWithGraph adds imports, callers and callees to the prompt.
	ContextWithGraph ContextLevel = 1
	// ContextWithRAG is reserved; treated as ContextWithGraph until implemented.
	ContextWithRAG ContextLevel = 2
)

// Summary is the persisted description of a file or directory at a
// particular content/tree hash.
type Summary struct {
	Path          string       `json:"path"`
	Kind          SummaryKind  `json:"kind"`
	Hash          string       `json:"hash"`
	Description   string       `json:"description"`
	Extension     string       `json:"extension,omitempty"`
	Language      string       `json:"language,omitempty"`
	Error         string       `json:"error,omitempty"`
	NeedsUpdate   bool         `json:"needs_update"`
	Model         string       `json:"model,omitempty"`
	ModelVersion  string       `json:"model_version,omitempty"`
	PromptVersion string       `json:"prompt_version,omitempty"`
	ContextLevel  ContextLevel `json:"context_level"`
	GeneratedAt   time.Time    `json:"generated_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	TokensUsed    int          `json:"tokens_used,omitempty"`
	GenerationMS  int64        `json:"generation_ms,omitempty"`
}

// EntityKind is the kind of extracted code construct.
type EntityKind string

const (
	EntityClass    EntityKind = "class"
	EntityFunction EntityKind = "function"
	EntityMethod   EntityKind = "method"
)

// Entity is a class, function or method extracted by static parsing.
type Entity struct {
	ID            int64      `json:"id"`
	FilePath      string     `json:"file_path"`
	Kind          EntityKind `json:"kind"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	ParentEntity  string     `json:"parent_entity,omitempty"`
	StartLine     int        `json:"start_line"`
	EndLine       int        `json:"end_line"`
	Docstring     string     `json:"docstring,omitempty"`
	Signature     string     `json:"signature,omitempty"`
	Language      string     `json:"language"`
}

// RelationshipKind is the kind of a directed graph edge.
type RelationshipKind string

const (
	RelCalls        RelationshipKind = "calls"
	RelImports      RelationshipKind = "imports"
	RelInherits     RelationshipKind = "inherits"
	RelInstantiates RelationshipKind = "instantiates"
)

// Relationship is a directed edge between entities or files. ToEntity is
// zero when the target could not be resolved; ToHint then carries the
// textual name the source referenced.
type Relationship struct {
	ID         int64            `json:"id"`
	FromEntity int64            `json:"from_entity,omitempty"`
	ToEntity   int64            `json:"to_entity,omitempty"`
	FromFile   string           `json:"from_file"`
	ToFile     string           `json:"to_file,omitempty"`
	Kind       RelationshipKind `json:"kind"`
	Location   string           `json:"location"`
	ToHint     string           `json:"to_hint,omitempty"`
}

// SummaryContext is the graph-context snapshot recorded with a level>=1
// summary, consulted by smart invalidation.
type SummaryContext struct {
	Path           string `json:"path"`
	ImportsHash    string `json:"imports_hash"`
	CallersCount   int    `json:"callers_count"`
	CalleesCount   int    `json:"callees_count"`
	ContextVersion int    `json:"context_version"`
}

// DocQuality holds per-entity documentation heuristics.
type DocQuality struct {
	EntityID      int64     `json:"entity_id"`
	HasDocstring  bool      `json:"has_docstring"`
	HasExamples   bool      `json:"has_examples"`
	HasTypeHints  bool      `json:"has_type_hints"`
	PriorityScore float64   `json:"priority_score"`
	LastReviewed  time.Time `json:"last_reviewed"`
}

// IgnorePatternSource records where an ignore pattern came from.
type IgnorePatternSource string

const (
	PatternFromFile    IgnorePatternSource = "file"
	PatternFromCommand IgnorePatternSource = "command"
)

// IgnorePattern is one row of the append-only ignore-pattern audit.
type IgnorePattern struct {
	ID      int64               `json:"id"`
	Pattern string              `json:"pattern"`
	Source  IgnorePatternSource `json:"source"`
	AddedAt time.Time           `json:"added_at"`
}

// VectorKind identifies which table an embedded object came from.
type VectorKind string

const (
	VectorSummary VectorKind = "summary"
	VectorEntity  VectorKind = "entity"
)

// SummaryStats aggregates the summaries table for the status command.
type SummaryStats struct {
	Total       int64            `json:"total"`
	Files       int64            `json:"files"`
	Directories int64            `json:"directories"`
	WithErrors  int64            `json:"with_errors"`
	ByLanguage  map[string]int64 `json:"by_language"`
	ByModel     map[string]int64 `json:"by_model"`
}
