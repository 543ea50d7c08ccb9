// Package parse extracts the static code graph: entities (classes,
// functions, methods) and relationships (imports, calls, inheritance,
// instantiation) from source files, using tree-sitter grammars. Languages
// are registered in a registry; the rest of the engine is language-agnostic.
package parse

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// ModulePathStyle selects how import targets are resolved to files when
// answering "who imports this file".
type ModulePathStyle int

const (
	// ModulePathDotted maps a/b/c.py to the dotted module path a.b.c.
	ModulePathDotted ModulePathStyle = iota
	// ModulePathRelative matches relative import specifiers like ./b or ../c.
	ModulePathRelative
)

// Language describes one registered grammar and its conventions.
type Language struct {
	Tag        string
	Extensions []string
	Grammar    func() *tree_sitter.Language
	NewVisitor func(source []byte) Visitor
	PathStyle  ModulePathStyle
}

var registry = map[string]*Language{}
var byExtension = map[string]*Language{}

// Register adds a language to the registry. Called from init; new
// languages are added by registering, nothing else changes.
func Register(lang *Language) {
	registry[lang.Tag] = lang
	for _, ext := range lang.Extensions {
		byExtension[ext] = lang
	}
}

// ByTag returns the registered language with the given tag, or nil.
func ByTag(tag string) *Language {
	return registry[tag]
}

// ByPath returns the language responsible for a file path, or nil when the
// extension is unsupported.
func ByPath(path string) *Language {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return nil
	}
	return byExtension[strings.ToLower(path[idx:])]
}

// DetectLanguageTag returns the language label for a path, or "unknown".
func DetectLanguageTag(path string) string {
	if lang := ByPath(path); lang != nil {
		return lang.Tag
	}
	return "unknown"
}

func init() {
	Register(&Language{
		Tag:        "python",
		Extensions: []string{".py"},
		Grammar: func() *tree_sitter.Language {
			return tree_sitter.NewLanguage(tree_sitter_python.Language())
		},
		NewVisitor: func(source []byte) Visitor {
			return NewPythonVisitor(source)
		},
		PathStyle: ModulePathDotted,
	})

	Register(&Language{
		Tag:        "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		Grammar: func() *tree_sitter.Language {
			return tree_sitter.NewLanguage(tree_sitter_javascript.Language())
		},
		NewVisitor: func(source []byte) Visitor {
			return NewJavaScriptVisitor(source)
		},
		PathStyle: ModulePathRelative,
	})

	Register(&Language{
		Tag:        "typescript",
		Extensions: []string{".ts", ".tsx"},
		Grammar: func() *tree_sitter.Language {
			return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
		},
		NewVisitor: func(source []byte) Visitor {
			return NewJavaScriptVisitor(source)
		},
		PathStyle: ModulePathRelative,
	})
}
