// Package graph exposes high-level typed queries over the extracted code
// graph: callers, callees, imports, importers, inheritance and definition
// lookup.
package graph

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/parse"
	"github.com/bradylowe/paranoid-coder/internal/store"
)

// API answers graph questions against the store.
type API struct {
	store  *store.Store
	root   string
	logger *zap.Logger
}

// Reference is one resolved edge end: an entity (or raw hint) plus where
// the edge sits in the source.
type Reference struct {
	QualifiedName string `json:"qualified_name"`
	File          string `json:"file"`
	Location      string `json:"location"`
	Kind          string `json:"kind,omitempty"`
}

// InheritanceTree holds the direct parents and children of a class.
type InheritanceTree struct {
	Class    *model.Entity   `json:"class"`
	Parents  []*model.Entity `json:"parents"`
	Children []*model.Entity `json:"children"`
}

func NewAPI(st *store.Store, root string, logger *zap.Logger) *API {
	return &API{store: st, root: root, logger: logger}
}

// FindDefinition looks an entity up by qualified name, then by simple
// name. Multiple matches are all returned; callers decide how to handle
// ambiguity.
func (a *API) FindDefinition(ctx context.Context, name string) ([]*model.Entity, error) {
	matches, err := a.store.GetEntitiesByQualifiedName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches, nil
	}

	simple := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		simple = name[idx+1:]
	}
	return a.store.GetEntitiesBySimpleName(ctx, simple)
}

// GetCallers returns the incoming calls edges of an entity, enriched with
// the caller's qualified name. Dynamically dispatched calls may be absent;
// callers must tolerate missing edges.
func (a *API) GetCallers(ctx context.Context, entity *model.Entity) ([]Reference, error) {
	rels, err := a.store.CallersOf(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	return a.referencesFrom(ctx, rels, true)
}

// GetCallees returns the outgoing calls edges of an entity.
func (a *API) GetCallees(ctx context.Context, entity *model.Entity) ([]Reference, error) {
	rels, err := a.store.CalleesOf(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	return a.referencesFrom(ctx, rels, false)
}

// GetImports returns the modules a file imports, raw as written.
func (a *API) GetImports(ctx context.Context, file string) ([]Reference, error) {
	rels, err := a.store.ImportsOf(ctx, file)
	if err != nil {
		return nil, err
	}

	out := make([]Reference, 0, len(rels))
	for _, rel := range rels {
		out = append(out, Reference{
			QualifiedName: rel.ToFile,
			File:          rel.FromFile,
			Location:      rel.Location,
			Kind:          string(rel.Kind),
		})
	}
	return out, nil
}

// GetImporters returns every file whose import target resolves to the
// given file. Resolution is language-specific: dotted module paths for
// Python, relative specifiers for the JavaScript family.
func (a *API) GetImporters(ctx context.Context, file string) ([]Reference, error) {
	lang := parse.ByPath(file)
	if lang == nil {
		return nil, nil
	}

	imports, err := a.store.AllImports(ctx)
	if err != nil {
		return nil, err
	}

	var out []Reference
	for _, rel := range imports {
		if rel.FromFile == file {
			continue
		}

		var matches bool
		switch lang.PathStyle {
		case parse.ModulePathDotted:
			matches = a.dottedTargetMatches(rel.ToFile, file)
		case parse.ModulePathRelative:
			matches = a.relativeTargetMatches(rel.ToFile, rel.FromFile, file)
		}
		if matches {
			out = append(out, Reference{
				QualifiedName: rel.ToFile,
				File:          rel.FromFile,
				Location:      rel.Location,
				Kind:          string(rel.Kind),
			})
		}
	}
	return out, nil
}

// GetInheritanceTree returns the direct parents and children of a class.
func (a *API) GetInheritanceTree(ctx context.Context, class *model.Entity) (*InheritanceTree, error) {
	tree := &InheritanceTree{Class: class}

	parents, err := a.store.ParentsOf(ctx, class.ID)
	if err != nil {
		return nil, err
	}
	for _, rel := range parents {
		if rel.ToEntity == 0 {
			continue
		}
		parent, err := a.store.GetEntityByID(ctx, rel.ToEntity)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			tree.Parents = append(tree.Parents, parent)
		}
	}

	children, err := a.store.ChildrenOf(ctx, class.ID)
	if err != nil {
		return nil, err
	}
	for _, rel := range children {
		if rel.FromEntity == 0 {
			continue
		}
		child, err := a.store.GetEntityByID(ctx, rel.FromEntity)
		if err != nil {
			return nil, err
		}
		if child != nil {
			tree.Children = append(tree.Children, child)
		}
	}

	return tree, nil
}

// dottedTargetMatches reports whether an import target like "src.auth"
// names the given file under the project root.
func (a *API) dottedTargetMatches(target, file string) bool {
	rel, err := filepath.Rel(a.root, file)
	if err != nil {
		return false
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	module := strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")

	// Package __init__ modules answer to the package path.
	module = strings.TrimSuffix(module, ".__init__")

	return target == module || strings.HasSuffix(module, "."+target)
}

// relativeTargetMatches resolves "./x" and "../y" specifiers against the
// importing file's directory.
func (a *API) relativeTargetMatches(target, fromFile, file string) bool {
	if !strings.HasPrefix(target, ".") {
		return false
	}

	resolved := filepath.Clean(filepath.Join(filepath.Dir(fromFile), target))
	bare := strings.TrimSuffix(file, filepath.Ext(file))

	if resolved == file || resolved == bare {
		return true
	}
	// Directory imports resolve to index files.
	return filepath.Join(resolved, "index") == bare
}

func (a *API) referencesFrom(ctx context.Context, rels []*model.Relationship, farIsFrom bool) ([]Reference, error) {
	out := make([]Reference, 0, len(rels))
	for _, rel := range rels {
		ref := Reference{
			File:     rel.FromFile,
			Location: rel.Location,
			Kind:     string(rel.Kind),
		}

		id := rel.ToEntity
		if farIsFrom {
			id = rel.FromEntity
		}
		if id != 0 {
			e, err := a.store.GetEntityByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if e != nil {
				ref.QualifiedName = e.QualifiedName
				if !farIsFrom {
					ref.File = e.FilePath
				}
			}
		}
		if ref.QualifiedName == "" {
			ref.QualifiedName = rel.ToHint
		}
		out = append(out, ref)
	}
	return out, nil
}
