package parse

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/bradylowe/paranoid-coder/internal/model"
)

// PythonVisitor walks a Python syntax tree and collects classes, functions,
// methods, imports, calls and base classes.
type PythonVisitor struct {
	source []byte
	graph  FileGraph
}

func NewPythonVisitor(source []byte) Visitor {
	return &PythonVisitor{source: source}
}

func (pv *PythonVisitor) Result() *FileGraph {
	return &pv.graph
}

// scopeKind tracks what the enclosing construct is, which decides whether
// a function_definition is a function or a method.
type scopeKind int

const (
	scopeModule scopeKind = iota
	scopeClass
	scopeFunction
)

func (pv *PythonVisitor) TraverseNode(node *tree_sitter.Node, scope string) {
	pv.traverse(node, scope, scopeModule, "")
}

// traverse walks the tree. scope is the dotted qualified-name prefix,
// enclosing is the qualified name of the nearest enclosing function or
// method ("" at module or class level).
func (pv *PythonVisitor) traverse(node *tree_sitter.Node, scope string, kind scopeKind, enclosing string) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "import_statement":
		pv.handleImport(node)
	case "import_from_statement":
		pv.handleImportFrom(node)
	case "class_definition":
		pv.handleClass(node, scope, kind)
	case "function_definition":
		pv.handleFunction(node, scope, kind, enclosing)
	case "decorated_definition":
		if def := node.ChildByFieldName("definition"); def != nil {
			pv.traverse(def, scope, kind, enclosing)
		}
	case "call":
		pv.handleCall(node, enclosing)
		// Arguments may contain further calls.
		if args := node.ChildByFieldName("arguments"); args != nil {
			pv.traverseChildren(args, scope, kind, enclosing)
		}
	case "comment", "string":
		// Leaves.
	default:
		pv.traverseChildren(node, scope, kind, enclosing)
	}
}

func (pv *PythonVisitor) traverseChildren(node *tree_sitter.Node, scope string, kind scopeKind, enclosing string) {
	for i := uint(0); i < node.ChildCount(); i++ {
		pv.traverse(node.Child(i), scope, kind, enclosing)
	}
}

// handleImport records `import a.b, c` statements.
func (pv *PythonVisitor) handleImport(node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		switch child.Kind() {
		case "dotted_name":
			pv.graph.Imports = append(pv.graph.Imports, RawImport{
				Module: nodeText(child, pv.source),
				Line:   startLine(node),
			})
		case "aliased_import":
			if name := treeChildByKind(child, "dotted_name"); name != nil {
				pv.graph.Imports = append(pv.graph.Imports, RawImport{
					Module: nodeText(name, pv.source),
					Line:   startLine(node),
				})
			}
		}
	}
}

// handleImportFrom records `from a.b import x` with the module path only;
// the imported names stay with the module as the raw target.
func (pv *PythonVisitor) handleImportFrom(node *tree_sitter.Node) {
	module := node.ChildByFieldName("module_name")
	if module == nil {
		return
	}
	pv.graph.Imports = append(pv.graph.Imports, RawImport{
		Module: nodeText(module, pv.source),
		Line:   startLine(node),
	})
}

func (pv *PythonVisitor) handleClass(node *tree_sitter.Node, scope string, kind scopeKind) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, pv.source)
	qual := qualify(scope, name)

	parent := ""
	if kind == scopeClass {
		parent = scope
	}

	body := node.ChildByFieldName("body")
	pv.graph.Entities = append(pv.graph.Entities, RawEntity{
		Kind:          model.EntityClass,
		Name:          name,
		QualifiedName: qual,
		ParentEntity:  parent,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Docstring:     pv.blockDocstring(body),
		Signature:     nodeText(node.ChildByFieldName("superclasses"), pv.source),
	})

	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := uint(0); i < supers.ChildCount(); i++ {
			base := supers.Child(i)
			switch base.Kind() {
			case "identifier", "attribute":
				pv.graph.Inherits = append(pv.graph.Inherits, RawInherit{
					FromQualified: qual,
					Base:          nodeText(base, pv.source),
					Line:          startLine(base),
				})
			}
		}
	}

	if body != nil {
		pv.traverseChildren(body, qual, scopeClass, "")
	}
}

func (pv *PythonVisitor) handleFunction(node *tree_sitter.Node, scope string, kind scopeKind, enclosing string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, pv.source)
	qual := qualify(scope, name)

	entityKind := model.EntityFunction
	parent := ""
	if kind == scopeClass {
		entityKind = model.EntityMethod
		parent = scope
	}

	signature := nodeText(node.ChildByFieldName("parameters"), pv.source)
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		signature += " -> " + nodeText(ret, pv.source)
	}

	body := node.ChildByFieldName("body")
	pv.graph.Entities = append(pv.graph.Entities, RawEntity{
		Kind:          entityKind,
		Name:          name,
		QualifiedName: qual,
		ParentEntity:  parent,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Docstring:     pv.blockDocstring(body),
		Signature:     signature,
	})

	if body != nil {
		pv.traverseChildren(body, qual, scopeFunction, qual)
	}
}

// handleCall records calls inside function or method bodies; module-level
// calls carry no source entity and are skipped.
func (pv *PythonVisitor) handleCall(node *tree_sitter.Node, enclosing string) {
	if enclosing == "" {
		return
	}

	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	switch fn.Kind() {
	case "identifier", "attribute":
		callee := nodeText(fn, pv.source)
		// self.x resolves within the enclosing class; the bare member name
		// is what the symbol table knows.
		callee = strings.TrimPrefix(callee, "self.")
		pv.graph.Calls = append(pv.graph.Calls, RawCall{
			FromQualified: enclosing,
			Callee:        callee,
			Line:          startLine(node),
		})
	default:
		// Chained or computed callee, e.g. f()(); record nothing and keep
		// walking for nested calls.
		pv.traverse(fn, "", scopeFunction, enclosing)
	}
}

// blockDocstring returns the first string literal statement of a block.
func (pv *PythonVisitor) blockDocstring(body *tree_sitter.Node) string {
	if body == nil {
		return ""
	}
	for i := uint(0); i < body.ChildCount(); i++ {
		child := body.Child(i)
		if child.Kind() == "comment" {
			continue
		}
		if child.Kind() == "expression_statement" {
			if str := treeChildByKind(child, "string"); str != nil {
				return stripPythonQuotes(nodeText(str, pv.source))
			}
		}
		break
	}
	return ""
}

func stripPythonQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return s
}
