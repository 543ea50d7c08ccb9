package parse

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/bradylowe/paranoid-coder/internal/model"
)

// JavaScriptVisitor walks a JavaScript or TypeScript syntax tree. The two
// grammars share the node kinds this visitor cares about, so one visitor
// serves both; the typed variant only adds annotations that flow into
// signatures.
type JavaScriptVisitor struct {
	source []byte
	graph  FileGraph
}

func NewJavaScriptVisitor(source []byte) Visitor {
	return &JavaScriptVisitor{source: source}
}

func (jv *JavaScriptVisitor) Result() *FileGraph {
	return &jv.graph
}

func (jv *JavaScriptVisitor) TraverseNode(node *tree_sitter.Node, scope string) {
	jv.traverse(node, scope, scopeModule, "")
}

func (jv *JavaScriptVisitor) traverse(node *tree_sitter.Node, scope string, kind scopeKind, enclosing string) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "import_statement":
		jv.handleImport(node)
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			jv.traverse(decl, scope, kind, enclosing)
		} else if source := node.ChildByFieldName("source"); source != nil {
			// Re-exports pull the module in like an import.
			jv.graph.Imports = append(jv.graph.Imports, RawImport{
				Module: stripJSQuotes(nodeText(source, jv.source)),
				Line:   startLine(node),
			})
		}
	case "class_declaration", "abstract_class_declaration":
		jv.handleClass(node, scope, kind)
	case "function_declaration", "generator_function_declaration":
		jv.handleFunction(node, scope, kind)
	case "method_definition":
		jv.handleMethod(node, scope)
	case "lexical_declaration", "variable_declaration":
		jv.handleVariableDeclaration(node, scope, kind, enclosing)
	case "call_expression":
		jv.handleCall(node, enclosing, false)
	case "new_expression":
		jv.handleCall(node, enclosing, true)
	case "comment", "string", "template_string":
		// Leaves.
	default:
		jv.traverseChildren(node, scope, kind, enclosing)
	}
}

func (jv *JavaScriptVisitor) traverseChildren(node *tree_sitter.Node, scope string, kind scopeKind, enclosing string) {
	for i := uint(0); i < node.ChildCount(); i++ {
		jv.traverse(node.Child(i), scope, kind, enclosing)
	}
}

func (jv *JavaScriptVisitor) handleImport(node *tree_sitter.Node) {
	source := node.ChildByFieldName("source")
	if source == nil {
		return
	}
	jv.graph.Imports = append(jv.graph.Imports, RawImport{
		Module: stripJSQuotes(nodeText(source, jv.source)),
		Line:   startLine(node),
	})
}

func (jv *JavaScriptVisitor) handleClass(node *tree_sitter.Node, scope string, kind scopeKind) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, jv.source)
	qual := qualify(scope, name)

	parent := ""
	if kind == scopeClass {
		parent = scope
	}

	jv.graph.Entities = append(jv.graph.Entities, RawEntity{
		Kind:          model.EntityClass,
		Name:          name,
		QualifiedName: qual,
		ParentEntity:  parent,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Docstring:     jv.precedingDocComment(node),
	})

	if heritage := treeChildByKind(node, "class_heritage"); heritage != nil {
		for i := uint(0); i < heritage.ChildCount(); i++ {
			base := heritage.Child(i)
			switch base.Kind() {
			case "identifier", "member_expression":
				jv.graph.Inherits = append(jv.graph.Inherits, RawInherit{
					FromQualified: qual,
					Base:          nodeText(base, jv.source),
					Line:          startLine(base),
				})
			}
		}
	}

	if body := node.ChildByFieldName("body"); body != nil {
		jv.traverseChildren(body, qual, scopeClass, "")
	}
}

func (jv *JavaScriptVisitor) handleFunction(node *tree_sitter.Node, scope string, kind scopeKind) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, jv.source)
	qual := qualify(scope, name)

	jv.graph.Entities = append(jv.graph.Entities, RawEntity{
		Kind:          model.EntityFunction,
		Name:          name,
		QualifiedName: qual,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Docstring:     jv.precedingDocComment(node),
		Signature:     jv.signatureOf(node),
	})

	if body := node.ChildByFieldName("body"); body != nil {
		jv.traverseChildren(body, qual, scopeFunction, qual)
	}
}

func (jv *JavaScriptVisitor) handleMethod(node *tree_sitter.Node, scope string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeText(nameNode, jv.source)
	qual := qualify(scope, name)

	jv.graph.Entities = append(jv.graph.Entities, RawEntity{
		Kind:          model.EntityMethod,
		Name:          name,
		QualifiedName: qual,
		ParentEntity:  scope,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Docstring:     jv.precedingDocComment(node),
		Signature:     jv.signatureOf(node),
	})

	if body := node.ChildByFieldName("body"); body != nil {
		jv.traverseChildren(body, qual, scopeFunction, qual)
	}
}

// handleVariableDeclaration records `const f = () => {}` and
// `const f = function () {}` as functions.
func (jv *JavaScriptVisitor) handleVariableDeclaration(node *tree_sitter.Node, scope string, kind scopeKind, enclosing string) {
	for _, declarator := range treeChildrenByKind(node, "variable_declarator") {
		nameNode := declarator.ChildByFieldName("name")
		value := declarator.ChildByFieldName("value")
		if nameNode == nil || value == nil {
			continue
		}

		switch value.Kind() {
		case "arrow_function", "function_expression", "generator_function":
			name := nodeText(nameNode, jv.source)
			qual := qualify(scope, name)
			jv.graph.Entities = append(jv.graph.Entities, RawEntity{
				Kind:          model.EntityFunction,
				Name:          name,
				QualifiedName: qual,
				StartLine:     startLine(node),
				EndLine:       endLine(node),
				Docstring:     jv.precedingDocComment(node),
				Signature:     jv.signatureOf(value),
			})
			if body := value.ChildByFieldName("body"); body != nil {
				jv.traverse(body, qual, scopeFunction, qual)
			}
		default:
			jv.traverse(value, scope, kind, enclosing)
		}
	}
}

func (jv *JavaScriptVisitor) handleCall(node *tree_sitter.Node, enclosing string, isNew bool) {
	var fn *tree_sitter.Node
	if isNew {
		fn = node.ChildByFieldName("constructor")
	} else {
		fn = node.ChildByFieldName("function")
	}

	if enclosing != "" && fn != nil {
		switch fn.Kind() {
		case "identifier", "member_expression":
			callee := nodeText(fn, jv.source)
			callee = strings.TrimPrefix(callee, "this.")
			jv.graph.Calls = append(jv.graph.Calls, RawCall{
				FromQualified: enclosing,
				Callee:        callee,
				Line:          startLine(node),
				IsNew:         isNew,
			})
		}
	}

	if args := node.ChildByFieldName("arguments"); args != nil {
		jv.traverseChildren(args, "", scopeFunction, enclosing)
	}
}

func (jv *JavaScriptVisitor) signatureOf(node *tree_sitter.Node) string {
	sig := nodeText(node.ChildByFieldName("parameters"), jv.source)
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		sig += nodeText(ret, jv.source)
	}
	return sig
}

// precedingDocComment collects the comment block immediately above a
// declaration: a /** */ block or a run of // and /// lines.
func (jv *JavaScriptVisitor) precedingDocComment(node *tree_sitter.Node) string {
	var lines []string
	prev := node.PrevSibling()
	expectedEnd := startLine(node) - 1

	for prev != nil && prev.Kind() == "comment" && endLine(prev) == expectedEnd {
		lines = append([]string{nodeText(prev, jv.source)}, lines...)
		expectedEnd = startLine(prev) - 1
		prev = prev.PrevSibling()
	}

	if len(lines) == 0 {
		return ""
	}
	return cleanJSComment(strings.Join(lines, "\n"))
}

// cleanJSComment strips comment markers, keeping the text.
func cleanJSComment(comment string) string {
	comment = strings.TrimSpace(comment)
	if strings.HasPrefix(comment, "/*") {
		comment = strings.TrimPrefix(comment, "/**")
		comment = strings.TrimPrefix(comment, "/*")
		comment = strings.TrimSuffix(comment, "*/")
		var out []string
		for _, line := range strings.Split(comment, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimPrefix(line, "*")
			line = strings.TrimSpace(line)
			if line != "" {
				out = append(out, line)
			}
		}
		return strings.Join(out, "\n")
	}

	var out []string
	for _, line := range strings.Split(comment, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "///")
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func stripJSQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`, "`"} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2 {
			return s[1 : len(s)-1]
		}
	}
	return s
}
