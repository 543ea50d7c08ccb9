package parse

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/bradylowe/paranoid-coder/internal/model"
)

// RawEntity is one extracted construct before store ids are assigned.
type RawEntity struct {
	Kind          model.EntityKind
	Name          string
	QualifiedName string
	ParentEntity  string
	StartLine     int
	EndLine       int
	Docstring     string
	Signature     string
}

// RawImport is one import statement with its raw, unresolved module path.
type RawImport struct {
	Module string
	Line   int
}

// RawCall is a call expression inside an entity body. Callee carries the
// textual name for the later resolution pass.
type RawCall struct {
	FromQualified string
	Callee        string
	Line          int
	IsNew         bool // object-construction expression
}

// RawInherit is an explicit base class reference.
type RawInherit struct {
	FromQualified string
	Base          string
	Line          int
}

// FileGraph is everything one visitor pass produces for a file.
type FileGraph struct {
	Entities []RawEntity
	Imports  []RawImport
	Calls    []RawCall
	Inherits []RawInherit
}

// Visitor walks a concrete syntax tree and accumulates the file graph.
// One visitor instance is used per file.
type Visitor interface {
	TraverseNode(node *tree_sitter.Node, scope string)
	Result() *FileGraph
}

// Tree helpers shared by the visitors.

func treeChildByKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.Kind() == kind {
			return child
		}
	}
	return nil
}

func treeChildrenByKind(node *tree_sitter.Node, kind string) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.Kind() == kind {
			out = append(out, child)
		}
	}
	return out
}

func nodeText(node *tree_sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return node.Utf8Text(source)
}

func startLine(node *tree_sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

func endLine(node *tree_sitter.Node) int {
	return int(node.EndPosition().Row) + 1
}

// qualify joins an enclosing scope and a name with the dotted convention
// used for qualified names.
func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}
