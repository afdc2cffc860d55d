package workspace

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
)

// RefKind selects which identifier uses FindReferences reports.
type RefKind string

const (
	RefType   RefKind = "type"
	RefMethod RefKind = "method"
	RefField  RefKind = "field"
)

// Reference is one use of a name. Line and Column are 1-based; Offset is a byte offset.
type Reference struct {
	Name          string
	Offset        int
	Length        int
	Line          int
	Column        int
	Enclosing     string
	EnclosingKind string
}

// FindReferences returns the uses of names accepted by match in src. Declarations are not
// reported, only references.
func FindReferences(ctx context.Context, lang Language, src []byte, kind RefKind, match func(string) bool) ([]Reference, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	switch lang {
	case LangJava:
		parser.SetLanguage(java.GetLanguage())
	case LangGo:
		parser.SetLanguage(golang.GetLanguage())
	default:
		return nil, fmt.Errorf("unsupported language %q", lang)
	}
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lang, err)
	}
	defer tree.Close()

	var refs []Reference
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if isReference(lang, kind, n, src) {
			name := text(n, src)
			if match(name) {
				encl, enclKind := enclosing(n, src)
				refs = append(refs, Reference{
					Name:          name,
					Offset:        int(n.StartByte()),
					Length:        int(n.EndByte() - n.StartByte()),
					Line:          int(n.StartPoint().Row + 1),
					Column:        int(n.StartPoint().Column + 1),
					Enclosing:     encl,
					EnclosingKind: enclKind,
				})
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(tree.RootNode())
	return refs, nil
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}

// isField reports whether n is the child stored under field of its parent.
func isField(n *sitter.Node, parentType, field string) bool {
	p := n.Parent()
	return p != nil && p.Type() == parentType && sameNode(p.ChildByFieldName(field), n)
}

func isReference(lang Language, kind RefKind, n *sitter.Node, src []byte) bool {
	if lang == LangJava {
		switch kind {
		case RefType:
			if n.Type() == "type_identifier" {
				return true
			}
			// static access through the type name, e.g. Order.create()
			return n.Type() == "identifier" &&
				(isField(n, "method_invocation", "object") || isField(n, "field_access", "object")) &&
				startsUpper(text(n, src))
		case RefMethod:
			return n.Type() == "identifier" && isField(n, "method_invocation", "name")
		case RefField:
			return n.Type() == "identifier" && isField(n, "field_access", "field")
		}
		return false
	}

	switch kind {
	case RefType:
		return n.Type() == "type_identifier" && !isField(n, "type_spec", "name") && !isField(n, "type_alias", "name")
	case RefMethod:
		switch n.Type() {
		case "identifier":
			return isField(n, "call_expression", "function")
		case "field_identifier":
			p := n.Parent()
			return isField(n, "selector_expression", "field") && isField(p, "call_expression", "function")
		}
	case RefField:
		if n.Type() != "field_identifier" || !isField(n, "selector_expression", "field") {
			return false
		}
		return !isField(n.Parent(), "call_expression", "function")
	}
	return false
}

func startsUpper(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

var enclosingKinds = map[string]string{
	"method_declaration":          "method",
	"constructor_declaration":     "method",
	"function_declaration":        "function",
	"class_declaration":           "type",
	"interface_declaration":       "type",
	"enum_declaration":            "type",
	"record_declaration":          "type",
	"annotation_type_declaration": "type",
	"type_spec":                   "type",
}

func enclosing(n *sitter.Node, src []byte) (string, string) {
	for p := n.Parent(); p != nil; p = p.Parent() {
		kind, ok := enclosingKinds[p.Type()]
		if !ok {
			continue
		}
		if name := p.ChildByFieldName("name"); name != nil {
			return text(name, src), kind
		}
	}
	return "", ""
}
