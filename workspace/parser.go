package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
)

type Language string

const (
	LangJava Language = "java"
	LangGo   Language = "go"
)

// LanguageOf maps a file name to an indexed language.
func LanguageOf(name string) (Language, bool) {
	switch filepath.Ext(name) {
	case ".java":
		return LangJava, true
	case ".go":
		return LangGo, true
	}
	return "", false
}

type TypeKind string

const (
	TypeClass      TypeKind = "class"
	TypeInterface  TypeKind = "interface"
	TypeEnum       TypeKind = "enum"
	TypeAnnotation TypeKind = "annotation"
	TypeRecord     TypeKind = "record"
	TypeStruct     TypeKind = "struct"
	TypeNamed      TypeKind = "type"
)

// TypeDecl is one type declaration found in a source file.
type TypeDecl struct {
	// Name is the simple name. Nested is the enclosing-type path, e.g. "Outer$Inner"
	// for a Java member type, and equals Name for top-level types.
	Name   string
	Nested string
	Kind   TypeKind
	Line   int
}

// FileSymbols is what the index keeps per source file.
type FileSymbols struct {
	Language Language
	Package  string
	Imports  []string
	Types    []TypeDecl
	Errors   []SyntaxError
}

// SyntaxError is a region the parser could not make sense of. Line and Column are 1-based.
type SyntaxError struct {
	Line      int
	Column    int
	StartByte int
	EndByte   int
	Missing   string
}

func (e SyntaxError) Message() string {
	if e.Missing != "" {
		return fmt.Sprintf("Syntax error, missing %s", e.Missing)
	}
	return "Syntax error"
}

// ParseSource extracts the package, imports and type declarations of src.
func ParseSource(ctx context.Context, lang Language, src []byte) (*FileSymbols, error) {
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

	fs := &FileSymbols{Language: lang}
	root := tree.RootNode()
	if lang == LangJava {
		extractJava(root, src, fs)
	} else {
		extractGo(root, src, fs)
	}
	if root.HasError() {
		collectErrors(root, fs)
	}
	return fs, nil
}

func collectErrors(n *sitter.Node, fs *FileSymbols) {
	if n.IsMissing() || n.Type() == "ERROR" {
		se := SyntaxError{
			Line:      int(n.StartPoint().Row + 1),
			Column:    int(n.StartPoint().Column + 1),
			StartByte: int(n.StartByte()),
			EndByte:   int(n.EndByte()),
		}
		if n.IsMissing() {
			se.Missing = n.Type()
		}
		fs.Errors = append(fs.Errors, se)
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.HasError() || c.IsMissing() {
			collectErrors(c, fs)
		}
	}
}

func text(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

var javaDecls = map[string]TypeKind{
	"class_declaration":           TypeClass,
	"interface_declaration":       TypeInterface,
	"enum_declaration":            TypeEnum,
	"annotation_type_declaration": TypeAnnotation,
	"record_declaration":          TypeRecord,
}

// Only these containers can hold member types. Method bodies are not entered.
var javaContainers = map[string]bool{
	"program":                true,
	"class_body":             true,
	"interface_body":         true,
	"enum_body":              true,
	"enum_body_declarations": true,
	"annotation_type_body":   true,
}

func extractJava(root *sitter.Node, src []byte, fs *FileSymbols) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "package_declaration":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				n := child.NamedChild(j)
				if n.Type() == "scoped_identifier" || n.Type() == "identifier" {
					fs.Package = text(n, src)
				}
			}
		case "import_declaration":
			imp := strings.TrimSpace(text(child, src))
			imp = strings.TrimSuffix(strings.TrimPrefix(imp, "import"), ";")
			imp = strings.TrimSpace(imp)
			imp = strings.TrimSpace(strings.TrimPrefix(imp, "static "))
			if imp != "" {
				fs.Imports = append(fs.Imports, strings.Join(strings.Fields(imp), ""))
			}
		}
	}
	walkJava(root, src, "", fs)
}

func walkJava(node *sitter.Node, src []byte, outer string, fs *FileSymbols) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if kind, ok := javaDecls[child.Type()]; ok {
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := text(nameNode, src)
			nested := name
			if outer != "" {
				nested = outer + "$" + name
			}
			fs.Types = append(fs.Types, TypeDecl{
				Name:   name,
				Nested: nested,
				Kind:   kind,
				Line:   int(child.StartPoint().Row + 1),
			})
			if body := child.ChildByFieldName("body"); body != nil {
				walkJava(body, src, nested, fs)
			}
			continue
		}
		if javaContainers[child.Type()] {
			walkJava(child, src, outer, fs)
		}
	}
}

func extractGo(root *sitter.Node, src []byte, fs *FileSymbols) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "package_clause":
			for j := 0; j < int(child.ChildCount()); j++ {
				if n := child.Child(j); n.Type() == "package_identifier" {
					fs.Package = text(n, src)
				}
			}
		case "import_declaration":
			goImports(child, src, fs)
		case "type_declaration":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() == "type_spec" || spec.Type() == "type_alias" {
					goTypeSpec(spec, src, fs)
				}
			}
		}
	}
}

func goImports(node *sitter.Node, src []byte, fs *FileSymbols) {
	var specs []*sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import_spec":
			specs = append(specs, child)
		case "import_spec_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				if spec := child.Child(j); spec.Type() == "import_spec" {
					specs = append(specs, spec)
				}
			}
		}
	}
	for _, spec := range specs {
		for i := 0; i < int(spec.ChildCount()); i++ {
			if c := spec.Child(i); c.Type() == "interpreted_string_literal" {
				fs.Imports = append(fs.Imports, strings.Trim(text(c, src), `"`))
			}
		}
	}
}

func goTypeSpec(spec *sitter.Node, src []byte, fs *FileSymbols) {
	var name string
	kind := TypeNamed
	for i := 0; i < int(spec.ChildCount()); i++ {
		child := spec.Child(i)
		switch child.Type() {
		case "type_identifier":
			if name == "" {
				name = text(child, src)
			}
		case "struct_type":
			kind = TypeStruct
		case "interface_type":
			kind = TypeInterface
		}
	}
	if name == "" {
		return
	}
	fs.Types = append(fs.Types, TypeDecl{
		Name:   name,
		Nested: name,
		Kind:   kind,
		Line:   int(spec.StartPoint().Row + 1),
	})
}
