package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

// FindType searches type declarations in the workspace's Java and Go sources.
type FindType struct {
	index *workspace.TypeIndex
}

type findTypeArgs struct {
	TypeName      string `json:"typeName" validate:"required"`
	CaseSensitive bool   `json:"caseSensitive"`
}

type typeMatch struct {
	TypeName     string `json:"typeName"`
	ElementName  string `json:"elementName"`
	PackageName  string `json:"packageName"`
	ProjectName  string `json:"projectName"`
	FileName     string `json:"fileName"`
	FilePath     string `json:"filePath"`
	Language     string `json:"language"`
	Kind         string `json:"kind"`
	LineNumber   int    `json:"lineNumber"`
	IsInterface  bool   `json:"isInterface"`
	IsClass      bool   `json:"isClass"`
	IsEnum       bool   `json:"isEnum"`
	IsAnnotation bool   `json:"isAnnotation"`
}

func (t *FindType) Name() string { return "find_type" }

func (t *FindType) Description() string {
	return "Find Java and Go type declarations in the workspace by name. Supports * and ? wildcards; " +
		"a pattern containing '.' is matched against the fully qualified name."
}

func (t *FindType) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"typeName":      str("Type name or pattern, e.g. 'Order', '*Service' or 'com.example.*'"),
		"caseSensitive": boolean("Match case exactly", false),
	}, "typeName")
}

func (t *FindType) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in findTypeArgs
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	pattern := strings.TrimSpace(in.TypeName)
	if pattern == "" {
		return nil, mcp.IllegalArgument("typeName is required")
	}
	m, err := newMatcher(pattern, in.CaseSensitive)
	if err != nil {
		return nil, err
	}
	qualified := strings.Contains(pattern, ".")

	types, err := t.index.Types(ctx)
	if err != nil {
		return nil, err
	}
	results := []typeMatch{}
	for _, ti := range types {
		name := ti.Name
		if qualified {
			name = ti.QualifiedName
		}
		if m.Match(name) {
			results = append(results, toTypeMatch(ti))
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].TypeName < results[j].TypeName })
	return results, nil
}

func toTypeMatch(ti workspace.TypeInfo) typeMatch {
	return typeMatch{
		TypeName:     ti.QualifiedName,
		ElementName:  ti.Name,
		PackageName:  ti.Package,
		ProjectName:  ti.Project,
		FileName:     ti.File.Name,
		FilePath:     ti.File.FullPath,
		Language:     string(ti.Language),
		Kind:         string(ti.Kind),
		LineNumber:   ti.Line,
		IsInterface:  ti.Kind == workspace.TypeInterface || ti.Kind == workspace.TypeAnnotation,
		IsClass:      ti.Kind == workspace.TypeClass || ti.Kind == workspace.TypeRecord || ti.Kind == workspace.TypeStruct,
		IsEnum:       ti.Kind == workspace.TypeEnum,
		IsAnnotation: ti.Kind == workspace.TypeAnnotation,
	}
}
