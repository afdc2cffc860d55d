package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

const maxReferences = 1000

// FindReferences reports syntactic uses of a type, method or field name.
type FindReferences struct {
	ws *workspace.Workspace
}

type findReferencesArgs struct {
	ElementName   string `json:"elementName" validate:"required"`
	ElementType   string `json:"elementType" validate:"omitempty,oneof=type method field"`
	ProjectScope  string `json:"projectScope"`
	CaseSensitive *bool  `json:"caseSensitive"`
}

type referenceMatch struct {
	FilePath             string `json:"filePath"`
	ProjectName          string `json:"projectName"`
	Offset               int    `json:"offset"`
	Length               int    `json:"length"`
	Accurate             bool   `json:"accurate"`
	EnclosingElement     string `json:"enclosingElement,omitempty"`
	EnclosingElementType string `json:"enclosingElementType,omitempty"`
	LineNumber           int    `json:"lineNumber"`
	Column               int    `json:"column"`
	MatchText            string `json:"matchText"`
}

func (t *FindReferences) Name() string { return "find_references" }

func (t *FindReferences) Description() string {
	return "Find references to a type, method or field in Java and Go sources. " +
		"Matches are syntactic: names are not resolved to declarations."
}

func (t *FindReferences) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"elementName": str("Name of the element; a qualified name is reduced to its last segment. Supports * and ?"),
		"elementType": {
			Type:        "string",
			Description: "Kind of element to search for",
			Enum:        []string{"type", "method", "field"},
			Default:     "type",
		},
		"projectScope":  str("Limit the search to this project"),
		"caseSensitive": boolean("Match case exactly", true),
	}, "elementName")
}

func (t *FindReferences) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in findReferencesArgs
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.ElementName)
	if name == "" {
		return nil, mcp.IllegalArgument("elementName is required")
	}
	if i := strings.LastIndexAny(name, ".#"); i >= 0 {
		name = name[i+1:]
	}
	kind := workspace.RefKind(in.ElementType)
	if kind == "" {
		kind = workspace.RefType
	}
	caseSensitive := in.CaseSensitive == nil || *in.CaseSensitive
	m, err := newMatcher(name, caseSensitive)
	if err != nil {
		return nil, err
	}
	exact := func(s string) bool { return m.Match(s) }
	if m.g == nil {
		// without wildcards the whole identifier must match
		exact = func(s string) bool {
			if caseSensitive {
				return s == name
			}
			return strings.EqualFold(s, name)
		}
	}

	results := []referenceMatch{}
	err = t.ws.Walk(ctx, in.ProjectScope, func(f workspace.File) error {
		lang, ok := workspace.LanguageOf(f.Name)
		if !ok {
			return nil
		}
		src, err := os.ReadFile(f.Abs)
		if err != nil {
			return nil
		}
		refs, err := workspace.FindReferences(ctx, lang, src, kind, exact)
		if err != nil {
			return nil
		}
		for _, r := range refs {
			results = append(results, referenceMatch{
				FilePath:             f.FullPath,
				ProjectName:          f.Project,
				Offset:               r.Offset,
				Length:               r.Length,
				Accurate:             true,
				EnclosingElement:     r.Enclosing,
				EnclosingElementType: r.EnclosingKind,
				LineNumber:           r.Line,
				Column:               r.Column,
				MatchText:            lineAt(src, r.Offset),
			})
			if len(results) >= maxReferences {
				return workspace.ErrStopWalk
			}
		}
		return nil
	})
	if errors.Is(err, workspace.ErrProjectNotFound) {
		return nil, mcp.IllegalArgument("Project not found or not open: %s", in.ProjectScope)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// lineAt returns the trimmed source line containing offset.
func lineAt(src []byte, offset int) string {
	start := bytes.LastIndexByte(src[:offset], '\n') + 1
	end := bytes.IndexByte(src[offset:], '\n')
	if end < 0 {
		end = len(src)
	} else {
		end += offset
	}
	return strings.TrimSpace(string(src[start:end]))
}
