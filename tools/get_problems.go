package tools

import (
	"context"
	"encoding/json"
	"path"
	"path/filepath"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

// SourceSyntax is the marker source of parse errors found by the type index.
const SourceSyntax = "syntax"

// GetProblems reports the error markers of a project: build and test failures recorded
// by the build tools plus syntax errors in its sources.
type GetProblems struct {
	ws      *workspace.Workspace
	index   *workspace.TypeIndex
	markers *workspace.MarkerStore
}

type getProblemsArgs struct {
	ProjectName string `json:"projectName" validate:"required"`
}

// ProblemsResult is also the value of the project problems resource.
type ProblemsResult struct {
	ProjectName string             `json:"projectName"`
	Errors      []workspace.Marker `json:"errors"`
	ErrorCount  int                `json:"errorCount"`
}

func (t *GetProblems) Name() string { return "get_problems" }

func (t *GetProblems) Description() string {
	return "List the errors of a project: build and test failures from the last maven_goal or run_tests, " +
		"and syntax errors in Java and Go sources."
}

func (t *GetProblems) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"projectName": str("Name of the project"),
	}, "projectName")
}

func (t *GetProblems) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in getProblemsArgs
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return t.Problems(ctx, in.ProjectName)
}

// Problems collects the error markers of project.
func (t *GetProblems) Problems(ctx context.Context, project string) (*ProblemsResult, error) {
	p, err := openProject(t.ws, project)
	if err != nil {
		return nil, err
	}
	errs := []workspace.Marker{}
	if t.markers != nil {
		stored, err := t.markers.Errors(p.Name)
		if err != nil {
			return nil, err
		}
		errs = append(errs, stored...)
	}
	if t.index != nil {
		syntax, err := t.index.Problems(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		for _, sp := range syntax {
			errs = append(errs, workspace.Marker{
				Message:      sp.Error.Message(),
				Severity:     workspace.SeverityError,
				LineNumber:   sp.Error.Line,
				CharStart:    sp.Error.StartByte,
				CharEnd:      sp.Error.EndByte,
				ResourcePath: sp.File.FullPath,
				ResourceName: path.Base(sp.File.FullPath),
				Location:     filepath.ToSlash(sp.File.Abs),
				SourceID:     SourceSyntax,
			})
		}
	}
	return &ProblemsResult{ProjectName: p.Name, Errors: errs, ErrorCount: len(errs)}, nil
}
