// Package tools implements the workspace tools served through tools/call.
package tools

import (
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"

	"github.com/go-playground/validator/v10"
)

// Deps is what the tools share.
type Deps struct {
	Workspace *workspace.Workspace
	Index     *workspace.TypeIndex
	Markers   *workspace.MarkerStore
	Runner    workspace.Runner
	Logger    *slog.Logger
}

// All returns every tool in the order tools/list reports them.
func All(d Deps) []mcp.Tool {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Runner == nil {
		d.Runner = workspace.ExecRunner{}
	}
	return []mcp.Tool{
		&FindType{index: d.Index},
		&FindResource{ws: d.Workspace},
		&FindReferences{ws: d.Workspace},
		&GetProblems{ws: d.Workspace, index: d.Index, markers: d.Markers},
		&RunTests{ws: d.Workspace, runner: d.Runner, markers: d.Markers, logger: d.Logger},
		&MavenGoal{ws: d.Workspace, runner: d.Runner, markers: d.Markers, logger: d.Logger},
		&MavenUpdateProject{ws: d.Workspace, runner: d.Runner, index: d.Index, logger: d.Logger},
		&AnalyzeTypeDependencies{ws: d.Workspace, index: d.Index},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes and validates tool arguments. Failures are illegal-argument errors.
func bind(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return mcp.IllegalArgument("Invalid arguments: %v", err)
	}
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return mcp.IllegalArgument("Invalid arguments: %v", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "min":
		return mcp.IllegalArgument("%s is required", fe.Field())
	case "oneof":
		return mcp.IllegalArgument("Invalid %s: '%v'. Must be one of: %s", fe.Field(), fe.Value(), fe.Param())
	default:
		return mcp.IllegalArgument("Invalid %s", fe.Field())
	}
}

func openProject(ws *workspace.Workspace, name string) (workspace.Project, error) {
	p, err := ws.Project(name)
	if errors.Is(err, workspace.ErrProjectNotFound) {
		return p, mcp.IllegalArgument("Project not found or not open: %s", name)
	}
	return p, err
}

func str(desc string) mcp.Property { return mcp.Property{Type: "string", Description: desc} }
func boolean(desc string, def bool) mcp.Property {
	return mcp.Property{Type: "boolean", Description: desc, Default: def}
}
