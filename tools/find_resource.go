package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

// FindResource searches files by name across all projects.
type FindResource struct {
	ws *workspace.Workspace
}

type findResourceArgs struct {
	ResourceName  string `json:"resourceName" validate:"required"`
	FileExtension string `json:"fileExtension"`
}

// ResourceMatch is one file found by name. It is also the element type of the
// project files resource.
type ResourceMatch struct {
	FileName      string `json:"fileName"`
	FilePath      string `json:"filePath"`
	ProjectName   string `json:"projectName"`
	FileExtension string `json:"fileExtension,omitempty"`
	Location      string `json:"location"`
	Size          int64  `json:"size"`
	LastModified  int64  `json:"lastModified"`
}

func (t *FindResource) Name() string { return "find_resource" }

func (t *FindResource) Description() string {
	return "Find files in the workspace by name. Supports * and ? wildcards, otherwise matches " +
		"names containing the given text. Matching ignores case."
}

func (t *FindResource) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"resourceName":  str("File name or pattern, e.g. 'pom.xml' or '*Test.java'"),
		"fileExtension": str("Only return files with this extension, without the dot"),
	}, "resourceName")
}

func (t *FindResource) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in findResourceArgs
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	return FindFiles(ctx, t.ws, "", in.ResourceName, in.FileExtension)
}

// FindFiles lists the files of project (all projects when empty) whose name matches
// pattern, ignoring case.
func FindFiles(ctx context.Context, ws *workspace.Workspace, project, pattern, ext string) ([]ResourceMatch, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, mcp.IllegalArgument("resourceName is required")
	}
	m, err := newMatcher(pattern, false)
	if err != nil {
		return nil, err
	}
	results := []ResourceMatch{}
	err = ws.Walk(ctx, project, func(f workspace.File) error {
		if !m.Match(f.Name) {
			return nil
		}
		if ext != "" && !strings.EqualFold(f.Ext, ext) {
			return nil
		}
		results = append(results, ResourceMatch{
			FileName:      f.Name,
			FilePath:      f.FullPath,
			ProjectName:   f.Project,
			FileExtension: f.Ext,
			Location:      f.Abs,
			Size:          f.Size,
			LastModified:  f.ModTime.UnixMilli(),
		})
		return nil
	})
	if errors.Is(err, workspace.ErrProjectNotFound) {
		return nil, mcp.IllegalArgument("Project not found or not open: %s", project)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
