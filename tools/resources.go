package tools

import (
	"context"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

// Resource URIs served by RegisterResources.
const (
	ProjectsURI = "workspace://projects"
	FilesURI    = "workspace://project/{projectName}/files"
	ProblemsURI = "workspace://project/{projectName}/problems"
)

// RegisterResources adds the workspace resources to set.
func RegisterResources(set *mcp.ResourceSet, d Deps) error {
	problems := &GetProblems{ws: d.Workspace, index: d.Index, markers: d.Markers}

	entries := []struct {
		res  mcp.Resource
		read mcp.ReadFunc
	}{
		{
			mcp.Resource{URI: ProjectsURI, Name: "List all projects in the workspace"},
			func(ctx context.Context, uri string, vars map[string]string) (any, error) {
				projects, err := d.Workspace.Projects()
				if projects == nil {
					projects = []workspace.Project{}
				}
				return projects, err
			},
		},
		{
			mcp.Resource{URI: FilesURI, Name: "List all files in a specific project"},
			func(ctx context.Context, uri string, vars map[string]string) (any, error) {
				p, err := openProject(d.Workspace, vars["projectName"])
				if err != nil {
					return nil, err
				}
				return FindFiles(ctx, d.Workspace, p.Name, "*", "")
			},
		},
		{
			mcp.Resource{URI: ProblemsURI, Name: "Get problems for a specific project"},
			func(ctx context.Context, uri string, vars map[string]string) (any, error) {
				return problems.Problems(ctx, vars["projectName"])
			},
		},
	}
	for _, e := range entries {
		if err := set.Add(e.res, e.read); err != nil {
			return err
		}
	}
	return nil
}
