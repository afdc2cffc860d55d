package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

const maxTransitiveTypes = 100

// Dependency source kinds.
const (
	sourceProject = "project"
	sourceLibrary = "library"
	sourceSDK     = "sdk"
)

// AnalyzeTypeDependencies lists what a type depends on, grouped by package and origin.
type AnalyzeTypeDependencies struct {
	ws    *workspace.Workspace
	index *workspace.TypeIndex
}

type analyzeArgs struct {
	TypeName          string   `json:"typeName" validate:"required"`
	ExcludePackages   []string `json:"excludePackages"`
	IncludeTransitive bool     `json:"includeTransitive"`
}

type dependencyType struct {
	FQN            string `json:"fqn"`
	Excluded       bool   `json:"excluded"`
	ExcludedByRule string `json:"excludedByRule,omitempty"`
}

type packageGroup struct {
	SourceProject string           `json:"sourceProject,omitempty"`
	SourceType    string           `json:"sourceType"`
	Library       string           `json:"library,omitempty"`
	Types         []dependencyType `json:"types"`
}

type analyzeResult struct {
	AnalyzedType          string                   `json:"analyzedType"`
	AnalyzedTypeProject   string                   `json:"analyzedTypeProject"`
	TotalDependencies     int                      `json:"totalDependencies"`
	ExcludedDependencies  int                      `json:"excludedDependencies"`
	TransitiveAnalysis    bool                     `json:"transitiveAnalysis,omitempty"`
	TypesAnalyzed         int                      `json:"typesAnalyzed,omitempty"`
	Warning               string                   `json:"warning,omitempty"`
	DependenciesByPackage map[string]*packageGroup `json:"dependenciesByPackage"`
}

type dependency struct {
	fqn     string
	pkg     string
	source  string
	project string
	library string
}

func (t *AnalyzeTypeDependencies) Name() string { return "analyze_type_dependencies" }

func (t *AnalyzeTypeDependencies) Description() string {
	return "Analyze the dependencies of a type: imported and same-package types grouped by package and " +
		"origin (project, library or SDK). Useful to check whether a type can be moved to another project."
}

func (t *AnalyzeTypeDependencies) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"typeName": str("Fully qualified type name, e.g. 'com.example.MyClass' or 'example.com/mod/pkg.Type'"),
		"excludePackages": {
			Type:        "array",
			Description: "Package prefixes whose dependencies are flagged as excluded",
			Items:       &mcp.Property{Type: "string"},
		},
		"includeTransitive": boolean("Follow dependencies on types of the same project", false),
	}, "typeName")
}

func (t *AnalyzeTypeDependencies) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in analyzeArgs
	err := bind(args, &in)
	typeName := strings.TrimSpace(in.TypeName)
	if typeName == "" {
		return nil, mcp.IllegalArgument("typeName is required (fully qualified, e.g. 'com.example.MyClass')")
	}
	if err != nil {
		return nil, err
	}

	types, err := t.index.Types(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]workspace.TypeInfo, len(types))
	byPackage := make(map[string][]workspace.TypeInfo)
	for _, ti := range types {
		if _, dup := byName[ti.QualifiedName]; !dup {
			byName[ti.QualifiedName] = ti
		}
		byPackage[ti.Project+"\x00"+ti.Package] = append(byPackage[ti.Project+"\x00"+ti.Package], ti)
	}
	target, ok := byName[typeName]
	if !ok {
		return nil, mcp.IllegalArgument("Type not found in workspace: %s", typeName)
	}
	projects, err := t.ws.Projects()
	if err != nil {
		return nil, err
	}

	r := &resolver{byName: byName, byPackage: byPackage, projects: projects}
	deps := make(map[string]dependency)
	var order []string
	analyzed := map[string]bool{target.QualifiedName: true}
	queue := []workspace.TypeInfo{target}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		found, err := r.collect(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, d := range found {
			if d.fqn == target.QualifiedName {
				continue
			}
			if _, seen := deps[d.fqn]; seen {
				continue
			}
			deps[d.fqn] = d
			order = append(order, d.fqn)

			if !in.IncludeTransitive || d.source != sourceProject || d.project != target.Project {
				continue
			}
			for _, next := range r.typesOf(d) {
				if len(analyzed) >= maxTransitiveTypes {
					break
				}
				if !analyzed[next.QualifiedName] {
					analyzed[next.QualifiedName] = true
					queue = append(queue, next)
				}
			}
		}
	}

	result := &analyzeResult{
		AnalyzedType:          typeName,
		AnalyzedTypeProject:   target.Project,
		TotalDependencies:     len(deps),
		DependenciesByPackage: make(map[string]*packageGroup),
	}
	for _, fqn := range order {
		d := deps[fqn]
		dt := dependencyType{FQN: d.fqn}
		for _, prefix := range in.ExcludePackages {
			if prefix != "" && strings.HasPrefix(d.pkg, prefix) {
				dt.Excluded = true
				dt.ExcludedByRule = prefix
				result.ExcludedDependencies++
				break
			}
		}
		g, ok := result.DependenciesByPackage[d.pkg]
		if !ok {
			g = &packageGroup{SourceProject: d.project, SourceType: d.source, Library: d.library}
			result.DependenciesByPackage[d.pkg] = g
		}
		g.Types = append(g.Types, dt)
	}
	if in.IncludeTransitive {
		result.TransitiveAnalysis = true
		result.TypesAnalyzed = len(analyzed)
		if len(analyzed) >= maxTransitiveTypes {
			result.Warning = fmt.Sprintf("Transitive analysis capped at %d types", maxTransitiveTypes)
		}
	}
	return result, nil
}

type resolver struct {
	byName    map[string]workspace.TypeInfo
	byPackage map[string][]workspace.TypeInfo
	projects  []workspace.Project
}

// collect returns the dependencies of one type: the imports of its file and, for Java,
// the same-package types it mentions.
func (r *resolver) collect(ctx context.Context, ti workspace.TypeInfo) ([]dependency, error) {
	var out []dependency
	imported := make(map[string]bool)
	for _, imp := range ti.Imports {
		d := r.resolve(ti, imp)
		out = append(out, d)
		if ti.Language == workspace.LangJava {
			imported[imp[strings.LastIndex(imp, ".")+1:]] = true
		}
	}
	if ti.Language != workspace.LangJava {
		return out, nil
	}

	src, err := os.ReadFile(ti.File.Abs)
	if err != nil {
		return out, nil
	}
	refs, err := workspace.FindReferences(ctx, workspace.LangJava, src, workspace.RefType, func(string) bool { return true })
	if err != nil {
		return out, nil
	}
	seen := make(map[string]bool)
	for _, ref := range refs {
		if imported[ref.Name] || seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		for _, peer := range r.byPackage[ti.Project+"\x00"+ti.Package] {
			if peer.Name == ref.Name && peer.QualifiedName != ti.QualifiedName {
				out = append(out, dependency{
					fqn:     peer.QualifiedName,
					pkg:     peer.Package,
					source:  sourceProject,
					project: peer.Project,
				})
				break
			}
		}
	}
	return out, nil
}

func (r *resolver) resolve(from workspace.TypeInfo, imp string) dependency {
	if from.Language == workspace.LangGo {
		return r.resolveGo(from, imp)
	}
	d := dependency{fqn: imp, pkg: javaPackage(imp)}
	if ti, ok := r.byName[imp]; ok {
		d.source, d.project, d.pkg = sourceProject, ti.Project, ti.Package
		return d
	}
	for _, p := range r.projects {
		if len(r.byPackage[p.Name+"\x00"+d.pkg]) > 0 {
			d.source, d.project = sourceProject, p.Name
			return d
		}
	}
	if strings.HasPrefix(imp, "java.") || strings.HasPrefix(imp, "javax.") {
		d.source = sourceSDK
	} else {
		d.source = sourceLibrary
	}
	return d
}

// javaPackage strips the type (or static member, or *) from an import. Segments starting
// with an upper-case letter are taken to be types.
func javaPackage(imp string) string {
	parts := strings.Split(imp, ".")
	for i, p := range parts {
		if p == "*" || startsUpperCase(p) {
			return strings.Join(parts[:i], ".")
		}
	}
	return strings.Join(parts[:len(parts)-1], ".")
}

func startsUpperCase(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

func (r *resolver) resolveGo(from workspace.TypeInfo, imp string) dependency {
	d := dependency{fqn: imp, pkg: imp}
	for _, p := range r.projects {
		if p.Module != "" && (imp == p.Module || strings.HasPrefix(imp, p.Module+"/")) {
			d.source, d.project = sourceProject, p.Name
			return d
		}
	}
	first, _, _ := strings.Cut(imp, "/")
	if !strings.Contains(first, ".") {
		d.source = sourceSDK
		return d
	}
	d.source = sourceLibrary
	for _, p := range r.projects {
		if p.Name != from.Project {
			continue
		}
		for _, req := range p.Requires {
			if imp == req || strings.HasPrefix(imp, req+"/") {
				d.library = req
			}
		}
	}
	return d
}

// typesOf returns the indexed types a project dependency stands for: the type itself for
// Java, every type of the package for Go.
func (r *resolver) typesOf(d dependency) []workspace.TypeInfo {
	if ti, ok := r.byName[d.fqn]; ok {
		return []workspace.TypeInfo{ti}
	}
	return r.byPackage[d.project+"\x00"+d.pkg]
}
