package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

// WorkspaceContext is the serial execution context for tools that change shared
// workspace state.
const WorkspaceContext = "workspace"

func mavenProject(ws *workspace.Workspace, name string) (workspace.Project, error) {
	p, err := openProject(ws, name)
	if err != nil {
		return p, err
	}
	if p.Kind != workspace.KindMaven {
		return p, mcp.IllegalArgument("Not a Maven project: %s", p.Name)
	}
	return p, nil
}

// MavenGoal runs Maven goals and records compiler diagnostics as markers.
type MavenGoal struct {
	ws      *workspace.Workspace
	runner  workspace.Runner
	markers *workspace.MarkerStore
	logger  *slog.Logger
}

type mavenGoalArgs struct {
	ProjectName string   `json:"projectName" validate:"required"`
	Goals       []string `json:"goals" validate:"dive,required"`
}

type mavenGoalResult struct {
	ProjectName  string   `json:"projectName"`
	Goals        []string `json:"goals"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
	ProjectPath  string   `json:"projectPath,omitempty"`
	GroupID      string   `json:"groupId,omitempty"`
	ArtifactID   string   `json:"artifactId,omitempty"`
	Version      string   `json:"version,omitempty"`
	ExitCode     int      `json:"exitCode"`
	DurationMs   int64    `json:"durationMs"`
	ErrorCount   int      `json:"errorCount"`
	WarningCount int      `json:"warningCount"`
	Output       string   `json:"output,omitempty"`
}

func (t *MavenGoal) Name() string { return "maven_goal" }

func (t *MavenGoal) Description() string {
	return "Run Maven goals on a project, e.g. ['clean', 'install']. Compiler errors and warnings " +
		"are recorded and reported by get_problems."
}

func (t *MavenGoal) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"projectName": str("Name of the Maven project"),
		"goals": {
			Type:        "array",
			Description: "Goals and phases to execute",
			Items:       &mcp.Property{Type: "string"},
		},
	}, "projectName", "goals")
}

func (t *MavenGoal) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in mavenGoalArgs
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	if len(in.Goals) == 0 {
		return nil, mcp.IllegalArgument("goals are required")
	}
	p, err := mavenProject(t.ws, in.ProjectName)
	if err != nil {
		return nil, err
	}

	result := &mavenGoalResult{
		ProjectName: p.Name,
		Goals:       in.Goals,
		ProjectPath: p.Location,
		GroupID:     p.GroupID,
		ArtifactID:  p.ArtifactID,
		Version:     p.Version,
	}
	res, err := t.runner.Run(ctx, p.Location, "mvn", append([]string{"-B"}, in.Goals...)...)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result, nil
	}

	markers := parseMavenOutput(p, res.Output)
	if t.markers != nil {
		if err := t.markers.Replace(p.Name, SourceMaven, markers); err != nil {
			t.logger.Warn("recording maven markers failed", "project", p.Name, "error", err)
		}
	}
	for _, m := range markers {
		if m.Severity == workspace.SeverityError {
			result.ErrorCount++
		} else {
			result.WarningCount++
		}
	}

	result.Status = "executed"
	result.ExitCode = res.ExitCode
	result.DurationMs = res.Duration.Milliseconds()
	if res.ExitCode != 0 {
		result.Status = "failed"
		result.Error = fmt.Sprintf("mvn exited with status %d", res.ExitCode)
		result.Output = workspace.Tail([]byte(res.Output), resultOutputLimit)
	}
	t.logger.Info("maven goals finished", "project", p.Name, "goals", in.Goals, "status", result.Status, "errors", result.ErrorCount)
	return result, nil
}

// MavenUpdateProject re-resolves a project's dependencies. It runs on the serial
// workspace context and drops the type index afterwards.
type MavenUpdateProject struct {
	ws     *workspace.Workspace
	runner workspace.Runner
	index  *workspace.TypeIndex
	logger *slog.Logger
}

type mavenUpdateArgs struct {
	ProjectName string `json:"projectName" validate:"required"`
	ForceUpdate bool   `json:"forceUpdate"`
}

type mavenUpdateResult struct {
	ProjectName string `json:"projectName"`
	Status      string `json:"status"`
	ForceUpdate bool   `json:"forceUpdate"`
	Error       string `json:"error,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	ArtifactID  string `json:"artifactId,omitempty"`
	Version     string `json:"version,omitempty"`
	Packaging   string `json:"packaging,omitempty"`
	LastUpdated int64  `json:"lastUpdated,omitempty"`
	PomFile     string `json:"pomFile,omitempty"`
	Output      string `json:"output,omitempty"`
}

func (t *MavenUpdateProject) Name() string        { return "maven_update_project" }
func (t *MavenUpdateProject) ExecContext() string { return WorkspaceContext }

func (t *MavenUpdateProject) Description() string {
	return "Update a Maven project: re-resolve its dependencies, optionally forcing snapshot and " +
		"release updates."
}

func (t *MavenUpdateProject) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"projectName": str("Name of the Maven project"),
		"forceUpdate": boolean("Force update of snapshots and releases (-U)", false),
	}, "projectName")
}

func (t *MavenUpdateProject) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in mavenUpdateArgs
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	p, err := mavenProject(t.ws, in.ProjectName)
	if err != nil {
		return nil, err
	}

	result := &mavenUpdateResult{ProjectName: p.Name, ForceUpdate: in.ForceUpdate}
	cmdArgs := []string{"-B", "dependency:resolve"}
	if in.ForceUpdate {
		cmdArgs = append(cmdArgs, "-U")
	}
	res, err := t.runner.Run(ctx, p.Location, "mvn", cmdArgs...)
	if err == nil && res.ExitCode != 0 {
		result.Output = workspace.Tail([]byte(res.Output), resultOutputLimit)
		err = fmt.Errorf("mvn exited with status %d", res.ExitCode)
	}
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result, nil
	}

	if t.index != nil {
		t.index.Invalidate()
	}
	// reload so coordinates reflect the pom as it is now
	if updated, err := t.ws.Project(p.Name); err == nil {
		p = updated
	}
	result.Status = "updated"
	result.ProjectPath = p.Location
	result.GroupID = p.GroupID
	result.ArtifactID = p.ArtifactID
	result.Version = p.Version
	result.Packaging = p.Packaging
	result.LastUpdated = time.Now().UnixMilli()
	result.PomFile = "/" + p.Name + "/pom.xml"
	t.logger.Info("maven project updated", "project", p.Name, "force", in.ForceUpdate)
	return result, nil
}
