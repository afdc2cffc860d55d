package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"workspace-mcp/mcp"
	"workspace-mcp/workspace"
)

// RunTests runs a project's tests with its build tool and records the failures as markers.
type RunTests struct {
	ws      *workspace.Workspace
	runner  workspace.Runner
	markers *workspace.MarkerStore
	logger  *slog.Logger
}

type runTestsArgs struct {
	ProjectName string `json:"projectName" validate:"required"`
	TestClass   string `json:"testClass"`
	TestMethod  string `json:"testMethod"`
}

type runTestsResult struct {
	Status       string             `json:"status"`
	ProjectName  string             `json:"projectName"`
	TestClass    string             `json:"testClass,omitempty"`
	TestMethod   string             `json:"testMethod,omitempty"`
	Command      []string           `json:"command"`
	ExitCode     int                `json:"exitCode"`
	DurationMs   int64              `json:"durationMs"`
	Failures     []workspace.Marker `json:"failures"`
	FailureCount int                `json:"failureCount"`
	Output       string             `json:"output"`
}

func (t *RunTests) Name() string { return "run_tests" }

func (t *RunTests) Description() string {
	return "Run the tests of a Maven or Go project, optionally limited to one test class (Go: package) " +
		"and method. Failures are recorded and reported by get_problems."
}

func (t *RunTests) InputSchema() mcp.Schema {
	return mcp.ObjectSchema(map[string]mcp.Property{
		"projectName": str("Name of the project"),
		"testClass":   str("Test class to run, e.g. 'com.example.OrderTest'; for Go projects a package such as './internal/store'"),
		"testMethod":  str("Test method to run within testClass"),
	}, "projectName")
}

func (t *RunTests) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in runTestsArgs
	if err := bind(args, &in); err != nil {
		return nil, err
	}
	if !validArg(in.TestClass) || !validArg(in.TestMethod) {
		return nil, mcp.IllegalArgument("testClass and testMethod must not start with '-'")
	}
	p, err := openProject(t.ws, in.ProjectName)
	if err != nil {
		return nil, err
	}

	var name string
	var cmdArgs []string
	switch p.Kind {
	case workspace.KindMaven:
		name, cmdArgs = "mvn", []string{"-B", "test"}
		if in.TestClass != "" {
			sel := in.TestClass
			if in.TestMethod != "" {
				sel += "#" + in.TestMethod
			}
			cmdArgs = append(cmdArgs, "-Dtest="+sel, "-Dsurefire.failIfNoSpecifiedTests=false")
		}
	case workspace.KindGo:
		pkg := "./..."
		if in.TestClass != "" {
			pkg = in.TestClass
		}
		name, cmdArgs = "go", []string{"test", pkg}
		if in.TestMethod != "" {
			cmdArgs = append(cmdArgs, "-run", "^"+in.TestMethod+"$")
		}
	default:
		return nil, mcp.IllegalArgument("Not a Maven or Go project: %s", p.Name)
	}

	res, err := t.runner.Run(ctx, p.Location, name, cmdArgs...)
	if err != nil {
		return nil, err
	}

	var failures []workspace.Marker
	if p.Kind == workspace.KindMaven {
		failures = parseMavenOutput(p, res.Output)
	} else {
		failures = parseGoOutput(p, res.Output)
	}
	failures = errorsOnly(failures)
	if t.markers != nil {
		if err := t.markers.Replace(p.Name, SourceTests, failures); err != nil {
			t.logger.Warn("recording test markers failed", "project", p.Name, "error", err)
		}
	}

	status := "passed"
	if res.ExitCode != 0 {
		status = "failed"
	}
	t.logger.Info("tests finished", "project", p.Name, "status", status, "failures", len(failures), "duration", res.Duration)
	if failures == nil {
		failures = []workspace.Marker{}
	}
	return &runTestsResult{
		Status:       status,
		ProjectName:  p.Name,
		TestClass:    in.TestClass,
		TestMethod:   in.TestMethod,
		Command:      res.Command,
		ExitCode:     res.ExitCode,
		DurationMs:   res.Duration.Milliseconds(),
		Failures:     failures,
		FailureCount: len(failures),
		Output:       workspace.Tail([]byte(res.Output), resultOutputLimit),
	}, nil
}

func errorsOnly(markers []workspace.Marker) []workspace.Marker {
	var out []workspace.Marker
	for _, m := range markers {
		if m.Severity == workspace.SeverityError {
			out = append(out, m)
		}
	}
	return out
}

// validArg rejects values that would be read as command-line flags.
func validArg(v string) bool {
	return !strings.HasPrefix(v, "-")
}
