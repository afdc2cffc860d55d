package workspace

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TypeInfo is a type declaration located in the workspace.
type TypeInfo struct {
	// QualifiedName is package + "." + nested name for Java and import path + "." + name for Go.
	QualifiedName string
	Name          string
	Package       string
	Project       string
	File          File
	Language      Language
	Kind          TypeKind
	Line          int
	// Imports are the imports of the declaring file.
	Imports []string
}

// SourceProblem is a syntax error found while indexing a source file.
type SourceProblem struct {
	File  File
	Error SyntaxError
}

type snapshot struct {
	types    []TypeInfo
	problems []SourceProblem
}

// TypeIndex holds every type declared in the workspace's Java and Go sources. It is built
// lazily on first use and rebuilt after Invalidate. Concurrent builds are collapsed.
type TypeIndex struct {
	ws     *Workspace
	logger *slog.Logger
	group  singleflight.Group

	mu   sync.RWMutex
	snap *snapshot
	gen  uint64
}

func NewTypeIndex(ws *Workspace, logger *slog.Logger) *TypeIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypeIndex{ws: ws, logger: logger}
}

// Types returns the current index, building it if needed. The slice must not be modified.
func (ix *TypeIndex) Types(ctx context.Context) ([]TypeInfo, error) {
	snap, err := ix.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.types, nil
}

// Problems returns the syntax errors of the named project's source files.
func (ix *TypeIndex) Problems(ctx context.Context, project string) ([]SourceProblem, error) {
	snap, err := ix.current(ctx)
	if err != nil {
		return nil, err
	}
	var out []SourceProblem
	for _, p := range snap.problems {
		if p.File.Project == project {
			out = append(out, p)
		}
	}
	return out, nil
}

func (ix *TypeIndex) current(ctx context.Context) (*snapshot, error) {
	ix.mu.RLock()
	snap := ix.snap
	ix.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}

	v, err, _ := ix.group.Do("build", func() (any, error) {
		return ix.build(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

// Lookup returns the types whose qualified name is exactly name.
func (ix *TypeIndex) Lookup(ctx context.Context, name string) ([]TypeInfo, error) {
	types, err := ix.Types(ctx)
	if err != nil {
		return nil, err
	}
	var out []TypeInfo
	for _, t := range types {
		if t.QualifiedName == name {
			out = append(out, t)
		}
	}
	return out, nil
}

// Invalidate drops the index. A build running concurrently is not stored.
func (ix *TypeIndex) Invalidate() {
	ix.mu.Lock()
	ix.gen++
	ix.snap = nil
	ix.mu.Unlock()
}

func (ix *TypeIndex) build(ctx context.Context) (*snapshot, error) {
	ix.mu.RLock()
	gen := ix.gen
	ix.mu.RUnlock()

	projects, err := ix.ws.Projects()
	if err != nil {
		return nil, err
	}
	modules := make(map[string]string, len(projects))
	for _, p := range projects {
		modules[p.Name] = p.Module
	}

	snap := &snapshot{}
	files := 0
	err = ix.ws.Walk(ctx, "", func(f File) error {
		lang, ok := LanguageOf(f.Name)
		if !ok {
			return nil
		}
		src, err := os.ReadFile(f.Abs)
		if err != nil {
			return nil
		}
		syms, err := ParseSource(ctx, lang, src)
		if err != nil {
			ix.logger.Debug("skipping unparsable file", "file", f.FullPath, "error", err)
			return nil
		}
		files++
		for _, se := range syms.Errors {
			snap.problems = append(snap.problems, SourceProblem{File: f, Error: se})
		}
		pkg := syms.Package
		if lang == LangGo {
			pkg = goPackagePath(modules[f.Project], f, syms.Package)
		}
		for _, d := range syms.Types {
			qualified := d.Nested
			if pkg != "" {
				qualified = pkg + "." + d.Nested
			}
			snap.types = append(snap.types, TypeInfo{
				QualifiedName: qualified,
				Name:          d.Name,
				Package:       pkg,
				Project:       f.Project,
				File:          f,
				Language:      lang,
				Kind:          d.Kind,
				Line:          d.Line,
				Imports:       syms.Imports,
			})
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStopWalk) {
		return nil, err
	}

	ix.mu.Lock()
	if ix.gen == gen {
		ix.snap = snap
	}
	ix.mu.Unlock()
	ix.logger.Debug("type index built", "files", files, "types", len(snap.types), "problems", len(snap.problems))
	return snap, nil
}

// goPackagePath derives the import path of f's package from the module path. Without a
// module the package clause name is used.
func goPackagePath(module string, f File, clause string) string {
	if module == "" {
		return clause
	}
	// FullPath is "/<project>/<dir>/<file>".
	rel := path.Dir(f.FullPath[len(f.Project)+2:])
	if rel == "." {
		return module
	}
	return module + "/" + rel
}
