package workspace

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// File is a regular file inside a project.
type File struct {
	Project string
	// Abs is the absolute filesystem path.
	Abs string
	// FullPath is the workspace-relative path, "/<project>/<path inside project>".
	FullPath string
	Name     string
	Ext      string
	Size     int64
	ModTime  time.Time
}

// ErrStopWalk ends a walk early without reporting an error.
var ErrStopWalk = errors.New("stop walk")

var skippedDirs = map[string]bool{
	"target":       true,
	"bin":          true,
	"build":        true,
	"vendor":       true,
	"node_modules": true,
}

// SkipDir reports whether directories with this base name hold build output or
// metadata rather than project sources.
func SkipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skippedDirs[name]
}

// Walk calls fn for every file of the named project, or of every project when project
// is empty. Unreadable entries are skipped.
func (w *Workspace) Walk(ctx context.Context, project string, fn func(File) error) error {
	var projects []Project
	if project != "" {
		p, err := w.Project(project)
		if err != nil {
			return err
		}
		projects = []Project{p}
	} else {
		all, err := w.Projects()
		if err != nil {
			return err
		}
		projects = all
	}

	for _, p := range projects {
		err := walkProject(ctx, p, fn)
		if errors.Is(err, ErrStopWalk) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func walkProject(ctx context.Context, p Project, fn func(File) error) error {
	return filepath.WalkDir(p.Location, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != p.Location && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.Location, path)
		if err != nil {
			return nil
		}
		return fn(File{
			Project:  p.Name,
			Abs:      path,
			FullPath: "/" + p.Name + "/" + filepath.ToSlash(rel),
			Name:     d.Name(),
			Ext:      strings.TrimPrefix(filepath.Ext(d.Name()), "."),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	})
}
