// Package workspace models the directory tree the tools operate on. Every immediate,
// non-hidden subdirectory of the root is a project.
package workspace

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

var ErrProjectNotFound = errors.New("project not found")

// Kind is decided by the build file found at the project root.
type Kind string

const (
	KindMaven Kind = "maven"
	KindGo    Kind = "go"
	KindPlain Kind = "plain"
)

// Project is one open project. The json fields are the resource view.
type Project struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`

	// Maven coordinates, empty for other kinds.
	GroupID    string `json:"-"`
	ArtifactID string `json:"-"`
	Version    string `json:"-"`
	Packaging  string `json:"-"`

	// Go module path and required module paths, empty for other kinds.
	Module   string   `json:"-"`
	Requires []string `json:"-"`
}

type Workspace struct {
	root string
}

// Open checks that root is a directory.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string { return w.root }

// Projects lists the projects sorted by name. Build files that fail to parse leave the
// project with an empty description rather than hiding it.
func (w *Workspace) Projects() ([]Project, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, err
	}
	var out []Project
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, w.load(e.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Project looks a project up by name. Unknown names wrap ErrProjectNotFound.
func (w *Workspace) Project(name string) (Project, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	fi, err := os.Stat(filepath.Join(w.root, name))
	if err != nil || !fi.IsDir() {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return w.load(name), nil
}

func (w *Workspace) load(name string) Project {
	dir := filepath.Join(w.root, name)
	p := Project{Name: name, Location: dir, Kind: KindPlain}

	if data, err := os.ReadFile(filepath.Join(dir, "pom.xml")); err == nil {
		p.Kind = KindMaven
		var pom pomFile
		if xml.Unmarshal(data, &pom) == nil {
			p.GroupID = firstNonEmpty(pom.GroupID, pom.Parent.GroupID)
			p.ArtifactID = pom.ArtifactID
			p.Version = firstNonEmpty(pom.Version, pom.Parent.Version)
			p.Packaging = firstNonEmpty(pom.Packaging, "jar")
			p.Description = strings.TrimSpace(firstNonEmpty(pom.Description, pom.Name))
		}
		return p
	}

	if data, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
		p.Kind = KindGo
		if f, err := modfile.Parse("go.mod", data, nil); err == nil && f.Module != nil {
			p.Module = f.Module.Mod.Path
			p.Description = "Go module " + p.Module
			for _, req := range f.Require {
				p.Requires = append(p.Requires, req.Mod.Path)
			}
		}
	}
	return p
}

type pomFile struct {
	GroupID     string `xml:"groupId"`
	ArtifactID  string `xml:"artifactId"`
	Version     string `xml:"version"`
	Packaging   string `xml:"packaging"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Parent      struct {
		GroupID string `xml:"groupId"`
		Version string `xml:"version"`
	} `xml:"parent"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
