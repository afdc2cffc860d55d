package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderJava = `package com.example.shop;

import java.util.List;
import static java.util.Objects.requireNonNull;
import com.example.shop.util.*;

public class Order {
    public static class Line {}

    interface Priced { int price(); }

    void build() {
        class Local {}
    }
}

enum Status { OPEN, CLOSED; class Hidden {} }

@interface Audited {}
`

const storeGo = `package store

import (
	"context"
	kv "github.com/acme/kv"
)

type Store struct{ db kv.DB }

type Reader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type ID string
`

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"shop/pom.xml": `<project><groupId>com.example</groupId><artifactId>shop</artifactId>
<version>1.0</version><description> The shop </description></project>`,
		"shop/src/main/java/com/example/shop/Order.java": orderJava,
		"shop/target/classes/Stale.java":                  "class Stale {}",
		"shop/.settings/prefs":                            "x",
		"svc/go.mod":                                      "module example.com/svc\n\ngo 1.22\n\nrequire github.com/acme/kv v1.0.0\n",
		"svc/internal/store/store.go":                     storeGo,
		"svc/main.go":                                     "package main\n\ntype app struct{}\n",
		"notes/readme.txt":                                "hello",
		".metadata/log":                                   "x",
	})
	ws, err := Open(root)
	require.NoError(t, err)
	return ws
}

func TestProjects(t *testing.T) {
	ws := newTestWorkspace(t)

	projects, err := ws.Projects()
	require.NoError(t, err)
	require.Len(t, projects, 3)

	assert.Equal(t, "notes", projects[0].Name)
	assert.Equal(t, KindPlain, projects[0].Kind)

	shop := projects[1]
	assert.Equal(t, KindMaven, shop.Kind)
	assert.Equal(t, "The shop", shop.Description)
	assert.Equal(t, "com.example", shop.GroupID)
	assert.Equal(t, "jar", shop.Packaging)

	svc := projects[2]
	assert.Equal(t, KindGo, svc.Kind)
	assert.Equal(t, "example.com/svc", svc.Module)
	assert.Equal(t, []string{"github.com/acme/kv"}, svc.Requires)
	assert.Equal(t, filepath.Join(ws.Root(), "svc"), svc.Location)
}

func TestProjectNotFound(t *testing.T) {
	ws := newTestWorkspace(t)

	for _, name := range []string{"missing", ".metadata", "", "../svc"} {
		_, err := ws.Project(name)
		assert.ErrorIs(t, err, ErrProjectNotFound, name)
	}
	p, err := ws.Project("svc")
	require.NoError(t, err)
	assert.Equal(t, KindGo, p.Kind)
}

func TestOpenRejectsFiles(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err := Open(f)
	assert.Error(t, err)
}

func TestWalkSkipsBuildOutput(t *testing.T) {
	ws := newTestWorkspace(t)

	var paths []string
	require.NoError(t, ws.Walk(context.Background(), "shop", func(f File) error {
		paths = append(paths, f.FullPath)
		return nil
	}))
	assert.Equal(t, []string{"/shop/pom.xml", "/shop/src/main/java/com/example/shop/Order.java"}, paths)

	var count int
	require.NoError(t, ws.Walk(context.Background(), "", func(f File) error {
		count++
		return ErrStopWalk
	}))
	assert.Equal(t, 1, count)

	err := ws.Walk(context.Background(), "missing", func(File) error { return nil })
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestParseSourceJava(t *testing.T) {
	syms, err := ParseSource(context.Background(), LangJava, []byte(orderJava))
	require.NoError(t, err)

	assert.Equal(t, "com.example.shop", syms.Package)
	assert.Equal(t, []string{"java.util.List", "java.util.Objects.requireNonNull", "com.example.shop.util.*"}, syms.Imports)

	got := map[string]TypeKind{}
	for _, d := range syms.Types {
		got[d.Nested] = d.Kind
	}
	assert.Equal(t, map[string]TypeKind{
		"Order":         TypeClass,
		"Order$Line":    TypeClass,
		"Order$Priced":  TypeInterface,
		"Status":        TypeEnum,
		"Status$Hidden": TypeClass,
		"Audited":       TypeAnnotation,
	}, got)
}

func TestParseSourceGo(t *testing.T) {
	syms, err := ParseSource(context.Background(), LangGo, []byte(storeGo))
	require.NoError(t, err)

	assert.Equal(t, "store", syms.Package)
	assert.Equal(t, []string{"context", "github.com/acme/kv"}, syms.Imports)
	require.Len(t, syms.Types, 3)
	assert.Equal(t, TypeDecl{Name: "Store", Nested: "Store", Kind: TypeStruct, Line: 8}, syms.Types[0])
	assert.Equal(t, TypeInterface, syms.Types[1].Kind)
	assert.Equal(t, TypeNamed, syms.Types[2].Kind)
}

func TestTypeIndex(t *testing.T) {
	ws := newTestWorkspace(t)
	ix := NewTypeIndex(ws, nil)
	ctx := context.Background()

	types, err := ix.Types(ctx)
	require.NoError(t, err)
	var names []string
	for _, ti := range types {
		names = append(names, ti.QualifiedName)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"com.example.shop.Audited",
		"com.example.shop.Order",
		"com.example.shop.Order$Line",
		"com.example.shop.Order$Priced",
		"com.example.shop.Status",
		"com.example.shop.Status$Hidden",
		"example.com/svc.app",
		"example.com/svc/internal/store.ID",
		"example.com/svc/internal/store.Reader",
		"example.com/svc/internal/store.Store",
	}, names)

	found, err := ix.Lookup(ctx, "example.com/svc/internal/store.Store")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "svc", found[0].Project)
	assert.Equal(t, "/svc/internal/store/store.go", found[0].File.FullPath)
	assert.Contains(t, found[0].Imports, "github.com/acme/kv")

	writeTree(t, ws.Root(), map[string]string{"notes/Extra.java": "class Extra {}"})
	found, err = ix.Lookup(ctx, "Extra")
	require.NoError(t, err)
	assert.Empty(t, found, "index is cached until invalidated")

	ix.Invalidate()
	found, err = ix.Lookup(ctx, "Extra")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestMarkerStore(t *testing.T) {
	store, err := OpenMarkerStore("", nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Replace("a", "maven", []Marker{
		{Message: "cannot find symbol", Severity: SeverityError, LineNumber: 3},
		{Message: "deprecated", Severity: SeverityWarning},
	}))
	require.NoError(t, store.Replace("a", "test", []Marker{{Message: "testFoo failed", Severity: SeverityError}}))
	require.NoError(t, store.Replace("ab", "maven", []Marker{{Message: "other", Severity: SeverityError}}))

	all, err := store.List("a")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "maven", all[0].SourceID)

	require.NoError(t, store.Replace("a", "maven", nil))
	errs, err := store.Errors("a")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "testFoo failed", errs[0].Message)

	none, err := store.List("missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMarkerStorePersists(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMarkerStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Replace("a", "maven", []Marker{{Message: "x", Severity: SeverityError}}))
	require.NoError(t, store.Close())

	store, err = OpenMarkerStore(dir, nil)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.List("a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	res, err := ExecRunner{}.Run(context.Background(), dir, "sh", "-c", "pwd; echo failing >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "failing")

	_, err = ExecRunner{}.Run(context.Background(), dir, "definitely-not-a-real-binary")
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", Tail([]byte("abc"), 10))
	assert.Equal(t, "line3\n", Tail([]byte("line1\nline2\nline3\n"), 8))
}

func TestWatcher(t *testing.T) {
	ws := newTestWorkspace(t)
	changed := make(chan struct{}, 8)
	w, err := NewWatcher(ws, func() { changed <- struct{}{} }, 20*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	writeTree(t, ws.Root(), map[string]string{"shop/src/main/java/com/example/shop/Cart.java": "class Cart {}"})
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	// new directories are picked up too
	writeTree(t, ws.Root(), map[string]string{"svc/pkg/api/api.go": "package api\n"})
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported for new directory")
	}
}

func TestParseSourceSyntaxError(t *testing.T) {
	src := "package broken\n\nfunc main() {\n\tx := \n}\n"
	syms, err := ParseSource(context.Background(), LangGo, []byte(src))
	require.NoError(t, err)
	require.NotEmpty(t, syms.Errors)
	assert.GreaterOrEqual(t, syms.Errors[0].Line, 3)
	assert.Contains(t, syms.Errors[0].Message(), "Syntax error")

	syms, err = ParseSource(context.Background(), LangGo, []byte(storeGo))
	require.NoError(t, err)
	assert.Empty(t, syms.Errors)
}

func TestTypeIndexProblems(t *testing.T) {
	ws := newTestWorkspace(t)
	writeTree(t, ws.Root(), map[string]string{"shop/src/main/java/Bad.java": "class Bad { void f( }"})
	ix := NewTypeIndex(ws, nil)

	problems, err := ix.Problems(context.Background(), "shop")
	require.NoError(t, err)
	require.NotEmpty(t, problems)
	assert.Equal(t, "/shop/src/main/java/Bad.java", problems[0].File.FullPath)

	problems, err = ix.Problems(context.Background(), "svc")
	require.NoError(t, err)
	assert.Empty(t, problems)
}
