package tools

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"workspace-mcp/workspace"
)

// Marker sources written by the build tools.
const (
	SourceMaven = "maven"
	SourceTests = "tests"
)

const resultOutputLimit = 8 << 10

var (
	// [ERROR] /abs/src/main/java/a/B.java:[12,5] cannot find symbol
	mavenCompileRe = regexp.MustCompile(`^\[(ERROR|WARNING)\] (.+?\.(?:java|kt|groovy|scala)):\[(\d+),(\d+)\] (.+)$`)
	// [ERROR]   OrderTest.testTotal:42 expected:<3> but was:<2>
	mavenTestRe = regexp.MustCompile(`^\[ERROR\]\s+([\w$]+(?:\.[\w$]+)*)\.(\w+):(\d+)\s+(.+)$`)
	// internal/store/store.go:12:5: undefined: x
	goPosRe = regexp.MustCompile(`^\s*(\S+\.go):(\d+)(?::(\d+))?: (.+)$`)
	// --- FAIL: TestTotal (0.00s)
	goFailRe = regexp.MustCompile(`^\s*--- FAIL: (\S+)`)
)

// parseMavenOutput turns compiler diagnostics and surefire failure summaries into markers.
func parseMavenOutput(p workspace.Project, out string) []workspace.Marker {
	var markers []workspace.Marker
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if m := mavenCompileRe.FindStringSubmatch(line); m != nil {
			severity := workspace.SeverityError
			if m[1] == "WARNING" {
				severity = workspace.SeverityWarning
			}
			ln, _ := strconv.Atoi(m[3])
			col, _ := strconv.Atoi(m[4])
			markers = append(markers, fileMarker(p, m[2], ln, col, m[5], severity))
			continue
		}
		if m := mavenTestRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[3])
			class := m[1]
			mk := workspace.Marker{
				Message:    class + "." + m[2] + " failed: " + m[4],
				Severity:   workspace.SeverityError,
				LineNumber: ln,
				CharStart:  -1,
				CharEnd:    -1,
			}
			if src := findTestSource(p, class); src != "" {
				mk = fileMarker(p, src, ln, 0, mk.Message, workspace.SeverityError)
			}
			markers = append(markers, mk)
		}
	}
	return markers
}

// parseGoOutput turns compiler positions and failed test names into markers.
func parseGoOutput(p workspace.Project, out string) []workspace.Marker {
	var markers []workspace.Marker
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if m := goFailRe.FindStringSubmatch(line); m != nil {
			markers = append(markers, workspace.Marker{
				Message:    m[1] + " failed",
				Severity:   workspace.SeverityError,
				LineNumber: -1,
				CharStart:  -1,
				CharEnd:    -1,
			})
			continue
		}
		if m := goPosRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			markers = append(markers, fileMarker(p, m[1], ln, col, m[4], workspace.SeverityError))
		}
	}
	return markers
}

// fileMarker builds a marker for a diagnostic at line:col of file, which may be absolute or
// relative to the project. Positions inside files that exist are converted to offsets.
func fileMarker(p workspace.Project, file string, line, col int, msg, severity string) workspace.Marker {
	mk := workspace.Marker{
		Message:      strings.TrimSpace(msg),
		Severity:     severity,
		LineNumber:   line,
		CharStart:    -1,
		CharEnd:      -1,
		ResourceName: path.Base(filepath.ToSlash(file)),
	}
	abs := file
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.Location, file)
	}
	rel, err := filepath.Rel(p.Location, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return mk
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return mk
	}
	mk.ResourcePath = "/" + p.Name + "/" + filepath.ToSlash(rel)
	mk.Location = filepath.ToSlash(abs)
	if off := offsetOf(src, line, col); off >= 0 {
		mk.CharStart = off
		mk.CharEnd = off + 1
	}
	return mk
}

// offsetOf converts a 1-based line and column to a byte offset. A column of 0 means the
// start of the line.
func offsetOf(src []byte, line, col int) int {
	if line < 1 {
		return -1
	}
	off := 0
	for i := 1; i < line; i++ {
		nl := bytes.IndexByte(src[off:], '\n')
		if nl < 0 {
			return -1
		}
		off += nl + 1
	}
	if col > 1 {
		off += col - 1
	}
	if off > len(src) {
		return -1
	}
	return off
}

// findTestSource locates the source of a test class reported by simple or qualified name.
func findTestSource(p workspace.Project, class string) string {
	class, _, _ = strings.Cut(class, "$")
	rel := strings.ReplaceAll(class, ".", "/") + ".java"
	for _, root := range []string{"src/test/java", "src/main/java"} {
		candidate := filepath.Join(p.Location, filepath.FromSlash(root), filepath.FromSlash(rel))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	// surefire usually reports simple names
	want := path.Base(rel)
	var found string
	filepath.WalkDir(p.Location, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if file != p.Location && workspace.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == want {
			found = file
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
