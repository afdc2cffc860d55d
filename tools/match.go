package tools

import (
	"strings"
	"workspace-mcp/mcp"

	"github.com/gobwas/glob"
)

// matcher is the name test shared by the search tools: patterns with * or ? must match
// the whole name, anything else is a substring test.
type matcher struct {
	g    glob.Glob
	sub  string
	fold bool
}

func newMatcher(pattern string, caseSensitive bool) (*matcher, error) {
	m := &matcher{fold: !caseSensitive}
	if m.fold {
		pattern = strings.ToLower(pattern)
	}
	if !strings.ContainsAny(pattern, "*?") {
		m.sub = pattern
		return m, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, mcp.IllegalArgument("Invalid search pattern: %s", pattern)
	}
	m.g = g
	return m, nil
}

func (m *matcher) Match(s string) bool {
	if m.fold {
		s = strings.ToLower(s)
	}
	if m.g != nil {
		return m.g.Match(s)
	}
	return strings.Contains(s, m.sub)
}
