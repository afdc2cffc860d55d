package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yosida95/uritemplate/v3"
)

const MimeJSON = "application/json"

// Resource is the resources/list view of a readable resource. URI may be an RFC 6570
// template such as workspace://project/{projectName}/files.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType"`
}

// ReadFunc produces the resource value. vars holds the template variables matched in uri.
type ReadFunc func(ctx context.Context, uri string, vars map[string]string) (any, error)

// ResourceContents is one element of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

type resourceEntry struct {
	resource Resource
	tmpl     *uritemplate.Template
	read     ReadFunc
}

// ResourceSet routes resources/read by URI. Entries are matched in registration order.
type ResourceSet struct {
	entries []resourceEntry
}

func NewResourceSet() *ResourceSet {
	return &ResourceSet{}
}

func (s *ResourceSet) Add(res Resource, read ReadFunc) error {
	tmpl, err := uritemplate.New(res.URI)
	if err != nil {
		return fmt.Errorf("resource %s: %w", res.URI, err)
	}
	if res.MimeType == "" {
		res.MimeType = MimeJSON
	}
	s.entries = append(s.entries, resourceEntry{resource: res, tmpl: tmpl, read: read})
	return nil
}

func (s *ResourceSet) List() []Resource {
	out := make([]Resource, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.resource)
	}
	return out
}

// Read resolves uri against the registered resources.
func (s *ResourceSet) Read(ctx context.Context, uri string) (*ReadResourceResult, error) {
	if uri == "" {
		return nil, IllegalArgument("URI is required")
	}
	for _, e := range s.entries {
		vars, ok := e.match(uri)
		if !ok {
			continue
		}
		value, err := e.read(ctx, uri, vars)
		if err != nil {
			return nil, err
		}
		text, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal resource %s: %w", uri, err)
		}
		return &ReadResourceResult{Contents: []ResourceContents{{
			URI:      uri,
			MimeType: e.resource.MimeType,
			Text:     string(text),
		}}}, nil
	}
	return nil, IllegalArgument("Unknown resource URI: %s", uri)
}

func (e resourceEntry) match(uri string) (map[string]string, bool) {
	names := e.tmpl.Varnames()
	if len(names) == 0 {
		return nil, e.resource.URI == uri
	}
	if !e.tmpl.Regexp().MatchString(uri) {
		return nil, false
	}
	values := e.tmpl.Match(uri)
	if values == nil {
		return nil, false
	}
	vars := make(map[string]string, len(names))
	for _, name := range names {
		v := values.Get(name).String()
		if v == "" {
			return nil, false
		}
		vars[name] = v
	}
	return vars, true
}
