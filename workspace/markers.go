package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Marker is a problem reported against a project, usually parsed from build output.
type Marker struct {
	Message      string `json:"message"`
	Severity     string `json:"severity"`
	LineNumber   int    `json:"lineNumber"`
	CharStart    int    `json:"charStart"`
	CharEnd      int    `json:"charEnd"`
	ResourcePath string `json:"resourcePath,omitempty"`
	ResourceName string `json:"resourceName,omitempty"`
	Location     string `json:"location,omitempty"`
	SourceID     string `json:"sourceId"`
}

// MarkerStore persists markers per project and source. Each run of a source replaces
// that source's previous markers.
type MarkerStore struct {
	db *badger.DB
}

// OpenMarkerStore opens the store under dir, or in memory when dir is empty.
func OpenMarkerStore(dir string, logger *slog.Logger) (*MarkerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create marker store directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open marker store: %w", err)
	}
	return &MarkerStore{db: db}, nil
}

func markerPrefix(project string) []byte {
	return []byte("markers/" + project + "/")
}

func sourcePrefix(project, source string) []byte {
	return []byte("markers/" + project + "/" + source + "/")
}

// Replace swaps the markers recorded for project by source.
func (s *MarkerStore) Replace(project, source string, markers []Marker) error {
	prefix := sourcePrefix(project, source)
	return s.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, m := range markers {
			m.SourceID = source
			val, err := json.Marshal(m)
			if err != nil {
				return err
			}
			key := fmt.Appendf(append([]byte(nil), prefix...), "%06d", i)
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns every marker of project, grouped by source in key order.
func (s *MarkerStore) List(project string) ([]Marker, error) {
	prefix := markerPrefix(project)
	var out []Marker
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var m Marker
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				out = append(out, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Errors returns only the error-severity markers of project.
func (s *MarkerStore) Errors(project string) ([]Marker, error) {
	all, err := s.List(project)
	if err != nil {
		return nil, err
	}
	var out []Marker
	for _, m := range all {
		if m.Severity == SeverityError {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MarkerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
