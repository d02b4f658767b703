// Package dictionary holds the key/value table behind the lookup function.
//
// A Store is loaded from a Loader and can be reloaded while it serves
// lookups. A reload that fails, or finds the same version of the source,
// leaves the current table in place.
package dictionary

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

var ErrUnknownFormat = errors.New("unknown dictionary format")

// FormatFor picks the format from the content type, falling back to the
// file extension of name.
func FormatFor(name, contentType string) (Format, error) {
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return FormatJSON, nil
	case strings.HasPrefix(contentType, "text/csv"):
		return FormatCSV, nil
	case strings.HasPrefix(contentType, "application/yaml"),
		strings.HasPrefix(contentType, "application/x-yaml"),
		strings.HasPrefix(contentType, "text/yaml"):
		return FormatYAML, nil
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}

	return "", fmt.Errorf("%s (%s): %w", name, contentType, ErrUnknownFormat)
}

// Parse reads a dictionary. JSON must be an object of strings and YAML a
// mapping of scalars. CSV must have two columns, key and value, and an
// optional "key,value" header.
func Parse(format Format, data []byte) (map[string]string, error) {
	switch format {
	case FormatJSON:
		entries := map[string]string{}

		err := json.Unmarshal(data, &entries)
		if err != nil {
			return nil, fmt.Errorf("parsing json dictionary: %w", err)
		}

		return entries, nil
	case FormatCSV:
		return parseCSV(data)
	case FormatYAML:
		entries := map[string]string{}

		err := yaml.Unmarshal(data, &entries)
		if err != nil {
			return nil, fmt.Errorf("parsing yaml dictionary: %w", err)
		}

		return entries, nil
	}

	return nil, ErrUnknownFormat
}

func parseCSV(data []byte) (map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true

	entries := map[string]string{}

	for line := 0; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("parsing csv dictionary: %w", err)
		}

		if line == 0 && rec[0] == "key" && rec[1] == "value" {
			continue
		}

		entries[rec[0]] = rec[1]
	}

	return entries, nil
}

// Snapshot is one loaded version of a dictionary source.
type Snapshot struct {
	Entries map[string]string
	// Version identifies the source content, such as an object generation.
	Version string
}

type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
	// Version returns the current version of the source without loading it.
	Version(ctx context.Context) (string, error)
}

type Store struct {
	loader  Loader
	current atomic.Pointer[Snapshot]
}

func NewStore(loader Loader) *Store {
	s := &Store{
		loader: loader,
	}

	s.current.Store(&Snapshot{Entries: map[string]string{}})

	return s
}

// NewStatic returns a store that never reloads.
func NewStatic(entries map[string]string) *Store {
	s := &Store{}
	s.current.Store(&Snapshot{Entries: entries, Version: "static"})

	return s
}

func (s *Store) Lookup(key string) (string, bool) {
	v, ok := s.current.Load().Entries[key]

	return v, ok
}

func (s *Store) Len() int {
	return len(s.current.Load().Entries)
}

func (s *Store) Version() string {
	return s.current.Load().Version
}

// Reload loads the source when its version differs from the one being
// served, and reports whether the table was replaced.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	const op errs.Op = "dictionary.Reload"

	if s.loader == nil {
		return false, nil
	}

	version, err := s.loader.Version(ctx)
	if err != nil {
		return false, errs.E(errs.IO, op, err)
	}

	if version != "" && version == s.Version() {
		return false, nil
	}

	snap, err := s.loader.Load(ctx)
	if err != nil {
		return false, errs.E(errs.IO, op, err)
	}

	s.current.Store(snap)

	return true, nil
}
