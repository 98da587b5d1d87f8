// Package archive exports and imports the local collections as a single
// document in JSON, YAML, or TOML.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/flowsync/internal/sync/mirror"
	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// Version is written into every archive.
const Version = 1

// Format is an archive encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat accepts json, yaml/yml, or toml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown archive format %q", s)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Snapshot holds every local collection. Documents carry the same field
// names as the remote mirror with absent values removed.
type Snapshot struct {
	Version    int               `json:"version" yaml:"version" toml:"version"`
	ExportedAt time.Time         `json:"exportedAt" yaml:"exportedAt" toml:"exportedAt"`
	Tasks      []remote.Document `json:"tasks" yaml:"tasks" toml:"tasks"`
	Projects   []remote.Document `json:"projects" yaml:"projects" toml:"projects"`
	Contacts   []remote.Document `json:"contacts" yaml:"contacts" toml:"contacts"`
}

// Docs returns the documents of one kind.
func (s *Snapshot) Docs(kind schema.Kind) []remote.Document {
	switch kind {
	case schema.KindTask:
		return s.Tasks
	case schema.KindProject:
		return s.Projects
	case schema.KindContact:
		return s.Contacts
	}
	return nil
}

func (s *Snapshot) set(kind schema.Kind, docs []remote.Document) {
	switch kind {
	case schema.KindTask:
		s.Tasks = docs
	case schema.KindProject:
		s.Projects = docs
	case schema.KindContact:
		s.Contacts = docs
	}
}

// Source reads local collections.
type Source interface {
	Snapshot(ctx context.Context, kind schema.Kind) ([]remote.Document, error)
}

// Sink replaces local collections and schedules the mirror push.
type Sink interface {
	Import(ctx context.Context, kind schema.Kind, docs []remote.Document) error
}

// Collect builds a snapshot of every local collection.
func Collect(ctx context.Context, src Source, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{Version: Version, ExportedAt: now.UTC()}
	for _, kind := range schema.Kinds {
		docs, err := src.Snapshot(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", kind.Collection(), err)
		}
		stripped := make([]remote.Document, 0, len(docs))
		for _, doc := range docs {
			stripped = append(stripped, mirror.StripDocument(doc))
		}
		snap.set(kind, stripped)
	}
	return snap, nil
}

// Export writes snap to w.
func Export(w io.Writer, format Format, snap *Snapshot) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode json archive: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode yaml archive: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to flush yaml archive: %w", err)
		}
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(snap); err != nil {
			return fmt.Errorf("failed to encode toml archive: %w", err)
		}
	default:
		return fmt.Errorf("unknown archive format %q", format)
	}
	return nil
}

// Import reads an archive from r.
func Import(r io.Reader, format Format) (*Snapshot, error) {
	var snap Snapshot
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("failed to decode json archive: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode yaml archive: %w", err)
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("failed to decode toml archive: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown archive format %q", format)
	}

	if snap.Version > Version {
		return nil, fmt.Errorf("archive version %d is newer than supported version %d", snap.Version, Version)
	}
	return &snap, nil
}

// Result counts what Restore applied per kind.
type Result struct {
	Tasks    int
	Projects int
	Contacts int
}

// Restore replaces each local collection with the snapshot's documents.
// Collections missing from the archive are left alone.
func Restore(ctx context.Context, sink Sink, snap *Snapshot) (*Result, error) {
	result := &Result{}
	for _, kind := range schema.Kinds {
		docs := snap.Docs(kind)
		if docs == nil {
			continue
		}
		if err := sink.Import(ctx, kind, docs); err != nil {
			return result, fmt.Errorf("failed to restore %s: %w", kind.Collection(), err)
		}
		switch kind {
		case schema.KindTask:
			result.Tasks = len(docs)
		case schema.KindProject:
			result.Projects = len(docs)
		case schema.KindContact:
			result.Contacts = len(docs)
		}
	}
	return result, nil
}
