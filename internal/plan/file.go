package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a plan file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const fileVersion = 1

// FormatFromPath picks the encoding from a file extension, JSON unless it is .yaml or .yml.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// document is the on-disk shape of a plan.
type document struct {
	Version    int              `json:"version" yaml:"version"`
	Root       string           `json:"root" yaml:"root"`
	Clusters   map[int][]string `json:"clusters" yaml:"clusters"`
	Entries    []Entry          `json:"entries" yaml:"entries"`
	Unreadable []string         `json:"unreadable" yaml:"unreadable"`
	NoFaces    []string         `json:"no_faces" yaml:"no_faces"`
}

// Save writes the plan in the given format.
func (p *Plan) Save(w io.Writer, format Format) error {
	doc := document{
		Version:    fileVersion,
		Root:       p.root,
		Clusters:   p.Clusters(),
		Entries:    p.Entries(),
		Unreadable: p.Unreadable(),
		NoFaces:    p.NoFaces(),
	}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding plan as yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding plan as json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown plan format %q", format)
	}
}

// Load reads and validates a plan. The returned plan has not been consumed.
func Load(r io.Reader, format Format) (*Plan, error) {
	var doc document
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding yaml plan: %w", err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding json plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}

	if doc.Version != fileVersion {
		return nil, fmt.Errorf("unsupported plan version %d", doc.Version)
	}

	p := &Plan{
		root:       doc.Root,
		clusters:   make(map[int][]string, len(doc.Clusters)),
		entries:    doc.Entries,
		unreadable: doc.Unreadable,
		noFaces:    doc.NoFaces,
	}
	for id, members := range doc.Clusters {
		p.clusters[id] = slices.Clone(members)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return p, nil
}
