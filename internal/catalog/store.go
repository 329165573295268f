package catalog

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"armpatch/internal/output"
)

// ErrMalformed is returned when a persisted catalog cannot be decoded or
// violates the catalog invariants.
var ErrMalformed = errors.New("catalog: malformed catalog")

// Store loads and saves a whole catalog.
type Store interface {
	Load() (*Catalog, error)
	Save(c *Catalog) error
}

// Format is a catalog document encoding.
type Format int

const (
	FormatXML Format = iota
	FormatYAML
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	}
	return "xml"
}

// FormatFor picks the encoding from the file extension. Anything other than
// .yaml, .yml or .json is XML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	return FormatXML
}

// FileStore keeps the catalog in a single document on disk.
type FileStore struct {
	Path string
}

// Load reads the catalog. A missing file yields an empty catalog.
func (s FileStore) Load() (*Catalog, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	return Decode(data, FormatFor(s.Path))
}

// Save writes the catalog through a temporary file and a rename, so a
// failed write leaves the previous document intact.
func (s FileStore) Save(c *Catalog) error {
	data, err := Encode(c, FormatFor(s.Path))
	if err != nil {
		return err
	}
	return output.WriteFile(s.Path, data, 0o644)
}

// Decode parses a catalog document and validates it.
func Decode(data []byte, format Format) (*Catalog, error) {
	c := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, c)
	case FormatJSON:
		err = json.Unmarshal(data, c)
	default:
		err = xml.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, format, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode renders a catalog document.
func Encode(c *Catalog, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("catalog: encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("catalog: encode yaml: %w", err)
		}
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("catalog: encode json: %w", err)
		}
	default:
		buf.WriteString(xml.Header)
		enc := xml.NewEncoder(&buf)
		enc.Indent("", "  ")
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("catalog: encode xml: %w", err)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// MemoryStore keeps the catalog in memory. Load hands out a copy, so an
// operation that fails before Save leaves the stored catalog untouched.
type MemoryStore struct {
	Catalog *Catalog
	Saves   int
}

func (m *MemoryStore) Load() (*Catalog, error) {
	if m.Catalog == nil {
		return New(), nil
	}
	return m.Catalog.Clone(), nil
}

func (m *MemoryStore) Save(c *Catalog) error {
	m.Catalog = c.Clone()
	m.Saves++
	return nil
}
