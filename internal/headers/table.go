package headers

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
)

//go:embed default.yaml
var defaultYAML []byte

// Mapping binds one spreadsheet column header to a Record field key.
type Mapping struct {
	DisplayName string `yaml:"displayName" json:"displayName"`
	Key         string `yaml:"key" json:"key"`
}

// Table is the ordered header contract. It is immutable once loaded and
// may be shared between goroutines without locking.
type Table struct {
	entries   []Mapping
	byDisplay map[string]string
	byKey     map[string]string
}

// Default parses the embedded sheet layout.
func Default() (*Table, error) {
	return Parse(defaultYAML)
}

// MustDefault is Default for package-level initialisation and tests.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads a YAML header table from path, or the embedded default when
// path is empty.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read header table: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML list of {displayName, key} pairs.
func Parse(raw []byte) (*Table, error) {
	var entries []Mapping
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode header table: %w", err)
	}
	return New(entries)
}

// New validates entries and indexes them in both directions.
func New(entries []Mapping) (*Table, error) {
	if len(entries) == 0 {
		return nil, errors.New("header table is empty")
	}
	t := &Table{
		entries:   make([]Mapping, 0, len(entries)),
		byDisplay: make(map[string]string, len(entries)),
		byKey:     make(map[string]string, len(entries)),
	}
	for i, e := range entries {
		e.DisplayName = strings.TrimSpace(e.DisplayName)
		e.Key = strings.TrimSpace(e.Key)
		if e.DisplayName == "" || e.Key == "" {
			return nil, fmt.Errorf("header table entry %d: displayName and key are required", i)
		}
		if !registration.IsKnownKey(e.Key) {
			return nil, fmt.Errorf("header table entry %d: unknown field key %q", i, e.Key)
		}
		if _, dup := t.byDisplay[e.DisplayName]; dup {
			return nil, fmt.Errorf("header table: duplicate displayName %q", e.DisplayName)
		}
		if _, dup := t.byKey[e.Key]; dup {
			return nil, fmt.Errorf("header table: duplicate key %q", e.Key)
		}
		t.byDisplay[e.DisplayName] = e.Key
		t.byKey[e.Key] = e.DisplayName
		t.entries = append(t.entries, e)
	}
	if _, ok := t.byKey[registration.KeyID]; !ok {
		return nil, errors.New("header table: missing id column")
	}
	return t, nil
}

// KeyFor returns the field key for a column header.
func (t *Table) KeyFor(displayName string) (string, bool) {
	key, ok := t.byDisplay[strings.TrimSpace(displayName)]
	return key, ok
}

// HeaderFor returns the column header for a field key.
func (t *Table) HeaderFor(key string) (string, bool) {
	name, ok := t.byKey[key]
	return name, ok
}

// Entries returns a copy of the table in column order.
func (t *Table) Entries() []Mapping {
	out := make([]Mapping, len(t.entries))
	copy(out, t.entries)
	return out
}

// DisplayNames returns the header row in column order.
func (t *Table) DisplayNames() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.DisplayName
	}
	return out
}

// Len is the number of columns.
func (t *Table) Len() int { return len(t.entries) }
