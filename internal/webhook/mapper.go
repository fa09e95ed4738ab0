package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/headers"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
)

// CellValue is a spreadsheet cell as sent by the sheet's edit trigger.
// Numbers and booleans are accepted and kept in their JSON text form.
type CellValue string

func (c *CellValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CellValue(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case float64, bool:
		*c = CellValue(string(data))
		return nil
	}
	return fmt.Errorf("cell value must be a scalar, got %s", string(data))
}

// ChangeEvent is one edited cell of the registration sheet.
type ChangeEvent struct {
	EventType     string    `json:"eventType"`
	SpreadsheetID string    `json:"spreadsheetId"`
	SheetName     string    `json:"sheetName"`
	Row           int       `json:"row"`
	Column        int       `json:"column"`
	Header        string    `json:"header"`
	ID            string    `json:"id"`
	OldValue      CellValue `json:"oldValue"`
	NewValue      CellValue `json:"newValue"`
	Timestamp     string    `json:"timestamp"`
}

// Change is a validated field update. NormalizedValue is nil when Mapped
// is false: the label has no internal value and the field must be left
// unchanged.
type Change struct {
	RecordID        string `json:"id"`
	Key             string `json:"key"`
	NormalizedValue any    `json:"normalizedValue"`
	Mapped          bool   `json:"mapped"`
}

// UnmappedPolicy decides what happens to a categorical label with no entry.
type UnmappedPolicy string

const (
	// PolicyDrop accepts the event and reports Mapped=false.
	PolicyDrop UnmappedPolicy = "drop"
	// PolicyReject fails the event with KindUnmappedValue.
	PolicyReject UnmappedPolicy = "reject"
)

// ParsePolicy accepts "drop" (also the empty string) or "reject".
func ParsePolicy(raw string) (UnmappedPolicy, error) {
	switch UnmappedPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown unmapped label policy %q", raw)
}

// Config names the one sheet this mapper accepts edits from.
type Config struct {
	SpreadsheetID string
	SheetName     string
	Policy        UnmappedPolicy
}

// fieldNormalizer returns the internal value and whether one exists.
type fieldNormalizer func(raw string) (any, bool)

// Mapper validates change events and normalizes the edited value. The
// per-key normalizers are derived once from the header table.
type Mapper struct {
	cfg         Config
	table       *headers.Table
	normalizers map[string]fieldNormalizer
}

// NewMapper binds cfg to a header table and label vocabulary.
func NewMapper(cfg Config, table *headers.Table, labels *normalize.Labels) (*Mapper, error) {
	if table == nil {
		return nil, fmt.Errorf("webhook mapper: header table required")
	}
	if labels == nil {
		labels = normalize.DefaultLabels()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDrop
	}
	m := &Mapper{
		cfg:         cfg,
		table:       table,
		normalizers: make(map[string]fieldNormalizer, table.Len()),
	}
	for _, e := range table.Entries() {
		m.normalizers[e.Key] = normalizerFor(e.Key, labels)
	}
	return m, nil
}

func normalizerFor(key string, labels *normalize.Labels) fieldNormalizer {
	category := func(domain normalize.Domain) fieldNormalizer {
		return func(raw string) (any, bool) { return labels.Map(domain, raw) }
	}
	text := func(fn func(string) string) fieldNormalizer {
		return func(raw string) (any, bool) { return fn(raw), true }
	}
	if domain, ok := registration.CategoryDomain(key); ok {
		return category(domain)
	}
	switch key {
	case registration.KeyPhone:
		return text(normalize.ParsePhone)
	case registration.KeyAttendanceDay:
		return text(normalize.ParseDate)
	case registration.KeyAttendanceTime:
		return text(normalize.ParseTime)
	}
	return text(strings.TrimSpace)
}

// Process validates ev and maps its header to a field key and normalized
// value. Checks run in a fixed order: sheet title, spreadsheet id, record
// id, header, identity column.
func (m *Mapper) Process(ev ChangeEvent) (Change, error) {
	if ev.SheetName != m.cfg.SheetName {
		return Change{}, invalid(KindInvalidSource, "unexpected sheet %q", ev.SheetName)
	}
	if ev.SpreadsheetID != m.cfg.SpreadsheetID {
		return Change{}, invalid(KindInvalidSource, "unexpected spreadsheet %q", ev.SpreadsheetID)
	}
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		return Change{}, invalid(KindMissingRecordID, "row %d has no record id", ev.Row)
	}
	key, ok := m.table.KeyFor(ev.Header)
	if !ok {
		return Change{}, invalid(KindUnknownHeader, "no field for header %q", ev.Header)
	}
	if key == registration.KeyID {
		return Change{}, invalid(KindForbiddenFieldSync, "the %q column cannot be edited", ev.Header)
	}

	normalizer, ok := m.normalizers[key]
	if !ok {
		normalizer = func(raw string) (any, bool) { return strings.TrimSpace(raw), true }
	}
	value, mapped := normalizer(string(ev.NewValue))
	if !mapped {
		if m.cfg.Policy == PolicyReject {
			return Change{}, invalid(KindUnmappedValue, "%q is not a valid value for %s", string(ev.NewValue), key)
		}
		value = nil
	}
	return Change{RecordID: id, Key: key, NormalizedValue: value, Mapped: mapped}, nil
}
