// ABOUTME: Wire-to-domain translation via explicit per-entity mapping tables
// ABOUTME: Reconciles inconsistent field casing and loose payload shapes into canonical records

package syncmerge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the canonical type a wire field is coerced to.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindJSON
)

// FieldMapping binds one domain field to its wire name and type.
type FieldMapping struct {
	Name    string // canonical field name (storage-native snake_case)
	Wire    string // wire name; camelCase variants are matched too
	Kind    Kind
	Default any // used when the wire payload omits the field; nil = leave unset
}

// EntityMapping is the schema-to-domain table for one entity.
type EntityMapping struct {
	Entity  string
	IDWire  string // wire name of the identity field
	Updated string // wire name of the update timestamp
	Deleted string // wire name of the tombstone marker
	Fields  []FieldMapping
}

// DefaultMappings returns the mapping tables for the business entities.
func DefaultMappings() map[string]EntityMapping {
	mappings := []EntityMapping{
		{
			Entity: "accounts",
			Fields: []FieldMapping{
				{Name: "display_name", Wire: "display_name", Kind: KindString, Default: ""},
				{Name: "email", Wire: "email", Kind: KindString},
			},
		},
		{
			Entity: "contracts",
			Fields: []FieldMapping{
				{Name: "account_id", Wire: "account_id", Kind: KindString, Default: ""},
				{Name: "label", Wire: "label", Kind: KindString, Default: ""},
				{Name: "starts_at", Wire: "starts_at", Kind: KindTime},
				{Name: "ends_at", Wire: "ends_at", Kind: KindTime},
				{Name: "terms", Wire: "terms_json", Kind: KindJSON},
			},
		},
		{
			Entity: "invoices",
			Fields: []FieldMapping{
				{Name: "contract_id", Wire: "contract_id", Kind: KindString},
				{Name: "number", Wire: "number", Kind: KindString, Default: ""},
				{Name: "amount", Wire: "amount", Kind: KindFloat, Default: float64(0)},
				{Name: "status", Wire: "status", Kind: KindString, Default: "open"},
				{Name: "due_at", Wire: "due_at", Kind: KindTime},
			},
		},
		{
			Entity: "rent_schedules",
			Fields: []FieldMapping{
				{Name: "contract_id", Wire: "contract_id", Kind: KindString, Default: ""},
				{Name: "amount", Wire: "amount", Kind: KindFloat, Default: float64(0)},
				{Name: "interval", Wire: "interval", Kind: KindString, Default: "monthly"},
				{Name: "starts_at", Wire: "starts_at", Kind: KindTime},
			},
		},
		{
			Entity: "payments",
			Fields: []FieldMapping{
				{Name: "invoice_id", Wire: "invoice_id", Kind: KindString, Default: ""},
				{Name: "amount", Wire: "amount", Kind: KindFloat, Default: float64(0)},
				{Name: "paid_at", Wire: "paid_at", Kind: KindTime},
			},
		},
	}

	out := make(map[string]EntityMapping, len(mappings))
	for _, m := range mappings {
		if m.IDWire == "" {
			m.IDWire = "id"
		}
		if m.Updated == "" {
			m.Updated = "updated_at"
		}
		if m.Deleted == "" {
			m.Deleted = "deleted_at"
		}
		out[m.Entity] = m
	}
	return out
}

// FromWire normalizes one loose wire payload into a ChangeRow. Fields
// the payload omits fall back to the mapping default; numeric-as-string
// and JSON-encoded nested values are coerced to canonical shapes.
func (m EntityMapping) FromWire(raw map[string]any) (ChangeRow, error) {
	row := ChangeRow{Fields: make(map[string]any, len(m.Fields))}

	if v, ok := lookup(raw, m.IDWire); ok {
		id, err := coerce(v, KindString)
		if err != nil {
			return row, fmt.Errorf("%s: id: %w", m.Entity, err)
		}
		row.ID, _ = id.(string)
	}

	if v, ok := lookup(raw, m.Updated); ok {
		ts, err := coerce(v, KindTime)
		if err != nil {
			return row, fmt.Errorf("%s: %s: %w", m.Entity, m.Updated, err)
		}
		if t, ok := ts.(time.Time); ok {
			row.UpdatedAt = t
		}
	}

	if v, ok := lookup(raw, m.Deleted); ok && v != nil {
		ts, err := coerce(v, KindTime)
		if err != nil {
			return row, fmt.Errorf("%s: %s: %w", m.Entity, m.Deleted, err)
		}
		if t, ok := ts.(time.Time); ok && !t.IsZero() {
			row.DeletedAt = &t
		}
	}

	for _, f := range m.Fields {
		v, ok := lookup(raw, f.Wire)
		if !ok || v == nil {
			if f.Default != nil {
				row.Fields[f.Name] = f.Default
			}
			continue
		}
		coerced, err := coerce(v, f.Kind)
		if err != nil {
			return row, fmt.Errorf("%s: %s: %w", m.Entity, f.Name, err)
		}
		row.Fields[f.Name] = coerced
	}
	return row, nil
}

// ToWire renders a record back into its wire shape. Only fields defined
// in the mapping are emitted, so ToWire(FromWire(x)) round-trips the
// defined fields.
func (m EntityMapping) ToWire(rec Record) map[string]any {
	out := make(map[string]any, len(m.Fields)+2)
	out[m.IDWire] = rec.ID
	if !rec.UpdatedAt.IsZero() {
		out[m.Updated] = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	for _, f := range m.Fields {
		v, ok := rec.Fields[f.Name]
		if !ok {
			continue
		}
		switch f.Kind {
		case KindTime:
			if t, ok := v.(time.Time); ok {
				out[f.Wire] = t.UTC().Format(time.RFC3339)
			}
		case KindJSON:
			encoded, err := json.Marshal(v)
			if err == nil {
				out[f.Wire] = string(encoded)
			}
		default:
			out[f.Wire] = v
		}
	}
	return out
}

// lookup finds a wire field under its declared name or its camelCase
// variant; remote payloads are not consistent about casing.
func lookup(raw map[string]any, wire string) (any, bool) {
	if v, ok := raw[wire]; ok {
		return v, true
	}
	if v, ok := raw[snakeToCamel(wire)]; ok {
		return v, true
	}
	return nil, false
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

// coerce converts a loose wire value to its canonical kind.
func coerce(v any, kind Kind) (any, error) {
	switch kind {
	case KindString:
		switch val := v.(type) {
		case string:
			return val, nil
		case json.Number:
			return val.String(), nil
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64), nil
		}
	case KindInt:
		switch val := v.(type) {
		case int64:
			return val, nil
		case float64:
			return int64(val), nil
		case json.Number:
			return val.Int64()
		case string:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %q as int: %w", val, err)
			}
			return n, nil
		}
	case KindFloat:
		switch val := v.(type) {
		case float64:
			return val, nil
		case int64:
			return float64(val), nil
		case json.Number:
			return val.Float64()
		case string:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %q as float: %w", val, err)
			}
			return f, nil
		}
	case KindBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			return val == "true" || val == "1", nil
		case float64:
			return val != 0, nil
		}
	case KindTime:
		switch val := v.(type) {
		case time.Time:
			return val, nil
		case string:
			if val == "" {
				return time.Time{}, nil
			}
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, val); err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("unparseable timestamp %q", val)
		}
	case KindJSON:
		switch val := v.(type) {
		case string:
			if val == "" {
				return nil, nil
			}
			var decoded any
			if err := json.Unmarshal([]byte(val), &decoded); err != nil {
				return nil, fmt.Errorf("decoding nested JSON: %w", err)
			}
			return decoded, nil
		default:
			// Already structured.
			return v, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %T", v)
}
