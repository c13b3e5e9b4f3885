package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldType is the logical type of a column.
type FieldType string

const (
	Numeric FieldType = "numeric"
	String  FieldType = "string"
	Date    FieldType = "date"
)

const (
	// MissingNumeric replaces absent numeric values, identifiers included.
	MissingNumeric int64 = -1
	// MissingString replaces absent or blank string values.
	MissingString = "Unknown"
	// DateLayout is the canonical rendering of date values.
	DateLayout = "2006-01-02"
)

// MissingDate replaces absent date values.
var MissingDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

var identifierRegexp = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Field describes one canonical column of a dataset.
type Field struct {
	Name string    `json:"name" mapstructure:"name" toml:"name"`
	Type FieldType `json:"type" mapstructure:"type" toml:"type"`
	// Aliases are source column names that are renamed to Name.
	Aliases []string `json:"aliases,omitempty" mapstructure:"aliases" toml:"aliases,omitempty"`
	// Identifier fields must be non-negative, or the -1 sentinel.
	Identifier bool `json:"identifier,omitempty" mapstructure:"identifier" toml:"identifier,omitempty"`
}

// Missing returns the sentinel used in place of an absent value.
func (f Field) Missing() interface{} {
	switch f.Type {
	case Numeric:
		return MissingNumeric
	case Date:
		return MissingDate
	default:
		return MissingString
	}
}

// IsMissing reports whether v is the sentinel for this field.
func (f Field) IsMissing(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case int64:
		return f.Type == Numeric && val == MissingNumeric
	case string:
		return f.Type == String && val == MissingString
	case time.Time:
		return f.Type == Date && val.Equal(MissingDate)
	}
	return false
}

// Row is a single conformed record keyed by canonical column name. Values are
// int64 for numeric fields, string for string fields and time.Time (UTC
// midnight) for date fields.
type Row map[string]interface{}

// Table is a named, typed set of rows.
type Table struct {
	Name   string
	Fields []Field
	Rows   []Row
}

// Dataset is the conformance definition of one raw input.
type Dataset struct {
	Name string `json:"name" mapstructure:"name" toml:"name"`
	// Source is the local file or directory the ingestion adapter copies from.
	Source string  `json:"source" mapstructure:"source" toml:"source"`
	Fields []Field `json:"fields" mapstructure:"fields" toml:"fields"`
	// Required lists the fields a row is dropped for when they hold the
	// missing sentinel after filling.
	Required []string `json:"required,omitempty" mapstructure:"required" toml:"required,omitempty"`
	// DateLayouts are tried in order when parsing date fields.
	DateLayouts []string `json:"dateLayouts,omitempty" mapstructure:"date_layouts" toml:"date_layouts,omitempty"`
}

// Field looks up a canonical field by name.
func (d Dataset) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Layouts returns the configured date layouts, or the defaults if none are set.
func (d Dataset) Layouts() []string {
	if len(d.DateLayouts) != 0 {
		return d.DateLayouts
	}
	return DefaultDateLayouts
}

// Validate checks that the dataset can be used for conformance and as a table
// name in the catalog.
func (d Dataset) Validate() error {
	if !identifierRegexp.MatchString(d.Name) {
		return fmt.Errorf("invalid dataset name %q, must match %s", d.Name, identifierRegexp)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("dataset %s has no fields", d.Name)
	}
	seen := make(map[string]string)
	for _, f := range d.Fields {
		if !identifierRegexp.MatchString(f.Name) {
			return fmt.Errorf("dataset %s: invalid field name %q", d.Name, f.Name)
		}
		switch f.Type {
		case Numeric, String, Date:
		default:
			return fmt.Errorf("dataset %s: field %s has invalid type %q", d.Name, f.Name, f.Type)
		}
		if f.Identifier && f.Type != Numeric {
			return fmt.Errorf("dataset %s: identifier field %s must be numeric", d.Name, f.Name)
		}
		for _, name := range append([]string{f.Name}, f.Aliases...) {
			norm := NormalizeColumnName(name)
			if owner, ok := seen[norm]; ok {
				return fmt.Errorf("dataset %s: column name %q is claimed by both %s and %s", d.Name, name, owner, f.Name)
			}
			seen[norm] = f.Name
		}
	}
	for _, req := range d.Required {
		if _, ok := d.Field(req); !ok {
			return fmt.Errorf("dataset %s: required field %s is not in the schema", d.Name, req)
		}
	}
	return nil
}

// NormalizeColumnName folds a source column name into the canonical naming
// style: lower case, surrounding whitespace removed, and inner spaces, dashes
// and dots replaced by underscores.
func NormalizeColumnName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(name)
}

// ValidTableName reports whether name can be used as a catalog table name.
func ValidTableName(name string) bool {
	return identifierRegexp.MatchString(name)
}
