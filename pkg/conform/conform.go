package conform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kube-reporting/theft-lakehouse/pkg/lakehouse"
	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

// DropReason classifies why a raw row was excluded from a conformed table.
type DropReason string

const (
	DropMissingRequired   DropReason = "missing_required"
	DropInvalidIdentifier DropReason = "invalid_identifier"
	DropUncastable        DropReason = "uncastable_value"
)

// Drop records a single excluded row.
type Drop struct {
	File   string
	Line   int
	Reason DropReason
	Field  string
	Value  string
}

// Result is the outcome of conforming one or more raw files.
type Result struct {
	Table    schema.Table
	RowsRead int
	Dropped  []Drop
}

// DroppedBy counts the drops with the given reason.
func (r *Result) DroppedBy(reason DropReason) int {
	n := 0
	for _, d := range r.Dropped {
		if d.Reason == reason {
			n++
		}
	}
	return n
}

// Merge appends the rows and drops of other to r.
func (r *Result) Merge(other *Result) {
	r.Table.Rows = append(r.Table.Rows, other.Table.Rows...)
	r.RowsRead += other.RowsRead
	r.Dropped = append(r.Dropped, other.Dropped...)
}

// nullTokens are literal values exported by dataframe tools in place of an
// empty numeric or date cell. They are compared case-insensitively. String
// fields keep them as text, since "None" can be a real description.
var nullTokens = map[string]struct{}{
	"null": {},
	"nan":  {},
	"none": {},
}

// Conform applies the dataset schema to a raw file: source columns are
// renamed to their canonical names, strings are trimmed, absent values are
// replaced by the type's sentinel and invalid rows are dropped. Row order is
// preserved, so conforming the same input twice yields the same table.
//
// A schema mismatch error is returned if a required field has no matching
// column in the raw header; in that case no row could ever satisfy it.
func Conform(raw Raw, ds schema.Dataset) (*Result, error) {
	columns := mapColumns(raw.Header, ds)
	for _, req := range ds.Required {
		if _, ok := columns[req]; !ok {
			return nil, errors.Wrapf(lakehouse.ErrSchemaMismatch,
				"dataset %s: file %s has no column for required field %s", ds.Name, raw.Name, req)
		}
	}

	required := make(map[string]bool, len(ds.Required))
	for _, req := range ds.Required {
		required[req] = true
	}
	layouts := ds.Layouts()

	result := &Result{
		Table: schema.Table{
			Name:   ds.Name,
			Fields: ds.Fields,
			Rows:   make([]schema.Row, 0, len(raw.Rows)),
		},
		RowsRead: len(raw.Rows),
	}

rows:
	for i, rawRow := range raw.Rows {
		// line 1 is the header
		line := i + 2
		row := make(schema.Row, len(ds.Fields))
		for _, field := range ds.Fields {
			var value string
			if src, ok := columns[field.Name]; ok {
				value = rawRow[src]
			}
			v, reason := conformValue(field, value, layouts)
			if reason == "" && required[field.Name] && field.IsMissing(v) {
				reason = DropMissingRequired
			}
			if reason != "" {
				result.Dropped = append(result.Dropped, Drop{
					File:   raw.Name,
					Line:   line,
					Reason: reason,
					Field:  field.Name,
					Value:  value,
				})
				continue rows
			}
			row[field.Name] = v
		}
		result.Table.Rows = append(result.Table.Rows, row)
	}
	return result, nil
}

// mapColumns resolves each canonical field to the raw header column it is
// read from. An exact canonical name match wins over an alias.
func mapColumns(header []string, ds schema.Dataset) map[string]string {
	byName := make(map[string]string)
	byAlias := make(map[string]string)
	for _, field := range ds.Fields {
		byName[schema.NormalizeColumnName(field.Name)] = field.Name
		for _, alias := range field.Aliases {
			byAlias[schema.NormalizeColumnName(alias)] = field.Name
		}
	}

	columns := make(map[string]string)
	fromAlias := make(map[string]bool)
	for _, col := range header {
		norm := schema.NormalizeColumnName(col)
		if name, ok := byName[norm]; ok {
			if _, seen := columns[name]; !seen || fromAlias[name] {
				columns[name] = col
				fromAlias[name] = false
			}
			continue
		}
		if name, ok := byAlias[norm]; ok {
			if _, seen := columns[name]; !seen {
				columns[name] = col
				fromAlias[name] = true
			}
		}
	}
	return columns
}

// conformValue converts a raw cell to the field's type. A non-empty reason is
// returned when the row must be dropped.
func conformValue(field schema.Field, raw string, layouts []string) (interface{}, DropReason) {
	value := strings.TrimSpace(raw)
	if isNull(field.Type, value) {
		return field.Missing(), ""
	}

	switch field.Type {
	case schema.Numeric:
		n, ok := parseInt(value)
		if !ok {
			return nil, DropUncastable
		}
		if field.Identifier && n < 0 && n != schema.MissingNumeric {
			return nil, DropInvalidIdentifier
		}
		return n, ""
	case schema.Date:
		t, ok := parseDate(value, layouts)
		if !ok {
			return nil, DropUncastable
		}
		return t, ""
	default:
		return value, ""
	}
}

func isNull(typ schema.FieldType, value string) bool {
	if value == "" {
		return true
	}
	if typ == schema.String {
		return false
	}
	_, ok := nullTokens[strings.ToLower(value)]
	return ok
}

// parseInt accepts integers and integral floats such as "2005.0", which
// dataframe exports produce for integer columns containing nulls.
func parseInt(value string) (int64, bool) {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// parseDate tries each layout in order and truncates the result to a UTC
// calendar date.
func parseDate(value string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}
