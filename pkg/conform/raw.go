package conform

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// RawRow is one record of a raw file keyed by the header as it appears in
// the source. A column that is absent from the row is absent from the map.
type RawRow map[string]string

// Raw is the parsed contents of a single landed file.
type Raw struct {
	// Name is the landed file name, used in logs and drop records.
	Name   string
	Header []string
	Rows   []RawRow
}

const utf8BOM = "\ufeff"

// ReadCSV parses a CSV file with a header line. Records shorter than the
// header leave the trailing columns absent; extra trailing values are ignored.
func ReadCSV(name string, r io.Reader) (Raw, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return Raw{Name: name}, nil
	}
	if err != nil {
		return Raw{}, errors.Wrapf(err, "reading header of %s", name)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	raw := Raw{Name: name, Header: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Raw{}, errors.Wrapf(err, "reading %s", name)
		}
		row := make(RawRow, len(header))
		for i, col := range header {
			if i >= len(record) {
				break
			}
			row[col] = record[i]
		}
		raw.Rows = append(raw.Rows, row)
	}
	return raw, nil
}

// ReadFile parses a landed file, transparently decompressing .gz files.
func ReadFile(name string, data []byte) (Raw, error) {
	var r io.Reader = bytes.NewReader(data)
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return Raw{}, errors.Wrapf(err, "opening gzip file %s", name)
		}
		defer gz.Close()
		r = gz
	}
	return ReadCSV(name, r)
}

// IsDataFile reports whether a landed file name is a supported raw format.
func IsDataFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".csv.gz")
}
