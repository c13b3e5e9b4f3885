package api

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kube-reporting/theft-lakehouse/pkg/schema"
)

const (
	FormatJSON    = "json"
	FormatCSV     = "csv"
	FormatTab     = "tab"
	FormatTabular = "tabular"
)

func validFormat(format string) bool {
	switch format {
	case FormatJSON, FormatCSV, FormatTab, FormatTabular:
		return true
	}
	return false
}

type tableColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type tableResponse struct {
	Tier    string                   `json:"tier"`
	Name    string                   `json:"name"`
	Columns []tableColumn            `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

// formatValue renders a conformed value as text. Dates use the canonical
// date layout.
func formatValue(val interface{}) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case time.Time:
		return v.Format(schema.DateLayout), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("unsupported value type %T", val)
}

func writeTableAsCSV(t schema.Table, w io.Writer, delimiter rune) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = delimiter

	header := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		header[i] = f.Name
	}
	if err := csvWriter.Write(header); err != nil {
		return err
	}
	vals := make([]string, len(t.Fields))
	for _, row := range t.Rows {
		for i, f := range t.Fields {
			s, err := formatValue(row[f.Name])
			if err != nil {
				return fmt.Errorf("column %s: %v", f.Name, err)
			}
			vals[i] = s
		}
		if err := csvWriter.Write(vals); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func writeTableResponse(logger log.FieldLogger, tier, format string, t schema.Table, w http.ResponseWriter, r *http.Request) {
	switch format {
	case FormatJSON:
		writeTableResponseAsJSON(logger, tier, t, w)
	case FormatCSV:
		var buf bytes.Buffer
		if err := writeTableAsCSV(t, &buf, ','); err != nil {
			writeErrorResponse(logger, w, http.StatusInternalServerError, "error rendering table %s: %v", t.Name, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment;filename=%s.csv", t.Name))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	case FormatTab, FormatTabular:
		padding := 2
		if paddingStr := r.FormValue("padding"); paddingStr != "" {
			var err error
			padding, err = strconv.Atoi(paddingStr)
			if err != nil || padding < 0 {
				writeErrorResponse(logger, w, http.StatusBadRequest, "invalid padding value %s", paddingStr)
				return
			}
		}
		var buf bytes.Buffer
		tabWriter := tabwriter.NewWriter(&buf, 0, 8, padding, '\t', 0)
		if err := writeTableAsCSV(t, tabWriter, '\t'); err != nil {
			writeErrorResponse(logger, w, http.StatusInternalServerError, "error rendering table %s: %v", t.Name, err)
			return
		}
		if err := tabWriter.Flush(); err != nil {
			writeErrorResponse(logger, w, http.StatusInternalServerError, "error rendering table %s: %v", t.Name, err)
			return
		}
		w.Header().Set("Content-Type", "text/tab-separated-values")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment;filename=%s.tsv", t.Name))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func writeTableResponseAsJSON(logger log.FieldLogger, tier string, t schema.Table, w http.ResponseWriter) {
	resp := tableResponse{
		Tier:    tier,
		Name:    t.Name,
		Columns: make([]tableColumn, len(t.Fields)),
		Rows:    make([]map[string]interface{}, len(t.Rows)),
	}
	for i, f := range t.Fields {
		resp.Columns[i] = tableColumn{Name: f.Name, Type: string(f.Type)}
	}
	for i, row := range t.Rows {
		out := make(map[string]interface{}, len(row))
		for k, v := range row {
			if d, ok := v.(time.Time); ok {
				out[k] = d.Format(schema.DateLayout)
				continue
			}
			out[k] = v
		}
		resp.Rows[i] = out
	}
	writeResponseAsJSON(logger, w, http.StatusOK, resp)
}
