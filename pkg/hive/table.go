package hive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"

	"github.com/kube-reporting/theft-lakehouse/pkg/db"
)

const ParquetFileFormat = "parquet"

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type TableParameters struct {
	Database string   `json:"database,omitempty"`
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`

	Location        string            `json:"location,omitempty"`
	FileFormat      string            `json:"fileFormat,omitempty"`
	TableProperties map[string]string `json:"tableProperties,omitempty"`
	External        bool              `json:"external,omitempty"`
	IgnoreExists    bool              `json:"ignoreExists,omitempty"`
}

type DatabaseParameters struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

type property struct {
	Key, Value string
}

type createTableContext struct {
	TableParameters
	Properties []property
}

var templateFuncs = template.FuncMap{
	"tableName": TableName,
	"backtick":  func(s string) string { return "`" + s + "`" },
}

var createTableTemplate = template.Must(template.New("create-table").Funcs(sprig.TxtFuncMap()).Funcs(templateFuncs).Parse(
	`CREATE {{ if .External }}EXTERNAL {{ end }}TABLE {{ if .IgnoreExists }}IF NOT EXISTS {{ end }}{{ tableName .Database .Name }} (
{{- range $i, $col := .Columns }}{{ if $i }},{{ end }}
  {{ backtick $col.Name }} {{ $col.Type | lower }}
{{- end }}
)
{{- with .FileFormat }}
STORED AS {{ . | upper }}
{{- end }}
{{- with .Location }}
LOCATION {{ . | squote }}
{{- end }}
{{- with .Properties }}
TBLPROPERTIES ({{ range $i, $p := . }}{{ if $i }}, {{ end }}{{ $p.Key | squote }}={{ $p.Value | squote }}{{ end }})
{{- end }}`))

var createDatabaseTemplate = template.Must(template.New("create-database").Funcs(sprig.TxtFuncMap()).Funcs(templateFuncs).Parse(
	`CREATE DATABASE IF NOT EXISTS {{ backtick .Name }}
{{- with .Location }}
LOCATION {{ . | squote }}
{{- end }}`))

// TableName quotes a table name, qualified by its database if one is set.
func TableName(database, name string) string {
	if database == "" {
		return "`" + name + "`"
	}
	return "`" + database + "`.`" + name + "`"
}

func generateCreateTableSQL(params TableParameters) (string, error) {
	tmplCtx := createTableContext{TableParameters: params}
	for k, v := range params.TableProperties {
		tmplCtx.Properties = append(tmplCtx.Properties, property{Key: k, Value: v})
	}
	sort.Slice(tmplCtx.Properties, func(i, j int) bool { return tmplCtx.Properties[i].Key < tmplCtx.Properties[j].Key })

	var buf bytes.Buffer
	if err := createTableTemplate.Execute(&buf, tmplCtx); err != nil {
		return "", fmt.Errorf("error rendering CREATE TABLE for %s: %v", params.Name, err)
	}
	return buf.String(), nil
}

func generateDropTableSQL(database, name string, ignoreNotExists bool) string {
	ifExists := ""
	if ignoreNotExists {
		ifExists = "IF EXISTS "
	}
	return fmt.Sprintf("DROP TABLE %s%s", ifExists, TableName(database, name))
}

func generateCreateDatabaseSQL(params DatabaseParameters) (string, error) {
	var buf bytes.Buffer
	if err := createDatabaseTemplate.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("error rendering CREATE DATABASE for %s: %v", params.Name, err)
	}
	return buf.String(), nil
}

func ExecuteCreateTable(ctx context.Context, execer db.Execer, params TableParameters) error {
	query, err := generateCreateTableSQL(params)
	if err != nil {
		return err
	}
	_, err = execer.ExecContext(ctx, query)
	return err
}

func ExecuteDropTable(ctx context.Context, execer db.Execer, database, name string, ignoreNotExists bool) error {
	_, err := execer.ExecContext(ctx, generateDropTableSQL(database, name, ignoreNotExists))
	return err
}

func ExecuteCreateDatabase(ctx context.Context, execer db.Execer, params DatabaseParameters) error {
	query, err := generateCreateDatabaseSQL(params)
	if err != nil {
		return err
	}
	_, err = execer.ExecContext(ctx, query)
	return err
}

// S3Location returns the s3a:// URI of a prefix in bucket. Hive table
// locations are directories, so the result always ends in a slash. bucket may
// carry a leading path, which is joined in front of prefix.
func S3Location(bucket, prefix string) (string, error) {
	name, bucketPath, _ := strings.Cut(strings.Trim(bucket, "/"), "/")
	if name == "" {
		return "", fmt.Errorf("s3 bucket must be set")
	}
	dir := path.Join("/", bucketPath, prefix)
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	location := url.URL{Scheme: "s3a", Host: name, Path: dir}
	return location.String(), nil
}
