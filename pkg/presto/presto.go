package presto

import (
	"context"
	"fmt"

	_ "github.com/prestodb/presto-go-client/presto"

	"github.com/kube-reporting/theft-lakehouse/pkg/db"
)

type Row map[string]interface{}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExecuteQuery runs a statement and drains its result set.
func ExecuteQuery(ctx context.Context, queryer db.Queryer, query string) error {
	rows, err := queryer.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	// the presto client only reports query failures while iterating, so
	// Next must be called before Err is meaningful
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("presto SQL error: %v", err)
	}
	return nil
}

// ExecuteSelect runs query and returns every row keyed by column name.
func ExecuteSelect(ctx context.Context, queryer db.Queryer, query string) ([]Row, error) {
	rows, err := queryer.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []Row
	for rows.Next() {
		columns := make([]interface{}, len(cols))
		columnPointers := make([]interface{}, len(cols))
		for i := range columns {
			columnPointers[i] = &columns[i]
		}
		if err := rows.Scan(columnPointers...); err != nil {
			return nil, err
		}
		m := make(Row, len(cols))
		for i, colName := range cols {
			m[colName] = *columnPointers[i].(*interface{})
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// QueryMetadata runs DESCRIBE against a table and returns its columns in
// declaration order.
func QueryMetadata(ctx context.Context, queryer db.Queryer, catalog, schema, tableName string) ([]Column, error) {
	rows, err := ExecuteSelect(ctx, queryer, fmt.Sprintf("DESCRIBE %s", FullyQualifiedTableName(catalog, schema, tableName)))
	if err != nil {
		return nil, fmt.Errorf("failed to query the %s Presto table's metadata: %v", tableName, err)
	}

	var cols []Column
	for _, row := range rows {
		colName, ok := row["Column"].(string)
		if !ok {
			return nil, fmt.Errorf("failed to convert the Presto column name to a string")
		}
		colType, ok := row["Type"].(string)
		if !ok {
			return nil, fmt.Errorf("failed to convert the Presto column type to a string")
		}
		cols = append(cols, Column{Name: colName, Type: colType})
	}
	return cols, nil
}

// CountRows returns the number of rows Presto reads from a table.
func CountRows(ctx context.Context, queryer db.Queryer, catalog, schema, tableName string) (int64, error) {
	rows, err := ExecuteSelect(ctx, queryer, generateCountRowsSQL(catalog, schema, tableName))
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("expected a single row counting %s, got %d", tableName, len(rows))
	}
	n, ok := rows[0]["n"].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T for %s", rows[0]["n"], tableName)
	}
	return n, nil
}

func generateCountRowsSQL(catalog, schema, tableName string) string {
	return fmt.Sprintf("SELECT count(*) AS n FROM %s", FullyQualifiedTableName(catalog, schema, tableName))
}

func FullyQualifiedTableName(catalog, schema, tableName string) string {
	return fmt.Sprintf("%s.%s.%s", catalog, schema, tableName)
}
