// Package dataset provides access to the sensitive microdata tables and
// their synthetic variants.
//
// The dataset lives in its own SQLite database, separate from the engine
// store: results and budget state must never share a transaction domain
// with the data being protected. For every approved table the database
// also carries a pre-generated synthetic variant under the reserved
// "__synthetic" suffix; the synthetic mechanism queries that variant and
// never touches the raw rows.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tolliver/veil/internal/querysql"
	"github.com/tolliver/veil/internal/queryir"
	"github.com/tolliver/veil/internal/schema"
)

// SyntheticSuffix is appended to a table name to address its synthetic
// variant. The double underscore keeps it out of the transformation
// target namespace, which the validator restricts to single-underscore
// suffixes of approved names.
const SyntheticSuffix = "__synthetic"

// SyntheticName returns the synthetic variant name for a table.
func SyntheticName(table string) string {
	return table + SyntheticSuffix
}

// cardinalityCutoff is the distinct-value count below which a column is
// treated as categorical and its cardinality recorded in metadata.
const cardinalityCutoff = 100

// Dataset is a handle to the microdata database.
type Dataset struct {
	db *sql.DB
}

// Open opens the dataset database at path.
func Open(path string) (*Dataset, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to dataset: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return &Dataset{db: db}, nil
}

// Close closes the dataset connection.
func (d *Dataset) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// DB returns the underlying handle for test seeding.
func (d *Dataset) DB() *sql.DB {
	return d.db
}

// Row is one result row keyed by output column name, paired with the
// column order of the query.
type Row map[string]any

// Query compiles and runs an analysis query, returning column names in
// select order and the result rows.
func (d *Dataset) Query(ctx context.Context, q queryir.AnalysisQuery) ([]string, []Row, error) {
	sqlText, params, err := querysql.CompileAnalysis(q)
	if err != nil {
		return nil, nil, fmt.Errorf("compile analysis: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, nil, fmt.Errorf("run analysis: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}

	return cols, out, nil
}

// RunTransform executes a transformation as drop-then-create in one
// transaction, so a failed create never leaves the previous derived
// table half-replaced.
func (d *Dataset) RunTransform(ctx context.Context, t queryir.TransformQuery) error {
	dropSQL, createSQL, params, err := querysql.CompileTransform(t)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("run transformation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("run transformation: drop prior table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createSQL, params...); err != nil {
		return fmt.Errorf("run transformation: create table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("run transformation: commit: %w", err)
	}
	return nil
}

// TableMetadata derives allow-list metadata for a table by inspecting its
// columns and value ranges. Used to refresh sensitivity bounds for
// transformation results before noise calibration.
func (d *Dataset) TableMetadata(ctx context.Context, name string) (schema.Table, error) {
	colRows, err := d.db.QueryContext(ctx,
		fmt.Sprintf(`PRAGMA table_info(%q)`, name))
	if err != nil {
		return schema.Table{}, fmt.Errorf("table metadata: inspect %s: %w", name, err)
	}
	defer colRows.Close()

	type colInfo struct {
		name    string
		sqlType string
	}
	var infos []colInfo
	for colRows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return schema.Table{}, fmt.Errorf("table metadata: scan column: %w", err)
		}
		infos = append(infos, colInfo{name: colName, sqlType: colType})
	}
	if err := colRows.Err(); err != nil {
		return schema.Table{}, fmt.Errorf("table metadata: %w", err)
	}
	if len(infos) == 0 {
		return schema.Table{}, fmt.Errorf("table metadata: table %q does not exist", name)
	}

	var rowCount int64
	if err := d.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %q`, name)).Scan(&rowCount); err != nil {
		return schema.Table{}, fmt.Errorf("table metadata: count rows: %w", err)
	}

	var cols []schema.Column
	for _, info := range infos {
		col := schema.Column{Name: info.name, Type: columnType(info.sqlType)}

		if col.Type == schema.TypeInt || col.Type == schema.TypeFloat {
			var lower, upper sql.NullFloat64
			var distinct int64
			err := d.db.QueryRowContext(ctx, fmt.Sprintf(`
				SELECT MIN(%q), MAX(%q), COUNT(DISTINCT %q) FROM %q
			`, info.name, info.name, info.name, name)).Scan(&lower, &upper, &distinct)
			if err != nil {
				return schema.Table{}, fmt.Errorf("table metadata: bounds for %s: %w", info.name, err)
			}
			if lower.Valid && upper.Valid {
				col.Lower, col.Upper, col.HasBounds = lower.Float64, upper.Float64, true
			}
			if distinct > 0 && distinct < cardinalityCutoff {
				col.Cardinality = int(distinct)
			}
		}

		cols = append(cols, col)
	}

	return schema.NewTable(name, rowCount, cols), nil
}

// columnType maps a SQLite declared type to a schema column type, using
// the same buckets the source deployment used for Postgres types.
func columnType(declared string) schema.ColumnType {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"):
		return schema.TypeInt
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"),
		strings.Contains(t, "DOUB"), strings.Contains(t, "NUM"), strings.Contains(t, "DEC"):
		return schema.TypeFloat
	case strings.Contains(t, "BOOL"):
		return schema.TypeBool
	default:
		return schema.TypeString
	}
}
