// Provides the typed repository over a single full-text searchable table.

package sqldb

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Repository stores records of type T in one table.
//
// Every column is a full-text indexed FTS5 column, so any field can be searched
// by token with a string filter value while numeric and boolean values still
// compare as numbers.
//
// Operations are synchronous and a Repository does no locking: concurrent use
// must be serialized by the caller. The database handle is shared and is not
// closed by the Repository.
type Repository[T any] struct {
	db     *sqlx.DB
	schema *TableSchema

	table      string
	selectList string
}

// Open derives the schema of T and opens its table, creating it if needed.
//
// Schema errors are returned before any statement is sent to db.
func Open[T any](db *sqlx.DB) (*Repository[T], error) {
	schema, err := Derive[T]()
	if err != nil {
		return nil, err
	}
	return OpenWithSchema[T](db, schema)
}

// OpenWithSchema opens the table described by schema for records of type T,
// creating it if needed. It is safe to call repeatedly on the same database.
func OpenWithSchema[T any](db *sqlx.DB, schema *TableSchema) (*Repository[T], error) {
	if err := validateSchema(schema); err != nil {
		return nil, err
	}
	schema = schema.Clone()
	r := &Repository[T]{
		db:     db,
		schema: schema,
		table:  quoteIdent(schema.Name),
	}
	sel := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		sel[i] = columnExpr(f.Name)
	}
	r.selectList = strings.Join(sel, ", ")

	cols := make([]string, 0, len(schema.Fields))
	for _, c := range schema.Columns() {
		cols = append(cols, quoteIdent(c))
	}
	ddl := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(%s)", r.table, strings.Join(cols, ", "))
	if _, err := db.Exec(ddl); err != nil {
		return nil, storageErr("create "+schema.Name, err)
	}
	slog.Debug("sqldb: table ready", "table", schema.Name, "columns", len(cols))
	return r, nil
}

func validateSchema(schema *TableSchema) error {
	if schema == nil || schema.Name == "" {
		return &SchemaError{Type: "<nil>", Err: ErrNotStruct}
	}
	if len(schema.Columns()) == 0 {
		return &SchemaError{Type: schema.Name, Err: ErrNoFields}
	}
	seen := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		if seen[f.Name] {
			return &SchemaError{Type: schema.Name, Field: f.Name, Err: fmt.Errorf("duplicate field")}
		}
		seen[f.Name] = true
		if !validFieldName.MatchString(f.Name) {
			return &SchemaError{Type: schema.Name, Field: f.Name, Err: ErrInvalidFieldName}
		}
		if strings.EqualFold(f.Name, "rank") || strings.EqualFold(f.Name, schema.Name) {
			return &SchemaError{Type: schema.Name, Field: f.Name, Err: ErrReservedFieldName}
		}
		if f.Name == RowIDField && f.Type != I64 {
			return &SchemaError{Type: schema.Name, Field: f.Name, Err: ErrInvalidRowID}
		}
		if f.Type == Unsupported {
			return &SchemaError{Type: schema.Name, Field: f.Name, Err: ErrUnsupportedFieldType}
		}
	}
	return nil
}

// Schema returns a copy of the table schema.
func (r *Repository[T]) Schema() *TableSchema {
	return r.schema.Clone()
}

// List returns every record, in the storage engine's natural order.
func (r *Repository[T]) List() ([]T, error) {
	return r.query("list", "SELECT "+r.selectList+" FROM "+r.table, nil)
}

// Find returns the records matching filter. Filter keys that are not fields of
// the schema are ignored, so an empty filter returns every record.
func (r *Repository[T]) Find(filter Filter) ([]T, error) {
	q, err := Compile(filter, r.schema)
	if err != nil {
		return nil, err
	}
	slog.Debug("sqldb: find", "table", r.schema.Name, "where", q.Where, "params", len(q.Params))
	return r.query("find", "SELECT "+r.selectList+" FROM "+r.table+" WHERE "+q.Where, q.Args())
}

// Count returns the number of records matching filter.
func (r *Repository[T]) Count(filter Filter) (int64, error) {
	q, err := Compile(filter, r.schema)
	if err != nil {
		return 0, err
	}
	stmt, args, err := r.bind("SELECT count(*) FROM "+r.table+" WHERE "+q.Where, q.Args())
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.Get(&n, stmt, args...); err != nil {
		return 0, storageErr("count "+r.schema.Name, err)
	}
	return n, nil
}

// Insert stores rec and returns it as read back from storage, with its rowid
// field, if any, set to the identity assigned by the engine.
func (r *Repository[T]) Insert(rec T) (T, error) {
	var zero T
	params, err := toParams(rec, r.schema)
	if err != nil {
		return zero, err
	}
	cols := make([]string, 0, len(params))
	vals := make([]string, 0, len(params))
	for _, p := range params {
		if p.Name == RowIDField {
			// Zero means "assign one".
			if id, _ := p.Value.(int64); id == 0 {
				continue
			}
		}
		cols = append(cols, columnExpr(p.Name))
		vals = append(vals, p.Placeholder())
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	res, err := r.db.NamedExec(stmt, paramMap(params))
	if err != nil {
		return zero, storageErr("insert "+r.schema.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return zero, storageErr("insert "+r.schema.Name, err)
	}
	rows, err := r.query("insert", "SELECT "+r.selectList+" FROM "+r.table+" WHERE rowid = :rowid", map[string]any{"rowid": id})
	if err != nil {
		return zero, err
	}
	if len(rows) != 1 {
		return zero, storageErr("insert "+r.schema.Name, fmt.Errorf("read back %d rows for rowid %d", len(rows), id))
	}
	return rows[0], nil
}

// InsertAll inserts recs one at a time, in order, and returns them as read back
// from storage.
//
// It is not atomic: on failure it returns the records inserted so far along
// with the error, and those records stay stored.
func (r *Repository[T]) InsertAll(recs []T) ([]T, error) {
	out := make([]T, 0, len(recs))
	for i, rec := range recs {
		got, err := r.Insert(rec)
		if err != nil {
			return out, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, got)
	}
	return out, nil
}

// Delete removes the records matching filter and returns how many were
// removed. An empty filter removes every record.
func (r *Repository[T]) Delete(filter Filter) (int64, error) {
	q, err := Compile(filter, r.schema)
	if err != nil {
		return 0, err
	}
	stmt, args, err := r.bind("DELETE FROM "+r.table+" WHERE "+q.Where, q.Args())
	if err != nil {
		return 0, err
	}
	res, err := r.db.Exec(stmt, args...)
	if err != nil {
		return 0, storageErr("delete "+r.schema.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete "+r.schema.Name, err)
	}
	slog.Debug("sqldb: delete", "table", r.schema.Name, "where", q.Where, "count", n)
	return n, nil
}

// bind replaces named placeholders with positional ones.
func (r *Repository[T]) bind(stmt string, args map[string]any) (string, []any, error) {
	if len(args) == 0 {
		return stmt, nil, nil
	}
	q, list, err := sqlx.Named(stmt, args)
	if err != nil {
		return "", nil, storageErr("bind", err)
	}
	return r.db.Rebind(q), list, nil
}

func (r *Repository[T]) query(op, stmt string, args map[string]any) ([]T, error) {
	q, list, err := r.bind(stmt, args)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Queryx(q, list...)
	if err != nil {
		return nil, storageErr(op+" "+r.schema.Name, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var out []T
	for rows.Next() {
		row := make(map[string]any, len(r.schema.Fields))
		if err := rows.MapScan(row); err != nil {
			return nil, storageErr(op+" "+r.schema.Name, err)
		}
		rec, err := toRecord[T](row, r.schema)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op+" "+r.schema.Name, err)
	}
	return out, nil
}
