package engine

import (
	"fmt"
	"strings"

	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

// QueryResult holds a SQL statement and its parameters.
type QueryResult struct {
	SQL    string
	Params []any
}

func columnList(e *metadata.Entity) string {
	fields := e.PersistentFields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

// buildInsertSQL inserts every assigned persistent field. When the key is
// database-generated the statement returns it.
func buildInsertSQL(d store.Dialect, o *Object) (QueryResult, error) {
	pb := d.NewParamBuilder()
	e := o.Entity

	var cols, vals []string
	for _, f := range e.PersistentFields() {
		v, ok := o.values[f.Name]
		if !ok || (v == nil && e.IsKey(f.Name)) {
			continue
		}
		param, err := dbValue(d, &f, v)
		if err != nil {
			return QueryResult{}, err
		}
		cols = append(cols, f.Name)
		vals = append(vals, pb.Add(param))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", e.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if o.KeyValue() == nil {
		sql += " RETURNING " + e.PrimaryKey.Field
	}
	return QueryResult{SQL: sql, Params: pb.Params()}, nil
}

// buildUpdateSQL writes only the fields changed since load.
func buildUpdateSQL(d store.Dialect, o *Object) (QueryResult, bool, error) {
	pb := d.NewParamBuilder()
	e := o.Entity

	var sets []string
	for _, f := range e.PersistentFields() {
		if !o.dirty[f.Name] || e.IsKey(f.Name) {
			continue
		}
		param, err := dbValue(d, &f, o.values[f.Name])
		if err != nil {
			return QueryResult{}, false, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, pb.Add(param)))
	}
	if len(sets) == 0 {
		return QueryResult{}, false, nil
	}

	key, err := keyParam(d, e, o.KeyValue())
	if err != nil {
		return QueryResult{}, false, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		e.Table, strings.Join(sets, ", "), e.PrimaryKey.Field, pb.Add(key))
	return QueryResult{SQL: sql, Params: pb.Params()}, true, nil
}

func buildDeleteSQL(d store.Dialect, e *metadata.Entity, key any) (QueryResult, error) {
	pb := d.NewParamBuilder()
	k, err := keyParam(d, e, key)
	if err != nil {
		return QueryResult{}, err
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", e.Table, e.PrimaryKey.Field, pb.Add(k))
	return QueryResult{SQL: sql, Params: pb.Params()}, nil
}

func buildSelectByKeySQL(d store.Dialect, e *metadata.Entity, key any) (QueryResult, error) {
	pb := d.NewParamBuilder()
	k, err := keyParam(d, e, key)
	if err != nil {
		return QueryResult{}, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", columnList(e), e.Table, e.PrimaryKey.Field, pb.Add(k))
	return QueryResult{SQL: sql, Params: pb.Params()}, nil
}

func keyParam(d store.Dialect, e *metadata.Entity, key any) (any, error) {
	f := e.GetField(e.PrimaryKey.Field)
	if f == nil {
		return key, nil
	}
	return dbValue(d, f, key)
}
