// Converts records to bound parameters and storage rows back to records.

package sqldb

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Type coercion maps record values through JSON to SQLite storage classes and
// back.
//
// Record field → JSON (encoding/json, UseNumber) → SQLite class:
//
//	bool            → true/false   → INTEGER (0 or 1)
//	int*, uint*     → json.Number  → INTEGER (uint64 above MaxInt64 keeps its bit pattern)
//	float32/float64 → json.Number  → REAL
//	string, Rune    → string       → TEXT
//	[]byte          → base64       → BLOB
//	nil pointer     → null         → NULL
//
// Reading reverses it: the cell is converted to the JSON scalar the field type
// decodes from, and the assembled object is decoded into the record type.

// Param is a named value bound to a statement placeholder.
type Param struct {
	Name  string
	Value any
}

// Placeholder returns the named placeholder referencing the parameter.
func (p Param) Placeholder() string {
	return ":" + p.Name
}

// paramMap converts params to the map form sqlx binds from.
func paramMap(params []Param) map[string]any {
	m := make(map[string]any, len(params))
	for _, p := range params {
		m[p.Name] = p.Value
	}
	return m
}

// toParams encodes rec into one parameter per schema field, in schema order.
func toParams(rec any, schema *TableSchema) ([]Param, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, &MarshalError{Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, &MarshalError{Err: err}
	}
	if m == nil {
		return nil, &MarshalError{Err: fmt.Errorf("record encoded to %s", data)}
	}
	params := make([]Param, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		v, ok := m[f.Name]
		if !ok {
			// omitempty dropped it.
			v = zeroValue(f)
		}
		bv, err := bindValue(f, v)
		if err != nil {
			return nil, &MarshalError{Field: f.Name, Err: err}
		}
		params = append(params, Param{Name: f.Name, Value: bv})
	}
	return params, nil
}

// zeroValue is the JSON value of the zero value of a field.
func zeroValue(f Field) any {
	if f.Nullable {
		return nil
	}
	switch f.Type {
	case Bool:
		return false
	case String, Char:
		return ""
	case Bytes:
		return nil
	case Unsupported:
		return nil
	default:
		return json.Number("0")
	}
}

// bindValue converts a decoded JSON value to the native SQLite kind for f.
func bindValue(f Field, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any, []any:
		panic(fmt.Sprintf("sqldb: field %q holds a composite value %T; schema derivation should have rejected it", f.Name, v))
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		switch {
		case f.Type == U64 || f.Type == U32 || f.Type == U16 || f.Type == U8:
			u, err := strconv.ParseUint(t.String(), 10, 64)
			if err != nil {
				return nil, err
			}
			return int64(u), nil //nolint:gosec // G115: uint64 above MaxInt64 is stored by bit pattern.
		case f.Type.IsInteger():
			return t.Int64()
		default:
			return t.Float64()
		}
	case string:
		if f.Type == Bytes {
			return base64.StdEncoding.DecodeString(t)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value %T", v)
	}
}

// toRecord decodes a storage row into a record of type T.
func toRecord[T any](row map[string]any, schema *TableSchema) (T, error) {
	var rec T
	obj := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		cell, ok := row[f.Name]
		if !ok {
			return rec, &MarshalError{Field: f.Name, Err: fmt.Errorf("missing column")}
		}
		v, err := cellValue(f, cell)
		if err != nil {
			return rec, &MarshalError{Field: f.Name, Err: err}
		}
		obj[f.Name] = v
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return rec, &MarshalError{Err: err}
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, &MarshalError{Err: err}
	}
	return rec, nil
}

// cellValue converts a dynamically typed storage cell to the JSON scalar field
// f decodes from.
func cellValue(f Field, cell any) (any, error) {
	if cell == nil {
		return nil, nil
	}
	switch f.Type {
	case Bool:
		switch c := cell.(type) {
		case int64:
			return c != 0, nil
		case float64:
			return c != 0, nil
		case string:
			b, err := strconv.ParseBool(c)
			if err != nil {
				return nil, fmt.Errorf("cannot read %q as bool", c)
			}
			return b, nil
		}
	case I8, I16, I32, I64:
		switch c := cell.(type) {
		case int64:
			return c, nil
		case float64:
			if c != math.Trunc(c) {
				return nil, fmt.Errorf("cannot read %v as %s", c, f.Type)
			}
			return int64(c), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot read %q as %s", c, f.Type)
			}
			return i, nil
		}
	case U8, U16, U32, U64:
		switch c := cell.(type) {
		case int64:
			if f.Type == U64 {
				return uint64(c), nil //nolint:gosec // G115: bit pattern written by bindValue.
			}
			return c, nil
		case float64:
			if c != math.Trunc(c) || c < 0 {
				return nil, fmt.Errorf("cannot read %v as %s", c, f.Type)
			}
			return uint64(c), nil
		case string:
			u, err := strconv.ParseUint(strings.TrimSpace(c), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot read %q as %s", c, f.Type)
			}
			return u, nil
		}
	case F32, F64:
		switch c := cell.(type) {
		case float64:
			return c, nil
		case int64:
			return float64(c), nil
		case string:
			v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot read %q as %s", c, f.Type)
			}
			return v, nil
		}
	case String:
		switch c := cell.(type) {
		case string:
			return c, nil
		case []byte:
			return strings.ToValidUTF8(string(c), string(utf8.RuneError)), nil
		case int64:
			return strconv.FormatInt(c, 10), nil
		case float64:
			return strconv.FormatFloat(c, 'g', -1, 64), nil
		}
	case Char:
		var s string
		switch c := cell.(type) {
		case string:
			s = c
		case []byte:
			s = strings.ToValidUTF8(string(c), string(utf8.RuneError))
		default:
			return nil, fmt.Errorf("cannot read %T as %s", cell, f.Type)
		}
		if utf8.RuneCountInString(s) > 1 {
			return nil, fmt.Errorf("cannot read %q as %s", s, f.Type)
		}
		return s, nil
	case Bytes:
		switch c := cell.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(c), nil
		case string:
			return base64.StdEncoding.EncodeToString([]byte(c)), nil
		}
	case Unsupported:
	}
	return nil, fmt.Errorf("cannot read %T as %s", cell, f.Type)
}
