// Compiles JSON-shaped filter objects into parameterized SQL predicates.

package sqldb

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Filter is a decoded JSON object selecting records.
//
// Keys are field names. A value is either:
//   - null: the field IS NULL;
//   - a boolean or a number: the field equals the value;
//   - a string: the field matches the value as a full-text query, so the
//     engine's token and prefix syntax ("linux*") applies;
//   - an object of operators: $eq, $ne, $lt, $lte, $gt, $gte, $in, $nin.
//
// All conditions are combined with AND. Keys that are not fields of the schema
// are ignored.
//
// u64 values above MaxInt64 are stored by bit pattern and order as negative
// numbers, so $lt, $lte, $gt and $gte are rejected on u64 fields.
type Filter map[string]any

// Operators supported inside a field object.
const (
	OpEq  = "$eq"
	OpNe  = "$ne"
	OpLt  = "$lt"
	OpLte = "$lte"
	OpGt  = "$gt"
	OpGte = "$gte"
	OpIn  = "$in"
	OpNin = "$nin"
)

var comparisonOps = map[string]string{
	OpNe:  "!=",
	OpLt:  "<",
	OpLte: "<=",
	OpEq:  "=",
	OpGte: ">=",
	OpGt:  ">",
}

// Query is a compiled filter.
type Query struct {
	// Where is the predicate, without the WHERE keyword. It is never empty.
	Where string
	// Params are in the order their placeholders appear in Where.
	Params []Param
}

// Args returns the parameters keyed by name.
func (q *Query) Args() map[string]any {
	return paramMap(q.Params)
}

// Compile converts filter into a predicate over the columns of schema.
//
// Conditions are emitted in schema field order so the same filter always
// compiles to the same SQL. Parameters are named after their field, suffixed
// with the operator when an operator is used ("age_gte"), so that several
// operators on one field never share a name.
func Compile(filter Filter, schema *TableSchema) (*Query, error) {
	c := compiler{names: make(map[string]bool)}
	for _, f := range schema.Fields {
		v, ok := filter[f.Name]
		if !ok {
			continue
		}
		if err := c.field(f, v); err != nil {
			return nil, err
		}
	}
	where := strings.Join(c.preds, " AND ")
	if where == "" {
		where = "1=1"
	}
	return &Query{Where: where, Params: c.params}, nil
}

type compiler struct {
	preds  []string
	params []Param
	names  map[string]bool
}

// bind registers a parameter and returns its placeholder. The name is made
// unique if a previous parameter already uses it.
func (c *compiler) bind(name string, v any) string {
	unique := name
	for i := 2; c.names[unique]; i++ {
		unique = name + "_" + strconv.Itoa(i)
	}
	c.names[unique] = true
	p := Param{Name: unique, Value: v}
	c.params = append(c.params, p)
	return p.Placeholder()
}

func (c *compiler) field(f Field, v any) error {
	col := columnExpr(f.Name)
	switch kindOf(v) {
	case kindNull:
		c.preds = append(c.preds, col+" IS NULL")
	case kindBool, kindNumber:
		sv, err := scalarValue(v)
		if err != nil {
			return &FilterError{Field: f.Name, Err: err}
		}
		c.preds = append(c.preds, col+" = "+c.bind(f.Name, sv))
	case kindString:
		if f.Name == RowIDField {
			return &FilterError{Field: f.Name, Err: fmt.Errorf("%w: rowid cannot be matched as text", ErrInvalidOperand)}
		}
		if strings.TrimSpace(v.(string)) == "" {
			return &FilterError{Field: f.Name, Err: fmt.Errorf("%w: empty full-text query", ErrInvalidOperand)}
		}
		c.preds = append(c.preds, col+" MATCH "+c.bind(f.Name, v.(string)))
	case kindBytes:
		c.preds = append(c.preds, col+" = "+c.bind(f.Name, v))
	case kindArray:
		return &FilterError{Field: f.Name, Err: ErrArrayNotSupported}
	case kindObject:
		return c.operators(f, col, asObject(v))
	default:
		return &FilterError{Field: f.Name, Err: fmt.Errorf("%w: %T", ErrInvalidOperand, v)}
	}
	return nil
}

func (c *compiler) operators(f Field, col string, ops map[string]any) error {
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, op := range keys {
		v := ops[op]
		suffix := strings.TrimPrefix(op, "$")
		if op == OpIn || op == OpNin {
			if err := c.membership(f, col, op, suffix, v); err != nil {
				return err
			}
			continue
		}
		sqlOp, ok := comparisonOps[op]
		if !ok {
			return &FilterError{Field: f.Name, Op: op, Err: ErrUnknownOperator}
		}
		k := kindOf(v)
		if f.Type == U64 && k != kindNull && op != OpEq && op != OpNe {
			return &FilterError{Field: f.Name, Op: op, Err: fmt.Errorf("%w: u64 values cannot be ordered", ErrInvalidOperand)}
		}
		switch k {
		case kindNull:
			// NULL compares as unknown with every operator.
			c.preds = append(c.preds, col+" IS NOT NULL")
		case kindBool, kindNumber:
			sv, err := scalarValue(v)
			if err != nil {
				return &FilterError{Field: f.Name, Op: op, Err: err}
			}
			c.preds = append(c.preds, col+" "+sqlOp+" "+c.bind(f.Name+"_"+suffix, sv))
		case kindString, kindBytes:
			c.preds = append(c.preds, col+" "+sqlOp+" "+c.bind(f.Name+"_"+suffix, v))
		case kindArray:
			return &FilterError{Field: f.Name, Op: op, Err: ErrArrayNotSupported}
		case kindObject, kindOther:
			return &FilterError{Field: f.Name, Op: op, Err: fmt.Errorf("%w: %T", ErrInvalidOperand, v)}
		}
	}
	return nil
}

// membership compiles $in and $nin into an IN list.
func (c *compiler) membership(f Field, col, op, suffix string, v any) error {
	if kindOf(v) != kindArray {
		return &FilterError{Field: f.Name, Op: op, Err: fmt.Errorf("%w: %s requires an array", ErrInvalidOperand, op)}
	}
	rv := reflect.ValueOf(v)
	if rv.Len() == 0 {
		// Nothing is in an empty set.
		if op == OpIn {
			c.preds = append(c.preds, "0=1")
		} else {
			c.preds = append(c.preds, "1=1")
		}
		return nil
	}
	placeholders := make([]string, 0, rv.Len())
	for i := range rv.Len() {
		e := rv.Index(i).Interface()
		var sv any
		switch kindOf(e) {
		case kindBool, kindNumber:
			var err error
			if sv, err = scalarValue(e); err != nil {
				return &FilterError{Field: f.Name, Op: op, Err: err}
			}
		case kindString, kindBytes:
			sv = e
		case kindNull, kindArray, kindObject, kindOther:
			return &FilterError{Field: f.Name, Op: op, Err: fmt.Errorf("%w: %s element %d is %T", ErrInvalidOperand, op, i, e)}
		}
		placeholders = append(placeholders, c.bind(f.Name+"_"+suffix+"_"+strconv.Itoa(i), sv))
	}
	sqlOp := " IN ("
	if op == OpNin {
		sqlOp = " NOT IN ("
	}
	c.preds = append(c.preds, col+sqlOp+strings.Join(placeholders, ", ")+")")
	return nil
}

type valueKind int

const (
	kindOther valueKind = iota
	kindNull
	kindBool
	kindNumber
	kindString
	kindBytes
	kindArray
	kindObject
)

// kindOf classifies a dynamic filter value. It accepts what encoding/json
// produces as well as Go scalars and slices built by callers.
func kindOf(v any) valueKind {
	switch v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case json.Number, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return kindNumber
	case string:
		return kindString
	case []byte:
		return kindBytes
	case []any:
		return kindArray
	case map[string]any, Filter:
		return kindObject
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return kindArray
	default:
		return kindOther
	}
}

func asObject(v any) map[string]any {
	if f, ok := v.(Filter); ok {
		return f
	}
	return v.(map[string]any)
}

// scalarValue converts a boolean or a number to the value bound to SQLite.
// Integral numbers become int64 so they compare exactly with INTEGER cells.
func scalarValue(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidOperand, t)
		}
		return numeric(f), nil
	case float64:
		return numeric(t), nil
	case float32:
		return numeric(float64(t)), nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return int64(t), nil //nolint:gosec // G115: same bit pattern as stored values.
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return int64(t), nil //nolint:gosec // G115: same bit pattern as stored values.
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidOperand, v)
}

// numeric returns whole floats as int64, like SQLite's NUMERIC affinity.
func numeric(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && !math.IsNaN(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

// columnExpr is the SQL expression reading the column for a field.
func columnExpr(name string) string {
	if name == RowIDField {
		return RowIDField
	}
	return quoteIdent(name)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
