// Classifies Go values and types into the scalar storage types a table can hold.

package sqldb

import (
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// ScalarType is the storage type of a single column.
type ScalarType int

const (
	// Unsupported is any composite or otherwise unstorable type.
	Unsupported ScalarType = iota
	Bool
	Char
	String
	Bytes
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
)

var scalarTypeNames = [...]string{
	Unsupported: "unsupported",
	Bool:        "bool",
	Char:        "char",
	String:      "string",
	Bytes:       "bytes",
	I8:          "i8",
	I16:         "i16",
	I32:         "i32",
	I64:         "i64",
	U8:          "u8",
	U16:         "u16",
	U32:         "u32",
	U64:         "u64",
	F32:         "f32",
	F64:         "f64",
}

func (s ScalarType) String() string {
	if s < 0 || int(s) >= len(scalarTypeNames) {
		return fmt.Sprintf("ScalarType(%d)", int(s))
	}
	return scalarTypeNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s ScalarType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ScalarType) UnmarshalText(b []byte) error {
	for i, n := range scalarTypeNames {
		if n == string(b) {
			*s = ScalarType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown scalar type %q", b)
}

// IsInteger reports whether s is a signed or unsigned integer type.
func (s ScalarType) IsInteger() bool {
	return s >= I8 && s <= U64
}

// IsFloat reports whether s is a floating point type.
func (s ScalarType) IsFloat() bool {
	return s == F32 || s == F64
}

// Rune is a single Unicode character stored in a Char column.
//
// rune is an alias of int32 in Go, so a distinct type is needed for a column to
// be classified as Char instead of I32. It encodes to JSON as a one-character
// string.
type Rune rune

func (c Rune) String() string {
	return string(rune(c))
}

// MarshalJSON implements json.Marshaler.
func (c Rune) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(rune(c)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Rune) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*c = 0
		return nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		return fmt.Errorf("char must be a single character, got %q", s)
	}
	*c = Rune(r)
	return nil
}

var runeType = reflect.TypeFor[Rune]()

// Classify returns the storage type of v.
//
// A nil pointer to a scalar still classifies as its element type; an untyped nil
// is Unsupported.
func Classify(v any) ScalarType {
	if v == nil {
		return Unsupported
	}
	return ClassifyType(reflect.TypeOf(v))
}

// ClassifyType returns the storage type of values of type t.
//
// A pointer to a scalar is an optional scalar and classifies as its element
// type. Named types classify by their underlying kind, except Rune.
func ClassifyType(t reflect.Type) ScalarType {
	if t == nil {
		return Unsupported
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
		if t.Kind() == reflect.Pointer {
			return Unsupported
		}
	}
	if t == runeType {
		return Char
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return I8
	case reflect.Int16:
		return I16
	case reflect.Int32:
		return I32
	case reflect.Int, reflect.Int64:
		return I64
	case reflect.Uint8:
		return U8
	case reflect.Uint16:
		return U16
	case reflect.Uint32:
		return U32
	case reflect.Uint, reflect.Uint64:
		return U64
	case reflect.Float32:
		return F32
	case reflect.Float64:
		return F64
	case reflect.String:
		return String
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Bytes
		}
		return Unsupported
	case reflect.Invalid, reflect.Uintptr, reflect.Complex64, reflect.Complex128,
		reflect.Array, reflect.Chan, reflect.Func, reflect.Interface, reflect.Map,
		reflect.Pointer, reflect.Struct, reflect.UnsafePointer:
		return Unsupported
	}
	return Unsupported
}
