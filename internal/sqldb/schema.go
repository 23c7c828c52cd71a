// Derives table schemas from Go record types using reflection.

package sqldb

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
)

// RowIDField is the name of the field mapped to the storage-assigned row identity.
const RowIDField = "rowid"

// ErrInvalidFieldName is returned when a field name cannot be used as a column
// and parameter name.
var ErrInvalidFieldName = errors.New("field name must match [A-Za-z_][A-Za-z0-9_]*")

// ErrReservedFieldName is returned when a field name collides with a hidden
// FTS5 column: "rank" or the table's own name.
var ErrReservedFieldName = errors.New("field name is reserved by fts5")

var validFieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Field is a single column of a table.
type Field struct {
	Name        string     `json:"name" yaml:"name"`
	Type        ScalarType `json:"type" yaml:"type"`
	Nullable    bool       `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// TableSchema describes how a record type is stored.
//
// Fields are in declaration order. The first field is the natural identity of
// the record.
type TableSchema struct {
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// TableNamer is implemented by record types that choose their own table name
// instead of the derived one.
type TableNamer interface {
	TableName() string
}

// Field returns the field with the given name.
func (s *TableSchema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasRowID reports whether the schema maps a field to the row identity.
func (s *TableSchema) HasRowID() bool {
	_, ok := s.Field(RowIDField)
	return ok
}

// Columns returns the names of the declared columns, which excludes rowid.
func (s *TableSchema) Columns() []string {
	cols := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name != RowIDField {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// Clone returns a deep copy.
func (s *TableSchema) Clone() *TableSchema {
	c := &TableSchema{Name: s.Name, Fields: make([]Field, len(s.Fields))}
	copy(c.Fields, s.Fields)
	return c
}

// Derive reflects the schema of the record type T.
func Derive[T any]() (*TableSchema, error) {
	return deriveType(reflect.TypeFor[T]())
}

// DeriveFrom reflects the schema of the record type of sample.
func DeriveFrom(sample any) (*TableSchema, error) {
	if sample == nil {
		return nil, &SchemaError{Type: "<nil>", Err: ErrNotStruct}
	}
	return deriveType(reflect.TypeOf(sample))
}

func deriveType(t reflect.Type) (*TableSchema, error) {
	structType := t
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return nil, &SchemaError{Type: t.String(), Err: ErrNotStruct}
	}

	fields, err := structFields(structType)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, &SchemaError{Type: structType.Name(), Err: ErrNoFields}
	}

	// Descriptions come from `jsonschema:"description=..."` tags.
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	js := r.ReflectFromType(structType)
	if js != nil && js.Properties != nil {
		for i := range fields {
			if prop, ok := js.Properties.Get(fields[i].Name); ok && prop != nil {
				fields[i].Description = prop.Description
			}
		}
	}

	return &TableSchema{Name: tableName(structType), Fields: fields}, nil
}

// structFields lists the storable fields of t in declaration order, promoting
// the fields of embedded structs the same way encoding/json does.
func structFields(t reflect.Type) ([]Field, error) {
	var fields []Field
	seen := make(map[string]bool)
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		tagged := name != ""
		if !tagged {
			name = sf.Name
		}
		if sf.Anonymous && !tagged && indirect(sf.Type).Kind() == reflect.Struct {
			// Inlined; its promoted fields follow.
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		st := ClassifyType(sf.Type)
		if name == RowIDField {
			if st != I64 || sf.Type.Kind() == reflect.Pointer {
				return nil, &SchemaError{Type: t.Name(), Field: name, Err: ErrInvalidRowID}
			}
		} else if st == Unsupported {
			return nil, &SchemaError{Type: t.Name(), Field: name, Err: ErrUnsupportedFieldType}
		}
		if !validFieldName.MatchString(name) {
			return nil, &SchemaError{Type: t.Name(), Field: name, Err: ErrInvalidFieldName}
		}
		fields = append(fields, Field{
			Name:     name,
			Type:     st,
			Nullable: sf.Type.Kind() == reflect.Pointer,
		})
	}
	return fields, nil
}

// tableName is the record type name with an "s" appended, unless the type
// implements TableNamer.
//
// The pluralization is deliberately naive: "Entry" becomes "Entrys".
func tableName(structType reflect.Type) string {
	namer := reflect.TypeFor[TableNamer]()
	switch {
	case structType.Implements(namer):
		return reflect.Zero(structType).Interface().(TableNamer).TableName()
	case reflect.PointerTo(structType).Implements(namer):
		return reflect.New(structType).Interface().(TableNamer).TableName()
	}
	return structType.Name() + "s"
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
