package gointerp

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
)

const previewLimit = 200

// variable mirrors the listing format every bundle prints.
type variable struct {
	Name     string `json:"varName"`
	Type     string `json:"varType"`
	Size     string `json:"varSize"`
	Shape    string `json:"varShape"`
	Content  string `json:"varContent"`
	IsMatrix bool   `json:"isMatrix"`
}

type tableField struct {
	Name string `cbor:"name" json:"name"`
	Type string `cbor:"type" json:"type"`
}

type tableSchema struct {
	Fields     []tableField `cbor:"fields" json:"fields"`
	PrimaryKey []string     `cbor:"primaryKey" json:"primaryKey"`
}

type table struct {
	Schema tableSchema      `cbor:"schema" json:"schema"`
	Data   []map[string]any `cbor:"data" json:"data"`
}

var encMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("gointerp: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}()

// variables backs inspect.Variables. It returns the JSON listing of the
// visible globals ordered by name.
func (s *Session) variables() string {
	globals := s.visibleGlobals()

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]variable, 0, len(names))
	for _, name := range names {
		v := indirect(globals[name])
		out = append(out, variable{
			Name:     name,
			Type:     typeName(v),
			Size:     sizeOf(v),
			Shape:    shapeOf(v),
			Content:  preview(v),
			IsMatrix: isMatrix(v),
		})
	}

	text, err := sonic.MarshalString(out)
	if err != nil {
		panic(&inspectError{name: "EncodeError", msg: err.Error()})
	}
	return text
}

// matrix backs inspect.Matrix. Failures panic with an inspectError so the
// reply carries a named error.
func (s *Session) matrix(name string, maxRows int) matrixTable {
	raw, ok := s.lookup(name)
	if !ok {
		panic(&inspectError{name: "NameError", msg: fmt.Sprintf("variable '%s' is not defined", name)})
	}
	v := indirect(raw)
	if !isMatrix(v) {
		panic(&inspectError{name: "TypeError", msg: fmt.Sprintf("'%s' is not a matrix", name)})
	}

	rows := v.Len()
	if maxRows >= 0 && rows > maxRows {
		rows = maxRows
	}

	columns := columnsOf(v)
	t := table{
		Schema: tableSchema{
			Fields:     []tableField{{Name: "index", Type: "integer"}},
			PrimaryKey: []string{"index"},
		},
		Data: make([]map[string]any, 0, rows),
	}
	for _, c := range columns {
		t.Schema.Fields = append(t.Schema.Fields, tableField{Name: c.name, Type: c.typ})
	}

	for i := 0; i < rows; i++ {
		row := indirect(v.Index(i))
		record := map[string]any{"index": i}
		for _, c := range columns {
			record[c.name] = cellValue(c.get(row))
		}
		t.Data = append(t.Data, record)
	}

	data, err := encMode.Marshal(t)
	if err != nil {
		panic(&inspectError{name: "EncodeError", msg: err.Error()})
	}
	return matrixTable(data)
}

func visible(name string, v reflect.Value) bool {
	if name == "" || name == "_" || strings.HasPrefix(name, "_") {
		return false
	}
	if !v.IsValid() {
		return false
	}
	return v.Kind() != reflect.Func
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr) {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

func typeName(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}

func shapeOf(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if isMatrix(v) {
			return fmt.Sprintf("%d x %d", v.Len(), len(columnsOf(v)))
		}
		return strconv.Itoa(v.Len())
	case reflect.Map, reflect.String, reflect.Chan:
		return strconv.Itoa(v.Len())
	}
	return ""
}

func sizeOf(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	n := int(v.Type().Size())
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		n += v.Len() * int(v.Type().Elem().Size())
	case reflect.String:
		n += v.Len()
	case reflect.Map:
		n += v.Len() * int(v.Type().Key().Size()+v.Type().Elem().Size())
	}
	return humanBytes(n)
}

func humanBytes(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	size := float64(n)
	for _, unit := range []string{"KB", "MB", "GB"} {
		size /= 1024
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
	}
	return fmt.Sprintf("%.1f TB", size/1024)
}

func preview(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	var text string
	if v.CanInterface() {
		text = fmt.Sprintf("%v", v.Interface())
	} else {
		text = v.String()
	}
	if len(text) > previewLimit {
		text = text[:previewLimit] + "..."
	}
	return text
}

// isMatrix holds for non-empty slices or arrays whose rows are slices,
// arrays, structs or string-keyed maps.
func isMatrix(v reflect.Value) bool {
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Len() == 0 {
		return false
	}
	elem := v.Type().Elem()
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	switch elem.Kind() {
	case reflect.Slice, reflect.Array, reflect.Struct:
		return true
	case reflect.Map:
		return elem.Key().Kind() == reflect.String
	case reflect.Interface:
		for i := 0; i < v.Len(); i++ {
			row := indirect(v.Index(i))
			switch row.Kind() {
			case reflect.Slice, reflect.Array, reflect.Struct:
			case reflect.Map:
				if row.Type().Key().Kind() != reflect.String {
					return false
				}
			default:
				return false
			}
		}
		return true
	}
	return false
}

type column struct {
	name string
	typ  string
	get  func(row reflect.Value) reflect.Value
}

func columnsOf(v reflect.Value) []column {
	var columns []column
	seen := map[string]bool{}
	add := func(c column) {
		if !seen[c.name] {
			seen[c.name] = true
			columns = append(columns, c)
		}
	}

	for i := 0; i < v.Len(); i++ {
		row := indirect(v.Index(i))
		switch row.Kind() {
		case reflect.Slice, reflect.Array:
			for j := 0; j < row.Len(); j++ {
				pos := j
				add(column{
					name: strconv.Itoa(pos),
					typ:  row.Type().Elem().String(),
					get: func(r reflect.Value) reflect.Value {
						if (r.Kind() != reflect.Slice && r.Kind() != reflect.Array) || pos >= r.Len() {
							return reflect.Value{}
						}
						return r.Index(pos)
					},
				})
			}
		case reflect.Struct:
			for j := 0; j < row.NumField(); j++ {
				field := row.Type().Field(j)
				if !field.IsExported() {
					continue
				}
				fieldName := field.Name
				add(column{
					name: fieldName,
					typ:  field.Type.String(),
					get: func(r reflect.Value) reflect.Value {
						if r.Kind() != reflect.Struct {
							return reflect.Value{}
						}
						return r.FieldByName(fieldName)
					},
				})
			}
		case reflect.Map:
			keys := row.MapKeys()
			sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })
			for _, k := range keys {
				key := k.String()
				add(column{
					name: key,
					typ:  row.Type().Elem().String(),
					get: func(r reflect.Value) reflect.Value {
						if r.Kind() != reflect.Map {
							return reflect.Value{}
						}
						return r.MapIndex(reflect.ValueOf(key).Convert(r.Type().Key()))
					},
				})
			}
		}
	}
	return columns
}

func cellValue(v reflect.Value) any {
	v = indirect(v)
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v.Interface()
	}
	return fmt.Sprintf("%v", v.Interface())
}
