package inspector

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"

	"github.com/GriffinCanCode/varinspector/internal/kernel"
)

// CBORMimeType marks matrix replies encoded as CBOR tables.
const CBORMimeType = "application/cbor"

// Field is one column of a table schema.
type Field struct {
	Name string `json:"name" cbor:"name"`
	Type string `json:"type,omitempty" cbor:"type"`
}

// Row is one table row: its index values and its cells in column order.
type Row struct {
	Header []any `json:"header"`
	Cells  []any `json:"cells"`
}

// DataModel is the tabular result of a matrix query.
type DataModel struct {
	Name         string  `json:"name"`
	Columns      []Field `json:"columns"`
	IndexColumns []Field `json:"indexColumns"`
	Rows         []Row   `json:"rows"`
}

// RowCount returns the number of rows.
func (m *DataModel) RowCount() int { return len(m.Rows) }

// ColumnCount returns the number of data columns, excluding the index.
func (m *DataModel) ColumnCount() int { return len(m.Columns) }

// Cell returns the value at row, col or nil when out of range.
func (m *DataModel) Cell(row, col int) any {
	if row < 0 || row >= len(m.Rows) || col < 0 || col >= len(m.Rows[row].Cells) {
		return nil
	}
	return m.Rows[row].Cells[col]
}

// ColumnHeaders returns the data column names.
func (m *DataModel) ColumnHeaders() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Name
	}
	return out
}

// RowHeader renders the index values of a row.
func (m *DataModel) RowHeader(row int) string {
	if row < 0 || row >= len(m.Rows) {
		return ""
	}
	parts := make([]string, len(m.Rows[row].Header))
	for i, v := range m.Rows[row].Header {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

// table is the "table" orient layout: a schema plus one record per row.
type table struct {
	Schema struct {
		Fields     []Field  `json:"fields" cbor:"fields"`
		PrimaryKey []string `json:"primaryKey" cbor:"primaryKey"`
	} `json:"schema" cbor:"schema"`
	Data []map[string]any `json:"data" cbor:"data"`
}

var cborDecoder = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("inspector: CBOR decoder initialization failed: " + err.Error())
	}
	return mode
}()

// ParseListing decodes the JSON variable listing printed by a query
// command.
func ParseListing(text string) ([]Variable, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty listing")
	}

	var vars []Variable
	if err := sonic.UnmarshalString(text, &vars); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	for i, v := range vars {
		if v.Name == "" {
			return nil, fmt.Errorf("decode listing: entry %d has no name", i)
		}
	}
	if vars == nil {
		vars = []Variable{}
	}
	return vars, nil
}

// ParseTable decodes a matrix reply. CBOR data takes precedence over the
// textual JSON table.
func ParseTable(reply *kernel.Reply) (*DataModel, error) {
	var t table
	if encoded, ok := reply.Data[CBORMimeType]; ok {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode table: %w", err)
		}
		if err := cborDecoder.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode table: %w", err)
		}
	} else {
		text := reply.Text()
		if text == "" {
			return nil, errors.New("decode table: empty reply")
		}
		if err := sonic.UnmarshalString(text, &t); err != nil {
			return nil, fmt.Errorf("decode table: %w", err)
		}
	}
	return t.model()
}

func (t *table) model() (*DataModel, error) {
	if len(t.Schema.Fields) == 0 {
		return nil, errors.New("decode table: schema has no fields")
	}

	index := make(map[string]bool, len(t.Schema.PrimaryKey))
	for _, k := range t.Schema.PrimaryKey {
		index[k] = true
	}

	m := &DataModel{}
	byName := make(map[string]Field, len(t.Schema.Fields))
	for _, f := range t.Schema.Fields {
		byName[f.Name] = f
		if !index[f.Name] {
			m.Columns = append(m.Columns, f)
		}
	}
	for _, k := range t.Schema.PrimaryKey {
		f, ok := byName[k]
		if !ok {
			return nil, fmt.Errorf("decode table: primary key %q is not a field", k)
		}
		m.IndexColumns = append(m.IndexColumns, f)
	}

	m.Rows = make([]Row, len(t.Data))
	for i, record := range t.Data {
		row := Row{
			Header: make([]any, len(m.IndexColumns)),
			Cells:  make([]any, len(m.Columns)),
		}
		for j, f := range m.IndexColumns {
			row.Header[j] = record[f.Name]
		}
		for j, f := range m.Columns {
			row.Cells[j] = record[f.Name]
		}
		m.Rows[i] = row
	}
	return m, nil
}
