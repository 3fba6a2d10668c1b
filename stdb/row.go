package stdb

import (
	"errors"
	"fmt"
)

// A Row is one decoded table row: ordered fields positionally aligned to
// the table's column list. Rows handed to the application are owned
// copies; nothing in a Row aliases a received frame.

var (
	ErrTrailingBytes = errors.New("row: trailing bytes after decode")
	ErrTypeMismatch  = errors.New("encode: type mismatch")
)

type Row []Field

func (self Row) Equal(other Row) bool {
	if len(self) != len(other) {
		return false
	}
	for i := range self {
		if !self[i].Value.Equal(other[i].Value) {
			return false
		}
	}
	return true
}

// Field returns the value of the named field, if present.
func (self Row) Field(name string) (AlgebraicValue, bool) {
	for i := range self {
		if self[i].Name != nil && *self[i].Name == name {
			return self[i].Value, true
		}
	}
	return AlgebraicValue{}, false
}

// DecodeRow decodes one row payload against a column list. The payload
// must be consumed exactly.
func DecodeRow(rowBytes []byte, columns []Column) (Row, error) {
	d := NewDecoder(rowBytes)
	row := make(Row, len(columns))
	for i := range columns {
		value, err := d.DecodeValue(columns[i].Type)
		if err != nil {
			return nil, err
		}
		row[i] = Field{
			Name:  columns[i].Name,
			Value: value,
		}
	}
	if d.Remaining() != 0 {
		return nil, ErrTrailingBytes
	}
	return row, nil
}

// DecodeRows materializes every row in a list. All or nothing: a failure
// on row i discards rows 0..i and propagates the error, so no partial
// result is ever visible.
func DecodeRows(list *RowList, columns []Column) ([]Row, error) {
	count := list.Count()
	rows := make([]Row, 0, count)
	for i := 0; i < count; i += 1 {
		rowBytes, err := list.RowBytes(i)
		if err != nil {
			return nil, err
		}
		row, err := DecodeRow(rowBytes, columns)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EncodeRow encodes a row in column order with no framing.
func EncodeRow(e *Encoder, row Row) error {
	for i := range row {
		if err := e.EncodeValue(&row[i].Value); err != nil {
			return err
		}
	}
	return nil
}

// EncodeValueAs is the schema-aware encode: it verifies the value's
// carrier against the expected type at every level while emitting.
func EncodeValueAs(e *Encoder, v *AlgebraicValue, t *AlgebraicType) error {
	if v.Tag != t.Tag {
		return fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, v.Tag, t.Tag)
	}
	switch t.Tag {
	case TypeArray:
		e.AppendU32(uint32(len(v.Elements)))
		for i := range v.Elements {
			if err := EncodeValueAs(e, &v.Elements[i], t.Elem); err != nil {
				return err
			}
		}
		return nil
	case TypeOption:
		if v.Present {
			e.AppendU8(0)
			return EncodeValueAs(e, v.Some, t.Elem)
		}
		e.AppendU8(1)
		return nil
	case TypeProduct:
		if len(v.Fields) != len(t.Columns) {
			return fmt.Errorf("%w: product arity %d, want %d", ErrTypeMismatch, len(v.Fields), len(t.Columns))
		}
		for i := range v.Fields {
			if err := EncodeValueAs(e, &v.Fields[i].Value, t.Columns[i].Type); err != nil {
				return err
			}
		}
		return nil
	case TypeSum:
		if int(v.Sum.Tag) >= len(t.Columns) {
			return ErrInvalidSumTag
		}
		e.AppendU8(v.Sum.Tag)
		if v.Sum.Value == nil {
			return fmt.Errorf("%w: sum variant %d has no payload", ErrTypeMismatch, v.Sum.Tag)
		}
		return EncodeValueAs(e, v.Sum.Value, t.Columns[v.Sum.Tag].Type)
	default:
		return e.EncodeValue(v)
	}
}

// EncodeProductFields encodes named fields against a column list, looking
// each column's value up by name. The result is the bare product
// encoding, the same bytes a row or reducer argument tuple carries.
func EncodeProductFields(e *Encoder, fields []Field, columns []Column) error {
	for i := range columns {
		column := &columns[i]
		var value *AlgebraicValue
		if column.Name != nil {
			for j := range fields {
				if fields[j].Name != nil && *fields[j].Name == *column.Name {
					value = &fields[j].Value
					break
				}
			}
		}
		if value == nil {
			// unnamed columns fall back to position
			if i < len(fields) && fields[i].Name == nil {
				value = &fields[i].Value
			}
		}
		if value == nil {
			name := fmt.Sprintf("column %d", i)
			if column.Name != nil {
				name = *column.Name
			}
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		if err := EncodeValueAs(e, value, column.Type); err != nil {
			return err
		}
	}
	return nil
}

// EncodeReducerArgs encodes a reducer's argument tuple from named fields.
func EncodeReducerArgs(reducer *ReducerDef, fields []Field) ([]byte, error) {
	e := NewEncoder()
	if err := EncodeProductFields(e, fields, reducer.Params); err != nil {
		return nil, err
	}
	return e.Take(), nil
}
