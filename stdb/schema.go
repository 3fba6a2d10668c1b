package stdb

import (
	"encoding/json"
	"errors"
	"fmt"
)

// The schema descriptor is fetched once over http as json
// (GET /v1/database/{name}/schema?version=9) and parsed into a fully
// resolved Schema. Every type ref is expanded against the typespace at
// load time, so downstream code never observes one.

var (
	ErrInvalidJson    = errors.New("schema: invalid json")
	ErrUnknownType    = errors.New("schema: unknown type")
	ErrInvalidTypeRef = errors.New("schema: invalid type ref")
	ErrMissingField   = errors.New("missing field")
)

type TableDef struct {
	Name       string
	Columns    []Column
	PrimaryKey []int
}

type ReducerDef struct {
	Name   string
	Params []Column
}

type Schema struct {
	Tables    []TableDef
	Reducers  []ReducerDef
	Typespace []*AlgebraicType

	tablesByName   map[string]*TableDef
	reducersByName map[string]*ReducerDef
}

func (self *Schema) Table(name string) *TableDef {
	return self.tablesByName[name]
}

func (self *Schema) Reducer(name string) *ReducerDef {
	return self.reducersByName[name]
}

type schemaJson struct {
	Tables    []tableJson   `json:"tables"`
	Reducers  []reducerJson `json:"reducers"`
	Typespace []typeJson    `json:"typespace"`
}

type tableJson struct {
	Name       string       `json:"name"`
	Columns    []columnJson `json:"columns"`
	PrimaryKey []int        `json:"primary_key"`
}

type reducerJson struct {
	Name   string       `json:"name"`
	Params []columnJson `json:"params"`
}

type columnJson struct {
	Name string    `json:"name"`
	Type *typeJson `json:"type"`
}

type typeJson struct {
	Kind     string       `json:"kind"`
	Elem     *typeJson    `json:"elem,omitempty"`
	Elements []columnJson `json:"elements,omitempty"`
	Variants []columnJson `json:"variants,omitempty"`
	Ref      *int         `json:"ref,omitempty"`
}

var primitiveKinds = map[string]TypeTag{
	"bool":   TypeBool,
	"u8":     TypeU8,
	"u16":    TypeU16,
	"u32":    TypeU32,
	"u64":    TypeU64,
	"u128":   TypeU128,
	"u256":   TypeU256,
	"i8":     TypeI8,
	"i16":    TypeI16,
	"i32":    TypeI32,
	"i64":    TypeI64,
	"i128":   TypeI128,
	"i256":   TypeI256,
	"f32":    TypeF32,
	"f64":    TypeF64,
	"string": TypeString,
	"bytes":  TypeBytes,
}

// ParseSchema parses and resolves a json schema descriptor.
func ParseSchema(descriptor []byte) (*Schema, error) {
	var raw schemaJson
	if err := json.Unmarshal(descriptor, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJson, err)
	}

	typespace := make([]*AlgebraicType, len(raw.Typespace))
	for i := range raw.Typespace {
		t, err := typeFromJson(&raw.Typespace[i])
		if err != nil {
			return nil, err
		}
		typespace[i] = t
	}

	// 0 unvisited, 1 visiting, 2 resolved
	state := make([]int, len(typespace))
	for i := range typespace {
		resolved, err := resolveType(typespace[i], typespace, state, i)
		if err != nil {
			return nil, err
		}
		typespace[i] = resolved
	}

	schema := &Schema{
		Typespace:      typespace,
		tablesByName:   map[string]*TableDef{},
		reducersByName: map[string]*ReducerDef{},
	}

	for i := range raw.Tables {
		rawTable := &raw.Tables[i]
		if rawTable.Name == "" {
			return nil, fmt.Errorf("%w: table name", ErrMissingField)
		}
		columns, err := columnsFromJson(rawTable.Columns, typespace)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", rawTable.Name, err)
		}
		for _, pkIndex := range rawTable.PrimaryKey {
			if pkIndex < 0 || len(columns) <= pkIndex {
				return nil, fmt.Errorf("table %s: primary key index %d out of range", rawTable.Name, pkIndex)
			}
		}
		table := TableDef{
			Name:       rawTable.Name,
			Columns:    columns,
			PrimaryKey: rawTable.PrimaryKey,
		}
		schema.Tables = append(schema.Tables, table)
	}
	for i := range schema.Tables {
		table := &schema.Tables[i]
		if _, ok := schema.tablesByName[table.Name]; ok {
			return nil, fmt.Errorf("duplicate table name: %s", table.Name)
		}
		schema.tablesByName[table.Name] = table
	}

	for i := range raw.Reducers {
		rawReducer := &raw.Reducers[i]
		if rawReducer.Name == "" {
			return nil, fmt.Errorf("%w: reducer name", ErrMissingField)
		}
		params, err := columnsFromJson(rawReducer.Params, typespace)
		if err != nil {
			return nil, fmt.Errorf("reducer %s: %w", rawReducer.Name, err)
		}
		schema.Reducers = append(schema.Reducers, ReducerDef{
			Name:   rawReducer.Name,
			Params: params,
		})
	}
	for i := range schema.Reducers {
		reducer := &schema.Reducers[i]
		if _, ok := schema.reducersByName[reducer.Name]; ok {
			return nil, fmt.Errorf("duplicate reducer name: %s", reducer.Name)
		}
		schema.reducersByName[reducer.Name] = reducer
	}

	return schema, nil
}

func columnsFromJson(raw []columnJson, typespace []*AlgebraicType) ([]Column, error) {
	columns := make([]Column, len(raw))
	for i := range raw {
		if raw[i].Type == nil {
			return nil, fmt.Errorf("%w: column type", ErrMissingField)
		}
		t, err := typeFromJson(raw[i].Type)
		if err != nil {
			return nil, err
		}
		state := make([]int, len(typespace))
		t, err = resolveType(t, typespace, state, -1)
		if err != nil {
			return nil, err
		}
		name := raw[i].Name
		columns[i] = Column{
			Type: t,
		}
		if name != "" {
			columns[i].Name = &name
		}
	}
	return columns, nil
}

func typeFromJson(raw *typeJson) (*AlgebraicType, error) {
	if tag, ok := primitiveKinds[raw.Kind]; ok {
		return &AlgebraicType{Tag: tag}, nil
	}
	switch raw.Kind {
	case "array", "option":
		if raw.Elem == nil {
			return nil, fmt.Errorf("%w: %s elem", ErrMissingField, raw.Kind)
		}
		elem, err := typeFromJson(raw.Elem)
		if err != nil {
			return nil, err
		}
		if raw.Kind == "array" {
			return ArrayType(elem), nil
		}
		return OptionType(elem), nil
	case "product":
		columns := make([]Column, len(raw.Elements))
		for i := range raw.Elements {
			if raw.Elements[i].Type == nil {
				return nil, fmt.Errorf("%w: product element type", ErrMissingField)
			}
			t, err := typeFromJson(raw.Elements[i].Type)
			if err != nil {
				return nil, err
			}
			name := raw.Elements[i].Name
			columns[i] = Column{Type: t}
			if name != "" {
				columns[i].Name = &name
			}
		}
		return ProductType(columns...), nil
	case "sum":
		variants := make([]Column, len(raw.Variants))
		for i := range raw.Variants {
			if raw.Variants[i].Type == nil {
				return nil, fmt.Errorf("%w: sum variant type", ErrMissingField)
			}
			t, err := typeFromJson(raw.Variants[i].Type)
			if err != nil {
				return nil, err
			}
			name := raw.Variants[i].Name
			variants[i] = Column{Type: t}
			if name != "" {
				variants[i].Name = &name
			}
		}
		return SumType(variants...), nil
	case "ref":
		if raw.Ref == nil {
			return nil, fmt.Errorf("%w: ref index", ErrMissingField)
		}
		return RefType(*raw.Ref), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, raw.Kind)
	}
}

// resolveType expands every ref node, returning a type with no ref
// anywhere beneath it. selfIndex is the typespace slot being resolved,
// or -1 outside the typespace. Cycles are an error.
func resolveType(t *AlgebraicType, typespace []*AlgebraicType, state []int, selfIndex int) (*AlgebraicType, error) {
	switch t.Tag {
	case TypeRef:
		index := t.Ref
		if index < 0 || len(typespace) <= index {
			return nil, fmt.Errorf("%w: %d", ErrInvalidTypeRef, index)
		}
		if state[index] == 1 {
			return nil, fmt.Errorf("%w: cycle at %d", ErrInvalidTypeRef, index)
		}
		if state[index] == 2 {
			return typespace[index], nil
		}
		state[index] = 1
		resolved, err := resolveType(typespace[index], typespace, state, index)
		if err != nil {
			return nil, err
		}
		typespace[index] = resolved
		state[index] = 2
		return resolved, nil
	case TypeArray, TypeOption:
		if selfIndex >= 0 {
			state[selfIndex] = 1
		}
		elem, err := resolveType(t.Elem, typespace, state, -1)
		if selfIndex >= 0 {
			state[selfIndex] = 2
		}
		if err != nil {
			return nil, err
		}
		t.Elem = elem
		return t, nil
	case TypeProduct, TypeSum:
		if selfIndex >= 0 {
			state[selfIndex] = 1
		}
		for i := range t.Columns {
			resolved, err := resolveType(t.Columns[i].Type, typespace, state, -1)
			if err != nil {
				if selfIndex >= 0 {
					state[selfIndex] = 2
				}
				return nil, err
			}
			t.Columns[i].Type = resolved
		}
		if selfIndex >= 0 {
			state[selfIndex] = 2
		}
		return t, nil
	default:
		if selfIndex >= 0 {
			state[selfIndex] = 2
		}
		return t, nil
	}
}
