package stdb

import (
	"fmt"
	"strings"
	"unicode"
)

// Code generation for the typed accessor layer: one struct per table
// whose fields positionally match the table's column order, FromRow glue
// over the row decoder, and one wrapper per reducer. The generated file
// is a thin layer over the schema-aware encoders; nothing in it touches
// the wire directly.

// GenerateAccessors renders a complete Go source file for schema.
func GenerateAccessors(schema *Schema, packageName string) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "// Code generated by stdbctl codegen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", packageName)
	if 0 < len(schema.Tables)+len(schema.Reducers) {
		fmt.Fprintf(&b, "import (\n")
		if 0 < len(schema.Tables) {
			// FromRow bodies format their errors
			fmt.Fprintf(&b, "\t\"fmt\"\n\n")
		}
		fmt.Fprintf(&b, "\t\"github.com/stdbgo/stdb\"\n")
		fmt.Fprintf(&b, ")\n\n")
	}

	for i := range schema.Tables {
		if err := generateTable(&b, &schema.Tables[i]); err != nil {
			return "", err
		}
	}
	for i := range schema.Reducers {
		if err := generateReducer(&b, &schema.Reducers[i]); err != nil {
			return "", err
		}
	}

	return b.String(), nil
}

func generateTable(b *strings.Builder, table *TableDef) error {
	structName := exportedIdentifier(table.Name)

	fmt.Fprintf(b, "// %s mirrors one row of the %q table.\n", structName, table.Name)
	fmt.Fprintf(b, "type %s struct {\n", structName)
	for i := range table.Columns {
		fmt.Fprintf(b, "\t%s %s\n", columnFieldName(&table.Columns[i], i), goTypeFor(table.Columns[i].Type))
	}
	fmt.Fprintf(b, "}\n\n")

	fmt.Fprintf(b, "func (self *%s) TableName() string {\n", structName)
	fmt.Fprintf(b, "\treturn %q\n", table.Name)
	fmt.Fprintf(b, "}\n\n")

	fmt.Fprintf(b, "func (self *%s) FromRow(row stdb.Row) error {\n", structName)
	fmt.Fprintf(b, "\tif len(row) != %d {\n", len(table.Columns))
	fmt.Fprintf(b, "\t\treturn fmt.Errorf(\"%s: row has %%d fields, want %d\", len(row))\n", structName, len(table.Columns))
	fmt.Fprintf(b, "\t}\n")
	for i := range table.Columns {
		column := &table.Columns[i]
		fieldName := columnFieldName(column, i)
		if carrier, tagName, ok := carrierFor(column.Type.Tag); ok {
			fmt.Fprintf(b, "\tif row[%d].Value.Tag != stdb.%s {\n", i, tagName)
			fmt.Fprintf(b, "\t\treturn fmt.Errorf(\"%s.%s: unexpected value tag %%s\", row[%d].Value.Tag)\n", structName, fieldName, i)
			fmt.Fprintf(b, "\t}\n")
			fmt.Fprintf(b, "\tself.%s = row[%d].Value.%s\n", fieldName, i, carrier)
		} else {
			fmt.Fprintf(b, "\tself.%s = row[%d].Value\n", fieldName, i)
		}
	}
	fmt.Fprintf(b, "\treturn nil\n")
	fmt.Fprintf(b, "}\n\n")

	fmt.Fprintf(b, "func (self *%s) ToFields() []stdb.Field {\n", structName)
	fmt.Fprintf(b, "\treturn []stdb.Field{\n")
	for i := range table.Columns {
		column := &table.Columns[i]
		fieldName := columnFieldName(column, i)
		wireName := strings.ToLower(fieldName)
		if column.Name != nil {
			wireName = *column.Name
		}
		fmt.Fprintf(b, "\t\tstdb.NamedField(%q, %s),\n", wireName, valueExpr(column.Type, "self."+fieldName))
	}
	fmt.Fprintf(b, "\t}\n")
	fmt.Fprintf(b, "}\n\n")
	return nil
}

func generateReducer(b *strings.Builder, reducer *ReducerDef) error {
	funcName := "Call" + exportedIdentifier(reducer.Name)

	params := make([]string, len(reducer.Params))
	for i := range reducer.Params {
		params[i] = fmt.Sprintf("%s %s", paramName(&reducer.Params[i], i), goTypeFor(reducer.Params[i].Type))
	}

	fmt.Fprintf(b, "// %s invokes the %q reducer.\n", funcName, reducer.Name)
	fmt.Fprintf(b, "func %s(client *stdb.Client", funcName)
	for _, param := range params {
		fmt.Fprintf(b, ", %s", param)
	}
	fmt.Fprintf(b, ") (uint32, error) {\n")
	fmt.Fprintf(b, "\tfields := []stdb.Field{\n")
	for i := range reducer.Params {
		param := &reducer.Params[i]
		wireName := paramName(param, i)
		if param.Name != nil {
			wireName = *param.Name
		}
		fmt.Fprintf(b, "\t\tstdb.NamedField(%q, %s),\n", wireName, valueExpr(param.Type, paramName(param, i)))
	}
	fmt.Fprintf(b, "\t}\n")
	fmt.Fprintf(b, "\treturn client.CallReducer(%q, fields)\n", reducer.Name)
	fmt.Fprintf(b, "}\n\n")
	return nil
}

// goTypeFor maps a wire type to the generated field type. Composite
// types stay as algebraic values; the generated layer only flattens
// primitives.
func goTypeFor(t *AlgebraicType) string {
	switch t.Tag {
	case TypeBool:
		return "bool"
	case TypeU8:
		return "uint8"
	case TypeU16:
		return "uint16"
	case TypeU32:
		return "uint32"
	case TypeU64:
		return "uint64"
	case TypeU128:
		return "stdb.U128"
	case TypeU256:
		return "stdb.U256"
	case TypeI8:
		return "int8"
	case TypeI16:
		return "int16"
	case TypeI32:
		return "int32"
	case TypeI64:
		return "int64"
	case TypeI128:
		return "stdb.I128"
	case TypeI256:
		return "stdb.I256"
	case TypeF32:
		return "float32"
	case TypeF64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBytes:
		return "[]byte"
	default:
		return "stdb.AlgebraicValue"
	}
}

// carrierFor returns the AlgebraicValue carrier field and type tag
// constant for primitive tags.
func carrierFor(tag TypeTag) (carrier string, tagName string, ok bool) {
	switch tag {
	case TypeBool:
		return "Bool", "TypeBool", true
	case TypeU8:
		return "U8", "TypeU8", true
	case TypeU16:
		return "U16", "TypeU16", true
	case TypeU32:
		return "U32", "TypeU32", true
	case TypeU64:
		return "U64", "TypeU64", true
	case TypeU128:
		return "U128", "TypeU128", true
	case TypeU256:
		return "U256", "TypeU256", true
	case TypeI8:
		return "I8", "TypeI8", true
	case TypeI16:
		return "I16", "TypeI16", true
	case TypeI32:
		return "I32", "TypeI32", true
	case TypeI64:
		return "I64", "TypeI64", true
	case TypeI128:
		return "I128", "TypeI128", true
	case TypeI256:
		return "I256", "TypeI256", true
	case TypeF32:
		return "F32", "TypeF32", true
	case TypeF64:
		return "F64", "TypeF64", true
	case TypeString:
		return "Str", "TypeString", true
	case TypeBytes:
		return "Bytes", "TypeBytes", true
	default:
		return "", "", false
	}
}

// valueExpr renders the expression wrapping a generated field back into
// an AlgebraicValue.
func valueExpr(t *AlgebraicType, src string) string {
	switch t.Tag {
	case TypeBool:
		return fmt.Sprintf("stdb.BoolValue(%s)", src)
	case TypeU8:
		return fmt.Sprintf("stdb.U8Value(%s)", src)
	case TypeU16:
		return fmt.Sprintf("stdb.U16Value(%s)", src)
	case TypeU32:
		return fmt.Sprintf("stdb.U32Value(%s)", src)
	case TypeU64:
		return fmt.Sprintf("stdb.U64Value(%s)", src)
	case TypeU128:
		return fmt.Sprintf("stdb.U128Value(%s)", src)
	case TypeU256:
		return fmt.Sprintf("stdb.U256Value(%s)", src)
	case TypeI8:
		return fmt.Sprintf("stdb.I8Value(%s)", src)
	case TypeI16:
		return fmt.Sprintf("stdb.I16Value(%s)", src)
	case TypeI32:
		return fmt.Sprintf("stdb.I32Value(%s)", src)
	case TypeI64:
		return fmt.Sprintf("stdb.I64Value(%s)", src)
	case TypeI128:
		return fmt.Sprintf("stdb.I128Value(%s)", src)
	case TypeI256:
		return fmt.Sprintf("stdb.I256Value(%s)", src)
	case TypeF32:
		return fmt.Sprintf("stdb.F32Value(%s)", src)
	case TypeF64:
		return fmt.Sprintf("stdb.F64Value(%s)", src)
	case TypeString:
		return fmt.Sprintf("stdb.StringValue(%s)", src)
	case TypeBytes:
		return fmt.Sprintf("stdb.BytesValue(%s)", src)
	default:
		return src
	}
}

func columnFieldName(column *Column, index int) string {
	if column.Name != nil {
		return exportedIdentifier(*column.Name)
	}
	return fmt.Sprintf("Col%d", index)
}

func paramName(column *Column, index int) string {
	if column.Name != nil {
		return unexportedIdentifier(*column.Name)
	}
	return fmt.Sprintf("p%d", index)
}

// exportedIdentifier converts a snake_case wire name into an exported Go
// identifier.
func exportedIdentifier(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "X"
	}
	out := b.String()
	if unicode.IsDigit(rune(out[0])) {
		out = "X" + out
	}
	return out
}

func unexportedIdentifier(name string) string {
	exported := exportedIdentifier(name)
	lowered := strings.ToLower(exported[:1]) + exported[1:]
	switch lowered {
	// dodge collisions with keywords and the receiver
	case "type", "func", "map", "range", "client", "self":
		return lowered + "_"
	default:
		return lowered
	}
}
