package stdb

import (
	"bytes"
	"fmt"
	"math"
)

// The algebraic type system underneath the wire format. Types and values
// are closed tagged unions; every consumer dispatches exhaustively on the
// tag. A value's active case matches its type's active case at every level.

type TypeTag uint8

const (
	TypeBool TypeTag = iota
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeU128
	TypeU256
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeI128
	TypeI256
	TypeF32
	TypeF64
	TypeString
	TypeBytes
	TypeArray
	TypeOption
	TypeProduct
	TypeSum
	// resolved away during schema load. downstream code never sees one.
	TypeRef
)

func (self TypeTag) String() string {
	switch self {
	case TypeBool:
		return "bool"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeU128:
		return "u128"
	case TypeU256:
		return "u256"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeI128:
		return "i128"
	case TypeI256:
		return "i256"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeArray:
		return "array"
	case TypeOption:
		return "option"
	case TypeProduct:
		return "product"
	case TypeSum:
		return "sum"
	case TypeRef:
		return "ref"
	default:
		return fmt.Sprintf("type(%d)", uint8(self))
	}
}

// Column is a named, typed slot in a product, sum, or table.
// The name is informational for products and tables.
type Column struct {
	Name *string
	Type *AlgebraicType
}

func NamedColumn(name string, t *AlgebraicType) Column {
	return Column{
		Name: &name,
		Type: t,
	}
}

type AlgebraicType struct {
	Tag TypeTag

	// array and option
	Elem *AlgebraicType
	// product and sum
	Columns []Column
	// ref, index into the typespace
	Ref int
}

func BoolType() *AlgebraicType    { return &AlgebraicType{Tag: TypeBool} }
func U8Type() *AlgebraicType     { return &AlgebraicType{Tag: TypeU8} }
func U16Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeU16} }
func U32Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeU32} }
func U64Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeU64} }
func U128Type() *AlgebraicType   { return &AlgebraicType{Tag: TypeU128} }
func U256Type() *AlgebraicType   { return &AlgebraicType{Tag: TypeU256} }
func I8Type() *AlgebraicType     { return &AlgebraicType{Tag: TypeI8} }
func I16Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeI16} }
func I32Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeI32} }
func I64Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeI64} }
func I128Type() *AlgebraicType   { return &AlgebraicType{Tag: TypeI128} }
func I256Type() *AlgebraicType   { return &AlgebraicType{Tag: TypeI256} }
func F32Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeF32} }
func F64Type() *AlgebraicType    { return &AlgebraicType{Tag: TypeF64} }
func StringType() *AlgebraicType { return &AlgebraicType{Tag: TypeString} }
func BytesType() *AlgebraicType  { return &AlgebraicType{Tag: TypeBytes} }

func ArrayType(elem *AlgebraicType) *AlgebraicType {
	return &AlgebraicType{Tag: TypeArray, Elem: elem}
}

func OptionType(elem *AlgebraicType) *AlgebraicType {
	return &AlgebraicType{Tag: TypeOption, Elem: elem}
}

func ProductType(columns ...Column) *AlgebraicType {
	return &AlgebraicType{Tag: TypeProduct, Columns: columns}
}

func SumType(variants ...Column) *AlgebraicType {
	return &AlgebraicType{Tag: TypeSum, Columns: variants}
}

func RefType(index int) *AlgebraicType {
	return &AlgebraicType{Tag: TypeRef, Ref: index}
}

// ContainsRef reports whether an unresolved ref survives anywhere in the
// type tree. A loaded schema never exposes one.
func (self *AlgebraicType) ContainsRef() bool {
	switch self.Tag {
	case TypeRef:
		return true
	case TypeArray, TypeOption:
		return self.Elem.ContainsRef()
	case TypeProduct, TypeSum:
		for _, column := range self.Columns {
			if column.Type.ContainsRef() {
				return true
			}
		}
	}
	return false
}

// U128 is a 128 bit unsigned integer carried as two 64 bit limbs.
type U128 struct {
	Lo uint64
	Hi uint64
}

// I128 is a 128 bit signed two's complement integer. The low limb carries
// the raw low 64 bits, the high limb the sign.
type I128 struct {
	Lo uint64
	Hi int64
}

// U256 and I256 are 32 raw bytes. Endianness is opaque to the carrier:
// the codec moves them byte for byte.
type U256 [32]byte

type I256 [32]byte

// Field is a named value inside a product value or a row.
type Field struct {
	Name *string
	Value AlgebraicValue
}

func NamedField(name string, value AlgebraicValue) Field {
	return Field{
		Name: &name,
		Value: value,
	}
}

// SumValue is a tagged variant payload.
type SumValue struct {
	Tag   uint8
	Value *AlgebraicValue
}

// AlgebraicValue is the runtime counterpart of AlgebraicType. Exactly the
// carrier named by Tag is meaningful; the rest are zero.
type AlgebraicValue struct {
	Tag TypeTag

	Bool bool
	U8   uint8
	U16  uint16
	U32  uint32
	U64  uint64
	U128 U128
	U256 U256
	I8   int8
	I16  int16
	I32  int32
	I64  int64
	I128 I128
	I256 I256
	F32  float32
	F64  float64
	Str  string
	Bytes []byte

	// array
	Elements []AlgebraicValue
	// option. nil means none.
	Some *AlgebraicValue
	// whether the option is present. distinguishes Some(zero) from none
	// when Some points at a zero value.
	Present bool
	// product
	Fields []Field
	// sum
	Sum SumValue
}

func BoolValue(v bool) AlgebraicValue      { return AlgebraicValue{Tag: TypeBool, Bool: v} }
func U8Value(v uint8) AlgebraicValue       { return AlgebraicValue{Tag: TypeU8, U8: v} }
func U16Value(v uint16) AlgebraicValue     { return AlgebraicValue{Tag: TypeU16, U16: v} }
func U32Value(v uint32) AlgebraicValue     { return AlgebraicValue{Tag: TypeU32, U32: v} }
func U64Value(v uint64) AlgebraicValue     { return AlgebraicValue{Tag: TypeU64, U64: v} }
func U128Value(v U128) AlgebraicValue      { return AlgebraicValue{Tag: TypeU128, U128: v} }
func U256Value(v U256) AlgebraicValue      { return AlgebraicValue{Tag: TypeU256, U256: v} }
func I8Value(v int8) AlgebraicValue        { return AlgebraicValue{Tag: TypeI8, I8: v} }
func I16Value(v int16) AlgebraicValue      { return AlgebraicValue{Tag: TypeI16, I16: v} }
func I32Value(v int32) AlgebraicValue      { return AlgebraicValue{Tag: TypeI32, I32: v} }
func I64Value(v int64) AlgebraicValue      { return AlgebraicValue{Tag: TypeI64, I64: v} }
func I128Value(v I128) AlgebraicValue      { return AlgebraicValue{Tag: TypeI128, I128: v} }
func I256Value(v I256) AlgebraicValue      { return AlgebraicValue{Tag: TypeI256, I256: v} }
func F32Value(v float32) AlgebraicValue    { return AlgebraicValue{Tag: TypeF32, F32: v} }
func F64Value(v float64) AlgebraicValue    { return AlgebraicValue{Tag: TypeF64, F64: v} }
func StringValue(v string) AlgebraicValue  { return AlgebraicValue{Tag: TypeString, Str: v} }
func BytesValue(v []byte) AlgebraicValue   { return AlgebraicValue{Tag: TypeBytes, Bytes: v} }

func ArrayValue(elements ...AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Tag: TypeArray, Elements: elements}
}

func SomeValue(v AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Tag: TypeOption, Some: &v, Present: true}
}

func NoneValue() AlgebraicValue {
	return AlgebraicValue{Tag: TypeOption}
}

func ProductValue(fields ...Field) AlgebraicValue {
	if fields == nil {
		fields = []Field{}
	}
	return AlgebraicValue{Tag: TypeProduct, Fields: fields}
}

func SumVariant(tag uint8, v AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Tag: TypeSum, Sum: SumValue{Tag: tag, Value: &v}}
}

// Equal compares two values structurally. Float comparison is bitwise
// equality of the carrier, so NaN equals NaN here.
func (self AlgebraicValue) Equal(other AlgebraicValue) bool {
	if self.Tag != other.Tag {
		return false
	}
	switch self.Tag {
	case TypeBool:
		return self.Bool == other.Bool
	case TypeU8:
		return self.U8 == other.U8
	case TypeU16:
		return self.U16 == other.U16
	case TypeU32:
		return self.U32 == other.U32
	case TypeU64:
		return self.U64 == other.U64
	case TypeU128:
		return self.U128 == other.U128
	case TypeU256:
		return self.U256 == other.U256
	case TypeI8:
		return self.I8 == other.I8
	case TypeI16:
		return self.I16 == other.I16
	case TypeI32:
		return self.I32 == other.I32
	case TypeI64:
		return self.I64 == other.I64
	case TypeI128:
		return self.I128 == other.I128
	case TypeI256:
		return self.I256 == other.I256
	case TypeF32:
		return math.Float32bits(self.F32) == math.Float32bits(other.F32)
	case TypeF64:
		return math.Float64bits(self.F64) == math.Float64bits(other.F64)
	case TypeString:
		return self.Str == other.Str
	case TypeBytes:
		return bytes.Equal(self.Bytes, other.Bytes)
	case TypeArray:
		if len(self.Elements) != len(other.Elements) {
			return false
		}
		for i := range self.Elements {
			if !self.Elements[i].Equal(other.Elements[i]) {
				return false
			}
		}
		return true
	case TypeOption:
		if self.Present != other.Present {
			return false
		}
		if !self.Present {
			return true
		}
		return self.Some.Equal(*other.Some)
	case TypeProduct:
		if len(self.Fields) != len(other.Fields) {
			return false
		}
		for i := range self.Fields {
			if !self.Fields[i].Value.Equal(other.Fields[i].Value) {
				return false
			}
		}
		return true
	case TypeSum:
		if self.Sum.Tag != other.Sum.Tag {
			return false
		}
		if self.Sum.Value == nil || other.Sum.Value == nil {
			return self.Sum.Value == other.Sum.Value
		}
		return self.Sum.Value.Equal(*other.Sum.Value)
	default:
		return false
	}
}
