package stdb

import (
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestPrimitiveFrame(t *testing.T) {
	e := NewEncoder()
	e.AppendU32(0xDEADBEEF)
	e.AppendI32(-100000)
	b := e.Take()
	assert.Equal(t, b, []byte{0xEF, 0xBE, 0xAD, 0xDE, 0x60, 0x79, 0xFE, 0xFF})

	d := NewDecoder(b)
	u, err := d.U32()
	assert.Equal(t, err, nil)
	assert.Equal(t, u, uint32(0xDEADBEEF))
	i, err := d.I32()
	assert.Equal(t, err, nil)
	assert.Equal(t, i, int32(-100000))
	assert.Equal(t, d.Remaining(), 0)
}

func TestU32LittleEndian(t *testing.T) {
	for _, n := range []uint32{0, 1, 256, 0x01020304, 0xFFFFFFFF} {
		e := NewEncoder()
		e.AppendU32(n)
		b := e.Take()
		assert.Equal(t, len(b), 4)
		composed := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		assert.Equal(t, composed, n)
	}
}

func TestStringFraming(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", "日本語"} {
		e := NewEncoder()
		e.AppendString(s)
		b := e.Take()
		assert.Equal(t, len(b), 4+len(s))

		d := NewDecoder(b)
		n, err := d.U32()
		assert.Equal(t, err, nil)
		assert.Equal(t, n, uint32(len(s)))
	}
}

func TestEmptyStringAndArray(t *testing.T) {
	e := NewEncoder()
	e.AppendString("")
	assert.Equal(t, e.Take(), []byte{0, 0, 0, 0})

	arrayType := ArrayType(U32Type())
	value := ArrayValue()
	e = NewEncoder()
	err := e.EncodeValue(&value)
	assert.Equal(t, err, nil)
	b := e.Take()
	assert.Equal(t, b, []byte{0, 0, 0, 0})

	decoded, err := NewDecoder(b).DecodeValue(arrayType)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(decoded.Elements), 0)
}

func roundTrip(t *testing.T, value AlgebraicValue, valueType *AlgebraicType) {
	e := NewEncoder()
	err := e.EncodeValue(&value)
	assert.Equal(t, err, nil)
	b := e.Take()

	d := NewDecoder(b)
	decoded, err := d.DecodeValue(valueType)
	assert.Equal(t, err, nil)
	assert.Equal(t, d.Remaining(), 0)
	assert.Equal(t, decoded.Equal(value), true)
}

func TestIntegerBoundsRoundTrip(t *testing.T) {
	roundTrip(t, U8Value(0), U8Type())
	roundTrip(t, U8Value(255), U8Type())
	roundTrip(t, I8Value(-128), I8Type())
	roundTrip(t, I8Value(127), I8Type())
	roundTrip(t, U16Value(0xFFFF), U16Type())
	roundTrip(t, I16Value(-32768), I16Type())
	roundTrip(t, U64Value(0xFFFFFFFFFFFFFFFF), U64Type())
	roundTrip(t, I64Value(-9223372036854775808), I64Type())

	// 2^128 - 1
	roundTrip(t, U128Value(U128{Lo: 0xFFFFFFFFFFFFFFFF, Hi: 0xFFFFFFFFFFFFFFFF}), U128Type())
	// -2^127
	roundTrip(t, I128Value(I128{Lo: 0, Hi: -9223372036854775808}), I128Type())

	var u256 U256
	for i := range u256 {
		u256[i] = byte(i)
	}
	roundTrip(t, U256Value(u256), U256Type())
	roundTrip(t, I256Value(I256(u256)), I256Type())
}

func TestFloatRoundTrip(t *testing.T) {
	roundTrip(t, F32Value(3.5), F32Type())
	roundTrip(t, F32Value(-0.0), F32Type())
	roundTrip(t, F64Value(1e300), F64Type())
	roundTrip(t, F64Value(-2.2250738585072014e-308), F64Type())
}

func TestStringBytesBoolRoundTrip(t *testing.T) {
	roundTrip(t, StringValue("subscriptions"), StringType())
	roundTrip(t, BytesValue([]byte{0, 1, 2, 255}), BytesType())
	roundTrip(t, BoolValue(true), BoolType())
	roundTrip(t, BoolValue(false), BoolType())
}

func TestOptionEncoding(t *testing.T) {
	optionType := OptionType(U64Type())

	some := SomeValue(U64Value(42))
	e := NewEncoder()
	err := e.EncodeValue(&some)
	assert.Equal(t, err, nil)
	assert.Equal(t, e.Take(), []byte{0x00, 0x2A, 0, 0, 0, 0, 0, 0, 0})

	none := NoneValue()
	e = NewEncoder()
	err = e.EncodeValue(&none)
	assert.Equal(t, err, nil)
	assert.Equal(t, e.Take(), []byte{0x01})

	roundTrip(t, some, optionType)
	roundTrip(t, none, optionType)
}

func TestProductIsFieldConcat(t *testing.T) {
	productType := ProductType(
		NamedColumn("id", U32Type()),
		NamedColumn("name", StringType()),
	)
	product := ProductValue(
		NamedField("id", U32Value(7)),
		NamedField("name", StringValue("ok")),
	)

	e := NewEncoder()
	err := e.EncodeValue(&product)
	assert.Equal(t, err, nil)
	productBytes := e.Take()

	e = NewEncoder()
	e.AppendU32(7)
	e.AppendString("ok")
	assert.Equal(t, productBytes, e.Take())

	roundTrip(t, product, productType)
}

func TestSumRoundTrip(t *testing.T) {
	sumType := SumType(
		NamedColumn("a", U32Type()),
		NamedColumn("b", StringType()),
	)
	roundTrip(t, SumVariant(0, U32Value(9)), sumType)
	roundTrip(t, SumVariant(1, StringValue("variant")), sumType)
}

func TestNestedCompositeRoundTrip(t *testing.T) {
	rowType := ProductType(
		NamedColumn("tags", ArrayType(StringType())),
		NamedColumn("score", OptionType(F64Type())),
		NamedColumn("state", SumType(
			NamedColumn("active", BoolType()),
			NamedColumn("banned", StringType()),
		)),
	)
	value := ProductValue(
		NamedField("tags", ArrayValue(StringValue("x"), StringValue("y"))),
		NamedField("score", SomeValue(F64Value(0.5))),
		NamedField("state", SumVariant(1, StringValue("abuse"))),
	)
	roundTrip(t, value, rowType)
}

func TestDecodeErrors(t *testing.T) {
	_, err := NewDecoder([]byte{}).U32()
	assert.Equal(t, err, ErrBufferTooShort)

	_, err = NewDecoder([]byte{2}).Bool()
	assert.Equal(t, err, ErrInvalidBool)

	_, err = NewDecoder([]byte{3}).DecodeValue(OptionType(U8Type()))
	assert.Equal(t, err, ErrInvalidOptionTag)

	sumType := SumType(NamedColumn("only", U8Type()))
	_, err = NewDecoder([]byte{1, 0}).DecodeValue(sumType)
	assert.Equal(t, err, ErrInvalidSumTag)

	// length prefix larger than the remaining bytes
	_, err = NewDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF, 1}).String()
	assert.Equal(t, err, ErrBufferTooShort)
}

func TestEncoderTake(t *testing.T) {
	e := NewEncoder()
	e.AppendU8(1)
	b := e.Take()
	assert.Equal(t, b, []byte{1})
	assert.Equal(t, e.Len(), 0)
}
