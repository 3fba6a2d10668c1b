package stdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BSATN: little-endian, length-prefixed binary encoding of algebraic
// values. Integers are native width two's complement, strings and bytes
// carry a u32 length prefix, products concatenate their fields with no
// framing, sums and options lead with a one-byte tag.

var (
	ErrBufferTooShort   = errors.New("bsatn: buffer too short")
	ErrInvalidBool      = errors.New("bsatn: invalid bool byte")
	ErrInvalidOptionTag = errors.New("bsatn: invalid option tag")
	ErrInvalidSumTag    = errors.New("bsatn: invalid sum tag")
	ErrOverflow         = errors.New("bsatn: length overflow")
	ErrInvalidUtf8      = errors.New("bsatn: invalid utf-8")
)

// Encoder is an append-only buffer. Take hands the buffer to the caller
// and resets the encoder.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (self *Encoder) Len() int {
	return len(self.buf)
}

// Take returns the encoded bytes and gives up ownership of them.
func (self *Encoder) Take() []byte {
	b := self.buf
	self.buf = nil
	return b
}

func (self *Encoder) AppendBool(v bool) {
	if v {
		self.buf = append(self.buf, 1)
	} else {
		self.buf = append(self.buf, 0)
	}
}

func (self *Encoder) AppendU8(v uint8) {
	self.buf = append(self.buf, v)
}

func (self *Encoder) AppendU16(v uint16) {
	self.buf = binary.LittleEndian.AppendUint16(self.buf, v)
}

func (self *Encoder) AppendU32(v uint32) {
	self.buf = binary.LittleEndian.AppendUint32(self.buf, v)
}

func (self *Encoder) AppendU64(v uint64) {
	self.buf = binary.LittleEndian.AppendUint64(self.buf, v)
}

func (self *Encoder) AppendU128(v U128) {
	self.AppendU64(v.Lo)
	self.AppendU64(v.Hi)
}

func (self *Encoder) AppendU256(v U256) {
	self.buf = append(self.buf, v[:]...)
}

func (self *Encoder) AppendI8(v int8) {
	self.buf = append(self.buf, uint8(v))
}

func (self *Encoder) AppendI16(v int16) {
	self.AppendU16(uint16(v))
}

func (self *Encoder) AppendI32(v int32) {
	self.AppendU32(uint32(v))
}

func (self *Encoder) AppendI64(v int64) {
	self.AppendU64(uint64(v))
}

func (self *Encoder) AppendI128(v I128) {
	self.AppendU64(v.Lo)
	self.AppendU64(uint64(v.Hi))
}

func (self *Encoder) AppendI256(v I256) {
	self.buf = append(self.buf, v[:]...)
}

func (self *Encoder) AppendF32(v float32) {
	self.AppendU32(math.Float32bits(v))
}

func (self *Encoder) AppendF64(v float64) {
	self.AppendU64(math.Float64bits(v))
}

func (self *Encoder) AppendString(v string) {
	self.AppendU32(uint32(len(v)))
	self.buf = append(self.buf, v...)
}

func (self *Encoder) AppendBytes(v []byte) {
	self.AppendU32(uint32(len(v)))
	self.buf = append(self.buf, v...)
}

// AppendRaw appends bytes with no length prefix.
func (self *Encoder) AppendRaw(v []byte) {
	self.buf = append(self.buf, v...)
}

// EncodeValue appends the encoding of v, dispatching on its runtime tag.
func (self *Encoder) EncodeValue(v *AlgebraicValue) error {
	switch v.Tag {
	case TypeBool:
		self.AppendBool(v.Bool)
	case TypeU8:
		self.AppendU8(v.U8)
	case TypeU16:
		self.AppendU16(v.U16)
	case TypeU32:
		self.AppendU32(v.U32)
	case TypeU64:
		self.AppendU64(v.U64)
	case TypeU128:
		self.AppendU128(v.U128)
	case TypeU256:
		self.AppendU256(v.U256)
	case TypeI8:
		self.AppendI8(v.I8)
	case TypeI16:
		self.AppendI16(v.I16)
	case TypeI32:
		self.AppendI32(v.I32)
	case TypeI64:
		self.AppendI64(v.I64)
	case TypeI128:
		self.AppendI128(v.I128)
	case TypeI256:
		self.AppendI256(v.I256)
	case TypeF32:
		self.AppendF32(v.F32)
	case TypeF64:
		self.AppendF64(v.F64)
	case TypeString:
		self.AppendString(v.Str)
	case TypeBytes:
		self.AppendBytes(v.Bytes)
	case TypeArray:
		self.AppendU32(uint32(len(v.Elements)))
		for i := range v.Elements {
			if err := self.EncodeValue(&v.Elements[i]); err != nil {
				return err
			}
		}
	case TypeOption:
		if v.Present {
			self.AppendU8(0)
			return self.EncodeValue(v.Some)
		}
		self.AppendU8(1)
	case TypeProduct:
		for i := range v.Fields {
			if err := self.EncodeValue(&v.Fields[i].Value); err != nil {
				return err
			}
		}
	case TypeSum:
		self.AppendU8(v.Sum.Tag)
		if v.Sum.Value != nil {
			return self.EncodeValue(v.Sum.Value)
		}
	default:
		return fmt.Errorf("bsatn: cannot encode value tag %s", v.Tag)
	}
	return nil
}

// Decoder is a cursor over a byte slice. Every read advances by exactly
// the bytes consumed. The slice is borrowed, never copied.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (self *Decoder) Remaining() int {
	return len(self.buf) - self.pos
}

func (self *Decoder) take(n int) ([]byte, error) {
	if self.Remaining() < n {
		return nil, ErrBufferTooShort
	}
	b := self.buf[self.pos : self.pos+n]
	self.pos += n
	return b, nil
}

func (self *Decoder) Bool() (bool, error) {
	b, err := self.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

func (self *Decoder) U8() (uint8, error) {
	b, err := self.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (self *Decoder) U16() (uint16, error) {
	b, err := self.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (self *Decoder) U32() (uint32, error) {
	b, err := self.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (self *Decoder) U64() (uint64, error) {
	b, err := self.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (self *Decoder) U128() (U128, error) {
	lo, err := self.U64()
	if err != nil {
		return U128{}, err
	}
	hi, err := self.U64()
	if err != nil {
		return U128{}, err
	}
	return U128{Lo: lo, Hi: hi}, nil
}

func (self *Decoder) U256() (U256, error) {
	b, err := self.take(32)
	if err != nil {
		return U256{}, err
	}
	return U256(b), nil
}

func (self *Decoder) I8() (int8, error) {
	v, err := self.U8()
	return int8(v), err
}

func (self *Decoder) I16() (int16, error) {
	v, err := self.U16()
	return int16(v), err
}

func (self *Decoder) I32() (int32, error) {
	v, err := self.U32()
	return int32(v), err
}

func (self *Decoder) I64() (int64, error) {
	v, err := self.U64()
	return int64(v), err
}

func (self *Decoder) I128() (I128, error) {
	lo, err := self.U64()
	if err != nil {
		return I128{}, err
	}
	hi, err := self.U64()
	if err != nil {
		return I128{}, err
	}
	return I128{Lo: lo, Hi: int64(hi)}, nil
}

func (self *Decoder) I256() (I256, error) {
	b, err := self.take(32)
	if err != nil {
		return I256{}, err
	}
	return I256(b), nil
}

func (self *Decoder) F32() (float32, error) {
	v, err := self.U32()
	return math.Float32frombits(v), err
}

func (self *Decoder) F64() (float64, error) {
	v, err := self.U64()
	return math.Float64frombits(v), err
}

// String returns an owned string. Utf-8 is not validated here; consumers
// that assume utf-8 surface ErrInvalidUtf8 themselves.
func (self *Decoder) String() (string, error) {
	b, err := self.ByteSlice()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ByteSlice reads a u32 length prefix and returns that many bytes,
// borrowed from the underlying buffer.
func (self *Decoder) ByteSlice() ([]byte, error) {
	n, err := self.U32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(self.Remaining()) {
		return nil, ErrBufferTooShort
	}
	return self.take(int(n))
}

// Raw returns n bytes with no prefix, borrowed.
func (self *Decoder) Raw(n int) ([]byte, error) {
	return self.take(n)
}

// DecodeValue decodes one value of type t, recursing through composites.
func (self *Decoder) DecodeValue(t *AlgebraicType) (AlgebraicValue, error) {
	switch t.Tag {
	case TypeBool:
		v, err := self.Bool()
		return BoolValue(v), err
	case TypeU8:
		v, err := self.U8()
		return U8Value(v), err
	case TypeU16:
		v, err := self.U16()
		return U16Value(v), err
	case TypeU32:
		v, err := self.U32()
		return U32Value(v), err
	case TypeU64:
		v, err := self.U64()
		return U64Value(v), err
	case TypeU128:
		v, err := self.U128()
		return U128Value(v), err
	case TypeU256:
		v, err := self.U256()
		return U256Value(v), err
	case TypeI8:
		v, err := self.I8()
		return I8Value(v), err
	case TypeI16:
		v, err := self.I16()
		return I16Value(v), err
	case TypeI32:
		v, err := self.I32()
		return I32Value(v), err
	case TypeI64:
		v, err := self.I64()
		return I64Value(v), err
	case TypeI128:
		v, err := self.I128()
		return I128Value(v), err
	case TypeI256:
		v, err := self.I256()
		return I256Value(v), err
	case TypeF32:
		v, err := self.F32()
		return F32Value(v), err
	case TypeF64:
		v, err := self.F64()
		return F64Value(v), err
	case TypeString:
		v, err := self.String()
		return StringValue(v), err
	case TypeBytes:
		b, err := self.ByteSlice()
		if err != nil {
			return AlgebraicValue{}, err
		}
		owned := make([]byte, len(b))
		copy(owned, b)
		return BytesValue(owned), nil
	case TypeArray:
		count, err := self.U32()
		if err != nil {
			return AlgebraicValue{}, err
		}
		elements := make([]AlgebraicValue, 0, minInt(int(count), self.Remaining()+1))
		for i := uint32(0); i < count; i += 1 {
			element, err := self.DecodeValue(t.Elem)
			if err != nil {
				return AlgebraicValue{}, err
			}
			elements = append(elements, element)
		}
		return AlgebraicValue{Tag: TypeArray, Elements: elements}, nil
	case TypeOption:
		tag, err := self.U8()
		if err != nil {
			return AlgebraicValue{}, err
		}
		switch tag {
		case 0:
			inner, err := self.DecodeValue(t.Elem)
			if err != nil {
				return AlgebraicValue{}, err
			}
			return SomeValue(inner), nil
		case 1:
			return NoneValue(), nil
		default:
			return AlgebraicValue{}, ErrInvalidOptionTag
		}
	case TypeProduct:
		fields := make([]Field, len(t.Columns))
		for i := range t.Columns {
			value, err := self.DecodeValue(t.Columns[i].Type)
			if err != nil {
				return AlgebraicValue{}, err
			}
			fields[i] = Field{
				Name:  t.Columns[i].Name,
				Value: value,
			}
		}
		return AlgebraicValue{Tag: TypeProduct, Fields: fields}, nil
	case TypeSum:
		tag, err := self.U8()
		if err != nil {
			return AlgebraicValue{}, err
		}
		if int(tag) >= len(t.Columns) {
			return AlgebraicValue{}, ErrInvalidSumTag
		}
		inner, err := self.DecodeValue(t.Columns[tag].Type)
		if err != nil {
			return AlgebraicValue{}, err
		}
		return SumVariant(tag, inner), nil
	default:
		return AlgebraicValue{}, fmt.Errorf("bsatn: cannot decode type %s", t.Tag)
	}
}

func minInt(a int, b int) int {
	if a < b {
		return a
	}
	return b
}
