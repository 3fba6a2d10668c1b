package stdb

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RowList is a view over concatenated row payloads for one table. The
// rows data and the offset table alias the received frame; individual
// offsets are read on demand. Decoding and reading a list copy nothing;
// only the builders used for constructing frames allocate.

var ErrUnknownRowSizeHint = errors.New("protocol: unknown row size hint")

type SizeHintTag uint8

const (
	SizeHintFixedStride SizeHintTag = 0
	SizeHintOffsetTable SizeHintTag = 1
)

type RowList struct {
	Hint SizeHintTag

	// fixed stride: every row is Stride bytes
	Stride uint16

	// offset table: OffsetCount row start offsets, kept as the raw
	// little-endian u64 bytes from the frame
	OffsetCount uint32
	Offsets     []byte

	// concatenated row payloads, borrowed from the frame
	RowsData []byte
}

// Count returns the number of rows in the list.
func (self *RowList) Count() int {
	switch self.Hint {
	case SizeHintFixedStride:
		if self.Stride == 0 || len(self.RowsData) == 0 {
			return 0
		}
		return len(self.RowsData) / int(self.Stride)
	case SizeHintOffsetTable:
		return int(self.OffsetCount)
	default:
		return 0
	}
}

func (self *RowList) offset(i int) uint64 {
	return binary.LittleEndian.Uint64(self.Offsets[i*8 : i*8+8])
}

// RowBytes returns row i's payload, borrowed from the frame.
func (self *RowList) RowBytes(i int) ([]byte, error) {
	if i < 0 || self.Count() <= i {
		return nil, fmt.Errorf("row index %d out of range", i)
	}
	switch self.Hint {
	case SizeHintFixedStride:
		start := i * int(self.Stride)
		return self.RowsData[start : start+int(self.Stride)], nil
	case SizeHintOffsetTable:
		start := self.offset(i)
		end := uint64(len(self.RowsData))
		if i+1 < int(self.OffsetCount) {
			end = self.offset(i + 1)
		}
		if uint64(len(self.RowsData)) < end || end < start {
			return nil, ErrBufferTooShort
		}
		return self.RowsData[start:end], nil
	default:
		return nil, ErrUnknownRowSizeHint
	}
}

// decodeRowList reads the size hint sum and the rows data. The returned
// list borrows from the decoder's buffer.
func decodeRowList(d *Decoder) (RowList, error) {
	tag, err := d.U8()
	if err != nil {
		return RowList{}, err
	}
	var list RowList
	switch SizeHintTag(tag) {
	case SizeHintFixedStride:
		list.Hint = SizeHintFixedStride
		stride, err := d.U16()
		if err != nil {
			return RowList{}, err
		}
		list.Stride = stride
	case SizeHintOffsetTable:
		list.Hint = SizeHintOffsetTable
		count, err := d.U32()
		if err != nil {
			return RowList{}, err
		}
		offsets, err := d.Raw(int(count) * 8)
		if err != nil {
			return RowList{}, err
		}
		list.OffsetCount = count
		list.Offsets = offsets
	default:
		return RowList{}, ErrUnknownRowSizeHint
	}
	rowsData, err := d.ByteSlice()
	if err != nil {
		return RowList{}, err
	}
	list.RowsData = rowsData
	return list, nil
}

// encodeRowList is the inverse framing, used when building frames.
func encodeRowList(e *Encoder, list *RowList) {
	e.AppendU8(uint8(list.Hint))
	switch list.Hint {
	case SizeHintFixedStride:
		e.AppendU16(list.Stride)
	case SizeHintOffsetTable:
		e.AppendU32(list.OffsetCount)
		e.AppendRaw(list.Offsets)
	}
	e.AppendBytes(list.RowsData)
}

// FixedStrideRowList builds a fixed-stride list over rows of equal size.
func FixedStrideRowList(stride uint16, rowsData []byte) RowList {
	return RowList{
		Hint:     SizeHintFixedStride,
		Stride:   stride,
		RowsData: rowsData,
	}
}

// OffsetRowList builds an offset-table list from individual row payloads.
func OffsetRowList(rows ...[]byte) RowList {
	offsets := make([]byte, 0, len(rows)*8)
	rowsData := []byte{}
	for _, row := range rows {
		offsets = binary.LittleEndian.AppendUint64(offsets, uint64(len(rowsData)))
		rowsData = append(rowsData, row...)
	}
	return RowList{
		Hint:        SizeHintOffsetTable,
		OffsetCount: uint32(len(rows)),
		Offsets:     offsets,
		RowsData:    rowsData,
	}
}
