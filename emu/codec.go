// Package emu provides functional emulation of lifted IL.
package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/emilator/il"
)

func byteOrder(order il.Endianness) binary.ByteOrder {
	if order == il.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// CheckWidth returns an UnsupportedWidthError unless size is 1, 2, 4 or 8.
func CheckWidth(size int) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	default:
		return &UnsupportedWidthError{Size: size}
	}
}

// Mask truncates v to size bytes. Sizes of 8 or more leave v unchanged.
func Mask(v uint64, size int) uint64 {
	if size >= 8 || size <= 0 {
		return v
	}
	return v & (1<<(uint(size)*8) - 1)
}

// Encode packs the low size bytes of v in the given byte order.
func Encode(v uint64, size int, order il.Endianness) ([]byte, error) {
	if err := CheckWidth(size); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	bo := byteOrder(order)

	switch size {
	case 1:
		buf[0] = uint8(v)
	case 2:
		bo.PutUint16(buf, uint16(v))
	case 4:
		bo.PutUint32(buf, uint32(v))
	case 8:
		bo.PutUint64(buf, v)
	}

	return buf, nil
}

// Decode unpacks the first size bytes of b in the given byte order.
func Decode(b []byte, size int, order il.Endianness) (uint64, error) {
	if err := CheckWidth(size); err != nil {
		return 0, err
	}

	if len(b) < size {
		return 0, fmt.Errorf("%w: %d < %d bytes", ErrShortBuffer, len(b), size)
	}

	bo := byteOrder(order)

	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(bo.Uint16(b)), nil
	case 4:
		return uint64(bo.Uint32(b)), nil
	default:
		return bo.Uint64(b), nil
	}
}

// SignExtend interprets the low size bytes of v as a two's complement value.
func SignExtend(v uint64, size int) int64 {
	switch size {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}
