package dtypes

import (
	"encoding/binary"
	"math"

	"github.com/mehdiataei/orbax/types/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ConvertSlice converts a flat little-endian buffer of `from` elements to a
// newly allocated buffer of `to` elements.
//
// Integer-to-integer conversions go through int64 and truncate like a Go type
// conversion would. Any conversion involving a float goes through float64, so
// integers above 2^53 may lose precision -- acceptable for checkpoint casting,
// which in practice means float32 <-> bfloat16/float16 and small-int widening.
// Bool participates in no conversions.
func ConvertSlice(data []byte, from, to DType) ([]byte, error) {
	if !from.IsSupported() || !to.IsSupported() {
		return nil, errors.Errorf("dtypes: cannot convert %s to %s", from, to)
	}
	if from == to {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	if from == Bool || to == Bool {
		return nil, errors.Errorf("dtypes: bool does not support casting (%s to %s)", from, to)
	}
	if len(data)%from.Size() != 0 {
		return nil, errors.Errorf("dtypes: buffer of %d bytes is not a multiple of %s element size %d",
			len(data), from, from.Size())
	}
	n := len(data) / from.Size()
	out := make([]byte, n*to.Size())
	if from.IsInt() && to.IsInt() {
		for ii := 0; ii < n; ii++ {
			putInt(out, ii, to, getInt(data, ii, from))
		}
		return out, nil
	}
	for ii := 0; ii < n; ii++ {
		putFloat(out, ii, to, getFloat(data, ii, from))
	}
	return out, nil
}

func getInt(data []byte, idx int, dtype DType) int64 {
	p := data[idx*dtype.Size():]
	switch dtype {
	case Int8:
		return int64(int8(p[0]))
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(p)))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(p)))
	case Int64:
		return int64(binary.LittleEndian.Uint64(p))
	case Uint8:
		return int64(p[0])
	case Uint16:
		return int64(binary.LittleEndian.Uint16(p))
	case Uint32:
		return int64(binary.LittleEndian.Uint32(p))
	case Uint64:
		return int64(binary.LittleEndian.Uint64(p))
	}
	return 0
}

func putInt(data []byte, idx int, dtype DType, v int64) {
	p := data[idx*dtype.Size():]
	switch dtype {
	case Int8, Uint8:
		p[0] = byte(v)
	case Int16, Uint16:
		binary.LittleEndian.PutUint16(p, uint16(v))
	case Int32, Uint32:
		binary.LittleEndian.PutUint32(p, uint32(v))
	case Int64, Uint64:
		binary.LittleEndian.PutUint64(p, uint64(v))
	}
}

func getFloat(data []byte, idx int, dtype DType) float64 {
	if dtype.IsInt() {
		return float64(getInt(data, idx, dtype))
	}
	p := data[idx*dtype.Size():]
	switch dtype {
	case Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(p)).Float32())
	case BFloat16:
		return bfloat16.FromBits(binary.LittleEndian.Uint16(p)).Float64()
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	return 0
}

func putFloat(data []byte, idx int, dtype DType, v float64) {
	if dtype.IsInt() {
		putInt(data, idx, dtype, int64(v))
		return
	}
	p := data[idx*dtype.Size():]
	switch dtype {
	case Float16:
		binary.LittleEndian.PutUint16(p, float16.Fromfloat32(float32(v)).Bits())
	case BFloat16:
		binary.LittleEndian.PutUint16(p, bfloat16.FromFloat64(v).Bits())
	case Float32:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(p, math.Float64bits(v))
	}
}
