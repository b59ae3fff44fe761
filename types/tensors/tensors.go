// Package tensors implements Tensor, a host-resident multi-dimensional array.
//
// Tensors are defined by their shape (a dtype and axis dimensions, see the
// shapes package) and their content, stored as a flat little-endian buffer of
// the underlying dtype. A rank-0 tensor holds a single scalar.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape): a tensor of the given shape, filled with zeros.
//   - FromScalar[T](value): a rank-0 tensor holding value.
//   - FromFlatDataAndDimensions[T](data, dimensions...): a tensor with the
//     given dimensions, its flattened values set from data. Example:
//
//     t := tensors.FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // [[1,2], [3,4]]
//
//   - FromAnyValue(value): converts a supported Go scalar (or passes through a
//     Tensor / Device) given as an anonymous `any` value.
//
// Tensors here are plain host buffers: the Device type only marks a value as
// device-resident for dispatch purposes, it shares the same storage.
package tensors

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/mehdiataei/orbax/types/bfloat16"
	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a host-resident multi-dimensional array: a shape plus a flat
// little-endian buffer of its elements, in row-major order.
type Tensor struct {
	shape shapes.Shape
	data  []byte
}

// FromShape returns a Tensor of the given shape filled with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	return &Tensor{shape: shape, data: make([]byte, shape.Memory())}
}

// FromShapeAndBytes returns a Tensor wrapping the given flat little-endian
// buffer. The tensor takes ownership of data.
func FromShapeAndBytes(shape shapes.Shape, data []byte) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("tensors.FromShapeAndBytes: invalid shape %s", shape)
	}
	if len(data) != int(shape.Memory()) {
		return nil, errors.Errorf("tensors.FromShapeAndBytes: shape %s requires %d bytes, got %d",
			shape, shape.Memory(), len(data))
	}
	return &Tensor{shape: shape, data: data}, nil
}

// FromFlatDataAndDimensions returns a Tensor with the given dimensions, its
// flattened content set from data. It panics if len(data) doesn't match the
// dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: shape %s has %d elements, got %d",
			shape, shape.Size(), len(data))
	}
	t := FromShape(shape)
	encodeSlice(t.data, data)
	return t
}

// FromScalar returns a rank-0 Tensor holding the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	t := FromShape(shapes.Scalar[T]())
	encodeSlice(t.data, []T{value})
	return t
}

// FromAnyValue converts a supported Go numeric scalar to a rank-0 Tensor. If
// value is already a *Tensor it is returned unchanged, and a *Device returns
// its local tensor.
func FromAnyValue(value any) (*Tensor, error) {
	switch v := value.(type) {
	case *Tensor:
		return v, nil
	case *Device:
		return v.Local(), nil
	case bool:
		return FromScalar(v), nil
	case int:
		return FromScalar(v), nil
	case int8:
		return FromScalar(v), nil
	case int16:
		return FromScalar(v), nil
	case int32:
		return FromScalar(v), nil
	case int64:
		return FromScalar(v), nil
	case uint8:
		return FromScalar(v), nil
	case uint16:
		return FromScalar(v), nil
	case uint32:
		return FromScalar(v), nil
	case uint64:
		return FromScalar(v), nil
	case float16.Float16:
		return FromScalar(v), nil
	case bfloat16.BFloat16:
		return FromScalar(v), nil
	case float32:
		return FromScalar(v), nil
	case float64:
		return FromScalar(v), nil
	}
	return nil, errors.Errorf("tensors.FromAnyValue: unsupported type %T", value)
}

// Shape of the tensor, including its DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType is a shortcut to Tensor.Shape().DType.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank is a shortcut to Tensor.Shape().Rank().
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar is a shortcut to Tensor.Shape().IsScalar().
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// ConstBytes returns the tensor's flat little-endian buffer. The tensor owns
// the returned slice, don't modify it.
func (t *Tensor) ConstBytes() []byte { return t.data }

// MutableBytes returns the tensor's flat little-endian buffer for in-place
// writes. The tensor still owns the slice.
func (t *Tensor) MutableBytes() []byte { return t.data }

// CloneBytes returns a copy of the tensor's flat little-endian buffer.
func (t *Tensor) CloneBytes() []byte {
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), data: t.CloneBytes()}
}

// Equal compares shape and content bit-exactly.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.shape.Equal(o.shape) && bytes.Equal(t.data, o.data)
}

// String prints the shape and, for tensors of up to 8 elements, the values.
func (t *Tensor) String() string {
	if t.Size() > 8 {
		return fmt.Sprintf("Tensor%s", t.shape)
	}
	parts := make([]string, 0, t.Size())
	for ii := 0; ii < t.Size(); ii++ {
		parts = append(parts, fmt.Sprintf("%v", t.element(ii)))
	}
	return fmt.Sprintf("Tensor%s{%s}", t.shape, strings.Join(parts, ", "))
}

// FlatData returns the flattened content of the tensor as a newly allocated
// slice of T. It panics if T doesn't correspond to the tensor's dtype.
func FlatData[T dtypes.Supported](t *Tensor) []T {
	want := dtypes.FromGenericsType[T]()
	if want != t.DType() {
		exceptions.Panicf("tensors.FlatData[%s] called on tensor of dtype %s", want, t.DType())
	}
	out := make([]T, t.Size())
	decodeSlice(out, t.data)
	return out
}

// ToScalar returns the value of a rank-0 tensor. It panics if the tensor is
// not a scalar or T doesn't correspond to its dtype.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.IsScalar() {
		exceptions.Panicf("tensors.ToScalar called on non-scalar tensor %s", t.shape)
	}
	return FlatData[T](t)[0]
}

// ScalarValue returns the value of a rank-0 tensor as the natural Go type for
// its dtype (int for Int64, float32 for Float32, etc.).
func (t *Tensor) ScalarValue() (any, error) {
	if !t.IsScalar() {
		return nil, errors.Errorf("tensors.ScalarValue called on non-scalar tensor %s", t.shape)
	}
	return t.element(0), nil
}

// element decodes element idx of the flat buffer to its natural Go type.
func (t *Tensor) element(idx int) any {
	p := t.data[idx*t.DType().Size():]
	switch t.DType() {
	case dtypes.Bool:
		return p[0] != 0
	case dtypes.Int8:
		return int8(p[0])
	case dtypes.Int16:
		return int16(binary.LittleEndian.Uint16(p))
	case dtypes.Int32:
		return int32(binary.LittleEndian.Uint32(p))
	case dtypes.Int64:
		return int(binary.LittleEndian.Uint64(p))
	case dtypes.Uint8:
		return p[0]
	case dtypes.Uint16:
		return binary.LittleEndian.Uint16(p)
	case dtypes.Uint32:
		return binary.LittleEndian.Uint32(p)
	case dtypes.Uint64:
		return binary.LittleEndian.Uint64(p)
	case dtypes.Float16:
		return float16.Frombits(binary.LittleEndian.Uint16(p))
	case dtypes.BFloat16:
		return bfloat16.FromBits(binary.LittleEndian.Uint16(p))
	case dtypes.Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(p))
	case dtypes.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	return nil
}

// encodeSlice writes data into dst as flat little-endian elements.
func encodeSlice[T dtypes.Supported](dst []byte, data []T) {
	switch src := any(data).(type) {
	case []bool:
		for ii, v := range src {
			if v {
				dst[ii] = 1
			} else {
				dst[ii] = 0
			}
		}
	case []int:
		for ii, v := range src {
			binary.LittleEndian.PutUint64(dst[ii*8:], uint64(int64(v)))
		}
	case []int8:
		for ii, v := range src {
			dst[ii] = byte(v)
		}
	case []int16:
		for ii, v := range src {
			binary.LittleEndian.PutUint16(dst[ii*2:], uint16(v))
		}
	case []int32:
		for ii, v := range src {
			binary.LittleEndian.PutUint32(dst[ii*4:], uint32(v))
		}
	case []int64:
		for ii, v := range src {
			binary.LittleEndian.PutUint64(dst[ii*8:], uint64(v))
		}
	case []uint8:
		copy(dst, src)
	case []uint16:
		for ii, v := range src {
			binary.LittleEndian.PutUint16(dst[ii*2:], v)
		}
	case []uint32:
		for ii, v := range src {
			binary.LittleEndian.PutUint32(dst[ii*4:], v)
		}
	case []uint64:
		for ii, v := range src {
			binary.LittleEndian.PutUint64(dst[ii*8:], v)
		}
	case []float16.Float16:
		for ii, v := range src {
			binary.LittleEndian.PutUint16(dst[ii*2:], v.Bits())
		}
	case []bfloat16.BFloat16:
		for ii, v := range src {
			binary.LittleEndian.PutUint16(dst[ii*2:], v.Bits())
		}
	case []float32:
		for ii, v := range src {
			binary.LittleEndian.PutUint32(dst[ii*4:], math.Float32bits(v))
		}
	case []float64:
		for ii, v := range src {
			binary.LittleEndian.PutUint64(dst[ii*8:], math.Float64bits(v))
		}
	}
}

// decodeSlice reads flat little-endian elements from src into out.
func decodeSlice[T dtypes.Supported](out []T, src []byte) {
	switch dst := any(out).(type) {
	case []bool:
		for ii := range dst {
			dst[ii] = src[ii] != 0
		}
	case []int:
		for ii := range dst {
			dst[ii] = int(int64(binary.LittleEndian.Uint64(src[ii*8:])))
		}
	case []int8:
		for ii := range dst {
			dst[ii] = int8(src[ii])
		}
	case []int16:
		for ii := range dst {
			dst[ii] = int16(binary.LittleEndian.Uint16(src[ii*2:]))
		}
	case []int32:
		for ii := range dst {
			dst[ii] = int32(binary.LittleEndian.Uint32(src[ii*4:]))
		}
	case []int64:
		for ii := range dst {
			dst[ii] = int64(binary.LittleEndian.Uint64(src[ii*8:]))
		}
	case []uint8:
		copy(dst, src)
	case []uint16:
		for ii := range dst {
			dst[ii] = binary.LittleEndian.Uint16(src[ii*2:])
		}
	case []uint32:
		for ii := range dst {
			dst[ii] = binary.LittleEndian.Uint32(src[ii*4:])
		}
	case []uint64:
		for ii := range dst {
			dst[ii] = binary.LittleEndian.Uint64(src[ii*8:])
		}
	case []float16.Float16:
		for ii := range dst {
			dst[ii] = float16.Frombits(binary.LittleEndian.Uint16(src[ii*2:]))
		}
	case []bfloat16.BFloat16:
		for ii := range dst {
			dst[ii] = bfloat16.FromBits(binary.LittleEndian.Uint16(src[ii*2:]))
		}
	case []float32:
		for ii := range dst {
			dst[ii] = math.Float32frombits(binary.LittleEndian.Uint32(src[ii*4:]))
		}
	case []float64:
		for ii := range dst {
			dst[ii] = math.Float64frombits(binary.LittleEndian.Uint64(src[ii*8:]))
		}
	}
}
