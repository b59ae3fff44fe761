// Package dtypes enumerates the element types supported for checkpointed
// values, and implements conversions ("casts") between them.
//
// A DType names the unit element type of a tensor. Its canonical lowercase
// name (e.g. "float32", "bfloat16") is what gets embedded in storage spec
// documents, so names must round-trip through FromName.
//
// Go float16 support uses the github.com/x448/float16 implementation, and
// bfloat16 a simple implementation in github.com/mehdiataei/orbax/types/bfloat16.
package dtypes

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/mehdiataei/orbax/types/bfloat16"
	"github.com/x448/float16"
)

// DType indicates the type of the unit element of a tensor.
type DType int32

const (
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	BFloat16
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Bool:     "bool",
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	Uint8:    "uint8",
	Uint16:   "uint16",
	Uint32:   "uint32",
	Uint64:   "uint64",
	Float16:  "float16",
	BFloat16: "bfloat16",
	Float32:  "float32",
	Float64:  "float64",
}

// String returns the canonical lowercase name of the dtype, the same name used
// in storage spec documents.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "invalid"
}

// FromName converts a canonical dtype name (as stored in spec documents) back
// to a DType. It returns InvalidDType and false for unknown names.
func FromName(name string) (DType, bool) {
	for dtype, dtypeName := range dtypeNames {
		if dtypeName == name {
			return dtype, true
		}
	}
	return InvalidDType, false
}

// Size returns the number of bytes used to store one element of the dtype.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16, BFloat16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	exceptions.Panicf("dtypes: Size() called on invalid DType(%d)", dtype)
	return 0
}

// Memory is an alias to Size returning uintptr, for shape size arithmetic.
func (dtype DType) Memory() uintptr { return uintptr(dtype.Size()) }

// IsFloat returns whether the dtype is a floating point type, including the
// 16-bit variants.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == BFloat16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether the dtype is a signed or unsigned integer type.
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// IsSupported returns whether the dtype is one of the enumerated valid dtypes.
func (dtype DType) IsSupported() bool {
	_, found := dtypeNames[dtype]
	return found
}

// Supported lists the Go types that map 1:1 to a DType. Used as a generics
// constraint by the tensors package. Notice plain `int` is stored as int64.
type Supported interface {
	bool | int | int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float16.Float16 | bfloat16.BFloat16 | float32 | float64
}

// FromGenericsType returns the DType corresponding to the Go type parameter.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromGoType(reflect.TypeOf(t))
}

var (
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))
)

// FromGoType returns the DType that stores values of the given Go type, or
// InvalidDType if the type is not supported. Plain `int` maps to Int64.
func FromGoType(t reflect.Type) DType {
	switch t {
	case float16Type:
		return Float16
	case bfloat16Type:
		return BFloat16
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return Int8
	case reflect.Int16:
		return Int16
	case reflect.Int32:
		return Int32
	case reflect.Int, reflect.Int64:
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Uint16:
		return Uint16
	case reflect.Uint32:
		return Uint32
	case reflect.Uint64:
		return Uint64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	}
	return InvalidDType
}

// GoType returns the Go type used to manipulate values of the dtype.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Bool:
		return reflect.TypeOf(false)
	case Int8:
		return reflect.TypeOf(int8(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Uint64:
		return reflect.TypeOf(uint64(0))
	case Float16:
		return float16Type
	case BFloat16:
		return bfloat16Type
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	}
	return nil
}
