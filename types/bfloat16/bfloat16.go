// Package bfloat16 implements the "brain float" 16-bit floating point type.
//
// BFloat16 keeps the 8-bit exponent of a float32 and truncates the mantissa to
// 7 bits: conversions to and from float32 are cheap, at the cost of precision.
// It is widely used to store ML model weights, which is the only use this
// package aims to serve -- it is not a full arithmetic implementation.
package bfloat16

import "math"

// BFloat16 represents a 16-bit floating point number with the same exponent
// range as float32.
type BFloat16 uint16

// FromFloat32 converts a float32 to BFloat16, rounding to nearest-even.
func FromFloat32(f float32) BFloat16 {
	bits := math.Float32bits(f)
	if bits&0x7FFFFFFF > 0x7F800000 {
		// NaN: preserve a quiet NaN, make sure the truncated mantissa is not all zeros.
		return BFloat16(bits>>16 | 0x0040)
	}
	// Round to nearest-even on the bit about to be dropped.
	rounding := uint32(0x7FFF) + (bits>>16)&1
	return BFloat16((bits + rounding) >> 16)
}

// FromFloat64 converts a float64 to BFloat16 through float32.
func FromFloat64(f float64) BFloat16 {
	return FromFloat32(float32(f))
}

// Float32 converts back to float32. The conversion is exact.
func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// Float64 converts back to float64. The conversion is exact.
func (b BFloat16) Float64() float64 {
	return float64(b.Float32())
}

// FromBits creates a BFloat16 from its raw bit representation.
func FromBits(bits uint16) BFloat16 { return BFloat16(bits) }

// Bits returns the raw bit representation.
func (b BFloat16) Bits() uint16 { return uint16(b) }
