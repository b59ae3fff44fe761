// Package nd implements region copies between row-major n-dimensional
// buffers. It is what the storage drivers use to split tensors into chunks and
// to assemble chunks (or shards) back into full arrays.
package nd

// Strides returns the byte stride of each axis for a row-major layout of the
// given shape with elemSize-byte elements.
func Strides(shape []int, elemSize int) []int {
	strides := make([]int, len(shape))
	stride := elemSize
	for axis := len(shape) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= shape[axis]
	}
	return strides
}

// Offset returns the byte offset of the element at coords.
func Offset(strides, coords []int) int {
	offset := 0
	for axis, c := range coords {
		offset += c * strides[axis]
	}
	return offset
}

// Copy copies a `region`-shaped block from src (shape srcShape, starting at
// srcOrigin) into dst (shape dstShape, starting at dstOrigin). Both buffers
// are row-major with elemSize-byte elements. Rank 0 copies a single element.
//
// The region must fit within both shapes at the given origins; it panics on
// out-of-range slices like a plain copy would.
func Copy(dst []byte, dstShape, dstOrigin []int, src []byte, srcShape, srcOrigin, region []int, elemSize int) {
	rank := len(region)
	if rank == 0 {
		copy(dst[:elemSize], src[:elemSize])
		return
	}
	dstStrides := Strides(dstShape, elemSize)
	srcStrides := Strides(srcShape, elemSize)
	rowBytes := region[rank-1] * elemSize

	var recurse func(axis, dstOff, srcOff int)
	recurse = func(axis, dstOff, srcOff int) {
		if axis == rank-1 {
			copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
			return
		}
		for ii := 0; ii < region[axis]; ii++ {
			recurse(axis+1, dstOff+ii*dstStrides[axis], srcOff+ii*srcStrides[axis])
		}
	}
	recurse(0, Offset(dstStrides, dstOrigin), Offset(srcStrides, srcOrigin))
}
