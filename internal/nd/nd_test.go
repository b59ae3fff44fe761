package nd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Strides([]int{2, 3, 4}, 1))
	assert.Equal(t, []int{48, 16, 4}, Strides([]int{2, 3, 4}, 4))
	assert.Empty(t, Strides(nil, 4))
}

func TestOffset(t *testing.T) {
	strides := Strides([]int{2, 3, 4}, 1)
	assert.Equal(t, 0, Offset(strides, []int{0, 0, 0}))
	assert.Equal(t, 23, Offset(strides, []int{1, 2, 3}))
}

func TestCopyRegion2D(t *testing.T) {
	// src is a 3x4 byte matrix, values 0..11.
	src := make([]byte, 12)
	for ii := range src {
		src[ii] = byte(ii)
	}
	// Copy its center 2x2 block into the top-left of a 2x3 destination.
	dst := make([]byte, 6)
	Copy(dst, []int{2, 3}, []int{0, 0}, src, []int{3, 4}, []int{1, 1}, []int{2, 2}, 1)
	require.Equal(t, []byte{5, 6, 0, 9, 10, 0}, dst)
}

func TestCopyRegionElemSize(t *testing.T) {
	// 2x2 matrix of 2-byte elements, take the second column.
	src := []byte{1, 1, 2, 2, 3, 3, 4, 4}
	dst := make([]byte, 4)
	Copy(dst, []int{2, 1}, []int{0, 0}, src, []int{2, 2}, []int{0, 1}, []int{2, 1}, 2)
	require.Equal(t, []byte{2, 2, 4, 4}, dst)
}

func TestCopyRank0(t *testing.T) {
	src := []byte{7, 8, 9, 10}
	dst := make([]byte, 4)
	Copy(dst, nil, nil, src, nil, nil, nil, 4)
	require.Equal(t, src, dst)
}
