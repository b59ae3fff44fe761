package dtypes

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/mehdiataei/orbax/types/bfloat16"
	"github.com/stretchr/testify/require"
)

func int32Bytes(values ...int32) []byte {
	data := make([]byte, 4*len(values))
	for ii, v := range values {
		binary.LittleEndian.PutUint32(data[ii*4:], uint32(v))
	}
	return data
}

func float32Bytes(values ...float32) []byte {
	data := make([]byte, 4*len(values))
	for ii, v := range values {
		binary.LittleEndian.PutUint32(data[ii*4:], math.Float32bits(v))
	}
	return data
}

func TestConvertSliceSameDType(t *testing.T) {
	src := int32Bytes(1, 2, 3)
	dst, err := ConvertSlice(src, Int32, Int32)
	require.NoError(t, err)
	require.Equal(t, src, dst)
	// It copies, never aliases.
	dst[0] = 0xFF
	require.NotEqual(t, src[0], dst[0])
}

func TestConvertSliceIntWidening(t *testing.T) {
	dst, err := ConvertSlice(int32Bytes(1, -2, 300), Int32, Int64)
	require.NoError(t, err)
	require.Len(t, dst, 24)
	require.Equal(t, int64(1), int64(binary.LittleEndian.Uint64(dst[0:])))
	require.Equal(t, int64(-2), int64(binary.LittleEndian.Uint64(dst[8:])))
	require.Equal(t, int64(300), int64(binary.LittleEndian.Uint64(dst[16:])))
}

func TestConvertSliceFloatToBFloat16(t *testing.T) {
	// Small integers are exactly representable in bfloat16.
	src := float32Bytes(1, 2, 3, -4)
	dst, err := ConvertSlice(src, Float32, BFloat16)
	require.NoError(t, err)
	require.Len(t, dst, 8)
	for ii, want := range []float32{1, 2, 3, -4} {
		got := bfloat16.FromBits(binary.LittleEndian.Uint16(dst[ii*2:])).Float32()
		require.Equal(t, want, got)
	}

	// And back.
	back, err := ConvertSlice(dst, BFloat16, Float32)
	require.NoError(t, err)
	require.Equal(t, src, back)
}

func TestConvertSliceBoolFails(t *testing.T) {
	_, err := ConvertSlice([]byte{1}, Bool, Int32)
	require.Error(t, err)
	_, err = ConvertSlice(int32Bytes(1), Int32, Bool)
	require.Error(t, err)
}
