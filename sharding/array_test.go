package sharding

import (
	"testing"

	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/shapes"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iotaTensor(dims ...int) *tensors.Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}
	data := make([]float32, size)
	for ii := range data {
		data[ii] = float32(ii)
	}
	return tensors.FromFlatDataAndDimensions(data, dims...)
}

func TestFromTensorAndAssemble(t *testing.T) {
	mesh := NewMesh([]string{"x", "y"}, []int{2, 2})
	s, err := NewNamedSharding(mesh, PartitionSpec{"x", "y"})
	require.NoError(t, err)

	global := iotaTensor(4, 4)
	arr, err := FromTensor(global, s)
	require.NoError(t, err)
	require.Len(t, arr.Shards(), 4)

	// The first shard holds the top-left 2x2 block.
	first := arr.Shards()[0]
	assert.Equal(t, []float32{0, 1, 4, 5}, tensors.FlatData[float32](first.Data))

	// Assembling gathers the original array back bit-exactly.
	assert.True(t, global.Equal(arr.AssembleTensor()))
}

func TestNewArrayValidation(t *testing.T) {
	mesh := NewMesh([]string{"x"}, []int{2})
	s, err := NewNamedSharding(mesh, PartitionSpec{"x"})
	require.NoError(t, err)
	shape := shapes.Make(dtypes.Float32, 4, 2)

	good := []Shard{
		{Coords: []int{0, 0}, Origin: []int{0, 0}, Data: iotaTensor(2, 2)},
		{Coords: []int{1, 0}, Origin: []int{2, 0}, Data: iotaTensor(2, 2)},
	}
	arr, err := NewArray(shape, s, good)
	require.NoError(t, err)
	assert.Equal(t, 2, len(arr.Shards()))

	// Missing shard.
	_, err = NewArray(shape, s, good[:1])
	require.Error(t, err)

	// Duplicate coordinates instead of a full cover.
	dup := []Shard{good[0], good[0]}
	_, err = NewArray(shape, s, dup)
	require.Error(t, err)

	// Wrong shard shape.
	bad := []Shard{
		good[0],
		{Coords: []int{1, 0}, Origin: []int{2, 0}, Data: iotaTensor(2, 1)},
	}
	_, err = NewArray(shape, s, bad)
	require.Error(t, err)

	_, err = NewArray(shape, nil, good)
	require.Error(t, err)
}

func TestNewArrayReordersShards(t *testing.T) {
	mesh := NewMesh([]string{"x"}, []int{2})
	s, err := NewNamedSharding(mesh, PartitionSpec{"x"})
	require.NoError(t, err)
	shape := shapes.Make(dtypes.Float32, 4, 2)

	top := tensors.FromFlatDataAndDimensions([]float32{0, 1, 2, 3}, 2, 2)
	bottom := tensors.FromFlatDataAndDimensions([]float32{4, 5, 6, 7}, 2, 2)
	// Shards given out of grid order.
	arr, err := NewArray(shape, s, []Shard{
		{Coords: []int{1, 0}, Origin: []int{2, 0}, Data: bottom},
		{Coords: []int{0, 0}, Origin: []int{0, 0}, Data: top},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, arr.Shards()[0].Coords)
	want := tensors.FromFlatDataAndDimensions([]float32{0, 1, 2, 3, 4, 5, 6, 7}, 4, 2)
	assert.True(t, want.Equal(arr.AssembleTensor()))
}

func TestGlobalArray(t *testing.T) {
	mesh := NewMesh([]string{"x"}, []int{2})
	s, err := NewNamedSharding(mesh, PartitionSpec{"x"})
	require.NoError(t, err)
	arr, err := FromTensor(iotaTensor(4, 4), s)
	require.NoError(t, err)

	legacy := NewGlobalArray(arr)
	assert.True(t, legacy.Equal(arr))
}
