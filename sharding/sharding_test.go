package sharding

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMesh(t *testing.T) {
	mesh := NewMesh([]string{"data", "model"}, []int{2, 4})
	assert.Equal(t, 2, mesh.Rank())
	assert.Equal(t, 8, mesh.NumDevices())
	assert.Equal(t, 2, mesh.AxisSize("data"))
	assert.Equal(t, 4, mesh.AxisSize("model"))
	assert.Equal(t, 0, mesh.AxisSize("unknown"))

	require.Error(t, exceptions.TryCatch[error](func() {
		NewMesh([]string{"x", "x"}, []int{2, 2})
	}))
	require.Error(t, exceptions.TryCatch[error](func() {
		NewMesh([]string{"x"}, []int{2, 2})
	}))
	require.Error(t, exceptions.TryCatch[error](func() {
		NewMesh([]string{"x"}, []int{0})
	}))
}

func TestNewNamedSharding(t *testing.T) {
	mesh := NewMesh([]string{"x", "y"}, []int{2, 2})

	_, err := NewNamedSharding(mesh, PartitionSpec{"z"})
	require.Error(t, err) // Unknown mesh axis.

	_, err = NewNamedSharding(mesh, PartitionSpec{"x", "x"})
	require.Error(t, err) // Axis reuse.

	_, err = NewNamedSharding(nil, PartitionSpec{"x"})
	require.Error(t, err)

	s, err := NewNamedSharding(mesh, PartitionSpec{"x", ""})
	require.NoError(t, err)
	assert.Equal(t, PartitionSpec{"x", ""}, s.Spec())
}

func TestShardShape(t *testing.T) {
	mesh := NewMesh([]string{"x", "y"}, []int{2, 4})
	s, err := NewNamedSharding(mesh, PartitionSpec{"x", "y"})
	require.NoError(t, err)

	shape, err := s.ShardShape([]int{8, 8})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, shape)

	// Not evenly divisible.
	_, err = s.ShardShape([]int{8, 9})
	require.Error(t, err)

	// A short spec leaves trailing axes unpartitioned.
	s2, err := NewNamedSharding(mesh, PartitionSpec{"y"})
	require.NoError(t, err)
	shape, err = s2.ShardShape([]int{8, 8})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 8}, shape)
}

func TestShards(t *testing.T) {
	mesh := NewMesh([]string{"x", "y"}, []int{2, 2})
	s, err := NewNamedSharding(mesh, PartitionSpec{"x", "y"})
	require.NoError(t, err)

	shards, err := s.Shards([]int{4, 4})
	require.NoError(t, err)
	require.Len(t, shards, 4)
	// Row-major grid order with 2x2 shards.
	assert.Equal(t, []int{0, 0}, shards[0].Coords)
	assert.Equal(t, []int{0, 0}, shards[0].Origin)
	assert.Equal(t, []int{0, 1}, shards[1].Coords)
	assert.Equal(t, []int{0, 2}, shards[1].Origin)
	assert.Equal(t, []int{1, 0}, shards[2].Coords)
	assert.Equal(t, []int{2, 0}, shards[2].Origin)
	assert.Equal(t, []int{1, 1}, shards[3].Coords)
	assert.Equal(t, []int{2, 2}, shards[3].Origin)
	for _, shard := range shards {
		assert.Equal(t, []int{2, 2}, shard.Shape)
	}
}

func TestShardsReplicated(t *testing.T) {
	mesh := NewMesh([]string{"x"}, []int{4})
	s, err := NewNamedSharding(mesh, PartitionSpec{})
	require.NoError(t, err)

	// Fully replicated: a single shard covering the global array.
	shards, err := s.Shards([]int{3, 5})
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Equal(t, []int{3, 5}, shards[0].Shape)
}
