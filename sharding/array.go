package sharding

import (
	"fmt"
	"slices"

	"github.com/mehdiataei/orbax/internal/nd"
	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/shapes"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
)

// Shard is the portion of a distributed array owned by one worker: a dense
// tensor plus its location within the global array.
type Shard struct {
	Coords []int
	Origin []int
	Data   *tensors.Tensor
}

// Array is a sharded distributed array: a global shape, the sharding that
// partitions it, and the shards themselves. Shards are always a complete,
// disjoint cover of the global shape -- NewArray enforces it.
type Array struct {
	shape    shapes.Shape
	sharding *NamedSharding
	shards   []Shard
}

// NewArray builds a sharded array, validating that the provided shards are
// exactly the disjoint cover the sharding prescribes for the global shape.
func NewArray(shape shapes.Shape, s *NamedSharding, shards []Shard) (*Array, error) {
	if s == nil {
		return nil, errors.New("sharding.NewArray: sharding is nil")
	}
	expected, err := s.Shards(shape.Dimensions)
	if err != nil {
		return nil, err
	}
	if len(shards) != len(expected) {
		return nil, errors.Errorf("sharding.NewArray: %s with %s requires %d shards, got %d",
			shape, s, len(expected), len(shards))
	}
	byCoords := make(map[string]Shard, len(shards))
	for _, shard := range shards {
		byCoords[fmt.Sprint(shard.Coords)] = shard
	}
	ordered := make([]Shard, 0, len(expected))
	for _, slice := range expected {
		shard, found := byCoords[fmt.Sprint(slice.Coords)]
		if !found {
			return nil, errors.Errorf("sharding.NewArray: missing shard at grid coordinates %v", slice.Coords)
		}
		if shard.Data == nil {
			return nil, errors.Errorf("sharding.NewArray: shard %v has no data", slice.Coords)
		}
		want := shapes.Make(shape.DType, slice.Shape...)
		if !shard.Data.Shape().Equal(want) {
			return nil, errors.Errorf("sharding.NewArray: shard %v has shape %s, want %s",
				slice.Coords, shard.Data.Shape(), want)
		}
		ordered = append(ordered, Shard{
			Coords: slices.Clone(slice.Coords),
			Origin: slices.Clone(slice.Origin),
			Data:   shard.Data,
		})
	}
	return &Array{shape: shape.Clone(), sharding: s, shards: ordered}, nil
}

// FromTensor splits a dense tensor into a sharded array following the given
// sharding. Useful to place a host value onto a mesh.
func FromTensor(t *tensors.Tensor, s *NamedSharding) (*Array, error) {
	if s == nil {
		return nil, errors.New("sharding.FromTensor: sharding is nil")
	}
	slicesList, err := s.Shards(t.Shape().Dimensions)
	if err != nil {
		return nil, err
	}
	elemSize := t.DType().Size()
	global := t.Shape().Dimensions
	shards := make([]Shard, 0, len(slicesList))
	for _, slice := range slicesList {
		data := tensors.FromShape(shapes.Make(t.DType(), slice.Shape...))
		nd.Copy(data.MutableBytes(), slice.Shape, make([]int, len(global)),
			t.ConstBytes(), global, slice.Origin, slice.Shape, elemSize)
		shards = append(shards, Shard{Coords: slice.Coords, Origin: slice.Origin, Data: data})
	}
	return &Array{shape: t.Shape().Clone(), sharding: s, shards: shards}, nil
}

// Shape of the global array, including its DType.
func (a *Array) Shape() shapes.Shape { return a.shape }

// DType is a shortcut to Array.Shape().DType.
func (a *Array) DType() dtypes.DType { return a.shape.DType }

// Sharding returns how the array is partitioned.
func (a *Array) Sharding() *NamedSharding { return a.sharding }

// Shards returns the array's shards in row-major grid order. The array owns
// the returned slice, don't modify it.
func (a *Array) Shards() []Shard { return a.shards }

// AssembleTensor gathers every shard into one dense host tensor.
func (a *Array) AssembleTensor() *tensors.Tensor {
	out := tensors.FromShape(a.shape)
	elemSize := a.DType().Size()
	global := a.shape.Dimensions
	for _, shard := range a.shards {
		shardDims := shard.Data.Shape().Dimensions
		nd.Copy(out.MutableBytes(), global, shard.Origin,
			shard.Data.ConstBytes(), shardDims, make([]int, len(shardDims)), shardDims, elemSize)
	}
	return out
}

// Equal compares global shape and shard contents bit-exactly. Shardings may
// differ in mesh axis names as long as the shard layout matches.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.shape.Equal(b.shape) || len(a.shards) != len(b.shards) {
		return false
	}
	for ii, shard := range a.shards {
		other := b.shards[ii]
		if !slices.Equal(shard.Coords, other.Coords) || !shard.Data.Equal(other.Data) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (a *Array) String() string {
	return fmt.Sprintf("sharding.Array%s{%d shards, %s}", a.shape, len(a.shards), a.sharding)
}

// GlobalArray is the legacy sharded array type, kept so checkpoints written by
// older pipelines keep resolving to the sharded handler. New code should use
// Array.
type GlobalArray struct {
	*Array
}

// NewGlobalArray wraps an Array in the legacy type.
func NewGlobalArray(a *Array) *GlobalArray { return &GlobalArray{Array: a} }
