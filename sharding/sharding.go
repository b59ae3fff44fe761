// Package sharding describes how a distributed array is partitioned over a
// mesh of devices, and implements Array, a sharded array whose shards are
// plain host tensors.
//
// A Mesh is a named grid of devices (e.g. axes "data"=2, "model"=4). A
// PartitionSpec assigns a mesh axis name to each array axis ("" leaves the
// axis unpartitioned). The pair forms a NamedSharding, which fully determines
// each worker's shard: its shape, grid coordinates and origin within the
// global array. Shards are always a disjoint cover of the global array --
// that invariant is what lets many workers write one logical array without
// coordination.
package sharding

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Mesh is a logical grid of devices with named axes.
//
// Meshes are immutable once created.
type Mesh struct {
	names []string
	sizes []int
}

// NewMesh creates a mesh with the given axis names and sizes. It panics on
// mismatched lengths, repeated names or non-positive sizes -- those are
// programming errors, not runtime conditions.
func NewMesh(names []string, sizes []int) *Mesh {
	if len(names) != len(sizes) {
		exceptions.Panicf("sharding.NewMesh: %d axis names but %d sizes", len(names), len(sizes))
	}
	for ii, name := range names {
		if name == "" {
			exceptions.Panicf("sharding.NewMesh: axis #%d has an empty name", ii)
		}
		if slices.Index(names, name) != ii {
			exceptions.Panicf("sharding.NewMesh: axis name %q repeated", name)
		}
		if sizes[ii] <= 0 {
			exceptions.Panicf("sharding.NewMesh: axis %q has size %d <= 0", name, sizes[ii])
		}
	}
	return &Mesh{names: slices.Clone(names), sizes: slices.Clone(sizes)}
}

// Rank returns the number of mesh axes.
func (m *Mesh) Rank() int { return len(m.names) }

// AxisNames returns the mesh axis names, in order.
func (m *Mesh) AxisNames() []string { return slices.Clone(m.names) }

// AxisSize returns the size of the named axis, or 0 if the mesh has no such
// axis.
func (m *Mesh) AxisSize(name string) int {
	idx := slices.Index(m.names, name)
	if idx < 0 {
		return 0
	}
	return m.sizes[idx]
}

// NumDevices returns the total number of devices in the mesh.
func (m *Mesh) NumDevices() int {
	n := 1
	for _, size := range m.sizes {
		n *= size
	}
	return n
}

// String implements fmt.Stringer.
func (m *Mesh) String() string {
	parts := make([]string, 0, len(m.names))
	for ii, name := range m.names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, m.sizes[ii]))
	}
	return fmt.Sprintf("Mesh(%s)", strings.Join(parts, ", "))
}

// PartitionSpec assigns a mesh axis name to each array axis. An empty string
// leaves the array axis unpartitioned (replicated over that mesh axis). A spec
// shorter than the array rank leaves the trailing axes unpartitioned.
type PartitionSpec []string

// NamedSharding pairs a mesh with a partition spec: together they determine
// the shard layout of any global shape.
type NamedSharding struct {
	mesh *Mesh
	spec PartitionSpec
}

// NewNamedSharding validates that every non-empty spec entry names a mesh axis
// and that no mesh axis is used twice.
func NewNamedSharding(mesh *Mesh, spec PartitionSpec) (*NamedSharding, error) {
	if mesh == nil {
		return nil, errors.New("sharding.NewNamedSharding: mesh is nil")
	}
	seen := make(map[string]bool, len(spec))
	for axis, name := range spec {
		if name == "" {
			continue
		}
		if mesh.AxisSize(name) == 0 {
			return nil, errors.Errorf("sharding.NewNamedSharding: array axis %d partitioned over unknown mesh axis %q of %s",
				axis, name, mesh)
		}
		if seen[name] {
			return nil, errors.Errorf("sharding.NewNamedSharding: mesh axis %q used for more than one array axis", name)
		}
		seen[name] = true
	}
	return &NamedSharding{mesh: mesh, spec: slices.Clone(spec)}, nil
}

// Mesh returns the device mesh.
func (s *NamedSharding) Mesh() *Mesh { return s.mesh }

// Spec returns the partition spec.
func (s *NamedSharding) Spec() PartitionSpec { return slices.Clone(s.spec) }

// ShardShape returns the per-shard shape for the given global shape. Every
// partitioned dimension must divide evenly by its mesh axis size.
func (s *NamedSharding) ShardShape(global []int) ([]int, error) {
	if len(s.spec) > len(global) {
		return nil, errors.Errorf("sharding: partition spec %v has more axes than global shape %v", s.spec, global)
	}
	shard := slices.Clone(global)
	for axis, name := range s.spec {
		if name == "" {
			continue
		}
		size := s.mesh.AxisSize(name)
		if global[axis]%size != 0 {
			return nil, errors.Errorf("sharding: global dimension %d of axis %d does not divide by mesh axis %q size %d",
				global[axis], axis, name, size)
		}
		shard[axis] = global[axis] / size
	}
	return shard, nil
}

// ShardSlice locates one shard within the global array: its grid coordinates,
// element origin and shape.
type ShardSlice struct {
	Coords []int
	Origin []int
	Shape  []int
}

// Shards enumerates the shard slices of the given global shape, in row-major
// grid order. The slices are a disjoint cover of the global array.
func (s *NamedSharding) Shards(global []int) ([]ShardSlice, error) {
	shardShape, err := s.ShardShape(global)
	if err != nil {
		return nil, err
	}
	grid := make([]int, len(global))
	total := 1
	for axis := range global {
		grid[axis] = global[axis] / shardShape[axis]
		total *= grid[axis]
	}
	shards := make([]ShardSlice, 0, total)
	coords := make([]int, len(global))
	for {
		origin := make([]int, len(global))
		for axis := range coords {
			origin[axis] = coords[axis] * shardShape[axis]
		}
		shards = append(shards, ShardSlice{
			Coords: slices.Clone(coords),
			Origin: origin,
			Shape:  slices.Clone(shardShape),
		})
		// Advance row-major coordinates.
		axis := len(coords) - 1
		for ; axis >= 0; axis-- {
			coords[axis]++
			if coords[axis] < grid[axis] {
				break
			}
			coords[axis] = 0
		}
		if axis < 0 {
			break
		}
	}
	return shards, nil
}

// NumShards returns the number of shards for the given global shape.
func (s *NamedSharding) NumShards(global []int) (int, error) {
	shards, err := s.Shards(global)
	if err != nil {
		return 0, err
	}
	return len(shards), nil
}

// String implements fmt.Stringer.
func (s *NamedSharding) String() string {
	return fmt.Sprintf("NamedSharding(%s, spec=%v)", s.mesh, []string(s.spec))
}
