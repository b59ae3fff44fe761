package tensorstore

import (
	"context"

	"github.com/mehdiataei/orbax/internal/nd"
	"github.com/mehdiataei/orbax/sharding"
	"github.com/mehdiataei/orbax/types/futures"
	"github.com/mehdiataei/orbax/types/shapes"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
)

// DistributedWrite writes every shard of arr to the store addressed by spec,
// one chunk-aligned write per shard. The shard copies are complete when it
// returns; the returned futures resolve as the per-shard commits finish.
//
// Every worker holding shards of the same logical array may call this
// concurrently with the same spec: shards are disjoint chunks, so the writes
// never conflict, and the store is created idempotently.
func DistributedWrite(ctx context.Context, arr *sharding.Array, spec *Spec, tsCtx *Context) ([]*futures.Future, error) {
	if arr == nil {
		return nil, errors.New("tensorstore.DistributedWrite: nil array")
	}
	store, err := Open(ctx, spec, OpenOptions{Create: true, Open: true, Context: tsCtx})
	if err != nil {
		return nil, err
	}
	shards := arr.Shards()
	commits := make([]*futures.Future, 0, len(shards))
	handles := make([]*WriteHandle, 0, len(shards))
	for _, shard := range shards {
		handle, err := store.WriteChunk(ctx, shard.Origin, shard.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "tensorstore.DistributedWrite: shard at %v", shard.Origin)
		}
		handles = append(handles, handle)
		commits = append(commits, handle.Commit)
	}
	for _, handle := range handles {
		if err := handle.CopyDone.Await(ctx); err != nil {
			return nil, err
		}
	}
	return commits, nil
}

// DistributedRead reads the store addressed by spec into a sharded array
// partitioned by s. The requested sharding need not match the one the array
// was written with: each shard is assembled from whichever chunks it
// intersects. If globalShape is non-nil it overrides the stored shape (the
// ranks must agree): shards are laid out on the requested shape, a smaller
// shape restores the leading sub-array, and regions beyond the stored extent
// read as zeros.
func DistributedRead(ctx context.Context, s *sharding.NamedSharding, spec *Spec, globalShape []int, tsCtx *Context) (*sharding.Array, error) {
	if s == nil {
		return nil, errors.New("tensorstore.DistributedRead: nil sharding")
	}
	store, err := Open(ctx, spec, OpenOptions{Open: true, Context: tsCtx})
	if err != nil {
		return nil, err
	}
	stored := store.Shape()
	shape := stored
	if globalShape != nil {
		if len(globalShape) != len(stored) {
			return nil, errors.Errorf("tensorstore.DistributedRead: requested shape %v and stored shape %v have different ranks",
				globalShape, stored)
		}
		shape = globalShape
	}
	shardSlices, err := s.Shards(shape)
	if err != nil {
		return nil, err
	}
	shards := make([]sharding.Shard, 0, len(shardSlices))
	for _, slice := range shardSlices {
		data, err := readShardSlice(ctx, store, slice.Origin, slice.Shape, stored)
		if err != nil {
			return nil, errors.Wrapf(err, "tensorstore.DistributedRead: shard at %v", slice.Origin)
		}
		shards = append(shards, sharding.Shard{Coords: slice.Coords, Origin: slice.Origin, Data: data})
	}
	return sharding.NewArray(shapes.Make(store.DType(), shape...), s, shards)
}

// readShardSlice reads the dims-shaped region at origin, clipping it to the
// stored extent: the part of the region inside the store is read, the rest is
// zero-filled. A region fully inside the store is a plain ReadSlice.
func readShardSlice(ctx context.Context, store TensorStore, origin, dims, stored []int) (*tensors.Tensor, error) {
	inside := make([]int, len(dims))
	clipped := false
	for axis := range dims {
		inside[axis] = min(dims[axis], stored[axis]-origin[axis])
		if inside[axis] < dims[axis] {
			clipped = true
		}
		if inside[axis] < 0 {
			inside[axis] = 0
		}
	}
	if !clipped {
		return store.ReadSlice(ctx, origin, dims)
	}
	out := tensors.FromShape(shapes.Make(store.DType(), dims...))
	for _, n := range inside {
		if n == 0 {
			// The shard lies entirely beyond the stored extent.
			return out, nil
		}
	}
	part, err := store.ReadSlice(ctx, origin, inside)
	if err != nil {
		return nil, err
	}
	zero := make([]int, len(dims))
	nd.Copy(out.MutableBytes(), dims, zero, part.ConstBytes(), inside, zero, inside, store.DType().Size())
	return out, nil
}
