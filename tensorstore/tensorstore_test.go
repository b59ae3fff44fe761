package tensorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mehdiataei/orbax/sharding"
	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/futures"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iotaTensor(t *testing.T, dtype dtypes.DType, dims ...int) *tensors.Tensor {
	t.Helper()
	size := 1
	for _, d := range dims {
		size *= d
	}
	data := make([]float32, size)
	for ii := range data {
		data[ii] = float32(ii)
	}
	value := tensors.FromFlatDataAndDimensions(data, dims...)
	if dtype == dtypes.Float32 {
		return value
	}
	converted, err := castTensor(value, dtype)
	require.NoError(t, err)
	return converted
}

func gzipSpec(path string, dtype dtypes.DType, shape, chunks []int) *Spec {
	spec := SpecForPath(path)
	spec.DType = dtype.String()
	spec.Metadata = &Metadata{
		Shape:      shape,
		Chunks:     chunks,
		Compressor: &Compressor{ID: "gzip"},
	}
	return spec
}

func TestCreateWriteRead(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "arr")
	spec := gzipSpec(dir, dtypes.Float32, []int{4, 4}, []int{2, 2})

	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, store.DType())
	assert.Equal(t, []int{4, 4}, store.Shape())
	assert.Equal(t, []int{2, 2}, store.ChunkShape())

	value := iotaTensor(t, dtypes.Float32, 4, 4)
	handle, err := store.Write(ctx, value)
	require.NoError(t, err)

	// The data-copy phase finishes before Write returns.
	select {
	case <-handle.CopyDone.Done():
	default:
		t.Fatal("CopyDone was not resolved at Write return")
	}
	require.NoError(t, handle.Commit.Await(ctx))

	// One file per chunk plus the metadata.
	for _, name := range []string{"metadata.json", "0.0", "0.1", "1.0", "1.1"} {
		_, err = os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, "missing %s", name)
	}

	// A fresh handle opened with the writer's spec reads the value back.
	store2, err := Open(ctx, SpecForPath(dir), OpenOptions{Open: true})
	require.NoError(t, err)
	got, err := store2.Read(ctx)
	require.NoError(t, err)
	assert.True(t, value.Equal(got))
}

func TestValueBufferReusableAfterWrite(t *testing.T) {
	ctx := context.Background()
	spec := gzipSpec(filepath.Join(t.TempDir(), "arr"), dtypes.Float32, []int{2, 2}, []int{2, 2})
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	value := iotaTensor(t, dtypes.Float32, 2, 2)
	original := value.Clone()
	handle, err := store.Write(ctx, value)
	require.NoError(t, err)

	// Clobber the caller's buffer after Write returned: the commit must not
	// see it.
	for ii := range value.MutableBytes() {
		value.MutableBytes()[ii] = 0xFF
	}
	require.NoError(t, handle.Commit.Await(ctx))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, original.Equal(got))
}

func TestScalarStore(t *testing.T) {
	ctx := context.Background()
	spec := gzipSpec(filepath.Join(t.TempDir(), "scalar"), dtypes.Int64, nil, nil)
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	value := tensors.FromScalar(int64(42))
	handle, err := store.Write(ctx, value)
	require.NoError(t, err)
	require.NoError(t, handle.Commit.Await(ctx))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsScalar())
	assert.Equal(t, int64(42), tensors.ToScalar[int64](got))
}

func TestEdgeChunksAreClipped(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "arr")
	spec := gzipSpec(dir, dtypes.Float32, []int{5}, []int{2})
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	value := iotaTensor(t, dtypes.Float32, 5)
	handle, err := store.Write(ctx, value)
	require.NoError(t, err)
	require.NoError(t, handle.Commit.Await(ctx))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, value.Equal(got))
}

func TestWriteValidation(t *testing.T) {
	ctx := context.Background()
	spec := gzipSpec(filepath.Join(t.TempDir(), "arr"), dtypes.Float32, []int{4, 4}, []int{2, 2})
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	// Shape mismatch.
	_, err = store.Write(ctx, iotaTensor(t, dtypes.Float32, 2, 2))
	require.Error(t, err)
	// DType mismatch.
	_, err = store.Write(ctx, iotaTensor(t, dtypes.Float64, 4, 4))
	require.Error(t, err)
}

func TestWriteChunk(t *testing.T) {
	ctx := context.Background()
	spec := gzipSpec(filepath.Join(t.TempDir(), "arr"), dtypes.Float32, []int{4, 4}, []int{2, 2})
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	// Write the four chunks independently, as four workers would.
	full := iotaTensor(t, dtypes.Float32, 4, 4)
	var commits []*futures.Future
	chunkFor := func(origin []int) *tensors.Tensor {
		data := make([]float32, 4)
		flat := tensors.FlatData[float32](full)
		idx := 0
		for r := origin[0]; r < origin[0]+2; r++ {
			for c := origin[1]; c < origin[1]+2; c++ {
				data[idx] = flat[r*4+c]
				idx++
			}
		}
		return tensors.FromFlatDataAndDimensions(data, 2, 2)
	}
	for _, origin := range [][]int{{0, 0}, {0, 2}, {2, 0}, {2, 2}} {
		handle, err := store.WriteChunk(ctx, origin, chunkFor(origin))
		require.NoError(t, err)
		commits = append(commits, handle.Commit)
	}
	require.NoError(t, futures.AwaitAll(ctx, commits...))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, full.Equal(got))
}

func TestWriteChunkAlignment(t *testing.T) {
	ctx := context.Background()
	spec := gzipSpec(filepath.Join(t.TempDir(), "arr"), dtypes.Float32, []int{4, 4}, []int{2, 2})
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	// Unaligned origin.
	_, err = store.WriteChunk(ctx, []int{1, 0}, iotaTensor(t, dtypes.Float32, 2, 2))
	require.Error(t, err)
	// Wrong chunk shape.
	_, err = store.WriteChunk(ctx, []int{0, 0}, iotaTensor(t, dtypes.Float32, 2, 3))
	require.Error(t, err)
	// Wrong rank.
	_, err = store.WriteChunk(ctx, []int{0}, iotaTensor(t, dtypes.Float32, 2, 2))
	require.Error(t, err)
}

func TestReadSlice(t *testing.T) {
	ctx := context.Background()
	spec := gzipSpec(filepath.Join(t.TempDir(), "arr"), dtypes.Float32, []int{4, 4}, []int{2, 2})
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	full := iotaTensor(t, dtypes.Float32, 4, 4)
	handle, err := store.Write(ctx, full)
	require.NoError(t, err)
	require.NoError(t, handle.Commit.Await(ctx))

	// A slice crossing all four chunk boundaries.
	got, err := store.ReadSlice(ctx, []int{1, 1}, []int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 9, 10}, tensors.FlatData[float32](got))

	// Out of bounds.
	_, err = store.ReadSlice(ctx, []int{3, 3}, []int{2, 2})
	require.Error(t, err)
	_, err = store.ReadSlice(ctx, []int{-1, 0}, []int{2, 2})
	require.Error(t, err)
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "arr")

	_, err := Open(ctx, nil, OpenOptions{Open: true})
	require.Error(t, err)

	_, err = Open(ctx, SpecForPath(dir), OpenOptions{})
	require.Error(t, err) // Neither Create nor Open.

	_, err = Open(ctx, &Spec{Driver: "s3"}, OpenOptions{Open: true})
	require.Error(t, err) // Unknown driver.

	_, err = Open(ctx, SpecForPath(dir), OpenOptions{Open: true})
	require.Error(t, err) // Doesn't exist.

	_, err = Open(ctx, SpecForPath(dir), OpenOptions{Create: true})
	require.Error(t, err) // Create without metadata.
}

func TestReopenConflicts(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "arr")
	spec := gzipSpec(dir, dtypes.Float32, []int{4}, []int{4})
	_, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)

	// Conflicting dtype on reopen.
	conflict := gzipSpec(dir, dtypes.Int32, []int{4}, []int{4})
	_, err = Open(ctx, conflict, OpenOptions{Open: true})
	require.Error(t, err)

	// Conflicting shape on reopen.
	conflict = gzipSpec(dir, dtypes.Float32, []int{8}, []int{4})
	_, err = Open(ctx, conflict, OpenOptions{Open: true})
	require.Error(t, err)

	// Create+Open on an existing compatible store reuses it.
	store, err := Open(ctx, spec, OpenOptions{Create: true, Open: true})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, store.Shape())
}

func TestCastDriver(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "arr")

	// Outer float32, stored as bfloat16.
	inner := gzipSpec(dir, dtypes.BFloat16, []int{4, 4}, []int{2, 2})
	spec := &Spec{Driver: CastDriver, DType: dtypes.Float32.String(), Base: inner}
	store, err := Open(ctx, spec, OpenOptions{Create: true})
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, store.DType())

	value := iotaTensor(t, dtypes.Float32, 4, 4)
	handle, err := store.Write(ctx, value)
	require.NoError(t, err)
	require.NoError(t, handle.Commit.Await(ctx))

	// The raw store holds bfloat16.
	raw, err := Open(ctx, SpecForPath(dir), OpenOptions{Open: true})
	require.NoError(t, err)
	assert.Equal(t, dtypes.BFloat16, raw.DType())
	got, err := raw.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, dtypes.BFloat16, got.DType())

	// Reading through the cast spec converts back; iota values are exactly
	// representable in bfloat16.
	got, err = store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, value.Equal(got))
}

func TestCastDriverValidation(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, &Spec{Driver: CastDriver, DType: "float32"}, OpenOptions{Open: true})
	require.Error(t, err) // No base.
	_, err = Open(ctx, &Spec{Driver: CastDriver, Base: SpecForPath("x")}, OpenOptions{Open: true})
	require.Error(t, err) // No dtype.
}

func TestDistributedWriteRead(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "arr")
	mesh := sharding.NewMesh([]string{"x", "y"}, []int{2, 2})
	shardedBy, err := sharding.NewNamedSharding(mesh, sharding.PartitionSpec{"x", "y"})
	require.NoError(t, err)

	global := iotaTensor(t, dtypes.Float32, 4, 4)
	arr, err := sharding.FromTensor(global, shardedBy)
	require.NoError(t, err)

	spec := gzipSpec(dir, dtypes.Float32, []int{4, 4}, []int{2, 2})
	commits, err := DistributedWrite(ctx, arr, spec, nil)
	require.NoError(t, err)
	require.Len(t, commits, 4)
	require.NoError(t, futures.AwaitAll(ctx, commits...))

	// Read back with a different sharding: re-sharding happens through
	// ReadSlice assembly.
	rowsOnly, err := sharding.NewNamedSharding(mesh, sharding.PartitionSpec{"x", ""})
	require.NoError(t, err)
	restored, err := DistributedRead(ctx, rowsOnly, SpecForPath(dir), nil, nil)
	require.NoError(t, err)
	require.Len(t, restored.Shards(), 2)
	assert.True(t, global.Equal(restored.AssembleTensor()))

	// A matching shape override changes nothing.
	restored, err = DistributedRead(ctx, rowsOnly, SpecForPath(dir), []int{4, 4}, nil)
	require.NoError(t, err)
	assert.True(t, global.Equal(restored.AssembleTensor()))

	// Overriding with a different rank fails before any read.
	_, err = DistributedRead(ctx, rowsOnly, SpecForPath(dir), []int{4, 4, 1}, nil)
	require.Error(t, err)
}

func TestDistributedReadShapeOverride(t *testing.T) {
	// The global-shape override materializes a logical shape different from the
	// stored one: smaller shapes restore the leading sub-array, larger shapes
	// zero-fill beyond the stored extent (partial restore).
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "arr")
	mesh := sharding.NewMesh([]string{"x"}, []int{2})
	shardedBy, err := sharding.NewNamedSharding(mesh, sharding.PartitionSpec{"x", ""})
	require.NoError(t, err)

	global := iotaTensor(t, dtypes.Float32, 4, 4)
	arr, err := sharding.FromTensor(global, shardedBy)
	require.NoError(t, err)
	spec := gzipSpec(dir, dtypes.Float32, []int{4, 4}, []int{2, 4})
	commits, err := DistributedWrite(ctx, arr, spec, nil)
	require.NoError(t, err)
	require.NoError(t, futures.AwaitAll(ctx, commits...))

	// Grow to [6, 4]: each of the two row shards is [3, 4], the second one
	// holds stored row 3 followed by two zero rows.
	grown, err := DistributedRead(ctx, shardedBy, SpecForPath(dir), []int{6, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 4}, grown.Shape().Dimensions)
	want := make([]float32, 24)
	for ii := 0; ii < 16; ii++ {
		want[ii] = float32(ii)
	}
	assert.True(t, tensors.FromFlatDataAndDimensions(want, 6, 4).Equal(grown.AssembleTensor()))

	// Shrink to [2, 4]: the leading rows only.
	shrunk, err := DistributedRead(ctx, shardedBy, SpecForPath(dir), []int{2, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, shrunk.Shape().Dimensions)
	assert.True(t, tensors.FromFlatDataAndDimensions([]float32{0, 1, 2, 3, 4, 5, 6, 7}, 2, 4).
		Equal(shrunk.AssembleTensor()))

	// Grow past the stored extent entirely on one shard: with 8 rows the
	// second shard starts at row 4 and is all zeros.
	padded, err := DistributedRead(ctx, shardedBy, SpecForPath(dir), []int{8, 4}, nil)
	require.NoError(t, err)
	shards := padded.Shards()
	require.Len(t, shards, 2)
	assert.Equal(t, make([]byte, 4*4*4), shards[1].Data.ConstBytes())
}
