package tensorstore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/mehdiataei/orbax/internal/nd"
	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/futures"
	"github.com/mehdiataei/orbax/types/shapes"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const metadataFileName = "metadata.json"

// DirPermMode is the directory creation permission (before umask) used for
// new stores.
var DirPermMode = os.FileMode(0770)

// fileMetadata is the on-disk schema of metadata.json, the self-describing
// part of a file-backed store.
type fileMetadata struct {
	Shape      []int       `json:"shape"`
	Chunks     []int       `json:"chunks"`
	DType      string      `json:"dtype"`
	Compressor *Compressor `json:"compressor,omitempty"`
}

// fileStore stores one array as a directory: metadata.json plus one file per
// chunk, named by the chunk's grid coordinates joined by "." ("0" for rank-0
// arrays). Chunk files hold the chunk's region bytes (edge chunks are
// clipped, not padded), gzip-compressed when the metadata says so.
type fileStore struct {
	spec    *Spec
	dir     string
	shape   []int
	chunks  []int
	dtype   dtypes.DType
	gzipped bool
	ioCtx   *Context
}

func openFileStore(ctx context.Context, spec *Spec, opts OpenOptions) (*fileStore, error) {
	if spec.KVStore == nil || spec.KVStore.Driver != FileDriver || spec.KVStore.Path == "" {
		return nil, errors.Errorf("tensorstore: %q driver requires a file kvstore with a path, got %s", ZarrDriver, spec)
	}
	dir := spec.KVStore.Path
	specDType, err := spec.dtype()
	if err != nil {
		return nil, err
	}

	metaPath := filepath.Join(dir, metadataFileName)
	existing, err := readMetadataFile(metaPath)
	if err != nil {
		return nil, err
	}
	store := &fileStore{spec: spec.Clone(), dir: dir, ioCtx: opts.Context}

	if existing == nil {
		if !opts.Create {
			return nil, errors.Errorf("tensorstore: store at %q does not exist and Create was not set", dir)
		}
		if spec.Metadata == nil {
			return nil, errors.Errorf("tensorstore: creating %q requires spec metadata (shape and chunks)", dir)
		}
		if specDType == dtypes.InvalidDType {
			return nil, errors.Errorf("tensorstore: creating %q requires the spec to carry a dtype", dir)
		}
		store.shape = slices.Clone(spec.Metadata.Shape)
		store.chunks = slices.Clone(spec.Metadata.Chunks)
		if len(store.chunks) == 0 {
			store.chunks = slices.Clone(store.shape)
		}
		if len(store.chunks) != len(store.shape) {
			return nil, errors.Errorf("tensorstore: chunk shape %v does not match shape %v rank", store.chunks, store.shape)
		}
		for axis, chunk := range store.chunks {
			if chunk <= 0 {
				return nil, errors.Errorf("tensorstore: chunk dimension %d of axis %d must be positive", chunk, axis)
			}
		}
		store.dtype = specDType
		store.gzipped = spec.Metadata.Compressor != nil && spec.Metadata.Compressor.ID == "gzip"
		if err = store.writeMetadata(ctx, metaPath); err != nil {
			return nil, err
		}
	} else {
		metaDType, found := dtypes.FromName(existing.DType)
		if !found {
			return nil, errors.Errorf("tensorstore: %q has unknown dtype %q in metadata", dir, existing.DType)
		}
		if specDType != dtypes.InvalidDType && specDType != metaDType {
			return nil, errors.Errorf("tensorstore: spec dtype %s conflicts with stored dtype %s at %q",
				specDType, metaDType, dir)
		}
		if spec.Metadata != nil && len(spec.Metadata.Shape) > 0 && !slices.Equal(spec.Metadata.Shape, existing.Shape) {
			return nil, errors.Errorf("tensorstore: spec shape %v conflicts with stored shape %v at %q",
				spec.Metadata.Shape, existing.Shape, dir)
		}
		store.shape = existing.Shape
		store.chunks = existing.Chunks
		store.dtype = metaDType
		store.gzipped = existing.Compressor != nil && existing.Compressor.ID == "gzip"
	}
	return store, nil
}

func readMetadataFile(path string) (*fileMetadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "tensorstore: failed to read %q", path)
	}
	meta := &fileMetadata{}
	if err = json.Unmarshal(data, meta); err != nil {
		return nil, errors.Wrapf(err, "tensorstore: failed to decode %q", path)
	}
	return meta, nil
}

func (s *fileStore) writeMetadata(ctx context.Context, metaPath string) error {
	if err := os.MkdirAll(s.dir, DirPermMode); err != nil {
		return errors.Wrapf(err, "tensorstore: failed to create store directory %q", s.dir)
	}
	meta := &fileMetadata{
		Shape:  s.shape,
		Chunks: s.chunks,
		DType:  s.dtype.String(),
	}
	if s.gzipped {
		meta.Compressor = &Compressor{ID: "gzip"}
	}
	data, err := json.MarshalIndent(meta, "", "\t")
	if err != nil {
		return errors.Wrapf(err, "tensorstore: failed to encode metadata for %q", s.dir)
	}
	if err = s.ioCtx.acquireIO(ctx); err != nil {
		return err
	}
	defer s.ioCtx.releaseIO()
	// Multiple workers may create the same store concurrently; they write
	// identical metadata, so last-rename-wins is harmless.
	tmpPath := metaPath + ".tmp"
	if err = os.WriteFile(tmpPath, data, 0660); err != nil {
		return errors.Wrapf(err, "tensorstore: failed to write %q", tmpPath)
	}
	if err = os.Rename(tmpPath, metaPath); err != nil {
		return errors.Wrapf(err, "tensorstore: failed to finalize %q", metaPath)
	}
	klog.V(1).Infof("tensorstore: opened %q (shape=%v, chunks=%v, dtype=%s)", s.dir, s.shape, s.chunks, s.dtype)
	return nil
}

func (s *fileStore) Spec() *Spec {
	spec := s.spec.Clone()
	spec.DType = s.dtype.String()
	spec.Metadata = &Metadata{Shape: slices.Clone(s.shape), Chunks: slices.Clone(s.chunks)}
	if s.gzipped {
		spec.Metadata.Compressor = &Compressor{ID: "gzip"}
	}
	return spec
}

func (s *fileStore) DType() dtypes.DType { return s.dtype }
func (s *fileStore) Shape() []int        { return slices.Clone(s.shape) }
func (s *fileStore) ChunkShape() []int   { return slices.Clone(s.chunks) }

// chunkFileName returns the file name of the chunk at grid coords.
func chunkFileName(coords []int) string {
	if len(coords) == 0 {
		return "0"
	}
	parts := make([]string, len(coords))
	for ii, c := range coords {
		parts[ii] = strconv.Itoa(c)
	}
	return strings.Join(parts, ".")
}

// chunkRegion returns the origin and (edge-clipped) dimensions of the chunk
// at grid coords.
func (s *fileStore) chunkRegion(coords []int) (origin, dims []int) {
	origin = make([]int, len(coords))
	dims = make([]int, len(coords))
	for axis, c := range coords {
		origin[axis] = c * s.chunks[axis]
		dims[axis] = min(s.chunks[axis], s.shape[axis]-origin[axis])
	}
	return
}

// eachCoord calls fn for every coordinate in [lo, hi), row-major. A rank-0
// range calls fn once with empty coords.
func eachCoord(lo, hi []int, fn func(coords []int) error) error {
	coords := slices.Clone(lo)
	for {
		if err := fn(coords); err != nil {
			return err
		}
		axis := len(coords) - 1
		for ; axis >= 0; axis-- {
			coords[axis]++
			if coords[axis] < hi[axis] {
				break
			}
			coords[axis] = lo[axis]
		}
		if axis < 0 {
			return nil
		}
	}
}

func (s *fileStore) Write(ctx context.Context, value *tensors.Tensor) (*WriteHandle, error) {
	if value.DType() != s.dtype || !slices.Equal(value.Shape().Dimensions, s.shape) {
		return nil, errors.Errorf("tensorstore: cannot write %s to store of shape %v and dtype %s",
			value.Shape(), s.shape, s.dtype)
	}
	// Data-copy phase: after this the caller may reuse the value's buffer.
	data := value.CloneBytes()
	handle := &WriteHandle{CopyDone: futures.Resolved(nil), Commit: futures.New()}
	go func() {
		handle.Commit.Resolve(s.commitFull(ctx, data))
	}()
	return handle, nil
}

func (s *fileStore) commitFull(ctx context.Context, data []byte) error {
	elemSize := s.dtype.Size()
	lo := make([]int, len(s.shape))
	hi := make([]int, len(s.shape))
	for axis := range s.shape {
		hi[axis] = ceilDiv(s.shape[axis], s.chunks[axis])
	}
	return eachCoord(lo, hi, func(coords []int) error {
		origin, dims := s.chunkRegion(coords)
		region := make([]byte, regionBytes(dims, elemSize))
		nd.Copy(region, dims, make([]int, len(dims)), data, s.shape, origin, dims, elemSize)
		return s.writeChunkFile(ctx, coords, region)
	})
}

func (s *fileStore) WriteChunk(ctx context.Context, origin []int, value *tensors.Tensor) (*WriteHandle, error) {
	if len(origin) != len(s.shape) {
		return nil, errors.Errorf("tensorstore: chunk origin %v does not match store rank %d", origin, len(s.shape))
	}
	coords := make([]int, len(origin))
	for axis, o := range origin {
		if o%s.chunks[axis] != 0 {
			return nil, errors.Errorf("tensorstore: chunk origin %v is not aligned to chunk shape %v", origin, s.chunks)
		}
		coords[axis] = o / s.chunks[axis]
	}
	_, dims := s.chunkRegion(coords)
	if value.DType() != s.dtype || !slices.Equal(value.Shape().Dimensions, dims) {
		return nil, errors.Errorf("tensorstore: cannot write %s as the chunk at %v (want shape %v, dtype %s)",
			value.Shape(), origin, dims, s.dtype)
	}
	data := value.CloneBytes()
	handle := &WriteHandle{CopyDone: futures.Resolved(nil), Commit: futures.New()}
	go func() {
		handle.Commit.Resolve(s.writeChunkFile(ctx, coords, data))
	}()
	return handle, nil
}

func (s *fileStore) writeChunkFile(ctx context.Context, coords []int, region []byte) error {
	if err := s.ioCtx.acquireIO(ctx); err != nil {
		return err
	}
	defer s.ioCtx.releaseIO()

	path := filepath.Join(s.dir, chunkFileName(coords))
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "tensorstore: failed to create chunk file %q", tmpPath)
	}
	var w io.Writer = f
	var gz *gzip.Writer
	if s.gzipped {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if _, err = w.Write(region); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "tensorstore: failed to write chunk %q", path)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "tensorstore: failed to flush chunk %q", path)
		}
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "tensorstore: failed to close chunk %q", path)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "tensorstore: failed to finalize chunk %q", path)
	}
	return nil
}

func (s *fileStore) readChunkFile(ctx context.Context, coords []int, wantBytes int) ([]byte, error) {
	if err := s.ioCtx.acquireIO(ctx); err != nil {
		return nil, err
	}
	defer s.ioCtx.releaseIO()

	path := filepath.Join(s.dir, chunkFileName(coords))
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "tensorstore: failed to open chunk %q", path)
	}
	defer func() { _ = f.Close() }()
	var r io.Reader = f
	if s.gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "tensorstore: chunk %q is not valid gzip", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "tensorstore: failed to read chunk %q", path)
	}
	if len(data) != wantBytes {
		return nil, errors.Errorf("tensorstore: chunk %q has %d bytes, want %d", path, len(data), wantBytes)
	}
	return data, nil
}

func (s *fileStore) Read(ctx context.Context) (*tensors.Tensor, error) {
	return s.ReadSlice(ctx, make([]int, len(s.shape)), slices.Clone(s.shape))
}

func (s *fileStore) ReadSlice(ctx context.Context, origin, dims []int) (*tensors.Tensor, error) {
	if len(origin) != len(s.shape) || len(dims) != len(s.shape) {
		return nil, errors.Errorf("tensorstore: slice origin %v / dims %v do not match store rank %d",
			origin, dims, len(s.shape))
	}
	for axis := range origin {
		if origin[axis] < 0 || dims[axis] <= 0 || origin[axis]+dims[axis] > s.shape[axis] {
			return nil, errors.Errorf("tensorstore: slice origin %v dims %v out of bounds for shape %v",
				origin, dims, s.shape)
		}
	}
	elemSize := s.dtype.Size()
	out := tensors.FromShape(shapes.Make(s.dtype, dims...))
	lo := make([]int, len(s.shape))
	hi := make([]int, len(s.shape))
	for axis := range s.shape {
		lo[axis] = origin[axis] / s.chunks[axis]
		hi[axis] = ceilDiv(origin[axis]+dims[axis], s.chunks[axis])
	}
	err := eachCoord(lo, hi, func(coords []int) error {
		chunkOrigin, chunkDims := s.chunkRegion(coords)
		data, err := s.readChunkFile(ctx, coords, regionBytes(chunkDims, elemSize))
		if err != nil {
			return err
		}
		// Intersection of the chunk with the requested slice.
		rank := len(s.shape)
		srcOrigin := make([]int, rank) // Within the chunk.
		dstOrigin := make([]int, rank) // Within the output.
		region := make([]int, rank)
		for axis := 0; axis < rank; axis++ {
			start := max(origin[axis], chunkOrigin[axis])
			end := min(origin[axis]+dims[axis], chunkOrigin[axis]+chunkDims[axis])
			srcOrigin[axis] = start - chunkOrigin[axis]
			dstOrigin[axis] = start - origin[axis]
			region[axis] = end - start
		}
		nd.Copy(out.MutableBytes(), dims, dstOrigin, data, chunkDims, srcOrigin, region, elemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func regionBytes(dims []int, elemSize int) int {
	n := elemSize
	for _, d := range dims {
		n *= d
	}
	return n
}
