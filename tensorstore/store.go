package tensorstore

import (
	"context"

	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/futures"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
)

// WriteHandle carries the two completion signals of a write: CopyDone
// resolves once the value's buffer has been captured (the caller may reuse or
// free it), Commit resolves once the data is durably stored. They are
// distinct futures so callers can pipeline copies and batch-await commits.
type WriteHandle struct {
	CopyDone *futures.Future
	Commit   *futures.Future
}

// TensorStore is an open handle to one stored array.
//
// Write and WriteChunk capture the value synchronously (CopyDone is resolved
// by the time they return) and finalize durability in the background through
// the Commit future. WriteChunk origins must be aligned to the chunk grid;
// each chunk is stored independently, so writers of disjoint chunks never
// conflict. ReadSlice accepts any in-bounds region, assembling it from the
// chunks it intersects.
type TensorStore interface {
	Spec() *Spec
	DType() dtypes.DType
	Shape() []int
	ChunkShape() []int

	Write(ctx context.Context, value *tensors.Tensor) (*WriteHandle, error)
	Read(ctx context.Context) (*tensors.Tensor, error)
	WriteChunk(ctx context.Context, origin []int, value *tensors.Tensor) (*WriteHandle, error)
	ReadSlice(ctx context.Context, origin, dims []int) (*tensors.Tensor, error)
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Create the store (directory and metadata) if it doesn't exist. Requires
	// the spec to carry metadata and a dtype.
	Create bool
	// Open an existing store. Create+Open opens whether or not it existed.
	Open bool
	// Context shares I/O resources; nil uses DefaultContext.
	Context *Context
}

// Open resolves a spec to a TensorStore handle.
func Open(ctx context.Context, spec *Spec, opts OpenOptions) (TensorStore, error) {
	if spec == nil {
		return nil, errors.New("tensorstore.Open: nil spec")
	}
	if !opts.Create && !opts.Open {
		return nil, errors.New("tensorstore.Open: at least one of Create or Open must be set")
	}
	if opts.Context == nil {
		opts.Context = DefaultContext()
	}
	switch spec.Driver {
	case ZarrDriver:
		return openFileStore(ctx, spec, opts)
	case CastDriver:
		return openCastStore(ctx, spec, opts)
	}
	return nil, errors.Errorf("tensorstore.Open: unknown driver %q", spec.Driver)
}
