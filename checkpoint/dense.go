package checkpoint

import (
	"context"
	"path/filepath"
	"reflect"
	"slices"

	"github.com/mehdiataei/orbax/tensorstore"
	"github.com/mehdiataei/orbax/types/futures"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
)

// DenseHandler saves and restores ordinary (non-distributed) numeric values
// as single-chunk stores: the chunk shape equals the full shape and chunks
// are gzip-compressed. Values are coerced through tensors.FromAnyValue, so it
// accepts *tensors.Tensor, *tensors.Device and plain Go scalars.
type DenseHandler struct {
	// Context shares I/O resources across handlers; nil uses the process-wide
	// default.
	Context *tensorstore.Context
}

// NewDenseHandler returns a DenseHandler using the default tensorstore
// context.
func NewDenseHandler() *DenseHandler { return &DenseHandler{} }

var (
	tensorType = reflect.TypeOf((*tensors.Tensor)(nil))
	deviceType = reflect.TypeOf((*tensors.Device)(nil))
)

// ParamInfo composes the leaf's storage spec under directory/name, chunked as
// one whole-shape chunk with gzip compression.
func (h *DenseHandler) ParamInfo(directory, name string, value any) (*ParamInfo, error) {
	t, err := tensors.FromAnyValue(value)
	if err != nil {
		return nil, errors.Wrapf(ErrValidation, "cannot build param info for %T: %v", value, err)
	}
	spec := tensorstore.SpecForPath(filepath.Join(directory, name))
	dims := t.Shape().Dimensions
	spec.Metadata = &tensorstore.Metadata{
		Shape:      slices.Clone(dims),
		Chunks:     slices.Clone(dims),
		Compressor: &tensorstore.Compressor{ID: "gzip"},
	}
	return &ParamInfo{Name: name, Spec: spec}, nil
}

// Serialize writes the full value in one operation. The data copy is complete
// when it returns; the returned future resolves when the write is durable.
func (h *DenseHandler) Serialize(ctx context.Context, value any, info *ParamInfo, args *SaveArgs) ([]*futures.Future, error) {
	if info == nil || info.Spec == nil {
		return nil, errors.Wrapf(ErrValidation, "serialize requires a param info with a storage spec")
	}
	if info.Aggregate || (args != nil && args.Aggregate) {
		// Aggregated leaves are bundled by the orchestration layer; nothing
		// to write here.
		return nil, nil
	}
	t, err := tensors.FromAnyValue(value)
	if err != nil {
		return nil, errors.Wrapf(ErrValidation, "cannot serialize %T: %v", value, err)
	}
	spec := castSpecForSave(info.Spec, t.DType(), args)
	store, err := tensorstore.Open(ctx, spec, tensorstore.OpenOptions{Create: true, Open: true, Context: h.Context})
	if err != nil {
		return nil, err
	}
	handle, err := store.Write(ctx, t)
	if err != nil {
		return nil, err
	}
	if err = handle.CopyDone.Await(ctx); err != nil {
		return nil, err
	}
	return []*futures.Future{handle.Commit}, nil
}

// Deserialize reads the full value back as a *tensors.Tensor (or the
// RestoreType variant the args request).
func (h *DenseHandler) Deserialize(ctx context.Context, info *ParamInfo, args RestoreArgsProvider) (any, error) {
	return h.deserialize(ctx, info, args, denseResult)
}

// deserialize factors the read path shared with ScalarHandler: open the
// (possibly cast-wrapped) spec, read, and let finish shape the result. Lazy
// restores defer all of it behind a LazyValue.
func (h *DenseHandler) deserialize(ctx context.Context, info *ParamInfo, args RestoreArgsProvider,
	finish func(t *tensors.Tensor, common *RestoreArgs) (any, error)) (any, error) {
	if info == nil || info.Spec == nil {
		return nil, errors.Wrapf(ErrValidation, "deserialize requires a param info with a storage spec")
	}
	common := commonArgs(args)
	spec := castSpecForRestore(info.Spec, common)
	read := func(ctx context.Context) (any, error) {
		store, err := tensorstore.Open(ctx, spec, tensorstore.OpenOptions{Open: true, Context: h.Context})
		if err != nil {
			return nil, err
		}
		t, err := store.Read(ctx)
		if err != nil {
			return nil, err
		}
		return finish(t, common)
	}
	if common != nil && common.Lazy {
		return newLazyValue(read), nil
	}
	return read(ctx)
}

func denseResult(t *tensors.Tensor, common *RestoreArgs) (any, error) {
	if common == nil || common.RestoreType == nil || common.RestoreType == tensorType {
		return t, nil
	}
	if common.RestoreType == deviceType {
		return tensors.OnDevice(t, 0), nil
	}
	return nil, errors.Wrapf(ErrValidation, "dense restore cannot produce type %s", common.RestoreType)
}
