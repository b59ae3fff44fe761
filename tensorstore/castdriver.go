package tensorstore

import (
	"context"

	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/shapes"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
)

// castStore is the virtual "cast" driver: it exposes an outer element type
// while delegating storage to an inner store of a (possibly different)
// element type, converting on every read and write. Conversion between any
// two non-bool numeric dtypes is supported; it may lose precision.
type castStore struct {
	inner TensorStore
	dtype dtypes.DType
	spec  *Spec
}

func openCastStore(ctx context.Context, spec *Spec, opts OpenOptions) (*castStore, error) {
	if spec.Base == nil {
		return nil, errors.Errorf("tensorstore: %q driver requires a base spec, got %s", CastDriver, spec)
	}
	outer, err := spec.dtype()
	if err != nil {
		return nil, err
	}
	if outer == dtypes.InvalidDType {
		return nil, errors.Errorf("tensorstore: %q driver requires a dtype, got %s", CastDriver, spec)
	}
	inner, err := Open(ctx, spec.Base, opts)
	if err != nil {
		return nil, err
	}
	return &castStore{inner: inner, dtype: outer, spec: spec.Clone()}, nil
}

func (s *castStore) Spec() *Spec {
	spec := s.spec.Clone()
	spec.Base = s.inner.Spec()
	return spec
}

func (s *castStore) DType() dtypes.DType { return s.dtype }
func (s *castStore) Shape() []int        { return s.inner.Shape() }
func (s *castStore) ChunkShape() []int   { return s.inner.ChunkShape() }

// castTensor converts a tensor's elements to the given dtype. Same dtype
// returns the tensor unchanged.
func castTensor(value *tensors.Tensor, to dtypes.DType) (*tensors.Tensor, error) {
	if value.DType() == to {
		return value, nil
	}
	data, err := dtypes.ConvertSlice(value.ConstBytes(), value.DType(), to)
	if err != nil {
		return nil, err
	}
	return tensors.FromShapeAndBytes(shapes.Make(to, value.Shape().Dimensions...), data)
}

func (s *castStore) Write(ctx context.Context, value *tensors.Tensor) (*WriteHandle, error) {
	if value.DType() != s.dtype {
		return nil, errors.Errorf("tensorstore: cannot write %s through a cast store of dtype %s",
			value.Shape(), s.dtype)
	}
	converted, err := castTensor(value, s.inner.DType())
	if err != nil {
		return nil, err
	}
	return s.inner.Write(ctx, converted)
}

func (s *castStore) WriteChunk(ctx context.Context, origin []int, value *tensors.Tensor) (*WriteHandle, error) {
	if value.DType() != s.dtype {
		return nil, errors.Errorf("tensorstore: cannot write %s through a cast store of dtype %s",
			value.Shape(), s.dtype)
	}
	converted, err := castTensor(value, s.inner.DType())
	if err != nil {
		return nil, err
	}
	return s.inner.WriteChunk(ctx, origin, converted)
}

func (s *castStore) Read(ctx context.Context) (*tensors.Tensor, error) {
	value, err := s.inner.Read(ctx)
	if err != nil {
		return nil, err
	}
	return castTensor(value, s.dtype)
}

func (s *castStore) ReadSlice(ctx context.Context, origin, dims []int) (*tensors.Tensor, error) {
	value, err := s.inner.ReadSlice(ctx, origin, dims)
	if err != nil {
		return nil, err
	}
	return castTensor(value, s.dtype)
}
