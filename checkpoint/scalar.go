package checkpoint

import (
	"context"

	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
)

// ScalarHandler specializes DenseHandler for 0-dimensional values: it coerces
// plain Go numbers into rank-0 tensors on the way in and unwraps them back on
// the way out, validating that what came off disk really is a scalar.
type ScalarHandler struct {
	DenseHandler
}

// NewScalarHandler returns a ScalarHandler using the default tensorstore
// context.
func NewScalarHandler() *ScalarHandler { return &ScalarHandler{} }

// Deserialize reads the value back and unwraps it to a plain Go number
// (int64-backed dtypes come back as int). A stored value that is not rank-0
// fails with ErrValidation.
func (h *ScalarHandler) Deserialize(ctx context.Context, info *ParamInfo, args RestoreArgsProvider) (any, error) {
	return h.deserialize(ctx, info, args, scalarResult)
}

func scalarResult(t *tensors.Tensor, _ *RestoreArgs) (any, error) {
	if !t.IsScalar() {
		return nil, errors.Wrapf(ErrValidation, "restored result is not a scalar: shape %s", t.Shape())
	}
	return t.ScalarValue()
}
