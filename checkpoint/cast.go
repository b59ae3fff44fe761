package checkpoint

import (
	"github.com/mehdiataei/orbax/tensorstore"
	"github.com/mehdiataei/orbax/types/dtypes"
)

// castSpecForSave wraps a base spec in a "cast" envelope for a write. The
// outer dtype is the value's current element type (what the writer presents),
// the inner base dtype is what lands on disk: the requested cast target when
// SaveArgs asks for one, otherwise the source dtype (a structurally uniform
// no-op cast, so the save path always goes through one spec shape).
func castSpecForSave(base *tensorstore.Spec, source dtypes.DType, args *SaveArgs) *tensorstore.Spec {
	inner := base.Clone()
	stored := source
	if args != nil && args.DType != dtypes.InvalidDType {
		stored = args.DType
	}
	inner.DType = stored.String()
	return &tensorstore.Spec{
		Driver: tensorstore.CastDriver,
		DType:  source.String(),
		Base:   inner,
	}
}

// castSpecForRestore wraps a spec in a "cast" envelope for a read, but only
// when the restore args request a dtype: the common path reads the raw spec
// and gets whatever dtype is on disk, with no redundant driver layer.
func castSpecForRestore(spec *tensorstore.Spec, args *RestoreArgs) *tensorstore.Spec {
	if args == nil || args.DType == dtypes.InvalidDType {
		return spec
	}
	return &tensorstore.Spec{
		Driver: tensorstore.CastDriver,
		DType:  args.DType.String(),
		Base:   spec.Clone(),
	}
}
