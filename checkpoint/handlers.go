// Package checkpoint persists and restores the leaves of nested parameter
// structures -- scalars, dense tensors and sharded distributed arrays -- to a
// chunked, self-describing storage backend (see the tensorstore package).
//
// The package is organized around TypeHandler, the per-type contract that
// turns a value into a storage spec (ParamInfo), writes it (Serialize) and
// reads it back (Deserialize), and Registry, which resolves a runtime value's
// type to its handler through an ordered list of predicates. Callers
// orchestrating a whole-tree save look up one handler per leaf, serialize
// every leaf, and await the returned commit futures in one batch at the end:
//
//	handler, err := checkpoint.GetTypeHandler(reflect.TypeOf(value))
//	info, err := handler.ParamInfo(dir, "weights", value)
//	commits, err := handler.Serialize(ctx, value, info, &checkpoint.SaveArgs{})
//	...
//	err = futures.AwaitAll(ctx, commits...)
//
// Serialize completes the data-copy phase before returning, so the value's
// buffer may be reused immediately; only durability is deferred to the commit
// futures. Deserialize optionally returns a *LazyValue whose I/O is deferred
// until Materialize is called.
//
// Handlers are provided for scalars, dense tensors ([tensors.Tensor] and
// [tensors.Device]) and sharded arrays ([sharding.Array] and the legacy
// [sharding.GlobalArray]). SaveArgs.DType and RestoreArgs.DType request
// element-type casting during the write or the read; the conversion happens
// inside the storage layer through a "cast" spec envelope.
package checkpoint

import (
	"context"
	"reflect"

	"github.com/mehdiataei/orbax/sharding"
	"github.com/mehdiataei/orbax/tensorstore"
	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/futures"
)

// ParamInfo describes where and how one leaf is stored. It is computed by a
// handler's ParamInfo method, never built by callers, and is immutable once
// produced. Only the Spec contents are durable (the storage layer embeds them
// in its own metadata); the struct itself lives for one save or restore
// attempt.
type ParamInfo struct {
	// Name of the leaf, unique within its checkpoint directory.
	Name string

	// Aggregate marks leaves that the orchestration layer bundles into an
	// aggregate file instead of giving them their own store. The orchestrator
	// sets it (from the leaf's SaveArgs) after computing the ParamInfo;
	// Serialize then skips the storage backend for the leaf.
	Aggregate bool

	// Spec addresses the leaf's storage location and format.
	Spec *tensorstore.Spec
}

// SaveArgs are per-leaf options of a save. The zero value is the default.
type SaveArgs struct {
	// Aggregate requests bundling into the orchestrator's aggregate file; the
	// handler then skips the storage backend for this leaf.
	Aggregate bool

	// DType, when valid, casts the value to this element type during the
	// write. The on-disk dtype becomes DType.
	DType dtypes.DType
}

// RestoreArgs are per-leaf options of a restore. The zero value is the
// default. Handler classes needing more (the sharded-array handler) embed
// RestoreArgs in an extended struct; see ArrayRestoreArgs.
type RestoreArgs struct {
	// Lazy defers the actual I/O: Deserialize returns a *LazyValue instead of
	// the value itself.
	Lazy bool

	// RestoreType, when non-nil, selects an alternative result type the
	// handler supports (e.g. *tensors.Device for dense leaves,
	// *sharding.GlobalArray for sharded ones). Nil means the handler's
	// natural type.
	RestoreType reflect.Type

	// DType, when valid, casts the stored value to this element type during
	// the read.
	DType dtypes.DType
}

// CommonRestoreArgs implements RestoreArgsProvider.
func (r *RestoreArgs) CommonRestoreArgs() *RestoreArgs { return r }

// RestoreArgsProvider is implemented by RestoreArgs and every struct
// embedding it, letting handlers accept any restore-args variant and recover
// the common fields.
type RestoreArgsProvider interface {
	CommonRestoreArgs() *RestoreArgs
}

// ArrayRestoreArgs extends RestoreArgs for sharded-array restores. Mesh and
// MeshAxes are mandatory: there is no "infer sharding" fallback, the caller
// must say how the restored array is partitioned.
type ArrayRestoreArgs struct {
	RestoreArgs

	// Mesh of devices the restored array is distributed over.
	Mesh *sharding.Mesh

	// MeshAxes maps each array axis to a mesh axis name ("" leaves the axis
	// unpartitioned).
	MeshAxes sharding.PartitionSpec

	// GlobalShape optionally overrides the stored global shape for a partial
	// restore: a smaller shape materializes the leading sub-array, a larger
	// one zero-fills beyond the stored extent.
	GlobalShape []int
}

// TypeHandler is the contract every per-type handler implements.
//
// ParamInfo is a pure computation (no I/O beyond path composition) and must
// be deterministic for a given directory, name and value shape/sharding.
// Serialize finishes copying the value before it returns and yields the
// commit futures finalizing durability; the caller decides when to await
// them. Deserialize reconstructs the value, or a *LazyValue when the restore
// args ask for lazy.
//
// Handlers return errors wrapping ErrValidation when mandatory args for
// their class are missing; storage errors pass through unmodified.
type TypeHandler interface {
	ParamInfo(directory, name string, value any) (*ParamInfo, error)
	Serialize(ctx context.Context, value any, info *ParamInfo, args *SaveArgs) ([]*futures.Future, error)
	Deserialize(ctx context.Context, info *ParamInfo, args RestoreArgsProvider) (any, error)
}

// commonArgs extracts the embedded RestoreArgs, tolerating nil.
func commonArgs(args RestoreArgsProvider) *RestoreArgs {
	if args == nil {
		return nil
	}
	return args.CommonRestoreArgs()
}
