package checkpoint

import (
	"reflect"
	"sync"

	"github.com/mehdiataei/orbax/sharding"
	"github.com/mehdiataei/orbax/types/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// EnableNativeShardedArrays adds a default registry entry for
// *sharding.Array. Set it before the first DefaultRegistry use; the legacy
// *sharding.GlobalArray entry is registered either way.
var EnableNativeShardedArrays = true

// Predicate decides whether a handler accepts a type.
type Predicate func(t reflect.Type) bool

type registryEntry struct {
	predicate Predicate
	handler   TypeHandler
}

// Registry resolves a runtime value's type to its TypeHandler by scanning an
// ordered list of (predicate, handler) entries. First match wins, and
// first-registered-first-checked is authoritative: registration order is a
// first-class contract, an entry registered later never shadows an earlier
// one whose predicate also accepts the type.
//
// A Registry is built at process start and then only read; Register has no
// internal synchronization, concurrent registration is the caller's
// responsibility.
type Registry struct {
	entries []registryEntry
}

// NewRegistry returns an empty registry. Tests use this to build isolated
// registries; most callers want DefaultRegistry.
func NewRegistry() *Registry { return &Registry{} }

// NewDefaultRegistry returns a registry pre-loaded with the standard entries,
// in precedence order: integer scalars, float scalars, reduced-precision
// scalars (float16, bfloat16), dense tensors, device tensors, and sharded
// arrays (the legacy GlobalArray always, the native Array behind
// EnableNativeShardedArrays).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	scalars := NewScalarHandler()
	dense := NewDenseHandler()
	arrays := NewArrayHandler()

	mustRegister := func(t reflect.Type, h TypeHandler, opts ...RegisterOption) {
		if err := r.Register(t, h, opts...); err != nil {
			klog.Fatalf("checkpoint: default registry: %+v", err)
		}
	}
	mustRegister(reflect.TypeOf(int(0)), scalars, WithPredicate(isBuiltinInt))
	mustRegister(reflect.TypeOf(float64(0)), scalars, WithPredicate(isBuiltinFloat))
	mustRegister(reflect.TypeOf(float16.Float16(0)), scalars, WithPredicate(isReducedPrecisionScalar))
	mustRegister(tensorType, dense)
	mustRegister(deviceType, dense)
	mustRegister(globalArrayType, arrays)
	if EnableNativeShardedArrays {
		mustRegister(reflect.TypeOf((*sharding.Array)(nil)), arrays)
	}
	return r
}

// The scalar predicates check exact builtin types, not reflect kinds:
// float16.Float16 and bfloat16.BFloat16 are uint16 under the hood and must
// not be captured by the integer entry.
var (
	builtinIntTypes = map[reflect.Type]bool{
		reflect.TypeOf(int(0)):    true,
		reflect.TypeOf(int8(0)):   true,
		reflect.TypeOf(int16(0)):  true,
		reflect.TypeOf(int32(0)):  true,
		reflect.TypeOf(int64(0)):  true,
		reflect.TypeOf(uint8(0)):  true,
		reflect.TypeOf(uint16(0)): true,
		reflect.TypeOf(uint32(0)): true,
		reflect.TypeOf(uint64(0)): true,
	}
	builtinFloatTypes = map[reflect.Type]bool{
		reflect.TypeOf(float32(0)): true,
		reflect.TypeOf(float64(0)): true,
	}
	reducedPrecisionTypes = map[reflect.Type]bool{
		reflect.TypeOf(float16.Float16(0)):   true,
		reflect.TypeOf(bfloat16.BFloat16(0)): true,
	}
)

func isBuiltinInt(t reflect.Type) bool             { return builtinIntTypes[t] }
func isBuiltinFloat(t reflect.Type) bool           { return builtinFloatTypes[t] }
func isReducedPrecisionScalar(t reflect.Type) bool { return reducedPrecisionTypes[t] }

type registerOptions struct {
	predicate Predicate
	override  bool
}

// RegisterOption configures Register.
type RegisterOption func(*registerOptions)

// WithPredicate replaces the default exact/assignable-type predicate.
func WithPredicate(p Predicate) RegisterOption {
	return func(o *registerOptions) { o.predicate = p }
}

// WithOverride lets the registration replace the entry currently resolving
// the type, instead of failing with ErrAlreadyRegistered.
func WithOverride() RegisterOption {
	return func(o *registerOptions) { o.override = true }
}

// Register appends an entry resolving forType (and whatever else its
// predicate accepts) to handler. If an existing entry already resolves
// forType the call fails with ErrAlreadyRegistered, unless WithOverride is
// given, in which case the existing entry is replaced in place and keeps its
// position in the precedence order.
func (r *Registry) Register(forType reflect.Type, handler TypeHandler, opts ...RegisterOption) error {
	if forType == nil || handler == nil {
		return errors.Wrapf(ErrValidation, "Register requires a type and a handler")
	}
	options := registerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.predicate == nil {
		options.predicate = func(t reflect.Type) bool {
			return t == forType || t.AssignableTo(forType)
		}
	}
	entry := registryEntry{predicate: options.predicate, handler: handler}
	for ii := range r.entries {
		if r.entries[ii].predicate(forType) {
			if !options.override {
				return errors.Wrapf(ErrAlreadyRegistered, "%s resolves to an existing entry (position %d)", forType, ii)
			}
			r.entries[ii] = entry
			return nil
		}
	}
	r.entries = append(r.entries, entry)
	return nil
}

// Lookup returns the handler of the first entry whose predicate accepts t, or
// ErrUnknownType when none does.
func (r *Registry) Lookup(t reflect.Type) (TypeHandler, error) {
	if t == nil {
		return nil, errors.Wrapf(ErrUnknownType, "nil type")
	}
	for _, entry := range r.entries {
		if entry.predicate(t) {
			return entry.handler, nil
		}
	}
	return nil, errors.Wrapf(ErrUnknownType, "%s", t)
}

// ForValue is a shortcut for Lookup(reflect.TypeOf(value)).
func (r *Registry) ForValue(value any) (TypeHandler, error) {
	if value == nil {
		return nil, errors.Wrapf(ErrUnknownType, "nil value")
	}
	return r.Lookup(reflect.TypeOf(value))
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide registry, built with the default
// entries on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewDefaultRegistry()
	})
	return defaultRegistry
}

// RegisterTypeHandler registers in the process-wide registry.
func RegisterTypeHandler(forType reflect.Type, handler TypeHandler, opts ...RegisterOption) error {
	return DefaultRegistry().Register(forType, handler, opts...)
}

// GetTypeHandler resolves a type in the process-wide registry.
func GetTypeHandler(t reflect.Type) (TypeHandler, error) {
	return DefaultRegistry().Lookup(t)
}
