package checkpoint

import (
	"context"
	"sync"
)

// LazyValue is an unmaterialized restore result: Deserialize returns one when
// RestoreArgs.Lazy is set, deferring every byte of I/O until Materialize.
// There is no other access path to the value.
type LazyValue struct {
	once  sync.Once
	read  func(ctx context.Context) (any, error)
	value any
	err   error
}

func newLazyValue(read func(ctx context.Context) (any, error)) *LazyValue {
	return &LazyValue{read: read}
}

// Materialize performs the deferred read and returns the restored value. The
// read happens once; later calls return the same value (or the same error),
// so a LazyValue is safe to share across goroutines.
func (l *LazyValue) Materialize(ctx context.Context) (any, error) {
	l.once.Do(func() {
		l.value, l.err = l.read(ctx)
	})
	return l.value, l.err
}
