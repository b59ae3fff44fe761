package futures

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOnce(t *testing.T) {
	f := New()
	f.Resolve(errors.New("first"))
	f.Resolve(nil) // Ignored, the first resolution wins.
	require.Error(t, f.Await(context.Background()))
	require.Equal(t, "first", f.Await(context.Background()).Error())
}

func TestResolved(t *testing.T) {
	require.NoError(t, Resolved(nil).Await(context.Background()))
	require.Error(t, Resolved(errors.New("boom")).Await(context.Background()))
}

func TestAwaitCancellation(t *testing.T) {
	f := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The future itself is untouched, it can still resolve.
	f.Resolve(nil)
	require.NoError(t, f.Await(context.Background()))
}

func TestAwaitFromGoroutine(t *testing.T) {
	f := New()
	go func() {
		time.Sleep(time.Millisecond)
		f.Resolve(nil)
	}()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future never resolved")
	}
	require.NoError(t, f.Await(context.Background()))
}

func TestAwaitAll(t *testing.T) {
	a, b, c := New(), New(), New()
	a.Resolve(nil)
	b.Resolve(errors.New("b failed"))
	c.Resolve(errors.New("c failed"))
	err := AwaitAll(context.Background(), a, b, c)
	require.Error(t, err)
	assert.Equal(t, "b failed", err.Error())

	require.NoError(t, AwaitAll(context.Background(), Resolved(nil), Resolved(nil)))
	require.NoError(t, AwaitAll(context.Background()))
}
