package tensorstore

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultFileIOConcurrency bounds how many file operations may be in flight
// for a Context created with zero Settings.
const DefaultFileIOConcurrency = 128

// Settings configures a Context.
type Settings struct {
	// FileIOConcurrency limits concurrent file operations across every store
	// sharing the Context. 0 means DefaultFileIOConcurrency.
	FileIOConcurrency int
}

// Context holds resources shared by stores: currently only the file I/O
// limiter. It is initialized once and shared read-only; typically the
// process-wide DefaultContext is enough.
type Context struct {
	fileIO *semaphore.Weighted
}

// NewContext creates a Context with the given settings.
func NewContext(settings Settings) *Context {
	limit := settings.FileIOConcurrency
	if limit <= 0 {
		limit = DefaultFileIOConcurrency
	}
	return &Context{fileIO: semaphore.NewWeighted(int64(limit))}
}

var (
	defaultContextOnce sync.Once
	defaultContext     *Context
)

// DefaultContext returns the process-wide Context, created on first use with
// default settings.
func DefaultContext() *Context {
	defaultContextOnce.Do(func() {
		defaultContext = NewContext(Settings{})
	})
	return defaultContext
}

// acquireIO reserves one file-operation slot; it must be paired with
// releaseIO.
func (c *Context) acquireIO(ctx context.Context) error {
	return c.fileIO.Acquire(ctx, 1)
}

func (c *Context) releaseIO() {
	c.fileIO.Release(1)
}
