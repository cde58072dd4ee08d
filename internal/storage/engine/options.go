package engine

import (
	"github.com/KilimcininKorOglu/oodb/internal/logging"
	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Option adjusts the page store options of a Store.
type Option func(*storage.Options)

// WithLogger sets the logger of the store and its page store.
func WithLogger(l logging.Logger) Option {
	return func(o *storage.Options) { o.Logger = l }
}

// WithSyncOnCommit enables or disables fsync at commit.
func WithSyncOnCommit(sync bool) Option {
	return func(o *storage.Options) { o.SyncOnCommit = sync }
}

// WithCacheSize bounds the shared record cache in bytes.
func WithCacheSize(size int64) Option {
	return func(o *storage.Options) { o.CacheSize = size }
}

// WithGrowthPages sets the number of pages added when the file grows.
func WithGrowthPages(n int) Option {
	return func(o *storage.Options) { o.GrowthPages = n }
}

// WithCreateIfNotExists controls whether Open creates a missing file.
func WithCreateIfNotExists(create bool) Option {
	return func(o *storage.Options) { o.CreateIfNotExists = create }
}

// WithFileOpener sets how the handle opens the backing file for page I/O.
func WithFileOpener(open storage.FileOpener) Option {
	return func(o *storage.Options) { o.OpenFile = open }
}

// WithStorageOptions replaces every page store option at once.
func WithStorageOptions(opts storage.Options) Option {
	return func(o *storage.Options) { *o = opts }
}
