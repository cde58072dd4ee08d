package storage

import (
	"github.com/KilimcininKorOglu/oodb/internal/logging"
)

// DefaultPoolSize is the default page pool size in bytes.
const DefaultPoolSize int64 = 512 << 20

// Options configures a page store handle.
type Options struct {
	// PoolSize is the page pool size in bytes. The buffer pool holds
	// PoolSize/PageSize pages.
	// Default: 512 MiB.
	PoolSize int64

	// SyncOnCommit fsyncs the file before and after the header write.
	// Default: true.
	SyncOnCommit bool

	// CacheSize bounds the shared record cache in bytes.
	// Default: PoolSize/8.
	CacheSize int64

	// GrowthPages is the number of physical pages added when the file grows.
	// Default: 8.
	GrowthPages int

	// FeedBufferSize is the number of recent change events kept for
	// resuming watchers. Only the first handle on a file applies it.
	// Default: 4096.
	FeedBufferSize int

	// CreateIfNotExists creates the file if it does not exist.
	// Default: true.
	CreateIfNotExists bool

	// OpenFile opens the file a handle reads and writes pages through.
	// Locking and header bootstrap always use the operating system file.
	// Default: OpenOSFile.
	OpenFile FileOpener

	// Logger receives page store events.
	// Default: a no-op logger.
	Logger logging.Logger
}

// DefaultOptions returns the default page store options.
func DefaultOptions() Options {
	return Options{
		PoolSize:          DefaultPoolSize,
		SyncOnCommit:      true,
		CacheSize:         DefaultPoolSize / 8,
		GrowthPages:       8,
		FeedBufferSize:    4096,
		CreateIfNotExists: true,
		Logger:            logging.NewNop(),
	}
}

// Validate fills defaults for unset fields.
func (o *Options) Validate() error {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.CacheSize <= 0 {
		o.CacheSize = o.PoolSize / 8
	}
	if o.GrowthPages <= 0 {
		o.GrowthPages = 8
	}
	if o.FeedBufferSize <= 0 {
		o.FeedBufferSize = 4096
	}
	if o.OpenFile == nil {
		o.OpenFile = OpenOSFile
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

// WithPoolSize sets the page pool size in bytes.
func (o Options) WithPoolSize(size int64) Options {
	o.PoolSize = size
	return o
}

// WithSyncOnCommit enables or disables fsync at commit.
func (o Options) WithSyncOnCommit(sync bool) Options {
	o.SyncOnCommit = sync
	return o
}

// WithCacheSize sets the record cache size in bytes.
func (o Options) WithCacheSize(size int64) Options {
	o.CacheSize = size
	return o
}

// WithGrowthPages sets the file growth increment.
func (o Options) WithGrowthPages(n int) Options {
	o.GrowthPages = n
	return o
}

// WithFeedBufferSize sets the change feed replay capacity.
func (o Options) WithFeedBufferSize(n int) Options {
	o.FeedBufferSize = n
	return o
}

// WithCreateIfNotExists enables or disables auto-creation.
func (o Options) WithCreateIfNotExists(create bool) Options {
	o.CreateIfNotExists = create
	return o
}

// WithFileOpener sets how handles open the backing file for page I/O.
func (o Options) WithFileOpener(open FileOpener) Options {
	o.OpenFile = open
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(l logging.Logger) Options {
	o.Logger = l
	return o
}
