package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Backup writes the latest committed state of the store at storePath to
// opts.OutputPath. The store may be open in other handles; the backup reads
// one committed snapshot and never blocks writers.
func Backup(storePath string, opts *BackupOptions) (*BackupStats, error) {
	if storePath == "" {
		return nil, ErrStorePathEmpty
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	psOpts := storage.DefaultOptions().
		WithCreateIfNotExists(false).
		WithLogger(opts.Logger)
	ps, err := storage.Open(storePath, opts.PoolSize, psOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	defer ps.Close()

	out, err := os.Create(opts.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	defer out.Close()

	stats, err := writeBackup(ps, out, opts.Compress)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(opts.OutputPath)
		return nil, err
	}
	stats.Duration = time.Since(startTime)

	opts.Logger.Info("backup written",
		"id", stats.ID.String(),
		"seq", stats.Seq,
		"pages", stats.TotalPages,
		"bytes", stats.CompressedBytes,
		"duration", stats.Duration.String())
	return stats, nil
}

// writeBackup streams the base snapshot of ps into out. The header is
// written twice: a placeholder first, the final one with the digest last.
func writeBackup(ps *storage.PageStore, out io.WriteSeeker, compress bool) (*BackupStats, error) {
	fail := func(err error) (*BackupStats, error) {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	base := ps.Header()
	header := NewBackupHeader()
	header.Seq = base.Seq
	header.SourceFileID = base.FileID
	header.Meta = base.Meta
	header.SetCompressed(compress)

	headerBuf, err := header.Serialize()
	if err != nil {
		return fail(err)
	}
	if _, err := out.Write(headerBuf); err != nil {
		return fail(err)
	}

	counter := &countingWriter{w: out}
	buffered := bufio.NewWriterSize(counter, 64*1024)
	var sink io.Writer = buffered
	var xzw *xz.Writer
	if compress {
		xzw, err = xz.NewWriter(buffered)
		if err != nil {
			return fail(fmt.Errorf("failed to create xz writer: %w", err))
		}
		sink = xzw
	}
	digest := newDigestWriter(sink)

	stats := &BackupStats{ID: header.BackupID, Seq: header.Seq}
	buf := make([]byte, storage.PageSize)
	err = ps.ExportPages(func(page *storage.Page) error {
		if err := page.SerializeTo(buf); err != nil {
			return fmt.Errorf("failed to serialize page %d: %w", page.Header.PageID, err)
		}
		if _, err := digest.Write(buf); err != nil {
			return fmt.Errorf("failed to write page %d: %w", page.Header.PageID, err)
		}
		stats.TotalPages++
		return nil
	})
	if err != nil {
		return fail(err)
	}

	if xzw != nil {
		if err := xzw.Close(); err != nil {
			return fail(err)
		}
	}
	if err := buffered.Flush(); err != nil {
		return fail(err)
	}

	header.Pages = stats.TotalPages
	header.Digest = digest.sum(header.Meta)
	stats.TotalBytes = digest.written
	stats.CompressedBytes = counter.n

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	if headerBuf, err = header.Serialize(); err != nil {
		return fail(err)
	}
	if _, err := out.Write(headerBuf); err != nil {
		return fail(err)
	}
	if f, ok := out.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return fail(err)
		}
	}
	return stats, nil
}
