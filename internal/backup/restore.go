package backup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// RestoreStats contains statistics about a restore operation.
type RestoreStats struct {
	// ID is the backup that was restored.
	ID string

	// Seq is the commit sequence the backup captured.
	Seq uint64

	// TotalPages is the total number of pages restored.
	TotalPages uint64

	// Duration is the time taken to complete the restore.
	Duration time.Duration
}

// ReadHeader reads and validates the header of the backup file at path.
func ReadHeader(path string) (*BackupHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	defer f.Close()
	return readHeader(f)
}

func readHeader(r io.Reader) (*BackupHeader, error) {
	buf := make([]byte, BackupHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", ErrInvalidBackup, err)
	}
	h := &BackupHeader{}
	if err := h.Deserialize(buf); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Verify reads the whole backup at path and checks every page and the
// digest without writing anything.
func Verify(path string) (*BackupHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if err := readPages(h, f, func(*storage.Page) error { return nil }); err != nil {
		return nil, err
	}
	return h, nil
}

// Restore creates a new store at opts.TargetPath from the backup at
// opts.InputPath. Nothing is committed unless every page and the digest
// verify; the target file is removed on failure.
func Restore(opts *RestoreOptions) (*RestoreStats, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.TargetPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetExists, opts.TargetPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	start := time.Now()
	in, err := os.Open(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	defer in.Close()

	h, err := readHeader(in)
	if err != nil {
		return nil, err
	}

	stats, err := restoreInto(h, in, opts)
	if err != nil {
		_ = os.Remove(opts.TargetPath)
		return nil, err
	}
	stats.Duration = time.Since(start)

	opts.Logger.Info("backup restored",
		"id", stats.ID,
		"seq", stats.Seq,
		"pages", stats.TotalPages,
		"target", opts.TargetPath,
		"duration", stats.Duration.String())
	return stats, nil
}

func restoreInto(h *BackupHeader, in io.Reader, opts *RestoreOptions) (*RestoreStats, error) {
	psOpts := storage.DefaultOptions().
		WithCreateIfNotExists(true).
		WithLogger(opts.Logger)
	ps, err := storage.Open(opts.TargetPath, opts.PoolSize, psOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	stats := &RestoreStats{ID: h.BackupID.String(), Seq: h.Seq}
	err = readPages(h, in, func(page *storage.Page) error {
		stats.TotalPages++
		return ps.ImportPage(page)
	})
	if err == nil {
		for slot, v := range h.Meta {
			ps.SetMeta(slot, v)
		}
		ps.LockCommit()
		err = ps.Commit()
		ps.UnlockCommit()
	}
	if cerr := ps.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, ErrDigestMismatch) || errors.Is(err, ErrInvalidBackup) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	return stats, nil
}

// readPages decodes h.Pages pages from r, calls fn for each and checks the
// digest at the end.
func readPages(h *BackupHeader, r io.Reader, fn func(*storage.Page) error) error {
	var src io.Reader = bufio.NewReaderSize(r, 64*1024)
	if h.IsCompressed() {
		xzr, err := xz.NewReader(src)
		if err != nil {
			return fmt.Errorf("%w: failed to create xz reader: %v", ErrInvalidBackup, err)
		}
		src = xzr
	}
	digest := newDigestReader(src)

	buf := make([]byte, storage.PageSize)
	for i := uint64(0); i < h.Pages; i++ {
		if _, err := io.ReadFull(digest, buf); err != nil {
			return fmt.Errorf("%w: page %d of %d: %v", ErrInvalidBackup, i+1, h.Pages, err)
		}
		page := &storage.Page{}
		if err := page.DeserializeAndValidate(buf); err != nil {
			return fmt.Errorf("%w: page %d: %v", ErrInvalidBackup, i+1, err)
		}
		if err := fn(page); err != nil {
			return err
		}
	}

	if digest.sum(h.Meta) != h.Digest {
		return ErrDigestMismatch
	}
	return nil
}
