package storage

import (
	"io"
	"os"
)

// File is the page I/O surface of one handle's view of the backing file.
// *os.File implements it.
type File interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// FileOpener opens the backing file at path for page I/O.
type FileOpener func(path string) (File, error)

// OpenOSFile is the default FileOpener.
func OpenOSFile(path string) (File, error) {
	return os.OpenFile(path, os.O_RDWR, 0644)
}
