package storage

import (
	"path/filepath"
	"testing"
)

func setupBenchmarkPageStore(b *testing.B) (*PageStore, func()) {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.db")
	ps, err := Open(path, 64<<20, DefaultOptions().WithSyncOnCommit(false))
	if err != nil {
		b.Fatalf("Failed to open page store: %v", err)
	}
	return ps, func() { ps.Close() }
}

// BenchmarkPageRead benchmarks reads of committed pages through the pool.
func BenchmarkPageRead(b *testing.B) {
	ps, cleanup := setupBenchmarkPageStore(b)
	defer cleanup()

	const numPages = 1000
	ids := make([]PageID, numPages)
	for i := range ids {
		page, err := ps.AllocatePage(PageTypeData)
		if err != nil {
			b.Fatalf("Failed to allocate page: %v", err)
		}
		ids[i] = page.Header.PageID
	}
	ps.LockCommit()
	if err := ps.Commit(); err != nil {
		b.Fatalf("Commit failed: %v", err)
	}
	ps.UnlockCommit()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := ps.ReadPage(ids[i%numPages]); err != nil {
			b.Fatalf("ReadPage failed: %v", err)
		}
	}
}

// BenchmarkCommit benchmarks a commit of a single modified page.
func BenchmarkCommit(b *testing.B) {
	ps, cleanup := setupBenchmarkPageStore(b)
	defer cleanup()

	page, err := ps.AllocatePage(PageTypeData)
	if err != nil {
		b.Fatalf("Failed to allocate page: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		page.Data[0] = byte(i)
		if err := ps.WritePage(page); err != nil {
			b.Fatalf("WritePage failed: %v", err)
		}
		ps.LockCommit()
		if err := ps.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
		ps.UnlockCommit()
	}
}
