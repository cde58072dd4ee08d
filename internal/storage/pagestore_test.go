package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *PageStore {
	t.Helper()
	ps, err := Open(path, 1<<20, DefaultOptions().WithSyncOnCommit(false))
	require.NoError(t, err)
	return ps
}

func commit(t *testing.T, ps *PageStore) {
	t.Helper()
	ps.LockCommit()
	defer ps.UnlockCommit()
	require.NoError(t, ps.Commit())
}

func writeData(t *testing.T, ps *PageStore, payload string) PageID {
	t.Helper()
	page, err := ps.AllocatePage(PageTypeData)
	require.NoError(t, err)
	copy(page.Data, payload)
	require.NoError(t, ps.WritePage(page))
	return page.Header.PageID
}

func readData(t *testing.T, ps *PageStore, id PageID, n int) string {
	t.Helper()
	page, err := ps.ReadPage(id)
	require.NoError(t, err)
	return string(page.Data[:n])
}

func TestPageStoreCommitAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	ps := openTestStore(t, path)
	id := writeData(t, ps, "durable")
	ps.SetMeta(MetaRootOID, 77)
	commit(t, ps)
	require.NoError(t, ps.Close())

	ps = openTestStore(t, path)
	defer ps.Close()

	assert.Equal(t, "durable", readData(t, ps, id, 7))
	assert.Equal(t, uint64(77), ps.Meta(MetaRootOID))
	assert.Equal(t, uint64(2), ps.Seq())
}

func TestPageStoreCommitWithoutChangesIsNoop(t *testing.T) {
	ps := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer ps.Close()

	seq := ps.Seq()
	commit(t, ps)
	assert.Equal(t, seq, ps.Seq())
}

func TestPageStoreRollback(t *testing.T) {
	ps := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer ps.Close()

	id := writeData(t, ps, "first")
	commit(t, ps)

	page, err := ps.ReadPage(id)
	require.NoError(t, err)
	copy(page.Data, "other")
	require.NoError(t, ps.WritePage(page))
	extra := writeData(t, ps, "extra")
	ps.SetMeta(MetaRootOID, 5)

	require.NoError(t, ps.Rollback())

	assert.Equal(t, "first", readData(t, ps, id, 5))
	assert.False(t, ps.HasChanges())
	assert.Equal(t, uint64(0), ps.Meta(MetaRootOID))
	_, err = ps.ReadPage(extra)
	assert.ErrorIs(t, err, ErrUnmappedPage)
}

func TestPageStoreUncommittedChangesAreLostOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	ps := openTestStore(t, path)
	id := writeData(t, ps, "kept")
	commit(t, ps)

	page, err := ps.ReadPage(id)
	require.NoError(t, err)
	copy(page.Data, "lost")
	require.NoError(t, ps.WritePage(page))
	require.NoError(t, ps.Close())

	ps = openTestStore(t, path)
	defer ps.Close()
	assert.Equal(t, "kept", readData(t, ps, id, 4))
}

func TestPageStoreFreePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ps := openTestStore(t, path)

	id := writeData(t, ps, "gone")
	commit(t, ps)
	require.NoError(t, ps.FreePage(id))
	commit(t, ps)
	require.NoError(t, ps.Close())

	ps = openTestStore(t, path)
	defer ps.Close()
	_, err := ps.ReadPage(id)
	assert.ErrorIs(t, err, ErrUnmappedPage)

	// The logical id is handed out again.
	again, err := ps.AllocatePage(PageTypeData)
	require.NoError(t, err)
	assert.Equal(t, id, again.Header.PageID)
}

func TestPageStoreDoubleClose(t *testing.T) {
	ps := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, ps.Close())

	assert.ErrorIs(t, ps.Close(), ErrStoreClosed)
	_, err := ps.ReadPage(1)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = ps.AllocatePage(PageTypeData)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestPageStoreOpenUnwritablePath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "store.db"), 0, DefaultOptions())
	assert.ErrorIs(t, err, ErrIOFailure)
}

func TestPageStoreOpenCorruptHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ps := openTestStore(t, path)
	writeData(t, ps, "x")
	commit(t, ps)
	require.NoError(t, ps.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	garbage := bytes.Repeat([]byte{0xAB}, 64)
	_, err = f.WriteAt(garbage, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(garbage, PageSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, 0, DefaultOptions())
	assert.ErrorIs(t, err, ErrIOFailure)
}

func TestPageStoreTornHeaderFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ps := openTestStore(t, path)
	id := writeData(t, ps, "one")
	commit(t, ps) // seq 2, slot 0

	page, err := ps.ReadPage(id)
	require.NoError(t, err)
	copy(page.Data, "two")
	require.NoError(t, ps.WritePage(page))
	commit(t, ps) // seq 3, slot 1
	require.NoError(t, ps.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF}, PageSize+30)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ps = openTestStore(t, path)
	defer ps.Close()
	assert.Equal(t, uint64(2), ps.Seq())
	assert.Equal(t, "one", readData(t, ps, id, 3))
}

func TestPageStoreSpillsWithSmallPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ps := openTestStore(t, path)

	// 1 MiB pool is 256 frames.
	const n = 600
	ids := make([]PageID, n)
	for i := range ids {
		ids[i] = writeData(t, ps, string(rune('a'+i%26)))
	}
	assert.Greater(t, ps.Stats().Spills, uint64(0))
	for i, id := range ids {
		assert.Equal(t, string(rune('a'+i%26)), readData(t, ps, id, 1))
	}
	commit(t, ps)
	require.NoError(t, ps.Close())

	ps = openTestStore(t, path)
	defer ps.Close()
	for i, id := range ids {
		assert.Equal(t, string(rune('a'+i%26)), readData(t, ps, id, 1))
	}
}

func TestPageStoreRollbackReleasesSpilledPages(t *testing.T) {
	ps := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	defer ps.Close()

	for i := 0; i < 400; i++ {
		writeData(t, ps, "s")
	}
	before := ps.Stats().FreePhysical
	require.NoError(t, ps.Rollback())
	assert.Greater(t, ps.Stats().FreePhysical, before)
	assert.False(t, ps.HasChanges())
}

func TestPageStoreHandlesShareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	a := openTestStore(t, path)
	defer a.Close()
	b := openTestStore(t, path)
	defer b.Close()

	id := writeData(t, a, "from a")
	commit(t, a)

	assert.True(t, b.Stale())
	require.NoError(t, b.Refresh())
	assert.False(t, b.Stale())
	assert.Equal(t, "from a", readData(t, b, id, 6))
}

func TestPageStoreStaleCommitRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	a := openTestStore(t, path)
	defer a.Close()
	b := openTestStore(t, path)
	defer b.Close()

	writeData(t, a, "a")
	writeData(t, b, "b")
	commit(t, a)

	b.LockCommit()
	err := b.Commit()
	b.UnlockCommit()
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.ErrorIs(t, b.Refresh(), ErrUncommittedChange)
	require.NoError(t, b.Rollback())
	require.NoError(t, b.Refresh())
}

func TestPageStoreRetiredPagesWaitForReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	writer := openTestStore(t, path)
	defer writer.Close()

	id := writeData(t, writer, "v1")
	commit(t, writer)

	reader := openTestStore(t, path)
	defer reader.Close()

	for i := 0; i < 20; i++ {
		page, err := writer.ReadPage(id)
		require.NoError(t, err)
		copy(page.Data, "v2")
		require.NoError(t, writer.WritePage(page))
		commit(t, writer)
	}

	// The reader still sees its snapshot because the pages it maps were
	// not handed out again.
	assert.Equal(t, "v1", readData(t, reader, id, 2))
	assert.Greater(t, writer.Stats().RetiredSets, 0)

	require.NoError(t, reader.Refresh())
	assert.Equal(t, "v2", readData(t, reader, id, 2))
	assert.Equal(t, 0, writer.Stats().RetiredSets)
}

func TestPageStoreExportImport(t *testing.T) {
	dir := t.TempDir()
	src := openTestStore(t, filepath.Join(dir, "src.db"))
	defer src.Close()

	a := writeData(t, src, "alpha")
	b := writeData(t, src, "beta")
	src.SetMeta(MetaNextOID, 3)
	commit(t, src)

	dst := openTestStore(t, filepath.Join(dir, "dst.db"))
	defer dst.Close()

	require.NoError(t, src.ExportPages(func(page *Page) error {
		return dst.ImportPage(page)
	}))
	dst.SetMeta(MetaNextOID, src.Meta(MetaNextOID))
	commit(t, dst)

	assert.Equal(t, "alpha", readData(t, dst, a, 5))
	assert.Equal(t, "beta", readData(t, dst, b, 4))

	assert.ErrorIs(t, dst.ImportPage(NewPage(9, PageTypeData)), ErrStoreNotEmpty)
}

func TestPageStoreManyPagesSpanMapPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ps, err := Open(path, 64<<20, DefaultOptions().WithSyncOnCommit(false))
	require.NoError(t, err)

	const n = mapEntriesPerPage*2 + 10
	for i := 0; i < n; i++ {
		writeData(t, ps, "m")
	}
	commit(t, ps)
	require.NoError(t, ps.Close())

	ps = openTestStore(t, path)
	defer ps.Close()
	assert.Equal(t, uint32(3), ps.Header().MapPages)
	assert.Equal(t, "m", readData(t, ps, PageID(n), 1))
}
