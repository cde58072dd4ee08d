package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// User is version-tracked.
type User struct {
	Versioned
	Name    string
	Balance float64
	Manager Ref[User]
}

func (u *User) References() []Reference {
	return []Reference{&u.Manager}
}

// Note is not version-tracked.
type Note struct {
	Text string
	Next Ref[Note]
}

func (n *Note) References() []Reference {
	return []Reference{&n.Next}
}

func userName(obj any) (any, error) {
	u, ok := obj.(*User)
	if !ok {
		return nil, errors.New("not a user")
	}
	return u.Name, nil
}

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.odb")
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, 1<<20, WithSyncOnCommit(false))
	require.NoError(t, err)
	require.NoError(t, Register[User](s, "User"))
	require.NoError(t, Register[Note](s, "Note"))
	return s
}

func closeStore(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.Close())
}

func TestOpenCreatesStore(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	root, err := s.GetRoot()
	require.NoError(t, err)
	assert.Nil(t, root)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Types)
	assert.Equal(t, 0, stats.Objects)
	assert.False(t, stats.InTransaction)
}

func TestOpenFailsOnUnwritablePath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "x.odb"), 1<<20)
	assert.ErrorIs(t, err, ErrIOFailure)
}

func TestCloseTwice(t *testing.T) {
	s := openTestStore(t, testPath(t))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrStoreClosed)

	_, err := s.Load(1)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.MakePersistent(&User{})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestCloseCommitsPendingChanges(t *testing.T) {
	path := testPath(t)
	s := openTestStore(t, path)
	require.NoError(t, s.SetRoot(&User{Name: "root", Balance: 3}))
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer closeStore(t, s)
	root, err := s.GetRoot()
	require.NoError(t, err)
	require.IsType(t, &User{}, root)
	assert.Equal(t, "root", root.(*User).Name)
	assert.Equal(t, 3.0, root.(*User).Balance)
}

func TestRegisterRejectsConflicts(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	require.NoError(t, Register[User](s, "User"))
	assert.ErrorIs(t, Register[Note](s, "User"), ErrTypeExists)
	assert.ErrorIs(t, Register[User](s, "Person"), ErrTypeExists)
	assert.ErrorIs(t, Register[User](s, ""), ErrInvalidState)
}

func TestMakePersistentRequiresRegisteredPointer(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	type unknown struct{ A int }
	_, err := s.MakePersistent(&unknown{})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = s.MakePersistent(User{})
	assert.ErrorIs(t, err, ErrNilObject)

	_, err = s.MakePersistent(nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestIdentityMap(t *testing.T) {
	path := testPath(t)
	s := openTestStore(t, path)
	u := &User{Name: "ann"}
	oid, err := s.MakePersistent(u)
	require.NoError(t, err)

	again, err := s.MakePersistent(u)
	require.NoError(t, err)
	assert.Equal(t, oid, again)

	loaded, err := s.Load(oid)
	require.NoError(t, err)
	assert.Same(t, u, loaded)
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer closeStore(t, s)
	a, err := Get[User](s, oid)
	require.NoError(t, err)
	b, err := Get[User](s, oid)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "ann", a.Name)

	_, err = Get[Note](s, oid)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestLoadUnknownOID(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	_, err := s.Load(999)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, err, ErrInvalidState)

	obj, err := s.Load(0)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestCommitWithNothingPendingIsNoop(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	before, err := s.Stats()
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	require.NoError(t, s.Commit())
	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.Storage.Seq, after.Storage.Seq)
}

func TestExplicitTransactionLifecycle(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)
	ctx := context.Background()

	tr, err := s.Begin(ctx, Cooperative)
	require.NoError(t, err)
	_, err = s.MakePersistent(&User{Name: "bob"})
	require.NoError(t, err)
	require.NoError(t, tr.Commit())

	assert.ErrorIs(t, tr.Commit(), ErrInvalidState)
	assert.ErrorIs(t, tr.Rollback(), ErrInvalidState)

	all, err := All[User](s, "User")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].Name)
}

func TestBeginAdoptsImplicitChanges(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	u := &User{Name: "carol"}
	_, err := s.MakePersistent(u)
	require.NoError(t, err)

	tr, err := s.Begin(context.Background(), Exclusive)
	require.NoError(t, err)
	require.NoError(t, tr.Rollback())

	_, ok := s.OID(u)
	assert.False(t, ok)
	all, err := s.RetrieveAll("User")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRollbackRestoresFields(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	u := &User{Name: "dave", Balance: 5}
	_, err := s.MakePersistent(u)
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	u.Balance = 99
	u.Name = "changed"
	require.NoError(t, s.Modify(u))
	fresh := &User{Name: "fresh"}
	_, err = s.MakePersistent(fresh)
	require.NoError(t, err)

	require.NoError(t, s.Rollback())
	assert.Equal(t, 5.0, u.Balance)
	assert.Equal(t, "dave", u.Name)
	_, ok := s.OID(fresh)
	assert.False(t, ok)

	h, err := s.GetVersionHistory(u)
	require.NoError(t, err)
	assert.Equal(t, 1, h.NumberOfVersions())
}

func TestModifyRequiresPersistentObject(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	assert.ErrorIs(t, s.Modify(&User{}), ErrNotPersistent)
}

func TestVersionHistory(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	u := &User{Name: "erin"}
	h, err := s.GetVersionHistory(&User{})
	assert.ErrorIs(t, err, ErrNotPersistent)
	assert.Nil(t, h)

	_, err = s.MakePersistent(u)
	require.NoError(t, err)
	h, err = s.GetVersionHistory(u)
	require.NoError(t, err)
	assert.Nil(t, h, "never committed")

	require.NoError(t, s.Commit())
	for i := 1; i <= 3; i++ {
		u.Balance = float64(i * 10)
		require.NoError(t, s.Modify(u))
		require.NoError(t, s.Commit())
	}

	h, err = s.GetVersionHistory(u)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 4, h.NumberOfVersions())

	root, err := h.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), root.Number)
	assert.Equal(t, 0.0, root.Object.(*User).Balance)

	cur, err := h.Current()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cur.Number)
	assert.Equal(t, 30.0, cur.Object.(*User).Balance)
	assert.NotSame(t, u, cur.Object)
	assert.WithinDuration(t, time.Now(), cur.CommittedAt, time.Minute)

	v2, err := h.Version(2)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v2.Object.(*User).Balance)

	_, err = h.Version(9)
	assert.ErrorIs(t, err, ErrInvalidState)

	versions, err := h.Versions()
	require.NoError(t, err)
	require.Len(t, versions, 4)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v.Number)
	}
}

func TestUntrackedObjectsHaveNoHistory(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	n := &Note{Text: "a"}
	_, err := s.MakePersistent(n)
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	n.Text = "b"
	require.NoError(t, s.Modify(n))
	require.NoError(t, s.Commit())

	h, err := s.GetVersionHistory(n)
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestDeallocate(t *testing.T) {
	path := testPath(t)
	s := openTestStore(t, path)

	users, err := s.CreateIndex("users", KeyString, true)
	require.NoError(t, err)
	u := &User{Name: "frank"}
	require.NoError(t, users.Put("frank", u))
	require.NoError(t, s.Commit())
	oid, ok := s.OID(u)
	require.True(t, ok)

	require.NoError(t, s.Deallocate(u))
	require.NoError(t, s.Deallocate(u))
	assert.ErrorIs(t, s.Modify(u), ErrObjectDeleted)
	require.NoError(t, s.Commit())

	got, err := users.Get("frank")
	require.NoError(t, err)
	assert.Nil(t, got, "dangling entries resolve to nothing")
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer closeStore(t, s)
	_, err = s.Load(oid)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	all, err := s.RetrieveAll("User")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeallocateRolledBack(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	u := &User{Name: "gina"}
	oid, err := s.MakePersistent(u)
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	require.NoError(t, s.Deallocate(u))
	require.NoError(t, s.Rollback())

	got, err := s.Load(oid)
	require.NoError(t, err)
	assert.Same(t, u, got)
	require.NoError(t, s.Modify(u))
	require.NoError(t, s.Commit())
}

func TestDeallocateNewObject(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	u := &User{Name: "hank"}
	_, err := s.MakePersistent(u)
	require.NoError(t, err)
	require.NoError(t, s.Deallocate(u))
	require.NoError(t, s.Commit())

	all, err := s.RetrieveAll("User")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRetrieveAll(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	for i := 0; i < 5; i++ {
		_, err := s.MakePersistent(&User{Name: string(rune('a' + i))})
		require.NoError(t, err)
	}
	_, err := s.MakePersistent(&Note{Text: "n"})
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	_, err = s.MakePersistent(&User{Name: "pending"})
	require.NoError(t, err)

	users, err := All[User](s, "User")
	require.NoError(t, err)
	require.Len(t, users, 6)
	assert.Equal(t, "a", users[0].Name)
	assert.Equal(t, "pending", users[5].Name)

	notes, err := s.RetrieveAll("Note")
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	_, err = s.RetrieveAll("Nope")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRootObject(t *testing.T) {
	path := testPath(t)
	s := openTestStore(t, path)

	root := &Note{Text: "root"}
	require.NoError(t, s.SetRoot(root))
	require.NoError(t, s.Commit())
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer closeStore(t, s)
	got, err := s.GetRoot()
	require.NoError(t, err)
	assert.Equal(t, "root", got.(*Note).Text)

	require.NoError(t, s.SetRoot(nil))
	require.NoError(t, s.Commit())
	got, err = s.GetRoot()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReloadDiscardsLocalChanges(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	u := &User{Name: "ivy", Balance: 1}
	_, err := s.MakePersistent(u)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Reload(u), ErrInvalidState)
	require.NoError(t, s.Commit())

	u.Balance = 50
	require.NoError(t, s.Reload(u))
	assert.Equal(t, 1.0, u.Balance)
}

func TestRefreshWithPendingChanges(t *testing.T) {
	s := openTestStore(t, testPath(t))
	defer closeStore(t, s)

	_, err := s.MakePersistent(&User{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Refresh(), ErrInvalidState)
	require.NoError(t, s.Commit())
	require.NoError(t, s.Refresh())
}

func TestLargeObjectUsesOverflow(t *testing.T) {
	path := testPath(t)
	s := openTestStore(t, path)

	big := make([]byte, 20000)
	for i := range big {
		big[i] = 'a' + byte(i%26)
	}
	n := &Note{Text: string(big)}
	oid, err := s.MakePersistent(n)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer closeStore(t, s)
	got, err := Get[Note](s, oid)
	require.NoError(t, err)
	assert.Equal(t, string(big), got.Text)
}
