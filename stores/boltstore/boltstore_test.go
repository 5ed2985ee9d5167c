package boltstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommitFindDelete(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.Find("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Commit("tok", []byte("payload"), time.Now().Add(time.Minute)))
	data, found, err := s.Find("tok")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, s.Commit("tok", []byte("changed"), time.Now().Add(time.Minute)))
	data, _, _ = s.Find("tok")
	assert.Equal(t, []byte("changed"), data)

	require.NoError(t, s.Delete("tok"))
	_, found, err = s.Find("tok")
	require.NoError(t, err)
	assert.False(t, found)

	// deleting twice is not an error
	assert.NoError(t, s.Delete("tok"))
}

func TestExpiredSessionsAreHidden(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Commit("old", []byte("a"), now.Add(-time.Second)))
	require.NoError(t, s.Commit("new", []byte("b"), now.Add(time.Hour)))

	_, found, err := s.Find("old")
	require.NoError(t, err)
	assert.False(t, found)

	all, err := s.All()
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"new": []byte("b")}, all)

	n, err := s.DeleteExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	n, err = s.DeleteExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	all, err = s.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSessionsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Commit("tok", []byte("kept"), time.Now().Add(time.Minute)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = Open(path, 0)
	require.NoError(t, err)
	defer s.Close()
	data, found, err := s.Find("tok")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("kept"), data)
}

func TestCleanupGoroutine(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"), 10*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Commit("gone", []byte("x"), time.Now().Add(20*time.Millisecond)))
	assert.Eventually(t, func() bool {
		n := 0
		s.db.View(func(tx *bbolt.Tx) error {
			n = tx.Bucket(bucketName).Stats().KeyN
			return nil
		})
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAsSessionManagerStore(t *testing.T) {
	s := openTestStore(t)
	manager := scs.New()
	manager.Store = s

	ctx, err := manager.Load(context.Background(), "")
	require.NoError(t, err)
	manager.Put(ctx, "user_id", int64(42))
	token, _, err := manager.Commit(ctx)
	require.NoError(t, err)

	handler := manager.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, int64(42), manager.GetInt64(r.Context(), "user_id"))
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: manager.Cookie.Name, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
