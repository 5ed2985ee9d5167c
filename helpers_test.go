package authgate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ag "github.com/panyam/authgate"
)

var errStorageDown = errors.New("storage down")

// fakeDirectory is an in-memory UserDirectory and PasswordStore.
type fakeDirectory struct {
	mu     sync.Mutex
	users  map[int64]ag.UserIdentity
	hashes map[int64][]byte
	err    error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[int64]ag.UserIdentity{}, hashes: map[int64][]byte{}}
}

func (d *fakeDirectory) add(t *testing.T, user ag.UserIdentity, password string) ag.UserIdentity {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		require.NoError(t, err)
		d.hashes[user.ID] = hash
	}
	return user
}

func (d *fakeDirectory) remove(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, id)
}

func (d *fakeDirectory) LoadUserByID(_ context.Context, id int64) (ag.UserIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return ag.Anonymous, d.err
	}
	if id == 0 {
		return ag.Anonymous, nil
	}
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return ag.Anonymous, ag.ErrUserNotFound
}

func (d *fakeDirectory) LoadUserByEmail(_ context.Context, email string) (ag.UserIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return ag.Anonymous, d.err
	}
	for _, u := range d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return ag.Anonymous, ag.ErrUserNotFound
}

func (d *fakeDirectory) LoadPasswordHash(ctx context.Context, email string) (ag.UserIdentity, []byte, error) {
	u, err := d.LoadUserByEmail(ctx, email)
	if err != nil {
		return u, nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return u, d.hashes[u.ID], nil
}

var bob = ag.UserIdentity{ID: 42, FirstName: "Bob", LastName: "Smith", Email: "bob@example.com"}

// loadedSession returns a session manager and a context carrying a fresh
// session, as LoadAndSave would provide.
func loadedSession(t *testing.T) (*scs.SessionManager, context.Context) {
	t.Helper()
	manager := scs.New()
	ctx, err := manager.Load(context.Background(), "")
	require.NoError(t, err)
	return manager, ctx
}

// noRedirectClient keeps cookies between calls and returns redirects as is.
func noRedirectClient(t *testing.T) (*http.Client, http.CookieJar) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, jar
}

func cookieValue(jar http.CookieJar, rawURL, name string) string {
	u, _ := url.Parse(rawURL)
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
