package passkey_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ag "github.com/panyam/authgate"
	"github.com/panyam/authgate/passkey"
)

// memCredentials is an in-memory CredentialRepository.
type memCredentials struct {
	mu      sync.Mutex
	records []passkey.CredentialRecord
}

func (m *memCredentials) Save(_ context.Context, record *passkey.CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if bytes.Equal(r.ID, record.ID) {
			return passkey.ErrCredentialExists
		}
	}
	m.records = append(m.records, *record)
	return nil
}

func (m *memCredentials) FindByCredentialID(_ context.Context, id []byte) (*passkey.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if bytes.Equal(r.ID, id) {
			found := r
			return &found, nil
		}
	}
	return nil, passkey.ErrCredentialNotFound
}

func (m *memCredentials) FindByUser(_ context.Context, userID int64) ([]passkey.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []passkey.CredentialRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memCredentials) UpdateCounter(_ context.Context, id []byte, previous, next uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if bytes.Equal(m.records[i].ID, id) {
			if m.records[i].Counter != previous {
				return passkey.ErrCounterConflict
			}
			m.records[i].Counter = next
			return nil
		}
	}
	return passkey.ErrCredentialNotFound
}

func (m *memCredentials) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// fakeUsers is an in-memory UserDirectory and PasswordStore.
type fakeUsers struct {
	users  []ag.UserIdentity
	hashes map[int64][]byte
}

func (f *fakeUsers) LoadUserByID(_ context.Context, id int64) (ag.UserIdentity, error) {
	if id == 0 {
		return ag.Anonymous, nil
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return ag.Anonymous, ag.ErrUserNotFound
}

func (f *fakeUsers) LoadUserByEmail(_ context.Context, email string) (ag.UserIdentity, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return ag.Anonymous, ag.ErrUserNotFound
}

func (f *fakeUsers) LoadPasswordHash(ctx context.Context, email string) (ag.UserIdentity, []byte, error) {
	u, err := f.LoadUserByEmail(ctx, email)
	if err != nil {
		return u, nil, err
	}
	return u, f.hashes[u.ID], nil
}

var carol = ag.UserIdentity{ID: 42, FirstName: "Carol", LastName: "Jones", Email: "carol@example.com"}

func newFakeUsers(t *testing.T, password string) *fakeUsers {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &fakeUsers{users: []ag.UserIdentity{carol}, hashes: map[int64][]byte{carol.ID: hash}}
}

var testConfig = passkey.Config{
	RelyingPartyName: "Example Corp",
	Host:             "example.com",
}

var testRP = virtualwebauthn.RelyingParty{
	Name:   "Example Corp",
	ID:     "example.com",
	Origin: "https://example.com",
}

// fixture is one browser session talking to a ceremony directly.
type fixture struct {
	ctx         context.Context
	ceremony    *passkey.Ceremony
	credentials *memCredentials
	users       *fakeUsers
	sessions    *ag.ScsSessions
	auth        virtualwebauthn.Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, &memCredentials{})
}

func newFixtureWith(t *testing.T, credentials passkey.CredentialRepository) *fixture {
	t.Helper()
	manager := scs.New()
	ctx, err := manager.Load(context.Background(), "")
	require.NoError(t, err)

	users := newFakeUsers(t, "pw")
	sessions := ag.NewScsSessions(manager)
	ceremony, err := passkey.New(testConfig, sessions, users, credentials)
	require.NoError(t, err)

	f := &fixture{
		ctx:      ctx,
		ceremony: ceremony,
		users:    users,
		sessions: sessions,
		auth: virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
			UserHandle: carol.ExternalID(),
		}),
	}
	if mem, ok := credentials.(*memCredentials); ok {
		f.credentials = mem
	}
	return f
}

// attestation runs BeginRegistration and answers it with cred.
func (f *fixture) attestation(t *testing.T, cred virtualwebauthn.Credential) string {
	t.Helper()
	options, err := f.ceremony.BeginRegistration(f.ctx, carol)
	require.NoError(t, err)
	return attestationFor(t, options, f.auth, cred)
}

func attestationFor(t *testing.T, options any, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential) string {
	t.Helper()
	optionsJSON, err := json.Marshal(options)
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	return virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsed)
}

// assertion runs BeginAuthentication and answers it with cred.
func (f *fixture) assertion(t *testing.T, cred virtualwebauthn.Credential) string {
	t.Helper()
	options, err := f.ceremony.BeginAuthentication(f.ctx)
	require.NoError(t, err)
	return assertionFor(t, options, f.auth, cred)
}

func assertionFor(t *testing.T, options any, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential) string {
	t.Helper()
	optionsJSON, err := json.Marshal(options)
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)
	return virtualwebauthn.CreateAssertionResponse(testRP, auth, cred, *parsed)
}

// register enrolls cred for carol and fails the test if it is rejected.
func (f *fixture) register(t *testing.T, cred virtualwebauthn.Credential) {
	t.Helper()
	result, err := f.ceremony.CompleteRegistration(f.ctx, carol, []byte(f.attestation(t, cred)))
	require.NoError(t, err)
	require.True(t, result.Verified, "registration rejected: %s", result.Reason)
	f.auth.AddCredential(cred)
}
