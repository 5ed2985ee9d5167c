// Package authgate authenticates users by password, WebAuthn passkey or OAuth2
// and records the result as one fact in the session: the id of the logged in
// user.
//
// # Architecture
//
// SessionStore: a key/value view of the client session (scs backed) that can
// be regenerated. Every login and logout regenerates the session identifier.
//
// ChallengeToken: a single use random value kept in a session slot. Passkey
// ceremonies use it as the WebAuthn challenge; it is consumed atomically with
// TakeAndInvalidate so it can never be verified twice.
//
// PasswordAuthenticator: looks up a user by email and compares the bcrypt
// hash. Bad credentials yield the Anonymous identity, not an error.
//
// Middleware: resolves the current user and guards protected handlers. A
// handler that returns ErrForbidden for an unauthenticated request triggers
// the configured RecoveryFlow (the OAuth2 coordinator in package oauth2).
//
// Passkey ceremonies live in package passkey, the OAuth2 handshake in package
// oauth2 and the gorm backed user and credential stores in stores/gorm.
//
// # Basic Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	store := gormstore.New(db)
//
//	gate := authgate.New("MyApp", nil, store, store)
//	ceremony, _ := passkey.New(passkey.Config{
//	    RelyingPartyName: "MyApp",
//	    Host:             "myapp.example.com",
//	}, gate.Sessions, store, store)
//	gate.AddAuth("/passkey", passkey.NewHandler(ceremony, gate.Sessions, gate.Middleware))
//
//	gate.Protect("/account", func(w http.ResponseWriter, r *http.Request) error {
//	    user, err := authgate.RequireUser(r)
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	})
//	http.ListenAndServe(":8080", gate.Handler())
//
// # Security
//
// OAuth state values and passkey challenges are 32 bytes from crypto/rand.
// Stored OAuth state is deleted before it is compared and compared in constant
// time. Passkey signature counters must strictly increase between logins.
package authgate
