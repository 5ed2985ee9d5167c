// Package passkey runs WebAuthn registration and authentication ceremonies
// with the challenge kept in the client session.
package passkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	ag "github.com/panyam/authgate"
)

// Reason explains why a ceremony response was not accepted.
type Reason string

const (
	ReasonInvalidResponseType    Reason = "Invalid response type"
	ReasonMalformedResponse      Reason = "Malformed response"
	ReasonNoChallenge            Reason = "No challenge issued"
	ReasonUnsupportedAttestation Reason = "Unsupported attestation"
	ReasonVerificationFailed     Reason = "Verification failed"
	ReasonDuplicateCredential    Reason = "Credential already registered"
	ReasonUnknownCredential      Reason = "Unknown credential"
	ReasonPossibleClone          Reason = "Possible clone detected"
)

// Result is the outcome of a completed ceremony. A rejected response is a
// Result with Verified false, never an error; errors are reserved for
// storage and other system failures.
type Result struct {
	Verified   bool              `json:"verified"`
	Reason     Reason            `json:"reason,omitempty"`
	User       ag.UserIdentity   `json:"-"`
	Credential *CredentialRecord `json:"-"`
}

func rejected(reason Reason) Result {
	return Result{Verified: false, Reason: reason}
}

// Ceremony issues WebAuthn options and verifies the client responses.
type Ceremony struct {
	config      Config
	web         *webauthn.WebAuthn
	challenge   *ag.ChallengeToken
	users       ag.UserDirectory
	credentials CredentialRepository
	Logger      *slog.Logger
}

func New(cfg Config, sessions ag.SessionStore, users ag.UserDirectory, credentials CredentialRepository) (*Ceremony, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid passkey config: %w", err)
	}
	web, err := webauthn.New(cfg.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn: %w", err)
	}
	return &Ceremony{
		config:      cfg,
		web:         web,
		challenge:   ag.NewChallengeToken(sessions, ag.SessionChallenge),
		users:       users,
		credentials: credentials,
		Logger:      slog.Default(),
	}, nil
}

// Config returns the configuration the ceremony was built with.
func (c *Ceremony) Config() Config {
	return c.config
}

// BeginRegistration issues creation options for a logged in user. Calling it
// again replaces the challenge, so options from an earlier call stop working.
func (c *Ceremony) BeginRegistration(ctx context.Context, user ag.UserIdentity) (*protocol.PublicKeyCredentialCreationOptions, error) {
	if !user.IsAuthenticated() {
		return nil, ag.ErrForbidden
	}

	existing, err := c.credentials.FindByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials of user %d: %w", user.ID, err)
	}
	wu := newWebauthnUser(user, existing)

	challenge, err := c.newChallenge(ctx)
	if err != nil {
		return nil, err
	}

	creation, _, err := c.web.BeginRegistration(wu,
		withRegistrationChallenge(challenge),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
		webauthn.WithAttestationFormats([]protocol.AttestationFormat{protocol.AttestationFormatNone}),
		webauthn.WithExclusions(webauthn.Credentials(wu.WebAuthnCredentials()).CredentialDescriptors()),
	)
	if err != nil {
		c.challenge.Invalidate(ctx)
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}
	return &creation.Response, nil
}

// CompleteRegistration verifies an attestation response against the
// challenge issued by BeginRegistration and stores the new credential. The
// challenge is consumed whatever the outcome.
func (c *Ceremony) CompleteRegistration(ctx context.Context, user ag.UserIdentity, body []byte) (Result, error) {
	challenge, cerr := c.challenge.TakeAndInvalidate(ctx)
	if !user.IsAuthenticated() {
		return Result{}, ag.ErrForbidden
	}

	resp, err := ParseClientResponse(body)
	if errors.Is(err, ErrUnrecognizedResponse) {
		return rejected(ReasonInvalidResponseType), nil
	} else if err != nil {
		c.Logger.Info("malformed attestation", "user_id", user.ID, "err", err)
		return rejected(ReasonMalformedResponse), nil
	}
	if resp.Kind != KindAttestation {
		return rejected(ReasonInvalidResponseType), nil
	}
	if cerr != nil {
		return rejected(ReasonNoChallenge), nil
	}
	if err := checkAttestationTrust(resp.Attestation); err != nil {
		c.Logger.Info("attestation rejected", "user_id", user.ID, "err", err)
		return rejected(ReasonUnsupportedAttestation), nil
	}

	existing, err := c.credentials.FindByUser(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("loading credentials of user %d: %w", user.ID, err)
	}
	wu := newWebauthnUser(user, existing)
	session := webauthn.SessionData{
		Challenge:        challenge,
		RelyingPartyID:   c.config.Host,
		UserID:           wu.WebAuthnID(),
		UserVerification: protocol.VerificationPreferred,
		CredParams:       webauthn.CredentialParametersDefault(),
	}

	cred, err := c.web.CreateCredential(wu, session, resp.Attestation)
	if err != nil {
		c.Logger.Info("registration verification failed", "user_id", user.ID, "err", describe(err))
		return rejected(ReasonVerificationFailed), nil
	}

	record := NewCredentialRecord(user.ID, cred)
	if err := c.credentials.Save(ctx, record); errors.Is(err, ErrCredentialExists) {
		return rejected(ReasonDuplicateCredential), nil
	} else if err != nil {
		return Result{}, fmt.Errorf("saving credential: %w", err)
	}
	c.Logger.Info("passkey registered", "user_id", user.ID, "attestation", record.AttestationType)
	return Result{Verified: true, User: user, Credential: record}, nil
}

// BeginAuthentication issues request options for a discoverable credential.
// No identity is needed: the credential in the response names the user.
func (c *Ceremony) BeginAuthentication(ctx context.Context) (*protocol.PublicKeyCredentialRequestOptions, error) {
	challenge, err := c.newChallenge(ctx)
	if err != nil {
		return nil, err
	}
	assertion, _, err := c.web.BeginDiscoverableLogin(
		webauthn.WithChallenge(challenge),
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		c.challenge.Invalidate(ctx)
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}
	return &assertion.Response, nil
}

// CompleteAuthentication verifies an assertion response and returns the owner
// of the credential in Result.User. The stored signature counter must be
// exceeded by the reported one (or both be zero); the new value is stored
// with a compare-and-swap so two concurrent replays cannot both succeed.
func (c *Ceremony) CompleteAuthentication(ctx context.Context, body []byte) (Result, error) {
	challenge, cerr := c.challenge.TakeAndInvalidate(ctx)

	resp, err := ParseClientResponse(body)
	if errors.Is(err, ErrUnrecognizedResponse) {
		return rejected(ReasonInvalidResponseType), nil
	} else if err != nil {
		c.Logger.Info("malformed assertion", "err", err)
		return rejected(ReasonMalformedResponse), nil
	}
	if resp.Kind != KindAssertion {
		return rejected(ReasonInvalidResponseType), nil
	}
	if cerr != nil {
		return rejected(ReasonNoChallenge), nil
	}

	record, err := c.credentials.FindByCredentialID(ctx, resp.Assertion.RawID)
	if errors.Is(err, ErrCredentialNotFound) {
		return rejected(ReasonUnknownCredential), nil
	} else if err != nil {
		return Result{}, fmt.Errorf("loading credential: %w", err)
	}

	owner, err := c.users.LoadUserByID(ctx, record.UserID)
	if errors.Is(err, ag.ErrUserNotFound) || (err == nil && !owner.IsAuthenticated()) {
		c.Logger.Info("credential owner missing or inactive", "user_id", record.UserID)
		return rejected(ReasonUnknownCredential), nil
	} else if err != nil {
		return Result{}, fmt.Errorf("loading user %d: %w", record.UserID, err)
	}

	wu := newWebauthnUser(owner, []CredentialRecord{*record})
	session := webauthn.SessionData{
		Challenge:        challenge,
		RelyingPartyID:   c.config.Host,
		UserID:           wu.WebAuthnID(),
		UserVerification: protocol.VerificationPreferred,
	}
	cred, err := c.web.ValidateLogin(wu, session, resp.Assertion)
	if err != nil {
		c.Logger.Info("login verification failed", "user_id", owner.ID, "err", describe(err))
		return rejected(ReasonVerificationFailed), nil
	}
	if cred.Authenticator.CloneWarning {
		c.Logger.Warn("signature counter did not increase", "user_id", owner.ID,
			"stored", record.Counter, "reported", resp.Assertion.Response.AuthenticatorData.Counter)
		return rejected(ReasonPossibleClone), nil
	}

	if cred.Authenticator.SignCount != record.Counter {
		err = c.credentials.UpdateCounter(ctx, record.ID, record.Counter, cred.Authenticator.SignCount)
		if errors.Is(err, ErrCounterConflict) {
			c.Logger.Warn("signature counter raced", "user_id", owner.ID)
			return rejected(ReasonPossibleClone), nil
		} else if err != nil {
			return Result{}, fmt.Errorf("updating signature counter: %w", err)
		}
		record.Counter = cred.Authenticator.SignCount
	}
	return Result{Verified: true, User: owner, Credential: record}, nil
}

func (c *Ceremony) newChallenge(ctx context.Context) ([]byte, error) {
	token, err := c.challenge.Generate(ctx)
	if err != nil {
		return nil, err
	}
	return ag.DecodeChallenge(token)
}

// withRegistrationChallenge makes the creation options carry the session
// challenge instead of the one go-webauthn generates.
func withRegistrationChallenge(challenge []byte) webauthn.RegistrationOption {
	return func(opts *protocol.PublicKeyCredentialCreationOptions) {
		opts.Challenge = challenge
	}
}

// checkAttestationTrust accepts "none" and self attestation. Any statement
// carrying a certificate chain would need trust path validation, which is
// not supported.
func checkAttestationTrust(parsed *protocol.ParsedCredentialCreationData) error {
	att := parsed.Response.AttestationObject
	if _, hasChain := att.AttStatement["x5c"]; hasChain {
		return fmt.Errorf("attestation format %q carries a certificate chain", att.Format)
	}
	switch att.Format {
	case string(protocol.AttestationFormatNone), string(protocol.AttestationFormatPacked):
		return nil
	}
	return fmt.Errorf("attestation format %q not supported", att.Format)
}

func describe(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.DevInfo != "" {
		return perr.Details + ": " + perr.DevInfo
	}
	return err.Error()
}
