package passkey

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

// ResponseKind tells which ceremony a client response belongs to.
type ResponseKind int

const (
	KindAttestation ResponseKind = iota + 1
	KindAssertion
)

func (k ResponseKind) String() string {
	switch k {
	case KindAttestation:
		return "attestation"
	case KindAssertion:
		return "assertion"
	}
	return "unknown"
}

// ErrUnrecognizedResponse is returned for bodies that are neither an
// attestation nor an assertion response.
var ErrUnrecognizedResponse = errors.New("unrecognized authenticator response")

// ClientResponse is the signed response a browser posts back at the end of a
// ceremony. Exactly one of Attestation and Assertion is set, matching Kind.
type ClientResponse struct {
	Kind        ResponseKind
	Attestation *protocol.ParsedCredentialCreationData
	Assertion   *protocol.ParsedCredentialAssertionData
}

// responseShape is enough of a PublicKeyCredential to tell the variants apart.
type responseShape struct {
	Response struct {
		AttestationObject json.RawMessage `json:"attestationObject"`
		AuthenticatorData json.RawMessage `json:"authenticatorData"`
		Signature         json.RawMessage `json:"signature"`
	} `json:"response"`
}

// ParseClientResponse decides the variant from the fields present and parses
// the body with go-webauthn.
func ParseClientResponse(body []byte) (ClientResponse, error) {
	var shape responseShape
	if err := json.Unmarshal(body, &shape); err != nil {
		return ClientResponse{}, fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
	}

	switch {
	case len(shape.Response.AttestationObject) > 0:
		var ccr protocol.CredentialCreationResponse
		if err := json.Unmarshal(body, &ccr); err != nil {
			return ClientResponse{}, fmt.Errorf("parsing attestation: %w", err)
		}
		parsed, err := ccr.Parse()
		if err != nil {
			return ClientResponse{}, fmt.Errorf("parsing attestation: %w", err)
		}
		return ClientResponse{Kind: KindAttestation, Attestation: parsed}, nil

	case len(shape.Response.AuthenticatorData) > 0 && len(shape.Response.Signature) > 0:
		var car protocol.CredentialAssertionResponse
		if err := json.Unmarshal(body, &car); err != nil {
			return ClientResponse{}, fmt.Errorf("parsing assertion: %w", err)
		}
		parsed, err := car.Parse()
		if err != nil {
			return ClientResponse{}, fmt.Errorf("parsing assertion: %w", err)
		}
		return ClientResponse{Kind: KindAssertion, Assertion: parsed}, nil
	}
	return ClientResponse{}, ErrUnrecognizedResponse
}
