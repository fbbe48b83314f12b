package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// FlowTTL bounds the browser-side lifetime of an in-flight login. The value is
// data-level: the transport layer rejects flow state older than this at read
// time.
const FlowTTL = 10 * time.Minute

// FlowState is the short-lived state established at authorization start and
// read back, exactly once, on the provider callback. It lives only in
// tamper-resistant transport-layer storage scoped to one browser; there is no
// server-side copy.
type FlowState struct {
	Provider     string `json:"provider"`
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
	CodeVerifier string `json:"codeVerifier"`
	TenantID     string `json:"tenant"`
	ReturnURL    string `json:"returnUrl,omitempty"`
}

// generateRandomString creates a high-entropy base64url string of length bytes
// of randomness.
func generateRandomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// codeChallengeS256 derives the PKCE code challenge from a verifier.
func codeChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
