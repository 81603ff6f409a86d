package webhook

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrSecretNotConfigured is returned when verification is attempted without a shared secret.
	ErrSecretNotConfigured = errors.New("webhook: secret not configured")
	// ErrVerificationFailed reports that the digest could not be computed; the request is rejected.
	ErrVerificationFailed = errors.New("webhook: signature verification failed")
)

// Digest returns the 0x-prefixed keccak256 of body followed by secret, as the
// notification source computes its signature header.
func Digest(body []byte, secret string) string {
	payload := make([]byte, 0, len(body)+len(secret))
	payload = append(payload, body...)
	payload = append(payload, secret...)
	return crypto.Keccak256Hash(payload).Hex()
}

// Verifier authenticates notifications against a shared secret.
type Verifier struct {
	secret string
}

// NewVerifier builds a Verifier. An empty secret is accepted here and reported on Verify.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify reports whether signature matches the digest of the literal body.
// It returns ErrSecretNotConfigured before doing any signature work when no secret is set.
func (v *Verifier) Verify(body []byte, signature string) (ok bool, err error) {
	if v == nil || v.secret == "" {
		return false, ErrSecretNotConfigured
	}
	if signature == "" {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			ok, err = false, ErrVerificationFailed
		}
	}()

	expected := normalizeSignature(Digest(body, v.secret))
	got := normalizeSignature(signature)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1, nil
}

func normalizeSignature(sig string) string {
	sig = strings.TrimSpace(sig)
	if strings.HasPrefix(sig, "0x") || strings.HasPrefix(sig, "0X") {
		return "0x" + sig[2:]
	}
	return "0x" + sig
}
