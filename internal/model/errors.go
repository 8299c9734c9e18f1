package model

import "errors"

// Domain error taxonomy. Lower layers return the most specific sentinel and
// never wrap one inside a generic failure; callers branch with errors.Is.
var (
	// ErrNotFound means the session id / owner pair matches no row. Distinct
	// from transient store failures so callers can treat it as a clean 404.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition means a lifecycle transition outside the allowed
	// graph was attempted. A programming or protocol error, never coerced
	// into a valid state.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrCrypto means the credential blob could not be decrypted (tampered
	// ciphertext or wrong key). Fatal to the session.
	ErrCrypto = errors.New("credential decryption failed")

	// ErrSessionEstablishmentFailed means the remote handshake never
	// completed (network failure, malformed QR, or timeout).
	ErrSessionEstablishmentFailed = errors.New("session establishment failed")

	// ErrSessionNotReady means a send was attempted on a session that is not
	// connected. Retrying without re-running the lifecycle will not help.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrSessionExpired means the remote side revoked the session. The
	// caller must start a fresh session; the old one is done.
	ErrSessionExpired = errors.New("session expired")

	// ErrRecipientInvalid means the recipient address is malformed.
	ErrRecipientInvalid = errors.New("invalid recipient address")

	// ErrChannelUnavailable is a transient remote/network failure. Safe to
	// retry with backoff.
	ErrChannelUnavailable = errors.New("messaging channel unavailable")
)
