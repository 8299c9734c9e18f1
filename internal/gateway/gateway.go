// Package gateway sends outbound messages through an established WhatsApp
// session. Credentials are decrypted only for the duration of one send, and
// every send is a fresh transient connection.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/gatherly/server/internal/channel"
	"github.com/gatherly/server/internal/model"
	"github.com/gatherly/server/internal/repo"
	"github.com/gatherly/server/internal/vault"
)

const (
	retryBase     = 250 * time.Millisecond
	retryAttempts = 3
)

// SessionExpirer records a remote-side revocation so the caller's next status
// poll sees it. Implemented by the lifecycle manager.
type SessionExpirer interface {
	MarkExpired(ctx context.Context, sessionID, ownerID uuid.UUID) error
}

// Gateway pushes messages through the external channel.
type Gateway struct {
	sessions repo.SessionRepo
	channel  channel.Channel
	expirer  SessionExpirer
}

// New creates a messaging gateway.
func New(sessions repo.SessionRepo, ch channel.Channel, expirer SessionExpirer) *Gateway {
	return &Gateway{sessions: sessions, channel: ch, expirer: expirer}
}

// Send transmits one message through the owner's session. The session must be
// connected (ErrSessionNotReady otherwise). Transient channel failures are
// retried with bounded exponential backoff; a remote revocation surfaces as
// ErrSessionExpired, moves the session to disconnected, and is not retried.
func (g *Gateway) Send(ctx context.Context, sessionID, ownerID uuid.UUID, msg model.OutboundMessage) (model.DeliveryResult, error) {
	recipient, err := NormalizeRecipient(msg.Recipient)
	if err != nil {
		return model.DeliveryResult{}, err
	}

	s, err := g.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return model.DeliveryResult{}, err
	}
	if s.Status != model.StatusConnected {
		return model.DeliveryResult{}, fmt.Errorf("%w: session is %s", model.ErrSessionNotReady, s.Status)
	}

	creds, err := vault.Decrypt(s.SessionBlob, s.KeyMaterial)
	if err != nil {
		return model.DeliveryResult{}, err
	}

	backoff := retry.WithMaxRetries(retryAttempts-1, retry.NewExponential(retryBase))
	var deliveryID string
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := g.transmit(ctx, creds, recipient, msg)
		if err != nil {
			if errors.Is(err, model.ErrChannelUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		deliveryID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrSessionExpired) {
			if expErr := g.expirer.MarkExpired(ctx, sessionID, ownerID); expErr != nil {
				log.Printf("mark session %s expired: %v", sessionID, expErr)
			}
		}
		return model.DeliveryResult{}, err
	}

	return model.DeliveryResult{DeliveryID: deliveryID, SentAt: time.Now().UTC()}, nil
}

// transmit performs one dial/send/close cycle.
func (g *Gateway) transmit(ctx context.Context, creds []byte, recipient string, msg model.OutboundMessage) (string, error) {
	conn, err := g.channel.Dial(ctx, creds)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	return conn.SendText(ctx, recipient, msg.Body, msg.MediaRef)
}

// NormalizeRecipient canonicalizes a phone-number-shaped address: formatting
// characters are stripped, 8-15 digits are required, and the result always
// carries a leading country-code marker.
func NormalizeRecipient(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	hadPlus := strings.HasPrefix(trimmed, "+")
	var digits strings.Builder
	for _, r := range strings.TrimPrefix(trimmed, "+") {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting noise
		default:
			return "", fmt.Errorf("%w: unexpected character %q", model.ErrRecipientInvalid, r)
		}
	}
	n := digits.Len()
	if n < 8 || n > 15 {
		return "", fmt.Errorf("%w: expected 8-15 digits, got %d", model.ErrRecipientInvalid, n)
	}
	// Bare national-looking numbers are ambiguous; require the caller to be
	// explicit unless the number is long enough to carry its country code.
	if !hadPlus && n < 10 {
		return "", fmt.Errorf("%w: missing country code", model.ErrRecipientInvalid)
	}
	return "+" + digits.String(), nil
}
