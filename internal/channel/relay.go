package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gatherly/server/internal/model"
)

// RelayChannel talks to an external WhatsApp relay node over HTTP. The relay
// owns the actual wire protocol; we exchange opaque credential blobs with it
// and let it do the talking.
type RelayChannel struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRelayChannel creates a channel backed by the relay node at baseURL,
// authenticated with a service token.
func NewRelayChannel(baseURL, token string) *RelayChannel {
	return &RelayChannel{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type relayLoginResponse struct {
	QRCode      string `json:"qr_code"`
	Credentials string `json:"credentials"` // base64
}

// NewLogin asks the relay to begin a pairing attempt.
func (c *RelayChannel) NewLogin(ctx context.Context) (string, []byte, error) {
	var res relayLoginResponse
	if err := c.post(ctx, "/v1/logins", nil, nil, &res); err != nil {
		return "", nil, err
	}
	creds, err := base64.StdEncoding.DecodeString(res.Credentials)
	if err != nil {
		return "", nil, fmt.Errorf("%w: relay returned malformed credentials", model.ErrChannelUnavailable)
	}
	if res.QRCode == "" {
		return "", nil, fmt.Errorf("%w: relay returned empty QR payload", model.ErrChannelUnavailable)
	}
	return res.QRCode, creds, nil
}

// Dial validates the credentials shape and returns a connection handle. The
// relay authenticates per request, so the handle just carries the creds.
func (c *RelayChannel) Dial(_ context.Context, creds []byte) (Conn, error) {
	if len(creds) == 0 {
		return nil, model.ErrSessionExpired
	}
	return &relayConn{channel: c, creds: creds}, nil
}

type relayConn struct {
	channel *RelayChannel
	creds   []byte
	closed  bool
}

type relaySendRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	MediaRef  string `json:"media_ref,omitempty"`
}

type relaySendResponse struct {
	DeliveryID string `json:"delivery_id"`
}

func (c *relayConn) SendText(ctx context.Context, recipient, body, mediaRef string) (string, error) {
	if c.closed {
		return "", fmt.Errorf("send on closed connection")
	}
	var res relaySendResponse
	req := relaySendRequest{Recipient: recipient, Body: body, MediaRef: mediaRef}
	if err := c.channel.post(ctx, "/v1/messages", c.creds, req, &res); err != nil {
		return "", err
	}
	return res.DeliveryID, nil
}

func (c *relayConn) Close() error {
	c.closed = true
	c.creds = nil
	return nil
}

// post issues a JSON request to the relay, mapping its failure modes onto the
// domain taxonomy: 401/410 mean the remote revoked the session, anything in
// 5xx land or a transport error is transient.
func (c *RelayChannel) post(ctx context.Context, path string, creds []byte, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal relay request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if len(creds) > 0 {
		req.Header.Set("X-Session-Credentials", base64.StdEncoding.EncodeToString(creds))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusGone:
		return model.ErrSessionExpired
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return model.ErrRecipientInvalid
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: relay returned %d", model.ErrChannelUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return fmt.Errorf("relay returned unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode relay response: %v", model.ErrChannelUnavailable, err)
		}
	}
	return nil
}
