package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/server/internal/bridge"
	"github.com/gatherly/server/internal/channel"
	"github.com/gatherly/server/internal/model"
	"github.com/gatherly/server/internal/repo"
	"github.com/gatherly/server/internal/vault"
)

// fakeChannel scripts channel behavior per send attempt.
type fakeChannel struct {
	mu            sync.Mutex
	dialErr       error
	sendErrs      []error // consumed one per attempt, then success
	dials         int
	closes        int
	lastRecipient string
	lastCreds     []byte
}

func (c *fakeChannel) NewLogin(_ context.Context) (string, []byte, error) {
	return "fake-qr", []byte("fake-creds"), nil
}

func (c *fakeChannel) Dial(_ context.Context, creds []byte) (channel.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
	c.lastCreds = append([]byte(nil), creds...)
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	return &fakeConn{channel: c}, nil
}

type fakeConn struct {
	channel *fakeChannel
}

func (c *fakeConn) SendText(_ context.Context, recipient, _, _ string) (string, error) {
	c.channel.mu.Lock()
	defer c.channel.mu.Unlock()
	c.channel.lastRecipient = recipient
	if len(c.channel.sendErrs) > 0 {
		err := c.channel.sendErrs[0]
		c.channel.sendErrs = c.channel.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "delivery-1", nil
}

func (c *fakeConn) Close() error {
	c.channel.mu.Lock()
	defer c.channel.mu.Unlock()
	c.channel.closes++
	return nil
}

type fixture struct {
	gateway   *Gateway
	manager   *bridge.Manager
	sessions  *repo.MemSessionRepo
	channel   *fakeChannel
	ownerID   uuid.UUID
	sessionID uuid.UUID
}

// newFixture creates a session in the given status with real encrypted creds.
func newFixture(t *testing.T, status model.SessionStatus) *fixture {
	t.Helper()
	ctx := context.Background()

	sessions := repo.NewMemSessionRepo()
	ch := &fakeChannel{}
	manager := bridge.NewManager(sessions, ch, 0)

	ownerID := uuid.New()
	blob, key, err := vault.Encrypt([]byte("session material"))
	require.NoError(t, err)
	sessionID, err := sessions.Create(ctx, ownerID, model.StatusPending, blob, key)
	require.NoError(t, err)
	if status != model.StatusPending {
		require.NoError(t, sessions.Update(ctx, sessionID, ownerID, repo.SessionUpdate{
			Status:      status,
			SessionBlob: blob,
			KeyMaterial: key,
		}))
	}

	return &fixture{
		gateway:   New(sessions, ch, manager),
		manager:   manager,
		sessions:  sessions,
		channel:   ch,
		ownerID:   ownerID,
		sessionID: sessionID,
	}
}

func TestSend_success(t *testing.T) {
	f := newFixture(t, model.StatusConnected)

	result, err := f.gateway.Send(context.Background(), f.sessionID, f.ownerID, model.OutboundMessage{
		Recipient: "+1 (555) 765-4321",
		Body:      "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "delivery-1", result.DeliveryID)
	assert.False(t, result.SentAt.IsZero())

	assert.Equal(t, "+15557654321", f.channel.lastRecipient, "recipient must be normalized")
	assert.Equal(t, []byte("session material"), f.channel.lastCreds, "channel must see decrypted creds")
	assert.Equal(t, 1, f.channel.dials)
	assert.Equal(t, 1, f.channel.closes, "transient connection must be closed after the send")
}

func TestSend_sessionNotReady(t *testing.T) {
	f := newFixture(t, model.StatusPending)

	_, err := f.gateway.Send(context.Background(), f.sessionID, f.ownerID, model.OutboundMessage{
		Recipient: "+15557654321",
		Body:      "hello",
	})
	assert.ErrorIs(t, err, model.ErrSessionNotReady)
	assert.Equal(t, 0, f.channel.dials, "no dial before the session is connected")
}

func TestSend_tenantIsolation(t *testing.T) {
	f := newFixture(t, model.StatusConnected)

	_, err := f.gateway.Send(context.Background(), f.sessionID, uuid.New(), model.OutboundMessage{
		Recipient: "+15557654321",
		Body:      "hello",
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSend_invalidRecipient(t *testing.T) {
	f := newFixture(t, model.StatusConnected)

	_, err := f.gateway.Send(context.Background(), f.sessionID, f.ownerID, model.OutboundMessage{
		Recipient: "not-a-number",
		Body:      "hello",
	})
	assert.ErrorIs(t, err, model.ErrRecipientInvalid)
	assert.Equal(t, 0, f.channel.dials)
}

func TestSend_retriesTransientFailures(t *testing.T) {
	f := newFixture(t, model.StatusConnected)
	f.channel.sendErrs = []error{model.ErrChannelUnavailable, model.ErrChannelUnavailable}

	result, err := f.gateway.Send(context.Background(), f.sessionID, f.ownerID, model.OutboundMessage{
		Recipient: "+15557654321",
		Body:      "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "delivery-1", result.DeliveryID)
	assert.Equal(t, 3, f.channel.dials, "two transient failures then success")
	assert.Equal(t, 3, f.channel.closes)
}

func TestSend_givesUpAfterBoundedAttempts(t *testing.T) {
	f := newFixture(t, model.StatusConnected)
	f.channel.sendErrs = []error{
		model.ErrChannelUnavailable, model.ErrChannelUnavailable,
		model.ErrChannelUnavailable, model.ErrChannelUnavailable,
	}

	_, err := f.gateway.Send(context.Background(), f.sessionID, f.ownerID, model.OutboundMessage{
		Recipient: "+15557654321",
		Body:      "hello",
	})
	assert.ErrorIs(t, err, model.ErrChannelUnavailable)
	assert.Equal(t, retryAttempts, f.channel.dials)
}

func TestSend_sessionExpiredMarksDisconnected(t *testing.T) {
	f := newFixture(t, model.StatusConnected)
	f.channel.sendErrs = []error{model.ErrSessionExpired}

	_, err := f.gateway.Send(context.Background(), f.sessionID, f.ownerID, model.OutboundMessage{
		Recipient: "+15557654321",
		Body:      "hello",
	})
	assert.ErrorIs(t, err, model.ErrSessionExpired)
	assert.Equal(t, 1, f.channel.dials, "revocation is not retried")

	s, err := f.sessions.Get(context.Background(), f.sessionID, f.ownerID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisconnected, s.Status)
	assert.Equal(t, "revoked by remote", s.StatusReason)
}

func TestSend_corruptCredentials(t *testing.T) {
	f := newFixture(t, model.StatusConnected)

	s, err := f.sessions.Get(context.Background(), f.sessionID, f.ownerID)
	require.NoError(t, err)
	upd := repo.SessionUpdate{Status: s.Status, SessionBlob: []byte{0x01, 0x02}, KeyMaterial: s.KeyMaterial}
	require.NoError(t, f.sessions.Update(context.Background(), f.sessionID, f.ownerID, upd))

	_, err = f.gateway.Send(context.Background(), f.sessionID, f.ownerID, model.OutboundMessage{
		Recipient: "+15557654321",
		Body:      "hello",
	})
	assert.ErrorIs(t, err, model.ErrCrypto)
}

func TestNormalizeRecipient(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15557654321", "+15557654321", false},
		{"+1 (555) 765-4321", "+15557654321", false},
		{"+49 151 1234 5678", "+4915112345678", false},
		{"15557654321", "+15557654321", false}, // long enough to carry its country code
		{"  +15557654321  ", "+15557654321", false},
		{"+555123", "", true},      // too short
		{"12345678", "", true},     // no plus, ambiguous national number
		{"+1555abc4321", "", true}, // letters
		{"", "", true},
		{"+1234567890123456", "", true}, // too long
	}
	for _, c := range cases {
		got, err := NormalizeRecipient(c.in)
		if c.wantErr {
			assert.ErrorIs(t, err, model.ErrRecipientInvalid, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}
