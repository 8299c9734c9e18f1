package channel

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync/atomic"
)

// StubChannel is an in-process Channel for dev mode. Logins always succeed
// and sends are acknowledged without leaving the process.
type StubChannel struct {
	counter atomic.Int64
}

// NewStub creates a StubChannel.
func NewStub() *StubChannel {
	return &StubChannel{}
}

func (c *StubChannel) NewLogin(_ context.Context) (string, []byte, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	code := "gatherly-dev:" + base64.RawURLEncoding.EncodeToString(b)
	creds := []byte("stub-creds:" + base64.RawURLEncoding.EncodeToString(b))
	return code, creds, nil
}

func (c *StubChannel) Dial(_ context.Context, creds []byte) (Conn, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("stub dial with empty credentials")
	}
	return &stubConn{channel: c}, nil
}

type stubConn struct {
	channel *StubChannel
}

func (c *stubConn) SendText(_ context.Context, recipient, body, _ string) (string, error) {
	n := c.channel.counter.Add(1)
	return fmt.Sprintf("stub-delivery-%d", n), nil
}

func (c *stubConn) Close() error { return nil }
