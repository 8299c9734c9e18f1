// Package channel abstracts the external WhatsApp capability behind a
// session-oriented API. The wire protocol itself lives on the relay node;
// this package only knows how to begin a pairing and push a message through
// an established session.
package channel

import "context"

// Channel is the external messaging capability.
type Channel interface {
	// NewLogin begins a remote pairing attempt and returns the QR payload to
	// display plus the opaque credential material for the nascent session.
	NewLogin(ctx context.Context) (qrCode string, creds []byte, err error)

	// Dial opens a transient connection authenticated by decrypted session
	// credentials. Callers must Close it as soon as the operation finishes;
	// there is no pooling, each send is a fresh handshake.
	Dial(ctx context.Context, creds []byte) (Conn, error)
}

// Conn is a short-lived authenticated connection to the remote channel.
type Conn interface {
	// SendText transmits one message and returns the remote delivery id.
	SendText(ctx context.Context, recipient, body, mediaRef string) (deliveryID string, err error)
	Close() error
}
