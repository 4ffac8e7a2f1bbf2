package connector

import (
	"context"
	"fmt"
	"time"
)

// Params are the connection parameters for one remote mailbox. They are
// produced by the credential store and consumed here; the raw password
// never travels further.
type Params struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Security       string // tls, starttls, none
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Addr returns the host:port dial address.
func (p Params) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// RemoteRef identifies one message on the remote server: the server's UID
// for fetching, the Message-ID header for deduplication, and the receive
// time that drives the sync cursor.
type RemoteRef struct {
	UID       uint32
	MessageID string
	Received  time.Time
}

// ConnectionError reports an account-level failure: the remote server
// cannot be reached, the TLS negotiation failed, or the login was
// rejected. It halts the batch and must never advance the cursor.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FetchError reports a per-message retrieval failure. The batch continues
// past it.
type FetchError struct {
	RemoteID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching message %s: %v", e.RemoteID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Session is one authenticated connection to a remote mailbox.
type Session interface {
	// Folders lists the remote folder names.
	Folders() ([]string, error)
	// FetchIDs returns refs for messages received on or after since.
	// A nil since means everything. No ordering is guaranteed.
	FetchIDs(folder string, since *time.Time, limit int) ([]RemoteRef, error)
	// FetchBody retrieves one raw message payload.
	FetchBody(folder string, ref RemoteRef) ([]byte, error)
	// Close logs out and releases the connection.
	Close() error
}

// Dialer opens Sessions. The sync engine depends on this interface so
// tests can substitute a fake mailbox.
type Dialer interface {
	Connect(ctx context.Context, p Params) (Session, error)
}
