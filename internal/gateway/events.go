// Package gateway implements the chat-platform transport client used to run
// live bot sessions.
package gateway

import (
	"context"
	"errors"
	"strings"
)

// EventType identifies a connection lifecycle event.
type EventType string

const (
	// EventReady signals the remote accepted the session.
	EventReady EventType = "ready"
	// EventError signals a protocol rejection, forced disconnect, or an
	// invalid credential.
	EventError EventType = "error"
	// EventClosed signals the connection terminated without a protocol error.
	EventClosed EventType = "closed"
)

// Event is a lifecycle event emitted by a connection. Exactly one of
// ready/error arrives first per connection attempt, followed by zero or more
// error/closed events over the connection's life.
type Event struct {
	Type      EventType
	SessionID string // remote session id, set on ready
	Reason    string // cause, set on error/closed
}

// Conn is a live gateway connection.
type Conn interface {
	// Events returns the connection's event stream. Events are delivered in
	// the order the gateway emits them; the channel is closed when the
	// connection terminates.
	Events() <-chan Event
	Close() error
}

// Dialer initiates gateway connections. An error from Dial means initiation
// failed locally or during setup; remote acceptance is always reported
// asynchronously as the first event on the returned Conn.
type Dialer interface {
	Dial(ctx context.Context, credential string, caps []Capability) (Conn, error)
}

// ErrBadCredential is returned when a credential fails the local shape check.
var ErrBadCredential = errors.New("credential is malformed")

// ValidateCredential checks credential shape before any network work is done.
func ValidateCredential(credential string) error {
	if credential == "" || strings.TrimSpace(credential) != credential {
		return ErrBadCredential
	}
	if strings.ContainsAny(credential, " \t\n") {
		return ErrBadCredential
	}
	return nil
}
