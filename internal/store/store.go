// Package store is the persistence gateway for users and chat messages.
//
// Backends implement Gateway and are driven from a single Worker
// goroutine, so an implementation only needs to be safe for use by one
// goroutine at a time plus Close.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/user"
)

var (
	// ErrDuplicateUsername is returned by CreateUser when the username is taken.
	ErrDuplicateUsername = errors.New("duplicate username")
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("not found")
	// ErrTimeout is wrapped in a StorageError when an awaited call runs
	// past the worker's deadline.
	ErrTimeout = errors.New("storage call timed out")
	// ErrClosed is wrapped in a StorageError for calls made after Close.
	ErrClosed = errors.New("storage worker closed")
)

// StorageError reports a backend failure for one gateway operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrap turns a backend error into a StorageError, leaving gateway
// outcomes (duplicate, not found) untouched.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrDuplicateUsername) || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Gateway is the persistence interface the relay depends on. Username
// uniqueness is enforced by the backend.
type Gateway interface {
	CreateUser(ctx context.Context, u *user.User) error
	// FindUser returns the user whose username and password both match,
	// or ErrNotFound.
	FindUser(ctx context.Context, username, password string) (*user.User, error)
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error
	InsertMessage(ctx context.Context, m *message.Message) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]*message.Message, error)
	Close(ctx context.Context) error
}
