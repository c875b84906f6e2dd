// Package auth validates the first frame of a connection against the
// user records in the store.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/christopherjohns/chatrelay/internal/frame"
	"github.com/christopherjohns/chatrelay/internal/logging"
	"github.com/christopherjohns/chatrelay/internal/store"
	"github.com/christopherjohns/chatrelay/internal/user"
)

var (
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingCredentials = errors.New("username and password are required")
)

// Reason texts for failures that are not auth outcomes.
const (
	ReasonInvalidFrame       = "invalid auth frame"
	ReasonStorageUnavailable = "storage unavailable"
	ReasonRateLimited        = "too many connection attempts"
)

// Runner executes a store job and waits for its result. *store.Worker
// satisfies it.
type Runner interface {
	Do(ctx context.Context, op string, fn store.Job) error
}

// Gate registers or logs in users.
type Gate struct {
	store Runner
	log   logging.Logger
	now   func() time.Time
}

// NewGate creates a Gate backed by r.
func NewGate(r Runner, log logging.Logger) *Gate {
	return &Gate{
		store: r,
		log:   log,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// Authenticate checks req and returns the authenticated username.
// Each call performs one store job and never retries.
func (g *Gate) Authenticate(ctx context.Context, req frame.Auth) (string, error) {
	if req.Username == "" || req.Password == "" {
		return "", ErrMissingCredentials
	}

	var err error
	if req.Register {
		err = g.register(ctx, req.Username, req.Password)
	} else {
		err = g.login(ctx, req.Username, req.Password)
	}
	if err != nil {
		g.log.Info(ctx, "authentication failed", "username", req.Username, "register", req.Register, "error", err)
		return "", err
	}
	g.log.Info(ctx, "authenticated", "username", req.Username, "register", req.Register)
	return req.Username, nil
}

func (g *Gate) register(ctx context.Context, username, password string) error {
	u := user.New(username, password)
	err := g.store.Do(ctx, "create_user", func(ctx context.Context, gw store.Gateway) error {
		return gw.CreateUser(ctx, u)
	})
	if errors.Is(err, store.ErrDuplicateUsername) {
		return ErrDuplicateUsername
	}
	return err
}

func (g *Gate) login(ctx context.Context, username, password string) error {
	at := g.now()
	err := g.store.Do(ctx, "find_user", func(ctx context.Context, gw store.Gateway) error {
		u, err := gw.FindUser(ctx, username, password)
		if err != nil {
			return err
		}
		return gw.UpdateLastLogin(ctx, u.Username, at)
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredentials
	}
	return err
}

// Reason maps an Authenticate error to the text sent to the client.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateUsername),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrMissingCredentials):
		return err.Error()
	case frame.IsFrameError(err):
		return ReasonInvalidFrame
	}
	return ReasonStorageUnavailable
}
