// Package frame defines the chat protocol records exchanged between the
// relay and its clients and converts them to and from their JSON encoding.
//
// Each frame is a single JSON object. How frames are delimited on the wire
// is the transport's concern; this package only sees complete frame bodies.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed is returned for frames that are not a single well-formed
	// JSON object of the expected shape.
	ErrMalformed = errors.New("malformed frame")

	// ErrTooLarge is returned by transports for frames over the size limit.
	ErrTooLarge = errors.New("frame too large")
)

// Kind distinguishes user-authored chat frames from server notices.
type Kind string

const (
	KindChat   Kind = "chat"
	KindSystem Kind = "system"
)

// Auth is the first frame a client sends.
type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Register bool   `json:"register"`
}

// AuthResult answers an Auth frame: either {"success": true} or
// {"error": reason}.
type AuthResult struct {
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Send is a chat frame sent by an authenticated client.
type Send struct {
	Message *string `json:"message"`
}

// Chat is a chat or system frame delivered to clients.
type Chat struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"type,omitempty"`
}

// Encode serializes a frame body.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses exactly one JSON object from data into v. Empty input,
// trailing data (for example two frames received in one read) and type
// mismatches all yield an error wrapping ErrMalformed.
func Decode(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return ErrMalformed
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after frame", ErrMalformed)
	}
	return nil
}

// DecodeSend parses a client chat frame. A frame without a string
// "message" field is malformed.
func DecodeSend(data []byte) (string, error) {
	var s Send
	if err := Decode(data, &s); err != nil {
		return "", err
	}
	if s.Message == nil {
		return "", fmt.Errorf("%w: missing message field", ErrMalformed)
	}
	return *s.Message, nil
}

// IsFrameError reports whether err is a framing failure rather than a
// transport failure.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrTooLarge)
}
