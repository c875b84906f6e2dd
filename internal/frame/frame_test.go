package frame

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestChatRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)
	in := Chat{Sender: "alice", Message: "hi there", Timestamp: ts, Kind: KindChat}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out Chat
	if err := Decode(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Sender != in.Sender || out.Message != in.Message || out.Kind != in.Kind {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if !out.Timestamp.Equal(ts) {
		t.Errorf("timestamp %v, want %v", out.Timestamp, ts)
	}
}

func TestChatEncodingShape(t *testing.T) {
	data, err := Encode(Chat{Sender: "bob", Message: "x", Timestamp: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"sender":"bob"`, `"message":"x"`, `"timestamp":"1970-01-01T00:00:00Z"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
	if strings.Contains(s, `"type"`) {
		t.Errorf("empty kind should be omitted: %s", s)
	}
}

func TestAuthResultShape(t *testing.T) {
	ok, _ := Encode(AuthResult{Success: true})
	if string(ok) != `{"success":true}` {
		t.Errorf("unexpected success frame %s", ok)
	}
	fail, _ := Encode(AuthResult{Error: "invalid username or password"})
	if string(fail) != `{"error":"invalid username or password"}` {
		t.Errorf("unexpected error frame %s", fail)
	}
}

func TestDecodeAuth(t *testing.T) {
	var a Auth
	if err := Decode([]byte(`{"username":"alice","password":"pw","register":true}`), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Username != "alice" || a.Password != "pw" || !a.Register {
		t.Errorf("unexpected auth %+v", a)
	}

	var b Auth
	if err := Decode([]byte(`{"username":"bob","password":"pw"}`), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Register {
		t.Error("register should default to false")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"spaces":       "   \n",
		"not json":     "hello",
		"array":        `["message"]`,
		"truncated":    `{"message":"hi`,
		"two frames":   `{"message":"a"}{"message":"b"}`,
		"wrong type":   `{"message":42}`,
		"missing":      `{"text":"hi"}`,
		"null message": `{"message":null}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSend([]byte(in))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
			if !IsFrameError(err) {
				t.Error("IsFrameError should be true")
			}
		})
	}
}

func TestDecodeSend(t *testing.T) {
	msg, err := DecodeSend([]byte(" {\"message\":\"hello\"}\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg != "hello" {
		t.Errorf("got %q", msg)
	}

	empty, err := DecodeSend([]byte(`{"message":""}`))
	if err != nil || empty != "" {
		t.Errorf("empty message should decode, got %q %v", empty, err)
	}
}

func TestIsFrameError(t *testing.T) {
	if IsFrameError(errors.New("connection reset")) {
		t.Error("transport error is not a frame error")
	}
	if !IsFrameError(ErrTooLarge) {
		t.Error("ErrTooLarge is a frame error")
	}
}
