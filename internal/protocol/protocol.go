// Package protocol defines the line-delimited JSON wire format spoken on
// both primary and supplemental connections.
//
// Clients send requests:
//
//	{"request-id":"ru","params":{"uname":"alice"}}
//
// and receive a response on the same connection:
//
//	{"response-id":1,"body":{"user":{"uid":7,"uname":"alice"}}}
//
// Supplemental connections additionally receive server-initiated updates:
//
//	{"update-message":"nm","body":{"sender":{...},"message":{...}}}
//
// Every object travels on exactly one line.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed means the line is not a JSON request object.
	ErrMalformed = errors.New("protocol: malformed request")

	// ErrUnknownRequest means the request-id is not one the server knows.
	ErrUnknownRequest = errors.New("protocol: unknown request id")

	// ErrBadParams means params are missing or have the wrong shape.
	ErrBadParams = errors.New("protocol: invalid params")
)

// RequestKind is the closed set of request identifiers.
type RequestKind string

// Known request kinds.
const (
	RegisterUser        RequestKind = "ru"
	SetUpdateConnection RequestKind = "su"
	SendMessage         RequestKind = "sm"
	UserList            RequestKind = "ul"
	Ping                RequestKind = "ping"
)

// Known reports whether k is one of the request kinds above.
func (k RequestKind) Known() bool {
	switch k {
	case RegisterUser, SetUpdateConnection, SendMessage, UserList, Ping:
		return true
	}
	return false
}

// Request is one decoded client line.
type Request struct {
	Kind   RequestKind     `json:"request-id"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RegisterParams are the params of RegisterUser.
type RegisterParams struct {
	Username string `json:"uname"`
}

// BindParams are the params of SetUpdateConnection.
type BindParams struct {
	MainUser string `json:"main-user"`
}

// SendParams are the params of SendMessage.
type SendParams struct {
	Message string `json:"message"`
}

// ParseRequest decodes a single line. Lines that are not JSON objects fail
// with ErrMalformed, objects with an unrecognised request-id with
// ErrUnknownRequest.
func ParseRequest(line string) (Request, error) {
	var req Request
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Request{}, ErrMalformed
	}
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !req.Kind.Known() {
		return req, fmt.Errorf("%w: %q", ErrUnknownRequest, req.Kind)
	}
	return req, nil
}

// Bind decodes the request params into v.
func (r Request) Bind(v any) error {
	raw := bytes.TrimSpace(r.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: %s requires params", ErrBadParams, r.Kind)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	return nil
}

// Encode renders v as a single JSON line without the trailing newline.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return Flatten(buf.String()), nil
}

// Flatten collapses newlines and whitespace runs to single spaces so the
// text fits on one line.
func Flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
