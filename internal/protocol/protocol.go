// Package protocol implements the control-plane request grammar (spec
// §4.4): parsing a request line into a name plus flag arguments, and
// framing responses as a leading ok/error byte followed by text.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Origin identifies which control channel a Request arrived on, so a
// handler can record the right session kind (spec §4.12) without the
// Dispatcher interface itself needing a channel-specific method set.
type Origin string

const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// Request is one parsed control-plane command: a name and its --key value
// pairs, tagged with the channel it arrived on.
type Request struct {
	Name   string
	Args   map[string]string
	Origin Origin
}

// Arg returns the named flag's value and whether it was present.
func (r Request) Arg(key string) (string, bool) {
	v, ok := r.Args[key]
	return v, ok
}

// RequireArg returns the named flag's value, or an error if it is absent.
func (r Request) RequireArg(key string) (string, error) {
	v, ok := r.Args[key]
	if !ok {
		return "", errors.Errorf("%s: missing required --%s", r.Name, key)
	}
	return v, nil
}

// IntArg parses the named flag as a decimal integer.
func (r Request) IntArg(key string) (int, error) {
	v, err := r.RequireArg(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: --%s must be an integer", r.Name, key)
	}
	return n, nil
}

// Uint64Arg parses the named flag as an unsigned decimal integer.
func (r Request) Uint64Arg(key string) (uint64, error) {
	v, err := r.RequireArg(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: --%s must be an unsigned integer", r.Name, key)
	}
	return n, nil
}

// Parse splits a request line of the form "<Name> [--key value]*" into a
// Request. An odd trailing --flag with no value, or a token that isn't a
// --flag where one is expected, is a malformed request.
func Parse(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, errors.New("empty request")
	}
	req := Request{Name: fields[0], Args: make(map[string]string)}
	rest := fields[1:]
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if !strings.HasPrefix(tok, "--") {
			return Request{}, errors.Errorf("%s: unexpected token %q, expected --flag", req.Name, tok)
		}
		key := strings.TrimPrefix(tok, "--")
		i++
		if i >= len(rest) {
			return Request{}, errors.Errorf("%s: --%s has no value", req.Name, key)
		}
		req.Args[key] = rest[i]
	}
	return req, nil
}

// Response is the result of executing one Request: Text carries the value
// when OK is true and the error message when OK is false.
type Response struct {
	OK   bool
	Text string
}

// Ok builds a successful response.
func Ok(text string) Response { return Response{OK: true, Text: text} }

// Error builds an error response from err's message.
func Error(err error) Response { return Response{OK: false, Text: err.Error()} }

// String renders a response the way a human-facing client would print it.
func (r Response) String() string {
	if r.OK {
		return r.Text
	}
	return fmt.Sprintf("error: %s", r.Text)
}

const (
	frameOK    byte = 0x00
	frameError byte = 0x01
)

// EncodeFrame renders r as the leading ok/error byte plus its text, the
// payload carried inside a length-prefixed TCP frame (§6).
func EncodeFrame(r Response) []byte {
	b := make([]byte, 1+len(r.Text))
	if r.OK {
		b[0] = frameOK
	} else {
		b[0] = frameError
	}
	copy(b[1:], r.Text)
	return b
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(b []byte) (Response, error) {
	if len(b) == 0 {
		return Response{}, errors.New("empty response frame")
	}
	switch b[0] {
	case frameOK:
		return Response{OK: true, Text: string(b[1:])}, nil
	case frameError:
		return Response{OK: false, Text: string(b[1:])}, nil
	default:
		return Response{}, errors.Errorf("unknown response frame byte 0x%02x", b[0])
	}
}
