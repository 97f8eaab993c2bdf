// Package wire defines the framed CBOR message layer of the gateway:
// request/response envelopes, status codes, and the payload structs for every
// host and GATT procedure.
package wire

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// Validation errors.
var (
	ErrMissingMethod    = errors.New("request method is empty")
	ErrMissingMessageID = errors.New("request message id is zero")
)

// Status is the terminal status of an RPC.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusTimeout
	StatusInvalidRequest
	StatusUnimplemented
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusInvalidRequest:
		return "invalid-request"
	case StatusUnimplemented:
		return "unimplemented"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsSuccess reports whether the status is terminal success.
func (s Status) IsSuccess() bool { return s == StatusOK }

// Request is a client-to-server frame. A frame with Cancel set aborts the
// in-flight call identified by MessageID and carries no payload.
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Method    string          `cbor:"2,keyasint,omitempty"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Cancel    bool            `cbor:"4,keyasint,omitempty"`
}

// Validate checks structural invariants before the request is dispatched.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return ErrMissingMessageID
	}
	if !r.Cancel && r.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// Response is a server-to-client frame. Stream marks an intermediate item of
// a server-streaming call; the terminal frame of any call has Stream unset
// and carries the final status.
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Stream    bool            `cbor:"4,keyasint,omitempty"`
	Error     string          `cbor:"5,keyasint,omitempty"`
}
