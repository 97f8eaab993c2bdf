// Package rpc implements the gateway's transport: a TCP server speaking
// length-prefixed CBOR frames, with unary and server-streaming calls
// multiplexed over one connection, and a matching client.
package rpc

import (
	"context"
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/srg/btgate/pkg/wire"
)

// Sentinel errors handlers use to select the terminal RPC status. Anything
// else maps to StatusError.
var (
	// ErrInvalidRequest rejects a malformed or incomplete request before any
	// side effect takes place.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnimplemented marks an operation this gateway does not provide.
	ErrUnimplemented = errors.New("operation not implemented")

	// ErrTimeout marks a bounded wait that elapsed with no device event.
	ErrTimeout = errors.New("timed out waiting for device event")
)

// UnaryHandler serves a request/response call. The returned value is CBOR
// encoded as the response payload.
type UnaryHandler func(ctx context.Context, payload cbor.RawMessage) (any, error)

// SendFunc emits one item of a server stream.
type SendFunc func(item any) error

// StreamHandler serves a server-streaming call. It returns when the stream
// ends; ctx is cancelled when the client cancels the call or disconnects.
type StreamHandler func(ctx context.Context, payload cbor.RawMessage, send SendFunc) error

// statusFor maps a handler error to the terminal status of the call.
func statusFor(err error) wire.Status {
	switch {
	case err == nil:
		return wire.StatusOK
	case errors.Is(err, ErrInvalidRequest):
		return wire.StatusInvalidRequest
	case errors.Is(err, ErrUnimplemented):
		return wire.StatusUnimplemented
	case errors.Is(err, ErrTimeout):
		return wire.StatusTimeout
	case errors.Is(err, context.Canceled):
		return wire.StatusCancelled
	default:
		return wire.StatusError
	}
}
