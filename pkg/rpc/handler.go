package rpc

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/srg/btgate/pkg/wire"
)

// Unary adapts a typed request/response function to a UnaryHandler. A payload
// that fails to decode is rejected as an invalid request before the handler
// runs.
func Unary[Req, Resp any](h func(ctx context.Context, req *Req) (*Resp, error)) UnaryHandler {
	return func(ctx context.Context, payload cbor.RawMessage) (any, error) {
		var req Req
		if len(payload) > 0 {
			if err := wire.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
		}
		return h(ctx, &req)
	}
}

// Stream adapts a typed server-streaming function to a StreamHandler.
func Stream[Req, Item any](h func(ctx context.Context, req *Req, send func(*Item) error) error) StreamHandler {
	return func(ctx context.Context, payload cbor.RawMessage, send SendFunc) error {
		var req Req
		if len(payload) > 0 {
			if err := wire.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
		}
		return h(ctx, &req, func(item *Item) error {
			return send(item)
		})
	}
}

// Unimplemented is a UnaryHandler that rejects the call with the
// unimplemented status and performs no side effects.
func Unimplemented(ctx context.Context, _ cbor.RawMessage) (any, error) {
	return nil, ErrUnimplemented
}
