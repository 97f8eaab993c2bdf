package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	payload, err := Marshal(&ConnectRequest{Address: []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}})
	require.NoError(t, err)

	req := &Request{MessageID: 7, Method: MethodConnect, Payload: payload}
	data, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.MessageID, decoded.MessageID)
	assert.Equal(t, req.Method, decoded.Method)

	var connReq ConnectRequest
	require.NoError(t, Unmarshal(decoded.Payload, &connReq))
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, connReq.Address)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{MessageID: 3, Status: StatusTimeout, Error: "timed out"}
	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), decoded.MessageID)
	assert.Equal(t, StatusTimeout, decoded.Status)
	assert.Equal(t, "timed out", decoded.Error)
	assert.False(t, decoded.Stream)
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{name: "valid", req: Request{MessageID: 1, Method: MethodReset}},
		{name: "missing message id", req: Request{Method: MethodReset}, wantErr: true},
		{name: "missing method", req: Request{MessageID: 1}, wantErr: true},
		{name: "cancel needs no method", req: Request{MessageID: 1, Cancel: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusIsSuccess(t *testing.T) {
	assert.True(t, StatusOK.IsSuccess())
	assert.False(t, StatusError.IsSuccess())
	assert.False(t, StatusTimeout.IsSuccess())
	assert.False(t, StatusCancelled.IsSuccess())
}

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	require.NoError(t, w.WriteFrame([]byte("first")))
	require.NoError(t, w.WriteFrame([]byte("second")))

	r := NewFrameReader(&buf)
	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), frame)

	frame, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), frame)
}

func TestFramingRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	err := w.WriteFrame(make([]byte, DefaultMaxFrameSize+1))
	assert.Error(t, err)

	// A length prefix announcing an oversized frame is rejected on read.
	buf.Reset()
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	r := NewFrameReader(&buf)
	_, err = r.ReadFrame()
	assert.Error(t, err)
}

func TestFramingTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte("truncated")))

	data := buf.Bytes()
	r := NewFrameReader(bytes.NewReader(data[:len(data)-3]))
	_, err := r.ReadFrame()
	assert.Error(t, err)
}
