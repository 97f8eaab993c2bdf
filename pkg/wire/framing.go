package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxFrameSize bounds a single frame (1 MB); service discovery
	// responses with large GATT trees stay well under this.
	DefaultMaxFrameSize = 1 << 20
)

// Framing errors.
var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrFrameEmpty    = errors.New("frame is empty")
)

// FrameWriter writes length-prefixed frames. Thread-safe: streaming calls and
// unary responses share one writer per connection.
type FrameWriter struct {
	mu       sync.Mutex
	w        io.Writer
	maxFrame uint32
}

// NewFrameWriter creates a frame writer with the default frame bound.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w, maxFrame: DefaultMaxFrameSize}
}

// WriteFrame writes one length-prefixed frame.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if uint32(len(data)) > fw.maxFrame {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), fw.maxFrame)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := fw.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// FrameReader reads length-prefixed frames. Not safe for concurrent use;
// each connection has exactly one read loop.
type FrameReader struct {
	r         io.Reader
	maxFrame  uint32
	lengthBuf [LengthPrefixSize]byte
}

// NewFrameReader creates a frame reader with the default frame bound.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, maxFrame: DefaultMaxFrameSize}
}

// ReadFrame reads one frame. Returns io.EOF on clean connection shutdown.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, ErrFrameEmpty
	}
	if length > fr.maxFrame {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.maxFrame)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		return nil, fmt.Errorf("frame truncated: %w", err)
	}
	return data, nil
}
