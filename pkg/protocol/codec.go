package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ErrFraming is returned for any violation of the length-prefixed frame
// format. Framing errors are fatal: the session must be closed.
var ErrFraming = errors.New("protocol: framing error")

const (
	// DefaultMaxFrame bounds a single frame payload. Story bodies are the
	// largest legitimate payload and stay well under this.
	DefaultMaxFrame = 64 * 1024

	writeTimeout = 5 * time.Second
)

// Framer is a message-oriented transport: one call, one logical field.
// Codec implements it for byte streams; the websocket transport provides
// its own implementation. All session logic goes through this interface.
type Framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	Close() error
}

// Codec frames messages over a byte stream. Each frame is a 4-byte
// big-endian payload length followed by the payload. This replaces the
// legacy implicit-length messaging while keeping the same logical field
// sequence per action.
type Codec struct {
	r    *bufio.Reader
	w    *bufio.Writer
	conn net.Conn // nil when the underlying transport has no deadlines

	// MaxFrame is the largest accepted payload size. Oversized frames are
	// a framing error.
	MaxFrame int

	// ReadTimeout bounds each blocking read so a stalled peer cannot leak
	// a worker. Zero disables the deadline.
	ReadTimeout time.Duration
}

// NewCodec wraps a stream in a Codec. If rw is a net.Conn, read and write
// deadlines are applied per call.
func NewCodec(rw io.ReadWriter) *Codec {
	c := &Codec{
		r:        bufio.NewReaderSize(rw, 4096),
		w:        bufio.NewWriterSize(rw, 4096),
		MaxFrame: DefaultMaxFrame,
	}
	if conn, ok := rw.(net.Conn); ok {
		c.conn = conn
	}
	return c
}

// ReadFrame reads one length-prefixed frame and returns its payload.
func (c *Codec) ReadFrame() ([]byte, error) {
	if c.conn != nil && c.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	}
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading length: %v", ErrFraming, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int(n) > c.MaxFrame {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit %d", ErrFraming, n, c.MaxFrame)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload: %v", ErrFraming, err)
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame and flushes it.
func (c *Codec) WriteFrame(payload []byte) error {
	if len(payload) > c.MaxFrame {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit %d", ErrFraming, len(payload), c.MaxFrame)
	}
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("protocol: write length: %w", err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return c.w.Flush()
}

// Close closes the underlying connection when there is one.
func (c *Codec) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// WriteString sends a string field as one frame.
func WriteString(f Framer, s string) error {
	return f.WriteFrame([]byte(s))
}

// ReadString reads one frame as a string field.
func ReadString(f Framer) (string, error) {
	b, err := f.ReadFrame()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteInt sends an integer field in its decimal string form, matching the
// legacy wire representation of counts and coordinates.
func WriteInt(f Framer, n int) error {
	return f.WriteFrame([]byte(strconv.Itoa(n)))
}

// ReadInt reads one frame and parses it as a decimal integer.
func ReadInt(f Framer) (int, error) {
	b, err := f.ReadFrame()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer field, got %q", ErrFraming, b)
	}
	return n, nil
}

// WriteJSON sends a JSON-encoded value as one frame.
func WriteJSON(f Framer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: encode json: %w", err)
	}
	return f.WriteFrame(b)
}

// ReadJSON reads one frame and decodes it into v.
func ReadJSON(f Framer, v any) error {
	b, err := f.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: bad json payload: %v", ErrFraming, err)
	}
	return nil
}
