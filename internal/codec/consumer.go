package codec

import (
	"errors"
	"io"
	"net"
)

const readChunkSize = 4096

// Transform is a byte-transform stage applied to data flowing through the
// pipeline (decryption of inbound socket chunks, decompression of payloads).
// It receives a chunk and returns the transformed bytes.
type Transform func([]byte) ([]byte, error)

// Consumer is a stateful cursor over one connection's incoming byte stream.
// It buffers bytes the socket has already delivered and exposes exact-length
// read primitives used by field codecs and the frame parser. A read that
// cannot be satisfied yet blocks the calling goroutine until more bytes
// arrive; bytes buffered but not yet read are never discarded.
//
// A Consumer is owned by exactly one session and must not be shared: at most
// one read may be outstanding at a time.
type Consumer struct {
	src       io.Reader
	transform Transform

	buf      []byte
	r        int
	consumed int64
	eof      bool

	scratch [readChunkSize]byte
}

// NewConsumer creates a Consumer draining the given source, normally a
// net.Conn.
func NewConsumer(src io.Reader) *Consumer {
	return &Consumer{src: src}
}

// SetTransform installs an inbound byte-transform stage. Every chunk read
// from the source is passed through t before it is buffered, so bytes are
// counted post-transform. Used by the frame parser to splice in the decrypt
// stage; must be installed before the bytes it should apply to arrive.
func (c *Consumer) SetTransform(t Transform) {
	c.transform = t
}

// Buffered returns the number of bytes delivered by the socket but not yet
// read by a codec.
func (c *Consumer) Buffered() int {
	return len(c.buf) - c.r
}

// Consumed returns the total number of bytes handed out to codecs so far.
// The frame parser uses this for its byte-accounting invariant.
func (c *Consumer) Consumed() int64 {
	return c.consumed
}

// fill blocks until at least n unread bytes are buffered, or fails with
// ErrStreamEnded if the source ends first.
func (c *Consumer) fill(n int) error {
	for c.Buffered() < n {
		if c.eof {
			return ErrStreamEnded
		}

		// Reclaim already-consumed space before growing the buffer.
		if c.r > 0 && c.r == len(c.buf) {
			c.buf = c.buf[:0]
			c.r = 0
		} else if c.r > readChunkSize {
			c.buf = append(c.buf[:0], c.buf[c.r:]...)
			c.r = 0
		}

		m, err := c.src.Read(c.scratch[:])
		if m > 0 {
			chunk := c.scratch[:m]
			if c.transform != nil {
				out, terr := c.transform(chunk)
				if terr != nil {
					return terr
				}
				chunk = out
			}
			c.buf = append(c.buf, chunk...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				c.eof = true
				continue
			}
			return err
		}
	}
	return nil
}

// ReadExact blocks until n unread bytes are available, then returns exactly
// n bytes and advances the read position. It never returns a short result:
// if the source ends before n bytes accumulate the call fails with
// ErrStreamEnded.
func (c *Consumer) ReadExact(n int) ([]byte, error) {
	_, view, err := c.ReadView(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, view)
	return out, nil
}

// ReadView is ReadExact without the copy: it returns the stream offset of
// the first byte and a view into the internal buffer, letting a codec
// interpret the bytes as a structured numeric type in place. The view is
// valid only until the next read call on this Consumer.
func (c *Consumer) ReadView(n int) (int64, []byte, error) {
	if n < 0 {
		return 0, nil, errors.New("negative read length")
	}
	if err := c.fill(n); err != nil {
		return 0, nil, err
	}
	offset := c.consumed
	view := c.buf[c.r : c.r+n]
	c.r += n
	c.consumed += int64(n)
	return offset, view, nil
}

// ReadByte reads a single byte.
func (c *Consumer) ReadByte() (byte, error) {
	_, view, err := c.ReadView(1)
	if err != nil {
		return 0, err
	}
	return view[0], nil
}

// Discard reads and drops exactly n bytes. The session loop uses it to
// skip payload bytes its handler left unread so the next frame starts at
// the right position.
func (c *Consumer) Discard(n int) error {
	for n > 0 {
		step := n
		if step > readChunkSize {
			step = readChunkSize
		}
		if _, _, err := c.ReadView(step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
