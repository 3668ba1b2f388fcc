// Package protocol implements the wire framing shared by the three Spile
// listeners: the frame parser that turns a connection's byte stream into
// packet headers, the pipeline hook points for decryption and
// decompression, and the frame writer used to send responses.
//
// The exact prefix encoding is never hardcoded here: each protocol supplies
// its own Framing built from field codecs (VarInt prefixes for the game
// protocol, little-endian int32 for RCON, big-endian uint16 for query).
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spile-project/spile/internal/codec"
)

// Framing bundles the protocol-specific codecs defining a frame: the length
// prefix covering everything after itself, and the packet identifier that
// opens the frame body.
type Framing struct {
	Name     string
	Length   codec.FieldCodec[int32]
	PacketID codec.FieldCodec[int32]

	// MaxFrameSize rejects frames whose declared length is absurd before
	// any payload is buffered.
	MaxFrameSize int32
}

// Header is the decoded per-packet frame header. It is constructed fresh
// for every packet immediately before dispatch and discarded once the
// handler has consumed it.
type Header struct {
	// Length is the declared frame size: every byte after the length
	// prefix itself.
	Length int32

	// PayloadLength is the number of payload bytes following the packet
	// identifier, after decompression if the frame was compressed.
	PayloadLength int32

	PacketID   int32
	Compressed bool

	// EndOffset is the consumer offset at which this frame ends. The
	// session drains up to it after dispatch so an inattentive handler
	// cannot desynchronize the following frames.
	EndOffset int64
}

// FrameError reports a malformed header or a violated framing invariant.
// A corrupted frame cannot be recovered mid-stream, so it terminates the
// owning connection and only that connection.
type FrameError struct {
	Proto  string
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s frame: %s: %v", e.Proto, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s frame: %s", e.Proto, e.Reason)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Parser reads frame headers from one connection. It is stateful per
// connection: enabling the encrypted pipeline installs the decrypt stage on
// the consumer exactly once.
type Parser struct {
	framing     Framing
	pipeline    Pipeline
	decryptLive bool
}

// NewParser creates a parser for one connection with the given framing and
// pipeline configuration.
func NewParser(framing Framing, pipeline Pipeline) *Parser {
	return &Parser{framing: framing, pipeline: pipeline}
}

// SetPipeline swaps the pipeline configuration, used when a protocol
// handshake enables compression or encryption mid-connection.
func (p *Parser) SetPipeline(pipeline Pipeline) {
	p.pipeline = pipeline
}

// ReadHeader consumes exactly one frame header from c and returns it along
// with the consumer the frame's payload must be read from: c itself for
// plain frames, or a consumer over the inflated bytes for compressed ones.
//
// A zero-length frame is a benign keepalive and yields (nil, nil, nil).
// A stream that ends cleanly on a frame boundary propagates
// codec.ErrStreamEnded untouched; everything else malformed is a
// *FrameError.
func (p *Parser) ReadHeader(c *codec.Consumer) (*Header, *codec.Consumer, error) {
	if p.pipeline.Encrypted && p.pipeline.Decrypt != nil && !p.decryptLive {
		c.SetTransform(p.pipeline.Decrypt)
		p.decryptLive = true
	}

	start := c.Consumed()

	length, err := p.framing.Length.Decode(c)
	if err != nil {
		if errors.Is(err, codec.ErrStreamEnded) && c.Consumed() == start {
			// Peer closed between frames; not a framing fault.
			return nil, nil, codec.ErrStreamEnded
		}
		return nil, nil, p.fail("length prefix", err)
	}
	prefixSize := c.Consumed() - start

	if length == 0 {
		return nil, nil, nil
	}
	if length < 0 || length > p.framing.MaxFrameSize {
		return nil, nil, p.fail(fmt.Sprintf("declared length %d out of range", length), nil)
	}

	frameEnd := start + prefixSize + int64(length)

	if p.pipeline.Compressed {
		return p.readCompressedHeader(c, length, frameEnd)
	}

	packetID, err := p.framing.PacketID.Decode(c)
	if err != nil {
		return nil, nil, p.fail("packet id", err)
	}
	if c.Consumed() > frameEnd {
		return nil, nil, p.fail("packet id overruns frame", nil)
	}

	return &Header{
		Length:        length,
		PayloadLength: int32(frameEnd - c.Consumed()),
		PacketID:      packetID,
		EndOffset:     frameEnd,
	}, c, nil
}

// readCompressedHeader handles the second, decompressed-length prefix. A
// zero prefix marks a frame the peer sent uncompressed because its payload
// sat below the threshold.
func (p *Parser) readCompressedHeader(c *codec.Consumer, length int32, frameEnd int64) (*Header, *codec.Consumer, error) {
	dataLength, err := p.framing.Length.Decode(c)
	if err != nil {
		return nil, nil, p.fail("decompressed-length prefix", err)
	}

	if dataLength == 0 {
		packetID, err := p.framing.PacketID.Decode(c)
		if err != nil {
			return nil, nil, p.fail("packet id", err)
		}
		if c.Consumed() > frameEnd {
			return nil, nil, p.fail("packet id overruns frame", nil)
		}
		return &Header{
			Length:        length,
			PayloadLength: int32(frameEnd - c.Consumed()),
			PacketID:      packetID,
			EndOffset:     frameEnd,
		}, c, nil
	}

	if dataLength < p.pipeline.CompressionThreshold {
		return nil, nil, p.fail(fmt.Sprintf("compressed payload of %d bytes is below threshold %d", dataLength, p.pipeline.CompressionThreshold), nil)
	}
	if dataLength > p.framing.MaxFrameSize {
		return nil, nil, p.fail(fmt.Sprintf("decompressed length %d out of range", dataLength), nil)
	}
	if p.pipeline.Decompress == nil {
		return nil, nil, p.fail("compressed frame but no decompress stage configured", nil)
	}

	remaining := frameEnd - c.Consumed()
	if remaining < 0 {
		return nil, nil, p.fail("decompressed-length prefix overruns frame", nil)
	}
	deflated, err := c.ReadExact(int(remaining))
	if err != nil {
		return nil, nil, p.fail("compressed body", err)
	}

	inflated, err := p.pipeline.Decompress(deflated)
	if err != nil {
		return nil, nil, p.fail("decompress stage", err)
	}
	if int32(len(inflated)) != dataLength {
		return nil, nil, p.fail(fmt.Sprintf("decompressed to %d bytes, frame declared %d", len(inflated), dataLength), nil)
	}

	pc := codec.NewConsumer(bytes.NewReader(inflated))
	packetID, err := p.framing.PacketID.Decode(pc)
	if err != nil {
		return nil, nil, p.fail("packet id", err)
	}

	return &Header{
		Length:        length,
		PayloadLength: dataLength - int32(pc.Consumed()),
		PacketID:      packetID,
		Compressed:    true,
		EndOffset:     frameEnd,
	}, pc, nil
}

func (p *Parser) fail(reason string, err error) error {
	return &FrameError{Proto: p.framing.Name, Reason: reason, Err: err}
}

// WriteFrame encodes and writes one outbound frame: length prefix, packet
// identifier, payload. The dual of ReadHeader for the same Framing.
func WriteFrame(w io.Writer, framing Framing, packetID int32, payload []byte) error {
	id, err := framing.PacketID.Encode(packetID)
	if err != nil {
		return fmt.Errorf("encode packet id: %w", err)
	}
	prefix, err := framing.Length.Encode(int32(len(id) + len(payload)))
	if err != nil {
		return fmt.Errorf("encode length prefix: %w", err)
	}

	buf := make([]byte, 0, len(prefix)+len(id)+len(payload))
	buf = append(buf, prefix...)
	buf = append(buf, id...)
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
