package protocol

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/spile-project/spile/internal/codec"
)

// Pipeline configures the optional transform stages a connection's frames
// pass through. The parser owns only the sequencing; the stages themselves
// are supplied by the concrete protocol once its negotiation handshake has
// completed. The zero value is the plaintext, uncompressed pipeline every
// connection starts with.
type Pipeline struct {
	Encrypted  bool
	Compressed bool

	// CompressionThreshold is the smallest payload size a peer is allowed
	// to compress. Frames declaring a decompressed size below it are
	// malformed.
	CompressionThreshold int32

	// Decrypt is installed on the connection's Consumer so inbound bytes
	// are counted post-decryption.
	Decrypt codec.Transform

	// Decompress is applied to the compressed remainder of a frame whose
	// declared decompressed size meets the threshold.
	Decompress codec.Transform
}

// ZlibDecompress returns a decompress stage for zlib-deflated payloads.
func ZlibDecompress() codec.Transform {
	return func(data []byte) ([]byte, error) {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open zlib payload: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("inflate payload: %w", err)
		}
		return out, nil
	}
}

// AESDecrypt returns a decrypt stage holding connection-scoped AES-CFB
// stream state. The shared secret doubles as the IV, as negotiated by the
// game protocol's encryption handshake.
func AESDecrypt(secret []byte) (codec.Transform, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	stream := cipher.NewCFBDecrypter(block, secret[:block.BlockSize()])
	return func(data []byte) ([]byte, error) {
		out := make([]byte, len(data))
		stream.XORKeyStream(out, data)
		return out, nil
	}, nil
}
