// internal/journal/compression.go
package journal

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic opens every zstd frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 3=best)
	Level int
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024, // 1KB
		Level:   2,    // Balanced speed/compression
	}
}

// compressionManager pools zstd encoders and decoders across appends.
type compressionManager struct {
	opts CompressionOptions

	encoders sync.Pool
	decoders sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	if opts.Level == 0 {
		opts.Level = DefaultCompressionOptions().Level
	}

	// Create encoder/decoder for validation
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}
	dec.Close()

	return &compressionManager{
		opts: opts,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				return dec
			},
		},
	}, nil
}

// compress returns content compressed when it is large enough to be worth
// it, and whether it did.
func (cm *compressionManager) compress(content []byte) ([]byte, bool) {
	if len(content) < cm.opts.MinSize {
		return content, false
	}

	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	return enc.EncodeAll(content, make([]byte, 0, len(content)/2)), true
}

// decompress reverses compress. Content without a zstd frame header is
// returned as is.
func (cm *compressionManager) decompress(content []byte) ([]byte, error) {
	if len(content) < len(zstdMagic) || !bytes.Equal(content[:len(zstdMagic)], zstdMagic) {
		return content, nil
	}

	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	out, err := dec.DecodeAll(content, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}
