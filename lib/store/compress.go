// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how task output is stored. The value is also
// the tag byte at the front of every stored output blob, so existing
// rows stay readable when the configured compression changes.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration value. The empty string
// means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown output compression %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeOutput frames text as [tag][uvarint length][payload]. Output
// that does not shrink under the requested compression is stored
// uncompressed. Empty text encodes to nil, stored as NULL.
func encodeOutput(text string, compression Compression) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	data := []byte(text)

	tag := compression
	payload := data
	switch compression {
	case CompressionNone:
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			tag = CompressionNone
		} else {
			payload = destination[:written]
		}
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			tag = CompressionNone
		} else {
			payload = compressed
		}
	default:
		return nil, fmt.Errorf("unsupported output compression %d", compression)
	}

	framed := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	framed[0] = byte(tag)
	framed = binary.AppendUvarint(framed, uint64(len(data)))
	return append(framed, payload...), nil
}

// decodeOutput reverses encodeOutput.
func decodeOutput(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	tag := Compression(blob[0])
	size, n := binary.Uvarint(blob[1:])
	if n <= 0 {
		return "", fmt.Errorf("output blob: malformed length")
	}
	payload := blob[1+n:]

	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return "", fmt.Errorf("output blob: %d bytes, header says %d", len(payload), size)
		}
		return string(payload), nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return "", fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return "", fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return string(destination), nil
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return "", fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(decoded)) != size {
			return "", fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(decoded), size)
		}
		return string(decoded), nil
	default:
		return "", fmt.Errorf("output blob: unknown compression tag %d", tag)
	}
}
