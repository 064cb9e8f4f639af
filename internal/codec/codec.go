package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// CompressedPrefix marks a text payload stored as base64 encoded gzip.
const CompressedPrefix = "gz:"

// DefaultThreshold is the payload size from which answers are stored compressed.
const DefaultThreshold = 4096

// IsCompressed reports whether s carries the compressed payload marker
func IsCompressed(s string) bool {
	return strings.HasPrefix(s, CompressedPrefix)
}

// Pack compresses s when it is at least threshold bytes long.
// Shorter texts are returned unchanged.
func Pack(s string, threshold int) (string, error) {
	if threshold <= 0 || len(s) < threshold || IsCompressed(s) {
		return s, nil
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return "", fmt.Errorf("codec: new gzip writer: %w", err)
	}
	if _, err := zw.Write([]byte(s)); err != nil {
		zw.Close()
		return "", fmt.Errorf("codec: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("codec: flush: %w", err)
	}

	return CompressedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Unpack returns the plain text of a payload produced by Pack.
// Payloads without the marker are returned as is.
func Unpack(s string) (string, error) {
	if !IsCompressed(s) {
		return s, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, CompressedPrefix))
	if err != nil {
		return "", fmt.Errorf("codec: decode base64: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("codec: open gzip stream: %w", err)
	}
	defer zr.Close()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("codec: decompress: %w", err)
	}
	return string(plain), nil
}
