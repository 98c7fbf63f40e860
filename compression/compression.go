// Package compression deflates measurement payloads before they are transferred.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zlib"
)

// DefaultLevel ...
const DefaultLevel = zlib.BestCompression

// Compressor ...
type Compressor struct {
	level  int
	logger log.Logger
}

// NewCompressor returns a zlib compressor. Level 0 selects DefaultLevel.
func NewCompressor(level int, logger log.Logger) (*Compressor, error) {
	if level == 0 {
		level = DefaultLevel
	}
	if level < zlib.HuffmanOnly || level > zlib.BestCompression {
		return nil, fmt.Errorf("invalid compression level: %d", level)
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Compressor{level: level, logger: logger}, nil
}

// Compress deflates everything read from r into a zlib stream.
func (c *Compressor) Compress(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish zlib stream: %w", err)
	}

	c.logger.Debugf("Compressed %d bytes to %d bytes", n, buf.Len())
	return buf.Bytes(), nil
}

// Decompress inflates a zlib stream.
func Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open zlib stream: %w", err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("close zlib stream: %w", err)
	}
	return out, nil
}
