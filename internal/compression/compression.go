// Package compression provides payload codecs for the OTLP HTTP
// exporter and receiver.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone means no compression.
	TypeNone Type = "none"
	// TypeGzip uses gzip compression.
	TypeGzip Type = "gzip"
	// TypeZstd uses zstd compression.
	TypeZstd Type = "zstd"
	// TypeZlib uses zlib compression.
	TypeZlib Type = "zlib"
	// TypeDeflate uses raw deflate compression.
	TypeDeflate Type = "deflate"
)

// Config holds compression configuration.
type Config struct {
	// Type is the compression algorithm to use.
	Type Type
	// Level is the compression level; 0 selects the algorithm default.
	Level int
}

// ParseType parses a compression type string.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "zlib":
		return TypeZlib, nil
	case "deflate":
		return TypeDeflate, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value for
// the compression type, or "" for none.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip, TypeZstd, TypeZlib, TypeDeflate:
		return string(t)
	default:
		return ""
	}
}

// ParseContentEncoding maps an HTTP Content-Encoding header value to a
// compression type.
func ParseContentEncoding(encoding string) Type {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return TypeGzip
	case "zstd":
		return TypeZstd
	case "zlib":
		return TypeZlib
	case "deflate":
		return TypeDeflate
	default:
		return TypeNone
	}
}

// Compress compresses data according to cfg.
func Compress(data []byte, cfg Config) ([]byte, error) {
	switch cfg.Type {
	case TypeNone, "":
		return data, nil
	case TypeGzip:
		return compressWriter(data, func(buf *bytes.Buffer) (io.WriteCloser, error) {
			if cfg.Level != 0 {
				return gzip.NewWriterLevel(buf, cfg.Level)
			}
			return gzip.NewWriter(buf), nil
		})
	case TypeZlib:
		return compressWriter(data, func(buf *bytes.Buffer) (io.WriteCloser, error) {
			if cfg.Level != 0 {
				return zlib.NewWriterLevel(buf, cfg.Level)
			}
			return zlib.NewWriter(buf), nil
		})
	case TypeDeflate:
		return compressWriter(data, func(buf *bytes.Buffer) (io.WriteCloser, error) {
			level := cfg.Level
			if level == 0 {
				level = flate.DefaultCompression
			}
			return flate.NewWriter(buf, level)
		})
	case TypeZstd:
		level := zstd.SpeedDefault
		if cfg.Level > 0 {
			level = zstd.EncoderLevelFromZstd(cfg.Level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}
}

// Decompress decompresses data encoded with the given type.
func Decompress(data []byte, t Type) ([]byte, error) {
	switch t {
	case TypeNone, "":
		return data, nil
	case TypeGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case TypeZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create zlib reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case TypeDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	case TypeZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressWriter(data []byte, newWriter func(*bytes.Buffer) (io.WriteCloser, error)) ([]byte, error) {
	var buf bytes.Buffer
	w, err := newWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
