package compression

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("telemetry records compress well "), 64)

	for _, typ := range []Type{TypeNone, TypeGzip, TypeZstd, TypeZlib, TypeDeflate} {
		t.Run(string(typ), func(t *testing.T) {
			compressed, err := Compress(payload, Config{Type: typ})
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if typ != TypeNone && len(compressed) >= len(payload) {
				t.Errorf("Compressed size %d not smaller than input %d", len(compressed), len(payload))
			}
			out, err := Decompress(compressed, typ)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(out, payload) {
				t.Error("Round trip mismatch")
			}
		})
	}
}

func TestRoundTripWithLevel(t *testing.T) {
	payload := bytes.Repeat([]byte("abc123"), 200)

	for _, cfg := range []Config{
		{Type: TypeGzip, Level: 9},
		{Type: TypeZstd, Level: 3},
		{Type: TypeZlib, Level: 1},
		{Type: TypeDeflate, Level: 6},
	} {
		compressed, err := Compress(payload, cfg)
		if err != nil {
			t.Fatalf("%s level %d: Compress: %v", cfg.Type, cfg.Level, err)
		}
		out, err := Decompress(compressed, cfg.Type)
		if err != nil {
			t.Fatalf("%s level %d: Decompress: %v", cfg.Type, cfg.Level, err)
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("%s level %d: round trip mismatch", cfg.Type, cfg.Level)
		}
	}
}

func TestCompressEmptyInput(t *testing.T) {
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeZlib, TypeDeflate} {
		compressed, err := Compress(nil, Config{Type: typ})
		if err != nil {
			t.Fatalf("%s: Compress(nil): %v", typ, err)
		}
		out, err := Decompress(compressed, typ)
		if err != nil {
			t.Fatalf("%s: Decompress: %v", typ, err)
		}
		if len(out) != 0 {
			t.Errorf("%s: expected empty output, got %d bytes", typ, len(out))
		}
	}
}

func TestParseType(t *testing.T) {
	cases := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{"gzip", TypeGzip, false},
		{"GZIP", TypeGzip, false},
		{" zstd ", TypeZstd, false},
		{"zlib", TypeZlib, false},
		{"deflate", TypeDeflate, false},
		{"brotli", TypeNone, true},
	}
	for _, tc := range cases {
		got, err := ParseType(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseType(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseType(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseType(%q) = %s, expected %s", tc.input, got, tc.want)
		}
	}
}

func TestContentEncoding(t *testing.T) {
	if TypeNone.ContentEncoding() != "" {
		t.Error("none must map to empty Content-Encoding")
	}
	if TypeGzip.ContentEncoding() != "gzip" {
		t.Errorf("gzip encoding = %q", TypeGzip.ContentEncoding())
	}
}

func TestParseContentEncoding(t *testing.T) {
	cases := map[string]Type{
		"gzip":     TypeGzip,
		"x-gzip":   TypeGzip,
		"GZIP":     TypeGzip,
		"zstd":     TypeZstd,
		"zlib":     TypeZlib,
		"deflate":  TypeDeflate,
		"":         TypeNone,
		"identity": TypeNone,
	}
	for encoding, want := range cases {
		if got := ParseContentEncoding(encoding); got != want {
			t.Errorf("ParseContentEncoding(%q) = %s, expected %s", encoding, got, want)
		}
	}
}

func TestDecompressCorruptInput(t *testing.T) {
	for _, typ := range []Type{TypeGzip, TypeZlib} {
		if _, err := Decompress([]byte("not compressed"), typ); err == nil {
			t.Errorf("%s: expected error for corrupt input", typ)
		}
	}
}
