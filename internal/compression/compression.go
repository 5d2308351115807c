// Package compression wraps a batch's serialized stream in the configured
// codec and owns the temporary files the payload lives in until upload.
package compression

import (
	"fmt"
	"strings"
)

// Type represents a storage codec.
type Type string

const (
	// TypeGzip stores gzip-compressed objects.
	TypeGzip Type = "gzip"
	// TypeLZO stores objects compressed by the external lzop binary.
	TypeLZO Type = "lzo"
	// TypeZstd stores zstd-compressed objects.
	TypeZstd Type = "zstd"
	// TypeJSON stores the raw stream, declared as JSON.
	TypeJSON Type = "json"
	// TypeText stores the raw stream, declared as plain text.
	TypeText Type = "text"
)

// Level represents compression level settings.
type Level int

// Common compression levels (algorithm-specific mappings).
const (
	// LevelDefault uses the default compression level for the algorithm.
	LevelDefault Level = 0
	// LevelFastest uses the fastest compression (lowest ratio).
	LevelFastest Level = 1
	// LevelBest uses the best compression (highest ratio).
	LevelBest Level = 9
)

// zstd levels
const (
	ZstdSpeedFastest           Level = 1
	ZstdSpeedDefault           Level = 3
	ZstdSpeedBetterCompression Level = 6
	ZstdSpeedBestCompression   Level = 11
)

// Descriptor is the object metadata implied by a codec.
type Descriptor struct {
	// Extension is the file extension without the dot.
	Extension string
	// ContentType is the MIME type sent with the object.
	ContentType string
}

// ParseType parses a codec name. An empty name selects gzip.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gzip", "gz":
		return TypeGzip, nil
	case "lzo", "lzop":
		return TypeLZO, nil
	case "zstd", "zst":
		return TypeZstd, nil
	case "json":
		return TypeJSON, nil
	case "text", "txt", "none":
		return TypeText, nil
	default:
		return TypeGzip, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// Descriptor returns the extension and MIME type for t.
func (t Type) Descriptor() Descriptor {
	switch t {
	case TypeGzip:
		return Descriptor{Extension: "gz", ContentType: "application/x-gzip"}
	case TypeLZO:
		return Descriptor{Extension: "lzo", ContentType: "application/x-lzop"}
	case TypeZstd:
		return Descriptor{Extension: "zst", ContentType: "application/zstd"}
	case TypeJSON:
		return Descriptor{Extension: "json", ContentType: "application/json"}
	default:
		return Descriptor{Extension: "txt", ContentType: "text/plain"}
	}
}

// External reports whether the codec runs an external process.
func (t Type) External() bool {
	return t == TypeLZO
}

// Compressed reports whether the codec changes the bytes at all.
func (t Type) Compressed() bool {
	switch t {
	case TypeGzip, TypeLZO, TypeZstd:
		return true
	default:
		return false
	}
}
