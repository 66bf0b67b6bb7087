package store

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// File extensions for the supported codecs.
const (
	jsonExtension   = ".json"
	gobLZ4Extension = ".gob.lz4"
)

// metaIndent pretty-prints the meta file for hand inspection.
const metaIndent = "  "

// Codec defines how a store section is serialized and deserialized.
type Codec interface {
	// Encode writes the value to the writer.
	Encode(w io.Writer, value any) error
	// Decode reads the value from the reader.
	Decode(r io.Reader, value any) error
	// Extension returns the file extension for this codec.
	Extension() string
}

// JSONCodec implements Codec with indented JSON; used for the meta file.
type JSONCodec struct {
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: metaIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, value any) error {
	err := json.NewDecoder(r).Decode(value)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string { return jsonExtension }

// GobLZ4Codec implements Codec with gob encoding through an LZ4 frame; used
// for table segments, where the repetitive numeric columns compress well.
type GobLZ4Codec struct{}

// NewGobLZ4Codec creates a gob+lz4 codec.
func NewGobLZ4Codec() *GobLZ4Codec {
	return &GobLZ4Codec{}
}

// Encode implements Codec.Encode: gob into an LZ4 frame.
func (c *GobLZ4Codec) Encode(w io.Writer, value any) error {
	zw := lz4.NewWriter(w)

	err := gob.NewEncoder(zw).Encode(value)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 flush: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode: gob out of an LZ4 frame.
func (c *GobLZ4Codec) Decode(r io.Reader, value any) error {
	err := gob.NewDecoder(lz4.NewReader(r)).Decode(value)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for gob+lz4 files.
func (c *GobLZ4Codec) Extension() string { return gobLZ4Extension }
