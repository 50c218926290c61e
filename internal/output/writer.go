// Package output serializes search and video results for the CLI.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatJSON, FormatJSONL, FormatYAML}

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format %q (want json, jsonl or yaml)", s)
}

// Writer serializes records. Buffering writers emit on Close.
type Writer interface {
	Write(record any) error
	Close() error
}

// Option configures a Writer.
type Option func(*options)

type options struct {
	indent string
}

// WithIndent sets the JSON indentation. An empty indent writes compact JSON.
func WithIndent(indent string) Option {
	return func(o *options) {
		o.indent = indent
	}
}

// NewWriter returns a Writer for format.
func NewWriter(w io.Writer, format Format, opts ...Option) (Writer, error) {
	o := &options{indent: "  "}
	for _, opt := range opts {
		opt(o)
	}

	switch format {
	case FormatJSON:
		return &jsonWriter{w: w, indent: o.indent}, nil
	case FormatJSONL:
		return &jsonlWriter{w: w}, nil
	case FormatYAML:
		return &yamlWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteAll writes every record and closes w.
func WriteAll[T any](w Writer, records []T) error {
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Close()
}
