package output

import (
	"encoding/json"
	"io"
)

// jsonWriter buffers records and writes them as one array.
type jsonWriter struct {
	w       io.Writer
	indent  string
	records []any
}

func (w *jsonWriter) Write(record any) error {
	w.records = append(w.records, record)
	return nil
}

func (w *jsonWriter) Close() error {
	enc := json.NewEncoder(w.w)
	enc.SetEscapeHTML(false)
	if w.indent != "" {
		enc.SetIndent("", w.indent)
	}
	records := w.records
	if records == nil {
		records = []any{}
	}
	return enc.Encode(records)
}

// jsonlWriter writes one record per line as it arrives.
type jsonlWriter struct {
	w io.Writer
}

func (w *jsonlWriter) Write(record any) error {
	enc := json.NewEncoder(w.w)
	enc.SetEscapeHTML(false)
	return enc.Encode(record)
}

func (w *jsonlWriter) Close() error { return nil }
