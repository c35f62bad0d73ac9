// Package capture reads and writes statement capture files.
//
// A capture file is a stream of records, one per statement a unit of work
// issued, in execution order. Two encodings are supported: JSON lines
// (".jsonl", ".json") and a MessagePack stream (".msgpack", ".mp").
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/batch"
)

// Format is the encoding of a capture file.
type Format uint8

// Supported formats.
const (
	FormatJSON Format = iota + 1
	FormatMsgpack
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "jsonl"
	case FormatMsgpack:
		return "msgpack"
	}
	return "unknown"
}

// FormatOf returns the format implied by the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json":
		return FormatJSON, nil
	case ".msgpack", ".mp":
		return FormatMsgpack, nil
	}
	return 0, fmt.Errorf("capture: unknown file format %q", path)
}

// Param is a captured parameter.
type Param struct {
	Name      string              `json:"name" msgpack:"name"`
	Direction bulkmerge.Direction `json:"direction,omitempty" msgpack:"direction,omitempty"`
	Precision int                 `json:"precision,omitempty" msgpack:"precision,omitempty"`
	Scale     int                 `json:"scale,omitempty" msgpack:"scale,omitempty"`
	Size      int                 `json:"size,omitempty" msgpack:"size,omitempty"`
	Value     any                 `json:"value" msgpack:"value"`
}

// Record is one captured statement.
type Record struct {
	Kind   bulkmerge.CommandKind     `json:"kind,omitempty" msgpack:"kind,omitempty"`
	SQL    string                    `json:"sql" msgpack:"sql"`
	Types  []bulkmerge.ParameterType `json:"types,omitempty" msgpack:"types,omitempty"`
	Params []Param                   `json:"params,omitempty" msgpack:"params,omitempty"`
	// Expect is the number of rows the statement must affect. Nil means
	// one row; a negative value disables the check.
	Expect *int64 `json:"expect,omitempty" msgpack:"expect,omitempty"`
}

// NewRecord captures cmd with its expectation.
func NewRecord(cmd *bulkmerge.CommandDescriptor, exp batch.Expectation) *Record {
	r := &Record{Kind: cmd.Kind, SQL: cmd.SQL, Types: cmd.Types}
	for _, p := range cmd.Params {
		r.Params = append(r.Params, Param{
			Name:      p.Name,
			Direction: p.Direction,
			Precision: p.Precision,
			Scale:     p.Scale,
			Size:      p.Size,
			Value:     p.Value,
		})
	}
	if exp == nil {
		exp = batch.None
	}
	n, ok := exp.Expected()
	if !ok {
		n = -1
	}
	if n != 1 {
		r.Expect = &n
	}
	return r
}

// Command returns the command descriptor of the record.
func (r *Record) Command() *bulkmerge.CommandDescriptor {
	cmd := &bulkmerge.CommandDescriptor{
		Kind:   r.Kind,
		SQL:    r.SQL,
		Types:  r.Types,
		Params: make([]bulkmerge.Parameter, len(r.Params)),
	}
	for i, p := range r.Params {
		cmd.Params[i] = bulkmerge.Parameter{
			Name:      p.Name,
			Direction: p.Direction,
			Precision: p.Precision,
			Scale:     p.Scale,
			Size:      p.Size,
			Value:     normalize(p.Value),
		}
	}
	return cmd
}

// Expectation returns the row count expectation of the record.
func (r *Record) Expectation() batch.Expectation {
	switch {
	case r.Expect == nil:
		return batch.Default
	case *r.Expect < 0:
		return batch.None
	default:
		return batch.RowCount(*r.Expect)
	}
}

// normalize converts JSON numbers into values database drivers accept.
func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = normalize(v[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalize(e)
		}
		return out
	}
	return v
}

// Reader reads records from a capture stream.
type Reader interface {
	// Next returns the next record, or io.EOF at the end of the stream.
	Next() (*Record, error)
}

type decoder interface {
	Decode(v any) error
}

type reader struct {
	dec decoder
}

func (r *reader) Next() (*Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("capture: decode record: %w", err)
	}
	return &rec, nil
}

// NewReader returns a Reader decoding r in the given format.
func NewReader(r io.Reader, f Format) (Reader, error) {
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		return &reader{dec: dec}, nil
	case FormatMsgpack:
		return &reader{dec: msgpack.NewDecoder(bufio.NewReader(r))}, nil
	}
	return nil, fmt.Errorf("capture: unsupported format %v", f)
}

// File is a capture file opened for reading.
type File struct {
	Reader
	f *os.File
}

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }

// Name returns the file path.
func (f *File) Name() string { return f.f.Name() }

// Open opens a capture file for reading. The format follows the extension.
func Open(path string) (*File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	r, err := NewReader(f, format)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{Reader: r, f: f}, nil
}

// Writer writes records to a capture stream.
type Writer struct {
	w   *bufio.Writer
	enc interface{ Encode(v any) error }
}

// NewWriter returns a Writer encoding records to w in the given format.
// Call Flush when done.
func NewWriter(w io.Writer, f Format) (*Writer, error) {
	bw := bufio.NewWriter(w)
	switch f {
	case FormatJSON:
		return &Writer{w: bw, enc: json.NewEncoder(bw)}, nil
	case FormatMsgpack:
		enc := msgpack.NewEncoder(bw)
		enc.UseCompactInts(true)
		return &Writer{w: bw, enc: enc}, nil
	}
	return nil, fmt.Errorf("capture: unsupported format %v", f)
}

// Write appends a record.
func (w *Writer) Write(rec *Record) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture: encode record: %w", err)
	}
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Replay adds every record of r to b and flushes it. It returns the number
// of records replayed.
func Replay(ctx context.Context, b *batch.Batcher, r Reader) (int, error) {
	var n int
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		if err := b.Add(ctx, rec.Command(), rec.Expectation()); err != nil {
			return n, fmt.Errorf("capture: record %d: %w", n+1, err)
		}
		n++
	}
	if err := b.Flush(ctx); err != nil {
		return n, fmt.Errorf("capture: flush: %w", err)
	}
	return n, nil
}
