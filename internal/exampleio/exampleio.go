// Package exampleio frames TrainingExample records into self-delimiting
// files. Each record is a JSON-encoded
// experience.TrainingExample preceded by a 4-byte big-endian length, mirroring
// internal/protocol's choice of JSON for payload bytes (see message.go's
// Decode) while adding the length prefix a single file of many records
// needs that a one-shot RPC message does not.
package exampleio

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lox/alphatrain/internal/experience"
)

// Writer appends framed TrainingExamples to a file, created fresh by
// NewWriter.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
}

// NewWriter creates (truncating any existing file) path for writing.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("exampleio: create %s: %w", path, err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f)}, nil
}

// Write appends one record.
func (w *Writer) Write(ex experience.TrainingExample) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("exampleio: marshal record: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	if _, err := w.buf.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("exampleio: write length prefix: %w", err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("exampleio: write record: %w", err)
	}
	return nil
}

// Close flushes buffered writes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("exampleio: flush: %w", err)
	}
	return w.f.Close()
}

// ReadAll reads every record from path in order. Used by tests and by any
// Trainer implementation that wants to load examples in-process rather than
// by path alone.
func ReadAll(path string) ([]experience.TrainingExample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("exampleio: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []experience.TrainingExample
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("exampleio: read length prefix: %w", err)
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("exampleio: read record body: %w", err)
		}
		var ex experience.TrainingExample
		if err := json.Unmarshal(data, &ex); err != nil {
			return nil, fmt.Errorf("exampleio: unmarshal record: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}
