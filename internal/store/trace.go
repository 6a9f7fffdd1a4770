package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cwbudde/curvesearch/internal/search"
)

// TraceFile is the name of the per-run candidate trace inside a run
// directory.
const TraceFile = "trace.jsonl.zst"

// TraceEntry is one candidate state transition. Entries are stored as
// zstd-compressed JSON lines.
type TraceEntry struct {
	Index     int       `json:"index"`
	ModelName string    `json:"modelName"`
	State     string    `json:"state"`
	Cost      Float     `json:"cost,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTraceEntry converts an engine event.
func NewTraceEntry(ev search.Event) TraceEntry {
	entry := TraceEntry{
		Index:     ev.Index,
		ModelName: ev.ModelName,
		State:     ev.State.String(),
		Cost:      Float(ev.Cost),
		Timestamp: time.Now(),
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	return entry
}

// TracePath returns where the trace of run id is stored.
func TracePath(baseDir, id string) string {
	return filepath.Join(baseDir, "runs", id, TraceFile)
}

// TraceWriter writes trace entries through a zstd encoder.
// It is safe for concurrent use, so it can observe a running search.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	enc    *zstd.Encoder
	writer *bufio.Writer
	path   string
	err    error
}

// NewTraceWriter creates the trace of run id, truncating an old one.
func NewTraceWriter(baseDir, id string) (*TraceWriter, error) {
	path := TracePath(baseDir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create trace encoder: %w", err)
	}

	return &TraceWriter{
		file:   file,
		enc:    enc,
		writer: bufio.NewWriterSize(enc, 64*1024),
		path:   path,
	}, nil
}

// Write appends an entry. The entry is buffered until Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Observe adapts the writer to a search observer. The first write error
// is kept and returned by Close.
func (tw *TraceWriter) Observe(ev search.Event) {
	if err := tw.Write(NewTraceEntry(ev)); err != nil {
		tw.mu.Lock()
		if tw.err == nil {
			tw.err = err
		}
		tw.mu.Unlock()
	}
}

// Flush pushes buffered entries through the encoder to disk.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.enc.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace encoder: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close finishes the zstd frame and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.enc.Close()
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.enc.Close(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to close trace encoder: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return tw.err
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads entries back from a compressed trace.
type TraceReader struct {
	file    *os.File
	dec     *zstd.Decoder
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of run id.
func NewTraceReader(baseDir, id string) (*TraceReader, error) {
	file, err := os.Open(TracePath(baseDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	dec, err := zstd.NewReader(file, zstd.WithDecoderConcurrency(1))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create trace decoder: %w", err)
	}

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TraceReader{file: file, dec: dec, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF when the trace is exhausted.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads every remaining entry.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Close releases the decoder and the file.
func (tr *TraceReader) Close() error {
	tr.dec.Close()
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// DeleteTrace removes the trace of run id. A missing trace is not an error.
func DeleteTrace(baseDir, id string) error {
	err := os.Remove(TracePath(baseDir, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
