package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/execledger/execledger/internal/types"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("archive writer is closed")

// Writer writes execution records to a Parquet archive file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[executionRow]
	rowCount int64
	closed   bool
}

// NewWriter creates a new archive writer at the given path, creating parent
// directories as needed. An existing file at the path is truncated.
func NewWriter(path string, opts Options) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts)),
	}

	writer := parquet.NewGenericWriter[executionRow](f, writerOpts...)

	return &Writer{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the archive file.
func (w *Writer) Write(recs []*types.ExecutionRecord) error {
	if len(recs) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]executionRow, len(recs))
	for i, rec := range recs {
		row, err := RecordToRow(rec)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// WriteOne appends a single record.
func (w *Writer) WriteOne(rec *types.ExecutionRecord) error {
	return w.Write([]*types.ExecutionRecord{rec})
}

// Close flushes buffered rows and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// Abort closes and removes a partially written file. Used when an archival
// cycle fails before verification.
func (w *Writer) Abort() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.writer.Close()
		w.file.Close()
	}
	w.mu.Unlock()

	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial archive: %w", err)
	}
	return nil
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}
