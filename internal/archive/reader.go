package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/execledger/execledger/internal/types"
)

// Reader reads execution records from a Parquet archive file.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[executionRow]
	path   string
}

// NewReader opens an archive file for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[executionRow](f)

	return &Reader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n records from the file.
func (r *Reader) Read(n int) ([]*types.ExecutionRecord, error) {
	rows := make([]executionRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && count == 0 {
		return nil, err
	}

	recs := make([]*types.ExecutionRecord, count)
	for i := 0; i < count; i++ {
		rec, convErr := RowToRecord(&rows[i])
		if convErr != nil {
			return nil, convErr
		}
		recs[i] = rec
	}

	return recs, nil
}

// ReadAll reads every record in the file.
func (r *Reader) ReadAll() ([]*types.ExecutionRecord, error) {
	numRows := r.reader.NumRows()
	rows := make([]executionRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && int64(n) != numRows {
		return nil, err
	}

	recs := make([]*types.ExecutionRecord, n)
	for i := 0; i < n; i++ {
		rec, convErr := RowToRecord(&rows[i])
		if convErr != nil {
			return nil, convErr
		}
		recs[i] = rec
	}

	return recs, nil
}

// NumRows returns the total number of rows in the file.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// =============================================================================
// File Inspection
// =============================================================================

// FileInfo holds information about an archive file.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size_bytes"`
	NumRows int64     `json:"num_rows"`
	Cutoff  time.Time `json:"cutoff"`
}

// Inspect returns information about an archive file without loading its
// rows.
func Inspect(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	info := &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: r.NumRows(),
	}
	if cutoff, err := ParseFileName(path); err == nil {
		info.Cutoff = cutoff
	}

	return info, nil
}

// List returns info for every archive file in dir, oldest cutoff first.
// A missing directory yields an empty list.
func List(dir string) ([]*FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var infos []*FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := ParseFileName(e.Name()); err != nil {
			continue
		}
		info, err := Inspect(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Cutoff.Before(infos[j].Cutoff)
	})

	return infos, nil
}
