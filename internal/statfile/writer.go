package statfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"encode-hub/internal/encctx"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Writer appends statistics records to a stats file. It implements
// encctx.StatSink.
type Writer struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	zw     *zstd.Encoder
	closer io.Closer
	buf    []byte
	count  int
	closed bool
}

var _ encctx.StatSink = (*Writer)(nil)

// NewWriter writes the file header to w and returns a Writer. Closing the
// Writer does not close w.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	var flags byte
	if compress {
		flags |= flagCompressed
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	sw := &Writer{}
	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		sw.zw = zw
		w = zw
	}
	sw.bw = bufio.NewWriter(w)
	return sw, nil
}

// Create truncates or creates the file at path and returns a Writer that
// closes it.
func Create(path string, compress bool) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create stats file: %w", err)
	}
	w, err := NewWriter(f, compress)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteStats implements encctx.StatSink.
func (w *Writer) WriteStats(rec encctx.StatisticsRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("write stats: %w", os.ErrClosed)
	}

	w.buf = marshalRecord(w.buf[:0], &rec)
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(w.buf)))
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(w.buf))

	for _, p := range [][]byte{hdr[:n], w.buf, sum[:]} {
		if _, err := w.bw.Write(p); err != nil {
			return fmt.Errorf("write stats: %w", err)
		}
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush pushes buffered records to the underlying writer. Compressed
// output is flushed as a complete zstd block.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush stats: %w", err)
	}
	if w.zw != nil {
		if err := w.zw.Flush(); err != nil {
			return fmt.Errorf("flush stats: %w", err)
		}
	}
	return nil
}

// Close flushes everything and closes the file when the Writer owns one.
// Calling Close again returns nil.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.bw.Flush()
	if w.zw != nil {
		if cerr := w.zw.Close(); err == nil {
			err = cerr
		}
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close stats file: %w", err)
	}
	return nil
}
