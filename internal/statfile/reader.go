package statfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"encode-hub/internal/encctx"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Reader reads records written by Writer, in order.
type Reader struct {
	br         *bufio.Reader
	zr         *zstd.Decoder
	closer     io.Closer
	compressed bool
	buf        []byte
}

// NewReader checks the header of r and returns a Reader positioned at the
// first record.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [len(magic) + 1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}
	if string(hdr[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	flags := hdr[len(magic)]
	if flags&^flagCompressed != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrCorrupt, flags)
	}

	sr := &Reader{compressed: flags&flagCompressed != 0}
	if sr.compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		sr.zr = zr
		r = zr
	}
	sr.br = bufio.NewReader(r)
	return sr, nil
}

// Open opens the stats file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stats file: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Compressed reports whether the file body is zstd-compressed.
func (r *Reader) Compressed() bool { return r.compressed }

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (encctx.StatisticsRecord, error) {
	size, err := binary.ReadUvarint(r.br)
	if errors.Is(err, io.EOF) {
		return encctx.StatisticsRecord{}, io.EOF
	}
	if err != nil {
		return encctx.StatisticsRecord{}, fmt.Errorf("%w: frame length: %w", ErrCorrupt, err)
	}
	if size > maxPayload {
		return encctx.StatisticsRecord{}, fmt.Errorf("%w: frame of %d bytes", ErrCorrupt, size)
	}

	n := int(size) + 8
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	frame := r.buf[:n]
	if _, err := io.ReadFull(r.br, frame); err != nil {
		return encctx.StatisticsRecord{}, fmt.Errorf("%w: frame: %w", ErrCorrupt, err)
	}
	payload, sum := frame[:size], binary.LittleEndian.Uint64(frame[size:])
	if xxhash.Sum64(payload) != sum {
		return encctx.StatisticsRecord{}, ErrChecksum
	}
	return unmarshalRecord(payload)
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]encctx.StatisticsRecord, error) {
	var out []encctx.StatisticsRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close releases the decoder and the file when the Reader owns one.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
		r.zr = nil
	}
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}
