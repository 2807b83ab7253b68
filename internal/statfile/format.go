// Package statfile persists first-pass statistics records so a later
// encoding pass can read them back.
//
// A file starts with a fixed magic followed by one flag byte. The rest is a
// sequence of frames, zstd-compressed as a whole when the flag says so. Each
// frame is a uvarint payload length, the payload, and the little-endian
// xxhash64 of the payload. The payload is a protobuf-wire message with one
// fixed64 field per statistic, numbered in declaration order from 1.
package statfile

import (
	"errors"
	"fmt"
	"math"

	"encode-hub/internal/encctx"

	"google.golang.org/protobuf/encoding/protowire"
)

const magic = "ENCSTATS\x01"

const (
	flagCompressed byte = 1 << iota
)

// maxPayload bounds a single frame. A record with every field set is well
// under this.
const maxPayload = 1 << 12

var (
	// ErrCorrupt reports a malformed or truncated file.
	ErrCorrupt = errors.New("statfile: corrupt stats file")
	// ErrChecksum reports a frame whose payload does not match its checksum.
	ErrChecksum = errors.New("statfile: checksum mismatch")
)

// marshalRecord appends rec's wire encoding to b. Fields that are +0 are
// omitted; -0 keeps its sign bit.
func marshalRecord(b []byte, rec *encctx.StatisticsRecord) []byte {
	for i, f := range rec.Fields() {
		if math.Float64bits(*f) == 0 {
			continue
		}
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*f))
	}
	return b
}

// unmarshalRecord decodes b. Unknown field numbers are skipped so newer
// writers stay readable.
func unmarshalRecord(b []byte) (encctx.StatisticsRecord, error) {
	var rec encctx.StatisticsRecord
	fields := rec.Fields()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rec, fmt.Errorf("%w: tag: %w", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.Fixed64Type && num >= 1 && int(num) <= len(fields) {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: field %d: %w", ErrCorrupt, num, protowire.ParseError(n))
			}
			*fields[num-1] = math.Float64frombits(v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return rec, fmt.Errorf("%w: field %d: %w", ErrCorrupt, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return rec, nil
}
