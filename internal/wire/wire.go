package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("querysync: corrupt cached response")
	magic4     = [...]byte{'Q', 'S', 'R', 'C'}
)

// Frame is a cached API response tagged with the generation it was fetched
// under.
type Frame struct {
	Gen         uint64
	StoredAt    time.Time
	Status      int
	ContentType string
	Body        []byte
}

const hdr = 4 + 1 + 8 + 8 + 2 + 2 // magic | ver | gen | storedAt | status | ctLen

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode lays out f as
//
//	magic(4) | ver(1) | gen(u64 be) | storedAt(unix nanos, i64 be) |
//	status(u16 be) | ctLen(u16 be) | contentType(ctLen) | blen(u32 be) | body(blen)
func Encode(f Frame) ([]byte, error) {
	if len(f.ContentType) > math.MaxUint16 || f.Status < 0 || f.Status > math.MaxUint16 || uint64(len(f.Body)) > math.MaxUint32 {
		return nil, ErrCorrupt
	}
	var buf bytes.Buffer
	buf.Grow(hdr + len(f.ContentType) + 4 + len(f.Body))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], f.Gen)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(f.StoredAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(f.Status))
	buf.Write(u2[:])
	binary.BigEndian.PutUint16(u2[:], uint16(len(f.ContentType)))
	buf.Write(u2[:])
	buf.WriteString(f.ContentType)

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Body)))
	buf.Write(u4[:])
	buf.Write(f.Body)
	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode. Body aliases b. Trailing bytes
// are treated as corruption.
func Decode(b []byte) (Frame, error) {
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Frame{}, ErrCorrupt
	}
	off := 5

	var f Frame
	f.Gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.StoredAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8])))
	off += 8
	f.Status = int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	ctLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2

	if ctLen > len(b)-off {
		return Frame{}, ErrCorrupt
	}
	f.ContentType = string(b[off : off+ctLen])
	off += ctLen

	if off+4 > len(b) {
		return Frame{}, ErrCorrupt
	}
	blen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if blen < 0 || blen != len(b)-off {
		return Frame{}, ErrCorrupt
	}
	f.Body = b[off : off+blen]
	return f, nil
}
