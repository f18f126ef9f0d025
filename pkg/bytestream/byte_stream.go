// Package bytestream implements a growable, random-access in-memory
// buffer with an explicit read/write cursor, used as the in-memory
// representation of archive headers, file tables and save blobs.
//
// Unlike bytes.Buffer, ByteStream supports seeking and never panics: any
// attempt to read past the end of the buffer returns an error.
package bytestream

import (
	"encoding/binary"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ByteStream is a growable byte buffer with a cursor for sequential or
// random-access reads and writes.
type ByteStream struct {
	data   []byte
	cursor int64
}

// New creates an empty ByteStream.
func New() *ByteStream {
	return &ByteStream{}
}

// NewFromBytes creates a ByteStream whose initial contents are a copy of
// b, with the cursor positioned at the start.
func NewFromBytes(b []byte) *ByteStream {
	data := make([]byte, len(b))
	copy(data, b)
	return &ByteStream{data: data}
}

// Bytes returns the entire underlying buffer. The returned slice aliases
// the ByteStream's storage and must not be retained across subsequent
// writes.
func (s *ByteStream) Bytes() []byte {
	return s.data
}

// Len returns the total number of bytes currently stored.
func (s *ByteStream) Len() int64 {
	return int64(len(s.data))
}

// Offset returns the current cursor position.
func (s *ByteStream) Offset() int64 {
	return s.cursor
}

// Seek repositions the cursor to an absolute offset. Seeking past the
// current length is permitted; it does not grow the buffer until a
// write occurs.
func (s *ByteStream) Seek(offset int64) error {
	if offset < 0 {
		return status.Errorf(codes.InvalidArgument, "bytestream: negative seek offset %d", offset)
	}
	s.cursor = offset
	return nil
}

// PadTo advances the cursor (growing the buffer with zero bytes as
// needed) until the cursor is aligned to the given power-of-two
// alignment. This is used to satisfy the archive format's requirement
// that entries be 8-byte aligned.
func (s *ByteStream) PadTo(alignment int64) error {
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return status.Errorf(codes.InvalidArgument, "bytestream: alignment %d is not a positive power of two", alignment)
	}
	remainder := s.cursor % alignment
	if remainder == 0 {
		return nil
	}
	padding := alignment - remainder
	return s.WriteRaw(make([]byte, padding))
}

func (s *ByteStream) ensureCapacity(end int64) {
	if end <= int64(len(s.data)) {
		return
	}
	grown := make([]byte, end)
	copy(grown, s.data)
	s.data = grown
}

// WriteRaw writes a raw byte range at the current cursor, growing the
// buffer as needed, and advances the cursor by len(p).
func (s *ByteStream) WriteRaw(p []byte) error {
	end := s.cursor + int64(len(p))
	s.ensureCapacity(end)
	copy(s.data[s.cursor:end], p)
	s.cursor = end
	return nil
}

// ReadRaw reads exactly n bytes starting at the current cursor and
// advances the cursor by n. It returns an error rather than panicking
// if fewer than n bytes remain.
func (s *ByteStream) ReadRaw(n int64) ([]byte, error) {
	if n < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "bytestream: negative read length %d", n)
	}
	end := s.cursor + n
	if end > int64(len(s.data)) {
		return nil, status.Errorf(codes.OutOfRange, "bytestream: read of %d bytes at offset %d exceeds buffer length %d", n, s.cursor, len(s.data))
	}
	out := make([]byte, n)
	copy(out, s.data[s.cursor:end])
	s.cursor = end
	return out, nil
}

// PeekRaw behaves like ReadRaw but does not advance the cursor.
func (s *ByteStream) PeekRaw(n int64) ([]byte, error) {
	cursor := s.cursor
	out, err := s.ReadRaw(n)
	s.cursor = cursor
	return out, err
}

func (s *ByteStream) WriteUint8(v uint8) error  { return s.WriteRaw([]byte{v}) }
func (s *ByteStream) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.WriteRaw(buf[:])
}
func (s *ByteStream) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return s.WriteRaw(buf[:])
}

func (s *ByteStream) ReadUint8() (uint8, error) {
	b, err := s.ReadRaw(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *ByteStream) ReadUint32() (uint32, error) {
	b, err := s.ReadRaw(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *ByteStream) ReadUint64() (uint64, error) {
	b, err := s.ReadRaw(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *ByteStream) WriteInt32(v int32) error {
	return s.WriteUint32(uint32(v))
}

func (s *ByteStream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

// ReadCString reads a null-terminated byte string and returns it without
// the terminator, advancing the cursor past the terminator.
func (s *ByteStream) ReadCString(maxLen int64) (string, error) {
	start := s.cursor
	limit := start + maxLen
	if limit > int64(len(s.data)) {
		limit = int64(len(s.data))
	}
	for i := start; i < limit; i++ {
		if s.data[i] == 0 {
			out := string(s.data[start:i])
			s.cursor = i + 1
			return out, nil
		}
	}
	return "", status.Error(codes.OutOfRange, "bytestream: null terminator not found within bounds")
}

// WriteCString writes s followed by a null terminator.
func (s *ByteStream) WriteCString(v string) error {
	if err := s.WriteRaw([]byte(v)); err != nil {
		return err
	}
	return s.WriteRaw([]byte{0})
}
