package archive

import (
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadStream exposes the logical, decompressed, de-obfuscated contents
// of one archive entry. Multiple streams may be open simultaneously
// (spec §4.4); each holds its own fully-materialised copy of the
// entry's contents rather than re-reading the backing file on every
// Read call, which keeps concurrent reads lock-free.
type ReadStream struct {
	archive  *Archive
	contents []byte
	offset   int64
	closed   bool
}

// Size returns the total logical size of the stream's contents.
func (s *ReadStream) Size() int64 {
	return int64(len(s.contents))
}

// Read implements io.Reader.
func (s *ReadStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, status.Error(codes.FailedPrecondition, "archive: read from closed stream")
	}
	if s.offset >= int64(len(s.contents)) {
		return 0, io.EOF
	}
	n := copy(p, s.contents[s.offset:])
	s.offset += int64(n)
	return n, nil
}

// Seek implements io.Seeker.
func (s *ReadStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.offset + offset
	case io.SeekEnd:
		target = int64(len(s.contents)) + offset
	default:
		return 0, status.Error(codes.InvalidArgument, "archive: invalid seek whence")
	}
	if target < 0 {
		return 0, status.Error(codes.InvalidArgument, "archive: negative seek position")
	}
	s.offset = target
	return s.offset, nil
}

// Close releases the stream's claim on the archive's active-stream
// counter. It is safe to call multiple times.
func (s *ReadStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.archive.activeStreams.Add(-1)
	return nil
}
