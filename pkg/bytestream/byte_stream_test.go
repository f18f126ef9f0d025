package bytestream_test

import (
	"testing"

	"github.com/ludic-games/contentfs/pkg/bytestream"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s := bytestream.New()
	require.NoError(t, s.WriteUint32(0xdeadbeef))
	require.NoError(t, s.WriteUint64(0x0102030405060708))
	require.NoError(t, s.WriteCString("hello"))

	require.NoError(t, s.Seek(0))
	v32, err := s.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), v32)

	v64, err := s.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), v64)

	str, err := s.ReadCString(16)
	require.NoError(t, err)
	require.Equal(t, "hello", str)
}

func TestReadPastEndReturnsError(t *testing.T) {
	s := bytestream.New()
	require.NoError(t, s.WriteUint8(1))
	require.NoError(t, s.Seek(0))
	_, err := s.ReadUint64()
	require.Error(t, err)
	require.Equal(t, codes.OutOfRange, status.Code(err))
}

func TestPadToAlignment(t *testing.T) {
	s := bytestream.New()
	require.NoError(t, s.WriteUint8(1))
	require.NoError(t, s.PadTo(8))
	require.Equal(t, int64(8), s.Offset())
	require.Equal(t, int64(8), s.Len())

	// Already aligned: no-op.
	require.NoError(t, s.PadTo(8))
	require.Equal(t, int64(8), s.Offset())
}

func TestPeekDoesNotAdvanceCursor(t *testing.T) {
	s := bytestream.NewFromBytes([]byte{1, 2, 3, 4})
	b, err := s.PeekRaw(2)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, b)
	require.Equal(t, int64(0), s.Offset())
}

func TestSeekRejectsNegativeOffset(t *testing.T) {
	s := bytestream.New()
	require.Error(t, s.Seek(-1))
}
