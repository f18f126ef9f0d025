package blobcodec_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCRC32Deterministic(t *testing.T) {
	require.Equal(t, blobcodec.CRC32([]byte("hello")), blobcodec.CRC32([]byte("hello")))
	require.NotEqual(t, blobcodec.CRC32([]byte("hello")), blobcodec.CRC32([]byte("hellp")))
}

func TestZlibRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("the quick brown fox "), 100)
	compressed, err := blobcodec.CompressZlib(original)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(original))

	decompressed, err := blobcodec.DecompressZlib(compressed, len(original))
	require.NoError(t, err)
	require.Equal(t, original, decompressed)
}

func TestZlibDecompressionFailureIsDataLoss(t *testing.T) {
	_, err := blobcodec.DecompressZlib([]byte{0x00, 0x01, 0x02}, 10)
	require.Error(t, err)
	require.Equal(t, codes.DataLoss, status.Code(err))
}

func TestZSTDRoundTripWithDictionary(t *testing.T) {
	dict := blobcodec.NewDictionary(bytes.Repeat([]byte("dictionary-seed-data"), 50))
	original := []byte("small file contents that benefit from a shared dictionary")

	compressed, err := blobcodec.CompressZSTD(original, dict)
	require.NoError(t, err)

	decompressed, err := blobcodec.DecompressZSTD(compressed, len(original), dict)
	require.NoError(t, err)
	require.Equal(t, original, decompressed)
}

func TestZSTDRoundTripWithoutDictionary(t *testing.T) {
	original := []byte("no dictionary needed here")
	compressed, err := blobcodec.CompressZSTD(original, nil)
	require.NoError(t, err)

	decompressed, err := blobcodec.DecompressZSTD(compressed, len(original), nil)
	require.NoError(t, err)
	require.Equal(t, original, decompressed)
}

func TestLZ4RoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("legacy archive payload "), 64)
	compressed, err := blobcodec.CompressLZ4(original)
	require.NoError(t, err)

	decompressed, err := blobcodec.DecompressLZ4(compressed, len(original))
	require.NoError(t, err)
	require.Equal(t, original, decompressed)
}

func TestAESCTRRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	nonce, err := blobcodec.NewNonce(12)
	require.NoError(t, err)

	plaintext := []byte("the contents of a save blob")
	ciphertext, err := blobcodec.EncryptAESCTR(key, nonce, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := blobcodec.DecryptAESCTR(key, nonce, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestAESCTRRejectsBadKeySize(t *testing.T) {
	_, err := blobcodec.EncryptAESCTR(make([]byte, 16), make([]byte, 12), []byte("x"))
	require.Error(t, err)
}

func TestNewNonceRejectsOutOfRangeLength(t *testing.T) {
	_, err := blobcodec.NewNonce(4)
	require.Error(t, err)
	_, err = blobcodec.NewNonce(32)
	require.Error(t, err)
}

func TestSHA512Deterministic(t *testing.T) {
	a := blobcodec.SHA512([]byte("payload"))
	b := blobcodec.SHA512([]byte("payload"))
	require.Equal(t, a, b)
}
