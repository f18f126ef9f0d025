package obfuscation_test

import (
	"testing"

	"github.com/ludic-games/contentfs/pkg/obfuscation"
	"github.com/stretchr/testify/require"
)

func TestDeriveIsDeterministic(t *testing.T) {
	a := obfuscation.Derive("audio/music/theme.wav")
	b := obfuscation.Derive("audio/music/theme.wav")
	buf1 := make([]byte, 64)
	buf2 := make([]byte, 64)
	a.Stream(0, buf1)
	b.Stream(0, buf2)
	require.Equal(t, buf1, buf2)
}

func TestDeriveIsCaseSensitive(t *testing.T) {
	a := obfuscation.Derive("Audio/Music/Theme.wav")
	b := obfuscation.Derive("audio/music/theme.wav")
	buf1 := make([]byte, 32)
	buf2 := make([]byte, 32)
	a.Stream(0, buf1)
	b.Stream(0, buf2)
	require.NotEqual(t, buf1, buf2)
}

func TestXORIsInvolution(t *testing.T) {
	k := obfuscation.Derive("data/config/settings.json")
	plain := []byte("the quick brown fox jumps over the lazy dog, 1234567890!")
	cipher := make([]byte, len(plain))
	k.XOR(0, cipher, plain)
	require.NotEqual(t, plain, cipher)

	roundTrip := make([]byte, len(cipher))
	k.XOR(0, roundTrip, cipher)
	require.Equal(t, plain, roundTrip)
}

func TestStreamAtNonZeroOffsetMatchesFullStreamSlice(t *testing.T) {
	k := obfuscation.Derive("pkgcdict_win64.dat")
	full := make([]byte, 100)
	k.Stream(0, full)

	partial := make([]byte, 20)
	k.Stream(80, partial)
	require.Equal(t, full[80:100], partial)
}

func TestTableEntryName(t *testing.T) {
	require.Equal(t, "1234567", obfuscation.TableEntryName(1234, 567))
}
