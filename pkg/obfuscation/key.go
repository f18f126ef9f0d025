// Package obfuscation derives the deterministic XOR-stream keys used to
// lightly obscure archive entry bytes on disk. This is a casual-
// inspection deterrent, not cryptography (see pkg/savecontainer and
// pkg/blobcodec for the actual encryption primitives).
package obfuscation

import (
	"crypto/sha256"
	"strconv"
)

// TableEntryName is the reserved pseudo-name used to derive the key for
// the archive's own file table, per spec §4.3: the decimal
// concatenation "<build_version_major><build_changelist>" with no
// separator.
func TableEntryName(buildVersionMajor, buildChangelist uint32) string {
	return strconv.FormatUint(uint64(buildVersionMajor), 10) + strconv.FormatUint(uint64(buildChangelist), 10)
}

// Key is a deterministic keystream derived from a relative path (or the
// reserved table pseudo-name). It produces the same byte sequence
// regardless of platform or host, satisfying the stability requirement
// of spec §4.3.
type Key struct {
	seed [sha256.Size]byte
}

// Derive computes the obfuscation key for a given relative path. The
// path is used verbatim (case-sensitive, forward-slash separated, per
// spec §6.1) as the seed material: this is deliberate — two entries
// whose relative paths differ only by case get different keystreams,
// mirroring the reference implementation's case-sensitive path hashing
// even though FilePath equality itself is case-insensitive.
func Derive(relativePath string) Key {
	return Key{seed: sha256.Sum256([]byte(relativePath))}
}

// Stream fills dst with the keystream bytes starting at the given
// offset into the logical (infinite) key sequence. The sequence is
// produced by repeatedly re-hashing the seed concatenated with a block
// counter, giving an arbitrarily long deterministic stream from a fixed
// 32-byte seed.
func (k Key) Stream(offset int64, dst []byte) {
	if len(dst) == 0 {
		return
	}
	const blockSize = sha256.Size
	blockIndex := offset / blockSize
	blockOffset := int(offset % blockSize)

	produced := 0
	for produced < len(dst) {
		block := k.block(blockIndex)
		n := copy(dst[produced:], block[blockOffset:])
		produced += n
		blockOffset = 0
		blockIndex++
	}
}

func (k Key) block(index int64) [sha256.Size]byte {
	var counter [8]byte
	for i := 0; i < 8; i++ {
		counter[i] = byte(index >> (8 * i))
	}
	h := sha256.New()
	h.Write(k.seed[:])
	h.Write(counter[:])
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// XOR applies the keystream starting at the given logical offset to src,
// writing the result into dst (which may alias src). len(dst) must equal
// len(src).
func (k Key) XOR(offset int64, dst, src []byte) {
	stream := make([]byte, len(src))
	k.Stream(offset, stream)
	for i := range src {
		dst[i] = src[i] ^ stream[i]
	}
}
