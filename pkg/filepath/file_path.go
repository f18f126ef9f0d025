// Package filepath implements the normalised, case-insensitive logical
// identifier used as the primary key into package archives and
// downloadable file systems.
package filepath

import (
	"strings"
)

// GameDirectory tags the top-level directory an archive declares
// ownership of. The concrete set of values is game-specific; contentfs
// treats it as an opaque small integer so archives from unrelated
// titles never compare as compatible.
type GameDirectory uint8

// FilePath is a normalised identifier consisting of a directory tag, a
// relative path without extension, and a file type (the extension,
// stored separately so that case and dot placement never affect
// equality or hashing). Comparison is case-insensitive; hashing is
// stable across platforms and hosts. Obfuscation keys are not derived
// from a FilePath: pkg/obfuscation hashes an entry's case-preserved
// relative filename.
type FilePath struct {
	directory GameDirectory
	relPath   string
	fileType  string

	// key is precomputed at construction time, following the same
	// idea as a content digest: expensive normalisation happens once,
	// and every subsequent comparison/hash/map lookup operates on the
	// cheap canonical string below.
	key string
}

// New constructs a FilePath from a game directory tag, a relative path
// (which may or may not include an extension) and an explicit file
// type. The relative path is normalised to use forward slashes and
// lowercased for comparison purposes; the file type is lowercased too.
func New(directory GameDirectory, relPath string, fileType string) FilePath {
	normalizedRelPath := strings.ToLower(strings.ReplaceAll(relPath, "\\", "/"))
	normalizedRelPath = strings.TrimSuffix(normalizedRelPath, "."+strings.ToLower(fileType))
	normalizedFileType := strings.ToLower(fileType)
	return FilePath{
		directory: directory,
		relPath:   normalizedRelPath,
		fileType:  normalizedFileType,
		key:       string(rune(directory)) + ":" + normalizedRelPath + "." + normalizedFileType,
	}
}

// NewFromRelativeFilename splits a relative filename of the form
// "some/dir/name.ext" into its relative path and file type components
// and constructs a FilePath from them. This is the form used by
// PackageFileEntry's on-disk relative path field.
func NewFromRelativeFilename(directory GameDirectory, relFilename string) FilePath {
	normalized := strings.ReplaceAll(relFilename, "\\", "/")
	dot := strings.LastIndexByte(normalized, '.')
	slash := strings.LastIndexByte(normalized, '/')
	if dot <= slash {
		// No extension.
		return New(directory, normalized, "")
	}
	return New(directory, normalized[:dot], normalized[dot+1:])
}

// Directory returns the game-directory tag.
func (fp FilePath) Directory() GameDirectory {
	return fp.directory
}

// RelativePathWithoutExtension returns the normalised relative path,
// excluding the leading directory tag and the file type.
func (fp FilePath) RelativePathWithoutExtension() string {
	return fp.relPath
}

// FileType returns the normalised file type (extension, without the
// leading dot).
func (fp FilePath) FileType() string {
	return fp.fileType
}

// RelativeFilename reconstructs the "dir/name.ext" on-disk relative
// filename used for obfuscation-key derivation and archive file-table
// entries.
func (fp FilePath) RelativeFilename() string {
	if fp.fileType == "" {
		return fp.relPath
	}
	return fp.relPath + "." + fp.fileType
}

// Key returns the precomputed, case-normalised string representation of
// the FilePath, suitable for use as a map key and for stable hashing.
func (fp FilePath) Key() string {
	return fp.key
}

// Equal reports whether two FilePaths refer to the same logical file,
// case-insensitively.
func (fp FilePath) Equal(other FilePath) bool {
	return fp.key == other.key
}

// IsZero reports whether fp is the zero value.
func (fp FilePath) IsZero() bool {
	return fp == FilePath{}
}

func (fp FilePath) String() string {
	return fp.RelativeFilename()
}
