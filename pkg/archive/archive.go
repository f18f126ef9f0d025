// Package archive implements the read-only PackageArchive: parsing,
// validating and serving file data out of a monolithic .sar archive
// file (spec §4.4).
package archive

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/ludic-games/contentfs/pkg/filepath"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Platform identifies the target platform an archive was built for;
// used both for compatibility checks (spec §3) and to name the
// compression-dictionary entry.
type Platform string

// ReaderAt is the minimal I/O surface an Archive needs from its backing
// storage; satisfied by *os.File, and by in-memory fixtures in tests.
type ReaderAt interface {
	io.ReaderAt
}

// Archive is a parsed, read-only package archive. Once opened, its
// header and file table are immutable (spec §3 "Lifecycles").
type Archive struct {
	backing       ReaderAt
	closer        io.Closer
	header        Header
	platform      Platform
	table         *Table
	dictionary    *blobcodec.Dictionary
	ok            bool
	activeStreams atomic.Int64
}

// Open reads, validates and indexes the archive at absolutePath.
func Open(absolutePath string, platform Platform) (*Archive, error) {
	f, err := os.Open(absolutePath)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "archive: failed to open %q: %s", absolutePath, err)
	}
	a, err := OpenFromReaderAt(f, f, platform)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// OpenFromReaderAt is the shared construction path used both by Open
// and by the downloader, which keeps its own handle on the target file.
func OpenFromReaderAt(r ReaderAt, closer io.Closer, platform Platform) (*Archive, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := r.ReadAt(headerBytes, 0); err != nil {
		return &Archive{ok: false}, status.Errorf(codes.InvalidArgument, "archive: failed to read header: %s", err)
	}
	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return &Archive{ok: false}, err
	}

	tableBytes := make([]byte, header.SizeOfFileTable+uint32(header.FileTableCRCSize()))
	if _, err := r.ReadAt(tableBytes, int64(header.OffsetToFileTable)); err != nil {
		return &Archive{ok: false}, status.Errorf(codes.InvalidArgument, "archive: failed to read file table: %s", err)
	}
	_, entries, err := DecodeTable(tableBytes, header, 0)
	if err != nil {
		return &Archive{ok: false}, err
	}

	table, err := NewTable(header.GameDirectory, entries)
	if err != nil {
		return &Archive{ok: false}, err
	}

	a := &Archive{
		backing:  r,
		closer:   closer,
		header:   header,
		platform: platform,
		table:    table,
		ok:       true,
	}

	if header.HasCompressionDict {
		dictFP := filepath.NewFromRelativeFilename(header.GameDirectory, DictionaryEntryName(string(platform)))
		dictEntry, ok := table.Lookup(dictFP)
		if !ok {
			return &Archive{ok: false}, status.Error(codes.InvalidArgument, "archive: compression-dict flag set but dictionary entry is missing")
		}
		raw := make([]byte, dictEntry.CompressedSize)
		if _, err := r.ReadAt(raw, int64(dictEntry.Offset)); err != nil {
			return &Archive{ok: false}, status.Errorf(codes.InvalidArgument, "archive: failed to read compression dictionary: %s", err)
		}
		deobfuscated := make([]byte, len(raw))
		dictEntry.Key().XOR(0, deobfuscated, raw)
		a.dictionary = blobcodec.NewDictionary(deobfuscated)
	}

	return a, nil
}

// Close releases the archive's backing file handle.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Header returns the parsed header.
func (a *Archive) Header() Header {
	return a.header
}

// IsOk reports whether the archive parsed successfully. An archive that
// failed to parse never reaches this point normally (Open returns an
// error instead); IsOk exists primarily for the downloader, which
// constructs an Archive-shaped view over a partially-populated target
// file and must represent "not yet ok" distinctly.
func (a *Archive) IsOk() bool {
	return a.ok
}

// FileTable returns the parsed file table.
func (a *Archive) FileTable() *Table {
	return a.table
}

// Dictionary returns the archive's compression dictionary, or nil if the
// archive does not use one.
func (a *Archive) Dictionary() *blobcodec.Dictionary {
	return a.dictionary
}

// ActiveStreamCount returns the number of currently open read streams,
// per spec §4.4 ("the archive keeps an active-stream counter").
func (a *Archive) ActiveStreamCount() int64 {
	return a.activeStreams.Load()
}

func (a *Archive) isDictionaryEntry(fp filepath.FilePath) bool {
	if !a.header.HasCompressionDict {
		return false
	}
	return fp.RelativeFilename() == DictionaryEntryName(string(a.platform))
}

// OpenStream returns a seekable ReadStream exposing the logical,
// de-obfuscated, decompressed contents of fp.
func (a *Archive) OpenStream(fp filepath.FilePath) (*ReadStream, error) {
	entry, ok := a.table.Lookup(fp)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "archive: no such file %q", fp)
	}
	return a.openStreamForEntry(fp, entry)
}

func (a *Archive) openStreamForEntry(fp filepath.FilePath, entry Entry) (*ReadStream, error) {
	raw := make([]byte, entry.CompressedSize)
	if _, err := a.backing.ReadAt(raw, int64(entry.Offset)); err != nil {
		return nil, status.Errorf(codes.Unavailable, "archive: failed to read entry %q: %s", fp, err)
	}

	deobfuscated := make([]byte, len(raw))
	entry.Key().XOR(0, deobfuscated, raw)

	isDict := a.isDictionaryEntry(fp)
	var contents []byte
	if entry.IsCompressed(a.header.HasCompressionDict, isDict) {
		decompressed, err := blobcodec.DecompressZSTD(deobfuscated, int(entry.UncompressedSize), a.dictionary)
		if err != nil {
			return nil, err
		}
		contents = decompressed
	} else {
		contents = deobfuscated
	}

	a.activeStreams.Add(1)
	return &ReadStream{
		archive:  a,
		contents: contents,
	}, nil
}

// ReadAll is a convenience wrapper that opens and fully drains a stream.
func (a *Archive) ReadAll(fp filepath.FilePath) ([]byte, error) {
	s, err := a.OpenStream(fp)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return io.ReadAll(s)
}

// Exists reports whether fp is present in the file table.
func (a *Archive) Exists(fp filepath.FilePath) bool {
	_, ok := a.table.Lookup(fp)
	return ok
}

// ExistsForPlatform reports whether fp exists in an archive declared for
// the given platform; since an Archive is already bound to one platform,
// this simply checks platform equality plus existence.
func (a *Archive) ExistsForPlatform(platform Platform, fp filepath.FilePath) bool {
	return a.platform == platform && a.Exists(fp)
}

// FileSize returns the logical (uncompressed) size of fp.
func (a *Archive) FileSize(fp filepath.FilePath) (uint64, error) {
	e, ok := a.table.Lookup(fp)
	if !ok {
		return 0, status.Errorf(codes.NotFound, "archive: no such file %q", fp)
	}
	return e.UncompressedSize, nil
}

// ModifiedTime returns the modification timestamp recorded for fp.
func (a *Archive) ModifiedTime(fp filepath.FilePath) (uint64, error) {
	e, ok := a.table.Lookup(fp)
	if !ok {
		return 0, status.Errorf(codes.NotFound, "archive: no such file %q", fp)
	}
	return e.ModifiedTime, nil
}

// DirectoryEntry describes one result of GetDirectoryListing.
type DirectoryEntry struct {
	FilePath filepath.FilePath
	IsDir    bool
}

// GetDirectoryListing enumerates entries under dir. Only supported when
// the archive's header declares directory-query support (spec §4.4).
func (a *Archive) GetDirectoryListing(dir string, recursive bool, includeDirs bool, extensionFilter string) ([]DirectoryEntry, error) {
	if !a.header.SupportsDirQuery {
		return nil, status.Error(codes.Unimplemented, "archive: directory queries are not supported by this archive")
	}
	prefix := strings.ToLower(strings.Trim(dir, "/"))
	seenDirs := map[string]bool{}
	var out []DirectoryEntry

	for _, e := range a.table.byPath {
		fp := filepath.NewFromRelativeFilename(a.header.GameDirectory, e.RelativeFilename)
		rel := fp.RelativePathWithoutExtension()
		if prefix != "" && !strings.HasPrefix(rel, prefix+"/") && rel != prefix {
			continue
		}
		trimmed := strings.TrimPrefix(rel, prefix)
		trimmed = strings.TrimPrefix(trimmed, "/")
		if !recursive && strings.Contains(trimmed, "/") {
			if includeDirs {
				sub := strings.SplitN(trimmed, "/", 2)[0]
				if !seenDirs[sub] {
					seenDirs[sub] = true
					out = append(out, DirectoryEntry{
						FilePath: filepath.New(a.header.GameDirectory, prefix+"/"+sub, ""),
						IsDir:    true,
					})
				}
			}
			continue
		}
		if extensionFilter != "" && !strings.EqualFold(fp.FileType(), extensionFilter) {
			continue
		}
		out = append(out, DirectoryEntry{FilePath: fp})
	}
	return out, nil
}

// Mutation operations are always unsupported at runtime (spec §4.4:
// "Mutation operations ... are defined but always fail; archives are
// read-only at runtime.").

func (a *Archive) Delete(fp filepath.FilePath) error {
	return status.Error(codes.Unimplemented, "archive: delete is not supported; archives are read-only at runtime")
}

func (a *Archive) SetModifiedTime(fp filepath.FilePath, t uint64) error {
	return status.Error(codes.Unimplemented, "archive: set_modified_time is not supported; archives are read-only at runtime")
}

func (a *Archive) Write(fp filepath.FilePath, data []byte) error {
	return status.Error(codes.Unimplemented, "archive: write is not supported; archives are read-only at runtime")
}
