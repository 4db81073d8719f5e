package dsconv

// Input resolution. Every supported input shape is presented to the format adapters as a flat
// list of slash separated entry names, e.g. "train/images/0001.jpg", regardless of whether it is
// backed by a directory tree or a zip archive.

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// EntryReader provides read access to the named entries of a dataset source.
type EntryReader interface {
	// Entries returns the names of all regular entries. Names are unique.
	Entries() []string
	// Has reports whether the entry exists.
	Has(name string) bool
	// ReadEntry returns the content of the named entry.
	ReadEntry(name string) ([]byte, error)
	// Close releases resources acquired by Source.Open. Handles supplied by the caller are left
	// open.
	Close() error
}

type sourceKind int

const (
	sourceInvalid sourceKind = iota
	sourcePath               // A directory or a zip file.
	sourceZip                // An open zip archive.
	sourceStream             // A seekable zip byte stream.
)

// Source is a dataset input: a directory, a zip file path, an open zip archive or a seekable
// stream of zip encoded bytes. The zero value is invalid.
type Source struct {
	kind   sourceKind
	fs     afero.Fs
	path   string
	zip    *zip.Reader
	stream io.ReadSeeker
}

// FromPath returns a source for a directory or zip file on the local file system.
func FromPath(path string) Source {
	return FromFs(afero.NewOsFs(), path)
}

// FromFs returns a source for a directory or zip file on fs.
func FromFs(fs afero.Fs, path string) Source {
	return Source{kind: sourcePath, fs: fs, path: path}
}

// FromZip returns a source for an open zip archive. The archive is never modified or closed.
func FromZip(zr *zip.Reader) Source {
	return Source{kind: sourceZip, zip: zr}
}

// FromStream returns a source for zip encoded data read from rs.
func FromStream(rs io.ReadSeeker) Source {
	return Source{kind: sourceStream, stream: rs}
}

// FromBytes returns a source for zip encoded data held in memory.
func FromBytes(data []byte) Source {
	return FromStream(bytes.NewReader(data))
}

// SourceOf resolves v into a Source. Accepted are a path string, a *zip.Reader or
// *zip.ReadCloser, a []byte holding a zip archive, and an io.ReadSeeker over a zip archive.
func SourceOf(v any) (Source, error) {
	switch v := v.(type) {
	case string:
		return FromPath(v), nil
	case *zip.Reader:
		if v != nil {
			return FromZip(v), nil
		}
	case *zip.ReadCloser:
		if v != nil {
			return FromZip(&v.Reader), nil
		}
	case []byte:
		return FromBytes(v), nil
	case io.ReadSeeker:
		if v != nil {
			return FromStream(v), nil
		}
	}
	return Source{}, &InvalidSourceError{Source: fmt.Sprintf("of type %T", v)}
}

func (s Source) String() string {
	switch s.kind {
	case sourcePath:
		return fmt.Sprintf("%q", s.path)
	case sourceZip:
		return "zip archive"
	case sourceStream:
		return "zip stream"
	}
	return "<invalid>"
}

// Open resolves the source into an EntryReader. The caller must close it.
func (s Source) Open() (EntryReader, error) {
	switch s.kind {
	case sourcePath:
		return s.openPath()
	case sourceZip:
		return newZipEntries(s.zip, nil), nil
	case sourceStream:
		return s.openStream()
	}
	return nil, &InvalidSourceError{Source: s.String()}
}

func (s Source) openPath() (EntryReader, error) {
	info, err := s.fs.Stat(s.path)
	if err != nil {
		return nil, &InvalidSourceError{Source: s.String(), Err: err}
	}
	if info.IsDir() {
		return newDirEntries(s.fs, s.path)
	}
	if !info.Mode().IsRegular() {
		return nil, &InvalidSourceError{Source: s.String()}
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, &InvalidSourceError{Source: s.String(), Err: err}
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, &InvalidSourceError{Source: s.String(), Err: err}
	}
	return newZipEntries(zr, f), nil
}

func (s Source) openStream() (EntryReader, error) {
	if s.stream == nil {
		return nil, &InvalidSourceError{Source: s.String()}
	}

	var (
		ra   io.ReaderAt
		size int64
	)
	if r, ok := s.stream.(io.ReaderAt); ok {
		end, err := s.stream.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, &InvalidSourceError{Source: s.String(), Err: err}
		}
		if _, err := s.stream.Seek(0, io.SeekStart); err != nil {
			return nil, &InvalidSourceError{Source: s.String(), Err: err}
		}
		ra, size = r, end
	} else {
		if _, err := s.stream.Seek(0, io.SeekStart); err != nil {
			return nil, &InvalidSourceError{Source: s.String(), Err: err}
		}
		data, err := io.ReadAll(s.stream)
		if err != nil {
			return nil, &InvalidSourceError{Source: s.String(), Err: err}
		}
		ra, size = bytes.NewReader(data), int64(len(data))
	}

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, &InvalidSourceError{Source: s.String(), Err: err}
	}
	return newZipEntries(zr, nil), nil
}

// zipEntries reads entries from a zip archive.
type zipEntries struct {
	names  []string
	files  map[string]*zip.File
	closer io.Closer // Closed by Close, if not nil.
}

func newZipEntries(zr *zip.Reader, closer io.Closer) *zipEntries {
	z := &zipEntries{
		names:  make([]string, 0, len(zr.File)),
		files:  make(map[string]*zip.File, len(zr.File)),
		closer: closer,
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			continue
		}
		if _, dup := z.files[f.Name]; dup {
			continue
		}
		z.names = append(z.names, f.Name)
		z.files[f.Name] = f
	}
	return z
}

func (z *zipEntries) Entries() []string { return z.names }

func (z *zipEntries) Has(name string) bool {
	_, ok := z.files[name]
	return ok
}

func (z *zipEntries) ReadEntry(name string) (data []byte, err error) {
	f, ok := z.files[name]
	if !ok {
		return nil, fmt.Errorf("entry %q: %w", name, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %q: %w", name, err)
	}
	defer closeWithErrCheck(rc, &err)

	data, err = io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %q: %w", name, err)
	}
	return data, nil
}

func (z *zipEntries) Close() error {
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}

// dirEntries reads entries from a directory tree. Entry names are the slash separated paths
// relative to the root, so that they match the layout of the equivalent zip archive.
type dirEntries struct {
	fs    afero.Fs
	root  string
	names []string
	index map[string]struct{}
}

func newDirEntries(fs afero.Fs, root string) (*dirEntries, error) {
	d := &dirEntries{fs: fs, root: root, index: make(map[string]struct{})}
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Must be a regular file or a symlink.
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		d.names = append(d.names, name)
		d.index[name] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %q: %w", root, err)
	}
	sort.Strings(d.names)
	return d, nil
}

func (d *dirEntries) Entries() []string { return d.names }

func (d *dirEntries) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

func (d *dirEntries) ReadEntry(name string) ([]byte, error) {
	if !d.Has(name) {
		return nil, fmt.Errorf("entry %q: %w", name, os.ErrNotExist)
	}
	return afero.ReadFile(d.fs, filepath.Join(d.root, filepath.FromSlash(name)))
}

func (d *dirEntries) Close() error { return nil }
