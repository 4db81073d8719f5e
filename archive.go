package dsconv

// Output archives. Datasets are written as a per-split tree of entries, either into a zip
// archive (file, writer or memory buffer) or into a directory.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

type destKind int

const (
	destInvalid destKind = iota
	destZipFile
	destDir
	destWriter
	destMemory
)

// Destination is where a converted dataset is written. The zero value is invalid.
type Destination struct {
	kind destKind
	fs   afero.Fs
	path string
	w    io.Writer
	buf  *bytes.Buffer
}

// ToPath returns a destination for a zip file on the local file system. The .zip extension is
// appended if path lacks it.
func ToPath(path string) Destination {
	return ToFsPath(afero.NewOsFs(), path)
}

// ToFsPath returns a destination for a zip file on fs. The .zip extension is appended if path
// lacks it.
func ToFsPath(fs afero.Fs, path string) Destination {
	if !strings.HasSuffix(strings.ToLower(path), ".zip") {
		path += ".zip"
	}
	return Destination{kind: destZipFile, fs: fs, path: path}
}

// ToDir returns a destination that extracts the dataset into a directory on the local file
// system. The directory is created if necessary.
func ToDir(path string) Destination {
	return ToFsDir(afero.NewOsFs(), path)
}

// ToFsDir returns a destination that extracts the dataset into a directory on fs.
func ToFsDir(fs afero.Fs, path string) Destination {
	return Destination{kind: destDir, fs: fs, path: path}
}

// ToWriter returns a destination that streams a zip archive to w. The writer is not closed.
func ToWriter(w io.Writer) Destination {
	return Destination{kind: destWriter, w: w}
}

// ToMemory returns a destination that keeps the zip archive in memory. Use Reader or Bytes to
// access it after saving.
func ToMemory() Destination {
	return Destination{kind: destMemory, buf: new(bytes.Buffer)}
}

// Path is the file or directory path of the destination, empty for writers and memory.
func (d Destination) Path() string { return d.path }

// Bytes returns the archive written to a memory destination.
func (d Destination) Bytes() []byte {
	if d.buf == nil {
		return nil
	}
	return d.buf.Bytes()
}

// Reader returns a reader positioned at the start of the archive written to a memory
// destination.
func (d Destination) Reader() *bytes.Reader {
	return bytes.NewReader(d.Bytes())
}

func (d Destination) String() string {
	switch d.kind {
	case destZipFile, destDir:
		return fmt.Sprintf("%q", d.path)
	case destWriter:
		return "writer"
	case destMemory:
		return "memory"
	}
	return "<invalid>"
}

// errDuplicateEntry is returned when an entry name is written twice.
var errDuplicateEntry = errors.New("duplicate archive entry")

// archiveWriter writes named entries to a destination.
type archiveWriter struct {
	zw      *zip.Writer // Nil for directory destinations.
	fs      afero.Fs
	root    string
	zipPath string // The zip file created on fs, if any.
	closer  io.Closer
	names   map[string]bool
}

// create prepares the destination for writing. The caller must call Close.
func (d Destination) create() (*archiveWriter, error) {
	w := &archiveWriter{names: make(map[string]bool)}
	switch d.kind {
	case destZipFile:
		if dir := filepath.Dir(d.path); dir != "" {
			if err := d.fs.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("cannot create directory %q: %w", dir, err)
			}
		}
		f, err := d.fs.Create(d.path)
		if err != nil {
			return nil, fmt.Errorf("cannot create %q: %w", d.path, err)
		}
		w.zw = zip.NewWriter(f)
		w.closer = f
		w.fs, w.zipPath = d.fs, d.path
	case destDir:
		if err := d.fs.MkdirAll(d.path, 0755); err != nil {
			return nil, fmt.Errorf("cannot create directory %q: %w", d.path, err)
		}
		w.fs, w.root = d.fs, d.path
	case destWriter:
		if d.w == nil {
			return nil, ErrInvalidDestination
		}
		w.zw = zip.NewWriter(d.w)
	case destMemory:
		d.buf.Reset()
		w.zw = zip.NewWriter(d.buf)
	default:
		return nil, ErrInvalidDestination
	}
	return w, nil
}

// WriteEntry writes data as the entry name. Writing a name twice fails with errDuplicateEntry.
func (w *archiveWriter) WriteEntry(name string, data []byte) error {
	if w.names[name] {
		return fmt.Errorf("%w %q", errDuplicateEntry, name)
	}
	w.names[name] = true

	if w.zw == nil {
		p := filepath.Join(w.root, filepath.FromSlash(name))
		if err := w.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("cannot create directory for %q: %w", name, err)
		}
		if err := afero.WriteFile(w.fs, p, data, 0644); err != nil {
			return fmt.Errorf("cannot write file %q: %w", p, err)
		}
		return nil
	}

	ew, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("cannot add %q to the archive: %w", name, err)
	}
	if _, err := ew.Write(data); err != nil {
		return fmt.Errorf("cannot write %q to the archive: %w", name, err)
	}
	return nil
}

// put writes the entry like WriteEntry, but records a duplicate name as a warning instead of
// failing. Reports whether the entry was written.
func (w *archiveWriter) put(rep stageReporter, split Split, name string, data []byte) (bool, error) {
	err := w.WriteEntry(name, data)
	if errors.Is(err, errDuplicateEntry) {
		rep.warnf(split, name, "duplicate entry, skipped")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rep.debug("saved entry", "entry", name, "bytes", len(data))
	return true, nil
}

// Len is the number of entries written.
func (w *archiveWriter) Len() int { return len(w.names) }

// finish closes the writer and stores the first error in *err. A zip file created by create is
// removed if *err is set.
func (w *archiveWriter) finish(err *error) {
	closeWithErrCheck(w, err)
	if *err != nil && w.zipPath != "" {
		_ = w.fs.Remove(w.zipPath)
	}
}

// Close finalises the archive and closes any file opened by create.
func (w *archiveWriter) Close() (err error) {
	if w.closer != nil {
		defer closeWithErrCheck(w.closer, &err)
	}
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return fmt.Errorf("failed to finalise the archive: %w", err)
		}
	}
	return nil
}
