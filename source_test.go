package dsconv

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// onlyReadSeeker hides the io.ReaderAt implementation of the wrapped reader.
type onlyReadSeeker struct{ r *bytes.Reader }

func (o onlyReadSeeker) Read(p []byte) (int, error)            { return o.r.Read(p) }
func (o onlyReadSeeker) Seek(off int64, wh int) (int64, error) { return o.r.Seek(off, wh) }

func TestSource_Open(t *testing.T) {
	files := map[string][]byte{
		"train/_annotations.coco.json": []byte(`{}`),
		"train/a.jpg":                  []byte("image a"),
		"valid/b.jpg":                  []byte("image b"),
	}
	archive := zipBytes(t, files)
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	dirFs := memFs(t, "/data", files)
	zipFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(zipFs, "/data.zip", archive, 0644))

	tests := []struct {
		name string
		src  Source
	}{
		{"directory", FromFs(dirFs, "/data")},
		{"zip file", FromFs(zipFs, "/data.zip")},
		{"zip reader", FromZip(zr)},
		{"bytes", FromBytes(archive)},
		{"read seeker", FromStream(bytes.NewReader(archive))},
		{"read seeker without ReaderAt", FromStream(onlyReadSeeker{bytes.NewReader(archive)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := tt.src.Open()
			require.NoError(t, err)
			defer entries.Close()

			assert.ElementsMatch(t, sortedKeys(files), entries.Entries())
			assert.True(t, entries.Has("train/a.jpg"))
			assert.False(t, entries.Has("train/missing.jpg"))

			data, err := entries.ReadEntry("valid/b.jpg")
			require.NoError(t, err)
			assert.Equal(t, []byte("image b"), data)

			_, err = entries.ReadEntry("train/missing.jpg")
			assert.True(t, errors.Is(err, os.ErrNotExist))
		})
	}
}

func TestSource_OpenLocalPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ds", "train"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ds", "train", "a.jpg"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ds.zip"),
		zipBytes(t, map[string][]byte{"train/a.jpg": []byte("a")}), 0644))

	for _, p := range []string{filepath.Join(dir, "ds"), filepath.Join(dir, "ds.zip")} {
		src, err := SourceOf(p)
		require.NoError(t, err)
		entries, err := src.Open()
		require.NoError(t, err)
		assert.Equal(t, []string{"train/a.jpg"}, entries.Entries())
		require.NoError(t, entries.Close())
	}
}

func TestSource_Invalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/notes.txt", []byte("not a zip archive"), 0644))

	tests := []struct {
		name string
		src  Source
	}{
		{"zero value", Source{}},
		{"missing path", FromFs(fs, "/missing")},
		{"not a zip file", FromFs(fs, "/notes.txt")},
		{"not zip bytes", FromBytes([]byte("not a zip archive"))},
		{"nil stream", FromStream(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.src.Open()
			var invalid *InvalidSourceError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestSourceOf(t *testing.T) {
	archive := zipBytes(t, map[string][]byte{"data.yaml": []byte("nc: 0\n")})
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	for _, v := range []any{"some/path", zr, archive, bytes.NewReader(archive)} {
		_, err := SourceOf(v)
		assert.NoError(t, err, "%T", v)
	}

	for _, v := range []any{42, nil, (*zip.Reader)(nil), struct{}{}} {
		_, err := SourceOf(v)
		var invalid *InvalidSourceError
		assert.ErrorAs(t, err, &invalid, "%T", v)
	}
}
