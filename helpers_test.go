package dsconv

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// testJPEG returns a minimal JPEG header with an APP0 segment followed by a baseline frame header
// declaring the given dimensions.
func testJPEG(width, height int) []byte {
	var b bytes.Buffer
	b.Write([]byte{0xFF, 0xD8})
	// APP0, length 16.
	b.Write([]byte{0xFF, 0xE0, 0x00, 0x10})
	b.Write([]byte("JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00"))
	// SOF0, length 17, precision 8.
	b.Write([]byte{0xFF, 0xC0, 0x00, 0x11, 0x08})
	_ = binary.Write(&b, binary.BigEndian, uint16(height))
	_ = binary.Write(&b, binary.BigEndian, uint16(width))
	b.Write([]byte{0x03, 0x01, 0x22, 0x00, 0x02, 0x11, 0x01, 0x03, 0x11, 0x01})
	// SOS.
	b.Write([]byte{0xFF, 0xDA})
	return b.Bytes()
}

// zipBytes returns a zip archive holding files, written in name order.
func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedKeys(files) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// readZip returns the content of every entry of the zip archive.
func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = content
	}
	return files
}

// memFs returns an in-memory file system with files stored below root.
func memFs(t *testing.T, root string, files map[string][]byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fs, root+"/"+name, data, 0644))
	}
	return fs
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fixedClock is the time source of the convertors under test.
func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
}

func newTestCOCO(t *testing.T) *COCOConvertor {
	t.Helper()
	c, err := NewCOCOConvertor(WithClock(fixedClock))
	require.NoError(t, err)
	return c
}

func newTestYOLO(t *testing.T) *YOLOConvertor {
	t.Helper()
	c, err := NewYOLOConvertor(WithClock(fixedClock))
	require.NoError(t, err)
	return c
}

// warningMessages returns the messages of the recorded warnings.
func warningMessages(r *Report) []string {
	var msgs []string
	for _, w := range r.Warnings() {
		msgs = append(msgs, w.String())
	}
	return msgs
}

// cocoSplit is a helper to build _annotations.coco.json content.
type cocoSplit struct {
	Info        map[string]any   `json:"info,omitempty"`
	Licenses    []License        `json:"licenses,omitempty"`
	Categories  []Category       `json:"categories"`
	Images      []map[string]any `json:"images"`
	Annotations []map[string]any `json:"annotations"`
}

// testCOCOFiles returns a two-class COCO dataset with a train and a valid split. The train split
// has two images with two annotations each, the valid split one image with one annotation.
func testCOCOFiles(t *testing.T) map[string][]byte {
	t.Helper()
	categories := []Category{
		{ID: 1, Name: "cat", Supercategory: "animal"},
		{ID: 2, Name: "dog", Supercategory: "animal"},
	}
	train := cocoSplit{
		Info:       map[string]any{"description": "pets", "year": 2024},
		Licenses:   []License{{ID: 1, Name: "CC BY 4.0", URL: "https://creativecommons.org/licenses/by/4.0/"}},
		Categories: categories,
		Images: []map[string]any{
			{"id": 1, "file_name": "a.jpg", "width": 1000, "height": 500},
			{"id": 2, "file_name": "b.jpg", "width": 200, "height": 100},
		},
		Annotations: []map[string]any{
			{"id": 1, "image_id": 1, "category_id": 1, "bbox": []float64{400, 150, 200, 200},
				"area": 40000, "iscrowd": 0, "segmentation": []any{}},
			{"id": 2, "image_id": 1, "category_id": 2, "bbox": []float64{10, 20, 30, 40},
				"area": 1200, "iscrowd": 0},
			{"id": 3, "image_id": 2, "category_id": 2, "bbox": []float64{20, 10, 50, 50},
				"area": 2500, "iscrowd": 0,
				"segmentation": [][]float64{{20, 10, 70, 10, 70, 60, 20, 60}}},
			{"id": 4, "image_id": 2, "category_id": 1, "bbox": []float64{0, 0, 100, 50},
				"area": 5000, "iscrowd": 0},
		},
	}
	valid := cocoSplit{
		Categories: categories,
		Images: []map[string]any{
			{"id": 1, "file_name": "c.jpg", "width": 640, "height": 480},
		},
		Annotations: []map[string]any{
			{"id": 1, "image_id": 1, "category_id": 2, "bbox": []float64{64, 48, 320, 240},
				"area": 76800, "iscrowd": 0},
		},
	}
	return map[string][]byte{
		"train/_annotations.coco.json": mustJSON(t, train),
		"train/a.jpg":                  testJPEG(1000, 500),
		"train/b.jpg":                  testJPEG(200, 100),
		"valid/_annotations.coco.json": mustJSON(t, valid),
		"valid/c.jpg":                  testJPEG(640, 480),
	}
}

// testYOLOFiles returns a two-class YOLO dataset with a single image in the train split.
func testYOLOFiles() map[string][]byte {
	return map[string][]byte{
		"data.yaml": []byte("train: ../train/images\nval: ../valid/images\nnc: 2\n" +
			"names: ['cat', 'dog']\nlicense: CC BY 4.0\nlicense_url: https://example.com/license\n"),
		"train/images/a.jpg": testJPEG(1000, 500),
		"train/labels/a.txt": []byte("0 0.5 0.5 0.2 0.4\n1 0.1 0.2 0.3 0.2 0.3 0.4\n"),
	}
}
