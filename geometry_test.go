package dsconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestYOLOToCOCOBox(t *testing.T) {
	assert.InDeltaSlice(t, []float64{400, 150, 200, 200},
		[]float64(yoloToCOCOBox(0.5, 0.5, 0.2, 0.4, 1000, 500)), 1e-9)
}

func TestBoxRoundTrip(t *testing.T) {
	boxes := []BBox{
		{0, 0, 100, 50},
		{10, 5, 20, 10},
		{33.3, 12.7, 41.1, 9.9},
		{99, 49, 1, 1},
	}
	for _, b := range boxes {
		cx, cy, w, h := cocoToYOLOBox(b, 100, 50)
		got := yoloToCOCOBox(cx, cy, w, h, 100, 50)
		assert.InDeltaSlice(t, []float64(b), []float64(got), 1e-4, "box %v", b)
	}
}

func TestCOCOToYOLOBoxClamps(t *testing.T) {
	cx, cy, w, h := cocoToYOLOBox(BBox{-10, -10, 20, 200}, 100, 100)
	assert.InDelta(t, 0.0, cx, 1e-9)
	assert.InDelta(t, 0.9, cy, 1e-9)
	assert.InDelta(t, 0.2, w, 1e-9)
	assert.InDelta(t, 1.0, h, 1e-9)

	cx, _, _, _ = cocoToYOLOBox(BBox{1, 0, 1, 1}, 3, 1)
	assert.Equal(t, 0.5, cx)
	_, cy, _, _ = cocoToYOLOBox(BBox{0, 0, 1, 1}, 1, 3)
	assert.Equal(t, 0.166667, cy)
}

func TestPolygonTransforms(t *testing.T) {
	normalized := []float64{0.1, 0.2, 0.5, 0.2, 0.5, 0.8}
	absolute := denormalizePolygon(normalized, 1000, 500)
	assert.InDeltaSlice(t, []float64{100, 100, 500, 100, 500, 400}, absolute, 1e-9)
	assert.InDeltaSlice(t, normalized, normalizePolygon(absolute, 1000, 500), 1e-12)

	assert.InDelta(t, 60000.0, polygonArea(absolute), 1e-9)
	assert.InDelta(t, 0.0, polygonArea([]float64{0, 0, 1, 1}), 1e-9)
	// Orientation does not matter.
	assert.InDelta(t, 60000.0, polygonArea([]float64{500, 400, 500, 100, 100, 100}), 1e-9)
}

func TestPolygonBounds(t *testing.T) {
	tests := []struct {
		name   string
		points []float64
		want   BBox
	}{
		{"integer vertices", []float64{100, 100, 500, 100, 500, 400}, BBox{100, 100, 401, 301}},
		{"fractional vertices", []float64{10.5, 20.2, 30.9, 20.7, 15.1, 40.99}, BBox{10, 20, 21, 21}},
		{"single point", []float64{3, 4}, BBox{3, 4, 1, 1}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, polygonBounds(tt.points))
		})
	}
}

func TestPolygonExtent(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.4, 0.6},
		[]float64(polygonExtent([]float64{0.1, 0.2, 0.5, 0.2, 0.5, 0.8})), 1e-12)
	assert.Nil(t, polygonExtent(nil))
}
