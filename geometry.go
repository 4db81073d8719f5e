package dsconv

// Geometry conversions between absolute COCO coordinates and image-normalized YOLO coordinates.

import "math"

// yoloToCOCOBox converts a normalized (cx, cy, w, h) box to an absolute [x, y, w, h] box for an
// image of the given size.
func yoloToCOCOBox(cx, cy, w, h float64, imgWidth, imgHeight int) BBox {
	W, H := float64(imgWidth), float64(imgHeight)
	return BBox{(cx - w/2) * W, (cy - h/2) * H, w * W, h * H}
}

// cocoToYOLOBox converts an absolute [x, y, w, h] box to normalized (cx, cy, w, h). Each value is
// clamped to [0, 1] and rounded to 6 decimal places.
func cocoToYOLOBox(b BBox, imgWidth, imgHeight int) (cx, cy, w, h float64) {
	W, H := float64(imgWidth), float64(imgHeight)
	x, y, bw, bh := b[0], b[1], b[2], b[3]
	cx = round6(clamp01((x + bw/2) / W))
	cy = round6(clamp01((y + bh/2) / H))
	w = round6(clamp01(bw / W))
	h = round6(clamp01(bh / H))
	return cx, cy, w, h
}

// denormalizePolygon scales even-indexed coordinates by the image width and odd-indexed ones by
// the image height.
func denormalizePolygon(points []float64, imgWidth, imgHeight int) []float64 {
	return scalePolygon(points, float64(imgWidth), float64(imgHeight))
}

// normalizePolygon divides even-indexed coordinates by the image width and odd-indexed ones by
// the image height.
func normalizePolygon(points []float64, imgWidth, imgHeight int) []float64 {
	return scalePolygon(points, 1/float64(imgWidth), 1/float64(imgHeight))
}

func scalePolygon(points []float64, sx, sy float64) []float64 {
	out := make([]float64, len(points))
	for i, v := range points {
		if i&1 == 0 {
			out[i] = v * sx
		} else {
			out[i] = v * sy
		}
	}
	return out
}

// polygonArea returns the absolute area enclosed by the flat [x1, y1, x2, y2, ...] polygon.
func polygonArea(points []float64) float64 {
	n := len(points) / 2
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += points[2*i]*points[2*j+1] - points[2*j]*points[2*i+1]
	}
	return math.Abs(sum) / 2
}

// polygonBounds returns the smallest integer pixel rectangle [x, y, w, h] containing every vertex
// of the polygon. Edges are pixel inclusive, i.e. a single point has a width and height of 1.
func polygonBounds(points []float64) BBox {
	e := polygonExtent(points)
	if e == nil {
		return nil
	}
	x0, y0 := math.Floor(e[0]), math.Floor(e[1])
	return BBox{x0, y0, math.Floor(e[0]+e[2]) - x0 + 1, math.Floor(e[1]+e[3]) - y0 + 1}
}

// polygonExtent returns the exact bounding box [x, y, w, h] of the polygon vertices.
func polygonExtent(points []float64) BBox {
	if len(points) < 2 {
		return nil
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(points); i += 2 {
		minX = math.Min(minX, points[i])
		maxX = math.Max(maxX, points[i])
		minY = math.Min(minY, points[i+1])
		maxY = math.Max(maxY, points[i+1])
	}
	return BBox{minX, minY, maxX - minX, maxY - minY}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
