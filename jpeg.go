package dsconv

// JPEG header parsing. Only the frame header is read; the image data is never decoded.

import (
	"encoding/binary"
	"errors"
)

// The dimensions assumed for images whose size cannot be read from the JPEG header.
const (
	DefaultImageWidth  = 640
	DefaultImageHeight = 480
)

const (
	minJPEGLength     = 10  // Shorter buffers cannot hold a frame header.
	maxMarkerSegments = 100 // Segments to skip before giving up on finding a frame header.
)

// Reasons for falling back to the default dimensions.
var (
	ErrImageTooShort      = errors.New("image content too short to determine dimensions")
	ErrTooManySegments    = errors.New("no frame header within the first 100 marker segments")
	ErrInvalidSegment     = errors.New("invalid JPEG segment length")
	ErrNoFrameHeader      = errors.New("no JPEG frame header found")
	ErrTruncatedJPEGFrame = errors.New("truncated JPEG frame header")
)

// ImageDimensions returns the width and height stored in the JPEG start-of-frame header of data.
//
// It never fails: when the dimensions cannot be determined it returns the default of
// DefaultImageWidth x DefaultImageHeight. Use JPEGDimensions to learn why.
func ImageDimensions(data []byte) (width, height int) {
	width, height, err := JPEGDimensions(data)
	if err != nil {
		return DefaultImageWidth, DefaultImageHeight
	}
	return width, height
}

// JPEGDimensions scans the JPEG marker segments in data for a baseline, extended, progressive or
// lossless start-of-frame marker (0xFFC0 to 0xFFC3) and returns the dimensions it declares.
//
// On failure it returns the default dimensions together with the reason.
func JPEGDimensions(data []byte) (width, height int, err error) {
	width, height, err = scanFrameHeader(data)
	if err != nil {
		return DefaultImageWidth, DefaultImageHeight, err
	}
	return width, height, nil
}

func scanFrameHeader(data []byte) (width, height int, err error) {
	if len(data) < minJPEGLength {
		return 0, 0, ErrImageTooShort
	}

	// Skip the start-of-image marker.
	c := byteCursor{data: data, pos: 2}
	b, ok := c.next()
	for i := 0; ok && b != 0xDA; i++ { // Stop at the start-of-scan marker.
		if i >= maxMarkerSegments {
			return 0, 0, ErrTooManySegments
		}

		// Find the next marker and skip any fill bytes.
		for ok && b != 0xFF {
			b, ok = c.next()
		}
		for ok && b == 0xFF {
			b, ok = c.next()
		}
		if !ok {
			break
		}

		if b >= 0xC0 && b <= 0xC3 {
			// Segment length (2 bytes) and sample precision (1 byte) precede the dimensions.
			c.skip(3)
			h, okH := c.uint16()
			w, okW := c.uint16()
			if !okH || !okW {
				return 0, 0, ErrTruncatedJPEGFrame
			}
			return int(w), int(h), nil
		}

		length, okLen := c.uint16()
		if !okLen {
			return 0, 0, ErrTruncatedJPEGFrame
		}
		if length <= 2 {
			return 0, 0, ErrInvalidSegment
		}
		c.skip(int(length) - 2)
		b, ok = c.next()
	}

	return 0, 0, ErrNoFrameHeader
}

// byteCursor reads forward through a buffer. Reads past the end fail without panicking.
type byteCursor struct {
	data []byte
	pos  int
}

func (c *byteCursor) next() (byte, bool) {
	if c.pos >= len(c.data) {
		return 0, false
	}
	b := c.data[c.pos]
	c.pos++
	return b, true
}

func (c *byteCursor) skip(n int) {
	c.pos += n
	if c.pos > len(c.data) {
		c.pos = len(c.data)
	}
}

func (c *byteCursor) uint16() (uint16, bool) {
	if c.pos+2 > len(c.data) {
		c.pos = len(c.data)
		return 0, false
	}
	v := binary.BigEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v, true
}
