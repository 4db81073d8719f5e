package dsconv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJPEGDimensions(t *testing.T) {
	// 150 empty APP1 segments precede the frame header.
	var manySegments bytes.Buffer
	manySegments.Write([]byte{0xFF, 0xD8})
	for i := 0; i < 150; i++ {
		manySegments.Write([]byte{0xFF, 0xE1, 0x00, 0x04, 0x00, 0x00})
	}
	manySegments.Write(testJPEG(10, 10)[2:])

	tests := []struct {
		name          string
		data          []byte
		width, height int
		err           error
	}{
		{
			name:   "minimal frame header",
			data:   []byte{0xFF, 0xD8, 0xFF, 0xC0, 0x00, 0x11, 0x08, 0x01, 0xF4, 0x03, 0xE8},
			width:  1000,
			height: 500,
		},
		{
			name:   "frame header after APP0",
			data:   testJPEG(1920, 1080),
			width:  1920,
			height: 1080,
		},
		{
			name:   "fill bytes before marker",
			data:   []byte{0xFF, 0xD8, 0xFF, 0xFF, 0xFF, 0xC2, 0x00, 0x11, 0x08, 0x00, 0x20, 0x00, 0x40},
			width:  64,
			height: 32,
		},
		{
			name:   "too short",
			data:   make([]byte, 9),
			width:  DefaultImageWidth,
			height: DefaultImageHeight,
			err:    ErrImageTooShort,
		},
		{
			name:   "too many segments",
			data:   manySegments.Bytes(),
			width:  DefaultImageWidth,
			height: DefaultImageHeight,
			err:    ErrTooManySegments,
		},
		{
			name:   "invalid segment length",
			data:   []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00},
			width:  DefaultImageWidth,
			height: DefaultImageHeight,
			err:    ErrInvalidSegment,
		},
		{
			name:   "start of scan before frame header",
			data:   []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x04, 0x00, 0x00, 0xDA, 0x00, 0x00},
			width:  DefaultImageWidth,
			height: DefaultImageHeight,
			err:    ErrNoFrameHeader,
		},
		{
			name:   "truncated frame header",
			data:   []byte{0xFF, 0xD8, 0xFF, 0xC0, 0x00, 0x11, 0x08, 0x01, 0xF4, 0x03},
			width:  DefaultImageWidth,
			height: DefaultImageHeight,
			err:    ErrTruncatedJPEGFrame,
		},
		{
			name:   "png",
			data:   []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"),
			width:  DefaultImageWidth,
			height: DefaultImageHeight,
			err:    ErrNoFrameHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := JPEGDimensions(tt.data)
			assert.ErrorIs(t, err, tt.err)
			if tt.err == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)

			w, h = ImageDimensions(tt.data)
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}
