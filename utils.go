package dsconv

import (
	"io"
	"path"
	"strings"
)

// imageExtensions are the image file types recognised in dataset archives.
var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// splitEntryName splits the slash separated entry name into the dir name, the base name without
// extension and the extension (including the dot, empty if there is none).
func splitEntryName(name string) (dir, baseNoExt, ext string) {
	dir, file := path.Split(name)
	ext = path.Ext(file)
	dir = strings.TrimSuffix(dir, "/")
	baseNoExt = file[:len(file)-len(ext)]
	return dir, baseNoExt, ext
}

// fileStem returns the file name without directory and extension.
func fileStem(name string) string {
	_, baseNoExt, _ := splitEntryName(name)
	return baseNoExt
}

// isImageFile reports whether the entry name has a recognised image extension.
func isImageFile(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// imageFormat returns the image encoding derived from the file extension, as used by the
// TensorFlow Object Detection API.
func imageFormat(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "png"
	default:
		return "jpeg"
	}
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
