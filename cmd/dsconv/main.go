// Converts annotated image datasets between the COCO and YOLO formats, and exports them as
// TFRecord files for the TensorFlow Object Detection API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
