package dsconv

// TFRecord object detection specific functionality. Export only.
//
// Archive layout: {split}/{split}.tfrecord (or {split}/{split}.tfrecord-NNNNN-of-NNNNN when
// sharded) with one tensorflow.Example per image, plus label_map.pbtxt at the root.

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

const tfRecordLabelMapFile = "label_map.pbtxt"

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// TFRecordExample is the feature map of a single image.
type TFRecordExample struct {
	Split    Split
	FileName string
	Features TFFeatureMap
}

// TFRecordDocument is a dataset prepared for the TensorFlow Object Detection API.
type TFRecordDocument struct {
	Examples []TFRecordExample
	// LabelMap holds the class names; the label id of LabelMap[i] is i+1.
	LabelMap []string
}

// Format implements Document.
func (*TFRecordDocument) Format() Format { return FormatTFRecord }

// TFRecordConvertor exports normalized datasets as TFRecord files.
type TFRecordConvertor struct {
	opts options
}

// NewTFRecordConvertor returns a TFRecord convertor.
func NewTFRecordConvertor(opts ...Option) (*TFRecordConvertor, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	return &TFRecordConvertor{opts: o}, nil
}

// Format implements Convertor.
func (c *TFRecordConvertor) Format() Format { return FormatTFRecord }

// Load is not supported.
func (c *TFRecordConvertor) Load(Source, *Report) (Document, error) {
	return nil, fmt.Errorf("tfrecord load: %w", ErrUnsupported)
}

// Normalize is not supported.
func (c *TFRecordConvertor) Normalize(Document, *Report) (*Dataset, error) {
	return nil, fmt.Errorf("tfrecord normalize: %w", ErrUnsupported)
}

// Convert builds one example per image and saves the document to dst. Images without dimensions
// and annotations without a bounding box are skipped.
func (c *TFRecordConvertor) Convert(ds *Dataset, dst Destination, report *Report) (Document, error) {
	rep := report.stage(FormatTFRecord, StageConvert)

	doc := &TFRecordDocument{LabelMap: make([]string, len(ds.Categories))}
	for i, cat := range ds.Categories {
		doc.LabelMap[i] = cat.Name
	}

	byImage := ds.AnnotationsByImage()
	for _, img := range ds.Images {
		if img.Width <= 0 || img.Height <= 0 {
			rep.warnf(img.Split, img.FileName, "image has a zero width or height, skipping")
			continue
		}
		doc.Examples = append(doc.Examples, TFRecordExample{
			Split:    img.Split,
			FileName: img.FileName,
			Features: toTFFeatures(img, byImage[img.ID], doc.LabelMap, rep),
		})
	}

	if err := c.Save(doc, dst, report); err != nil {
		return nil, err
	}
	return doc, nil
}

// toTFFeatures builds the object detection feature map for a single image.
func toTFFeatures(img Image, annotations []Annotation, labels []string, rep stageReporter) TFFeatureMap {
	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = img.FileName
	f["image/source_id"] = string(img.Split) + "/" + img.FileName
	f["image/encoded"] = img.Content
	f["image/format"] = imageFormat(img.FileName)

	// Prepare the per label data.
	xmins := make([]float32, 0, len(annotations))
	ymins := make([]float32, 0, len(annotations))
	xmaxs := make([]float32, 0, len(annotations))
	ymaxs := make([]float32, 0, len(annotations))
	classes := make([]string, 0, len(annotations))
	classIDs := make([]int64, 0, len(annotations))
	for _, a := range annotations {
		if !a.HasBBox() {
			rep.warnf(img.Split, img.FileName, "annotation %d has no bounding box, skipping", a.ID)
			continue
		}
		if a.CategoryID < 0 || a.CategoryID >= len(labels) {
			rep.warnf(img.Split, img.FileName, "annotation %d has unknown category %d, skipping",
				a.ID, a.CategoryID)
			continue
		}
		W, H := float64(img.Width), float64(img.Height)
		xmins = append(xmins, float32(clamp01(a.BBox[0]/W)))
		ymins = append(ymins, float32(clamp01(a.BBox[1]/H)))
		xmaxs = append(xmaxs, float32(clamp01((a.BBox[0]+a.BBox[2])/W)))
		ymaxs = append(ymaxs, float32(clamp01((a.BBox[1]+a.BBox[3])/H)))
		classes = append(classes, labels[a.CategoryID])
		classIDs = append(classIDs, int64(a.CategoryID+1))
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs

	return f
}

// Save serialises the examples into one TFRecord file (or set of shards) per split and writes
// the label map.
func (c *TFRecordConvertor) Save(doc Document, dst Destination, report *Report) (err error) {
	d, ok := doc.(*TFRecordDocument)
	if !ok {
		return fmt.Errorf("%w: %T", ErrDocumentType, doc)
	}
	rep := report.stage(FormatTFRecord, StageSave)

	w, err := dst.create()
	if err != nil {
		return err
	}
	defer w.finish(&err)

	for _, split := range Splits() {
		var examples []TFRecordExample
		for _, e := range d.Examples {
			if e.Split == split {
				examples = append(examples, e)
			}
		}
		if len(examples) == 0 {
			continue
		}

		shards, err := writeTFRecordShards(examples, c.opts.shards)
		if err != nil {
			return fmt.Errorf("failed to encode the %s split: %w", split, err)
		}
		for i, shard := range shards {
			name := fmt.Sprintf("%s/%s.tfrecord", split, split)
			if len(shards) > 1 {
				name += fmt.Sprintf("-%05d-of-%05d", i, len(shards))
			}
			if _, err := w.put(rep, split, name, shard); err != nil {
				return err
			}
		}
		rep.debug("saved split", "split", string(split), "examples", len(examples),
			"shards", len(shards))
	}

	if _, err := w.put(rep, "", tfRecordLabelMapFile, formatTFRecordLabelMap(d.LabelMap)); err != nil {
		return err
	}
	return nil
}

// writeTFRecordShards serialises the examples into numShards TFRecord buffers of near equal size.
// Fewer shards are returned when there are fewer examples than shards.
func writeTFRecordShards(examples []TFRecordExample, numShards int) (shards [][]byte, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	shardSize := int(math.Ceil(float64(len(examples)) / float64(numShards)))

	var buf *bytes.Buffer
	for i, e := range examples {
		// Check if a new shard needs to be started.
		if i%shardSize == 0 {
			if buf != nil {
				shards = append(shards, buf.Bytes())
			}
			buf = new(bytes.Buffer)
		}
		if err := writeTFRecordExample(buf, example.New(e.Features)); err != nil {
			return nil, fmt.Errorf("failed to write the example for %q: %w", e.FileName, err)
		}
	}
	if buf != nil {
		shards = append(shards, buf.Bytes())
	}
	return shards, nil
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// formatTFRecordLabelMap encodes the label map in the StringIntLabelMap text format.
func formatTFRecordLabelMap(labels []string) []byte {
	var b strings.Builder
	for i, name := range labels {
		name = strings.ReplaceAll(name, `\`, `\\`)
		name = strings.ReplaceAll(name, "'", `\'`)
		fmt.Fprintf(&b, "item {\n  name: '%s'\n  id: %d\n}\n", name, i+1)
	}
	return []byte(b.String())
}
