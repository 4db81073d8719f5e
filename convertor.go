// Package dsconv converts annotated image datasets between the COCO and YOLO formats, and exports
// them as TFRecord files for the TensorFlow Object Detection API.
//
// Every conversion is routed through the normalized Dataset:
//
//	load(source) -> Document -> normalize -> Dataset -> convert(destination) -> Document
//
// Sources are directories, zip files, open zip archives or zip byte streams, see Source.
// Destinations are zip files, directories, writers or in-memory buffers, see Destination.
// Recoverable data problems never abort a conversion. They are recorded in a Report.
package dsconv

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies a dataset format.
type Format string

// The supported dataset formats.
const (
	FormatCOCO     Format = "coco"
	FormatYOLO     Format = "yolo"
	FormatTFRecord Format = "tfrecord" // Export only.
)

// ParseFormat returns the Format named by s, ignoring case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCOCO, FormatYOLO, FormatTFRecord:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Document is a dataset in a format specific representation.
type Document interface {
	Format() Format
}

// Convertor loads, normalizes, converts and saves datasets of a single format.
//
// A Convertor holds no per-call state; the same value may be used for any number of conversions.
type Convertor interface {
	// Format returns the format handled by the convertor.
	Format() Format
	// Load reads the dataset from src.
	Load(src Source, report *Report) (Document, error)
	// Normalize converts a loaded document to the normalized representation.
	Normalize(doc Document, report *Report) (*Dataset, error)
	// Convert builds a document from the normalized dataset and saves it to dst.
	Convert(ds *Dataset, dst Destination, report *Report) (Document, error)
	// Save validates doc and writes it to dst.
	Save(doc Document, dst Destination, report *Report) error
}

// DateLayout is the layout of Info.DateCreated.
const DateLayout = "2006-01-02 15:04:05"

type options struct {
	validator *Validator
	now       func() time.Time
	shards    int
}

// Option configures a Convertor.
type Option func(*options)

// WithValidator sets the schema validator. The shared DefaultValidator is used otherwise.
func WithValidator(v *Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithClock sets the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithShards sets the number of TFRecord files written per split. Ignored by the other formats.
func WithShards(n int) Option {
	return func(o *options) { o.shards = n }
}

func newOptions(opts []Option) (options, error) {
	o := options{now: time.Now, shards: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.validator == nil {
		v, err := DefaultValidator()
		if err != nil {
			return o, err
		}
		o.validator = v
	}
	return o, nil
}

func (o options) timestamp() string {
	return o.now().Format(DateLayout)
}

// NewConvertor returns the convertor for format f.
func NewConvertor(f Format, opts ...Option) (Convertor, error) {
	switch f {
	case FormatCOCO:
		return NewCOCOConvertor(opts...)
	case FormatYOLO:
		return NewYOLOConvertor(opts...)
	case FormatTFRecord:
		return NewTFRecordConvertor(opts...)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

// Run loads the dataset from src with from, normalizes it and converts it with to, saving the
// result to dst. It returns the normalized dataset along with the converted document.
func Run(src Source, from, to Convertor, dst Destination, report *Report) (*Dataset, Document, error) {
	doc, err := from.Load(src, report)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load the %s dataset: %w", from.Format(), err)
	}
	ds, err := from.Normalize(doc, report)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to normalize the %s dataset: %w", from.Format(), err)
	}
	out, err := to.Convert(ds, dst, report)
	if err != nil {
		return ds, nil, fmt.Errorf("failed to convert to %s: %w", to.Format(), err)
	}
	return ds, out, nil
}

// splitNotes summarises the number of images and annotations per split.
func splitNotes(ds *Dataset) map[Split]string {
	images := make(map[Split]int)
	annotations := make(map[Split]int)
	splitOf := make(map[int]Split, len(ds.Images))
	for _, img := range ds.Images {
		images[img.Split]++
		splitOf[img.ID] = img.Split
	}
	for _, a := range ds.Annotations {
		annotations[splitOf[a.ImageID]]++
	}

	notes := make(map[Split]string)
	for _, s := range Splits() {
		if images[s] > 0 {
			notes[s] = fmt.Sprintf("%d images, %d annotations", images[s], annotations[s])
		}
	}
	return notes
}
