package dsconv

// The normalized dataset representation. All format adapters convert to and from this model.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Split is a dataset partition. It is also the top-level directory in dataset archives.
type Split string

// The known splits, in processing order.
const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
	SplitTest  Split = "test"
)

// Splits returns the known splits in processing order.
func Splits() []Split {
	return []Split{SplitTrain, SplitValid, SplitTest}
}

// Valid reports whether s is one of the known splits.
func (s Split) Valid() bool {
	return s == SplitTrain || s == SplitValid || s == SplitTest
}

// Dataset types, as recorded in Info.DatasetType.
const (
	DatasetTypeDetection    = "Object Detection"
	DatasetTypeSegmentation = "Segmentation"
)

// BBoxFormatXYWH denotes absolute [x, y, width, height] boxes, measured from the top-left corner.
const BBoxFormatXYWH = "xywh"

// Info is free-form descriptive dataset metadata.
type Info struct {
	Description string           `json:"description,omitempty"`
	DatasetName string           `json:"dataset_name,omitempty"`
	DatasetType string           `json:"dataset_type,omitempty"`
	DateCreated string           `json:"date_created,omitempty"`
	Splits      map[Split]string `json:"splits,omitempty"` // Notes per split.
}

// License is passed through conversions without being interpreted.
type License struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Category is an object class. In a normalized dataset ID equals the index in Dataset.Categories.
type Category struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

// Image is an annotated image. In a normalized dataset ID equals the index in Dataset.Images.
type Image struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Split    Split  `json:"split"`
	Content  []byte `json:"-"` // The raw encoded image, if available.
	Origin   string `json:"-"` // The source entry the content was read from, if any.
}

// BBox is an axis-aligned bounding box, [x, y, width, height] in absolute pixels, or empty.
type BBox []float64

// MarshalJSON encodes an empty box as an empty array rather than null.
func (b BBox) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]float64(b))
}

// Annotation is a single object annotation.
type Annotation struct {
	ID           int          `json:"id"` // 1-based.
	ImageID      int          `json:"image_id"`
	CategoryID   int          `json:"category_id"`
	BBox         BBox         `json:"bbox"`
	Segmentation Segmentation `json:"segmentation"`
	Area         float64      `json:"area"`
	IsCrowd      int          `json:"iscrowd"`
	BBoxFormat   string       `json:"bbox_format"`
}

// HasBBox reports whether the annotation has a complete bounding box.
func (a Annotation) HasBBox() bool {
	return len(a.BBox) == 4
}

// Dataset is the normalized, format independent dataset.
//
// Invariants: Categories[i].ID == i, Images[i].ID == i, len(Names) == NC == len(Categories) and
// every annotation references an existing image and category.
type Dataset struct {
	Info        Info         `json:"info"`
	Licenses    []License    `json:"licenses"`
	Categories  []Category   `json:"categories"`
	Names       []string     `json:"names"`
	NC          int          `json:"nc"`
	Images      []Image      `json:"images"`
	Annotations []Annotation `json:"annotations"`
}

// newDataset returns an empty dataset whose slices encode as empty JSON arrays.
func newDataset(info Info, licenses []License) *Dataset {
	if licenses == nil {
		licenses = []License{}
	}
	return &Dataset{
		Info:        info,
		Licenses:    licenses,
		Categories:  []Category{},
		Names:       []string{},
		Images:      []Image{},
		Annotations: []Annotation{},
	}
}

// addCategory appends a category with the next dense id.
func (ds *Dataset) addCategory(name, supercategory string) {
	if supercategory == "" {
		supercategory = "none"
	}
	ds.Categories = append(ds.Categories,
		Category{ID: len(ds.Categories), Name: name, Supercategory: supercategory})
	ds.Names = append(ds.Names, name)
	ds.NC = len(ds.Categories)
}

// AnnotationsByImage groups the annotations by image id, preserving their order.
func (ds *Dataset) AnnotationsByImage() map[int][]Annotation {
	m := make(map[int][]Annotation, len(ds.Images))
	for _, a := range ds.Annotations {
		m[a.ImageID] = append(m[a.ImageID], a)
	}
	return m
}

// CheckIntegrity verifies the dense id and referential invariants of a normalized dataset.
func (ds *Dataset) CheckIntegrity() error {
	if len(ds.Names) != len(ds.Categories) || ds.NC != len(ds.Categories) {
		return fmt.Errorf("inconsistent class count: nc=%d, %d names, %d categories",
			ds.NC, len(ds.Names), len(ds.Categories))
	}
	for i, c := range ds.Categories {
		if c.ID != i {
			return fmt.Errorf("category %q has id %d at index %d", c.Name, c.ID, i)
		}
	}
	for i, img := range ds.Images {
		if img.ID != i {
			return fmt.Errorf("image %q has id %d at index %d", img.FileName, img.ID, i)
		}
	}
	for _, a := range ds.Annotations {
		if a.ImageID < 0 || a.ImageID >= len(ds.Images) {
			return fmt.Errorf("annotation %d references unknown image %d", a.ID, a.ImageID)
		}
		if a.CategoryID < 0 || a.CategoryID >= len(ds.Categories) {
			return fmt.Errorf("annotation %d references unknown category %d", a.ID, a.CategoryID)
		}
	}
	return nil
}

// RenameCategories replaces category name (sub-)strings with substitution values, as specified in
// mappings. The replacements are applied in order, to both Categories and Names.
//
// The format of mappings is old=new. Returns the number of renamed categories.
func (ds *Dataset) RenameCategories(mappings []string) (int, error) {
	if len(mappings) == 0 {
		return 0, nil
	}

	// Extract the individual old and new strings to map between.
	replacements := make([]struct{ old, new string }, len(mappings))
	for i, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 || a[0] == "" {
			return 0, fmt.Errorf("invalid mapping: %v", v)
		}
		replacements[i].old = a[0]
		replacements[i].new = a[1]
	}

	count := 0
	for i := range ds.Categories {
		c := &ds.Categories[i]
		oldName := c.Name
		for _, r := range replacements {
			c.Name = strings.ReplaceAll(c.Name, r.old, r.new)
		}
		if c.Name != oldName {
			count++
		}
		if i < len(ds.Names) {
			ds.Names[i] = c.Name
		}
	}
	return count, nil
}

// Segmentation is either a list of polygons, each a flat [x1, y1, x2, y2, ...] list of absolute
// coordinates, or a run-length encoded mask. The zero value is an empty segmentation.
type Segmentation struct {
	Polygons [][]float64
	RLE      *RLE
}

// RLE is a COCO run-length encoded mask. Counts is either a list of run lengths or the compressed
// string form.
type RLE struct {
	Counts json.RawMessage `json:"counts"`
	Size   []int           `json:"size"`
}

// errFlatSegmentation reports a segmentation given as a single coordinate list.
var errFlatSegmentation = errors.New("segmentation is a flat coordinate list, want a list of polygons")

// IsEmpty reports whether there is neither a polygon nor a mask.
func (s Segmentation) IsEmpty() bool {
	return s.RLE == nil && len(s.Polygons) == 0
}

// MarshalJSON encodes the mask as an object and polygons as a list of lists.
func (s Segmentation) MarshalJSON() ([]byte, error) {
	if s.RLE != nil {
		return json.Marshal(s.RLE)
	}
	if s.Polygons == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Polygons)
}

// UnmarshalJSON accepts null, a list of polygons or an RLE object.
func (s *Segmentation) UnmarshalJSON(data []byte) error {
	*s = Segmentation{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '{':
		var rle RLE
		if err := json.Unmarshal(data, &rle); err != nil {
			return fmt.Errorf("invalid RLE segmentation: %w", err)
		}
		s.RLE = &rle
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		for _, r := range raw {
			if r = bytes.TrimSpace(r); len(r) > 0 && r[0] != '[' {
				return errFlatSegmentation
			}
		}
		var polygons [][]float64
		if err := json.Unmarshal(data, &polygons); err != nil {
			return fmt.Errorf("invalid polygon segmentation: %w", err)
		}
		if len(polygons) > 0 {
			s.Polygons = polygons
		}
		return nil
	}
	return fmt.Errorf("invalid segmentation %.20s", data)
}
