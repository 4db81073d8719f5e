package dsconv

// COCO specific functionality.
//
// Archive layout: {split}/_annotations.coco.json plus {split}/{file_name} for each image, for
// the train, valid and test splits.

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

const cocoAnnotationFile = "_annotations.coco.json"

// cocoAnnotationPath is the entry name of the annotation file for split.
func cocoAnnotationPath(split Split) string {
	return string(split) + "/" + cocoAnnotationFile
}

// COCOImage is an image record of a COCO document.
type COCOImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Split    Split  `json:"split,omitempty"`

	// Key identifies the image across all splits of a document; ids are only unique per split.
	// Loading sets it to "{split}_{id}".
	Key     string `json:"-"`
	Content []byte `json:"-"` // The raw encoded image, if found in the source.
	Origin  string `json:"-"` // The source entry the content was read from, if any.
}

func (img COCOImage) key() string {
	if img.Key != "" {
		return img.Key
	}
	return strconv.Itoa(img.ID)
}

// COCOAnnotation is an annotation record of a COCO document.
type COCOAnnotation struct {
	ID           int          `json:"id"`
	ImageID      *int         `json:"image_id,omitempty"` // Nil if the source omitted it.
	CategoryID   int          `json:"category_id"`
	BBox         BBox         `json:"bbox"`
	Segmentation Segmentation `json:"segmentation"`
	Area         float64      `json:"area"`
	IsCrowd      int          `json:"iscrowd"`

	// ImageKey is the COCOImage.Key of the annotated image.
	ImageKey string `json:"-"`
}

// imageKey returns the key of the annotated image, or false if there is no image id.
func (a COCOAnnotation) imageKey() (string, bool) {
	if a.ImageKey != "" {
		return a.ImageKey, true
	}
	if a.ImageID == nil {
		return "", false
	}
	return strconv.Itoa(*a.ImageID), true
}

// COCODocument is a COCO dataset merged from all splits.
type COCODocument struct {
	Info        map[string]any   `json:"info"`
	Licenses    []License        `json:"licenses"`
	Categories  []Category       `json:"categories"`
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
}

// Format implements Document.
func (*COCODocument) Format() Format { return FormatCOCO }

// MarshalJSON encodes nil collections as empty ones.
func (d *COCODocument) MarshalJSON() ([]byte, error) {
	type plain COCODocument
	p := plain(*d)
	if p.Info == nil {
		p.Info = map[string]any{}
	}
	if p.Licenses == nil {
		p.Licenses = []License{}
	}
	if p.Categories == nil {
		p.Categories = []Category{}
	}
	if p.Images == nil {
		p.Images = []COCOImage{}
	}
	if p.Annotations == nil {
		p.Annotations = []COCOAnnotation{}
	}
	return json.Marshal(p)
}

// cocoFile is the content of a single _annotations.coco.json file.
type cocoFile struct {
	Info     map[string]any `json:"info"`
	Licenses []struct {
		ID   jsonInt `json:"id"`
		Name string  `json:"name"`
		URL  string  `json:"url"`
	} `json:"licenses"`
	Categories []struct {
		ID            jsonInt `json:"id"`
		Name          string  `json:"name"`
		Supercategory string  `json:"supercategory"`
	} `json:"categories"`
	Images []struct {
		ID       jsonInt `json:"id"`
		FileName string  `json:"file_name"`
		Width    jsonInt `json:"width"`
		Height   jsonInt `json:"height"`
	} `json:"images"`
	Annotations []struct {
		ID           jsonInt         `json:"id"`
		ImageID      *jsonInt        `json:"image_id"`
		CategoryID   jsonInt         `json:"category_id"`
		BBox         BBox            `json:"bbox"`
		Segmentation json.RawMessage `json:"segmentation"`
		Area         float64         `json:"area"`
		IsCrowd      jsonInt         `json:"iscrowd"`
	} `json:"annotations"`
}

// jsonInt is an integer that may be encoded as an integral JSON number, e.g. 640 or 640.0.
type jsonInt int

func (n *jsonInt) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("%s is not an integer", data)
	}
	*n = jsonInt(f)
	return nil
}

// COCOConvertor implements Convertor for COCO datasets.
type COCOConvertor struct {
	opts options
}

// NewCOCOConvertor returns a COCO convertor.
func NewCOCOConvertor(opts ...Option) (*COCOConvertor, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	return &COCOConvertor{opts: o}, nil
}

// Format implements Convertor.
func (c *COCOConvertor) Format() Format { return FormatCOCO }

// Load reads {split}/_annotations.coco.json for each split and merges the splits into a single
// document.
//
// Missing or non-conforming annotation files skip their split, and missing image files leave the
// image without content; both are recorded in report. Categories, info and licenses are taken
// from the first split that defines them.
func (c *COCOConvertor) Load(src Source, report *Report) (_ Document, err error) {
	entries, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer closeWithErrCheck(entries, &err)

	rep := report.stage(FormatCOCO, StageLoad)
	doc := &COCODocument{
		Info:        map[string]any{},
		Licenses:    []License{},
		Categories:  []Category{},
		Images:      []COCOImage{},
		Annotations: []COCOAnnotation{},
	}
	var categorySplit Split

	for _, split := range Splits() {
		path := cocoAnnotationPath(split)
		if !entries.Has(path) {
			rep.warnf(split, path, "annotation file not found, skipping split")
			continue
		}
		data, err := entries.ReadEntry(path)
		if err != nil {
			return nil, err
		}

		// Validate the structure before merging.
		if err := c.opts.validator.ValidateJSON(SchemaCOCO, data); err != nil {
			rep.warnf(split, path, "skipping split: %v", err)
			continue
		}
		var f cocoFile
		if err := json.Unmarshal(data, &f); err != nil {
			rep.warnf(split, path, "skipping split: failed to parse: %v", err)
			continue
		}

		categories := make([]Category, len(f.Categories))
		for i, cat := range f.Categories {
			categories[i] = Category{ID: int(cat.ID), Name: cat.Name, Supercategory: cat.Supercategory}
		}

		// Take the dataset-level metadata once.
		if len(doc.Categories) == 0 && len(categories) > 0 {
			doc.Categories = append(doc.Categories, categories...)
			categorySplit = split
		} else if len(categories) > 0 && !reflect.DeepEqual(doc.Categories, categories) {
			rep.warnf(split, path, "category definitions differ from the %s split, keeping those of"+
				" the %s split", categorySplit, categorySplit)
		}
		if len(doc.Info) == 0 && len(f.Info) > 0 {
			doc.Info = f.Info
		}
		if len(doc.Licenses) == 0 {
			for _, l := range f.Licenses {
				doc.Licenses = append(doc.Licenses, License{ID: int(l.ID), Name: l.Name, URL: l.URL})
			}
		}

		for _, img := range f.Images {
			image := COCOImage{
				ID:       int(img.ID),
				FileName: img.FileName,
				Width:    int(img.Width),
				Height:   int(img.Height),
				Split:    split,
				Key:      cocoImageKey(split, int(img.ID)),
			}
			imagePath := string(split) + "/" + img.FileName
			if entries.Has(imagePath) {
				content, err := entries.ReadEntry(imagePath)
				if err != nil {
					rep.warnf(split, imagePath, "cannot read image: %v", err)
				} else {
					image.Content = content
					image.Origin = imagePath
				}
			} else {
				rep.warnf(split, imagePath, "image file not found in the source")
			}
			doc.Images = append(doc.Images, image)
		}

		for _, a := range f.Annotations {
			ann := COCOAnnotation{
				ID:         int(a.ID),
				CategoryID: int(a.CategoryID),
				BBox:       a.BBox,
				Area:       a.Area,
				IsCrowd:    int(a.IsCrowd),
			}
			if a.ImageID != nil {
				imageID := int(*a.ImageID)
				ann.ImageID = &imageID
				ann.ImageKey = cocoImageKey(split, imageID)
			}
			if len(a.Segmentation) > 0 {
				if err := ann.Segmentation.UnmarshalJSON(a.Segmentation); err != nil {
					rep.warnf(split, fmt.Sprintf("annotation %d", a.ID),
						"dropping malformed segmentation: %v", err)
				}
			}
			doc.Annotations = append(doc.Annotations, ann)
		}

		rep.debug("loaded split", "split", string(split),
			"images", len(f.Images), "annotations", len(f.Annotations))
	}

	return doc, nil
}

// cocoImageKey returns the document-wide image key for an image id of split.
func cocoImageKey(split Split, id int) string {
	return string(split) + "_" + strconv.Itoa(id)
}

// Normalize converts the COCO document to a normalized dataset.
//
// Category and image ids are remapped to dense indices and annotations are renumbered from 1.
// Images without dimensions and annotations referencing unknown images or categories are dropped
// and recorded in report.
func (c *COCOConvertor) Normalize(doc Document, report *Report) (*Dataset, error) {
	d, ok := doc.(*COCODocument)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrDocumentType, doc)
	}
	rep := report.stage(FormatCOCO, StageNormalize)

	ds := newDataset(Info{
		Description: "Converted from COCO",
		DatasetName: "COCO Dataset",
		DatasetType: cocoDatasetType(d),
		DateCreated: c.opts.timestamp(),
	}, append([]License(nil), d.Licenses...))

	categoryIndex := make(map[int]int, len(d.Categories))
	for _, cat := range d.Categories {
		if _, dup := categoryIndex[cat.ID]; dup {
			rep.warnf("", fmt.Sprintf("category %d", cat.ID), "duplicate category id, skipping %q",
				cat.Name)
			continue
		}
		categoryIndex[cat.ID] = len(ds.Categories)
		ds.addCategory(cat.Name, cat.Supercategory)
	}

	imageIndex := make(map[string]int, len(d.Images))
	for _, img := range d.Images {
		if img.Width <= 0 || img.Height <= 0 {
			rep.warnf(img.Split, img.FileName, "image is missing its width or height, skipping")
			continue
		}
		key := img.key()
		if _, dup := imageIndex[key]; dup {
			rep.warnf(img.Split, img.FileName, "duplicate image id %d, skipping", img.ID)
			continue
		}
		split := img.Split
		if !split.Valid() {
			split = SplitTrain
		}
		imageIndex[key] = len(ds.Images)
		ds.Images = append(ds.Images, Image{
			ID:       len(ds.Images),
			FileName: img.FileName,
			Width:    img.Width,
			Height:   img.Height,
			Split:    split,
			Content:  img.Content,
			Origin:   img.Origin,
		})
	}

	for _, a := range d.Annotations {
		subject := fmt.Sprintf("annotation %d", a.ID)
		categoryID, ok := categoryIndex[a.CategoryID]
		if !ok {
			rep.warnf("", subject, "unknown category id %d, skipping", a.CategoryID)
			continue
		}
		key, ok := a.imageKey()
		if !ok {
			rep.warnf("", subject, "missing image_id, skipping")
			continue
		}
		imageID, ok := imageIndex[key]
		if !ok {
			rep.warnf("", subject, "image %s does not exist, skipping", key)
			continue
		}
		ds.Annotations = append(ds.Annotations, Annotation{
			ID:           len(ds.Annotations) + 1,
			ImageID:      imageID,
			CategoryID:   categoryID,
			BBox:         a.BBox,
			Segmentation: a.Segmentation,
			Area:         a.Area,
			IsCrowd:      a.IsCrowd,
			BBoxFormat:   BBoxFormatXYWH,
		})
	}

	ds.Info.Splits = splitNotes(ds)
	if err := c.opts.validator.Validate(SchemaNormalizer, ds); err != nil {
		rep.warnf("", "", "normalized dataset: %v", err)
	}
	return ds, nil
}

// cocoDatasetType classifies the document by whether any annotation has a segmentation.
func cocoDatasetType(d *COCODocument) string {
	for _, a := range d.Annotations {
		if !a.Segmentation.IsEmpty() {
			return DatasetTypeSegmentation
		}
	}
	return DatasetTypeDetection
}

// Convert builds a COCO document from the normalized dataset, validates it and saves it to dst.
func (c *COCOConvertor) Convert(ds *Dataset, dst Destination, report *Report) (Document, error) {
	rep := report.stage(FormatCOCO, StageConvert)

	licenses := append([]License(nil), ds.Licenses...)
	if len(licenses) == 0 {
		licenses = []License{{ID: 1, Name: "Unknown License", URL: ""}}
	}
	doc := &COCODocument{
		Info:        c.infoWithDefaults(ds.Info),
		Licenses:    licenses,
		Categories:  make([]Category, 0, len(ds.Categories)),
		Images:      make([]COCOImage, 0, len(ds.Images)),
		Annotations: make([]COCOAnnotation, 0, len(ds.Annotations)),
	}

	for _, cat := range ds.Categories {
		if cat.Supercategory == "" {
			cat.Supercategory = "none"
		}
		doc.Categories = append(doc.Categories, cat)
	}

	imageSplits := make(map[int]Split, len(ds.Images))
	for _, img := range ds.Images {
		imageSplits[img.ID] = img.Split
		doc.Images = append(doc.Images, COCOImage{
			ID:       img.ID,
			FileName: img.FileName,
			Width:    img.Width,
			Height:   img.Height,
			Split:    img.Split,
			Key:      cocoImageKey(img.Split, img.ID),
			Content:  img.Content,
			Origin:   img.Origin,
		})
	}

	for _, a := range ds.Annotations {
		split, ok := imageSplits[a.ImageID]
		if !ok {
			rep.warnf("", fmt.Sprintf("annotation %d", a.ID), "image %d does not exist, skipping",
				a.ImageID)
			continue
		}
		imageID := a.ImageID
		doc.Annotations = append(doc.Annotations, COCOAnnotation{
			ID:           len(doc.Annotations) + 1,
			ImageID:      &imageID,
			CategoryID:   a.CategoryID,
			BBox:         a.BBox,
			Segmentation: a.Segmentation,
			Area:         a.Area,
			IsCrowd:      a.IsCrowd,
			ImageKey:     cocoImageKey(split, a.ImageID),
		})
	}

	if err := c.opts.validator.Validate(SchemaCOCO, doc); err != nil {
		return nil, err
	}
	if err := c.Save(doc, dst, report); err != nil {
		return nil, err
	}
	return doc, nil
}

// infoWithDefaults returns the COCO info object for info, filling in missing fields.
func (c *COCOConvertor) infoWithDefaults(info Info) map[string]any {
	orDefault := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return map[string]any{
		"description":  orDefault(info.Description, "Converted Dataset"),
		"dataset_name": orDefault(info.DatasetName, "Converted Dataset"),
		"dataset_type": orDefault(info.DatasetType, DatasetTypeDetection),
		"date_created": orDefault(info.DateCreated, c.opts.timestamp()),
	}
}

// cocoSplitFile is the content written to {split}/_annotations.coco.json.
type cocoSplitFile struct {
	Info        map[string]any   `json:"info"`
	Licenses    []License        `json:"licenses"`
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []Category       `json:"categories"`
}

// Save validates the document and writes one annotation file per split along with the image
// content into the destination archive. Splits without images are skipped.
func (c *COCOConvertor) Save(doc Document, dst Destination, report *Report) (err error) {
	d, ok := doc.(*COCODocument)
	if !ok {
		return fmt.Errorf("%w: %T", ErrDocumentType, doc)
	}
	rep := report.stage(FormatCOCO, StageSave)

	if err := c.opts.validator.Validate(SchemaCOCO, d); err != nil {
		return err
	}

	w, err := dst.create()
	if err != nil {
		return err
	}
	defer w.finish(&err)

	info := make(map[string]any, len(d.Info)+4)
	for k, v := range d.Info {
		info[k] = v
	}
	for k, v := range c.infoWithDefaults(Info{}) {
		if s, ok := info[k].(string); !ok || s == "" {
			info[k] = v
		}
	}
	licenses := d.Licenses
	if licenses == nil {
		licenses = []License{}
	}
	categories := make([]Category, 0, len(d.Categories))
	for _, cat := range d.Categories {
		if cat.Supercategory == "" {
			cat.Supercategory = "none"
		}
		categories = append(categories, cat)
	}

	for _, split := range Splits() {
		file := cocoSplitFile{
			Info:        info,
			Licenses:    licenses,
			Images:      []COCOImage{},
			Annotations: []COCOAnnotation{},
			Categories:  categories,
		}
		keys := make(map[string]bool)
		for _, img := range d.Images {
			if img.Split == split {
				file.Images = append(file.Images, img)
				keys[img.key()] = true
			}
		}
		if len(file.Images) == 0 {
			rep.warnf(split, "", "no images found, skipping split")
			continue
		}
		for _, a := range d.Annotations {
			if key, ok := a.imageKey(); ok && keys[key] {
				file.Annotations = append(file.Annotations, a)
			}
		}

		enc, err := json.MarshalIndent(file, "", "    ")
		if err != nil {
			return fmt.Errorf("failed to encode the %s annotations: %w", split, err)
		}
		if _, err := w.put(rep, split, cocoAnnotationPath(split), enc); err != nil {
			return err
		}

		for _, img := range file.Images {
			name := string(split) + "/" + img.FileName
			if len(img.Content) == 0 {
				rep.warnf(split, name, "no image content, image not saved")
				continue
			}
			if _, err := w.put(rep, split, name, img.Content); err != nil {
				return err
			}
		}
		rep.debug("saved split", "split", string(split),
			"images", len(file.Images), "annotations", len(file.Annotations))
	}

	return nil
}
