package dsconv

// YOLO specific functionality.
//
// Archive layout: data.yaml at the root, plus {split}/images/{file_name} and
// {split}/labels/{stem}.txt for each image. A label file has one object per line, either
// "class cx cy w h" or "class x1 y1 x2 y2 ...", with all coordinates normalized to [0, 1].

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
)

// YOLOAnnotation is a single label line.
type YOLOAnnotation struct {
	ClassID int     `json:"class_id"`
	CX      float64 `json:"cx"`
	CY      float64 `json:"cy"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`

	// Segmentation is the normalized [x1, y1, x2, y2, ...] polygon of a polygon line. The box
	// fields then hold the bounds of the polygon.
	Segmentation []float64 `json:"segmentation,omitempty"`
}

// YOLOImage is an image with its labels.
type YOLOImage struct {
	FileName string `json:"file_name"`
	Split    Split  `json:"split"`

	// Width and Height are known when the document was converted from a normalized dataset.
	// Loaded documents leave them zero.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	Content     []byte           `json:"-"`
	Origin      string           `json:"-"`
	Annotations []YOLOAnnotation `json:"annotations"`
}

// YOLODocument is a YOLO dataset merged from all splits.
type YOLODocument struct {
	Images     []YOLOImage `json:"images"`
	ClassNames []string    `json:"class_names"`
	Licenses   []License   `json:"licenses"`
}

// Format implements Document.
func (*YOLODocument) Format() Format { return FormatYOLO }

// MarshalJSON encodes nil collections as empty ones.
func (d *YOLODocument) MarshalJSON() ([]byte, error) {
	type plain YOLODocument
	p := plain(*d)
	p.Images = make([]YOLOImage, len(d.Images))
	for i, img := range d.Images {
		if img.Annotations == nil {
			img.Annotations = []YOLOAnnotation{}
		}
		p.Images[i] = img
	}
	if p.ClassNames == nil {
		p.ClassNames = []string{}
	}
	if p.Licenses == nil {
		p.Licenses = []License{}
	}
	return json.Marshal(p)
}

// YOLOConvertor implements Convertor for YOLO datasets.
type YOLOConvertor struct {
	opts options
}

// NewYOLOConvertor returns a YOLO convertor.
func NewYOLOConvertor(opts ...Option) (*YOLOConvertor, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	return &YOLOConvertor{opts: o}, nil
}

// Format implements Convertor.
func (c *YOLOConvertor) Format() Format { return FormatYOLO }

// Load reads data.yaml and the images and label files of each split.
//
// An image without a label file has no annotations. Unparseable label lines are skipped, and a
// split that does not conform to the YOLO schema is skipped entirely; both are recorded in report.
func (c *YOLOConvertor) Load(src Source, report *Report) (_ Document, err error) {
	entries, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer closeWithErrCheck(entries, &err)

	rep := report.stage(FormatYOLO, StageLoad)
	doc := &YOLODocument{Images: []YOLOImage{}, ClassNames: []string{}, Licenses: []License{}}

	var meta dataYAML
	if entries.Has(dataYAMLFile) {
		data, err := entries.ReadEntry(dataYAMLFile)
		if err != nil {
			return nil, err
		}
		if meta, err = parseDataYAML(data); err != nil {
			rep.warnf("", dataYAMLFile, "ignoring unparseable file: %v", err)
		}
		licenseName := meta.License
		if licenseName == "" {
			licenseName = "Unknown License"
		}
		doc.Licenses = []License{{ID: 1, Name: licenseName, URL: meta.LicenseURL}}
	} else {
		rep.warnf("", dataYAMLFile, "file not found, class names are unknown")
	}
	if len(meta.Names) > 0 {
		doc.ClassNames = meta.Names
	}

	bySplit := make(map[Split][]string)
	for _, name := range entries.Entries() {
		dir, _, _ := splitEntryName(name)
		for _, split := range Splits() {
			if dir == string(split)+"/images" && isImageFile(name) {
				bySplit[split] = append(bySplit[split], name)
			}
		}
	}

	for _, split := range Splits() {
		names := bySplit[split]
		if len(names) == 0 {
			rep.warnf(split, string(split)+"/images", "no images found")
			continue
		}
		sort.Strings(names)

		part := YOLODocument{
			Images:     make([]YOLOImage, 0, len(names)),
			ClassNames: doc.ClassNames,
			Licenses:   doc.Licenses,
		}
		for _, name := range names {
			img := YOLOImage{
				FileName:    path.Base(name),
				Split:       split,
				Annotations: []YOLOAnnotation{},
			}
			if content, err := entries.ReadEntry(name); err != nil {
				rep.warnf(split, name, "cannot read image: %v", err)
			} else {
				img.Content, img.Origin = content, name
			}

			labelPath := yoloLabelPath(split, img.FileName)
			if entries.Has(labelPath) {
				data, err := entries.ReadEntry(labelPath)
				if err != nil {
					rep.warnf(split, labelPath, "cannot read label file: %v", err)
				} else {
					img.Annotations = parseLabels(data, split, labelPath, rep)
				}
			}
			part.Images = append(part.Images, img)
		}

		// Validate the structure before merging.
		if err := c.opts.validator.Validate(SchemaYOLO, &part); err != nil {
			rep.warnf(split, "", "skipping split: %v", err)
			continue
		}
		doc.Images = append(doc.Images, part.Images...)
		rep.debug("loaded split", "split", string(split), "images", len(part.Images))
	}

	if len(doc.ClassNames) == 0 {
		maxID := -1
		for _, img := range doc.Images {
			for _, a := range img.Annotations {
				maxID = max(maxID, a.ClassID)
			}
		}
		if maxID >= 0 {
			for id := 0; id <= maxID; id++ {
				doc.ClassNames = append(doc.ClassNames, generatedClassName(id))
			}
			rep.warnf("", dataYAMLFile, "no class names defined, generated %d names", maxID+1)
		}
	}

	return doc, nil
}

// yoloLabelPath is the entry name of the label file of an image.
func yoloLabelPath(split Split, imageFileName string) string {
	return string(split) + "/labels/" + fileStem(imageFileName) + ".txt"
}

// parseLabels parses the lines of a label file. Invalid lines are skipped with a warning.
func parseLabels(data []byte, split Split, name string, rep stageReporter) []YOLOAnnotation {
	annotations := []YOLOAnnotation{}
	s := bufio.NewScanner(bytes.NewReader(data))
	s.Buffer(nil, max(len(data)+1, bufio.MaxScanTokenSize))
	for line := 1; s.Scan(); line++ {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		a, err := parseLabelLine(fields)
		if err != nil {
			rep.warnf(split, fmt.Sprintf("%s:%d", name, line), "skipping label: %v", err)
			continue
		}
		annotations = append(annotations, a)
	}
	if err := s.Err(); err != nil {
		rep.warnf(split, name, "failed to read label file: %v", err)
	}
	return annotations
}

// parseLabelLine parses the whitespace separated fields of a single label line.
func parseLabelLine(fields []string) (YOLOAnnotation, error) {
	if len(fields) < 5 {
		return YOLOAnnotation{}, fmt.Errorf("want at least 5 values, got %d", len(fields))
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return YOLOAnnotation{}, fmt.Errorf("invalid number %q", f)
		}
		values[i] = v
	}
	if values[0] < 0 || values[0] != math.Trunc(values[0]) {
		return YOLOAnnotation{}, fmt.Errorf("invalid class id %q", fields[0])
	}
	classID := int(values[0])

	if len(values) == 5 {
		return YOLOAnnotation{
			ClassID: classID,
			CX:      values[1],
			CY:      values[2],
			Width:   values[3],
			Height:  values[4],
		}, nil
	}

	points := values[1:]
	if len(points)%2 != 0 {
		return YOLOAnnotation{}, fmt.Errorf("odd number of polygon coordinates (%d)", len(points))
	}
	b := polygonExtent(points)
	return YOLOAnnotation{
		ClassID:      classID,
		CX:           b[0] + b[2]/2,
		CY:           b[1] + b[3]/2,
		Width:        b[2],
		Height:       b[3],
		Segmentation: points,
	}, nil
}

// Normalize converts the YOLO document to a normalized dataset.
//
// Image dimensions are taken from the document if known, or else read from the JPEG content.
// Images without content or dimensions are dropped, as are annotations with an unknown class.
func (c *YOLOConvertor) Normalize(doc Document, report *Report) (*Dataset, error) {
	d, ok := doc.(*YOLODocument)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrDocumentType, doc)
	}
	rep := report.stage(FormatYOLO, StageNormalize)

	datasetType := DatasetTypeDetection
outer:
	for _, img := range d.Images {
		for _, a := range img.Annotations {
			if len(a.Segmentation) > 0 {
				datasetType = DatasetTypeSegmentation
				break outer
			}
		}
	}

	ds := newDataset(Info{
		Description: fmt.Sprintf("Converted from YOLO Dataset (%s)", datasetType),
		DatasetName: "YOLO Dataset",
		DatasetType: datasetType,
		DateCreated: c.opts.timestamp(),
	}, append([]License(nil), d.Licenses...))

	for _, name := range d.ClassNames {
		ds.addCategory(name, "none")
	}

	for _, img := range d.Images {
		width, height := img.Width, img.Height
		if width <= 0 || height <= 0 {
			if len(img.Content) == 0 {
				rep.warnf(img.Split, img.FileName, "image has no content, skipping")
				continue
			}
			var err error
			width, height, err = JPEGDimensions(img.Content)
			if err != nil {
				rep.warnf(img.Split, img.FileName, "assuming %dx%d: %v", width, height, err)
			}
		}
		if width <= 0 || height <= 0 {
			rep.warnf(img.Split, img.FileName, "image has a zero width or height, skipping")
			continue
		}

		imageID := len(ds.Images)
		ds.Images = append(ds.Images, Image{
			ID:       imageID,
			FileName: img.FileName,
			Width:    width,
			Height:   height,
			Split:    img.Split,
			Content:  img.Content,
			Origin:   img.Origin,
		})

		for _, a := range img.Annotations {
			if a.ClassID < 0 || a.ClassID >= len(ds.Categories) {
				rep.warnf(img.Split, img.FileName, "unknown class id %d, skipping annotation",
					a.ClassID)
				continue
			}
			ann := Annotation{
				ID:         len(ds.Annotations) + 1,
				ImageID:    imageID,
				CategoryID: a.ClassID,
				BBoxFormat: BBoxFormatXYWH,
			}
			if len(a.Segmentation) > 0 {
				polygon := denormalizePolygon(a.Segmentation, width, height)
				ann.Segmentation = Segmentation{Polygons: [][]float64{polygon}}
				ann.BBox = polygonBounds(polygon)
				ann.Area = polygonArea(polygon)
			} else {
				ann.BBox = yoloToCOCOBox(a.CX, a.CY, a.Width, a.Height, width, height)
				ann.Area = a.Width * a.Height * float64(width) * float64(height)
			}
			ds.Annotations = append(ds.Annotations, ann)
		}
	}

	ds.Info.Splits = splitNotes(ds)
	if err := c.opts.validator.Validate(SchemaNormalizer, ds); err != nil {
		rep.warnf("", "", "normalized dataset: %v", err)
	}
	return ds, nil
}

// Convert builds a YOLO document from the normalized dataset, validates it and saves it to dst.
func (c *YOLOConvertor) Convert(ds *Dataset, dst Destination, report *Report) (Document, error) {
	rep := report.stage(FormatYOLO, StageConvert)

	names := append([]string{}, ds.Names...)
	if len(names) == 0 {
		for _, cat := range ds.Categories {
			names = append(names, cat.Name)
		}
	}
	doc := &YOLODocument{
		Images:     make([]YOLOImage, 0, len(ds.Images)),
		ClassNames: names,
		Licenses:   append([]License{}, ds.Licenses...),
	}

	byImage := ds.AnnotationsByImage()
	for _, img := range ds.Images {
		yi := YOLOImage{
			FileName:    img.FileName,
			Split:       img.Split,
			Width:       img.Width,
			Height:      img.Height,
			Content:     img.Content,
			Origin:      img.Origin,
			Annotations: []YOLOAnnotation{},
		}
		if img.Width <= 0 || img.Height <= 0 {
			rep.warnf(img.Split, img.FileName, "image has a zero width or height, labels dropped")
			doc.Images = append(doc.Images, yi)
			continue
		}
		for _, a := range byImage[img.ID] {
			if ya, ok := yoloAnnotation(a, img, rep); ok {
				yi.Annotations = append(yi.Annotations, ya)
			}
		}
		doc.Images = append(doc.Images, yi)
	}

	if err := c.opts.validator.Validate(SchemaYOLO, doc); err != nil {
		return nil, err
	}
	if err := c.Save(doc, dst, report); err != nil {
		return nil, err
	}
	return doc, nil
}

// yoloAnnotation converts a normalized annotation to a label line. Polygons take precedence over
// the bounding box.
func yoloAnnotation(a Annotation, img Image, rep stageReporter) (YOLOAnnotation, bool) {
	subject := fmt.Sprintf("annotation %d", a.ID)

	var polygon []float64
	for _, p := range a.Segmentation.Polygons {
		polygon = append(polygon, p...)
	}
	switch {
	case len(polygon) >= 6 && len(polygon)%2 == 0:
		box := a.BBox
		if !a.HasBBox() {
			box = polygonExtent(polygon)
		}
		cx, cy, w, h := cocoToYOLOBox(box, img.Width, img.Height)
		return YOLOAnnotation{
			ClassID:      a.CategoryID,
			CX:           cx,
			CY:           cy,
			Width:        w,
			Height:       h,
			Segmentation: normalizePolygon(polygon, img.Width, img.Height),
		}, true
	case len(polygon) > 0 && a.HasBBox():
		rep.warnf(img.Split, subject, "degenerate polygon, using the bounding box")
	case a.Segmentation.RLE != nil && a.HasBBox():
		rep.warnf(img.Split, subject, "mask segmentation cannot be represented, using the bounding box")
	case !a.HasBBox():
		rep.warnf(img.Split, subject, "annotation has neither a bounding box nor a polygon, skipping")
		return YOLOAnnotation{}, false
	}

	cx, cy, w, h := cocoToYOLOBox(a.BBox, img.Width, img.Height)
	return YOLOAnnotation{ClassID: a.CategoryID, CX: cx, CY: cy, Width: w, Height: h}, true
}

// formatLabelLine encodes the annotation as a label file line.
func formatLabelLine(a YOLOAnnotation) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(a.ClassID))
	values := a.Segmentation
	if len(values) == 0 {
		values = []float64{a.CX, a.CY, a.Width, a.Height}
	}
	for _, v := range values {
		fmt.Fprintf(&b, " %.6f", v)
	}
	return b.String()
}

// Save validates the document and writes data.yaml, the images and their label files into the
// destination archive.
func (c *YOLOConvertor) Save(doc Document, dst Destination, report *Report) (err error) {
	d, ok := doc.(*YOLODocument)
	if !ok {
		return fmt.Errorf("%w: %T", ErrDocumentType, doc)
	}
	rep := report.stage(FormatYOLO, StageSave)

	if err := c.opts.validator.Validate(SchemaYOLO, d); err != nil {
		return err
	}

	w, err := dst.create()
	if err != nil {
		return err
	}
	defer w.finish(&err)

	meta, err := marshalDataYAML(d.ClassNames)
	if err != nil {
		return err
	}
	if _, err := w.put(rep, "", dataYAMLFile, meta); err != nil {
		return err
	}

	for _, img := range d.Images {
		imagePath := string(img.Split) + "/images/" + img.FileName
		if len(img.Content) == 0 {
			rep.warnf(img.Split, imagePath, "no image content, image not saved")
		} else if _, err := w.put(rep, img.Split, imagePath, img.Content); err != nil {
			return err
		}

		labelPath := yoloLabelPath(img.Split, img.FileName)
		var labels bytes.Buffer
		for _, a := range img.Annotations {
			labels.WriteString(formatLabelLine(a))
			labels.WriteByte('\n')
		}
		if labels.Len() == 0 {
			rep.warnf(img.Split, labelPath, "no annotations, writing an empty label file")
		}
		if _, err := w.put(rep, img.Split, labelPath, labels.Bytes()); err != nil {
			return err
		}
	}

	rep.debug("saved dataset", "images", len(d.Images), "entries", w.Len())
	return nil
}
