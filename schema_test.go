package dsconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateJSON(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name   string
		schema SchemaName
		doc    string
		valid  bool
	}{
		{"coco minimal", SchemaCOCO, `{"images": [], "annotations": [], "categories": []}`, true},
		{"coco missing categories", SchemaCOCO, `{"images": [], "annotations": []}`, false},
		{
			"coco annotation without image id", SchemaCOCO,
			`{"images": [], "annotations": [{"id": 1, "category_id": 1}], "categories": []}`, true,
		},
		{
			"coco bbox of three values", SchemaCOCO,
			`{"images": [], "annotations": [{"id": 1, "category_id": 1, "bbox": [1, 2, 3]}],` +
				` "categories": []}`, false,
		},
		{
			"coco fractional id", SchemaCOCO,
			`{"images": [{"id": 1.5, "file_name": "a.jpg"}], "annotations": [], "categories": []}`,
			false,
		},
		{"yolo minimal", SchemaYOLO, `{"images": [], "class_names": []}`, true},
		{
			"yolo unknown split", SchemaYOLO,
			`{"images": [{"file_name": "a.jpg", "split": "dev", "annotations": []}],` +
				` "class_names": []}`, false,
		},
		{
			"yolo short polygon", SchemaYOLO,
			`{"images": [{"file_name": "a.jpg", "split": "train", "annotations": [{"class_id": 0,` +
				` "cx": 0.5, "cy": 0.5, "width": 0.1, "height": 0.1, "segmentation": [0.1, 0.2]}]}],` +
				` "class_names": ["a"]}`, false,
		},
		{
			"normalizer zero width", SchemaNormalizer,
			`{"info": {}, "licenses": [], "categories": [], "names": [], "nc": 0, "annotations": [],` +
				` "images": [{"id": 0, "file_name": "a.jpg", "width": 0, "height": 10, "split": "train"}]}`,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateJSON(tt.schema, []byte(tt.doc))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, IsSchemaError(err), "got %v", err)
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	v, err := DefaultValidator()
	require.NoError(t, err)

	ds := newDataset(Info{DatasetName: "test"}, nil)
	ds.addCategory("cat", "")
	ds.Images = append(ds.Images, Image{ID: 0, FileName: "a.jpg", Width: 10, Height: 10,
		Split: SplitTrain, Content: []byte{0xFF}})
	ds.Annotations = append(ds.Annotations, Annotation{ID: 1, BBox: BBox{1, 2, 3, 4}, Area: 12,
		BBoxFormat: BBoxFormatXYWH})
	assert.NoError(t, v.Validate(SchemaNormalizer, ds))

	ds.Annotations[0].BBoxFormat = "xyxy"
	err = v.Validate(SchemaNormalizer, ds)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, SchemaNormalizer, schemaErr.Schema)

	assert.Error(t, v.Validate("unknown", ds))
	assert.False(t, IsSchemaError(v.ValidateJSON(SchemaCOCO, []byte("{"))))
}
