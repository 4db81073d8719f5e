package dsconv

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataset_RenameCategories(t *testing.T) {
	ds := newDataset(Info{}, nil)
	ds.addCategory("small car", "")
	ds.addCategory("truck", "vehicle")
	ds.addCategory("small bus", "")

	n, err := ds.RenameCategories([]string{"small =", "bus=coach"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"car", "truck", "coach"}, ds.Names)
	assert.Equal(t, "coach", ds.Categories[2].Name)
	assert.Equal(t, "none", ds.Categories[0].Supercategory)
	assert.Equal(t, "vehicle", ds.Categories[1].Supercategory)

	_, err = ds.RenameCategories([]string{"a=b=c"})
	assert.Error(t, err)
	_, err = ds.RenameCategories([]string{"=x"})
	assert.Error(t, err)
}

func TestDataset_CheckIntegrity(t *testing.T) {
	valid := func() *Dataset {
		ds := newDataset(Info{}, nil)
		ds.addCategory("cat", "")
		ds.Images = append(ds.Images, Image{ID: 0, FileName: "a.jpg", Width: 1, Height: 1, Split: SplitTrain})
		ds.Annotations = append(ds.Annotations, Annotation{ID: 1, ImageID: 0, CategoryID: 0})
		return ds
	}
	require.NoError(t, valid().CheckIntegrity())

	tests := []struct {
		name   string
		modify func(ds *Dataset)
	}{
		{"class count", func(ds *Dataset) { ds.NC = 2 }},
		{"sparse category id", func(ds *Dataset) { ds.Categories[0].ID = 3 }},
		{"sparse image id", func(ds *Dataset) { ds.Images[0].ID = 1 }},
		{"unknown image", func(ds *Dataset) { ds.Annotations[0].ImageID = 1 }},
		{"unknown category", func(ds *Dataset) { ds.Annotations[0].CategoryID = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := valid()
			tt.modify(ds)
			assert.Error(t, ds.CheckIntegrity())
		})
	}
}

func TestSegmentation_JSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Segmentation
		out     string
		wantErr error
	}{
		{name: "null", in: `null`, out: `[]`},
		{name: "empty", in: `[]`, out: `[]`},
		{
			name: "polygons",
			in:   `[[1,2,3,4,5,6],[7,8,9,10,11,12]]`,
			want: Segmentation{Polygons: [][]float64{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10, 11, 12}}},
			out:  `[[1,2,3,4,5,6],[7,8,9,10,11,12]]`,
		},
		{
			name: "rle",
			in:   `{"counts": [0, 5, 3], "size": [2, 4]}`,
			want: Segmentation{RLE: &RLE{Counts: json.RawMessage(`[0, 5, 3]`), Size: []int{2, 4}}},
			out:  `{"counts":[0,5,3],"size":[2,4]}`,
		},
		{name: "flat list", in: `[1, 2, 3, 4, 5, 6]`, wantErr: errFlatSegmentation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Segmentation
			err := json.Unmarshal([]byte(tt.in), &s)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
			assert.Equal(t, tt.want.IsEmpty(), s.IsEmpty())

			out, err := json.Marshal(s)
			require.NoError(t, err)
			assert.JSONEq(t, tt.out, string(out))
		})
	}
}

func TestBBox_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(Annotation{ID: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"image_id":0,"category_id":0,"bbox":[],"segmentation":[],"area":0,`+
		`"iscrowd":0,"bbox_format":""}`, string(out))
}
