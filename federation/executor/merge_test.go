package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergeValue(t *testing.T) {
	tests := []struct {
		name string
		dst  interface{}
		src  interface{}
		want interface{}
	}{
		{
			name: "nil target is replaced",
			dst:  nil,
			src:  map[string]interface{}{"a": 1},
			want: map[string]interface{}{"a": 1},
		},
		{
			name: "scalar keeps the first value",
			dst:  "table",
			src:  "chair",
			want: "table",
		},
		{
			name: "objects merge key-wise",
			dst:  map[string]interface{}{"id": "1", "details": map[string]interface{}{"name": "Table"}},
			src:  map[string]interface{}{"price": 10, "details": map[string]interface{}{"weight": 4}},
			want: map[string]interface{}{
				"id":    "1",
				"price": 10,
				"details": map[string]interface{}{
					"name":   "Table",
					"weight": 4,
				},
			},
		},
		{
			name: "equal-length lists merge element-wise",
			dst:  []interface{}{map[string]interface{}{"id": "1"}, map[string]interface{}{"id": "2"}},
			src:  []interface{}{map[string]interface{}{"name": "Table"}, map[string]interface{}{"name": "Chair"}},
			want: []interface{}{
				map[string]interface{}{"id": "1", "name": "Table"},
				map[string]interface{}{"id": "2", "name": "Chair"},
			},
		},
		{
			name: "length mismatch keeps the first list",
			dst:  []interface{}{"a", "b"},
			src:  []interface{}{"c"},
			want: []interface{}{"a", "b"},
		},
		{
			name: "kind mismatch keeps the first value",
			dst:  map[string]interface{}{"id": "1"},
			src:  []interface{}{"x"},
			want: map[string]interface{}{"id": "1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeValue(tt.dst, tt.src)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mergeValue mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
