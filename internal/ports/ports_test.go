package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []uint16
		wantErr bool
	}{
		{name: "empty", spec: "", want: []uint16{}},
		{name: "single", spec: "22", want: []uint16{22}},
		{name: "list is sorted", spec: "443,80,22", want: []uint16{22, 80, 443}},
		{name: "whitespace separated", spec: "8080 443\t80", want: []uint16{80, 443, 8080}},
		{name: "range", spec: "8080-8083", want: []uint16{8080, 8081, 8082, 8083}},
		{name: "mixed with duplicates", spec: "80,79-81,80", want: []uint16{79, 80, 81}},
		{name: "ranges out of order", spec: "9000-9002,22,8000", want: []uint16{22, 8000, 9000, 9001, 9002}},
		{name: "upper bound", spec: "65535", want: []uint16{65535}},
		{name: "zero", spec: "0", wantErr: true},
		{name: "too large", spec: "65536", wantErr: true},
		{name: "missing range end", spec: "80-", wantErr: true},
		{name: "reversed range", spec: "90-80", wantErr: true},
		{name: "garbage", spec: "http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("1-") })
	assert.Equal(t, []uint16{80, 443}, MustParse("80,443"))
}

func TestFormatRanges(t *testing.T) {
	tests := []struct {
		numbers []int
		want    string
	}{
		{nil, ""},
		{[]int{80}, "80"},
		{[]int{80, 443}, "80,443"},
		{[]int{80, 81}, "80,81"},
		{[]int{80, 443, 8080, 8081, 8082}, "80,443,8080-8082"},
		{[]int{1, 2, 3, 5, 6, 9}, "1-3,5,6,9"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRanges(tt.numbers))
		})
	}
}
