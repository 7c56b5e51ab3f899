package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatReference(t *testing.T) {
	tests := []struct {
		verses []int
		want   string
	}{
		{[]int{1, 2, 3}, "Sl 23:1-3"},
		{[]int{1, 3, 5}, "Sl 23:1,3,5"},
		{[]int{5, 1, 2, 3, 3}, "Sl 23:1-3,5"},
		{[]int{7}, "Sl 23:7"},
		{nil, "Sl 23"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatReference("Sl", 23, tt.verses))
	}
	assert.Equal(t, "Jo 3:16", Inputs{Book: "Jo", Chapter: 3, Verses: []int{16}}.Reference())
}
