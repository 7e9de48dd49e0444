package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrdering(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []DBOrdering
	}{
		{name: "empty", in: "", want: nil},
		{name: "ascending", in: "score", want: []DBOrdering{{Field: "score", Ascending: true}}},
		{name: "descending", in: "-created_at", want: []DBOrdering{{Field: "created_at"}}},
		{
			name: "list",
			in:   " -Created_At, score ,,-",
			want: []DBOrdering{{Field: "created_at"}, {Field: "score", Ascending: true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOrdering(tt.in))
		})
	}
}

func TestDBOrdering_String(t *testing.T) {
	assert.Equal(t, "score ASC", DBOrdering{Field: "score", Ascending: true}.String())
	assert.Equal(t, "created_at DESC", DBOrdering{Field: "created_at"}.String())
}
