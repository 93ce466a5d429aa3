package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIfMatch(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int64
		isNil  bool
	}{
		{name: "bare number", header: "3", want: 3},
		{name: "quoted", header: `"12"`, want: 12},
		{name: "weak validator", header: `W/"7"`, want: 7},
		{name: "surrounding junk", header: `etag-v42-final`, want: 42},
		{name: "empty", header: "", isNil: true},
		{name: "no digits", header: `"abc"`, isNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseIfMatch(tt.header)
			if tt.isNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}
