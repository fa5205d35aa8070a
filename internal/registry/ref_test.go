package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cleanstep/internal/steperr"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in   string
		want Ref
		str  string
	}{
		{in: "sample.csv", want: Ref{Name: "sample.csv", Alias: "latest"}, str: "sample.csv:latest"},
		{in: "sample.csv:v3", want: Ref{Name: "sample.csv", Version: 3}, str: "sample.csv:v3"},
		{in: " sample.csv:reference ", want: Ref{Name: "sample.csv", Alias: "reference"}, str: "sample.csv:reference"},
		{in: "x:v0", want: Ref{Name: "x", Alias: "v0"}, str: "x:v0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRef(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
		})
	}
}

func TestParseRef_Invalid(t *testing.T) {
	for _, in := range []string{"", ":v1", "a b", "x:", "x:bad alias"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseRef(in)
			assert.ErrorIs(t, err, steperr.ErrNotFound)
		})
	}
}
