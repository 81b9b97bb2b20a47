package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Pattern
	}{
		{
			name: "type only",
			in:   "Scan",
			want: Pattern{Type: "Scan"},
		},
		{
			name: "plain and quoted values",
			in:   `Scan identifier=toy_V1_s1_t1 label="T1 weighted"`,
			want: Pattern{Type: "Scan", Attrs: map[string]any{"identifier": "toy_V1_s1_t1", "label": "T1 weighted"}},
		},
		{
			name: "typed scalars",
			in:   `MRIData voxelResX=1 isotropic=true tag="12"`,
			want: Pattern{Type: "MRIData", Attrs: map[string]any{"voxelResX": 1.0, "isotropic": true, "tag": "12"}},
		},
		{
			name: "escaped quote",
			in:   `Scan label="a \"b\""`,
			want: Pattern{Type: "Scan", Attrs: map[string]any{"label": `a "b"`}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePattern(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePattern_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		`"Scan"`,
		"identifier=x",
		"Scan identifier",
		`Scan label="open`,
		`Scan "dangling"`,
	} {
		_, err := ParsePattern(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestPattern_StringRoundTrip(t *testing.T) {
	p := Pattern{Type: "Scan", Attrs: map[string]any{"label": "T1 w", "voxelResX": 2.0}}
	assert.Equal(t, `Scan label="T1 w" voxelResX=2`, p.String())

	back, err := ParsePattern(p.String())
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, ValueEqual(1, 1.0))
	assert.True(t, ValueEqual(int64(3), 3.0))
	assert.True(t, ValueEqual("a", "a"))
	assert.True(t, ValueEqual(nil, nil))
	assert.False(t, ValueEqual(nil, ""))
	assert.False(t, ValueEqual(1, 2))
	assert.True(t, ValueEqual("12", 12.0), "text and numbers compare by rendering")
}
