package userdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantomatic/quanto-client/pkg/model"
)

func TestIntSerializer(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"positive", "42", 42, false},
		{"negative", "-7", -7, false},
		{"padded", " 3 ", 3, false},
		{"not a number", "abc", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntSerializer{}.Decode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointSerializer(t *testing.T) {
	s := PointSerializer{}
	assert.Equal(t, "1.5,-2", s.Encode(Point{X: 1.5, Y: -2}))

	p, err := s.Decode("3, 4.25")
	require.NoError(t, err)
	assert.Equal(t, Point{X: 3, Y: 4.25}, p)

	_, err = s.Decode("3;4")
	assert.Error(t, err)
	_, err = s.Decode("x,4")
	assert.Error(t, err)
	_, err = s.Decode("3,y")
	assert.Error(t, err)
}

func TestAnnotationMapRoundTrip(t *testing.T) {
	original := map[string]string{
		"comment": "spider rule",
		"author":  "core",
		"empty":   "",
		"spaced":  "a b  c",
		"unicode": "αβγ",
	}

	encoded := EncodeMap(original, StringSerializer{})
	decoded, err := DecodeMap(encoded, StringSerializer{})
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	rule := &model.Rule{Name: "r", Annotations: model.NewAnnotations(encoded)}
	assert.Equal(t, original, rule.Annotations.Map())
}

func TestTypedMapRoundTrip(t *testing.T) {
	positions := map[string]Point{"v0": {X: 0, Y: 0}, "v1": {X: 1.25, Y: -3}}
	decoded, err := DecodeMap(EncodeMap(positions, PointSerializer{}), PointSerializer{})
	require.NoError(t, err)
	assert.Equal(t, positions, decoded)

	_, err = DecodeMap(map[string]string{"bad": "nope"}, IntSerializer{})
	assert.ErrorContains(t, err, "key bad")
}

func TestGetSet(t *testing.T) {
	var a model.Annotations

	_, ok, err := Get(&a, "pos", PointSerializer{})
	require.NoError(t, err)
	assert.False(t, ok)

	Set(&a, "pos", Point{X: 2, Y: 5}, PointSerializer{})
	p, ok, err := Get(&a, "pos", PointSerializer{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Point{X: 2, Y: 5}, p)

	a.Set("count", "many")
	_, ok, err = Get(&a, "count", IntSerializer{})
	assert.True(t, ok)
	assert.Error(t, err)
}
