// Package userdata converts the string-valued annotation fields exchanged
// with the core to and from typed values.
package userdata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quantomatic/quanto-client/pkg/model"
)

// Serializer converts one value type to its wire string and back.
type Serializer[T any] interface {
	Encode(v T) string
	Decode(s string) (T, error)
}

// StringSerializer passes strings through unchanged.
type StringSerializer struct{}

func (StringSerializer) Encode(v string) string { return v }

func (StringSerializer) Decode(s string) (string, error) { return s, nil }

// IntSerializer stores integers in base 10.
type IntSerializer struct{}

func (IntSerializer) Encode(v int) string { return strconv.Itoa(v) }

func (IntSerializer) Decode(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("decode int user data %q: %w", s, err)
	}
	return v, nil
}

// Point is a 2-D coordinate, typically a vertex position.
type Point struct {
	X float64
	Y float64
}

// PointSerializer stores points as "x,y".
type PointSerializer struct{}

func (PointSerializer) Encode(p Point) string {
	return strconv.FormatFloat(p.X, 'g', -1, 64) + "," + strconv.FormatFloat(p.Y, 'g', -1, 64)
}

func (PointSerializer) Decode(s string) (Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("decode point user data %q: missing comma", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return Point{}, fmt.Errorf("decode point user data %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return Point{}, fmt.Errorf("decode point user data %q: %w", s, err)
	}
	return Point{X: x, Y: y}, nil
}

// EncodeMap renders every value of m with s.
func EncodeMap[T any](m map[string]T, s Serializer[T]) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = s.Encode(v)
	}
	return out
}

// DecodeMap parses every value of m with s. The first failing key aborts
// the decode.
func DecodeMap[T any](m map[string]string, s Serializer[T]) (map[string]T, error) {
	out := make(map[string]T, len(m))
	for k, raw := range m {
		v, err := s.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Get reads key from a and decodes it with s.
func Get[T any](a *model.Annotations, key string, s Serializer[T]) (T, bool, error) {
	var zero T
	raw, ok := a.Get(key)
	if !ok {
		return zero, false, nil
	}
	v, err := s.Decode(raw)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// Set encodes v with s and stores it under key.
func Set[T any](a *model.Annotations, key string, v T, s Serializer[T]) {
	a.Set(key, s.Encode(v))
}
