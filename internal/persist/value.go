// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package persist attaches externally-owned collections to the host's
// save/load lifecycle. Values are a closed tagged variant so encode and
// decode stay exhaustive; adding a kind without extending both switches is
// a compile-visible gap rather than a silent skip.
package persist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Supported value kinds. This set is closed; the host's save format has no
// representation for anything else.
const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
	KindVec2
	KindVec3
	KindColor
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindVec2:
		return "vec2"
	case KindVec3:
		return "vec3"
	case KindColor:
		return "color"
	default:
		return "unknown"
	}
}

// ParseKind maps a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "bool":
		return KindBool, nil
	case "string":
		return KindString, nil
	case "vec2":
		return KindVec2, nil
	case "vec3":
		return KindVec3, nil
	case "color":
		return KindColor, nil
	default:
		return 0, oops.In("persist").With("kind", s).New("unsupported value kind")
	}
}

// Vec2 is a two-component vector.
type Vec2 struct {
	X, Y float64
}

// Vec3 is a three-component vector.
type Vec3 struct {
	X, Y, Z float64
}

// Color is an RGBA color with components in [0, 1].
type Color struct {
	R, G, B, A float64
}

// Value is one persisted datum. The zero Value is an int zero.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	v2   Vec2
	v3   Vec3
	c    Color
}

// Constructors for each kind.

func Int(v int64) Value      { return Value{kind: KindInt, i: v} }
func Float(v float64) Value  { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, b: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func V2(v Vec2) Value        { return Value{kind: KindVec2, v2: v} }
func V3(v Vec3) Value        { return Value{kind: KindVec3, v3: v} }
func Colored(v Color) Value  { return Value{kind: KindColor, c: v} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Accessors report the held value and whether the kind matched.

func (v Value) Int() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) Bool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) Str() (string, bool)    { return v.s, v.kind == KindString }
func (v Value) Vec2() (Vec2, bool)     { return v.v2, v.kind == KindVec2 }
func (v Value) Vec3() (Vec3, bool)     { return v.v3, v.kind == KindVec3 }
func (v Value) Color() (Color, bool)   { return v.c, v.kind == KindColor }

// Encode renders the value as its wire kind and raw text form.
func (v Value) Encode() (kind, raw string) {
	switch v.kind {
	case KindInt:
		return "int", strconv.FormatInt(v.i, 10)
	case KindFloat:
		return "float", strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return "bool", strconv.FormatBool(v.b)
	case KindString:
		return "string", v.s
	case KindVec2:
		return "vec2", encodeFloats(v.v2.X, v.v2.Y)
	case KindVec3:
		return "vec3", encodeFloats(v.v3.X, v.v3.Y, v.v3.Z)
	case KindColor:
		return "color", encodeFloats(v.c.R, v.c.G, v.c.B, v.c.A)
	default:
		return "unknown", ""
	}
}

// Decode parses a wire kind and raw text form back into a Value.
func Decode(kind, raw string) (Value, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Value{}, err
	}
	wrap := func(err error) error {
		return oops.In("persist").With("kind", kind).With("raw", raw).Wrap(err)
	}
	switch k {
	case KindInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, wrap(err)
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, wrap(err)
		}
		return Float(f), nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, wrap(err)
		}
		return Bool(b), nil
	case KindString:
		return String(raw), nil
	case KindVec2:
		fs, err := decodeFloats(raw, 2)
		if err != nil {
			return Value{}, wrap(err)
		}
		return V2(Vec2{X: fs[0], Y: fs[1]}), nil
	case KindVec3:
		fs, err := decodeFloats(raw, 3)
		if err != nil {
			return Value{}, wrap(err)
		}
		return V3(Vec3{X: fs[0], Y: fs[1], Z: fs[2]}), nil
	case KindColor:
		fs, err := decodeFloats(raw, 4)
		if err != nil {
			return Value{}, wrap(err)
		}
		return Colored(Color{R: fs[0], G: fs[1], B: fs[2], A: fs[3]}), nil
	default:
		return Value{}, oops.In("persist").With("kind", kind).New("unsupported value kind")
	}
}

func encodeFloats(fs ...float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func decodeFloats(raw string, n int) ([]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d components, got %d", n, len(parts))
	}
	fs := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		fs[i] = f
	}
	return fs, nil
}
