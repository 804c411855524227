// Copyright 2023 The Appeal Authors.

package appeal

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Leaf parsing. Every converter that consumes a single token — a primitive
// field, a oneof choice, a comma-joined slice option, or a function
// registered with RegisterParser — is represented by the same unit, a
// leafParser. The tree builder asks leafFor for one and never branches on
// the field's type again.

// parseFunc is the type of functions that parse a single token into a value.
type parseFunc func(string) (interface{}, error)

// leafParser converts one token into a value of type out.
type leafParser struct {
	fn  parseFunc
	out reflect.Type
}

func (l *leafParser) parse(s string) (interface{}, error) { return l.fn(s) }

var (
	durationType = reflect.TypeOf(time.Duration(0))
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

// leafFor builds the leaf parser for type t, honoring a oneof choice list.
// Slice types parse a whole comma-separated list from one token, the way a
// flag package treats repeatable values.
func leafFor(t reflect.Type, choices []string) (*leafParser, error) {
	if choices != nil {
		if t.Kind() != reflect.String {
			return nil, fmt.Errorf("oneof must be string type, not %s", t)
		}
		return &leafParser{out: t, fn: func(s string) (interface{}, error) {
			if err := checkOneof(s, choices); err != nil {
				return nil, err
			}
			return s, nil
		}}, nil
	}
	if t == durationType {
		return &leafParser{out: t, fn: func(s string) (interface{}, error) {
			return time.ParseDuration(s)
		}}, nil
	}
	if t.Kind() == reflect.Slice {
		elem, err := leafFor(t.Elem(), nil)
		if err != nil {
			return nil, err
		}
		return &leafParser{out: t, fn: func(s string) (interface{}, error) {
			parts := strings.Split(s, ",")
			slice := reflect.MakeSlice(t, len(parts), len(parts))
			for i, part := range parts {
				part = strings.TrimSpace(part)
				v, err := elem.parse(part)
				if err != nil {
					return nil, fmt.Errorf("%q: %v", part, err)
				}
				slice.Index(i).Set(reflect.ValueOf(v))
			}
			return slice.Interface(), nil
		}}, nil
	}
	if !scalarKind(t.Kind()) {
		return nil, fmt.Errorf("cannot parse string into %s", t)
	}
	return &leafParser{out: t, fn: func(s string) (interface{}, error) {
		return parseScalar(t, s)
	}}, nil
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

// parseScalar converts one token to the scalar type t. Numeric kinds parse
// at the field's own width, so out-of-range values fail here rather than
// silently truncating.
func parseScalar(t reflect.Type, s string) (interface{}, error) {
	var v interface{}
	var err error
	switch k := t.Kind(); {
	case k == reflect.String:
		v = s
	case k == reflect.Bool:
		v, err = strconv.ParseBool(s)
	case k >= reflect.Int && k <= reflect.Int64:
		v, err = strconv.ParseInt(s, 10, t.Bits())
	case k >= reflect.Uint && k <= reflect.Uintptr:
		v, err = strconv.ParseUint(s, 10, t.Bits())
	case k == reflect.Float32 || k == reflect.Float64:
		v, err = strconv.ParseFloat(s, t.Bits())
	case k == reflect.Complex64 || k == reflect.Complex128:
		v, err = strconv.ParseComplex(s, t.Bits())
	default:
		return nil, fmt.Errorf("cannot parse string into %s", t)
	}
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(v).Convert(t).Interface(), nil
}

func checkOneof(s string, choices []string) error {
	for _, c := range choices {
		if s == c {
			return nil
		}
	}
	return fmt.Errorf("%q must be one of: %s", s, strings.Join(choices, ", "))
}

// registeredLeaf wraps a user function from RegisterParser, selected by the
// parse= tag key. The function has the shape func(string) (T, error); T
// must be assignable to the field.
func registeredLeaf(name string, fn interface{}) (*leafParser, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.In(0).Kind() != reflect.String ||
		t.NumOut() != 2 || !t.Out(1).Implements(errorType) {
		return nil, configErrorf("parser %q must be a func(string) (T, error), not %T", name, fn)
	}
	return &leafParser{
		out: t.Out(0),
		fn: func(s string) (interface{}, error) {
			out := v.Call([]reflect.Value{reflect.ValueOf(s)})
			if !out[1].IsNil() {
				return nil, out[1].Interface().(error)
			}
			return out[0].Interface(), nil
		},
	}, nil
}
