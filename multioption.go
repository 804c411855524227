// Copyright 2023 The Appeal Authors.

package appeal

import (
	"fmt"
	"reflect"
)

// The MultiOption runtime. A MultiOption accumulates state across repeated
// uses of the same option. Exactly one state object is created the first
// time the option is used; each further use applies freshly-converted
// opargs to it; at frame finalization it renders the single value bound to
// the parameter. An unused option leaves the parameter at its default and
// never creates a state object.
//
// Three MultiOptions are built in, parameterized by the field's type:
//
//	multi=counter      an integer field; each use adds one
//	multi=accumulator  a slice field; each use appends one element
//	                   (a struct element type takes one oparg per field)
//	multi=mapping      a map field; each use takes a key and a value
//
// Custom MultiOptions are registered with RegisterMultiOption. The
// implementation provides Init and Render, plus an Option method whose
// typed parameters are the opargs:
//
//	type tags struct{ m map[string]bool }
//	func (t *tags) Init(def interface{})            { ... }
//	func (t *tags) Option(name string) error        { ... }
//	func (t *tags) Render() (interface{}, error)    { ... }

// MultiOption is the interface custom accumulating options implement, along
// with an Option method whose parameters declare the opargs.
type MultiOption interface {
	// Init is called once with the parameter's default value, before the
	// first Option call.
	Init(def interface{})
	// Render returns the final value bound to the parameter. Its type must
	// be assignable to the field.
	Render() (interface{}, error)
}

// multiState is the runtime face of one state object.
type multiState interface {
	init(def reflect.Value)
	apply(opargs []reflect.Value) error
	render() (reflect.Value, error)
}

// multiBuilder creates state objects and describes oparg signatures for one
// registered MultiOption kind.
type multiBuilder struct {
	name     string
	fresh    func() MultiOption                       // custom implementations
	builtin  func(t reflect.Type) (multiState, error) // counter, accumulator, mapping
	opargsFn func(t reflect.Type) ([]*parameter, error)
}

func (mb *multiBuilder) build(t reflect.Type) (multiState, error) {
	if mb.builtin != nil {
		return mb.builtin(t)
	}
	return &customState{mo: mb.fresh()}, nil
}

func (mb *multiBuilder) opargsFor(t reflect.Type) ([]*parameter, error) {
	return mb.opargsFn(t)
}

// synthParam makes an oparg parameter with no struct field behind it.
func synthParam(name string, t reflect.Type) (*parameter, error) {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return &parameter{name: name, index: -1, kind: positionalParam, ftype: t, min: -1}, nil
	}
	return nil, fmt.Errorf("oparg %s: %s is not a single-token type", name, t)
}

// counter

type counterState struct {
	n int64
	t reflect.Type
}

func (c *counterState) init(def reflect.Value) { c.n = def.Int() }
func (c *counterState) apply([]reflect.Value) error {
	c.n++
	return nil
}
func (c *counterState) render() (reflect.Value, error) {
	return reflect.ValueOf(c.n).Convert(c.t), nil
}

func counterBuilder() *multiBuilder {
	return &multiBuilder{
		name: "counter",
		builtin: func(t reflect.Type) (multiState, error) {
			switch t.Kind() {
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				return &counterState{t: t}, nil
			}
			return nil, configErrorf("counter needs an integer field, not %s", t)
		},
		opargsFn: func(t reflect.Type) ([]*parameter, error) {
			switch t.Kind() {
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				return nil, nil
			}
			return nil, fmt.Errorf("counter needs an integer field, not %s", t)
		},
	}
}

// accumulator

type accumState struct {
	slice reflect.Value
	elem  reflect.Type
}

func (a *accumState) init(def reflect.Value) {
	a.slice = reflect.MakeSlice(def.Type(), 0, def.Len())
	a.slice = reflect.AppendSlice(a.slice, def)
}

func (a *accumState) apply(opargs []reflect.Value) error {
	if a.elem.Kind() == reflect.Struct {
		el := reflect.New(a.elem).Elem()
		j := 0
		for i := 0; i < a.elem.NumField(); i++ {
			if !a.elem.Field(i).IsExported() {
				continue
			}
			el.Field(i).Set(opargs[j])
			j++
		}
		a.slice = reflect.Append(a.slice, el)
		return nil
	}
	a.slice = reflect.Append(a.slice, opargs[0])
	return nil
}

func (a *accumState) render() (reflect.Value, error) { return a.slice, nil }

func accumOpargs(t reflect.Type) ([]*parameter, error) {
	if t.Kind() != reflect.Slice {
		return nil, fmt.Errorf("accumulator needs a slice field, not %s", t)
	}
	elem := t.Elem()
	if elem.Kind() == reflect.Struct && elem != durationType {
		var params []*parameter
		for i := 0; i < elem.NumField(); i++ {
			f := elem.Field(i)
			if !f.IsExported() {
				continue
			}
			p, err := synthParam(kebab(f.Name), f.Type)
			if err != nil {
				return nil, err
			}
			params = append(params, p)
		}
		if len(params) == 0 {
			return nil, fmt.Errorf("accumulator element %s has no exported fields", elem)
		}
		return params, nil
	}
	p, err := synthParam("value", elem)
	if err != nil {
		return nil, err
	}
	return []*parameter{p}, nil
}

func accumulatorBuilder() *multiBuilder {
	return &multiBuilder{
		name: "accumulator",
		builtin: func(t reflect.Type) (multiState, error) {
			if t.Kind() != reflect.Slice {
				return nil, configErrorf("accumulator needs a slice field, not %s", t)
			}
			return &accumState{elem: t.Elem()}, nil
		},
		opargsFn: accumOpargs,
	}
}

// mapping

type mapState struct {
	m reflect.Value
	t reflect.Type
}

func (m *mapState) init(def reflect.Value) {
	m.m = reflect.MakeMap(m.t)
	if !def.IsNil() {
		iter := def.MapRange()
		for iter.Next() {
			m.m.SetMapIndex(iter.Key(), iter.Value())
		}
	}
}

func (m *mapState) apply(opargs []reflect.Value) error {
	m.m.SetMapIndex(opargs[0], opargs[1])
	return nil
}

func (m *mapState) render() (reflect.Value, error) { return m.m, nil }

func mappingBuilder() *multiBuilder {
	return &multiBuilder{
		name: "mapping",
		builtin: func(t reflect.Type) (multiState, error) {
			if t.Kind() != reflect.Map {
				return nil, configErrorf("mapping needs a map field, not %s", t)
			}
			return &mapState{t: t}, nil
		},
		opargsFn: func(t reflect.Type) ([]*parameter, error) {
			if t.Kind() != reflect.Map {
				return nil, fmt.Errorf("mapping needs a map field, not %s", t)
			}
			k, err := synthParam("key", t.Key())
			if err != nil {
				return nil, err
			}
			v, err := synthParam("value", t.Elem())
			if err != nil {
				return nil, err
			}
			return []*parameter{k, v}, nil
		},
	}
}

// customState adapts a user MultiOption. The Option method is invoked
// through reflection with the already-converted opargs.
type customState struct {
	mo MultiOption
}

func (c *customState) init(def reflect.Value) {
	c.mo.Init(def.Interface())
}

func (c *customState) apply(opargs []reflect.Value) error {
	m := reflect.ValueOf(c.mo).MethodByName("Option")
	out := m.Call(opargs)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

func (c *customState) render() (reflect.Value, error) {
	v, err := c.mo.Render()
	if err != nil {
		return reflect.Value{}, err
	}
	if v == nil {
		return reflect.Value{}, fmt.Errorf("multioption rendered nil")
	}
	return reflect.ValueOf(v), nil
}

// customBuilder wraps a user factory, deriving the oparg signature from the
// implementation's Option method.
func customBuilder(name string, fresh func() MultiOption) (*multiBuilder, error) {
	probe := fresh()
	m := reflect.ValueOf(probe).MethodByName("Option")
	if !m.IsValid() {
		return nil, configErrorf("multioption %q has no Option method", name)
	}
	mt := m.Type()
	if mt.NumOut() > 1 || (mt.NumOut() == 1 && !mt.Out(0).Implements(errorType)) {
		return nil, configErrorf("multioption %q: Option must return nothing or an error", name)
	}
	var params []*parameter
	for i := 0; i < mt.NumIn(); i++ {
		p, err := synthParam(fmt.Sprintf("arg%d", i+1), mt.In(i))
		if err != nil {
			return nil, configErrorf("multioption %q: %v", name, err)
		}
		params = append(params, p)
	}
	return &multiBuilder{
		name:  name,
		fresh: fresh,
		opargsFn: func(reflect.Type) ([]*parameter, error) {
			ps := make([]*parameter, len(params))
			copy(ps, params)
			return ps, nil
		},
	}, nil
}
