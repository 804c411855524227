// Copyright 2023 The Appeal Authors.

package appeal

import (
	"fmt"
	"reflect"
	"strings"
)

// The converter tree builder. Starting from a command's struct type it
// resolves the effective converter of every parameter, attaches child nodes
// for struct-typed parameters, generates option spellings for keyword-only
// parameters, and applies the legality rules. The same struct type used in
// two places produces two independent subtrees; nodes are never shared.

type convKind int

const (
	convPrimitive convKind = iota
	convFunc                // a registered func(string) (T, error) leaf
	convStruct              // a nested converter struct
	convToggle              // keyword-only bool: consumes no token, negates the default
	convMulti               // a MultiOption accumulating state across uses
)

// converter is the resolved, tagged form of an annotation. Primitive and
// func converters consume exactly one token; struct converters consume
// whatever their signature requires; toggles consume nothing.
type converter struct {
	kind   convKind
	t      reflect.Type // the produced type
	leaf   *leafParser  // convPrimitive and convFunc
	sig    *signature   // convStruct
	multi  *multiBuilder
	opargs []*parameter // convMulti: the Option method's parameters
}

// effectiveConverter resolves the converter for parameter p per the priority
// rules: an explicit annotation (parse= or multi=) wins; otherwise the
// field's type decides, with keyword-only bools becoming toggles and
// anything else falling back to a one-token parser. t is the type being
// converted (for var-positionals, the slice element type). path holds the
// struct types already open above us, for cycle rejection.
func (a *Appeal) effectiveConverter(p *parameter, t reflect.Type, path []reflect.Type) (*converter, error) {
	if p.parseName != "" {
		lp := a.parsers[p.parseName]
		if lp == nil {
			return nil, configErrorf("parameter %s: no parser registered as %q", p.name, p.parseName)
		}
		if !lp.out.AssignableTo(t) && !lp.out.ConvertibleTo(t) {
			return nil, configErrorf("parameter %s: parser %q produces %s, field wants %s", p.name, p.parseName, lp.out, t)
		}
		return &converter{kind: convFunc, t: t, leaf: lp}, nil
	}
	if p.multiName != "" {
		mb := a.multis[p.multiName]
		if mb == nil {
			return nil, configErrorf("parameter %s: no multioption registered as %q", p.name, p.multiName)
		}
		opargs, err := mb.opargsFor(t)
		if err != nil {
			return nil, configErrorf("parameter %s: %v", p.name, err)
		}
		for _, op := range opargs {
			conv, err := a.effectiveConverter(op, op.ftype, path)
			if err != nil {
				return nil, err
			}
			op.conv = conv
		}
		return &converter{kind: convMulti, t: t, multi: mb, opargs: opargs}, nil
	}
	if t.Kind() == reflect.Ptr {
		return nil, configErrorf("parameter %s: pointer fields are not supported", p.name)
	}
	if t.Kind() == reflect.Struct && t != durationType {
		for _, seen := range path {
			if seen == t {
				return nil, configErrorf("converter cycle: %s is reachable from itself", t)
			}
		}
		sig, err := signatureOf(t)
		if err != nil {
			return nil, err
		}
		if err := a.resolveSignature(sig, append(path, t)); err != nil {
			return nil, err
		}
		return &converter{kind: convStruct, t: t, sig: sig}, nil
	}
	if p.kind == keywordParam && t.Kind() == reflect.Bool {
		return &converter{kind: convToggle, t: t}, nil
	}
	// Everything else consumes one token. A plain slice option takes its
	// whole value as one comma-separated oparg.
	leaf, err := leafFor(t, p.choices)
	if err != nil {
		return nil, configErrorf("parameter %s: %v", p.name, err)
	}
	return &converter{kind: convPrimitive, t: t, leaf: leaf}, nil
}

// resolveSignature fills in the conv field of every parameter of sig.
func (a *Appeal) resolveSignature(sig *signature, path []reflect.Type) error {
	for _, p := range sig.positional {
		conv, err := a.effectiveConverter(p, p.ftype, path)
		if err != nil {
			return err
		}
		p.conv = conv
	}
	if p := sig.varp; p != nil {
		conv, err := a.effectiveConverter(p, p.ftype.Elem(), path)
		if err != nil {
			return err
		}
		if minTokens(conv) == 0 {
			return configErrorf("var-positional %s: its converter must consume at least one token", p.name)
		}
		p.conv = conv
	}
	for _, p := range sig.keyword {
		conv, err := a.effectiveConverter(p, p.ftype, path)
		if err != nil {
			return err
		}
		if conv.kind == convStruct && maxTokens(conv) == 0 && len(conv.sig.keyword) == 0 {
			return configErrorf("option %s: its converter consumes nothing", p.name)
		}
		p.conv = conv
	}
	return nil
}

// minTokens and maxTokens compute how many positional tokens a converter can
// consume. maxTokens returns -1 for unbounded (a var-positional below).
func minTokens(c *converter) int {
	switch c.kind {
	case convToggle:
		return 0
	case convPrimitive, convFunc:
		return 1
	case convMulti:
		return len(c.opargs)
	case convStruct:
		n := 0
		optional := false
		for _, p := range c.sig.positional {
			if p.hasDefault {
				optional = true
				break // this and everything after is an optional group
			}
			n += minTokens(p.conv)
		}
		if v := c.sig.varp; v != nil && !optional {
			n += v.min * minTokens(v.conv)
		}
		return n
	}
	return 0
}

func maxTokens(c *converter) int {
	switch c.kind {
	case convToggle:
		return 0
	case convPrimitive, convFunc:
		return 1
	case convMulti:
		return len(c.opargs)
	case convStruct:
		if c.sig.varp != nil {
			return -1
		}
		n := 0
		for _, p := range c.sig.positional {
			m := maxTokens(p.conv)
			if m < 0 {
				return -1
			}
			n += m
		}
		return n
	}
	return 0
}

// node is one use of a converter in the tree. Node ids are unique per use;
// the same struct type appearing twice yields two nodes.
type node struct {
	id       int
	conv     *converter
	param    *parameter // slot in the parent's instance; nil for the root
	parent   *node
	children []*node // nodes for struct-typed positional parameters, in order
	repeated bool    // element node of a var-positional

	opts        []*optionSpec // options defined by this node's keyword parameters
	optChildren []*node       // converter nodes of options that consume tokens
}

func (n *node) name() string {
	if n.param == nil {
		return n.conv.t.Name()
	}
	return n.param.name
}

// optionSpec is one mapped option: its spellings, the parameter it sets,
// the node whose instance it writes into, and its oparg arity.
type optionSpec struct {
	strings   []string
	param     *parameter
	conv      *converter
	node      *node
	prog      *program    // compiled sub-program, for struct converters
	child     *node       // converter node, for struct converters
	minArgs   int
	maxArgs   int         // -1 for unbounded
	parentOpt *optionSpec // option whose converter defines this one, if any
}

// primary is the spelling used in error messages and as the name of the
// option's sub-program: the long form if there is one.
func (o *optionSpec) primary() string {
	for _, s := range o.strings {
		if strings.HasPrefix(s, "--") {
			return s
		}
	}
	return o.strings[0]
}

func (o *optionSpec) spellings() string {
	return strings.Join(o.strings, "|")
}

// buildOptions creates the option specs for n's keyword parameters.
// Spellings registered explicitly are claimed first-come in declaration
// order; auto-generation then supplies --kebab-name and, when the letter is
// still free at this node, -first-letter.
func buildOptions(n *node, parentOpt *optionSpec) error {
	used := map[string]bool{}
	// Explicit spellings claim their strings first.
	for _, p := range n.conv.sig.keyword {
		for _, s := range p.options {
			if used[s] {
				return configErrorf("type %s: option %s registered twice", n.conv.t, s)
			}
			used[s] = true
		}
	}
	for _, p := range n.conv.sig.keyword {
		spellings := p.options
		if len(spellings) == 0 {
			long := "--" + p.name
			if used[long] {
				return configErrorf("type %s: generated option %s collides", n.conv.t, long)
			}
			used[long] = true
			spellings = []string{long}
			if short := "-" + p.name[:1]; !used[short] {
				used[short] = true
				spellings = append(spellings, short)
			}
		}
		spec := &optionSpec{
			strings:   spellings,
			param:     p,
			conv:      p.conv,
			node:      n,
			parentOpt: parentOpt,
		}
		switch p.conv.kind {
		case convToggle:
			spec.minArgs, spec.maxArgs = 0, 0
		case convPrimitive, convFunc:
			spec.minArgs, spec.maxArgs = 1, 1
		case convMulti:
			spec.minArgs, spec.maxArgs = len(p.conv.opargs), len(p.conv.opargs)
		case convStruct:
			spec.minArgs, spec.maxArgs = minTokens(p.conv), maxTokens(p.conv)
		}
		n.opts = append(n.opts, spec)
	}
	return nil
}

// subtreeOptions collects every option defined anywhere in the tree rooted
// at n, in depth-first order. Used for early mapping and usage generation.
func subtreeOptions(n *node) []*optionSpec {
	var all []*optionSpec
	all = append(all, n.opts...)
	for _, c := range n.children {
		all = append(all, subtreeOptions(c)...)
	}
	return all
}

// describeArity renders an oparg count for error messages.
func describeArity(min, max int) string {
	if max < 0 {
		return fmt.Sprintf("at least %d arguments", min)
	}
	if min == max {
		plural := "s"
		if min == 1 {
			plural = ""
		}
		return fmt.Sprintf("%d argument%s", min, plural)
	}
	return fmt.Sprintf("%d to %d arguments", min, max)
}
