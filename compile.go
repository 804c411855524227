// Copyright 2023 The Appeal Authors.

package appeal

import (
	"reflect"
)

// The grammar compiler. It walks a command's converter tree depth-first and
// flattens it into one linear program, plus one sub-program per option whose
// converter consumes positional tokens of its own. Optional positionals open
// nested trailing groups; every option reachable inside an optional group is
// provisionally mapped at group entry so that using it commits the group.

// compiled is the immutable artifact produced once per command: the node
// table, the main program, and the table of every option spelling anywhere
// in the grammar (used for diagnostics and usage).
type compiled struct {
	root       *node
	main       *program
	nodes      []*node
	allOptions map[string][]*optionSpec
}

type compiler struct {
	app       *Appeal
	nodes     []*node
	nextID    int
	nextGroup int // group ids are unique across the whole compilation
}

func (c *compiler) group() int {
	c.nextGroup++
	return c.nextGroup
}

func (a *Appeal) compileCommand(name string, t reflect.Type, cmd *Appeal) (*compiled, error) {
	sig, err := signatureOf(t)
	if err != nil {
		return nil, err
	}
	if cmd != nil {
		if err := applyOverrides(sig, cmd); err != nil {
			return nil, err
		}
	}
	if err := a.resolveSignature(sig, []reflect.Type{t}); err != nil {
		return nil, err
	}
	conv := &converter{kind: convStruct, t: t, sig: sig}

	c := &compiler{app: a}
	root, err := c.buildNode(conv, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	asm := newAssembler(name)
	if err := c.emitConverter(asm, root, false); err != nil {
		return nil, err
	}
	asm.emit(instr{op: opEnd})
	main, err := asm.assemble()
	if err != nil {
		return nil, err
	}

	cp := &compiled{
		root:       root,
		main:       main,
		nodes:      c.nodes,
		allOptions: map[string][]*optionSpec{},
	}
	for _, n := range c.nodes {
		for _, spec := range n.opts {
			for _, s := range spec.strings {
				cp.allOptions[s] = append(cp.allOptions[s], spec)
			}
		}
		if err := resolveDefaults(n); err != nil {
			return nil, err
		}
	}
	if err := cp.checkScopes(); err != nil {
		return nil, err
	}
	if a.trace {
		a.tracer.Debug("compiled", "command", name, "nodes", len(c.nodes), "instructions", len(main.code))
	}
	return cp, nil
}

// buildNode creates the node for one use of conv, with child nodes for its
// struct-typed positionals, option specs for its keyword parameters, and
// sub-programs for options whose converters consume tokens.
func (c *compiler) buildNode(conv *converter, param *parameter, parent *node, parentOpt *optionSpec) (*node, error) {
	n := &node{id: c.nextID, conv: conv, param: param, parent: parent}
	c.nextID++
	c.nodes = append(c.nodes, n)

	if conv.kind != convStruct {
		return n, nil
	}
	for _, p := range conv.sig.positional {
		if p.conv.kind == convStruct {
			child, err := c.buildNode(p.conv, p, n, parentOpt)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		}
	}
	if v := conv.sig.varp; v != nil && v.conv.kind == convStruct {
		child, err := c.buildNode(v.conv, v, n, parentOpt)
		if err != nil {
			return nil, err
		}
		child.repeated = true
		n.children = append(n.children, child)
	}
	if err := buildOptions(n, parentOpt); err != nil {
		return nil, err
	}
	for _, spec := range n.opts {
		if spec.conv.kind != convStruct {
			continue
		}
		child, err := c.buildNode(spec.conv, spec.param, n, spec)
		if err != nil {
			return nil, err
		}
		spec.child = child
		n.optChildren = append(n.optChildren, child)
		asm := newAssembler(spec.primary())
		if err := c.emitConverter(asm, child, false); err != nil {
			return nil, err
		}
		asm.emit(instr{op: opEnd})
		prog, err := asm.assemble()
		if err != nil {
			return nil, err
		}
		spec.prog = prog
	}
	return n, nil
}

// applyOverrides rewrites option spellings and display names registered on
// the command with Option and Parameter. Overrides address the command's
// own fields, not nested converters.
func applyOverrides(sig *signature, cmd *Appeal) error {
	for field, spellings := range cmd.optionOverrides {
		p := sig.byField(field)
		if p == nil {
			return configErrorf("option override: no field %q on %s", field, sig.t)
		}
		if p.kind != keywordParam {
			return configErrorf("option override: field %q of %s is not an option", field, sig.t)
		}
		p.options = spellings
	}
	for field, usage := range cmd.usageOverrides {
		p := sig.byField(field)
		if p == nil {
			return configErrorf("usage override: no field %q on %s", field, sig.t)
		}
		p.usage = usage
	}
	return nil
}

// resolveDefaults parses the default= tag values of n's parameters once, so
// instance creation never parses at runtime.
func resolveDefaults(n *node) error {
	if n.conv.kind != convStruct {
		return nil
	}
	for _, p := range n.conv.sig.params() {
		if !p.hasDefTag {
			continue
		}
		var parse parseFunc
		switch p.conv.kind {
		case convPrimitive, convFunc:
			parse = p.conv.leaf.parse
		case convToggle, convMulti:
			leaf, err := leafFor(p.ftype, nil)
			if err != nil {
				return configErrorf("parameter %s: %v", p.name, err)
			}
			parse = leaf.parse
		default:
			return configErrorf("parameter %s: default= is only for single-token parameters", p.name)
		}
		v, err := parse(p.defTag)
		if err != nil {
			return configErrorf("parameter %s: bad default %q: %v", p.name, p.defTag, err)
		}
		p.defValue = reflect.ValueOf(v).Convert(p.ftype)
	}
	return nil
}

// checkScopes verifies that no two simultaneously-in-scope mappings share an
// option string, by simulating the mapping instructions of every program.
// Re-mapping the same spec (a var-positional loop body) is allowed.
func (cp *compiled) checkScopes() error {
	check := func(p *program) error {
		active := map[string]*optionSpec{}
		for _, in := range p.code {
			switch in.op {
			case opMap, opEarlyMap:
				if prev, ok := active[in.option]; ok && prev != in.spec {
					return configErrorf("option %s mapped twice in the same scope", in.option)
				}
				active[in.option] = in.spec
			case opUnmap:
				delete(active, in.option)
			}
		}
		return nil
	}
	if err := check(cp.main); err != nil {
		return err
	}
	for _, specs := range cp.allOptions {
		for _, spec := range specs {
			if spec.prog != nil {
				if err := check(spec.prog); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// positionalChild finds the node built for positional parameter p of n.
func (n *node) positionalChild(p *parameter) *node {
	for _, c := range n.children {
		if c.param == p {
			return c
		}
	}
	return nil
}

// emitConverter emits the program for the subtree rooted at n. When
// suppressMap is true the node's options were already early-mapped by an
// enclosing optional group and must not be mapped again in the same scope.
func (c *compiler) emitConverter(asm *assembler, n *node, suppressMap bool) error {
	asm.emit(instr{op: opEnter, node: n})
	if !suppressMap {
		for _, spec := range n.opts {
			for _, s := range spec.strings {
				asm.emit(instr{op: opMap, option: s, spec: spec})
			}
		}
	}

	// Optional positionals open nested trailing groups, all closed at the
	// end of this node's positional run. Options reachable inside a group's
	// subtree are provisionally mapped before the group begins, so the
	// interpreter can recognize them while deciding whether to enter.
	type openGroup struct {
		id    int
		endL  int
		early []*optionSpec
	}
	var open []openGroup

	for _, p := range n.conv.sig.positional {
		if p.hasDefault {
			g := c.group()
			endL := asm.label()
			var early []*optionSpec
			if p.conv.kind == convStruct && !suppressMap {
				// The whole subtree's options map provisionally here; the
				// inlined child program must not map them again.
				early = subtreeOptions(n.positionalChild(p))
			}
			for _, spec := range early {
				for _, s := range spec.strings {
					asm.emit(instr{op: opEarlyMap, option: s, spec: spec, group: g})
				}
			}
			asm.emitJump(opGroupBegin, instr{group: g}, endL)
			open = append(open, openGroup{id: g, endL: endL, early: early})
		}
		if err := c.emitParam(asm, n, p, suppressMap || p.hasDefault); err != nil {
			return err
		}
	}

	if v := n.conv.sig.varp; v != nil {
		loopL := asm.label()
		endL := asm.label()
		g := c.group()
		asm.place(loopL)
		if v.conv.kind == convStruct && !suppressMap {
			for _, spec := range subtreeOptions(n.positionalChild(v)) {
				for _, s := range spec.strings {
					asm.emit(instr{op: opEarlyMap, option: s, spec: spec, group: g})
				}
			}
		}
		asm.emitJump(opGroupBegin, instr{group: g, repeated: true}, endL)
		if v.conv.kind == convStruct {
			if err := c.emitConverter(asm, n.positionalChild(v), true); err != nil {
				return err
			}
		} else {
			asm.emit(instr{op: opConsume, node: n, param: v})
		}
		asm.emitJump(opJump, instr{}, loopL)
		asm.place(endL)
		asm.emit(instr{op: opGroupEnd, group: g})
	}

	for i := len(open) - 1; i >= 0; i-- {
		og := open[i]
		asm.place(og.endL)
		asm.emit(instr{op: opGroupEnd, group: og.id})
		for _, spec := range og.early {
			for _, s := range spec.strings {
				asm.emit(instr{op: opUnmap, option: s, group: og.id})
			}
		}
	}

	asm.emit(instr{op: opCall, node: n})
	return nil
}

// emitParam emits the consumption of one positional parameter.
func (c *compiler) emitParam(asm *assembler, n *node, p *parameter, suppressMap bool) error {
	switch p.conv.kind {
	case convStruct:
		return c.emitConverter(asm, n.positionalChild(p), suppressMap)
	case convPrimitive, convFunc:
		asm.emit(instr{op: opConsume, node: n, param: p})
		return nil
	default:
		return configErrorf("positional %s: converter kind not allowed here", p.name)
	}
}
