// Copyright 2023 The Appeal Authors.

package appeal

import (
	"fmt"
	"reflect"
	"strings"
)

// The interpreter. A processor drives one argument stream against one
// compiled program, holding all mutable runtime state: the frame registry,
// the token cursor, the option scope stack, and the active group stack. The
// compiled artifacts are never written to, so any number of processors may
// share them.

// tokens is a cursor over the argument stream with pushback: split opargs
// and short-option remainders are pushed back and re-read.
type tokens struct {
	rest   []string
	pushed []string
}

func newTokens(args []string) *tokens {
	return &tokens{rest: args}
}

func (t *tokens) next() (string, bool) {
	if n := len(t.pushed); n > 0 {
		s := t.pushed[n-1]
		t.pushed = t.pushed[:n-1]
		return s, true
	}
	if len(t.rest) == 0 {
		return "", false
	}
	s := t.rest[0]
	t.rest = t.rest[1:]
	return s, true
}

func (t *tokens) peek() (string, bool) {
	if n := len(t.pushed); n > 0 {
		return t.pushed[n-1], true
	}
	if len(t.rest) == 0 {
		return "", false
	}
	return t.rest[0], true
}

func (t *tokens) push(s string) {
	t.pushed = append(t.pushed, s)
}

// frame is the runtime state of one converter use: the struct instance
// being populated and the MultiOption state objects living in it. Frames
// are created on demand (entering a converter, or an early option touching
// a converter whose group has not begun) and are destroyed when finalized.
type frame struct {
	node     *node
	inst     reflect.Value // pointer to the struct being filled
	defaults reflect.Value // pointer to a pristine copy, for toggles and multi defaults
	multi    map[*parameter]multiState
	touched  bool
	varCount int
}

func (f *frame) field(p *parameter) reflect.Value {
	return f.inst.Elem().Field(p.index)
}

// binding is one option string recognizable in the current scope.
type binding struct {
	spec  *optionSpec
	group int // group this option commits when used; 0 for none
	layer int
}

type scopeLayer struct {
	owner    *optionSpec // option invocation that opened this layer; nil for the base
	bindings map[string]*binding
}

type groupRec struct {
	id        int
	committed bool
	endTarget int
	repeated  bool
}

type processor struct {
	app  *Appeal // root instance, for registries and trace
	cmd  *Appeal // resolved command, for error context
	comp *compiled
	toks *tokens

	frames          map[int]*frame
	scopes          []*scopeLayer
	groups          []*groupRec
	groupBase       int // groups below this index belong to an enclosing program
	committedGroups map[int]bool
	depth           int // option sub-program nesting; 0 is the main program
	optCtx          []*optionSpec
	noMore          bool // saw "--"
	globalMode      bool // stop at the first positional token, leave it unconsumed
}

func newProcessor(app, cmd *Appeal, comp *compiled, toks *tokens) *processor {
	return &processor{
		app:    app,
		cmd:    cmd,
		comp:   comp,
		toks:   toks,
		frames: map[int]*frame{},
		scopes: []*scopeLayer{{bindings: map[string]*binding{}}},
	}
}

// run drives the whole stream: execute the main program, process trailing
// options, reject leftover tokens, then flush the converter tree.
func (p *processor) run() error {
	if err := p.exec(p.comp.main); err != nil {
		return err
	}
	if err := p.skipOptions(); err != nil {
		return err
	}
	if !p.globalMode {
		if tok, ok := p.toks.peek(); ok {
			return usageErrorf(p.cmd, tok, "too many arguments: %q unexpected", tok)
		}
	}
	return p.flushNode(p.comp.root, true)
}

func (p *processor) exec(prog *program) error {
	pc := 0
	for pc < len(prog.code) {
		in := prog.code[pc]
		if p.app.trace {
			p.app.tracer.Debug("step", "program", prog.name, "pc", pc, "instr", in.String())
		}
		switch in.op {
		case opEnter:
			p.ensureFrame(in.node)

		case opMap, opEarlyMap:
			p.mapOption(in)

		case opUnmap:
			p.unmapProvisional(in.option, in.group)

		case opGroupBegin:
			rec := &groupRec{id: in.group, endTarget: in.target, repeated: in.repeated}
			// A var-positional loop re-begins its group each iteration;
			// each iteration commits independently.
			if top := p.currentGroup(); top != nil && top.id == in.group {
				p.groups[len(p.groups)-1] = rec
			} else {
				p.groups = append(p.groups, rec)
			}
			if err := p.skipOptions(); err != nil {
				return err
			}
			if _, ok := p.toks.peek(); !ok && !rec.committed {
				pc = in.target
				continue
			}

		case opGroupEnd:
			p.popGroup(in.group)

		case opJump:
			pc = in.target
			continue

		case opConsume:
			next, err := p.consume(in, pc)
			if err != nil {
				return err
			}
			if next != pc {
				pc = next
				continue
			}

		case opCall:
			if in.node.repeated {
				if err := p.flushRepeated(in.node); err != nil {
					return err
				}
			}

		case opEnd:
			return nil
		}
		pc++
	}
	return nil
}

// consume handles one CONSUME_ARGUMENT: process any leading options, then
// bind the next token to the parameter. Returns the next pc; if the token
// is missing inside an uncommitted optional group, that is the address of
// the group's end.
func (p *processor) consume(in instr, pc int) (int, error) {
	if err := p.skipOptions(); err != nil {
		return 0, err
	}
	tok, ok := p.toks.next()
	if !ok {
		if g := p.currentGroup(); g != nil && !g.committed {
			return g.endTarget, nil
		}
		if len(p.optCtx) > 0 {
			spec := p.optCtx[len(p.optCtx)-1]
			return 0, usageErrorf(p.cmd, "", "option %s requires %s", spec.primary(), describeArity(spec.minArgs, spec.maxArgs))
		}
		return 0, usageErrorf(p.cmd, "", "missing required argument %s", in.param.displayName())
	}
	if p.depth == 0 {
		p.popLayersAbove(0)
	}
	p.commitGroups()
	if err := p.bindToken(in.node, in.param, tok); err != nil {
		return 0, err
	}
	return pc, nil
}

// bindToken parses tok with the parameter's converter and stores it.
func (p *processor) bindToken(n *node, param *parameter, tok string) error {
	v, err := p.parseToken(param, tok)
	if err != nil {
		return usageErrorf(p.cmd, tok, "%s: %v", param.displayName(), err)
	}
	f := p.ensureFrame(n)
	f.touched = true
	if param.kind == varPositionalParam {
		field := f.field(param)
		field.Set(reflect.Append(field, v))
		f.varCount++
		return nil
	}
	f.field(param).Set(v)
	return nil
}

func (p *processor) parseToken(param *parameter, tok string) (reflect.Value, error) {
	conv := param.conv
	var raw interface{}
	var err error
	switch conv.kind {
	case convPrimitive, convFunc:
		raw, err = conv.leaf.parse(tok)
	default:
		return reflect.Value{}, fmt.Errorf("internal: consume on non-leaf converter %s", param.name)
	}
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(raw).Convert(conv.t), nil
}

// skipOptions processes option tokens until the next token is positional,
// the stream is empty, or "--" has ended option recognition.
func (p *processor) skipOptions() error {
	for {
		tok, ok := p.toks.peek()
		if !ok || p.noMore {
			return nil
		}
		if tok == "--" {
			p.toks.next()
			p.noMore = true
			return nil
		}
		if !isOptionToken(tok) {
			return nil
		}
		p.toks.next()
		if err := p.processOption(tok); err != nil {
			return err
		}
	}
}

func isOptionToken(tok string) bool {
	return len(tok) > 1 && tok[0] == '-' && tok != "--"
}

// processOption implements the option syntaxes of the surface grammar:
// --name, --name=value, -X, -X=value, -Xvalue (only when -X takes exactly
// one optional oparg), and -XYZ as -X -Y -Z via remainder pushback.
func (p *processor) processOption(tok string) error {
	var name string
	splitValue := ""
	hasSplit := false

	if strings.HasPrefix(tok, "--") {
		name, splitValue, hasSplit = strings.Cut(tok, "=")
	} else {
		name = tok[:2]
		rem := tok[2:]
		if rem != "" {
			b := p.lookup(name)
			if b == nil {
				return p.unknownOption(name)
			}
			spec := b.spec
			switch {
			case rem[0] == '=':
				splitValue, hasSplit = rem[1:], true
			case spec.maxArgs == 0:
				// More short options; push them back as their own token.
				p.toks.push("-" + rem)
			case spec.maxArgs == 1 && spec.minArgs == 0:
				// POSIX single-optional-oparg form: -Xvalue.
				splitValue, hasSplit = rem, true
			case spec.maxArgs == 1:
				return usageErrorf(p.cmd, tok, "%s isn't allowed, %s must be last because it takes an argument", tok, name)
			default:
				return usageErrorf(p.cmd, tok, "%s isn't allowed, %s takes %s, it must be last",
					tok, name, describeArity(spec.minArgs, spec.maxArgs))
			}
		}
	}

	b := p.lookup(name)
	if b == nil {
		return p.unknownOption(name)
	}
	spec := b.spec
	if hasSplit {
		switch {
		case spec.maxArgs == 0:
			return usageErrorf(p.cmd, tok, "%s=%s isn't allowed, because %s doesn't take an argument", name, splitValue, name)
		case spec.maxArgs != 1:
			return usageErrorf(p.cmd, tok, "%s=%s isn't allowed, because %s takes %s", name, splitValue, name,
				describeArity(spec.minArgs, spec.maxArgs))
		}
		p.toks.push(splitValue)
	}

	if b.group != 0 {
		p.commitGroupByID(b.group)
	}
	p.popLayersAbove(b.layer)
	if p.app.trace {
		p.app.tracer.Debug("option", "name", name, "param", spec.param.name)
	}
	return p.invokeOption(name, spec)
}

// invokeOption runs the option against the converter instance it belongs
// to. Struct converters run their own sub-program; everything else is
// handled directly.
func (p *processor) invokeOption(name string, spec *optionSpec) error {
	f := p.ensureFrame(spec.node)
	f.touched = true
	switch spec.conv.kind {
	case convToggle:
		def := f.defaults.Elem().Field(spec.param.index).Bool()
		f.field(spec.param).SetBool(!def)
		return nil

	case convPrimitive, convFunc:
		tok, ok := p.toks.next()
		if !ok {
			return usageErrorf(p.cmd, name, "option %s requires an argument", name)
		}
		v, err := p.parseToken(spec.param, tok)
		if err != nil {
			return usageErrorf(p.cmd, tok, "%s: %v", name, err)
		}
		f.field(spec.param).Set(v)
		return nil

	case convMulti:
		state := f.multi[spec.param]
		if state == nil {
			var err error
			state, err = spec.conv.multi.build(spec.param.ftype)
			if err != nil {
				return err
			}
			state.init(f.defaults.Elem().Field(spec.param.index))
			f.multi[spec.param] = state
		}
		args := make([]reflect.Value, len(spec.conv.opargs))
		for i, op := range spec.conv.opargs {
			tok, ok := p.toks.next()
			if !ok {
				return usageErrorf(p.cmd, name, "option %s requires %s", name, describeArity(spec.minArgs, spec.maxArgs))
			}
			v, err := p.parseToken(op, tok)
			if err != nil {
				return usageErrorf(p.cmd, tok, "%s: %v", name, err)
			}
			args[i] = v
		}
		if err := state.apply(args); err != nil {
			return usageErrorf(p.cmd, name, "%s: %v", name, err)
		}
		return nil

	case convStruct:
		p.pushLayer(spec)
		p.depth++
		p.optCtx = append(p.optCtx, spec)
		oldBase := p.groupBase
		p.groupBase = len(p.groups)
		err := p.exec(spec.prog)
		p.groupBase = oldBase
		p.optCtx = p.optCtx[:len(p.optCtx)-1]
		p.depth--
		if err == nil {
			if cf := p.frames[spec.child.id]; cf != nil {
				cf.touched = true
			}
		}
		return err
	}
	return fmt.Errorf("internal: option %s has no invocable converter", name)
}

// Option scope management.

func (p *processor) mapOption(in instr) {
	layer := 0
	if p.depth > 0 {
		layer = len(p.scopes) - 1
	}
	p.scopes[layer].bindings[in.option] = &binding{
		spec:  in.spec,
		group: in.group,
		layer: layer,
	}
}

// unmapProvisional retires an early mapping when its group ended without
// being committed. Committed mappings survive until the parse ends.
func (p *processor) unmapProvisional(option string, group int) {
	if p.committedGroups == nil || !p.committedGroups[group] {
		for i := len(p.scopes) - 1; i >= 0; i-- {
			if b, ok := p.scopes[i].bindings[option]; ok && b.group == group {
				delete(p.scopes[i].bindings, option)
				return
			}
		}
	}
}

func (p *processor) lookup(name string) *binding {
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if b, ok := p.scopes[i].bindings[name]; ok {
			return b
		}
	}
	return nil
}

func (p *processor) pushLayer(owner *optionSpec) {
	p.scopes = append(p.scopes, &scopeLayer{owner: owner, bindings: map[string]*binding{}})
}

func (p *processor) popLayersAbove(layer int) {
	p.scopes = p.scopes[:layer+1]
}

// unknownOption distinguishes a truly unknown option from one that exists
// in the grammar but is not reachable from here.
func (p *processor) unknownOption(name string) error {
	specs := p.comp.allOptions[name]
	if len(specs) == 0 {
		return usageErrorf(p.cmd, name, "unknown option %s", name)
	}
	for _, spec := range specs {
		if spec.parentOpt != nil {
			return usageErrorf(p.cmd, name, "option %s can't be used here, it must be used immediately after %s",
				name, spec.parentOpt.spellings())
		}
	}
	return usageErrorf(p.cmd, name, "option %s can't be used here", name)
}

// Group management.

// currentGroup returns the innermost active group of the program currently
// executing; groups opened by an enclosing program are not visible.
func (p *processor) currentGroup() *groupRec {
	if len(p.groups) <= p.groupBase {
		return nil
	}
	return p.groups[len(p.groups)-1]
}

func (p *processor) popGroup(id int) {
	for i := len(p.groups) - 1; i >= 0; i-- {
		if p.groups[i].id == id {
			p.groups = p.groups[:i]
			return
		}
	}
}

// commitGroups marks every active group of the current program committed:
// consuming a token inside nested optional groups commits all of them,
// making their remaining required positionals required.
func (p *processor) commitGroups() {
	for _, g := range p.groups[p.groupBase:] {
		p.markCommitted(g)
	}
}

func (p *processor) commitGroupByID(id int) {
	for _, g := range p.groups {
		if g.id == id {
			p.markCommitted(g)
			return
		}
	}
}

func (p *processor) markCommitted(g *groupRec) {
	g.committed = true
	if p.committedGroups == nil {
		p.committedGroups = map[int]bool{}
	}
	p.committedGroups[g.id] = true
}

// Frames.

// ensureFrame returns the live frame for n, creating it (and its ancestors)
// if needed. A repeated node always starts fresh after each flush.
func (p *processor) ensureFrame(n *node) *frame {
	if f := p.frames[n.id]; f != nil {
		return f
	}
	if n.parent != nil {
		p.ensureFrame(n.parent)
	}
	inst := p.newInstance(n)
	f := &frame{
		node:     n,
		inst:     inst,
		defaults: cloneStruct(inst),
		multi:    map[*parameter]multiState{},
	}
	p.frames[n.id] = f
	return f
}

// newInstance creates the struct a frame populates, with every parameter at
// its default: the command prototype's field values for the root, and tag
// defaults for every field (of the root too) still at its zero value.
func (p *processor) newInstance(n *node) reflect.Value {
	inst := reflect.New(n.conv.t)
	if n.parent == nil && p.cmd != nil && p.cmd.proto != nil {
		inst.Elem().Set(reflect.ValueOf(p.cmd.proto).Elem())
	}
	for _, param := range n.conv.sig.params() {
		if param.defValue.IsValid() {
			field := inst.Elem().Field(param.index)
			if field.IsZero() {
				field.Set(param.defValue)
			}
		}
	}
	return inst
}

func cloneStruct(inst reflect.Value) reflect.Value {
	c := reflect.New(inst.Elem().Type())
	c.Elem().Set(inst.Elem())
	return c
}

// flushNode finalizes the subtree rooted at n, deepest first: multioptions
// render, var-positional minimums are checked, and each instance is bound
// into its parent's slot. Optional subtrees that were never touched are
// discarded so the parent keeps its default.
func (p *processor) flushNode(n *node, assign bool) error {
	f := p.frames[n.id]
	if f == nil {
		return nil
	}
	if !f.touched && n.param != nil && n.param.hasDefault {
		delete(p.frames, n.id)
		return nil
	}
	for _, c := range n.children {
		if c.repeated {
			// Flushed per iteration; a trailing option may have started one
			// more element.
			if p.frames[c.id] != nil {
				if err := p.flushRepeated(c); err != nil {
					return err
				}
			}
			continue
		}
		if err := p.flushNode(c, true); err != nil {
			return err
		}
	}
	for _, c := range n.optChildren {
		if err := p.flushNode(c, true); err != nil {
			return err
		}
	}
	for param, state := range f.multi {
		v, err := state.render()
		if err != nil {
			return usageErrorf(p.cmd, "", "%s: %v", param.name, err)
		}
		if !v.Type().AssignableTo(param.ftype) {
			if !v.Type().ConvertibleTo(param.ftype) {
				return configErrorf("multioption for %s rendered %s, field wants %s", param.name, v.Type(), param.ftype)
			}
			v = v.Convert(param.ftype)
		}
		f.field(param).Set(v)
	}
	if v := n.conv.sig.varp; v != nil && v.min > 0 && f.varCount < v.min {
		return usageErrorf(p.cmd, "", "%s: need at least %d args, got %d", v.displayName(), v.min, f.varCount)
	}
	if n.param != nil {
		if assign {
			pf := p.frames[n.parent.id]
			if pf == nil {
				return fmt.Errorf("internal: no frame for parent of %s", n.name())
			}
			pf.field(n.param).Set(f.inst.Elem())
		}
		// The root frame survives: it carries the parse result.
		delete(p.frames, n.id)
	}
	return nil
}

// flushRepeated finalizes one var-positional iteration, appending the
// element to the parent's slice.
func (p *processor) flushRepeated(n *node) error {
	f := p.frames[n.id]
	if f == nil {
		return nil
	}
	if err := p.flushNode(n, false); err != nil {
		return err
	}
	pf := p.frames[n.parent.id]
	if pf == nil {
		return fmt.Errorf("internal: no frame for parent of %s", n.name())
	}
	field := pf.field(n.param)
	field.Set(reflect.Append(field, f.inst.Elem()))
	pf.varCount++
	pf.touched = true
	return nil
}
