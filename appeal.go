// Copyright 2023 The Appeal Authors.

package appeal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Command is implemented by the struct bound to a command name. Before Run
// is called, the command line has been parsed into the struct's fields.
type Command interface {
	Run(ctx context.Context) error
}

// Appeal is one node of the command tree: the root program, a command, or a
// sub-command group. It mutates during registration and freezes before the
// first parse; the compiled grammar is immutable and shared by every parse
// afterwards.
type Appeal struct {
	name   string
	doc    string
	proto  interface{} // pointer to the command struct, or nil for a group
	ptype  reflect.Type
	parent *Appeal
	subs   []*Appeal

	global     *Appeal // root only: parsed before command resolution
	defaultCmd *Appeal // run when this group gets no sub-command
	version    string
	builtins   bool

	comp   *compiled
	frozen bool
	ferr   error

	optionOverrides map[string][]string // field name -> option spellings
	usageOverrides  map[string]string   // field name -> display name

	// registries and trace live on the root
	parsers map[string]*leafParser
	multis  map[string]*multiBuilder
	trace   bool
	tracer  *log.Logger
}

// New creates a root Appeal for a program. The help and version built-ins
// are enabled; version may be empty to disable the version surface.
func New(name, version string) *Appeal {
	if name == "" && len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	a := &Appeal{
		name:     name,
		version:  version,
		builtins: true,
		parsers:  map[string]*leafParser{},
		multis:   map[string]*multiBuilder{},
		tracer:   log.NewWithOptions(os.Stderr, log.Options{Prefix: name}),
	}
	a.multis["counter"] = counterBuilder()
	a.multis["accumulator"] = accumulatorBuilder()
	a.multis["mapping"] = mappingBuilder()
	return a
}

func (a *Appeal) root() *Appeal {
	r := a
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (a *Appeal) fullName() string {
	if a.parent == nil {
		return a.name
	}
	return a.parent.fullName() + " " + a.name
}

// SetTrace turns per-instruction interpreter logging and compiler phase
// logging on or off.
func (a *Appeal) SetTrace(on bool) {
	r := a.root()
	r.trace = on
	if on {
		r.tracer.SetLevel(log.DebugLevel)
	}
}

// Command registers a command (or, with further Command calls on the
// result, a sub-command group) under a. proto is a pointer to the command
// struct, or nil for a pure group. The prototype's field values are the
// defaults for its keyword parameters.
func (a *Appeal) Command(name string, proto interface{}, doc string) *Appeal {
	cmd, err := a.register(name, proto, doc)
	if err != nil {
		panic(err)
	}
	return cmd
}

func (a *Appeal) register(name string, proto interface{}, doc string) (*Appeal, error) {
	if a.root().frozen {
		return nil, configErrorf("%s: cannot register %q after the first run", a.fullName(), name)
	}
	if a.findSub(name) != nil {
		return nil, configErrorf("duplicate sub-command: %q", name)
	}
	cmd := &Appeal{name: name, doc: doc, parent: a}
	if err := cmd.setProto(proto); err != nil {
		return nil, err
	}
	a.subs = append(a.subs, cmd)
	return cmd, nil
}

func (a *Appeal) setProto(proto interface{}) error {
	if proto == nil {
		return nil
	}
	v := reflect.ValueOf(proto)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return configErrorf("%s: %T is not a pointer to a struct", a.name, proto)
	}
	a.proto = proto
	a.ptype = v.Elem().Type()
	return nil
}

// GlobalCommand registers the command whose options precede all commands.
// Its struct may declare only keyword parameters; its Run method is invoked
// before the selected command's.
func (a *Appeal) GlobalCommand(proto interface{}) *Appeal {
	if a.parent != nil {
		panic(configErrorf("global command must be registered on the root"))
	}
	g := &Appeal{name: a.name, parent: a}
	if err := g.setProto(proto); err != nil {
		panic(err)
	}
	a.global = g
	return g
}

// Default registers the command run when this node has sub-commands and the
// command line names none of them. The struct is parsed against an empty
// command line: optional parameters keep their defaults, and a required
// positional fails with a usage error.
func (a *Appeal) Default(proto interface{}) *Appeal {
	d := &Appeal{name: a.name, parent: a}
	if err := d.setProto(proto); err != nil {
		panic(err)
	}
	a.defaultCmd = d
	return d
}

// Option overrides the option spellings for the named struct field of this
// command, replacing the generated --kebab-name and -letter forms.
func (a *Appeal) Option(field string, spellings ...string) *Appeal {
	if a.optionOverrides == nil {
		a.optionOverrides = map[string][]string{}
	}
	norm := make([]string, len(spellings))
	for i, s := range spellings {
		norm[i] = normalizeOption(s)
	}
	a.optionOverrides[field] = norm
	return a
}

// Parameter overrides the display name of the named struct field in usage
// text.
func (a *Appeal) Parameter(field, usage string) *Appeal {
	if a.usageOverrides == nil {
		a.usageOverrides = map[string]string{}
	}
	a.usageOverrides[field] = usage
	return a
}

// RegisterParser registers fn, a func(string) (T, error), as a leaf
// converter selectable with the parse=name tag key.
func (a *Appeal) RegisterParser(name string, fn interface{}) {
	lp, err := registeredLeaf(name, fn)
	if err != nil {
		panic(err)
	}
	a.root().parsers[name] = lp
}

// RegisterMultiOption registers a custom MultiOption factory selectable
// with the multi=name tag key.
func (a *Appeal) RegisterMultiOption(name string, fresh func() MultiOption) {
	mb, err := customBuilder(name, fresh)
	if err != nil {
		panic(err)
	}
	a.root().multis[name] = mb
}

func (a *Appeal) findSub(name string) *Appeal {
	for _, s := range a.subs {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Freeze compiles every registered command. It runs implicitly on the first
// Run; calling it earlier surfaces ConfigurationErrors at startup. The
// errors of every command are reported together, the first one found in
// each command.
func (a *Appeal) Freeze() error {
	r := a.root()
	if r.frozen {
		return r.ferr
	}
	r.frozen = true
	r.injectBuiltins()
	var errs *multierror.Error
	r.walk(func(n *Appeal) {
		if err := n.compile(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", n.fullName(), err))
		}
	})
	r.ferr = errs.ErrorOrNil()
	return r.ferr
}

func (a *Appeal) walk(f func(*Appeal)) {
	f(a)
	if a.global != nil {
		f(a.global)
	}
	if a.defaultCmd != nil {
		f(a.defaultCmd)
	}
	for _, s := range a.subs {
		s.walk(f)
	}
}

// compile builds this command's grammar, applying its field overrides.
func (a *Appeal) compile() error {
	if a.proto == nil {
		return nil
	}
	if a.proto != nil && len(a.subs) > 0 {
		sig, err := signatureOf(a.ptype)
		if err != nil {
			return err
		}
		if len(sig.positional) > 0 || sig.varp != nil {
			return configErrorf("a command cannot have both arguments and sub-commands")
		}
	}
	comp, err := a.root().compileCommand(a.name, a.ptype, a)
	if err != nil {
		return err
	}
	if a == a.root().global {
		if len(comp.root.conv.sig.positional) > 0 || comp.root.conv.sig.varp != nil {
			return configErrorf("the global command takes options only")
		}
	}
	a.comp = comp
	return nil
}

// injectBuiltins adds the help and version commands at the root unless the
// user registered commands with those names.
func (a *Appeal) injectBuiltins() {
	if !a.builtins {
		return
	}
	if a.findSub("help") == nil {
		cmd := &Appeal{name: "help", doc: "describe a command", parent: a}
		cmd.setProto(&helpCommand{app: a})
		a.subs = append(a.subs, cmd)
	}
	if a.version != "" && a.findSub("version") == nil {
		cmd := &Appeal{name: "version", doc: "print the program version", parent: a}
		cmd.setProto(&versionCommand{app: a})
		a.subs = append(a.subs, cmd)
	}
}

// Main resolves and runs a command from os.Args, returning the process exit
// code. Shell completion requests are answered before any parsing.
func (a *Appeal) Main(ctx context.Context) int {
	a.installCompletion()
	err := a.Run(ctx, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode(err)
}

// Run resolves the command named by args, parses the remainder against its
// grammar, and invokes it.
func (a *Appeal) Run(ctx context.Context, args []string) (err error) {
	if a.parent != nil {
		return configErrorf("Run must be called on the root")
	}
	if err := a.Freeze(); err != nil {
		return err
	}
	// A UsageError made with NewUsageError in a command's Run carries no
	// command; attach the one that ran so its usage line is printed.
	var ran *Appeal
	defer func() {
		var uerr *UsageError
		if ran != nil && errors.As(err, &uerr) && uerr.cmd == nil {
			uerr.cmd = ran
		}
	}()
	toks := newTokens(args)

	if a.global != nil {
		cmd, err := a.parseInto(a.global, toks, true)
		if err != nil {
			return err
		}
		ran = a.global
		if err := cmd.Run(ctx); err != nil {
			return err
		}
	}

	node := a
	for {
		tok, ok := toks.peek()
		if !ok {
			break
		}
		if a.builtins && node == a {
			if (tok == "--help" || tok == "-h") && !a.optionTaken(tok) {
				node.writeUsage(os.Stdout)
				return nil
			}
			if a.version != "" && (tok == "--version" || tok == "-v") && !a.optionTaken(tok) {
				fmt.Fprintf(os.Stdout, "%s %s\n", a.name, a.version)
				return nil
			}
		}
		sub := node.findSub(tok)
		if sub == nil {
			break
		}
		toks.next()
		node = sub
	}

	if node.proto != nil {
		if tok, ok := toks.peek(); ok && len(node.subs) > 0 && !isOptionToken(tok) {
			return usageErrorf(node, tok, "unknown command: %q%s", tok, node.suggest(tok))
		}
		cmd, err := a.parseInto(node, toks, false)
		if err != nil {
			return err
		}
		ran = node
		return cmd.Run(ctx)
	}

	// node is a group without behavior of its own.
	if tok, ok := toks.peek(); ok {
		return usageErrorf(node, tok, "unknown command: %q%s", tok, node.suggest(tok))
	}
	if node.defaultCmd != nil {
		cmd, err := a.parseInto(node.defaultCmd, toks, false)
		if err != nil {
			return err
		}
		ran = node.defaultCmd
		return cmd.Run(ctx)
	}
	return usageErrorf(node, "", "missing sub-command")
}

// parseInto drives the token stream through cmd's program and returns the
// populated command, ready to run.
func (a *Appeal) parseInto(cmd *Appeal, toks *tokens, global bool) (Command, error) {
	p := newProcessor(a, cmd, cmd.comp, toks)
	p.globalMode = global
	if err := p.run(); err != nil {
		return nil, err
	}
	f := p.frames[cmd.comp.root.id]
	if f == nil {
		return nil, fmt.Errorf("internal: no root frame for %s", cmd.fullName())
	}
	c, ok := f.inst.Interface().(Command)
	if !ok {
		return nil, configErrorf("%s: %s has no Run method", cmd.fullName(), cmd.ptype)
	}
	return c, nil
}

// optionTaken reports whether the root grammar already claims an option
// spelling, which suppresses the corresponding built-in.
func (a *Appeal) optionTaken(s string) bool {
	if a.comp == nil {
		return false
	}
	return len(a.comp.allOptions[s]) > 0
}

// suggest offers the closest command name for a typo.
func (a *Appeal) suggest(tok string) string {
	var names []string
	for _, s := range a.subs {
		names = append(names, s.name)
	}
	matches := fuzzy.RankFindNormalizedFold(tok, names)
	if len(matches) > 0 {
		sort.Sort(matches)
		return fmt.Sprintf(" (did you mean %q?)", matches[0].Target)
	}
	// A misspelling is often not a subsequence of the name it misspells;
	// fall back to the nearest name within an edit distance of two.
	best, bestDist := "", 3
	for _, name := range names {
		if d := fuzzy.LevenshteinDistance(tok, name); d < bestDist {
			best, bestDist = name, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// Processor exposes the parse engine without dispatch: drive a token
// sequence against one command's grammar and retrieve the populated struct.
// Each Processor holds its own runtime state; a frozen Appeal can serve any
// number of them concurrently.
type Processor struct {
	cmd  *Appeal
	proc *processor
	done bool
}

// NewProcessor returns a processor for the command at the given path (for
// example "courses", "show"). The path must end at a command; an empty path
// addresses the root, which is a group, and yields an error.
func (a *Appeal) NewProcessor(path ...string) (*Processor, error) {
	if err := a.Freeze(); err != nil {
		return nil, err
	}
	node := a.root()
	for _, name := range path {
		sub := node.findSub(name)
		if sub == nil {
			return nil, configErrorf("no command %q under %s", name, node.fullName())
		}
		node = sub
	}
	if node.comp == nil {
		return nil, configErrorf("%s is a group, not a command", node.fullName())
	}
	return &Processor{cmd: node}, nil
}

// Parse drives args through the grammar. It may be called once per
// Processor.
func (p *Processor) Parse(args []string) error {
	if p.done {
		return configErrorf("processor already used")
	}
	p.done = true
	p.proc = newProcessor(p.cmd.root(), p.cmd, p.cmd.comp, newTokens(args))
	return p.proc.run()
}

// Result returns the populated command struct after a successful Parse.
func (p *Processor) Result() interface{} {
	if p.proc == nil {
		return nil
	}
	f := p.proc.frames[p.cmd.comp.root.id]
	if f == nil {
		return nil
	}
	return f.inst.Interface()
}

// helpCommand implements the built-in help command.
type helpCommand struct {
	app  *Appeal
	Path []string `name=command, the command to describe`
}

func (h *helpCommand) Run(ctx context.Context) error {
	node := h.app
	for _, name := range h.Path {
		sub := node.findSub(name)
		if sub == nil {
			return usageErrorf(node, name, "unknown command: %q", name)
		}
		node = sub
	}
	node.writeUsage(os.Stdout)
	return nil
}

type versionCommand struct {
	app *Appeal
}

func (v *versionCommand) Run(ctx context.Context) error {
	fmt.Printf("%s %s\n", v.app.name, v.app.version)
	return nil
}
