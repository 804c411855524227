// Copyright 2023 The Appeal Authors.

package appeal

import (
	"fmt"
	"strings"
)

// The grammar program. Compilation flattens a converter tree into a linear
// sequence of instructions; the interpreter drives the argument stream
// against it. Programs are immutable once assembled and safe to share
// between concurrent processors.

type opcode int8

const (
	opEnter      opcode = iota // ENTER_CONVERTER: begin a pending frame
	opConsume                  // CONSUME_ARGUMENT: next token into a parameter
	opMap                      // MAP_OPTION: option becomes recognizable
	opEarlyMap                 // EARLY_MAP: provisional map inside an optional group
	opUnmap                    // UNMAP_OPTION: retire a provisional mapping
	opGroupBegin               // OPTIONAL_GROUP_BEGIN
	opGroupEnd                 // OPTIONAL_GROUP_END
	opJump                     // internal branch, used for var-positional loops
	opCall                     // CALL_CONVERTER: finalize a frame into its parent slot
	opEnd                      // END_PROGRAM
)

var opcodeNames = map[opcode]string{
	opEnter:      "enter-converter",
	opConsume:    "consume-argument",
	opMap:        "map-option",
	opEarlyMap:   "early-map",
	opUnmap:      "unmap-option",
	opGroupBegin: "optional-group-begin",
	opGroupEnd:   "optional-group-end",
	opJump:       "jump",
	opCall:       "call-converter",
	opEnd:        "end",
}

func (o opcode) String() string { return opcodeNames[o] }

// instr is one instruction. Which fields are meaningful depends on op:
//
//	opEnter, opCall        node
//	opConsume              node, param
//	opMap, opEarlyMap      option, spec, group (earlyMap: committing group)
//	opUnmap                option, group
//	opGroupBegin           group, target (address past the matching end)
//	opGroupEnd             group
//	opJump                 target
type instr struct {
	op       opcode
	node     *node
	param    *parameter
	option   string
	spec     *optionSpec
	group    int
	target   int  // resolved jump/skip address
	repeated bool // opGroupBegin: a var-positional loop group
}

func (i instr) String() string {
	var b strings.Builder
	b.WriteString(i.op.String())
	switch i.op {
	case opEnter, opCall:
		fmt.Fprintf(&b, " %s", i.node.name())
	case opConsume:
		fmt.Fprintf(&b, " %s", i.param.name)
	case opMap, opEarlyMap, opUnmap:
		fmt.Fprintf(&b, " %s", i.option)
	case opGroupBegin:
		fmt.Fprintf(&b, " g%d ->%d", i.group, i.target)
	case opGroupEnd:
		fmt.Fprintf(&b, " g%d", i.group)
	case opJump:
		fmt.Fprintf(&b, " ->%d", i.target)
	}
	return b.String()
}

// program is an assembled instruction sequence. Option converters compile to
// their own programs, invoked by the interpreter when the option is
// encountered.
type program struct {
	name string
	code []instr
}

func (p *program) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "program %s\n", p.name)
	for i, in := range p.code {
		fmt.Fprintf(&b, "  %3d %s\n", i, in)
	}
	return b.String()
}

// assembler accumulates instructions with symbolic labels, then resolves
// them to addresses. Labels may be referenced before they are placed.
type assembler struct {
	name      string
	code      []instr
	labels    []int // label id -> address, -1 until placed
	jumpFixes []jumpFix
}

type jumpFix struct {
	addr  int // instruction whose target needs resolving
	label int
}

func newAssembler(name string) *assembler {
	return &assembler{name: name}
}

func (a *assembler) emit(i instr) int {
	a.code = append(a.code, i)
	return len(a.code) - 1
}

// label allocates a new unplaced label.
func (a *assembler) label() int {
	a.labels = append(a.labels, -1)
	return len(a.labels) - 1
}

// place pins label l at the next instruction address.
func (a *assembler) place(l int) {
	a.labels[l] = len(a.code)
}

// emitJump emits a jump to label l, resolved at assembly.
func (a *assembler) emitJump(op opcode, i instr, l int) {
	i.op = op
	addr := a.emit(i)
	a.jumpFixes = append(a.jumpFixes, jumpFix{addr: addr, label: l})
}

// assemble resolves labels and runs the peephole pass.
func (a *assembler) assemble() (*program, error) {
	for _, fix := range a.jumpFixes {
		target := a.labels[fix.label]
		if target < 0 {
			return nil, configErrorf("program %s: unplaced label %d", a.name, fix.label)
		}
		a.code[fix.addr].target = target
	}
	p := &program{name: a.name, code: a.code}
	p.peephole()
	return p, nil
}

// peephole eliminates jump-to-jump chains: a branch whose target is itself
// an unconditional jump is retargeted to the final destination.
func (p *program) peephole() {
	final := func(addr int) int {
		seen := map[int]bool{}
		for addr < len(p.code) && p.code[addr].op == opJump && !seen[addr] {
			seen[addr] = true
			addr = p.code[addr].target
		}
		return addr
	}
	for i := range p.code {
		switch p.code[i].op {
		case opJump, opGroupBegin:
			p.code[i].target = final(p.code[i].target)
		}
	}
}
