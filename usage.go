// Copyright 2023 The Appeal Authors.

package appeal

import (
	"fmt"
	"io"
	"strings"
)

// Usage generation. The usage line is produced by re-reading the compiled
// program, not the converter tree: required positionals print as NAME,
// optional groups as [...], var-positional loops as [NAME]..., and options
// render where their MAP_OPTION or EARLY_MAP instructions sit.

// writeUsage writes the full usage text for this node: the header line,
// documented arguments and options, and any sub-commands.
func (a *Appeal) writeUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	a.usage(w, true)
}

func (a *Appeal) usage(w io.Writer, single bool) {
	if a.comp != nil {
		h := a.usageHeader()
		if single && len(h)+len(a.doc) <= 76 && a.doc != "" {
			fmt.Fprintf(w, "%s    %s\n", h, a.doc)
		} else {
			fmt.Fprintf(w, "%s\n", h)
			if a.doc != "" {
				fmt.Fprintf(w, "  %s\n", a.doc)
			}
		}
		a.writeParamDocs(w)
	} else if a.doc != "" || len(a.subs) == 0 {
		fmt.Fprintf(w, "%s\n  %s\n", a.fullName(), a.doc)
	}
	if single {
		for i, s := range a.subs {
			if i > 0 {
				fmt.Fprintln(w)
			}
			s.usage(w, false)
		}
	}
}

// usageHeader renders the one-line synopsis from the compiled program.
func (a *Appeal) usageHeader() string {
	var b strings.Builder
	b.WriteString(a.fullName())
	if a.comp != nil {
		b.WriteString(programUsage(a.comp.main))
	}
	return b.String()
}

// programUsage walks a program's instructions in order, accumulating the
// argument shape. Early-mapped options print just inside the bracket of
// their group, before its first positional.
func programUsage(p *program) string {
	var b strings.Builder
	seen := map[*optionSpec]bool{}
	var pendingEarly []*optionSpec

	for _, in := range p.code {
		switch in.op {
		case opMap:
			if !seen[in.spec] {
				seen[in.spec] = true
				fmt.Fprintf(&b, " [%s]", optionUsage(in.spec))
			}
		case opEarlyMap:
			if !seen[in.spec] {
				seen[in.spec] = true
				pendingEarly = append(pendingEarly, in.spec)
			}
		case opGroupBegin:
			b.WriteString(" [")
			for _, spec := range pendingEarly {
				fmt.Fprintf(&b, "[%s] ", optionUsage(spec))
			}
			pendingEarly = nil
		case opGroupEnd:
			// A var-positional loop jumps back before its end; the group
			// renders once, followed by an ellipsis.
			b.WriteString("]")
			if groupRepeats(p, in.group) {
				b.WriteString("...")
			}
		case opConsume:
			if s := b.String(); len(s) > 0 && (s[len(s)-1] == '[' || s[len(s)-1] == ' ') {
				// directly inside a bracket
			} else {
				b.WriteByte(' ')
			}
			b.WriteString(in.param.displayName())
		}
	}
	return b.String()
}

func groupRepeats(p *program, group int) bool {
	for _, in := range p.code {
		if in.op == opGroupBegin && in.group == group {
			return in.repeated
		}
	}
	return false
}

// optionUsage renders one option with its oparg shape: -v|--verbose, or
// --color COLOR, or --point X Y.
func optionUsage(spec *optionSpec) string {
	var b strings.Builder
	b.WriteString(spec.spellings())
	switch spec.conv.kind {
	case convToggle:
	case convPrimitive, convFunc:
		fmt.Fprintf(&b, " %s", strings.ToUpper(spec.param.name))
	case convMulti:
		for _, op := range spec.conv.opargs {
			fmt.Fprintf(&b, " %s", strings.ToUpper(op.name))
		}
	case convStruct:
		b.WriteString(programUsage(spec.prog))
	}
	return b.String()
}

// writeParamDocs lists the documented arguments and options: aligned name
// column, doc text, defaults where interesting.
func (a *Appeal) writeParamDocs(w io.Writer) {
	sig := a.comp.root.conv.sig
	for _, p := range sig.positional {
		if p.doc != "" {
			fmt.Fprintf(w, "  %-12s %s\n", p.displayName(), p.doc)
		}
	}
	if v := sig.varp; v != nil && v.doc != "" {
		fmt.Fprintf(w, "  %-12s %s\n", v.displayName(), v.doc)
	}
	for _, spec := range subtreeOptions(a.comp.root) {
		doc := spec.param.doc
		if def := spec.param.defTag; def != "" {
			doc = strings.TrimSpace(doc + fmt.Sprintf(" (default %s)", def))
		}
		if doc != "" {
			fmt.Fprintf(w, "  %-12s %s\n", optionUsage(spec), doc)
		}
	}
}
