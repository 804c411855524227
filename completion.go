// Copyright 2023 The Appeal Authors.

package appeal

import (
	"strings"

	"github.com/posener/complete/v2"
)

// Shell completion over the command tree, via github.com/posener/complete.
// Completion is answered from the compiled grammar: sub-command names and
// the option spellings mapped anywhere in the resolved command's program.
// To install completion for a program, run it with COMP_INSTALL=1.

type completer struct {
	a *Appeal
}

func (a *Appeal) installCompletion() {
	if err := a.Freeze(); err != nil {
		return
	}
	complete.Complete(a.name, completer{a})
}

func (c completer) SubCmdList() []string {
	var names []string
	for _, s := range c.a.subs {
		names = append(names, s.name)
	}
	return names
}

func (c completer) SubCmdGet(name string) complete.Completer {
	sub := c.a.findSub(name)
	if sub == nil {
		return nil
	}
	return completer{sub}
}

func (c completer) FlagList() []string {
	if c.a.comp == nil {
		return nil
	}
	var names []string
	for s := range c.a.comp.allOptions {
		if strings.HasPrefix(s, "--") {
			names = append(names, strings.TrimPrefix(s, "--"))
		}
	}
	return names
}

func (c completer) FlagGet(string) complete.Predictor { return nil }

func (c completer) ArgsGet() complete.Predictor { return nil }
