// Copyright 2023 The Appeal Authors.

package appeal

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type counted struct {
	Verbose int `option=v|verbose, multi=counter`
}

func TestCounter(t *testing.T) {
	got := parseCmd(t, &counted{}, "-v", "--verbose", "-v")
	if diff := cmp.Diff(&counted{Verbose: 3}, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	// Unused, the parameter keeps its default and no state object is made.
	got = parseCmd(t, &counted{})
	if diff := cmp.Diff(&counted{}, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestCounterStartsFromDefault(t *testing.T) {
	type c struct {
		N int `option=n, multi=counter, default=10`
	}
	got := parseCmd(t, &c{}, "-n", "-n")
	if diff := cmp.Diff(&c{N: 12}, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestAccumulator(t *testing.T) {
	type a struct {
		Define []string `option=D|define, multi=accumulator`
	}
	got := parseCmd(t, &a{}, "-D", "one", "--define", "two")
	if diff := cmp.Diff(&a{Define: []string{"one", "two"}}, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestAccumulatorStructElement(t *testing.T) {
	type hdr struct {
		Name, Value string
	}
	type a struct {
		Headers []hdr `option=H, multi=accumulator`
	}
	got := parseCmd(t, &a{}, "-H", "accept", "json", "-H", "agent", "appeal")
	want := &a{Headers: []hdr{{"accept", "json"}, {"agent", "appeal"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestMapping(t *testing.T) {
	type m struct {
		Env map[string]int `option=e, multi=mapping`
	}
	got := parseCmd(t, &m{}, "-e", "one", "1", "-e", "two", "2")
	want := &m{Env: map[string]int{"one": 1, "two": 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

// csvList joins its opargs, demonstrating a custom MultiOption.
type csvList struct {
	parts []string
}

func (c *csvList) Init(def interface{}) {
	if s, ok := def.(string); ok && s != "" {
		c.parts = append(c.parts, s)
	}
}

func (c *csvList) Option(v string) error {
	if v == "" {
		return fmt.Errorf("empty value")
	}
	c.parts = append(c.parts, v)
	return nil
}

func (c *csvList) Render() (interface{}, error) {
	return strings.Join(c.parts, ","), nil
}

func TestCustomMultiOption(t *testing.T) {
	type cmd struct {
		Tags string `option=t|tag, multi=csv`
	}
	app := New("test", "")
	app.RegisterMultiOption("csv", func() MultiOption { return &csvList{} })
	app.Command("cmd", &cmd{Tags: "base"}, "")
	p, err := app.NewProcessor("cmd")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Parse([]string{"-t", "x", "--tag", "y"}); err != nil {
		t.Fatal(err)
	}
	got := p.Result().(*cmd)
	if got.Tags != "base,x,y" {
		t.Errorf("tags: got %q, want %q", got.Tags, "base,x,y")
	}
}

func TestCustomMultiOptionErrors(t *testing.T) {
	type cmd struct {
		Tags string `option=t, multi=csv`
	}
	app := New("test", "")
	app.RegisterMultiOption("csv", func() MultiOption { return &csvList{} })
	app.Command("cmd", &cmd{}, "")
	p, err := app.NewProcessor("cmd")
	if err != nil {
		t.Fatal(err)
	}
	err = p.Parse([]string{"-t", ""})
	if err == nil || !strings.Contains(err.Error(), "empty value") {
		t.Errorf("got %v, want error containing %q", err, "empty value")
	}
}

func TestMultiOptionFieldMismatch(t *testing.T) {
	app := New("test", "")
	type bad struct {
		N string `option=n, multi=counter`
	}
	app.Command("bad", &bad{}, "")
	err := app.Freeze()
	if err == nil || !strings.Contains(err.Error(), "integer field") {
		t.Errorf("got %v, want error containing %q", err, "integer field")
	}
}
