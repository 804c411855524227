// Copyright 2023 The Appeal Authors.

package appeal

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func compileType(t *testing.T, x interface{}) *compiled {
	t.Helper()
	app := New("test", "")
	comp, err := app.compileCommand("cmd", reflect.TypeOf(x).Elem(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return comp
}

func compileTypeErr(t *testing.T, x interface{}) error {
	t.Helper()
	app := New("test", "")
	_, err := app.compileCommand("cmd", reflect.TypeOf(x).Elem(), nil)
	return err
}

func programLines(p *program) []string {
	var lines []string
	for _, in := range p.code {
		lines = append(lines, in.String())
	}
	return lines
}

func TestCompileSimple(t *testing.T) {
	type hello struct {
		Name string
	}
	comp := compileType(t, &hello{})
	want := []string{
		"enter-converter hello",
		"consume-argument name",
		"call-converter hello",
		"end",
	}
	if diff := cmp.Diff(want, programLines(comp.main)); diff != "" {
		t.Errorf("program mismatch (-want, +got):\n%s", diff)
	}
}

func TestCompileOptionalGroup(t *testing.T) {
	type fgrep struct {
		Pattern  string
		Filename string `opt`
	}
	comp := compileType(t, &fgrep{})
	want := []string{
		"enter-converter fgrep",
		"consume-argument pattern",
		"optional-group-begin g1 ->4",
		"consume-argument filename",
		"optional-group-end g1",
		"call-converter fgrep",
		"end",
	}
	if diff := cmp.Diff(want, programLines(comp.main)); diff != "" {
		t.Errorf("program mismatch (-want, +got):\n%s", diff)
	}
}

func TestCompileEarlyMap(t *testing.T) {
	type inner struct {
		Value   string
		Verbose bool `option=v|verbose`
	}
	type outer struct {
		A string
		B inner `opt`
	}
	comp := compileType(t, &outer{})

	// Every option reachable inside the optional group is provisionally
	// mapped before the group begins, and retired after its end.
	lines := strings.Join(programLines(comp.main), "\n")
	for _, want := range []string{"early-map -v", "early-map --verbose", "unmap-option -v", "unmap-option --verbose"} {
		if !strings.Contains(lines, want) {
			t.Errorf("program lacks %q:\n%s", want, lines)
		}
	}
	early := strings.Index(lines, "early-map -v")
	begin := strings.Index(lines, "optional-group-begin")
	end := strings.Index(lines, "optional-group-end")
	unmap := strings.Index(lines, "unmap-option -v")
	if !(early < begin && begin < end && end < unmap) {
		t.Errorf("instruction order wrong:\n%s", lines)
	}
}

func TestCompileVarPositionalLoop(t *testing.T) {
	type fgrep struct {
		Pattern   string
		Filenames []string
	}
	comp := compileType(t, &fgrep{})
	lines := programLines(comp.main)
	var sawJump bool
	for _, l := range lines {
		if strings.HasPrefix(l, "jump") {
			sawJump = true
		}
	}
	if !sawJump {
		t.Errorf("no loop jump in program:\n%s", strings.Join(lines, "\n"))
	}
}

// The compiled grammar's positional slots must correspond one-to-one, in
// order, with the struct's positional fields.
func TestSignatureRoundTrip(t *testing.T) {
	type inner struct{ X, Y int }
	type cmd struct {
		A string
		B inner
		C float64
		D string `opt`
	}
	comp := compileType(t, &cmd{})
	var consumed []string
	for _, in := range comp.main.code {
		if in.op == opConsume {
			consumed = append(consumed, in.param.name)
		}
	}
	want := []string{"a", "x", "y", "c", "d"}
	if diff := cmp.Diff(want, consumed); diff != "" {
		t.Errorf("consume order mismatch (-want, +got):\n%s", diff)
	}
}

// Compiling the same type twice produces the identical program.
func TestCompileIdempotent(t *testing.T) {
	type inner struct {
		Value   string
		Verbose bool `option=v|verbose`
	}
	type cmd struct {
		A     string
		B     inner    `opt`
		Rest  []string
		Color string `option=color`
	}
	c1 := compileType(t, &cmd{})
	c2 := compileType(t, &cmd{})
	if diff := cmp.Diff(programLines(c1.main), programLines(c2.main)); diff != "" {
		t.Errorf("programs differ (-first, +second):\n%s", diff)
	}
}

func TestEnterCallBalance(t *testing.T) {
	type inner struct{ X, Y int }
	type cmd struct {
		A string
		B inner `opt`
		C []inner
	}
	comp := compileType(t, &cmd{})
	enters := map[*node]int{}
	calls := map[*node]int{}
	for _, in := range comp.main.code {
		switch in.op {
		case opEnter:
			enters[in.node]++
		case opCall:
			calls[in.node]++
		}
	}
	for n, e := range enters {
		if calls[n] != e {
			t.Errorf("node %s: %d enters, %d calls", n.name(), e, calls[n])
		}
	}
}

func TestCompileErrors(t *testing.T) {
	check := func(x interface{}, want string) {
		t.Helper()
		got := compileTypeErr(t, x)
		if got == nil || !strings.Contains(got.Error(), want) {
			t.Errorf("got %v, want error containing %q", got, want)
		}
	}

	// duplicate option spelling in the same scope
	type d1 struct {
		A string `option=x`
		B string `option=x`
	}
	check(&d1{}, "registered twice")

	// a var-positional converter that consumes nothing
	type empty struct {
		Verbose bool `option=v`
	}
	type d2 struct {
		Rest []empty
	}
	check(&d2{}, "at least one token")

	// a self-referential converter; Go only allows this through a pointer,
	// which is rejected outright
	check(&selfRef{}, "pointer fields")

	// unparseable field type
	type d3 struct {
		Ch chan int
	}
	check(&d3{}, "cannot parse")

	// default on a multi-token converter
	type inner struct{ X, Y int }
	type d4 struct {
		A inner `opt, default=zero`
	}
	check(&d4{}, "single-token")

	// unregistered parser
	type d5 struct {
		A string `parse=nope`
	}
	check(&d5{}, "no parser registered")

	// sibling converters mapping the same option string
	type w1 struct {
		V string `option=same`
	}
	type w2 struct {
		V string `option=same`
	}
	type d6 struct {
		A w1
		B w2
	}
	check(&d6{}, "same scope")
}

type selfRef struct {
	Name  string
	Child *selfRef
}

func TestOptionArity(t *testing.T) {
	type point struct{ X, Y int }
	type cmd struct {
		Verbose bool              `option=v`
		Color   string            `option=color`
		At      point             `option=at`
		Tags    map[string]string `option=tag, multi=mapping`
	}
	comp := compileType(t, &cmd{})
	for _, test := range []struct {
		option   string
		min, max int
	}{
		{"-v", 0, 0},
		{"--color", 1, 1},
		{"--at", 2, 2},
		{"--tag", 2, 2},
	} {
		specs := comp.allOptions[test.option]
		if len(specs) != 1 {
			t.Fatalf("%s: %d specs", test.option, len(specs))
		}
		if specs[0].minArgs != test.min || specs[0].maxArgs != test.max {
			t.Errorf("%s: arity (%d, %d), want (%d, %d)",
				test.option, specs[0].minArgs, specs[0].maxArgs, test.min, test.max)
		}
	}
}
