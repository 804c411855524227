// Copyright 2023 The Appeal Authors.

package appeal

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTagToMap(t *testing.T) {
	for _, test := range []struct {
		tag  string
		want map[string]string
	}{
		{"", map[string]string{}},
		{
			" option=v|verbose,\t name=n, some doc   ",
			map[string]string{
				"option": "v|verbose",
				"name":   "n",
				"doc":    "some doc",
			},
		},
		{
			"oneof=a|b",
			map[string]string{"oneof": "a|b"},
		},
		{
			"opt, default=3, the doc",
			map[string]string{"opt": "", "default": "3", "doc": "the doc"},
		},
		{
			"opt",
			map[string]string{"opt": ""},
		},
		{
			"option=, counts things",
			map[string]string{"option": "", "doc": "counts things"},
		},
	} {
		got := tagToMap(test.tag)
		if !cmp.Equal(got, test.want) {
			t.Errorf("%q:\ngot  %+v\nwant %+v", test.tag, got, test.want)
		}
	}
}

func TestKebab(t *testing.T) {
	for _, test := range []struct {
		in, want string
	}{
		{"Name", "name"},
		{"IgnoreCase", "ignore-case"},
		{"MinGPA", "min-gpa"},
		{"A", "a"},
		{"HTTPPort", "httpport"},
	} {
		if got := kebab(test.in); got != test.want {
			t.Errorf("kebab(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestNormalizeOption(t *testing.T) {
	for _, test := range []struct {
		in, want string
	}{
		{"v", "-v"},
		{"verbose", "--verbose"},
		{"-v", "-v"},
		{"--verbose", "--verbose"},
	} {
		if got := normalizeOption(test.in); got != test.want {
			t.Errorf("normalizeOption(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestSignatureOf(t *testing.T) {
	type cmd struct {
		Pattern   string   `the pattern`
		Filenames []string `min=1, files to search`
		Color     string   `option=color, highlight color`
		Verbose   bool     `option=v|verbose`
	}
	sig, err := signatureOf(reflect.TypeOf(cmd{}))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(sig.positional), 1; got != want {
		t.Fatalf("positional count: got %d, want %d", got, want)
	}
	if sig.positional[0].name != "pattern" {
		t.Errorf("positional name: got %q", sig.positional[0].name)
	}
	if sig.varp == nil || sig.varp.name != "filenames" || sig.varp.min != 1 {
		t.Errorf("varp: got %+v", sig.varp)
	}
	var kw []string
	for _, p := range sig.keyword {
		kw = append(kw, p.name)
	}
	if diff := cmp.Diff([]string{"color", "verbose"}, kw); diff != "" {
		t.Errorf("keyword mismatch (-want, +got):\n%s", diff)
	}
	if got := sig.keyword[1].options; !cmp.Equal(got, []string{"-v", "--verbose"}) {
		t.Errorf("verbose spellings: got %v", got)
	}
	// Keyword-only parameters always have a default.
	for _, p := range sig.keyword {
		if !p.hasDefault {
			t.Errorf("keyword %s has no default", p.name)
		}
	}
}

func TestSignatureOfErrors(t *testing.T) {
	check := func(x interface{}, want string) {
		t.Helper()
		_, got := signatureOf(reflect.TypeOf(x))
		if got == nil || !strings.Contains(got.Error(), want) {
			t.Errorf("got %v, want error containing %q", got, want)
		}
	}

	// tag on unexported field
	type t1 struct {
		f int `some doc`
	}
	check(t1{}, "unexported")

	// slice is not last
	type t2 struct {
		A []int `doc`
		B bool  `doc`
	}
	check(t2{}, "last")

	// required after optional
	type t3 struct {
		A string `opt`
		B string
	}
	check(t3{}, "follows an optional")

	// two var-positionals
	type t4 struct {
		A []string
		B []string
	}
	check(t4{}, "more than one var-positional")

	// min on a scalar
	type t5 struct {
		A int `min=2`
	}
	check(t5{}, "min is only for")

	// opt on an option
	type t6 struct {
		A string `option=a, opt`
	}
	check(t6{}, `"opt" applies only`)

	// empty default on a non-string field, option and positional alike
	type t7 struct {
		A int `option=a, default=`
	}
	check(t7{}, "cannot be empty")
	type t7b struct {
		A int `opt, default=`
	}
	check(t7b{}, "cannot be empty")

	// bad tag key
	type t8 struct {
		A string `flag=a`
	}
	check(t8{}, "invalid key")

	// multi on a positional
	type t9 struct {
		A int `multi=counter`
	}
	check(t9{}, "multi is only for option")
}
