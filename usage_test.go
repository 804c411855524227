// Copyright 2023 The Appeal Authors.

package appeal

import (
	"strings"
	"testing"
)

func headerOf(t *testing.T, proto interface{}) string {
	t.Helper()
	app := New("prog", "")
	cmd := app.Command("cmd", proto, "")
	if err := app.Freeze(); err != nil {
		t.Fatal(err)
	}
	return cmd.usageHeader()
}

func TestUsageHeader(t *testing.T) {
	type inner struct {
		Value   string
		Verbose bool `option=v|verbose`
	}
	for _, test := range []struct {
		name  string
		proto interface{}
		want  string
	}{
		{
			name:  "required",
			proto: &struct{ Pattern string }{},
			want:  "prog cmd PATTERN",
		},
		{
			name: "optional group",
			proto: &struct {
				Pattern  string
				Filename string `opt`
			}{},
			want: "prog cmd PATTERN [FILENAME]",
		},
		{
			name: "var positional",
			proto: &struct {
				Pattern string
				Files   []string
			}{},
			want: "prog cmd PATTERN [FILES]...",
		},
		{
			name: "options first",
			proto: &struct {
				Color   string `option=color`
				Pattern string
			}{},
			want: "prog cmd [--color COLOR] PATTERN",
		},
		{
			name: "toggle",
			proto: &struct {
				Quiet bool `option=q|quiet`
			}{},
			want: "prog cmd [-q|--quiet]",
		},
		{
			name: "early mapped options render inside their group",
			proto: &struct {
				A string
				B inner `opt`
			}{},
			want: "prog cmd A [[-v|--verbose] VALUE]",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := headerOf(t, test.proto); got != test.want {
				t.Errorf("got  %q\nwant %q", got, test.want)
			}
		})
	}
}

func TestUsageError(t *testing.T) {
	app := New("prog", "")
	app.Command("cmd", &struct{ Pattern string }{}, "find things")
	err := app.Run(nil, []string{"cmd"})
	if err == nil {
		t.Fatal("want error")
	}
	text := err.Error()
	for _, want := range []string{
		"prog cmd: missing required argument PATTERN",
		"Usage:",
		"prog cmd PATTERN",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("error text lacks %q:\n%s", want, text)
		}
	}
}

func TestGroupUsageListsSubcommands(t *testing.T) {
	var calls []string
	app := newTestApp(&calls)
	var b strings.Builder
	app.findSub("grp").writeUsage(&b)
	text := b.String()
	for _, want := range []string{"sub", "other"} {
		if !strings.Contains(text, want) {
			t.Errorf("group usage lacks %q:\n%s", want, text)
		}
	}
}
