// Copyright 2023 The Appeal Authors.

/*
Package appeal derives command-line interfaces from the shape of Go structs.
A command is a struct with a Run method; its exported fields become the
command's arguments and options, as refined by struct tags. Unlike a flag
parser, appeal compiles the whole struct tree into a grammar: a field whose
type is itself a struct is a converter that consumes several tokens, and
may declare arguments and options of its own.

	type compare struct {
	  Verbose bool `option=v|verbose, more detail`
	  File1, File2 string
	}

	func (c *compare) Run(ctx context.Context) error {
	  return diff(c.Verbose, c.File1, c.File2)
	}

# Registration

Begin with a root instance for the program, then register commands:

	var app = appeal.New("myprog", "1.2.0")

	func init() {
	  app.Command("compare", &compare{}, "compare two files")
	}

	func main() {
	  os.Exit(app.Main(context.Background()))
	}

Command registers sub-commands in the same way on the value it returns.
GlobalCommand binds a struct whose options precede every command, and
Default names the command run when a group gets no sub-command. The help
and version commands, with -h/--help and -v/--version, are provided unless
their names collide with registered commands or options.

The prototype struct passed to Command supplies the defaults: whatever its
fields hold at registration is what the command sees when the corresponding
argument or option is absent.

# Struct tags

Field order is argument order. A field without a tag is a required
positional argument. A trailing slice field collects the remaining
arguments. The tag is a comma-separated list:

  - option: the field is an option rather than a positional argument. The
    value gives the spellings, separated by "|"; with no value, --kebab-name
    and the first free -letter are generated.
  - opt:   this positional is optional; every positional after it must be
    optional too (opt or default), or registration fails.
  - default: the default value, parsed like the argument itself.
  - name:  the display name used in usage text.
  - doc:   the usage string; the key may be omitted when the text is last.
  - oneof: a "|"-separated list the (string) value must match.
  - min:   minimum number of arguments for a trailing slice.
  - parse: the name of a converter registered with RegisterParser.
  - multi: the name of a MultiOption: counter, accumulator, mapping, or one
    registered with RegisterMultiOption.

A bool option consumes no value; using it negates the field's default. A
struct-typed field consumes one token per leaf of its own struct tree, and
its options become usable once the surrounding argument group is reachable.

# Grammar

Options may appear anywhere among the arguments. Short options concatenate:
-xvz means -x -v -z. An option taking exactly one optional value accepts
-ovalue and -o=value; long options accept --opt=value. A lone -- ends
option recognition. Optional arguments form groups that are filled all or
not at all: supplying any token of a group, or one of its options, commits
the whole group.

# Errors

Registration problems are ConfigurationErrors and panic or surface from
Freeze. Invalid command lines are UsageErrors: Main prints the message and
the usage line to standard error and exits 2. A command that needs a
particular exit status returns a CommandError.
*/
package appeal
