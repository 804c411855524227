// Copyright 2023 The Appeal Authors.

package appeal

import (
	"errors"
	"fmt"
	"strings"
)

// The three error kinds. They are never conflated: ConfigurationError is a
// programming error raised while registering or compiling, UsageError means
// the command line itself is invalid, and CommandError carries a command's
// failure out to the process exit code.

// ConfigurationError reports misuse of the registration API, such as a bad
// struct tag or two conflicting options with the same string. It is raised
// at registration or compile time and is never caught by the dispatcher.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "appeal: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// UsageError means the user's command line is syntactically or semantically
// invalid. The top-level entry prints the usage line and exits with code 2.
type UsageError struct {
	cmd   *Appeal // command whose usage should be printed; may be nil
	Token string  // the offending token, if any
	Err   error
}

// NewUsageError wraps err as a UsageError. Command Run methods can return
// one to have their error treated as a usage problem (exit code 2, usage
// line printed) rather than a command failure.
func NewUsageError(err error) *UsageError {
	return &UsageError{Err: err}
}

func usageErrorf(cmd *Appeal, token, format string, args ...interface{}) *UsageError {
	return &UsageError{cmd: cmd, Token: token, Err: fmt.Errorf(format, args...)}
}

func (u *UsageError) Error() string {
	var b strings.Builder
	if u.cmd != nil {
		fmt.Fprintf(&b, "%s: %v\n", u.cmd.fullName(), u.Err)
		u.cmd.writeUsage(&b)
		s := b.String()
		return strings.TrimSuffix(s, "\n")
	}
	return u.Err.Error()
}

func (u *UsageError) Unwrap() error { return u.Err }

// CommandError is returned by a command to choose its own process exit code.
// A plain non-nil error from Run exits with code 1.
type CommandError struct {
	Code int
	Err  error
}

func (e *CommandError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error { return e.Err }

// exitCode maps an error from Run to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	var uerr *UsageError
	if errors.As(err, &uerr) {
		return 2
	}
	return 1
}
