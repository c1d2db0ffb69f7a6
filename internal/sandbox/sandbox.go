// Package sandbox runs untrusted programs in throwaway containers.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// ExecOpts describes one sandboxed run.
type ExecOpts struct {
	Name     string   // container name, generated when empty
	Image    string   // docker image
	Command  []string // argv inside the container
	HostPath string   // source file on the host
	FileName string   // mounted read-only at MountDir/FileName
}

// ExecResult is the output of a sandboxed execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Failed reports whether the run counts as an execution error: anything on
// stderr, a non-zero exit, or a timeout.
func (r *ExecResult) Failed() bool {
	return r.TimedOut || r.ExitCode != 0 || r.Stderr != ""
}

// Output is stdout when present, otherwise stderr.
func (r *ExecResult) Output() string {
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// ExecError means the container could not be launched or supervised.
// A program that runs and fails is not an ExecError.
type ExecError struct {
	Op  string
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Sandbox runs code in an isolated environment.
type Sandbox interface {
	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
}
