package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// removeTimeout bounds the forced teardown of a timed out container.
const removeTimeout = 10 * time.Second

// DockerSandbox runs code in Docker containers through the docker CLI.
type DockerSandbox struct {
	Policy Policy
	Binary string

	log *logrus.Entry
}

// NewDockerSandbox creates a sandbox with the given policy.
func NewDockerSandbox(policy Policy, binary string, log *logrus.Logger) *DockerSandbox {
	if binary == "" {
		binary = "docker"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DockerSandbox{
		Policy: policy,
		Binary: binary,
		log:    log.WithField("component", "sandbox"),
	}
}

func (d *DockerSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if opts.Image == "" || opts.HostPath == "" || opts.FileName == "" {
		return nil, &ExecError{Op: "validate", Err: errors.New("image, host path and file name are required")}
	}
	if !d.Policy.IsImageAllowed(opts.Image) {
		return nil, &ExecError{Op: "validate", Err: fmt.Errorf("image %q not in allowlist", opts.Image)}
	}
	if opts.Name == "" {
		opts.Name = "crucible-" + uuid.NewString()
	}

	runCtx := ctx
	if d.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.Policy.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, d.Binary, d.Policy.Args(opts)...)
	// Killing the client must not leave Wait blocked on inherited pipes.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &ExecResult{Duration: time.Since(start)}

	if runCtx.Err() != nil {
		// The docker client is gone but the container may still be running.
		d.remove(opts.Name)
		if ctx.Err() != nil {
			return nil, &ExecError{Op: "run", Err: ctx.Err()}
		}
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		if res.Stderr != "" && !strings.HasSuffix(res.Stderr, "\n") {
			res.Stderr += "\n"
		}
		res.Stderr += fmt.Sprintf("execution timed out after %s\n", d.Policy.Timeout)
		res.ExitCode = -1
		res.TimedOut = true
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ExecError{Op: "run", Err: err}
		}
		res.ExitCode = exitErr.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

func (d *DockerSandbox) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, d.Binary, "rm", "-f", name).CombinedOutput()
	if err != nil {
		d.log.WithError(err).WithField("container", name).
			Warnf("force remove failed: %s", bytes.TrimSpace(out))
	}
}
