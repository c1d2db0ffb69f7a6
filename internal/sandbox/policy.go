package sandbox

import (
	"path"
	"slices"
	"strconv"
	"time"
)

// MountDir is where the single source file is mounted inside the container.
const MountDir = "/code"

// Policy defines the isolation applied to every sandbox run.
type Policy struct {
	Memory    string        // docker memory limit, also used as the swap limit
	CPUs      string        // docker --cpus value
	PidsLimit int           // maximum processes inside the container
	Network   bool          // whether network access is allowed
	Timeout   time.Duration // wall clock limit, 0 disables
	Images    []string      // allowed images, empty allows any
}

// DefaultPolicy returns the limits every job runs under.
func DefaultPolicy() Policy {
	return Policy{
		Memory:    "100m",
		CPUs:      "0.5",
		PidsLimit: 50,
		Network:   false,
		Timeout:   30 * time.Second,
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	if len(p.Images) == 0 {
		return true
	}
	return slices.Contains(p.Images, image)
}

// Args returns the docker arguments for opts under this policy.
func (p Policy) Args(opts ExecOpts) []string {
	args := []string{"run", "--rm", "--name", opts.Name}
	if !p.Network {
		args = append(args, "--network", "none")
	}
	if p.Memory != "" {
		args = append(args, "--memory", p.Memory, "--memory-swap", p.Memory)
	}
	if p.CPUs != "" {
		args = append(args, "--cpus", p.CPUs)
	}
	if p.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(p.PidsLimit))
	}
	args = append(args, "-v", opts.HostPath+":"+path.Join(MountDir, opts.FileName)+":ro")
	args = append(args, opts.Image)
	return append(args, opts.Command...)
}
