package resolver

import (
	"context"
	"os/exec"
)

// DockerRunner executes package manager commands inside a container so
// untrusted install scripts and build files never run on the host. The
// checkout directory is bind-mounted read-only at /work.
type DockerRunner struct {
	// Image is the container image holding the package manager toolchain,
	// e.g. "node:22-slim" or "rust:1".
	Image string

	// Network disables container networking when false, which is enough
	// for lockfile-based resolution and keeps resolution offline.
	Network bool
}

// NewDockerRunner creates a runner for the given toolchain image with
// networking disabled.
func NewDockerRunner(image string) DockerRunner {
	return DockerRunner{Image: image}
}

// Run executes the command in a fresh container with dir mounted at /work.
// Like ExecRunner, stdout is returned alongside any exit error so callers
// can salvage usable output from non-zero exits.
func (d DockerRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	dockerArgs := []string{"run", "--rm", "-v", dir + ":/work:ro", "-w", "/work"}
	if !d.Network {
		dockerArgs = append(dockerArgs, "--network", "none")
	}
	dockerArgs = append(dockerArgs, d.Image, name)
	dockerArgs = append(dockerArgs, args...)

	cmd := exec.CommandContext(ctx, "docker", dockerArgs...)
	out, err := cmd.Output()
	return out, err
}

var _ Runner = DockerRunner{}
