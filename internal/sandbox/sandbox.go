// Package sandbox builds the command line used to launch an agent CLI
// under process isolation. Three modes are supported: bwrap (Linux
// namespace sandbox via bubblewrap), container (Docker), and direct (no
// isolation, used for local development or when neither tool is
// available). Auto-detection prefers bwrap, then container, then direct.
package sandbox

import (
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/andywolf/borg/internal/security"
)

// Mode identifies which launcher builds the final command.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeBwrap     Mode = "bwrap"
	ModeContainer Mode = "container"
	ModeDirect    Mode = "direct"
)

// ParseMode maps a config string to a Mode, defaulting to auto on an
// empty or unrecognized value.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeBwrap, ModeContainer, ModeDirect:
		return Mode(s)
	default:
		return ModeAuto
	}
}

// Spec describes everything a launcher needs to assemble a command.
type Spec struct {
	// Command is the agent binary and its own arguments (e.g. claude, --print, ...).
	Command []string
	// WorkDir is mounted read-write and used as the working directory.
	WorkDir string
	// HomeDir is mounted read-write as $HOME (session-scoped, holds credentials).
	HomeDir string
	// Env is passed through to the agent process.
	Env map[string]string
	// Image is the container image to run when Mode resolves to container.
	Image string
	// Network allows the agent to reach the network (both bwrap and
	// container modes default to host networking when true, fully
	// isolated when false).
	Network bool
}

// Detect resolves ModeAuto (or a specific preference) to a concrete,
// available mode: bwrap first (Linux only), then Docker, then direct.
func Detect(ctx context.Context, preferred Mode) Mode {
	if preferred != ModeAuto {
		return preferred
	}
	if runtime.GOOS == "linux" && bwrapAvailable(ctx) {
		return ModeBwrap
	}
	if dockerAvailable(ctx) {
		return ModeContainer
	}
	return ModeDirect
}

func bwrapAvailable(ctx context.Context) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	return probe(ctx, "bwrap", "--version")
}

func dockerAvailable(ctx context.Context) bool {
	return probe(ctx, "docker", "version")
}

func probe(ctx context.Context, name string, args ...string) bool {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, name, args...)
	return cmd.Run() == nil
}

// BuildCommand resolves mode (following Detect semantics when mode is
// ModeAuto) and returns the argv a caller should exec.
func BuildCommand(ctx context.Context, mode Mode, spec Spec) ([]string, error) {
	resolved := Detect(ctx, mode)
	switch resolved {
	case ModeBwrap:
		return bwrapArgs(spec), nil
	case ModeContainer:
		return dockerArgs(spec), nil
	default:
		return directArgs(spec), nil
	}
}

// bwrapArgs builds the bubblewrap argv. Mount order matters: the root
// filesystem is bound read-only first, then /dev, /proc and tmpfs are
// layered on, then the work and home directories are bound read-write
// last so they take precedence over anything mounted beneath them.
func bwrapArgs(spec Spec) []string {
	args := []string{
		"bwrap",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--ro-bind-try", "/etc/resolv.conf", "/etc/resolv.conf",
		"--ro-bind-try", "/etc/ssl", "/etc/ssl",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--die-with-parent",
		"--unshare-pid",
	}
	if !spec.Network {
		args = append(args, "--unshare-net")
	}
	args = append(args,
		"--bind", spec.WorkDir, spec.WorkDir,
		"--bind", spec.HomeDir, spec.HomeDir,
		"--chdir", spec.WorkDir,
		"--setenv", "HOME", spec.HomeDir,
	)
	for k, v := range spec.Env {
		args = append(args, "--setenv", k, v)
	}
	args = append(args, "--")
	args = append(args, spec.Command...)
	return args
}

// dockerArgs builds the docker run argv. On Linux, privilege-escalation
// and capability hardening flags are added; they're omitted elsewhere
// since Docker Desktop's VM backends don't support them uniformly.
func dockerArgs(spec Spec) []string {
	args := []string{"docker", "run", "--rm", "-i"}
	if runtime.GOOS == "linux" {
		hardening := security.DefaultContainerSecurityOptions()
		hardening.PidsLimit = 256
		hardening.MemoryLimit = ""
		hardening.CPULimit = ""
		args = append(args, hardening.ToDockerArgs()...)
		if spec.Network {
			args = append(args, "--network", "host")
		} else {
			args = append(args, "--network", "none")
		}
	} else {
		args = append(args, "--pids-limit", "256")
	}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args,
		"-v", spec.WorkDir+":"+spec.WorkDir,
		"-v", spec.HomeDir+":"+spec.HomeDir,
		"-w", spec.WorkDir,
		"-e", "HOME="+spec.HomeDir,
	)
	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	return args
}

// directArgs runs the agent with no isolation at all: the returned argv
// is just the command itself, callers are expected to set Dir/Env on
// the exec.Cmd directly rather than relying on flags baked into argv.
func directArgs(spec Spec) []string {
	return append([]string{}, spec.Command...)
}
