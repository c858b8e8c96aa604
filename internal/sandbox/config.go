package sandbox

import (
	"fmt"
	"math"
	"time"

	"github.com/docker/go-units"
)

// Default configuration values. They describe the resource envelope every
// sandbox is created with.
const (
	DefaultImage        = "ubuntu:22.04"
	DefaultShell        = "/bin/bash"
	DefaultMemory       = "150m"
	DefaultCPUs         = 0.3
	DefaultMaxProcesses = 100
	DefaultMaxOpenFiles = 64
	DefaultStopTimeout  = 10 * time.Second
	DefaultNamePrefix   = "shellbox"
)

// Config holds the sandbox image and resource envelope.
type Config struct {
	// DockerHost overrides DOCKER_HOST when set, e.g. "tcp://10.0.0.2:2375".
	DockerHost string

	// Image is the container image every sandbox runs.
	// Default: ubuntu:22.04
	Image string

	// Shell is the long-lived foreground process and the interpreter used
	// for exec.
	// Default: /bin/bash
	Shell string

	// Memory is the memory ceiling in docker notation ("150m", "1g").
	// Swap is disabled by setting memory+swap to the same value.
	// Default: 150m
	Memory string

	// CPUs is the CPU quota as a fraction of one core.
	// Default: 0.3
	CPUs float64

	// MaxProcesses is the PID ceiling.
	// Default: 100
	MaxProcesses int64

	// MaxOpenFiles is the nofile ulimit, applied as both soft and hard.
	// Default: 64
	MaxOpenFiles int64

	// NetworkEnabled attaches the default network if true.
	// Default: false (no network interfaces)
	NetworkEnabled bool

	// UseGVisor selects the runsc runtime.
	UseGVisor bool

	// ReadOnlyRootfs mounts the image read-only.
	// Default: false, owners may write scratch files
	ReadOnlyRootfs bool

	// StopTimeout is the grace period given to the shell on teardown.
	// Default: 10s
	StopTimeout time.Duration

	// NamePrefix prefixes container names.
	// Default: shellbox
	NamePrefix string
}

// DefaultConfig returns a Config with the standard envelope.
func DefaultConfig() Config {
	return Config{
		Image:        DefaultImage,
		Shell:        DefaultShell,
		Memory:       DefaultMemory,
		CPUs:         DefaultCPUs,
		MaxProcesses: DefaultMaxProcesses,
		MaxOpenFiles: DefaultMaxOpenFiles,
		StopTimeout:  DefaultStopTimeout,
		NamePrefix:   DefaultNamePrefix,
	}
}

// WithImage returns a copy of the config with the specified image.
func (c Config) WithImage(image string) Config {
	c.Image = image
	return c
}

// WithMemory returns a copy of the config with the specified memory limit.
func (c Config) WithMemory(memory string) Config {
	c.Memory = memory
	return c
}

// WithCPUs returns a copy of the config with the specified CPU quota.
func (c Config) WithCPUs(cpus float64) Config {
	c.CPUs = cpus
	return c
}

// WithMaxProcesses returns a copy of the config with the specified PID limit.
func (c Config) WithMaxProcesses(max int64) Config {
	c.MaxProcesses = max
	return c
}

// WithNetwork returns a copy of the config with network enabled or disabled.
func (c Config) WithNetwork(enabled bool) Config {
	c.NetworkEnabled = enabled
	return c
}

// WithGVisor returns a copy of the config with gVisor enabled or disabled.
func (c Config) WithGVisor(enabled bool) Config {
	c.UseGVisor = enabled
	return c
}

// Validate applies defaults to zero fields and rejects values that cannot be
// turned into a container envelope.
func (c *Config) Validate() error {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.Memory == "" {
		c.Memory = DefaultMemory
	}
	if _, err := units.RAMInBytes(c.Memory); err != nil {
		return fmt.Errorf("invalid memory limit %q: %w", c.Memory, err)
	}
	if c.CPUs <= 0 {
		c.CPUs = DefaultCPUs
	}
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = DefaultMaxProcesses
	}
	if c.MaxOpenFiles <= 0 {
		c.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.NamePrefix == "" {
		c.NamePrefix = DefaultNamePrefix
	}
	return nil
}

// MemoryBytes returns the memory ceiling in bytes. Validate must have
// succeeded first.
func (c Config) MemoryBytes() int64 {
	n, _ := units.RAMInBytes(c.Memory)
	return n
}

// NanoCPUs returns the CPU quota in units of 1e-9 CPUs.
func (c Config) NanoCPUs() int64 {
	return int64(math.Round(c.CPUs * 1e9))
}
