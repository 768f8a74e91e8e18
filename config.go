package wasmcore

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kpio-os/wasmcore/vfs"
	"github.com/kpio-os/wasmcore/wasm"
)

// Config carries everything an instance observes from its embedder: the
// argument vector, environment, stdio, filesystem and preopens, clock and
// random sources, and extra host modules. Configs are immutable; each
// With* method returns a copy, so one base Config can branch per
// instance.
type Config struct {
	args    []string
	environ []string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	fs       *vfs.FS
	preopens []string

	walltime   func() uint64
	nanotime   func() uint64
	randSource io.Reader

	hostModules map[string]*wasm.HostModule

	hostLogger *logrus.Logger

	cacheSize int
}

// NewConfig returns the zero configuration: no args, no environment, a
// fresh empty filesystem, discarded stdio, real clocks, a deterministic
// random source, and no module cache.
func NewConfig() *Config {
	return &Config{}
}

func (c *Config) clone() *Config {
	out := *c
	out.args = append([]string{}, c.args...)
	out.environ = append([]string{}, c.environ...)
	out.preopens = append([]string{}, c.preopens...)
	out.hostModules = map[string]*wasm.HostModule{}
	for k, v := range c.hostModules {
		out.hostModules[k] = v
	}
	return &out
}

// WithArgs sets the argument vector; args[0] is conventionally the
// program name.
func (c *Config) WithArgs(args ...string) *Config {
	out := c.clone()
	out.args = append([]string{}, args...)
	return out
}

// WithEnv appends one "key=value" environment entry.
func (c *Config) WithEnv(key, value string) *Config {
	out := c.clone()
	out.environ = append(out.environ, key+"="+value)
	return out
}

// WithStdin sets the reader behind fd 0.
func (c *Config) WithStdin(r io.Reader) *Config {
	out := c.clone()
	out.stdin = r
	return out
}

// WithStdout sets the writer behind fd 1. The executor context captures
// fd 1 bytes regardless.
func (c *Config) WithStdout(w io.Writer) *Config {
	out := c.clone()
	out.stdout = w
	return out
}

// WithStderr sets the writer behind fd 2.
func (c *Config) WithStderr(w io.Writer) *Config {
	out := c.clone()
	out.stderr = w
	return out
}

// WithFS sets the filesystem instances resolve preopens against. Sharing
// one *vfs.FS between instances shares the tree; the filesystem itself is
// the synchronization boundary.
func (c *Config) WithFS(fsys *vfs.FS) *Config {
	out := c.clone()
	out.fs = fsys
	return out
}

// WithPreopen publishes path as a preopened directory. Preopens allocate
// fds in order starting at 3.
func (c *Config) WithPreopen(path string) *Config {
	out := c.clone()
	out.preopens = append(out.preopens, path)
	return out
}

// WithWalltime sets the realtime clock source in nanoseconds since the
// epoch. Freeze it for deterministic runs.
func (c *Config) WithWalltime(f func() uint64) *Config {
	out := c.clone()
	out.walltime = f
	return out
}

// WithNanotime sets the monotonic clock source.
func (c *Config) WithNanotime(f func() uint64) *Config {
	out := c.clone()
	out.nanotime = f
	return out
}

// WithRandSource sets the byte source behind random_get. Pass
// crypto/rand.Reader for cryptographic randomness; the default is a
// fixed-seed generator so runs are reproducible.
func (c *Config) WithRandSource(r io.Reader) *Config {
	out := c.clone()
	out.randSource = r
	return out
}

// WithHostModule registers an additional importable host module under
// name. The WASI module is always registered.
func (c *Config) WithHostModule(name string, hm *wasm.HostModule) *Config {
	out := c.clone()
	out.hostModules[name] = hm
	return out
}

// WithHostLogging logs every host call (function, parameters, errno)
// through logger.
func (c *Config) WithHostLogging(logger *logrus.Logger) *Config {
	out := c.clone()
	out.hostLogger = logger
	return out
}

// WithModuleCache bounds the compiled-module cache to size entries; zero
// disables caching.
func (c *Config) WithModuleCache(size int) *Config {
	out := c.clone()
	out.cacheSize = size
	return out
}
