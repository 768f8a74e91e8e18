// Package sys holds the state a WASI guest observes through host calls:
// the argument and environment vectors, clock and random sources, standard
// streams, and the file-descriptor table over the virtual filesystem.
package sys

import (
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/kpio-os/wasmcore/internal/wasip1"
	"github.com/kpio-os/wasmcore/vfs"
)

// Context is the per-instance WASI state. It is owned by one
// ExecutorContext and mutated only by that instance's single thread of
// execution.
type Context struct {
	args        []string
	argsSize    uint32
	environ     []string
	environSize uint32

	walltime   func() uint64
	nanotime   func() uint64
	randSource io.Reader

	fsc *FSContext
}

// Option configures a Context.
type Option func(*Context)

// WithArgs sets the argument vector. Arguments must be valid UTF-8.
func WithArgs(args ...string) Option {
	return func(c *Context) { c.args = args }
}

// WithEnviron sets the environment as "key=value" entries.
func WithEnviron(environ ...string) Option {
	return func(c *Context) { c.environ = environ }
}

// WithStdio sets the standard streams backing fds 0, 1 and 2. Any nil
// stream reads empty or discards writes.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(c *Context) {
		c.fsc.stdin = stdin
		c.fsc.stdout = stdout
		c.fsc.stderr = stderr
	}
}

// WithWalltime sets the realtime clock source, in nanoseconds since the
// epoch.
func WithWalltime(f func() uint64) Option {
	return func(c *Context) { c.walltime = f }
}

// WithNanotime sets the monotonic clock source.
func WithNanotime(f func() uint64) Option {
	return func(c *Context) { c.nanotime = f }
}

// WithRandSource sets the byte source for random_get.
func WithRandSource(r io.Reader) Option {
	return func(c *Context) { c.randSource = r }
}

// NewContext builds a Context over the given filesystem. The monotonic
// clock origin is the moment of the call.
func NewContext(fsys *vfs.FS, opts ...Option) (*Context, error) {
	if fsys == nil {
		fsys = vfs.New()
	}
	c := &Context{fsc: newFSContext(fsys)}
	for _, opt := range opts {
		opt(c)
	}
	for i, a := range c.args {
		if !utf8.ValidString(a) {
			return nil, fmt.Errorf("arg[%d] is not a valid UTF-8 string", i)
		}
		c.argsSize += uint32(len(a)) + 1 // NUL terminator
	}
	for i, e := range c.environ {
		if !utf8.ValidString(e) {
			return nil, fmt.Errorf("environ[%d] is not a valid UTF-8 string", i)
		}
		c.environSize += uint32(len(e)) + 1
	}
	if c.walltime == nil {
		c.walltime = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	if c.nanotime == nil {
		origin := time.Now()
		c.nanotime = func() uint64 { return uint64(time.Since(origin)) }
	}
	if c.randSource == nil {
		// Deterministic xorshift fallback. Embedders wanting cryptographic
		// randomness pass crypto/rand.Reader explicitly.
		c.randSource = &xorshift{state: 0x123456789abcdef0}
	}
	return c, nil
}

// Args returns the argument vector.
func (c *Context) Args() []string { return c.args }

// ArgsSize returns the total length of the NUL-terminated arguments.
func (c *Context) ArgsSize() uint32 { return c.argsSize }

// Environ returns the environment vector.
func (c *Context) Environ() []string { return c.environ }

// EnvironSize returns the total length of the NUL-terminated environment
// entries.
func (c *Context) EnvironSize() uint32 { return c.environSize }

// FS returns the file-descriptor table.
func (c *Context) FS() *FSContext { return c.fsc }

// RandomGet fills p from the random source.
func (c *Context) RandomGet(p []byte) error {
	_, err := io.ReadFull(c.randSource, p)
	return err
}

// ClockTime reads one of the Preview-1 clocks in nanoseconds. The process
// and thread CPU clocks alias the monotonic clock.
func (c *Context) ClockTime(id uint32) (uint64, wasip1.Errno) {
	switch id {
	case wasip1.ClockRealtime:
		return c.walltime(), wasip1.ErrnoSuccess
	case wasip1.ClockMonotonic, wasip1.ClockProcessCputime, wasip1.ClockThreadCputime:
		return c.nanotime(), wasip1.ErrnoSuccess
	}
	return 0, wasip1.ErrnoInval
}

type xorshift struct{ state uint64 }

func (x *xorshift) Read(p []byte) (int, error) {
	for i := range p {
		x.state ^= x.state << 13
		x.state ^= x.state >> 7
		x.state ^= x.state << 17
		p[i] = byte(x.state)
	}
	return len(p), nil
}
