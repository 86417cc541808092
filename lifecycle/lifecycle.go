// Package lifecycle implements the controller driving the state machine
// coordinating add → mount → start → stop → commit/rollback → unmount →
// remove, the sole mutator in the system. It asks the layer manager to
// materialize or tear down a stacked view, asks the container runtime to
// start or stop, and invokes the diff engine (via the layer manager) when
// committing.
package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/ciel-container/ciel/layer"
	"github.com/ciel-container/ciel/registry"
	"github.com/ciel-container/ciel/runtime"
	"github.com/ciel-container/ciel/workspace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ciel-container/ciel/pkg/tracing"
)

// State is one of the five states an instance moves through.
type State int

const (
	Absent State = iota
	Defined
	Mounted
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Absent:
		return "Absent"
	case Defined:
		return "Defined"
	case Mounted:
		return "Mounted"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// DefaultStopTimeout bounds how long Stop waits for the runtime to
// terminate an instance when WithStopTimeout does not override it.
const DefaultStopTimeout = 30 * time.Second

// Option configures a Controller at construction.
type Option func(*Controller)

// WithAdvisoryLock enables a per-instance advisory lock file
// (instances/<name>/.lock, taken with unix.Flock) around every mutating
// operation. Useful for a long-lived embedding that needs to serialize
// concurrent callers itself; the one-shot CLI leaves it off, relying on
// process-per-invocation serialization instead.
func WithAdvisoryLock() Option {
	return func(c *Controller) { c.advisoryLock = true }
}

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) { c.stopTimeout = d }
}

// Controller drives one workspace's instances through their states. It
// never caches state across calls — every query re-derives State from the
// mount probe and the container runtime, the live sources of truth.
type Controller struct {
	ws           *workspace.Workspace
	reg          *registry.Registry
	rt           runtime.Client
	advisoryLock bool
	stopTimeout  time.Duration
	log          *logrus.Entry
}

// New builds a Controller over ws, using rt as the container-runtime
// collaborator.
func New(ws *workspace.Workspace, rt runtime.Client, opts ...Option) *Controller {
	c := &Controller{
		ws:          ws,
		reg:         registry.New(ws, rt),
		rt:          rt,
		stopTimeout: DefaultStopTimeout,
		log:         logrus.WithField("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) newLayer(name string) (*layer.OverlayLayer, error) {
	return layer.NewOverlayLayer(c.ws, name)
}

// withLock runs fn, optionally holding instances/<name>/.lock for its
// duration when the controller was built WithAdvisoryLock.
func (c *Controller) withLock(name string, fn func() error) error {
	if !c.advisoryLock {
		return fn()
	}

	// Add runs before the instance directory exists, so create it here to
	// have somewhere to put the lock file.
	instDir := c.ws.InstanceDir(name)
	if err := os.MkdirAll(instDir, 0o755); err != nil {
		return &cerrors.IoError{Path: instDir, Wrapped: err}
	}
	lockPath := filepath.Join(instDir, ".lock")
	fd, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return &cerrors.IoError{Path: lockPath, Wrapped: err}
	}
	defer unix.Close(fd)

	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return &cerrors.Busy{Name: name, Reason: "advisory lock held by another process"}
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	return fn()
}

// State reports the current state of the named instance by querying the
// registry's on-disk resolution, the Mount Probe, and the runtime in
// sequence — never a cached flag.
func (c *Controller) State(ctx context.Context, name string) (State, error) {
	if _, err := c.reg.Resolve(name); err != nil {
		if cerrors.AsNotFound(err) {
			return Absent, nil
		}
		return Absent, err
	}

	l, err := c.newLayer(name)
	if err != nil {
		return Absent, err
	}
	mounted, err := l.IsMounted()
	if err != nil {
		return Absent, err
	}
	if !mounted {
		return Defined, nil
	}

	status, err := c.rt.Status(ctx, name)
	if err != nil {
		return Absent, err
	}
	if status.Active {
		return Running, nil
	}
	return Mounted, nil
}

// Add transitions Absent -> Defined: create the directory skeleton.
func (c *Controller) Add(ctx context.Context, name, note string) (err error) {
	_, end := tracing.StartSpan(ctx, "lifecycle.add")
	defer end(&err)

	return c.withLock(name, func() error {
		c.log.WithField("instance", name).Info("add")
		return c.reg.Add(name, note)
	})
}

// Mount transitions Defined -> Mounted.
func (c *Controller) Mount(ctx context.Context, name string) (err error) {
	_, end := tracing.StartSpan(ctx, "lifecycle.mount")
	defer end(&err)

	return c.withLock(name, func() error {
		l, err := c.newLayer(name)
		if err != nil {
			return err
		}
		c.log.WithField("instance", name).Info("mount")
		return l.Mount()
	})
}

// Unmount transitions Mounted -> Defined.
func (c *Controller) Unmount(ctx context.Context, name string) (err error) {
	_, end := tracing.StartSpan(ctx, "lifecycle.unmount")
	defer end(&err)

	return c.withLock(name, func() error {
		l, err := c.newLayer(name)
		if err != nil {
			return err
		}
		c.log.WithField("instance", name).Info("unmount")
		return l.Unmount()
	})
}

// Remove transitions Defined -> Absent.
func (c *Controller) Remove(ctx context.Context, name string) (err error) {
	_, end := tracing.StartSpan(ctx, "lifecycle.remove")
	defer end(&err)

	return c.withLock(name, func() error {
		l, err := c.newLayer(name)
		if err != nil {
			return err
		}
		c.log.WithField("instance", name).Info("remove")
		return l.Destroy()
	})
}

// Start transitions Mounted -> Running by asking the container runtime to
// boot the instance's mounted root. The runtime, not the controller, owns
// process supervision from here on; the controller's job is presenting
// it with the right rootfs path and recording the attempt in its logs.
func (c *Controller) Start(ctx context.Context, name string, opts runtime.StartOptions) (err error) {
	ctx, end := tracing.StartSpan(ctx, "lifecycle.start")
	defer end(&err)

	return c.withLock(name, func() error {
		l, err := c.newLayer(name)
		if err != nil {
			return err
		}
		mounted, err := l.IsMounted()
		if err != nil {
			return err
		}
		if !mounted {
			return &cerrors.NotMounted{Target: l.MountPoint()}
		}

		c.log.WithField("instance", name).Info("start")
		return c.rt.Start(ctx, name, l.MountPoint(), opts)
	})
}

// Stop asks the runtime to terminate the instance, transitioning
// Running -> Mounted. The runtime call is bounded by the stop timeout;
// when that runs out, Stop returns the runtime's error and sends no
// forced kill of its own.
func (c *Controller) Stop(ctx context.Context, name string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "lifecycle.stop")
	defer end(&err)

	return c.withLock(name, func() error {
		c.log.WithField("instance", name).Info("stop")
		if err := c.rt.Stop(ctx, name, c.stopTimeout); err != nil {
			return cerrors.Wrap(err, "stop instance %s", name)
		}
		return nil
	})
}

// Commit transitions Mounted -> Mounted: the layer merge itself requires
// the instance to be unmounted, so Commit unmounts first if needed, then
// remounts once the merge is done so callers see the instance still
// mounted afterward.
func (c *Controller) Commit(ctx context.Context, name string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "lifecycle.commit")
	defer end(&err)

	return c.withLock(name, func() error {
		status, err := c.rt.Status(ctx, name)
		if err != nil {
			return err
		}
		if status.Active {
			return &cerrors.Busy{Name: name, Reason: "instance is active"}
		}

		l, err := c.newLayer(name)
		if err != nil {
			return err
		}

		mounted, err := l.IsMounted()
		if err != nil {
			return err
		}
		if mounted {
			if err := l.Unmount(); err != nil {
				return err
			}
		}

		c.log.WithField("instance", name).Info("commit")
		if err := l.Commit(); err != nil {
			return err
		}

		if mounted {
			return l.Mount()
		}
		return nil
	})
}

// Rollback transitions Mounted -> Mounted, same unmount-first rule as
// Commit.
func (c *Controller) Rollback(ctx context.Context, name string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "lifecycle.rollback")
	defer end(&err)

	return c.withLock(name, func() error {
		status, err := c.rt.Status(ctx, name)
		if err != nil {
			return err
		}
		if status.Active {
			return &cerrors.Busy{Name: name, Reason: "instance is active"}
		}

		l, err := c.newLayer(name)
		if err != nil {
			return err
		}

		mounted, err := l.IsMounted()
		if err != nil {
			return err
		}
		if mounted {
			if err := l.Unmount(); err != nil {
				return err
			}
		}

		c.log.WithField("instance", name).Info("rollback")
		if err := l.Rollback(); err != nil {
			return err
		}

		if mounted {
			return l.Mount()
		}
		return nil
	})
}
