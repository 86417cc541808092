// Package runtime defines the container-runtime client interface the
// lifecycle controller consumes and the real implementation backing it,
// systemd-machined over D-Bus. The core never starts or stops a
// container itself; it only ever calls this interface.
package runtime

import (
	"context"
	"time"
)

// Machine is one entry of a List call: a running or starting instance as
// the external runtime reports it, not as the registry's own disk scan
// sees it.
type Machine struct {
	Name  string
	Class string
	State string
}

// StartOptions carries the few knobs the Lifecycle Controller needs to
// hand the runtime when starting an instance's rootfs as a machine.
type StartOptions struct {
	// Ephemeral requests a throwaway machine identity; the runtime is free
	// to ignore this if it doesn't support the concept.
	Ephemeral bool
}

// Status is the point-in-time state of a single named machine.
type Status struct {
	// Active reports whether the runtime currently tracks a machine by
	// this name at all.
	Active bool
	// Booted reports whether the machine has reached a running state,
	// i.e. it is active and has reached the multi-user target.
	Booted bool
	// State is the runtime's own state label (e.g. "opening", "running",
	// "closing"), surfaced for diagnostics.
	State string
}

// Client is the container-runtime collaborator the lifecycle controller
// and instance registry depend on. It is always reached through this
// interface — runtime.Machined is the only production implementation,
// runtime.Fake exists purely for tests.
type Client interface {
	// List enumerates every machine the runtime currently tracks.
	List(ctx context.Context) ([]Machine, error)
	// Start registers rootfsPath as a running machine named name.
	Start(ctx context.Context, name, rootfsPath string, opts StartOptions) error
	// Stop asks the runtime to terminate the named machine, waiting up to
	// timeout for it to do so.
	Stop(ctx context.Context, name string, timeout time.Duration) error
	// Status reports the current state of the named machine. A machine the
	// runtime has never heard of returns a zero Status and a nil error,
	// not a not-found error — "absent" is itself a valid status here.
	Status(ctx context.Context, name string) (Status, error)
}
