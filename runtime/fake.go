package runtime

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Client double for exercising the lifecycle
// controller without a real systemd-machined: a lightweight stand-in
// that implements the real interface.
type Fake struct {
	mu        sync.Mutex
	machines  map[string]Machine
	lastStart map[string]StartOptions
}

// NewFake returns an empty Fake runtime.
func NewFake() *Fake {
	return &Fake{
		machines:  make(map[string]Machine),
		lastStart: make(map[string]StartOptions),
	}
}

func (f *Fake) List(ctx context.Context) ([]Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Machine, 0, len(f.machines))
	for _, m := range f.machines {
		out = append(out, m)
	}
	return out, nil
}

func (f *Fake) Start(ctx context.Context, name, rootfsPath string, opts StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.machines[name] = Machine{Name: name, Class: "container", State: "running"}
	f.lastStart[name] = opts
	return nil
}

// LastStartOptions returns the StartOptions most recently passed to Start
// for name, for tests asserting a caller threaded them through correctly.
func (f *Fake) LastStartOptions(name string) (StartOptions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts, ok := f.lastStart[name]
	return opts, ok
}

func (f *Fake) Stop(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.machines, name)
	return nil
}

func (f *Fake) Status(ctx context.Context, name string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.machines[name]
	if !ok {
		return Status{}, nil
	}
	return Status{Active: true, Booted: m.State == "running", State: m.State}, nil
}

// SetBooted lets a test put a machine directly into a given state without
// going through Start, to exercise the "active but not yet booted" case.
func (f *Fake) SetBooted(name string, booted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.machines[name]
	if !ok {
		m = Machine{Name: name, Class: "container"}
	}
	if booted {
		m.State = "running"
	} else {
		m.State = "opening"
	}
	f.machines[name] = m
}
