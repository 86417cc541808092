package runtime

import (
	"context"
	"time"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	machine1Dest = "org.freedesktop.machine1"
	machine1Path = "/org/freedesktop/machine1"
)

// Machined talks to systemd-machined over the system D-Bus bus. It holds
// one long-lived connection, matching the way systemd's own client
// libraries expect callers to keep a bus connection open rather than
// reconnecting per call.
type Machined struct {
	conn *dbus.Conn
	log  *logrus.Entry
}

// NewMachined connects to the system bus and returns a Client backed by
// org.freedesktop.machine1.
func NewMachined() (*Machined, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, cerrors.Wrap(err, "connect to system bus")
	}
	return &Machined{
		conn: conn,
		log:  logrus.WithField("component", "runtime.machined"),
	}, nil
}

func (m *Machined) manager() dbus.BusObject {
	return m.conn.Object(machine1Dest, dbus.ObjectPath(machine1Path))
}

type machineListEntry struct {
	Name  string
	Class string
	Path  dbus.ObjectPath
}

// List enumerates every machine machine1 currently tracks.
func (m *Machined) List(ctx context.Context) ([]Machine, error) {
	var raw []machineListEntry
	call := m.manager().CallWithContext(ctx, machine1Dest+".Manager.ListMachines", 0)
	if err := call.Store(&raw); err != nil {
		return nil, cerrors.Wrap(err, "list machines")
	}

	out := make([]Machine, 0, len(raw))
	for _, e := range raw {
		state, err := m.propertyString(ctx, e.Path, "State")
		if err != nil {
			m.log.WithError(err).WithField("machine", e.Name).Warn("failed to read machine state")
			state = ""
		}
		out = append(out, Machine{Name: e.Name, Class: e.Class, State: state})
	}
	return out, nil
}

// Start registers rootfsPath as a machine named name through
// Manager.RegisterMachine, with an empty machine id, service "ciel", class
// "container" and leader PID 0. It spawns no process of its own.
func (m *Machined) Start(ctx context.Context, name, rootfsPath string, opts StartOptions) error {
	// RegisterMachine has no ephemeral-identity parameter, so opts.Ephemeral
	// is not used here. Fake records it for callers that need to assert it
	// was threaded through.
	class := "container"
	call := m.manager().CallWithContext(ctx, machine1Dest+".Manager.RegisterMachine", 0,
		name, []byte{}, "ciel", class, uint32(0), rootfsPath)
	if call.Err != nil {
		return cerrors.Wrap(call.Err, "start machine %s", name)
	}
	return nil
}

// Stop asks machine1 to terminate the named machine, matching the
// Manager.TerminateMachine call other machine1 clients use; timeout bounds
// the context, not machine1 itself, which has no notion of a stop timeout
// of its own. No further signal is sent once this call's context expires;
// the error is returned to the caller.
func (m *Machined) Stop(ctx context.Context, name string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call := m.manager().CallWithContext(ctx, machine1Dest+".Manager.TerminateMachine", 0, name)
	if call.Err != nil {
		return cerrors.Wrap(call.Err, "stop machine %s", name)
	}
	return nil
}

// Status reports whether machine1 knows about name and, if so, its state.
// A machine that machine1 has never heard of is reported as an inactive
// Status, not an error — "not active" is a normal query outcome here,
// not a failure.
func (m *Machined) Status(ctx context.Context, name string) (Status, error) {
	var path dbus.ObjectPath
	call := m.manager().CallWithContext(ctx, machine1Dest+".Manager.GetMachine", 0, name)
	if err := call.Store(&path); err != nil {
		if isUnknownMachine(err) {
			return Status{}, nil
		}
		return Status{}, cerrors.Wrap(err, "get machine %s", name)
	}

	state, err := m.propertyString(ctx, path, "State")
	if err != nil {
		return Status{}, cerrors.Wrap(err, "read state of machine %s", name)
	}
	return Status{
		Active: true,
		Booted: state == "running",
		State:  state,
	}, nil
}

func (m *Machined) propertyString(ctx context.Context, path dbus.ObjectPath, name string) (string, error) {
	obj := m.conn.Object(machine1Dest, path)
	v, err := obj.GetProperty(machine1Dest + ".Machine." + name)
	if err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", nil
	}
	return s, nil
}

func isUnknownMachine(err error) bool {
	dbusErr, ok := err.(dbus.Error)
	if !ok {
		return false
	}
	return dbusErr.Name == machine1Dest+".NoSuchMachine"
}
