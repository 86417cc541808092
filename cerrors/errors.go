// Package cerrors defines the error-kind taxonomy the core surfaces to its
// callers. Each kind wraps an underlying cause with github.com/pkg/errors
// (for stack-trace-preserving %+v formatting) and is also classified
// through github.com/containerd/errdefs so callers that only care about
// the broad category (not-found, invalid-argument, conflict) can test for
// it without a type switch over every concrete kind.
package cerrors

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// NotAWorkspace is returned when an operation that requires a workspace
// marker (./.ciel) is attempted outside of one.
type NotAWorkspace struct {
	Dir string
}

func (e *NotAWorkspace) Error() string {
	return fmt.Sprintf("%s does not look like a ciel workspace", e.Dir)
}

// UnknownInstance is returned when an instance name does not resolve to a
// directory under instances/.
type UnknownInstance struct {
	Name string
}

func (e *UnknownInstance) Error() string {
	return fmt.Sprintf("no such instance: %s", e.Name)
}

// InvalidName is returned by Layer Manager construction when an instance
// name is empty or contains a path separator.
type InvalidName struct {
	Name string
}

func (e *InvalidName) Error() string {
	return fmt.Sprintf("invalid instance name %q", e.Name)
}

// AlreadyMounted is returned when mount (or an operation with a
// not-mounted precondition, like commit) is attempted on an instance whose
// mount point is already present in the kernel mount table.
type AlreadyMounted struct {
	Target string
}

func (e *AlreadyMounted) Error() string {
	return fmt.Sprintf("%s is already mounted", e.Target)
}

// NotMounted is returned when unmount is attempted on a target that has no
// mount table entry.
type NotMounted struct {
	Target string
}

func (e *NotMounted) Error() string {
	return fmt.Sprintf("%s is not mounted", e.Target)
}

// Busy is returned when a precondition fails because the container is
// still running, or the shared base layer is in use by a mounted instance.
type Busy struct {
	Name   string
	Reason string
}

func (e *Busy) Error() string {
	return fmt.Sprintf("%s is busy: %s", e.Name, e.Reason)
}

// MountRejected wraps a kernel-level mount(2) failure.
type MountRejected struct {
	Target  string
	Kernel  string
	Wrapped error
}

func (e *MountRejected) Error() string {
	return fmt.Sprintf("mount %s rejected: %s", e.Target, e.Kernel)
}

func (e *MountRejected) Unwrap() error { return e.Wrapped }

// UnmountRejected wraps a kernel-level umount(2) failure.
type UnmountRejected struct {
	Target  string
	Kernel  string
	Wrapped error
}

func (e *UnmountRejected) Error() string {
	return fmt.Sprintf("unmount %s rejected: %s", e.Target, e.Kernel)
}

func (e *UnmountRejected) Unwrap() error { return e.Wrapped }

// IoError wraps an underlying filesystem failure with the path it occurred
// on.
type IoError struct {
	Path    string
	Wrapped error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error at %s: %v", e.Path, e.Wrapped)
}

func (e *IoError) Unwrap() error { return e.Wrapped }

// ParseError is returned for a malformed mount table entry, extended
// attribute value, or redirect string (including a redirect/symlink target
// that resolves outside of the layer root).
type ParseError struct {
	What    string
	Wrapped error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.What, e.Wrapped)
}

func (e *ParseError) Unwrap() error { return e.Wrapped }

// CommitAborted is returned when a change record fails to apply during
// commit. Partial progress (every record applied before this one) is
// retained; see layer.Commit's doc comment.
type CommitAborted struct {
	Record  string
	Wrapped error
}

func (e *CommitAborted) Error() string {
	return fmt.Sprintf("commit aborted applying %s: %v", e.Record, e.Wrapped)
}

func (e *CommitAborted) Unwrap() error { return e.Wrapped }

// Wrap attaches path/operation context to err with errors.Wrapf.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Classification glue onto github.com/containerd/errdefs, so a caller that
// just wants "was this a not-found situation" doesn't need to know about
// every concrete kind above.

// AsNotFound reports whether err is an UnknownInstance (or otherwise
// classified not-found).
func AsNotFound(err error) bool {
	var u *UnknownInstance
	return errors.As(err, &u) || errdefs.IsNotFound(err)
}

// AsInvalidArgument reports whether err is an InvalidName.
func AsInvalidArgument(err error) bool {
	var n *InvalidName
	return errors.As(err, &n) || errdefs.IsInvalidArgument(err)
}

// AsConflict reports whether err represents a precondition violation:
// AlreadyMounted, NotMounted, or Busy.
func AsConflict(err error) bool {
	var am *AlreadyMounted
	var nm *NotMounted
	var b *Busy
	return errors.As(err, &am) || errors.As(err, &nm) || errors.As(err, &b) || errdefs.IsConflict(err) || errdefs.IsFailedPrecondition(err)
}
