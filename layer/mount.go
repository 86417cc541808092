package layer

import (
	"fmt"
	"os"

	"github.com/ciel-container/ciel/cerrors"
	mobymount "github.com/moby/sys/mount"
	"golang.org/x/sys/unix"
)

// Mount ensures upper, work, lower exist (creating them as needed), then
// mounts the union view at MountPoint() with upper=diff and
// lower=[local, dist]. It fails with *cerrors.AlreadyMounted if
// IsMounted() already holds, and with *cerrors.MountRejected carrying the
// kernel message otherwise.
func (o *OverlayLayer) Mount() error {
	mounted, err := o.IsMounted()
	if err != nil {
		return err
	}
	if mounted {
		return &cerrors.AlreadyMounted{Target: o.paths.mountPoint}
	}

	if err := ensureDirs(o.paths.local, o.paths.diff, o.paths.work, o.paths.mountPoint); err != nil {
		return err
	}

	// lowerdir lists uppermost to lowermost: local (the per-instance
	// configuration layer) above dist (the shared base).
	opts := fmt.Sprintf("lowerdir=%s:%s,upperdir=%s,workdir=%s", o.paths.local, o.paths.base, o.paths.diff, o.paths.work)

	if err := unix.Mount("overlay", o.paths.mountPoint, "overlay", 0, opts); err != nil {
		return &cerrors.MountRejected{Target: o.paths.mountPoint, Kernel: err.Error(), Wrapped: err}
	}
	return nil
}

// Unmount releases the stacked view with lazy-detach semantics: the mount
// point disappears from the namespace immediately while any still-open
// file descriptors keep working until closed. This is delegated to
// github.com/moby/sys/mount.Unmount, which already implements MNT_DETACH
// on Linux. It fails with *cerrors.NotMounted if IsMounted() does not
// hold.
func (o *OverlayLayer) Unmount() error {
	mounted, err := o.IsMounted()
	if err != nil {
		return err
	}
	if !mounted {
		return &cerrors.NotMounted{Target: o.paths.mountPoint}
	}
	if err := mobymount.Unmount(o.paths.mountPoint); err != nil {
		if os.IsNotExist(err) {
			return &cerrors.NotMounted{Target: o.paths.mountPoint}
		}
		return &cerrors.UnmountRejected{Target: o.paths.mountPoint, Kernel: err.Error(), Wrapped: err}
	}
	return nil
}

// Destroy recursively removes the instance directory. Precondition: not
// mounted.
func (o *OverlayLayer) Destroy() error {
	mounted, err := o.IsMounted()
	if err != nil {
		return err
	}
	if mounted {
		return &cerrors.AlreadyMounted{Target: o.paths.mountPoint}
	}

	instDir := instanceDirFromPaths(o.paths)
	if err := os.RemoveAll(instDir); err != nil {
		return &cerrors.IoError{Path: instDir, Wrapped: err}
	}
	return nil
}

// Rollback removes upper and work and recreates them empty, so the next
// mount presents local+dist only. Precondition: not mounted.
func (o *OverlayLayer) Rollback() error {
	mounted, err := o.IsMounted()
	if err != nil {
		return err
	}
	if mounted {
		return &cerrors.AlreadyMounted{Target: o.paths.mountPoint}
	}

	if err := os.RemoveAll(o.paths.diff); err != nil {
		return &cerrors.IoError{Path: o.paths.diff, Wrapped: err}
	}
	if err := os.RemoveAll(o.paths.work); err != nil {
		return &cerrors.IoError{Path: o.paths.work, Wrapped: err}
	}
	return ensureDirs(o.paths.diff, o.paths.work)
}
