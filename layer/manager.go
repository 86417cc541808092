// Package layer implements a pluggable layer manager and its diff engine,
// along with the one concrete backend built on the kernel overlay
// filesystem, OverlayLayer.
//
// Directory layout follows the style of an overlay2 graph driver. Mount
// state is not tracked in memory; it is read from the kernel mount table
// through mountprobe on every query. Computing the changes (Diff) and
// applying them (Commit) are kept as separate steps rather than folded
// into one call.
package layer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/ciel-container/ciel/mountprobe"
	"github.com/ciel-container/ciel/workspace"
)

// Manager is the capability set every layer-manager variant implements:
// mount, unmount, is-mounted, rollback, commit, get-base-layer,
// get-config-layer, destroy. OverlayLayer is the only variant implemented
// here; the interface is written so a future snapshot-based variant can
// be added without touching callers.
//
// Mount/Unmount/IsMounted/Rollback/Commit all take no target-path
// argument, since that would only typecheck if the manager already knows
// which path it refers to. Instead each Manager binds its own mount
// point at construction time (instances/<name>/root, alongside the
// layers/ directory), exposed via MountPoint(). The probe underneath
// remains fully generic over (path, fstype).
type Manager interface {
	// Mount ensures upper, work, lower exist, then atomically presents the
	// stacked view at MountPoint().
	Mount() error
	// Unmount releases the stacked view with lazy-detach semantics.
	Unmount() error
	// IsMounted delegates to the Mount Probe with this variant's fs type.
	IsMounted() (bool, error)
	// Rollback discards the upper layer; precondition: not mounted.
	Rollback() error
	// Commit merges the upper layer into the lower; precondition: not
	// mounted.
	Commit() error
	// GetBaseLayer returns the path of the shared base (dist) layer.
	GetBaseLayer() string
	// GetConfigLayer returns the path of this instance's lower
	// (configuration) layer.
	GetConfigLayer() string
	// Destroy removes the instance directory entirely; precondition: not
	// mounted.
	Destroy() error
	// MountPoint returns the path this manager presents its stacked view
	// at.
	MountPoint() string
}

// paths holds the four directories an instance's layer stack is built
// from.
type paths struct {
	base       string // dist, the shared bottommost lower layer
	local      string // layers/local, the per-instance lower/config layer
	diff       string // layers/diff, the upper layer
	work       string // layers/diff.tmp, the work layer
	mountPoint string // instances/<name>/root, where the stack is presented
}

func newPaths(ws *workspace.Workspace, name string) paths {
	instDir := ws.InstanceDir(name)
	return paths{
		base:       ws.DistDir(),
		local:      filepath.Join(instDir, "layers", "local"),
		diff:       filepath.Join(instDir, "layers", "diff"),
		work:       filepath.Join(instDir, "layers", "diff.tmp"),
		mountPoint: filepath.Join(instDir, "root"),
	}
}

// validateName enforces the InvalidName precondition construct() carries:
// name must be non-empty and filesystem-safe (no path separator).
func validateName(name string) error {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || strings.Contains(name, "/") {
		return &cerrors.InvalidName{Name: name}
	}
	return nil
}

// OverlayLayer is the kernel-overlayfs-backed Manager variant.
// Construction never touches the filesystem; directories are created
// lazily by Mount/Commit.
type OverlayLayer struct {
	name  string
	paths paths
	probe *mountprobe.Probe
}

const fsType = "overlay"

// NewOverlayLayer binds a Manager to one instance without touching the
// filesystem. It fails with *cerrors.InvalidName if name is empty or
// contains a path separator.
func NewOverlayLayer(ws *workspace.Workspace, name string) (*OverlayLayer, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &OverlayLayer{
		name:  name,
		paths: newPaths(ws, name),
		probe: mountprobe.New(),
	}, nil
}

// MountPoint returns instances/<name>/root.
func (o *OverlayLayer) MountPoint() string { return o.paths.mountPoint }

// GetBaseLayer returns dist's path.
func (o *OverlayLayer) GetBaseLayer() string { return o.paths.base }

// GetConfigLayer returns layers/local's path.
func (o *OverlayLayer) GetConfigLayer() string { return o.paths.local }

// IsMounted reports whether the kernel mount table has an overlay entry at
// MountPoint().
func (o *OverlayLayer) IsMounted() (bool, error) {
	mounted, err := o.probe.IsMounted(o.paths.mountPoint, fsType)
	if err != nil {
		return false, err
	}
	return mounted, nil
}

func ensureDirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return &cerrors.IoError{Path: d, Wrapped: err}
		}
	}
	return nil
}

// instanceDirFromPaths recovers instances/<name> from the mount point
// (<instanceDir>/root), since paths doesn't store it redundantly.
func instanceDirFromPaths(p paths) string {
	return filepath.Dir(p.mountPoint)
}

func describeChange(c Change) string {
	switch c.Kind {
	case KindRenamedDir:
		return fmt.Sprintf("RenamedDir(%s -> %s)", c.FromRel, c.Rel)
	default:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Rel)
	}
}
