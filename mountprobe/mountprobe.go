// Package mountprobe answers "is path P currently mounted as filesystem
// type T?" by parsing the kernel's per-process mount-information file
// and looking for an entry whose mount point and fstype match. Parsing
// itself is delegated to github.com/moby/sys/mountinfo rather than
// hand-rolling a mountinfo line parser.
package mountprobe

import (
	"os"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/moby/sys/mountinfo"
)

// Entry is one parsed row of the mount table.
type Entry struct {
	MountPoint string
	Source     string
	FSType     string
	Options    string
}

// Probe reads the kernel mount table on every call; it caches nothing
// across calls, so a probe taken before an external mount/unmount always
// reflects current kernel state.
type Probe struct {
	// path is the mountinfo file to read, overridable in tests; zero value
	// means "this process's own table" (/proc/self/mountinfo).
	path string
}

// New returns a Probe reading this process's own mount table.
func New() *Probe {
	return &Probe{}
}

// newAt returns a Probe reading an arbitrary mountinfo-formatted file,
// used by tests to exercise parsing without a real mount namespace.
func newAt(path string) *Probe {
	return &Probe{path: path}
}

// NewFromFile is newAt exported for other packages' tests that need a
// Probe over a synthetic mountinfo fixture instead of this process's own
// mount table — e.g. to exercise a precondition without a real mount.
func NewFromFile(path string) *Probe {
	return newAt(path)
}

// Entries returns every row of the mount table, freshly parsed.
func (p *Probe) Entries() ([]Entry, error) {
	infos, err := p.getMounts(nil)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, m := range infos {
		out = append(out, Entry{
			MountPoint: m.Mountpoint,
			Source:     m.Source,
			FSType:     m.FSType,
			Options:    m.VFSOptions,
		})
	}
	return out, nil
}

// IsMounted reports whether an entry exists whose mount point equals path
// byte-exact and whose filesystem type equals fsType.
func (p *Probe) IsMounted(path, fsType string) (bool, error) {
	found := false
	_, err := p.getMounts(func(m *mountinfo.Info) (skip, stop bool) {
		if m.Mountpoint == path && m.FSType == fsType {
			found = true
			return false, true
		}
		return true, false
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (p *Probe) getMounts(f mountinfo.FilterFunc) ([]*mountinfo.Info, error) {
	if p.path == "" {
		infos, err := mountinfo.GetMounts(f)
		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				return nil, &cerrors.IoError{Path: "/proc/self/mountinfo", Wrapped: err}
			}
			return nil, &cerrors.ParseError{What: "mount table", Wrapped: err}
		}
		return infos, nil
	}

	r, err := os.Open(p.path)
	if err != nil {
		return nil, &cerrors.IoError{Path: p.path, Wrapped: err}
	}
	defer r.Close()

	infos, err := mountinfo.GetMountsFromReader(r, f)
	if err != nil {
		return nil, &cerrors.ParseError{What: p.path, Wrapped: err}
	}
	return infos, nil
}
