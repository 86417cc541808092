// Package registry enumerates instances on disk, reports their runtime
// state by consulting the mount probe and the container runtime, and
// resolves names to directories. Enumeration follows the usual
// directory-listing pattern: list a parent directory, skip entries that
// don't look like what's being enumerated, fail loudly on I/O errors
// that aren't "doesn't exist".
package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/ciel-container/ciel/mountprobe"
	"github.com/ciel-container/ciel/runtime"
	"github.com/ciel-container/ciel/workspace"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
)

// forEachConcurrency bounds how many instances ForEach drives op against
// at once, rather than spawning one goroutine per item unconditionally.
const forEachConcurrency = 8

const (
	metadataName = "instance.toml"
	overlayFS    = "overlay"
)

// Metadata is the optional instances/<name>/instance.toml payload.
type Metadata struct {
	CreatedAt time.Time `toml:"created_at"`
	Note      string    `toml:"note"`
}

// Summary is one list() row: name, mounted?, active?, booted?.
type Summary struct {
	Name    string
	Mounted bool
	Active  bool
	Booted  bool
}

// Registry enumerates and resolves instances under one workspace,
// consulting probe for mount state and rt for runtime state.
type Registry struct {
	ws    *workspace.Workspace
	probe *mountprobe.Probe
	rt    runtime.Client
}

// New binds a Registry to a workspace and a runtime client; mount state is
// read through a probe of this process's own mount table.
func New(ws *workspace.Workspace, rt runtime.Client) *Registry {
	return &Registry{ws: ws, probe: mountprobe.New(), rt: rt}
}

// wellFormed reports whether instances/<name> has the three layer
// directories a real instance requires, filtering out stray entries
// under instances/.
func wellFormed(instDir string) bool {
	for _, sub := range []string{filepath.Join("layers", "local"), filepath.Join("layers", "diff"), filepath.Join("layers", "diff.tmp")} {
		fi, err := os.Stat(filepath.Join(instDir, sub))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

// names lists every well-formed instance directory name.
func (r *Registry) names() ([]string, error) {
	entries, err := os.ReadDir(r.ws.InstancesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &cerrors.IoError{Path: r.ws.InstancesDir(), Wrapped: err}
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !wellFormed(r.ws.InstanceDir(e.Name())) {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// List reports every instance's name, mounted state, and runtime state.
func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	names, err := r.names()
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(names))
	for _, name := range names {
		s, err := r.summarize(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Registry) summarize(ctx context.Context, name string) (Summary, error) {
	mountPoint := filepath.Join(r.ws.InstanceDir(name), "root")
	mounted, err := r.probe.IsMounted(mountPoint, overlayFS)
	if err != nil {
		return Summary{}, err
	}

	status, err := r.rt.Status(ctx, name)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Name:    name,
		Mounted: mounted,
		Active:  status.Active,
		Booted:  status.Booted,
	}, nil
}

// InstancePaths is what Resolve hands back: the directories an instance's
// layer manager needs, without constructing one.
type InstancePaths struct {
	Dir          string
	LocalLayer   string
	DiffLayer    string
	WorkLayer    string
	MountPoint   string
	MetadataPath string
}

// Resolve looks up name's directory, failing with *cerrors.UnknownInstance
// if it is missing or malformed.
func (r *Registry) Resolve(name string) (InstancePaths, error) {
	instDir := r.ws.InstanceDir(name)
	if !wellFormed(instDir) {
		return InstancePaths{}, &cerrors.UnknownInstance{Name: name}
	}
	return InstancePaths{
		Dir:          instDir,
		LocalLayer:   filepath.Join(instDir, "layers", "local"),
		DiffLayer:    filepath.Join(instDir, "layers", "diff"),
		WorkLayer:    filepath.Join(instDir, "layers", "diff.tmp"),
		MountPoint:   filepath.Join(instDir, "root"),
		MetadataPath: filepath.Join(instDir, metadataName),
	}, nil
}

// Metadata reads instances/<name>/instance.toml, returning a zero-value
// Metadata (not an error) if the file is absent — the metadata file is
// optional.
func (r *Registry) Metadata(name string) (Metadata, error) {
	paths, err := r.Resolve(name)
	if err != nil {
		return Metadata{}, err
	}

	data, err := os.ReadFile(paths.MetadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, nil
		}
		return Metadata{}, &cerrors.IoError{Path: paths.MetadataPath, Wrapped: err}
	}

	var m Metadata
	if err := toml.Unmarshal(data, &m); err != nil {
		return Metadata{}, &cerrors.ParseError{What: paths.MetadataPath, Wrapped: err}
	}
	return m, nil
}

// Add creates instances/<name>'s directory skeleton and writes its
// metadata file, the registry-side half of the CLI's add verb.
func (r *Registry) Add(name, note string) error {
	instDir := r.ws.InstanceDir(name)
	for _, sub := range []string{filepath.Join("layers", "local"), filepath.Join("layers", "diff"), filepath.Join("layers", "diff.tmp"), "root"} {
		if err := os.MkdirAll(filepath.Join(instDir, sub), 0o755); err != nil {
			return &cerrors.IoError{Path: filepath.Join(instDir, sub), Wrapped: err}
		}
	}

	meta := Metadata{CreatedAt: creationTimestamp(), Note: note}
	data, err := toml.Marshal(meta)
	if err != nil {
		return &cerrors.ParseError{What: name, Wrapped: err}
	}
	metaPath := filepath.Join(instDir, metadataName)
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return &cerrors.IoError{Path: metaPath, Wrapped: err}
	}
	return nil
}

// creationTimestamp is isolated in its own function so a future caller
// that needs deterministic timestamps (tests, replay) has one seam to
// override rather than every Add call reaching for time.Now directly.
func creationTimestamp() time.Time {
	return time.Now().UTC()
}

// ForEach applies op to every instance, collecting per-instance results
// without short-circuiting on failure. Errors from individual instances
// are aggregated with go-multierror so a caller can still inspect which
// instance(s) failed via errors.As against the underlying cerrors kind.
func (r *Registry) ForEach(ctx context.Context, op func(ctx context.Context, name string) error) error {
	names, err := r.names()
	if err != nil {
		return err
	}

	workers := forEachConcurrency
	if workers > len(names) {
		workers = len(names)
	}

	work := make(chan string)
	var mu sync.Mutex
	var result *multierror.Error
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range work {
				if err := op(ctx, name); err != nil {
					mu.Lock()
					result = multierror.Append(result, cerrors.Wrap(err, "instance %s", name))
					mu.Unlock()
				}
			}
		}()
	}

	for _, name := range names {
		work <- name
	}
	close(work)
	wg.Wait()

	return result.ErrorOrNil()
}
