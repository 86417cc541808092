// Package workspace resolves the on-disk layout: the ./.ciel marker, the
// shared ./dist base layer, ./instances/<name>/, and the output/cache
// directories owned by external collaborators. It is the one place in
// the core that knows workspace-relative paths; every other package is
// handed already-resolved directories.
package workspace

import (
	"os"
	"path/filepath"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/pelletier/go-toml"
)

const (
	markerName    = ".ciel"
	distDirName   = "dist"
	instancesName = "instances"
	configName    = "ciel.toml"
)

// Config holds the non-core settings owned by external collaborators
// (argument parsing, onboarding, network download). The core only reads
// OutputDir/CacheDir from it, because it needs those two paths to hand
// back to callers; it never interprets MirrorURL and never writes this
// file.
type Config struct {
	OutputDir string `toml:"output_dir"`
	CacheDir  string `toml:"cache_dir"`
	MirrorURL string `toml:"mirror_url"`
}

func defaultConfig() Config {
	return Config{
		OutputDir: "OUTPUT",
		CacheDir:  "SRCS",
	}
}

// Workspace is a resolved ciel workspace rooted at Root.
type Workspace struct {
	Root   string
	Config Config
}

// Open validates that root looks like a ciel workspace (the ./.ciel marker
// exists) and loads its optional ciel.toml. It fails with
// *cerrors.NotAWorkspace if the marker is missing; marker presence gates
// every non-initialization operation.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, cerrors.Wrap(err, "resolve workspace root %s", root)
	}

	if _, err := os.Stat(filepath.Join(abs, markerName)); err != nil {
		if os.IsNotExist(err) {
			return nil, &cerrors.NotAWorkspace{Dir: abs}
		}
		return nil, &cerrors.IoError{Path: filepath.Join(abs, markerName), Wrapped: err}
	}

	cfg := defaultConfig()
	cfgPath := filepath.Join(abs, configName)
	if data, err := os.ReadFile(cfgPath); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, &cerrors.ParseError{What: cfgPath, Wrapped: err}
		}
	} else if !os.IsNotExist(err) {
		return nil, &cerrors.IoError{Path: cfgPath, Wrapped: err}
	}

	return &Workspace{Root: abs, Config: cfg}, nil
}

// Init creates a fresh workspace skeleton at root: the marker, dist/, and
// instances/. It is idempotent — re-running it on an existing workspace is
// a no-op, since MkdirAll tolerates an already-existing directory.
func Init(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, cerrors.Wrap(err, "resolve workspace root %s", root)
	}
	for _, dir := range []string{abs, filepath.Join(abs, markerName), filepath.Join(abs, distDirName), filepath.Join(abs, instancesName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &cerrors.IoError{Path: dir, Wrapped: err}
		}
	}
	return Open(abs)
}

// DistDir is the shared, read-only base layer all instances stack on.
func (w *Workspace) DistDir() string {
	return filepath.Join(w.Root, distDirName)
}

// InstancesDir is the parent of every per-instance directory.
func (w *Workspace) InstancesDir() string {
	return filepath.Join(w.Root, instancesName)
}

// InstanceDir is instances/<name>.
func (w *Workspace) InstanceDir(name string) string {
	return filepath.Join(w.InstancesDir(), name)
}

// OutputDir is the external build-output directory; it is only computed
// here, never created or read by the core.
func (w *Workspace) OutputDir() string {
	return filepath.Join(w.Root, w.Config.OutputDir)
}

// CacheDir is the external source-cache directory; likewise only computed.
func (w *Workspace) CacheDir() string {
	return filepath.Join(w.Root, w.Config.CacheDir)
}

// DistExists reports whether the base layer directory exists, a
// precondition for mounting any instance.
func (w *Workspace) DistExists() (bool, error) {
	fi, err := os.Stat(w.DistDir())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &cerrors.IoError{Path: w.DistDir(), Wrapped: err}
	}
	return fi.IsDir(), nil
}
