package layer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/ciel-container/ciel/mountprobe"
	"github.com/ciel-container/ciel/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLayer(t *testing.T) *OverlayLayer {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.Init(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(ws.DistDir(), 0o755))

	l, err := NewOverlayLayer(ws, "main")
	require.NoError(t, err)
	require.NoError(t, ensureDirs(l.paths.local, l.paths.diff, l.paths.work, l.paths.mountPoint))
	return l
}

func TestCommitMergesNewFile(t *testing.T) {
	l := newTestLayer(t)

	require.NoError(t, os.WriteFile(filepath.Join(l.paths.diff, "new.txt"), []byte("data"), 0o644))

	require.NoError(t, l.Commit())

	got, err := os.ReadFile(filepath.Join(l.paths.local, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	_, err = os.Stat(filepath.Join(l.paths.diff, "new.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommitRemovesWhiteoutTarget(t *testing.T) {
	l := newTestLayer(t)

	require.NoError(t, os.WriteFile(filepath.Join(l.paths.local, "doomed.txt"), []byte("bye"), 0o644))
	require.NoError(t, unix.Mknod(filepath.Join(l.paths.diff, "doomed.txt"), unix.S_IFCHR|0o644, 0))

	require.NoError(t, l.Commit())

	_, err := os.Stat(filepath.Join(l.paths.local, "doomed.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommitWhiteoutMissingTargetIsNotAnError(t *testing.T) {
	l := newTestLayer(t)

	require.NoError(t, unix.Mknod(filepath.Join(l.paths.diff, "never-existed.txt"), unix.S_IFCHR|0o644, 0))

	assert.NoError(t, l.Commit())
}

func TestCommitNewDirIsCreated(t *testing.T) {
	l := newTestLayer(t)

	require.NoError(t, os.Mkdir(filepath.Join(l.paths.diff, "sub"), 0o755))

	require.NoError(t, l.Commit())

	fi, err := os.Stat(filepath.Join(l.paths.local, "sub"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestModifiedDirSyncsFromUpper(t *testing.T) {
	l := newTestLayer(t)

	require.NoError(t, os.MkdirAll(filepath.Join(l.paths.local, "shared"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(l.paths.diff, "shared"), 0o700))

	require.NoError(t, l.Commit())

	fi, err := os.Stat(filepath.Join(l.paths.local, "shared"))
	require.NoError(t, err)
	// A from-upper-to-lower permission copy must leave lower with upper's
	// 0700 mode, not its own original 0755.
	assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
}

func TestCommitMovesSymlinkWithoutFollowingIt(t *testing.T) {
	l := newTestLayer(t)

	// The target need not exist, and deliberately doesn't resolve under
	// either diff or local: a correct commit never consults it, since the
	// symlink node itself is what gets moved.
	require.NoError(t, os.Symlink("/usr/lib/does-not-exist", filepath.Join(l.paths.diff, "link")))

	require.NoError(t, l.Commit())

	target, err := os.Readlink(filepath.Join(l.paths.local, "link"))
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/does-not-exist", target)

	fi, err := os.Lstat(filepath.Join(l.paths.local, "link"))
	require.NoError(t, err)
	assert.True(t, fi.Mode()&os.ModeSymlink != 0)
}

func TestCommitOverrideDirReplacesLowerWithUpperContentsOnly(t *testing.T) {
	requireTrustedXattr(t)
	l := newTestLayer(t)

	require.NoError(t, os.MkdirAll(filepath.Join(l.paths.local, "var", "cache", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(l.paths.local, "var", "cache", "pkg", "old"), []byte("stale"), 0o644))

	upperDir := filepath.Join(l.paths.diff, "var", "cache", "pkg")
	require.NoError(t, os.MkdirAll(upperDir, 0o755))
	require.NoError(t, unix.Setxattr(upperDir, xattrOpaque, []byte("y"), 0))
	require.NoError(t, os.WriteFile(filepath.Join(upperDir, "new"), []byte("fresh"), 0o644))

	require.NoError(t, l.Commit())

	entries, err := os.ReadDir(filepath.Join(l.paths.local, "var", "cache", "pkg"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Name())

	got, err := os.ReadFile(filepath.Join(l.paths.local, "var", "cache", "pkg", "new"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))
}

func TestCommitPreconditionRejectsWhileMounted(t *testing.T) {
	l := newTestLayer(t)

	fixture := fmt.Sprintf("108 86 0:60 / %s rw,relatime shared:46 - overlay overlay rw\n", l.paths.mountPoint)
	path := filepath.Join(t.TempDir(), "mountinfo")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	l.probe = mountprobe.NewFromFile(path)

	err := l.Commit()
	require.Error(t, err)
	var am *cerrors.AlreadyMounted
	assert.ErrorAs(t, err, &am)
}

func TestCommitAbortsOnFirstFailureLeavingPartialProgress(t *testing.T) {
	l := newTestLayer(t)

	require.NoError(t, os.WriteFile(filepath.Join(l.paths.diff, "ok.txt"), []byte("fine"), 0o644))
	if os.Getuid() != 0 {
		// Setting a trusted.* xattr fails with EPERM without privilege, so
		// the redirect this test depends on cannot be created.
		t.Skip("trusted.overlay.redirect requires root to exercise the abort path")
	}
	// A RenamedDir record whose from-path does not exist under lower fails
	// to apply. The walk visits entries in lexical order, so "zz-bogus"
	// comes after "ok.txt" and the commit aborts with "ok.txt" already
	// applied.
	bogus := filepath.Join(l.paths.diff, "zz-bogus")
	require.NoError(t, os.Mkdir(bogus, 0o755))
	require.NoError(t, unix.Setxattr(bogus, xattrRedirect, []byte("does-not-exist"), 0))

	err := l.Commit()
	require.Error(t, err)
	var ca *cerrors.CommitAborted
	require.ErrorAs(t, err, &ca)

	got, readErr := os.ReadFile(filepath.Join(l.paths.local, "ok.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "fine", string(got))
}
