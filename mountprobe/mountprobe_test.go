package mountprobe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ciel-container/ciel/cerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMountinfo = `22 28 0:21 / /sys rw,nosuid,nodev,noexec,relatime shared:7 - sysfs sysfs rw
23 28 0:4 / /proc rw,nosuid,nodev,noexec,relatime shared:13 - proc proc rw
108 86 0:60 / /home/a/instances/main/root rw,relatime shared:46 - overlay overlay rw,lowerdir=/a/local:/a/dist,upperdir=/a/diff,workdir=/a/diff.tmp
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mountinfo")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIsMountedMatchesMountPointAndType(t *testing.T) {
	path := writeFixture(t, sampleMountinfo)
	p := newAt(path)

	mounted, err := p.IsMounted("/home/a/instances/main/root", "overlay")
	require.NoError(t, err)
	assert.True(t, mounted)
}

func TestIsMountedFalseOnTypeMismatch(t *testing.T) {
	path := writeFixture(t, sampleMountinfo)
	p := newAt(path)

	mounted, err := p.IsMounted("/home/a/instances/main/root", "ext4")
	require.NoError(t, err)
	assert.False(t, mounted)
}

func TestIsMountedFalseOnUnknownPath(t *testing.T) {
	path := writeFixture(t, sampleMountinfo)
	p := newAt(path)

	mounted, err := p.IsMounted("/does/not/exist", "overlay")
	require.NoError(t, err)
	assert.False(t, mounted)
}

func TestEntriesReturnsAllRows(t *testing.T) {
	path := writeFixture(t, sampleMountinfo)
	p := newAt(path)

	entries, err := p.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMissingFileIsIoError(t *testing.T) {
	p := newAt(filepath.Join(t.TempDir(), "missing"))

	_, err := p.IsMounted("/x", "overlay")
	require.Error(t, err)
	var ioErr *cerrors.IoError
	assert.ErrorAs(t, err, &ioErr)
}
