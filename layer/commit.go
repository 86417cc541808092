package layer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ciel-container/ciel/cerrors"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// Commit runs the diff engine over the upper layer and applies each
// change record to the lower layer. Precondition: not mounted. Records
// are applied in emission order (directories appear before their
// contents by virtue of the pre-order walk).
//
// Commit is not transactional: the first failure aborts with
// *cerrors.CommitAborted wrapping the offending record and cause; every
// record applied before the failure remains applied. Re-invoking Commit
// after resolving the cause re-diffs the (now smaller) remaining upper
// and applies the rest.
func (o *OverlayLayer) Commit() error {
	mounted, err := o.IsMounted()
	if err != nil {
		return err
	}
	if mounted {
		return &cerrors.AlreadyMounted{Target: o.paths.mountPoint}
	}

	changes, err := Diff(o.paths.diff, o.paths.local)
	if err != nil {
		return err
	}

	for _, c := range changes {
		if err := applyChange(o.paths.diff, o.paths.local, c); err != nil {
			return &cerrors.CommitAborted{Record: describeChange(c), Wrapped: err}
		}
	}
	return nil
}

// applyChange implements the per-variant commit application, one case
// per Kind. Destination paths are joined with securejoin.SecureJoin rather
// than filepath.Join, so a change record whose relative path was somehow
// crafted to contain ".." can never resolve outside of the lower root —
// except KindSymlink, which joins lexically (see lexicalJoin) because the
// path it addresses is itself a symlink that must not be dereferenced.
func applyChange(upper, lower string, c Change) error {
	switch c.Kind {
	case KindSymlink:
		// SecureJoin resolves every component of the path, including the
		// last, so for a symlink record it would dereference upper/Rel
		// and move whatever the link points at instead of the link node
		// itself. Join lexically instead, rejecting any Rel that would
		// escape upper/lower without ever consulting the filesystem.
		upperPath, err := lexicalJoin(upper, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		lowerPath, err := lexicalJoin(lower, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		return renameInto(upperPath, lowerPath)

	case KindOverrideDir:
		upperPath, err := securejoin.SecureJoin(upper, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		lowerPath, err := securejoin.SecureJoin(lower, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		if err := os.RemoveAll(lowerPath); err != nil {
			return &cerrors.IoError{Path: lowerPath, Wrapped: err}
		}
		return renameInto(upperPath, lowerPath)

	case KindRenamedDir:
		fromPath, err := securejoin.SecureJoin(lower, c.FromRel)
		if err != nil {
			return &cerrors.ParseError{What: c.FromRel, Wrapped: err}
		}
		toPath, err := securejoin.SecureJoin(lower, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		return renameInto(fromPath, toPath)

	case KindNewDir:
		lowerPath, err := securejoin.SecureJoin(lower, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		// Default permissions, masked by the process umask; parents were
		// already created by a preceding record in this same commit pass.
		if err := os.Mkdir(lowerPath, 0o755); err != nil && !os.IsExist(err) {
			return &cerrors.IoError{Path: lowerPath, Wrapped: err}
		}
		return nil

	case KindModifiedDir:
		upperPath, err := securejoin.SecureJoin(upper, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		lowerPath, err := securejoin.SecureJoin(lower, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		return syncPermission(upperPath, lowerPath)

	case KindWhiteoutFile:
		lowerPath, err := securejoin.SecureJoin(lower, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		fi, err := os.Lstat(lowerPath)
		if err != nil {
			if os.IsNotExist(err) {
				// Missing target is tolerated silently.
				return nil
			}
			return &cerrors.IoError{Path: lowerPath, Wrapped: err}
		}
		if fi.IsDir() {
			if err := os.RemoveAll(lowerPath); err != nil {
				return &cerrors.IoError{Path: lowerPath, Wrapped: err}
			}
			return nil
		}
		if err := os.Remove(lowerPath); err != nil && !os.IsNotExist(err) {
			return &cerrors.IoError{Path: lowerPath, Wrapped: err}
		}
		return nil

	case KindFile:
		upperPath, err := securejoin.SecureJoin(upper, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		lowerPath, err := securejoin.SecureJoin(lower, c.Rel)
		if err != nil {
			return &cerrors.ParseError{What: c.Rel, Wrapped: err}
		}
		if err := renameInto(upperPath, lowerPath); err != nil {
			return err
		}
		return syncPermission(lowerPath, lowerPath)

	default:
		return &cerrors.ParseError{What: c.Kind.String(), Wrapped: errUnknownKind}
	}
}

var errUnknownKind = errors.New("unknown change kind")

// lexicalJoin joins rel onto root without resolving any symlink along the
// way, unlike securejoin.SecureJoin, which would follow rel's final
// component if it names a symlink. Containment is checked the same way
// resolveRedirect checks a redirect value: clean rel and reject it if
// cleaning leaves an absolute path or a leading "..".
func lexicalJoin(root, rel string) (string, error) {
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return "", errEscapesRoot
	}
	return filepath.Join(root, clean), nil
}

// renameInto moves src onto dst, removing anything already at dst first
// (the File/Symlink/OverrideDir/RenamedDir cases all fully replace dst).
// src is checked before anything is removed, so a missing source leaves
// dst untouched.
func renameInto(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return &cerrors.IoError{Path: src, Wrapped: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &cerrors.IoError{Path: filepath.Dir(dst), Wrapped: err}
	}
	if err := os.RemoveAll(dst); err != nil {
		return &cerrors.IoError{Path: dst, Wrapped: err}
	}
	if err := os.Rename(src, dst); err != nil {
		return &cerrors.IoError{Path: dst, Wrapped: err}
	}
	return nil
}

// syncPermission copies mode bits (including set-uid/set-gid/sticky) from
// from onto to; ownership is left untouched because the caller runs
// privileged and ownership already matches.
//
// The File case calls this with (lowerPath, lowerPath) — a no-op by
// construction, since os.Rename already moved upper's inode (and
// therefore its mode) onto lower. ModifiedDir is the case that actually
// needs a cross-directory copy, calling this with (upperPath, lowerPath)
// so upper's permission changes land on the merged directory instead of
// being silently dropped.
func syncPermission(from, to string) error {
	if from == to {
		return nil
	}
	fromInfo, err := os.Stat(from)
	if err != nil {
		return &cerrors.IoError{Path: from, Wrapped: err}
	}
	toInfo, err := os.Stat(to)
	if err != nil {
		return &cerrors.IoError{Path: to, Wrapped: err}
	}
	if fromInfo.Mode() == toInfo.Mode() {
		return nil
	}
	if err := os.Chmod(to, fromInfo.Mode()); err != nil {
		return &cerrors.IoError{Path: to, Wrapped: err}
	}
	return nil
}
