package layer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ciel-container/ciel/cerrors"
	"golang.org/x/sys/unix"
)

// Kind discriminates the Change record variants a diff can produce.
type Kind int

const (
	KindSymlink Kind = iota
	KindOverrideDir
	KindRenamedDir
	KindNewDir
	KindModifiedDir
	KindWhiteoutFile
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindSymlink:
		return "Symlink"
	case KindOverrideDir:
		return "OverrideDir"
	case KindRenamedDir:
		return "RenamedDir"
	case KindNewDir:
		return "NewDir"
	case KindModifiedDir:
		return "ModifiedDir"
	case KindWhiteoutFile:
		return "WhiteoutFile"
	case KindFile:
		return "File"
	default:
		return "Unknown"
	}
}

// Change is one change record produced by a diff pass. Rel is the path
// relative to the upper root for every variant except
// RenamedDir, which additionally carries FromRel, the pre-rename relative
// path resolved against either the union root or the parent directory
// depending on whether the redirect xattr held an absolute or relative
// path.
type Change struct {
	Kind    Kind
	Rel     string
	FromRel string
}

const (
	xattrOpaque   = "trusted.overlay.opaque"
	xattrRedirect = "trusted.overlay.redirect"
)

// Diff walks upperRoot in pre-order, skipping the root itself, and
// produces exactly one change record per visited entry, comparing
// directory presence against lowerRoot. The walk does not descend into an
// opaque directory: its OverrideDir record covers the whole subtree, and
// the entries beneath it get no record of their own.
//
// RenamedDir carries a single record for the directory itself. Contents
// left unchanged since the rename stay in lower and move with the
// directory when the record is applied; entries changed inside it are
// present in upper under the new name, so the walk visits them and emits
// their own records (File/NewDir/etc. as appropriate).
func Diff(upperRoot, lowerRoot string) ([]Change, error) {
	var changes []Change

	err := filepath.WalkDir(upperRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &cerrors.IoError{Path: p, Wrapped: err}
		}
		if p == upperRoot {
			return nil
		}

		rel, relErr := filepath.Rel(upperRoot, p)
		if relErr != nil {
			return &cerrors.ParseError{What: p, Wrapped: relErr}
		}

		info, statErr := os.Lstat(p)
		if statErr != nil {
			return &cerrors.IoError{Path: p, Wrapped: statErr}
		}

		change, changeErr := classify(upperRoot, lowerRoot, p, rel, info)
		if changeErr != nil {
			return changeErr
		}
		changes = append(changes, change)
		if change.Kind == KindOverrideDir {
			// The opaque directory's upper contents are the complete
			// merged result; per-child records underneath would be
			// redundant and, once OverrideDir moves the subtree as a
			// unit, stale.
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func classify(upperRoot, lowerRoot, absPath, rel string, info os.FileInfo) (Change, error) {
	mode := info.Mode()

	if mode&os.ModeSymlink != 0 {
		return Change{Kind: KindSymlink, Rel: rel}, nil
	}

	if mode.IsDir() {
		opaque, err := getXattr(absPath, xattrOpaque)
		if err != nil {
			return Change{}, err
		}
		if opaque == "y" {
			return Change{Kind: KindOverrideDir, Rel: rel}, nil
		}

		redirect, err := getXattr(absPath, xattrRedirect)
		if err != nil {
			return Change{}, err
		}
		if redirect != "" {
			fromRel, err := resolveRedirect(upperRoot, absPath, redirect)
			if err != nil {
				return Change{}, err
			}
			return Change{Kind: KindRenamedDir, Rel: rel, FromRel: fromRel}, nil
		}

		lowerPath := filepath.Join(lowerRoot, rel)
		if lfi, err := os.Stat(lowerPath); err != nil || !lfi.IsDir() {
			return Change{Kind: KindNewDir, Rel: rel}, nil
		}
		return Change{Kind: KindModifiedDir, Rel: rel}, nil
	}

	if mode&os.ModeCharDevice != 0 {
		if isWhiteout(info) {
			return Change{Kind: KindWhiteoutFile, Rel: rel}, nil
		}
		return Change{Kind: KindFile, Rel: rel}, nil
	}

	return Change{Kind: KindFile, Rel: rel}, nil
}

// isWhiteout reports whether info describes a character device with
// device id 0, the union-layer tombstone convention.
func isWhiteout(info os.FileInfo) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return st.Rdev == 0
}

// getXattr reads name from path, returning "" if the attribute is absent.
func getXattr(path, name string) (string, error) {
	// A first call with a nil buffer would return the needed size; overlay
	// xattr values here (a single "y", or a path) are always small, so one
	// fixed-size buffer avoids the extra syscall round trip.
	buf := make([]byte, 4096)
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		if err == unix.ENODATA || err == unix.ENOTSUP {
			return "", nil
		}
		return "", &cerrors.IoError{Path: path, Wrapped: err}
	}
	return string(buf[:n]), nil
}

// resolveRedirect interprets the trusted.overlay.redirect value carried by
// an upper directory: an absolute redirect is relative to the union root
// (the leading "/" stripped); a relative redirect is relative to the
// parent of the renamed directory. Either form is rejected with
// *cerrors.ParseError if the resolved path would escape upperRoot.
func resolveRedirect(upperRoot, dirPath, redirect string) (string, error) {
	var fromRel string

	if strings.HasPrefix(redirect, "/") {
		fromRel = strings.TrimPrefix(redirect, "/")
	} else {
		parent := filepath.Dir(dirPath)
		resolved := filepath.Join(parent, redirect)
		rel, err := filepath.Rel(upperRoot, resolved)
		if err != nil {
			return "", &cerrors.ParseError{What: "redirect " + redirect, Wrapped: err}
		}
		fromRel = rel
	}

	fromRel = filepath.Clean(fromRel)
	if fromRel == ".." || strings.HasPrefix(fromRel, "../") || filepath.IsAbs(fromRel) {
		return "", &cerrors.ParseError{What: "redirect " + redirect, Wrapped: errEscapesRoot}
	}
	if fromRel == "." {
		fromRel = ""
	}
	return fromRel, nil
}

var errEscapesRoot = errEscapes{}

type errEscapes struct{}

func (errEscapes) Error() string { return "redirect path escapes upper root" }
