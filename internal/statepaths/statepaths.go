// Package statepaths resolves the finegate state directory and keeps
// directories under it private to the current user.
package statepaths

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const DefaultStateDir = "~/.finegate"

type fileEntry struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Resolve returns the absolute state directory, falling back to DefaultStateDir.
func Resolve(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = DefaultStateDir
	}
	dir, err := ExpandHome(dir)
	if err != nil {
		return "", err
	}
	return filepath.Abs(dir)
}

// EnsureSecureDir creates dir with 0700 and refuses symlinks, non-directories
// and directories owned by another user.
func EnsureSecureDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("empty dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	dir = abs

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	fi, err := os.Lstat(dir)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing symlink path: %s", dir)
	}
	if !fi.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	return ensureOwnershipAndPerms(dir, fi)
}

// Prune removes regular files older than maxAge, then the oldest files until at
// most maxFiles remain. Symlinks are never followed. Zero limits are ignored.
func Prune(dir string, maxAge time.Duration, maxFiles int) (int, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return 0, fmt.Errorf("missing dir")
	}
	if maxAge <= 0 && maxFiles <= 0 {
		return 0, nil
	}
	now := time.Now()
	removed := 0

	var kept []fileEntry
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if maxAge > 0 && now.Sub(info.ModTime()) > maxAge {
			if os.Remove(path) == nil {
				removed++
			}
			return nil
		}
		kept = append(kept, fileEntry{Path: path, ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return removed, walkErr
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].ModTime.Before(kept[j].ModTime) })
	for maxFiles > 0 && len(kept) > maxFiles {
		if os.Remove(kept[0].Path) == nil {
			removed++
		}
		kept = kept[1:]
	}
	return removed, nil
}
