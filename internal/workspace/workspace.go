// Package workspace manages the caller-owned scratch directory a run writes
// keyframes and exports into.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const lockName = ".storyboard.lock"

var (
	// ErrBusy means another process or run holds the workspace.
	ErrBusy = errors.New("workspace is busy")
	// ErrHoldsInput means a run's input lies inside the workspace, which
	// Reset would delete.
	ErrHoldsInput = errors.New("input lies inside the workspace")
)

type Workspace struct {
	root string
	lock *flock.Flock
}

// Open creates root if needed. It does not clear existing contents.
func Open(root string) (*Workspace, error) {
	if root == "" {
		return nil, errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{
		root: abs,
		lock: flock.New(filepath.Join(filepath.Dir(abs), "."+filepath.Base(abs)+lockName)),
	}, nil
}

func (w *Workspace) Root() string { return w.root }

// Reset empties the workspace and recreates its layout. Calling it on a
// missing or already empty workspace succeeds.
func (w *Workspace) Reset() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("clear workspace: %w", err)
	}
	for _, dir := range []string{w.root, w.FramesDir(), w.ExportsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Base(dir), err)
		}
	}
	return nil
}

// Lock takes the exclusive workspace lock without blocking.
func (w *Workspace) Lock() error {
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	return nil
}

func (w *Workspace) Unlock() error {
	return w.lock.Unlock()
}

// Contains reports whether path is the workspace root or lies beneath it.
// Symlinks are resolved where they exist.
func (w *Workspace) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return within(resolve(w.root), resolve(abs))
}

// resolve follows symlinks in the longest existing prefix of p.
func resolve(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p
	}
	return filepath.Join(resolve(parent), filepath.Base(p))
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (w *Workspace) FramesDir() string  { return filepath.Join(w.root, "frames") }
func (w *Workspace) ExportsDir() string { return filepath.Join(w.root, "exports") }

// FrameName is the keyframe file name for a scene index, relative to the
// frames directory.
func FrameName(index int) string {
	return fmt.Sprintf("scene_%03d.jpg", index)
}

func (w *Workspace) FramePath(index int) string {
	return filepath.Join(w.FramesDir(), FrameName(index))
}

// Sub returns a child workspace, used for per-run directories under a
// shared root.
func (w *Workspace) Sub(name string) (*Workspace, error) {
	clean := filepath.Base(filepath.Clean("/" + name))
	if clean == "/" || clean == "." {
		return nil, fmt.Errorf("invalid workspace name %q", name)
	}
	return Open(filepath.Join(w.root, clean))
}
