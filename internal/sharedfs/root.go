// Package sharedfs confines every client-supplied path to the shared
// directory and reports its disk usage.
package sharedfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path escapes the shared root")

type Root struct {
	path string
}

func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve shared root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create shared root: %w", err)
	}
	return &Root{path: abs}, nil
}

func (r *Root) Path() string {
	return r.path
}

// Clean joins client path elements into a slash-separated path relative to
// the root. A leading slash means the root itself; backslashes count as
// separators. Anything that would climb above the root is rejected.
func Clean(elems ...string) (string, error) {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		if strings.ContainsRune(e, 0) {
			return "", fmt.Errorf("%w: NUL byte in %q", ErrOutsideRoot, e)
		}
		e = strings.ReplaceAll(e, `\`, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}

	joined := strings.Join(parts, "/")
	if len(joined) >= 2 && joined[1] == ':' {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, joined)
	}
	cleaned := path.Clean(strings.TrimLeft(joined, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, joined)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// Resolve returns the absolute filesystem path and the cleaned relative path
// for the given client path elements.
func (r *Root) Resolve(elems ...string) (string, string, error) {
	rel, err := Clean(elems...)
	if err != nil {
		return "", "", err
	}
	abs := filepath.Join(r.path, filepath.FromSlash(rel))
	if abs != r.path && !strings.HasPrefix(abs, r.path+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return abs, rel, nil
}
