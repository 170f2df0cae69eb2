package upload

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrChunkPersist    = errors.New("failed to persist chunk")
	ErrTooManySessions = errors.New("too many concurrent upload sessions")
	ErrAssembly        = errors.New("assembly failed")
)

// AssemblyError reports a failed merge. The session is left in the error
// state with its remaining chunks in place.
type AssemblyError struct {
	UploadID string
	Missing  []int
	Err      error
}

func (e *AssemblyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: upload %s is missing chunks %v", ErrAssembly, e.UploadID, e.Missing)
	}
	return fmt.Sprintf("%s: upload %s: %v", ErrAssembly, e.UploadID, e.Err)
}

func (e *AssemblyError) Unwrap() []error {
	return []error{ErrAssembly, e.Err}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
