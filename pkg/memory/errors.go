package memory

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOutOfMemory is returned when no tier can satisfy a region.
	ErrOutOfMemory = errors.New("memory: out of memory")

	// ErrNotOwned is returned when freeing a buffer the tier did not hand out.
	ErrNotOwned = errors.New("memory: buffer not owned by tier")

	// ErrUnknownRegion is returned by Set.Buffer for names never allocated.
	ErrUnknownRegion = errors.New("memory: unknown region")
)

// AllocError reports which region could not be placed and what each tier
// said about it.
type AllocError struct {
	Region string
	Size   int
	Tried  []string
	Causes []error
}

func (e *AllocError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "memory: region %q (%d bytes) does not fit", e.Region, e.Size)
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, " in [%s]", strings.Join(e.Tried, ", "))
	}
	return b.String()
}

func (e *AllocError) Unwrap() error {
	return ErrOutOfMemory
}
