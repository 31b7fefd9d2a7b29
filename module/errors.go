package module

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat indicates a malformed or unsupported DOL/REL structure.
	ErrFormat = errors.New("bad module format")
	// ErrUnknownRelocation indicates a relocation type outside the known set.
	ErrUnknownRelocation = errors.New("unknown relocation type")
	// ErrTargetRange indicates a relocation target outside of console RAM.
	ErrTargetRange = errors.New("relocation target out of range")
)

// A wrappedError is an error wrapped with a location for context.
type wrappedError struct {
	location string
	inner    error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %v", e.location, e.inner)
}

func (e *wrappedError) Unwrap() error { return e.inner }

// wrapError returns an error wrapped with a location for context.
func wrapError(e error, loc string) error {
	if we, ok := e.(*wrappedError); ok {
		return &wrappedError{
			location: loc + ": " + we.location,
			inner:    we.inner,
		}
	}
	return &wrappedError{
		location: loc,
		inner:    e,
	}
}

// wrapErrorf returns an error wrapped with a formatted location for context.
func wrapErrorf(e error, f string, a ...interface{}) error {
	return wrapError(e, fmt.Sprintf(f, a...))
}

func formatErrorf(f string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(f, a...))
}

// A RelocationError describes a relocation entry that could not be applied.
type RelocationError struct {
	ModuleID uint32 // module the import refers to
	Section  uint8  // section being patched
	Offset   uint32 // cumulative offset within Section
	Type     RelocType
	Target   uint32 // resolved target address, if any
	Err      error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("relocation %s at section %d offset 0x%08x (import module %d, target 0x%08x): %v",
		e.Type, e.Section, e.Offset, e.ModuleID, e.Target, e.Err)
}

func (e *RelocationError) Unwrap() error { return e.Err }
