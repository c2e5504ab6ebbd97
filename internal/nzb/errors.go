package nzb

import (
	"errors"
	"fmt"
)

var (
	errMissingRoot        = errors.New("missing <nzb> root element")
	errSegmentOutsideFile = errors.New("<segment> outside of a <file> element")
)

// ErrDuplicate indicates a manifest is already present in the archive queue.
var ErrDuplicate = errors.New("archive already queued")

// ErrUnknownID indicates an archive-id operation referenced an id not in
// the queue. The operation is a no-op.
var ErrUnknownID = errors.New("unknown archive id")

// ParseError wraps a malformed manifest. Callers must treat the archive
// as unusable and relocate the manifest out of the active queue.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ResolutionError indicates a file's true name could not be derived even
// with payload present. Fatal to that file's fetch, not to the process.
type ResolutionError struct {
	File *File
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve a filename for file %d (%s) of %s",
		e.File.Number, e.File.Subject, e.File.Archive.Name)
}

// ValidationError rejects a candidate manifest at the queue boundary.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %s", e.Path, e.Reason)
}
