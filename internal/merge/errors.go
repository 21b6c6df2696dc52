package merge

import (
	"errors"
	"fmt"
)

var (
	errTargetIsDirectory = errors.New("live path is a directory")
	errTargetNotRegular  = errors.New("live path is not a regular file")
)

// MergeError reports the file on which reconciliation stopped.
//
//nolint:revive // merge.MergeError reads naturally next to the other component errors.
type MergeError struct {
	// Path is relative to the installation root.
	Path string
	// Op is the step that failed.
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}
