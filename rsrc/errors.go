package rsrc

import (
	"github.com/pkg/errors"

	"github.com/dentalwings/icoswap/ico"
)

var (
	ErrAccess       = errors.New("executable cannot be opened for update")
	ErrInvalidImage = errors.New("not an executable image that can hold resources")
	ErrWriteFailure = errors.New("resource update failed")

	errLocked = errors.New("file is locked by another update session")
)

var kinds = []error{ico.ErrCorrupt, ErrAccess, ErrInvalidImage, ErrWriteFailure}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.err.Error() + ": " + e.kind.Error() }

func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// Classify marks err as being of the given kind, keeping err itself
// reachable through errors.Is and errors.As. Errors that already carry one
// of the kinds are returned unchanged, as is nil.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return err
		}
	}
	return &kindError{kind: kind, err: err}
}
