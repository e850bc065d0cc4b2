package sync

import (
	"errors"
	"fmt"
)

var (
	ErrSyncAlreadyRunning      = errors.New("sync: a session is already running")
	ErrClassificationAmbiguous = errors.New("sync: file absent from metadata, local and remote")
	ErrChangedSincePlanning    = errors.New("sync: local file changed since planning")
)

// LocalError is a failed operation on the local workspace.
type LocalError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

func localErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &LocalError{Op: op, Path: path, Err: err}
}
