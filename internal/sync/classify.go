package sync

import (
	"fmt"

	"github.com/openmined/artifactsync/internal/fingerprint"
)

type Action string

const (
	ActionNoOp         Action = "NoOp"
	ActionPull         Action = "Pull"
	ActionPullNew      Action = "PullNew"
	ActionPush         Action = "Push"
	ActionPushNew      Action = "PushNew"
	ActionDeleteLocal  Action = "DeleteLocal"
	ActionDeleteRemote Action = "DeleteRemote"
	ActionConflict     Action = "Conflict"
	// ActionConverged means both sides hold the same new content; only the
	// record is refreshed.
	ActionConverged Action = "Converged"
	// ActionCleanup means both sides deleted the file; only the record is dropped.
	ActionCleanup Action = "Cleanup"
)

// IsPull reports whether the action writes remote content locally.
func (a Action) IsPull() bool {
	return a == ActionPull || a == ActionPullNew
}

// IsPush reports whether the action writes local content remotely.
func (a Action) IsPush() bool {
	return a == ActionPush || a == ActionPushNew
}

// IsMetadataOnly reports whether the action touches neither side.
func (a Action) IsMetadataOnly() bool {
	return a == ActionConverged || a == ActionCleanup
}

// FileState is the three-way view of one file. Versions are only known for
// recipes.
type FileState struct {
	Stored        fingerprint.Optional
	Local         fingerprint.Optional
	Remote        fingerprint.Optional
	StoredVersion *int64
	RemoteVersion *int64
}

func (s FileState) localChanged() bool {
	return !s.Local.Equal(s.Stored)
}

// remoteChanged prefers the server version over the fingerprint when both
// sides know it.
func (s FileState) remoteChanged() bool {
	if !s.Remote.Valid || !s.Stored.Valid {
		return s.Remote.Valid != s.Stored.Valid
	}
	if s.StoredVersion != nil && s.RemoteVersion != nil {
		return *s.StoredVersion != *s.RemoteVersion
	}
	return s.Remote.Value != s.Stored.Value
}

// Classify decides what to do with one file. An absent side counts as changed
// against a stored fingerprint, so a deletion on one side against a
// modification on the other is a conflict.
func Classify(s FileState) (Action, error) {
	stored, local, remote := s.Stored.Valid, s.Local.Valid, s.Remote.Valid

	switch {
	case !stored && !local && !remote:
		return "", ErrClassificationAmbiguous
	case !stored && !local && remote:
		return ActionPullNew, nil
	case !stored && local && !remote:
		return ActionPushNew, nil
	case stored && !local && !remote:
		return ActionCleanup, nil
	case stored && !local && remote && !s.remoteChanged():
		return ActionDeleteRemote, nil
	case stored && local && !remote && !s.localChanged():
		return ActionDeleteLocal, nil
	}

	localChanged, remoteChanged := s.localChanged(), s.remoteChanged()
	switch {
	case !localChanged && !remoteChanged:
		return ActionNoOp, nil
	case localChanged && !remoteChanged:
		return ActionPush, nil
	case !localChanged && remoteChanged:
		return ActionPull, nil
	case local && remote && s.Local.Value == s.Remote.Value:
		return ActionConverged, nil
	default:
		return ActionConflict, nil
	}
}

func (s FileState) String() string {
	return fmt.Sprintf("stored=%s local=%s remote=%s", s.Stored, s.Local, s.Remote)
}
