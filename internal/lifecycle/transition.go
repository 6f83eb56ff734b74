package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates a backward, same-state or skip-state move.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrAlreadyRemoved indicates that a folder removal targeted a removed folder.
	ErrAlreadyRemoved = errors.New("lifecycle: folder already removed")
	// ErrNotFound indicates that the targeted entity does not exist.
	ErrNotFound = errors.New("lifecycle: not found")
	// ErrInvalidInput indicates a malformed creation request.
	ErrInvalidInput = errors.New("lifecycle: invalid input")
	// ErrInvalidMove indicates that a folder cannot be moved under the target.
	ErrInvalidMove = errors.New("lifecycle: invalid move")
	// ErrCascadeLimitExceeded indicates that a removal touched more of the tree
	// than the configured guards allow.
	ErrCascadeLimitExceeded = errors.New("lifecycle: cascade limit exceeded")
)

// checkItemTransition enforces the file/folder state machine:
//
//	EXISTS  -> TRASHED | DELETED
//	TRASHED -> EXISTS  | DELETED
//	DELETED -> (nothing)
func checkItemTransition(current, target ItemStatus) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if current == target {
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, current)
	}
	switch current {
	case StatusExists:
		if target == StatusTrashed || target == StatusDeleted {
			return nil
		}
	case StatusTrashed:
		if target == StatusExists || target == StatusDeleted {
			return nil
		}
	case StatusDeleted:
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}

// checkVersionTransition allows only EXISTS -> DELETED | REMOVED.
func checkVersionTransition(current, target VersionStatus) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if current.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	if !target.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	return nil
}

// fileUpdate computes the column changes for a file moving to target at now.
func fileUpdate(file File, target ItemStatus, now int64) map[string]any {
	updates := map[string]any{
		"status":       target,
		"updated_at_s": now,
	}
	switch target {
	case StatusTrashed:
		updates["trashed_at_s"] = now
	case StatusExists:
		updates["trashed_at_s"] = nil
	case StatusDeleted:
		updates["removed_at_s"] = now
		if file.TrashedAtSeconds == nil {
			updates["trashed_at_s"] = now
		}
	}
	return updates
}

// folderUpdate computes the column changes for a folder moving to target at now.
func folderUpdate(folder Folder, target ItemStatus, now int64) map[string]any {
	updates := map[string]any{
		"status":       target,
		"updated_at_s": now,
	}
	switch target {
	case StatusTrashed:
		updates["deleted_at_s"] = now
	case StatusExists:
		updates["deleted_at_s"] = nil
	case StatusDeleted:
		updates["removed_at_s"] = now
		if folder.DeletedAtSeconds == nil {
			updates["deleted_at_s"] = now
		}
	}
	return updates
}
