package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opAncestors    = "lifecycle.ancestors"
	opDescendants  = "lifecycle.descendants"
	opValidateMove = "lifecycle.validate_move"
	queryOwnedLive = "uuid = ? AND user_id = ? AND status <> ?"
)

// Ancestors yields the live ancestors of a folder, nearest first, following
// parent links. The walk is scoped to the user and stops at the first missing
// or removed ancestor. Each step is a single query, so nothing is held open
// between yields.
func (s *Service) Ancestors(ctx context.Context, userID UserID, folderID ItemID) iter.Seq2[Folder, error] {
	return func(yield func(Folder, error) bool) {
		start, err := s.ownedLiveFolder(ctx, opAncestors, userID, folderID.String())
		if err != nil {
			yield(Folder{}, err)
			return
		}

		visited := map[string]struct{}{start.UUID: {}}
		current := start
		for current.ParentUUID != nil {
			parentID := *current.ParentUUID
			if _, seen := visited[parentID]; seen {
				yield(Folder{}, svcerr.New(opAncestors, "cycle_detected",
					fmt.Errorf("%w: cycle at %s", ErrCascadeLimitExceeded, parentID)))
				return
			}
			visited[parentID] = struct{}{}
			if len(visited) > s.limits.MaxDepth {
				yield(Folder{}, svcerr.New(opAncestors, "depth_exceeded",
					fmt.Errorf("%w: more than %d ancestors", ErrCascadeLimitExceeded, s.limits.MaxDepth)))
				return
			}

			parent, err := s.ownedLiveFolder(ctx, opAncestors, userID, parentID)
			if errors.Is(err, ErrNotFound) {
				return
			}
			if err != nil {
				yield(Folder{}, err)
				return
			}
			if !yield(parent, nil) {
				return
			}
			current = parent
		}
	}
}

// Descendants yields the live descendants of a folder level by level, scoped to
// the user. Removed folders and everything below them are skipped.
func (s *Service) Descendants(ctx context.Context, userID UserID, folderID ItemID) iter.Seq2[Folder, error] {
	return func(yield func(Folder, error) bool) {
		start, err := s.ownedLiveFolder(ctx, opDescendants, userID, folderID.String())
		if err != nil {
			yield(Folder{}, err)
			return
		}

		visited := map[string]struct{}{start.UUID: {}}
		frontier := []string{start.UUID}
		for depth := 1; len(frontier) > 0; depth++ {
			if depth > s.limits.MaxDepth {
				yield(Folder{}, svcerr.New(opDescendants, "depth_exceeded",
					fmt.Errorf("%w: depth %d exceeds %d", ErrCascadeLimitExceeded, depth, s.limits.MaxDepth)))
				return
			}

			var level []Folder
			if err := s.db.WithContext(ctx).
				Where("parent_uuid IN ? AND user_id = ? AND status <> ?", frontier, userID.String(), StatusDeleted).
				Order("uuid ASC").
				Find(&level).Error; err != nil {
				s.logError(opDescendants, reasonSelectFailed, err, zap.String(fieldFolderID, folderID.String()))
				yield(Folder{}, svcerr.Transient(opDescendants, reasonSelectFailed, err))
				return
			}

			next := make([]string, 0, len(level))
			for _, folder := range level {
				if _, seen := visited[folder.UUID]; seen {
					continue
				}
				visited[folder.UUID] = struct{}{}
				if len(visited) > s.limits.MaxNodes {
					yield(Folder{}, svcerr.New(opDescendants, "node_limit_exceeded",
						fmt.Errorf("%w: more than %d folders", ErrCascadeLimitExceeded, s.limits.MaxNodes)))
					return
				}
				if !yield(folder, nil) {
					return
				}
				next = append(next, folder.UUID)
			}
			frontier = next
		}
	}
}

// ValidateMove checks that folderID may be re-parented under newParentID: both
// must be live folders of the user and the new parent must not be the folder or
// one of its descendants.
func (s *Service) ValidateMove(ctx context.Context, userID UserID, folderID, newParentID ItemID) error {
	if folderID == newParentID {
		return svcerr.New(opValidateMove, "self_parent", fmt.Errorf("%w: folder cannot contain itself", ErrInvalidMove))
	}
	if _, err := s.ownedLiveFolder(ctx, opValidateMove, userID, folderID.String()); err != nil {
		return err
	}
	if _, err := s.ownedLiveFolder(ctx, opValidateMove, userID, newParentID.String()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return svcerr.New(opValidateMove, "parent_unavailable", fmt.Errorf("%w: target folder is missing or removed", ErrInvalidMove))
		}
		return err
	}

	for ancestor, err := range s.Ancestors(ctx, userID, newParentID) {
		if err != nil {
			return err
		}
		if ancestor.UUID == folderID.String() {
			return svcerr.New(opValidateMove, "descendant_parent",
				fmt.Errorf("%w: target folder is inside the moved folder", ErrInvalidMove))
		}
	}
	return nil
}

func (s *Service) ownedLiveFolder(ctx context.Context, operation string, userID UserID, folderID string) (Folder, error) {
	if s.db == nil {
		return Folder{}, s.fail(operation, reasonMissingDatabase, errMissingDatabase)
	}
	var folder Folder
	err := s.db.WithContext(ctx).
		Where(queryOwnedLive, folderID, userID.String(), StatusDeleted).
		Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Folder{}, svcerr.New(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		return Folder{}, s.failTransient(operation, reasonSelectFailed, err, zap.String(fieldFolderID, folderID))
	}
	return folder, nil
}
