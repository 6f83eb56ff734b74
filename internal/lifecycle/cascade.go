package lifecycle

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultMaxDepth bounds how deep a cascade or traversal descends.
	DefaultMaxDepth = 256
	// DefaultMaxNodes bounds how many folders a cascade or traversal visits.
	DefaultMaxNodes = 100000

	opCascade         = "lifecycle.cascade"
	updateChunkSize   = 500
	queryLiveChildren = "parent_uuid = ? AND status <> ?"
	queryLiveFiles    = "folder_uuid = ? AND status <> ?"
)

// TreeLimits guards cascades and traversals against corrupt or runaway trees.
type TreeLimits struct {
	MaxDepth int
	MaxNodes int
}

func (l TreeLimits) withDefaults() TreeLimits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = DefaultMaxNodes
	}
	return l
}

type cascadeItem struct {
	uuid  string
	depth int
}

// cascadeRemoval walks the subtree below root breadth first. For each folder on
// the worklist it deletes the files directly inside it and removes its direct
// child folders, which are pushed back onto the worklist. Root must already be
// marked removed by the caller.
func (s *Service) cascadeRemoval(tx *gorm.DB, root Folder, now int64) (CascadeReport, error) {
	var report CascadeReport
	worklist := []cascadeItem{{uuid: root.UUID, depth: 0}}
	visited := map[string]struct{}{root.UUID: {}}

	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]
		if current.depth > report.Depth {
			report.Depth = current.depth
		}

		files, reclaimed, err := s.deleteFolderFiles(tx, current.uuid, now)
		if err != nil {
			return CascadeReport{}, err
		}
		report.Files += files
		report.Reclamations += reclaimed

		children, err := s.removeChildFolders(tx, current, visited, now)
		if err != nil {
			return CascadeReport{}, err
		}
		for _, child := range children {
			report.Folders++
			report.Reclamations += child.reclaimed
			worklist = append(worklist, cascadeItem{uuid: child.uuid, depth: current.depth + 1})
		}
	}
	return report, nil
}

func (s *Service) deleteFolderFiles(tx *gorm.DB, folderUUID string, now int64) (int, int, error) {
	var files []File
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryLiveFiles, folderUUID, StatusDeleted).
		Order("uuid ASC").
		Find(&files).Error; err != nil {
		return 0, 0, s.failTransient(opCascade, "file_select_failed", err, zap.String(fieldFolderID, folderUUID))
	}
	if len(files) == 0 {
		return 0, 0, nil
	}

	updates := map[string]any{
		"status":       StatusDeleted,
		"removed_at_s": now,
		"updated_at_s": now,
		"trashed_at_s": gorm.Expr("COALESCE(trashed_at_s, ?)", now),
	}
	for start := 0; start < len(files); start += updateChunkSize {
		end := min(start+updateChunkSize, len(files))
		ids := make([]string, 0, end-start)
		for _, file := range files[start:end] {
			ids = append(ids, file.UUID)
		}
		if err := tx.Model(&File{}).
			Where("uuid IN ? AND status <> ?", ids, StatusDeleted).
			Updates(updates).Error; err != nil {
			return 0, 0, s.failTransient(opCascade, "file_update_failed", err, zap.String(fieldFolderID, folderUUID))
		}
	}

	reclaimed := 0
	for _, file := range files {
		if !file.OwnsBlob() {
			continue
		}
		outcome, err := s.outbox.Enqueue(tx, reclamation.KindFile, reclamation.Intent{
			EntityID:      file.UUID,
			NetworkFileID: file.NetworkFileID,
		})
		if err != nil {
			return 0, 0, s.fail(opCascade, reasonReclamationEnqueueFailed, err, zap.String(fieldFileID, file.UUID))
		}
		if !outcome.Duplicate() {
			reclaimed++
		}
	}
	return len(files), reclaimed, nil
}

type removedChild struct {
	uuid      string
	reclaimed int
}

func (s *Service) removeChildFolders(tx *gorm.DB, parent cascadeItem, visited map[string]struct{}, now int64) ([]removedChild, error) {
	var children []Folder
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryLiveChildren, parent.uuid, StatusDeleted).
		Order("uuid ASC").
		Find(&children).Error; err != nil {
		return nil, s.failTransient(opCascade, "folder_select_failed", err, zap.String(fieldFolderID, parent.uuid))
	}
	if len(children) == 0 {
		return nil, nil
	}
	if parent.depth+1 > s.limits.MaxDepth {
		return nil, s.fail(opCascade, "depth_exceeded",
			fmt.Errorf("%w: depth %d exceeds %d", ErrCascadeLimitExceeded, parent.depth+1, s.limits.MaxDepth),
			zap.String(fieldFolderID, parent.uuid))
	}

	removed := make([]removedChild, 0, len(children))
	for _, child := range children {
		if _, seen := visited[child.UUID]; seen {
			s.logger.Warn("folder cycle detected during cascade",
				zap.String(fieldFolderID, child.UUID),
				zap.String("parent_id", parent.uuid))
			continue
		}
		visited[child.UUID] = struct{}{}
		if len(visited) > s.limits.MaxNodes {
			return nil, s.fail(opCascade, "node_limit_exceeded",
				fmt.Errorf("%w: more than %d folders", ErrCascadeLimitExceeded, s.limits.MaxNodes),
				zap.String(fieldFolderID, parent.uuid))
		}

		result := tx.Model(&Folder{}).
			Where(queryUUIDStatus, child.UUID, child.Status).
			Updates(folderUpdate(child, StatusDeleted, now))
		if result.Error != nil {
			return nil, s.failTransient(opCascade, "folder_update_failed", result.Error, zap.String(fieldFolderID, child.UUID))
		}
		if result.RowsAffected == 0 {
			continue
		}
		outcome, err := s.outbox.Enqueue(tx, reclamation.KindFolder, reclamation.Intent{EntityID: child.UUID})
		if err != nil {
			return nil, s.fail(opCascade, reasonReclamationEnqueueFailed, err, zap.String(fieldFolderID, child.UUID))
		}
		entry := removedChild{uuid: child.UUID}
		if !outcome.Duplicate() {
			entry.reclaimed = 1
		}
		removed = append(removed, entry)
	}
	return removed, nil
}
