// Package lifecycle owns the entity store for files, folders and file versions:
// the status state machine, the folder removal cascade and tree traversal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/metrics"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingOutbox     = errors.New("reclamation outbox is required")
	errMissingIDProvider = errors.New("id provider is required")
	errConcurrentUpdate  = errors.New("row changed concurrently")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew                   = "lifecycle.service.new"
	opCreateFolder                 = "lifecycle.create_folder"
	opCreateFile                   = "lifecycle.create_file"
	opCreateFileVersion            = "lifecycle.create_file_version"
	opTransitionFileStatus         = "lifecycle.transition_file_status"
	opTransitionFolder             = "lifecycle.transition_folder_status"
	opTransitionFolderRemoved      = "lifecycle.transition_folder_removed"
	opTransitionFileVersionStatus  = "lifecycle.transition_file_version_status"
	opGetFile                      = "lifecycle.get_file"
	opGetFolder                    = "lifecycle.get_folder"
	opGetFileVersion               = "lifecycle.get_file_version"
	opListFolderFiles              = "lifecycle.list_folder_files"
	fieldFileID                    = "file_id"
	fieldFolderID                  = "folder_id"
	fieldVersionID                 = "version_id"
	fieldUserID                    = "user_id"
	queryUUID                      = "uuid = ?"
	queryUUIDStatus                = "uuid = ? AND status = ?"
	queryID                        = "id = ?"
	queryIDStatus                  = "id = ? AND status = ?"
	reasonMissingDatabase          = "missing_database"
	reasonInvalidTransition        = "invalid_transition"
	reasonInvalidStatus            = "invalid_status"
	reasonInvalidInput             = "invalid_input"
	reasonNotFound                 = "not_found"
	reasonSelectFailed             = "select_failed"
	reasonUpdateFailed             = "update_failed"
	reasonInsertFailed             = "insert_failed"
	reasonConcurrentUpdate         = "concurrent_update"
	reasonReclamationEnqueueFailed = "reclamation_enqueue_failed"
	reasonIDGenerationFailed       = "id_generation_failed"
)

// IntentWriter records reclamation intents inside the caller's transaction.
type IntentWriter interface {
	Enqueue(tx *gorm.DB, kind reclamation.Kind, intent reclamation.Intent) (reclamation.EnqueueOutcome, error)
}

// ServiceConfig describes the dependencies of the lifecycle service.
type ServiceConfig struct {
	Database   *gorm.DB
	Outbox     IntentWriter
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Limits     TreeLimits
}

// Service applies lifecycle transitions to the entity store.
type Service struct {
	db         *gorm.DB
	outbox     IntentWriter
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	metrics    *metrics.Metrics
	limits     TreeLimits
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Outbox == nil {
		return nil, svcerr.New(opServiceNew, "missing_outbox", errMissingOutbox)
	}
	if cfg.IDProvider == nil {
		return nil, svcerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		outbox:     cfg.Outbox,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		metrics:    cfg.Metrics,
		limits:     cfg.Limits.withDefaults(),
	}, nil
}

// CreateFolder inserts a live folder under an optional live parent.
func (s *Service) CreateFolder(ctx context.Context, request FolderRequest) (Folder, error) {
	if s.db == nil {
		return Folder{}, s.fail(opCreateFolder, reasonMissingDatabase, errMissingDatabase)
	}
	if request.UserID == "" {
		return Folder{}, s.fail(opCreateFolder, reasonInvalidInput, fmt.Errorf("%w: user id required", ErrInvalidInput))
	}

	var created Folder
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parentUUID *string
		if request.ParentUUID != nil {
			parent, err := s.loadFolder(tx, opCreateFolder, *request.ParentUUID, false)
			if err != nil {
				return err
			}
			if err := checkParent(parent, request.UserID); err != nil {
				return s.fail(opCreateFolder, reasonInvalidInput, err, zap.String(fieldFolderID, parent.UUID))
			}
			value := parent.UUID
			parentUUID = &value
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opCreateFolder, reasonIDGenerationFailed, err)
		}
		now := s.now()
		created = Folder{
			UUID:             id,
			UserID:           request.UserID.String(),
			ParentUUID:       parentUUID,
			Status:           StatusExists,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return s.failTransient(opCreateFolder, reasonInsertFailed, err, zap.String(fieldFolderID, id))
		}
		return nil
	})
	if txErr != nil {
		return Folder{}, txErr
	}
	return created, nil
}

// CreateFile inserts a live file. A file owns a network blob iff its size is positive.
func (s *Service) CreateFile(ctx context.Context, request FileRequest) (File, error) {
	if s.db == nil {
		return File{}, s.fail(opCreateFile, reasonMissingDatabase, errMissingDatabase)
	}
	if request.UserID == "" {
		return File{}, s.fail(opCreateFile, reasonInvalidInput, fmt.Errorf("%w: user id required", ErrInvalidInput))
	}
	networkFileID, err := normalizeBlob(request.Size, request.NetworkFileID)
	if err != nil {
		return File{}, s.fail(opCreateFile, reasonInvalidInput, err, zap.String(fieldUserID, request.UserID.String()))
	}

	var created File
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var folderUUID *string
		if request.FolderUUID != nil {
			folder, err := s.loadFolder(tx, opCreateFile, *request.FolderUUID, false)
			if err != nil {
				return err
			}
			if err := checkParent(folder, request.UserID); err != nil {
				return s.fail(opCreateFile, reasonInvalidInput, err, zap.String(fieldFolderID, folder.UUID))
			}
			value := folder.UUID
			folderUUID = &value
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opCreateFile, reasonIDGenerationFailed, err)
		}
		now := s.now()
		created = File{
			UUID:             id,
			UserID:           request.UserID.String(),
			FolderUUID:       folderUUID,
			Status:           StatusExists,
			NetworkFileID:    networkFileID,
			Size:             request.Size,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return s.failTransient(opCreateFile, reasonInsertFailed, err, zap.String(fieldFileID, id))
		}
		return nil
	})
	if txErr != nil {
		return File{}, txErr
	}
	return created, nil
}

// CreateFileVersion records a version of a file that is not deleted.
func (s *Service) CreateFileVersion(ctx context.Context, request FileVersionRequest) (FileVersion, error) {
	if s.db == nil {
		return FileVersion{}, s.fail(opCreateFileVersion, reasonMissingDatabase, errMissingDatabase)
	}
	networkFileID, err := normalizeBlob(request.Size, request.NetworkFileID)
	if err != nil {
		return FileVersion{}, s.fail(opCreateFileVersion, reasonInvalidInput, err, zap.String(fieldFileID, request.FileID.String()))
	}

	var created FileVersion
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := s.loadFile(tx, opCreateFileVersion, request.FileID, true)
		if err != nil {
			return err
		}
		if file.Status == StatusDeleted {
			return s.fail(opCreateFileVersion, reasonInvalidInput,
				fmt.Errorf("%w: file is deleted", ErrInvalidInput), zap.String(fieldFileID, file.UUID))
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opCreateFileVersion, reasonIDGenerationFailed, err)
		}
		now := s.now()
		created = FileVersion{
			ID:               id,
			FileID:           file.UUID,
			UserID:           file.UserID,
			NetworkFileID:    networkFileID,
			Size:             request.Size,
			Status:           VersionExists,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return s.failTransient(opCreateFileVersion, reasonInsertFailed, err, zap.String(fieldVersionID, id))
		}
		return nil
	})
	if txErr != nil {
		return FileVersion{}, txErr
	}
	return created, nil
}

// TransitionFileStatus moves a file along the state machine. Deleting a file
// that owns a blob writes a file reclamation intent in the same transaction.
func (s *Service) TransitionFileStatus(ctx context.Context, fileID ItemID, target ItemStatus) (File, error) {
	if s.db == nil {
		return File{}, s.fail(opTransitionFileStatus, reasonMissingDatabase, errMissingDatabase)
	}

	var updated File
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := s.loadFile(tx, opTransitionFileStatus, fileID, true)
		if err != nil {
			return err
		}
		if err := checkItemTransition(file.Status, target); err != nil {
			return svcerr.New(opTransitionFileStatus, transitionReason(err), err)
		}

		now := s.now()
		result := tx.Model(&File{}).
			Where(queryUUIDStatus, file.UUID, file.Status).
			Updates(fileUpdate(file, target, now))
		if result.Error != nil {
			return s.failTransient(opTransitionFileStatus, reasonUpdateFailed, result.Error, zap.String(fieldFileID, file.UUID))
		}
		if result.RowsAffected == 0 {
			return s.failTransient(opTransitionFileStatus, reasonConcurrentUpdate, errConcurrentUpdate, zap.String(fieldFileID, file.UUID))
		}

		if target == StatusDeleted && file.OwnsBlob() {
			if _, err := s.outbox.Enqueue(tx, reclamation.KindFile, reclamation.Intent{
				EntityID:      file.UUID,
				NetworkFileID: file.NetworkFileID,
			}); err != nil {
				return s.fail(opTransitionFileStatus, reasonReclamationEnqueueFailed, err, zap.String(fieldFileID, file.UUID))
			}
		}

		if err := tx.Where(queryUUID, file.UUID).Take(&updated).Error; err != nil {
			return s.failTransient(opTransitionFileStatus, reasonSelectFailed, err, zap.String(fieldFileID, file.UUID))
		}
		return nil
	})
	if txErr != nil {
		return File{}, txErr
	}

	s.metrics.ObserveTransition("file", string(target))
	return updated, nil
}

// TrashFolder soft-trashes a live folder. Children are left untouched.
func (s *Service) TrashFolder(ctx context.Context, folderID ItemID) (Folder, error) {
	return s.transitionFolder(ctx, folderID, StatusTrashed)
}

// RestoreFolder brings a trashed folder back.
func (s *Service) RestoreFolder(ctx context.Context, folderID ItemID) (Folder, error) {
	return s.transitionFolder(ctx, folderID, StatusExists)
}

func (s *Service) transitionFolder(ctx context.Context, folderID ItemID, target ItemStatus) (Folder, error) {
	if s.db == nil {
		return Folder{}, s.fail(opTransitionFolder, reasonMissingDatabase, errMissingDatabase)
	}

	var updated Folder
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.loadFolder(tx, opTransitionFolder, folderID, true)
		if err != nil {
			return err
		}
		if err := checkItemTransition(folder.Status, target); err != nil {
			return svcerr.New(opTransitionFolder, transitionReason(err), err)
		}
		result := tx.Model(&Folder{}).
			Where(queryUUIDStatus, folder.UUID, folder.Status).
			Updates(folderUpdate(folder, target, s.now()))
		if result.Error != nil {
			return s.failTransient(opTransitionFolder, reasonUpdateFailed, result.Error, zap.String(fieldFolderID, folder.UUID))
		}
		if result.RowsAffected == 0 {
			return s.failTransient(opTransitionFolder, reasonConcurrentUpdate, errConcurrentUpdate, zap.String(fieldFolderID, folder.UUID))
		}
		if err := tx.Where(queryUUID, folder.UUID).Take(&updated).Error; err != nil {
			return s.failTransient(opTransitionFolder, reasonSelectFailed, err, zap.String(fieldFolderID, folder.UUID))
		}
		return nil
	})
	if txErr != nil {
		return Folder{}, txErr
	}

	s.metrics.ObserveTransition("folder", string(target))
	return updated, nil
}

// TransitionFolderRemoved terminally removes a folder and cascades the removal
// through its subtree inside one transaction.
func (s *Service) TransitionFolderRemoved(ctx context.Context, folderID ItemID) (CascadeReport, error) {
	if s.db == nil {
		return CascadeReport{}, s.fail(opTransitionFolderRemoved, reasonMissingDatabase, errMissingDatabase)
	}

	var report CascadeReport
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folder, err := s.loadFolder(tx, opTransitionFolderRemoved, folderID, true)
		if err != nil {
			return err
		}
		if folder.Removed() {
			return svcerr.New(opTransitionFolderRemoved, "already_removed", ErrAlreadyRemoved)
		}

		now := s.now()
		result := tx.Model(&Folder{}).
			Where(queryUUIDStatus, folder.UUID, folder.Status).
			Updates(folderUpdate(folder, StatusDeleted, now))
		if result.Error != nil {
			return s.failTransient(opTransitionFolderRemoved, reasonUpdateFailed, result.Error, zap.String(fieldFolderID, folder.UUID))
		}
		if result.RowsAffected == 0 {
			return s.failTransient(opTransitionFolderRemoved, reasonConcurrentUpdate, errConcurrentUpdate, zap.String(fieldFolderID, folder.UUID))
		}
		outcome, err := s.outbox.Enqueue(tx, reclamation.KindFolder, reclamation.Intent{EntityID: folder.UUID})
		if err != nil {
			return s.fail(opTransitionFolderRemoved, reasonReclamationEnqueueFailed, err, zap.String(fieldFolderID, folder.UUID))
		}

		cascaded, err := s.cascadeRemoval(tx, folder, now)
		if err != nil {
			return err
		}
		report = cascaded
		if !outcome.Duplicate() {
			report.Reclamations++
		}
		return nil
	})
	if txErr != nil {
		return CascadeReport{}, txErr
	}

	s.metrics.ObserveTransition("folder", string(StatusDeleted))
	s.metrics.ObserveCascade(report.Folders, report.Files)
	s.logger.Info("folder removed",
		zap.String(fieldFolderID, folderID.String()),
		zap.Int("descendant_folders", report.Folders),
		zap.Int("files", report.Files),
		zap.Int("reclamations", report.Reclamations),
		zap.Int("depth", report.Depth))
	return report, nil
}

// TransitionFileVersionStatus moves a live version to one of its terminal states.
func (s *Service) TransitionFileVersionStatus(ctx context.Context, versionID ItemID, target VersionStatus) (FileVersion, error) {
	if s.db == nil {
		return FileVersion{}, s.fail(opTransitionFileVersionStatus, reasonMissingDatabase, errMissingDatabase)
	}

	var updated FileVersion
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var version FileVersion
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryID, versionID.String()).Take(&version).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return svcerr.New(opTransitionFileVersionStatus, reasonNotFound, ErrNotFound)
		}
		if err != nil {
			return s.failTransient(opTransitionFileVersionStatus, reasonSelectFailed, err, zap.String(fieldVersionID, versionID.String()))
		}
		if err := checkVersionTransition(version.Status, target); err != nil {
			return svcerr.New(opTransitionFileVersionStatus, transitionReason(err), err)
		}

		result := tx.Model(&FileVersion{}).
			Where(queryIDStatus, version.ID, version.Status).
			Updates(map[string]any{"status": target, "updated_at_s": s.now()})
		if result.Error != nil {
			return s.failTransient(opTransitionFileVersionStatus, reasonUpdateFailed, result.Error, zap.String(fieldVersionID, version.ID))
		}
		if result.RowsAffected == 0 {
			return s.failTransient(opTransitionFileVersionStatus, reasonConcurrentUpdate, errConcurrentUpdate, zap.String(fieldVersionID, version.ID))
		}

		if version.OwnsBlob() {
			if _, err := s.outbox.Enqueue(tx, reclamation.KindFileVersion, reclamation.Intent{
				EntityID:      version.ID,
				NetworkFileID: version.NetworkFileID,
			}); err != nil {
				return s.fail(opTransitionFileVersionStatus, reasonReclamationEnqueueFailed, err, zap.String(fieldVersionID, version.ID))
			}
		}

		if err := tx.Where(queryID, version.ID).Take(&updated).Error; err != nil {
			return s.failTransient(opTransitionFileVersionStatus, reasonSelectFailed, err, zap.String(fieldVersionID, version.ID))
		}
		return nil
	})
	if txErr != nil {
		return FileVersion{}, txErr
	}

	s.metrics.ObserveTransition("file_version", string(target))
	return updated, nil
}

// GetFile loads a file by identifier.
func (s *Service) GetFile(ctx context.Context, fileID ItemID) (File, error) {
	if s.db == nil {
		return File{}, s.fail(opGetFile, reasonMissingDatabase, errMissingDatabase)
	}
	return s.loadFile(s.db.WithContext(ctx), opGetFile, fileID, false)
}

// GetFolder loads a folder by identifier.
func (s *Service) GetFolder(ctx context.Context, folderID ItemID) (Folder, error) {
	if s.db == nil {
		return Folder{}, s.fail(opGetFolder, reasonMissingDatabase, errMissingDatabase)
	}
	return s.loadFolder(s.db.WithContext(ctx), opGetFolder, folderID, false)
}

// GetFileVersion loads a file version by identifier.
func (s *Service) GetFileVersion(ctx context.Context, versionID ItemID) (FileVersion, error) {
	if s.db == nil {
		return FileVersion{}, s.fail(opGetFileVersion, reasonMissingDatabase, errMissingDatabase)
	}
	var version FileVersion
	err := s.db.WithContext(ctx).Where(queryID, versionID.String()).Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FileVersion{}, svcerr.New(opGetFileVersion, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		return FileVersion{}, s.failTransient(opGetFileVersion, reasonSelectFailed, err, zap.String(fieldVersionID, versionID.String()))
	}
	return version, nil
}

// IsFileDeleted reports whether the file reached the terminal DELETED state.
func (s *Service) IsFileDeleted(ctx context.Context, fileID ItemID) (bool, error) {
	file, err := s.GetFile(ctx, fileID)
	if err != nil {
		return false, err
	}
	return file.Removed(), nil
}

// IsFolderRemoved reports whether the folder was terminally removed.
func (s *Service) IsFolderRemoved(ctx context.Context, folderID ItemID) (bool, error) {
	folder, err := s.GetFolder(ctx, folderID)
	if err != nil {
		return false, err
	}
	return folder.Removed(), nil
}

// ListFolderFiles returns every file directly inside the folder, in any status.
func (s *Service) ListFolderFiles(ctx context.Context, folderID ItemID) ([]File, error) {
	if s.db == nil {
		return nil, s.fail(opListFolderFiles, reasonMissingDatabase, errMissingDatabase)
	}
	if _, err := s.GetFolder(ctx, folderID); err != nil {
		return nil, err
	}
	files := []File{}
	if err := s.db.WithContext(ctx).
		Where("folder_uuid = ?", folderID.String()).
		Order("created_at_s ASC, uuid ASC").
		Find(&files).Error; err != nil {
		return nil, s.failTransient(opListFolderFiles, reasonSelectFailed, err, zap.String(fieldFolderID, folderID.String()))
	}
	return files, nil
}

func (s *Service) loadFile(tx *gorm.DB, operation string, fileID ItemID, lock bool) (File, error) {
	query := tx
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var file File
	err := query.Where(queryUUID, fileID.String()).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return File{}, svcerr.New(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		return File{}, s.failTransient(operation, reasonSelectFailed, err, zap.String(fieldFileID, fileID.String()))
	}
	return file, nil
}

func (s *Service) loadFolder(tx *gorm.DB, operation string, folderID ItemID, lock bool) (Folder, error) {
	query := tx
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var folder Folder
	err := query.Where(queryUUID, folderID.String()).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Folder{}, svcerr.New(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		return Folder{}, s.failTransient(operation, reasonSelectFailed, err, zap.String(fieldFolderID, folderID.String()))
	}
	return folder, nil
}

func (s *Service) now() int64 {
	return s.clock().UTC().Unix()
}

func checkParent(parent Folder, userID UserID) error {
	if parent.UserID != userID.String() {
		return fmt.Errorf("%w: folder belongs to another user", ErrInvalidInput)
	}
	if parent.Removed() {
		return fmt.Errorf("%w: folder is removed", ErrInvalidInput)
	}
	return nil
}

// normalizeBlob enforces that a network blob is referenced iff size > 0.
func normalizeBlob(size int64, networkFileID *string) (*string, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidInput, size)
	}
	var trimmed string
	if networkFileID != nil {
		trimmed = strings.TrimSpace(*networkFileID)
	}
	if size == 0 {
		if trimmed != "" {
			return nil, fmt.Errorf("%w: empty files cannot reference a network blob", ErrInvalidInput)
		}
		return nil, nil
	}
	if trimmed == "" {
		return nil, fmt.Errorf("%w: network file id required for size %d", ErrInvalidInput, size)
	}
	if len(trimmed) > maxIdentifierLength {
		return nil, fmt.Errorf("%w: network file id exceeds %d characters", ErrInvalidInput, maxIdentifierLength)
	}
	return &trimmed, nil
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return svcerr.New(operation, reason, err)
}

func (s *Service) failTransient(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return svcerr.Transient(operation, reason, err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("lifecycle service error", attrs...)
}

func transitionReason(err error) string {
	if errors.Is(err, ErrInvalidStatus) {
		return reasonInvalidStatus
	}
	return reasonInvalidTransition
}
