package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidID indicates that an identifier is empty or exceeds storage bounds.
	ErrInvalidID = errors.New("lifecycle: invalid identifier")
	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.New("lifecycle: invalid status")
)

// ItemStatus is the lifecycle state shared by files and folders.
type ItemStatus string

const (
	// StatusExists marks a live item.
	StatusExists ItemStatus = "EXISTS"
	// StatusTrashed marks a reversible, user-initiated soft-trash.
	StatusTrashed ItemStatus = "TRASHED"
	// StatusDeleted marks the terminal removal that triggers cascade and reclamation.
	StatusDeleted ItemStatus = "DELETED"
)

// ParseItemStatus validates raw input.
func ParseItemStatus(raw string) (ItemStatus, error) {
	switch status := ItemStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case StatusExists, StatusTrashed, StatusDeleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// Valid reports whether s is one of the known item states.
func (s ItemStatus) Valid() bool {
	return s == StatusExists || s == StatusTrashed || s == StatusDeleted
}

// VersionStatus is the lifecycle state of a file version.
type VersionStatus string

const (
	VersionExists  VersionStatus = "EXISTS"
	VersionDeleted VersionStatus = "DELETED"
	// VersionRemoved is a second terminal state, gated for reclamation like VersionDeleted.
	VersionRemoved VersionStatus = "REMOVED"
)

// ParseVersionStatus validates raw input.
func ParseVersionStatus(raw string) (VersionStatus, error) {
	switch status := VersionStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case VersionExists, VersionDeleted, VersionRemoved:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// Valid reports whether s is one of the known version states.
func (s VersionStatus) Valid() bool {
	return s == VersionExists || s.Terminal()
}

// Terminal reports whether no further transition is allowed.
func (s VersionStatus) Terminal() bool {
	return s == VersionDeleted || s == VersionRemoved
}

// ItemID is a validated file, folder or version identifier.
type ItemID string

// NewItemID validates raw input and returns an ItemID.
func NewItemID(rawInput string) (ItemID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIdentifierLength)
	}
	return ItemID(trimmed), nil
}

func (id ItemID) String() string {
	return string(id)
}

// UserID is a validated owner identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: user id exceeds %d characters", ErrInvalidID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

func (id UserID) String() string {
	return string(id)
}

// Folder is a node of a user's tree. Status is the only stored state; the legacy
// deleted/removed flags are derived from it.
type Folder struct {
	UUID             string     `gorm:"column:uuid;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index:idx_folders_user_parent,priority:1"`
	ParentUUID       *string    `gorm:"column:parent_uuid;size:190;index:idx_folders_user_parent,priority:2;index:idx_folders_parent"`
	Status           ItemStatus `gorm:"column:status;size:16;not null;default:EXISTS"`
	DeletedAtSeconds *int64     `gorm:"column:deleted_at_s"`
	RemovedAtSeconds *int64     `gorm:"column:removed_at_s"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64      `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Folder) TableName() string {
	return "folders"
}

// Deleted is the legacy soft-trash flag.
func (f Folder) Deleted() bool {
	return f.Status != StatusExists
}

// Removed is the legacy terminal-removal flag.
func (f Folder) Removed() bool {
	return f.Status == StatusDeleted
}

// IsRoot reports whether the folder has no parent.
func (f Folder) IsRoot() bool {
	return f.ParentUUID == nil
}

// File is a stored object. NetworkFileID is set iff Size > 0.
type File struct {
	UUID             string     `gorm:"column:uuid;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index:idx_files_user_created,priority:1;index:idx_files_user_removed,priority:1"`
	FolderUUID       *string    `gorm:"column:folder_uuid;size:190;index:idx_files_folder_status,priority:1"`
	Status           ItemStatus `gorm:"column:status;size:16;not null;default:EXISTS;index:idx_files_folder_status,priority:2"`
	NetworkFileID    *string    `gorm:"column:network_file_id;size:190"`
	Size             int64      `gorm:"column:size;not null;default:0"`
	TrashedAtSeconds *int64     `gorm:"column:trashed_at_s"`
	RemovedAtSeconds *int64     `gorm:"column:removed_at_s;index:idx_files_user_removed,priority:2"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null;index:idx_files_user_created,priority:2"`
	UpdatedAtSeconds int64      `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (File) TableName() string {
	return "files"
}

// Removed is the legacy terminal-removal flag.
func (f File) Removed() bool {
	return f.Status == StatusDeleted
}

// OwnsBlob reports whether the file references a physical blob that must be
// reclaimed once it is deleted.
func (f File) OwnsBlob() bool {
	return f.Size > 0 && f.NetworkFileID != nil && strings.TrimSpace(*f.NetworkFileID) != ""
}

// FileVersion is a historical revision of a file with its own blob.
type FileVersion struct {
	ID               string        `gorm:"column:id;primaryKey;size:190;not null"`
	FileID           string        `gorm:"column:file_id;size:190;not null;index"`
	UserID           string        `gorm:"column:user_id;size:190;not null;index"`
	NetworkFileID    *string       `gorm:"column:network_file_id;size:190"`
	Size             int64         `gorm:"column:size;not null;default:0"`
	Status           VersionStatus `gorm:"column:status;size:16;not null;default:EXISTS"`
	CreatedAtSeconds int64         `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64         `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FileVersion) TableName() string {
	return "file_versions"
}

// OwnsBlob reports whether the version references a physical blob.
func (v FileVersion) OwnsBlob() bool {
	return v.Size > 0 && v.NetworkFileID != nil && strings.TrimSpace(*v.NetworkFileID) != ""
}

// FolderRequest describes a folder to create.
type FolderRequest struct {
	UserID     UserID
	ParentUUID *ItemID
}

// FileRequest describes a file to create.
type FileRequest struct {
	UserID        UserID
	FolderUUID    *ItemID
	NetworkFileID *string
	Size          int64
}

// FileVersionRequest describes a version to create for an existing file.
type FileVersionRequest struct {
	FileID        ItemID
	NetworkFileID *string
	Size          int64
}

// CascadeReport summarizes a folder removal.
type CascadeReport struct {
	Folders      int
	Files        int
	Reclamations int
	Depth        int
}
