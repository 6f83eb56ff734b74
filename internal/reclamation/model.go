package reclamation

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects one of the per-entity reclamation queues.
type Kind string

const (
	KindFile        Kind = "file"
	KindFolder      Kind = "folder"
	KindFileVersion Kind = "file_version"
)

var (
	// ErrUnknownKind indicates an unsupported reclamation queue name.
	ErrUnknownKind = errors.New("reclamation: unknown kind")
	// ErrNotFound indicates that no reclamation record exists for the entity.
	ErrNotFound = errors.New("reclamation: record not found")
	// ErrInvalidEntityID indicates an empty entity identifier.
	ErrInvalidEntityID = errors.New("reclamation: invalid entity id")
)

// Kinds lists every queue in drain order.
func Kinds() []Kind {
	return []Kind{KindFile, KindFileVersion, KindFolder}
}

// ParseKind validates a raw queue name.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindFile:
		return KindFile, nil
	case KindFolder:
		return KindFolder, nil
	case KindFileVersion, "file-version", "version":
		return KindFileVersion, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

func (k Kind) String() string {
	return string(k)
}

// TableName returns the queue table backing the kind.
func (k Kind) TableName() string {
	switch k {
	case KindFile:
		return "file_reclamations"
	case KindFolder:
		return "folder_reclamations"
	case KindFileVersion:
		return "file_version_reclamations"
	default:
		return ""
	}
}

// Record is one deletion intent. The same shape backs all three queue tables.
type Record struct {
	EntityID           string  `gorm:"column:entity_id;primaryKey;size:190;not null"`
	NetworkFileID      *string `gorm:"column:network_file_id;size:190"`
	Processed          bool    `gorm:"column:processed;not null;default:false"`
	ProcessedAtSeconds *int64  `gorm:"column:processed_at_s"`
	Enqueued           bool    `gorm:"column:enqueued;not null;default:false"`
	EnqueuedAtSeconds  *int64  `gorm:"column:enqueued_at_s"`
	CreatedAtSeconds   int64   `gorm:"column:created_at_s;not null"`
}

// Intent describes the entity whose blob must eventually be reclaimed.
type Intent struct {
	EntityID      string
	NetworkFileID *string
}

// Pending is a record handed to a worker by Drain.
type Pending struct {
	Kind          Kind
	EntityID      string
	NetworkFileID *string
}

// EnqueueOutcome reports the result of writing an intent.
type EnqueueOutcome struct {
	kind      Kind
	entityID  string
	duplicate bool
}

// Kind returns the queue the intent was written to.
func (outcome EnqueueOutcome) Kind() Kind {
	return outcome.kind
}

// EntityID returns the entity identifier.
func (outcome EnqueueOutcome) EntityID() string {
	return outcome.entityID
}

// Duplicate reports whether an intent for the entity already existed.
func (outcome EnqueueOutcome) Duplicate() bool {
	return outcome.duplicate
}

// Counts summarizes a queue.
type Counts struct {
	Pending   int64
	Enqueued  int64
	Processed int64
}
