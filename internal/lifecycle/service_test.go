package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"gorm.io/gorm"
)

func TestDeletingFileWritesSingleReclamationRecord(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	file := mustFile(t, env.service, userID, nil, 2048, "net-1")

	deleted, err := env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), StatusDeleted)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if deleted.Status != StatusDeleted || !deleted.Removed() {
		t.Fatalf("expected deleted file, got %+v", deleted)
	}
	if deleted.RemovedAtSeconds == nil || *deleted.RemovedAtSeconds != testNowSeconds {
		t.Fatalf("expected removed_at_s to be stamped, got %v", deleted.RemovedAtSeconds)
	}

	record, err := env.outbox.Get(context.Background(), reclamation.KindFile, file.UUID)
	if err != nil {
		t.Fatalf("expected reclamation record: %v", err)
	}
	if record.Processed || record.Enqueued {
		t.Fatalf("expected unprocessed record, got %+v", record)
	}
	if record.NetworkFileID == nil || *record.NetworkFileID != "net-1" {
		t.Fatalf("unexpected network file id %v", record.NetworkFileID)
	}

	_, err = env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), StatusDeleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second delete to be rejected, got %v", err)
	}
	if svcerr.IsRetryable(err) {
		t.Fatalf("invalid transitions must not be retryable")
	}
	if count := reclamationCount(t, env.db, reclamation.KindFile); count != 1 {
		t.Fatalf("expected record count to stay at 1, got %d", count)
	}
}

func TestDeletedFilesNeverMoveAgain(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	file := mustFile(t, env.service, userID, nil, 10, "net-10")
	if _, err := env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), StatusDeleted); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	for _, target := range []ItemStatus{StatusExists, StatusTrashed, StatusDeleted} {
		_, err := env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), target)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected DELETED -> %s to fail, got %v", target, err)
		}
	}
}

func TestUnknownTargetStatusIsRejectedAsInvalidStatus(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	file := mustFile(t, env.service, userID, nil, 10, "net-10")

	_, err := env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), ItemStatus("FOO"))
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unknown status must not be reported as a transition error: %v", err)
	}
}

func TestZeroSizeFilesNeverProduceReclamation(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	direct := mustFile(t, env.service, userID, nil, 0, "")
	viaTrash := mustFile(t, env.service, userID, nil, 0, "")

	if _, err := env.service.TransitionFileStatus(context.Background(), ItemID(direct.UUID), StatusDeleted); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := env.service.TransitionFileStatus(context.Background(), ItemID(viaTrash.UUID), StatusTrashed); err != nil {
		t.Fatalf("trash failed: %v", err)
	}
	if _, err := env.service.TransitionFileStatus(context.Background(), ItemID(viaTrash.UUID), StatusDeleted); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if count := reclamationCount(t, env.db, reclamation.KindFile); count != 0 {
		t.Fatalf("expected no reclamation records for empty files, got %d", count)
	}
}

func TestTrashAndRestoreDoNotReclaim(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	file := mustFile(t, env.service, userID, nil, 512, "net-512")

	trashed, err := env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), StatusTrashed)
	if err != nil {
		t.Fatalf("trash failed: %v", err)
	}
	if trashed.TrashedAtSeconds == nil || trashed.Removed() {
		t.Fatalf("unexpected trashed file %+v", trashed)
	}
	restored, err := env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), StatusExists)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Status != StatusExists || restored.TrashedAtSeconds != nil {
		t.Fatalf("unexpected restored file %+v", restored)
	}
	if count := reclamationCount(t, env.db, reclamation.KindFile); count != 0 {
		t.Fatalf("soft-trash must not reclaim, got %d records", count)
	}
}

func TestCreateFileEnforcesBlobInvariant(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	netID := "net-x"
	blank := "  "

	tests := []struct {
		name    string
		request FileRequest
	}{
		{name: "empty-with-blob", request: FileRequest{UserID: userID, Size: 0, NetworkFileID: &netID}},
		{name: "sized-without-blob", request: FileRequest{UserID: userID, Size: 100}},
		{name: "sized-with-blank-blob", request: FileRequest{UserID: userID, Size: 100, NetworkFileID: &blank}},
		{name: "negative-size", request: FileRequest{UserID: userID, Size: -1}},
		{name: "missing-user", request: FileRequest{Size: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.CreateFile(context.Background(), tt.request)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCreateFileRejectsRemovedFolder(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	folder := mustFolder(t, env.service, userID, nil)
	if _, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(folder.UUID)); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	folderID := ItemID(folder.UUID)
	_, err := env.service.CreateFile(context.Background(), FileRequest{UserID: userID, FolderUUID: &folderID})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for removed folder, got %v", err)
	}

	other := mustUserID(t, "user-2")
	live := mustFolder(t, env.service, userID, nil)
	liveID := ItemID(live.UUID)
	_, err = env.service.CreateFolder(context.Background(), FolderRequest{UserID: other, ParentUUID: &liveID})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for foreign parent, got %v", err)
	}
}

func TestTransitionUnknownFile(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	_, err := env.service.TransitionFileStatus(context.Background(), mustItemID(t, "missing"), StatusDeleted)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type failingIntentWriter struct{}

func (failingIntentWriter) Enqueue(*gorm.DB, reclamation.Kind, reclamation.Intent) (reclamation.EnqueueOutcome, error) {
	return reclamation.EnqueueOutcome{}, svcerr.Transient("reclamation.enqueue", "insert_failed", errors.New("disk full"))
}

func TestFailedReclamationRollsBackTransition(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	folder := mustFolder(t, env.service, userID, nil)
	file := mustFile(t, env.service, userID, &folder, 64, "net-64")

	broken, err := NewService(ServiceConfig{
		Database:   env.db,
		Outbox:     failingIntentWriter{},
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	_, err = broken.TransitionFileStatus(context.Background(), ItemID(file.UUID), StatusDeleted)
	if err == nil || !svcerr.IsRetryable(err) {
		t.Fatalf("expected retryable failure, got %v", err)
	}
	stored, err := env.service.GetFile(context.Background(), ItemID(file.UUID))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != StatusExists {
		t.Fatalf("expected transition to be rolled back, got %s", stored.Status)
	}

	_, err = broken.TransitionFolderRemoved(context.Background(), ItemID(folder.UUID))
	if err == nil || !svcerr.IsRetryable(err) {
		t.Fatalf("expected retryable failure, got %v", err)
	}
	removed, err := env.service.IsFolderRemoved(context.Background(), ItemID(folder.UUID))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if removed {
		t.Fatalf("expected folder removal to be rolled back")
	}
}

func TestFileVersionTransitions(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	file := mustFile(t, env.service, userID, nil, 100, "net-file")

	netV1 := "net-v1"
	sized, err := env.service.CreateFileVersion(context.Background(), FileVersionRequest{FileID: ItemID(file.UUID), Size: 90, NetworkFileID: &netV1})
	if err != nil {
		t.Fatalf("create version failed: %v", err)
	}
	empty, err := env.service.CreateFileVersion(context.Background(), FileVersionRequest{FileID: ItemID(file.UUID), Size: 0})
	if err != nil {
		t.Fatalf("create empty version failed: %v", err)
	}

	if _, err := env.service.TransitionFileVersionStatus(context.Background(), ItemID(sized.ID), VersionRemoved); err != nil {
		t.Fatalf("remove version failed: %v", err)
	}
	if _, err := env.service.TransitionFileVersionStatus(context.Background(), ItemID(empty.ID), VersionDeleted); err != nil {
		t.Fatalf("delete version failed: %v", err)
	}
	_, err = env.service.TransitionFileVersionStatus(context.Background(), ItemID(sized.ID), VersionDeleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal version to reject transitions, got %v", err)
	}

	if count := reclamationCount(t, env.db, reclamation.KindFileVersion); count != 1 {
		t.Fatalf("expected exactly one version reclamation, got %d", count)
	}
	if _, err := env.outbox.Get(context.Background(), reclamation.KindFileVersion, sized.ID); err != nil {
		t.Fatalf("expected record for sized version: %v", err)
	}

	owner, err := env.service.GetFile(context.Background(), ItemID(file.UUID))
	if err != nil {
		t.Fatalf("get file failed: %v", err)
	}
	if owner.Status != StatusExists {
		t.Fatalf("version deletion must not affect the owning file")
	}
}

func TestCreateFileVersionRejectsDeletedFile(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	file := mustFile(t, env.service, userID, nil, 0, "")
	if _, err := env.service.TransitionFileStatus(context.Background(), ItemID(file.UUID), StatusDeleted); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, err := env.service.CreateFileVersion(context.Background(), FileVersionRequest{FileID: ItemID(file.UUID)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected missing database error")
	}
	db := openTestDatabase(t)
	if _, err := NewService(ServiceConfig{Database: db, IDProvider: &sequentialIDProvider{}}); err == nil {
		t.Fatalf("expected missing outbox error")
	}
}
