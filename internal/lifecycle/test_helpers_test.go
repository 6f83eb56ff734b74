package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testNowSeconds = 1700000000

type sequentialIDProvider struct {
	mu      sync.Mutex
	counter int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter++
	return fmt.Sprintf("id-%04d", p.counter), nil
}

type testEnv struct {
	service *Service
	outbox  *reclamation.Outbox
	db      *gorm.DB
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "lifecycle.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate entities: %v", err)
	}
	if err := reclamation.Migrate(db); err != nil {
		t.Fatalf("failed to migrate reclamation: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, limits TreeLimits) testEnv {
	t.Helper()
	db := openTestDatabase(t)
	clock := func() time.Time { return time.Unix(testNowSeconds, 0).UTC() }
	outbox, err := reclamation.NewOutbox(reclamation.OutboxConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create outbox: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Outbox:     outbox,
		Clock:      clock,
		IDProvider: &sequentialIDProvider{},
		Limits:     limits,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return testEnv{service: service, outbox: outbox, db: db}
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustItemID(t *testing.T, value string) ItemID {
	t.Helper()
	id, err := NewItemID(value)
	if err != nil {
		t.Fatalf("unexpected item id error: %v", err)
	}
	return id
}

func mustFolder(t *testing.T, service *Service, userID UserID, parent *Folder) Folder {
	t.Helper()
	request := FolderRequest{UserID: userID}
	if parent != nil {
		parentID := ItemID(parent.UUID)
		request.ParentUUID = &parentID
	}
	folder, err := service.CreateFolder(context.Background(), request)
	if err != nil {
		t.Fatalf("failed to create folder: %v", err)
	}
	return folder
}

func mustFile(t *testing.T, service *Service, userID UserID, folder *Folder, size int64, networkFileID string) File {
	t.Helper()
	request := FileRequest{UserID: userID, Size: size}
	if folder != nil {
		folderID := ItemID(folder.UUID)
		request.FolderUUID = &folderID
	}
	if networkFileID != "" {
		request.NetworkFileID = &networkFileID
	}
	file, err := service.CreateFile(context.Background(), request)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	return file
}

func reclamationCount(t *testing.T, db *gorm.DB, kind reclamation.Kind) int64 {
	t.Helper()
	var count int64
	if err := db.Table(kind.TableName()).Count(&count).Error; err != nil {
		t.Fatalf("failed to count reclamation records: %v", err)
	}
	return count
}
