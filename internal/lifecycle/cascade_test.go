package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
)

func buildChain(t *testing.T, service *Service, userID UserID, depth int) []Folder {
	t.Helper()
	chain := []Folder{mustFolder(t, service, userID, nil)}
	for len(chain) <= depth {
		parent := chain[len(chain)-1]
		chain = append(chain, mustFolder(t, service, userID, &parent))
	}
	return chain
}

func TestFolderRemovalCascadesThroughWholeSubtree(t *testing.T) {
	const depth = 6
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	chain := buildChain(t, env.service, userID, depth)

	var blobFiles, emptyFiles []File
	for index := range chain {
		folder := chain[index]
		blobFiles = append(blobFiles, mustFile(t, env.service, userID, &folder, int64(100+index), "net-chain-"+folder.UUID))
		emptyFiles = append(emptyFiles, mustFile(t, env.service, userID, &folder, 0, ""))
	}
	trashedChild := mustFolder(t, env.service, userID, &chain[2])
	if _, err := env.service.TrashFolder(context.Background(), ItemID(trashedChild.UUID)); err != nil {
		t.Fatalf("trash failed: %v", err)
	}

	report, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(chain[0].UUID))
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if report.Folders != depth+1 {
		t.Fatalf("expected %d descendant folders, got %d", depth+1, report.Folders)
	}
	if report.Files != 2*(depth+1) {
		t.Fatalf("expected %d files, got %d", 2*(depth+1), report.Files)
	}
	if report.Depth != depth {
		t.Fatalf("expected depth %d, got %d", depth, report.Depth)
	}

	for _, folder := range append(chain, trashedChild) {
		removed, err := env.service.IsFolderRemoved(context.Background(), ItemID(folder.UUID))
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if !removed {
			t.Fatalf("folder %s should be removed", folder.UUID)
		}
	}
	for _, file := range append(blobFiles, emptyFiles...) {
		deleted, err := env.service.IsFileDeleted(context.Background(), ItemID(file.UUID))
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if !deleted {
			t.Fatalf("file %s should be deleted", file.UUID)
		}
	}

	if count := reclamationCount(t, env.db, reclamation.KindFile); count != int64(len(blobFiles)) {
		t.Fatalf("expected %d file reclamations, got %d", len(blobFiles), count)
	}
	if count := reclamationCount(t, env.db, reclamation.KindFolder); count != int64(depth+2) {
		t.Fatalf("expected %d folder reclamations, got %d", depth+2, count)
	}
	for _, file := range emptyFiles {
		if _, err := env.outbox.Get(context.Background(), reclamation.KindFile, file.UUID); !errors.Is(err, reclamation.ErrNotFound) {
			t.Fatalf("empty file %s must not be reclaimed, got %v", file.UUID, err)
		}
	}
}

func TestFolderRemovalLeavesSiblingsAndAncestorsAlone(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	root := mustFolder(t, env.service, userID, nil)
	target := mustFolder(t, env.service, userID, &root)
	sibling := mustFolder(t, env.service, userID, &root)
	siblingFile := mustFile(t, env.service, userID, &sibling, 10, "net-sibling")
	rootFile := mustFile(t, env.service, userID, &root, 10, "net-root")

	if _, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(target.UUID)); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	for _, folder := range []Folder{root, sibling} {
		removed, err := env.service.IsFolderRemoved(context.Background(), ItemID(folder.UUID))
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if removed {
			t.Fatalf("folder %s must stay live", folder.UUID)
		}
	}
	for _, file := range []File{siblingFile, rootFile} {
		deleted, err := env.service.IsFileDeleted(context.Background(), ItemID(file.UUID))
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if deleted {
			t.Fatalf("file %s must stay live", file.UUID)
		}
	}
}

func TestFolderRemovalIsTerminal(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	folder := mustFolder(t, env.service, userID, nil)

	if _, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(folder.UUID)); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(folder.UUID)); !errors.Is(err, ErrAlreadyRemoved) {
		t.Fatalf("expected already removed, got %v", err)
	}
	if _, err := env.service.RestoreFolder(context.Background(), ItemID(folder.UUID)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected restore of removed folder to fail, got %v", err)
	}
	if count := reclamationCount(t, env.db, reclamation.KindFolder); count != 1 {
		t.Fatalf("expected a single folder reclamation, got %d", count)
	}
}

func TestTrashFolderLeavesChildrenUntouched(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	folder := mustFolder(t, env.service, userID, nil)
	child := mustFolder(t, env.service, userID, &folder)
	file := mustFile(t, env.service, userID, &folder, 5, "net-5")

	trashed, err := env.service.TrashFolder(context.Background(), ItemID(folder.UUID))
	if err != nil {
		t.Fatalf("trash failed: %v", err)
	}
	if !trashed.Deleted() || trashed.Removed() {
		t.Fatalf("expected soft-trashed folder, got %+v", trashed)
	}

	storedChild, err := env.service.GetFolder(context.Background(), ItemID(child.UUID))
	if err != nil {
		t.Fatalf("get child failed: %v", err)
	}
	if storedChild.Status != StatusExists {
		t.Fatalf("child folder changed to %s", storedChild.Status)
	}
	storedFile, err := env.service.GetFile(context.Background(), ItemID(file.UUID))
	if err != nil {
		t.Fatalf("get file failed: %v", err)
	}
	if storedFile.Status != StatusExists {
		t.Fatalf("child file changed to %s", storedFile.Status)
	}

	restored, err := env.service.RestoreFolder(context.Background(), ItemID(folder.UUID))
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Deleted() {
		t.Fatalf("expected restored folder, got %+v", restored)
	}
}

func TestCascadeLimitsRollBackRemoval(t *testing.T) {
	tests := []struct {
		name   string
		limits TreeLimits
		build  func(t *testing.T, service *Service, userID UserID) Folder
	}{
		{
			name:   "depth",
			limits: TreeLimits{MaxDepth: 2},
			build: func(t *testing.T, service *Service, userID UserID) Folder {
				return buildChain(t, service, userID, 3)[0]
			},
		},
		{
			name:   "nodes",
			limits: TreeLimits{MaxNodes: 2},
			build: func(t *testing.T, service *Service, userID UserID) Folder {
				root := mustFolder(t, service, userID, nil)
				for range 3 {
					mustFolder(t, service, userID, &root)
				}
				return root
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.limits)
			userID := mustUserID(t, "user-1")
			root := tt.build(t, env.service, userID)
			file := mustFile(t, env.service, userID, &root, 9, "net-9")

			_, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(root.UUID))
			if !errors.Is(err, ErrCascadeLimitExceeded) {
				t.Fatalf("expected cascade limit error, got %v", err)
			}
			removed, err := env.service.IsFolderRemoved(context.Background(), ItemID(root.UUID))
			if err != nil {
				t.Fatalf("lookup failed: %v", err)
			}
			if removed {
				t.Fatalf("root removal must be rolled back")
			}
			deleted, err := env.service.IsFileDeleted(context.Background(), ItemID(file.UUID))
			if err != nil {
				t.Fatalf("lookup failed: %v", err)
			}
			if deleted {
				t.Fatalf("file deletion must be rolled back")
			}
			if count := reclamationCount(t, env.db, reclamation.KindFolder); count != 0 {
				t.Fatalf("expected no folder reclamations after rollback, got %d", count)
			}
		})
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	chain := buildChain(t, env.service, userID, 3)
	branch := mustFolder(t, env.service, userID, &chain[1])

	var ancestors []string
	for folder, err := range env.service.Ancestors(context.Background(), userID, ItemID(chain[3].UUID)) {
		if err != nil {
			t.Fatalf("ancestors failed: %v", err)
		}
		ancestors = append(ancestors, folder.UUID)
	}
	expected := []string{chain[2].UUID, chain[1].UUID, chain[0].UUID}
	if len(ancestors) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, ancestors)
	}
	for index := range expected {
		if ancestors[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, ancestors)
		}
	}

	seen := map[string]bool{}
	for folder, err := range env.service.Descendants(context.Background(), userID, ItemID(chain[0].UUID)) {
		if err != nil {
			t.Fatalf("descendants failed: %v", err)
		}
		seen[folder.UUID] = true
	}
	for _, folder := range []Folder{chain[1], chain[2], chain[3], branch} {
		if !seen[folder.UUID] {
			t.Fatalf("descendant %s missing from %v", folder.UUID, seen)
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 descendants, got %d", len(seen))
	}

	if _, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(chain[2].UUID)); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	count := 0
	for _, err := range env.service.Descendants(context.Background(), userID, ItemID(chain[0].UUID)) {
		if err != nil {
			t.Fatalf("descendants failed: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected removed subtree to be skipped, got %d descendants", count)
	}
}

func TestTraversalIsScopedToUser(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	owner := mustUserID(t, "user-1")
	stranger := mustUserID(t, "user-2")
	folder := mustFolder(t, env.service, owner, nil)

	for _, err := range env.service.Descendants(context.Background(), stranger, ItemID(folder.UUID)) {
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found for foreign folder, got %v", err)
		}
	}
}

func TestValidateMove(t *testing.T) {
	env := newTestEnv(t, TreeLimits{})
	userID := mustUserID(t, "user-1")
	chain := buildChain(t, env.service, userID, 2)
	other := mustFolder(t, env.service, userID, nil)
	removed := mustFolder(t, env.service, userID, nil)
	if _, err := env.service.TransitionFolderRemoved(context.Background(), ItemID(removed.UUID)); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	tests := []struct {
		name      string
		folder    Folder
		newParent Folder
		wantErr   error
	}{
		{name: "into-unrelated", folder: chain[1], newParent: other},
		{name: "up-the-tree", folder: chain[2], newParent: chain[0]},
		{name: "into-self", folder: chain[0], newParent: chain[0], wantErr: ErrInvalidMove},
		{name: "into-descendant", folder: chain[0], newParent: chain[2], wantErr: ErrInvalidMove},
		{name: "into-removed", folder: chain[1], newParent: removed, wantErr: ErrInvalidMove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.service.ValidateMove(context.Background(), userID, ItemID(tt.folder.UUID), ItemID(tt.newParent.UUID))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
