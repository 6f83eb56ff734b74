package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/usage"
	"github.com/gin-gonic/gin"
)

type statusRequestPayload struct {
	Status string `json:"status"`
}

type filePayload struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	FolderID      *string `json:"folder_id,omitempty"`
	Status        string  `json:"status"`
	Size          int64   `json:"size"`
	NetworkFileID *string `json:"network_file_id,omitempty"`
	Trashed       bool    `json:"is_trashed"`
	Deleted       bool    `json:"is_deleted"`
	UpdatedAt     int64   `json:"updated_at_s"`
}

type folderPayload struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Status    string  `json:"status"`
	Deleted   bool    `json:"is_deleted"`
	Removed   bool    `json:"is_removed"`
	UpdatedAt int64   `json:"updated_at_s"`
}

type versionPayload struct {
	ID            string  `json:"id"`
	FileID        string  `json:"file_id"`
	Status        string  `json:"status"`
	Size          int64   `json:"size"`
	NetworkFileID *string `json:"network_file_id,omitempty"`
	UpdatedAt     int64   `json:"updated_at_s"`
}

type cascadePayload struct {
	Folders      int `json:"folders"`
	Files        int `json:"files"`
	Reclamations int `json:"reclamations"`
	Depth        int `json:"depth"`
}

const defaultDrainBatch = 100

type drainRequestPayload struct {
	BatchSize int `json:"batch_size"`
}

type pendingPayload struct {
	EntityID      string  `json:"entity_id"`
	NetworkFileID *string `json:"network_file_id,omitempty"`
}

type drainResponsePayload struct {
	Kind    string           `json:"kind"`
	Records []pendingPayload `json:"records"`
}

type countsPayload struct {
	Kind      string `json:"kind"`
	Pending   int64  `json:"pending"`
	Enqueued  int64  `json:"enqueued"`
	Processed int64  `json:"processed"`
}

type recordPayload struct {
	Kind          string  `json:"kind"`
	EntityID      string  `json:"entity_id"`
	NetworkFileID *string `json:"network_file_id,omitempty"`
	Enqueued      bool    `json:"enqueued"`
	Processed     bool    `json:"processed"`
	ProcessedAt   *int64  `json:"processed_at_s,omitempty"`
	CreatedAt     int64   `json:"created_at_s"`
}

type rollupRequestPayload struct {
	Period string `json:"period"`
}

func newFilePayload(file lifecycle.File) filePayload {
	return filePayload{
		ID:            file.UUID,
		UserID:        file.UserID,
		FolderID:      file.FolderUUID,
		Status:        string(file.Status),
		Size:          file.Size,
		NetworkFileID: file.NetworkFileID,
		Trashed:       file.Status == lifecycle.StatusTrashed,
		Deleted:       file.Removed(),
		UpdatedAt:     file.UpdatedAtSeconds,
	}
}

func newFolderPayload(folder lifecycle.Folder) folderPayload {
	return folderPayload{
		ID:        folder.UUID,
		UserID:    folder.UserID,
		ParentID:  folder.ParentUUID,
		Status:    string(folder.Status),
		Deleted:   folder.Deleted(),
		Removed:   folder.Removed(),
		UpdatedAt: folder.UpdatedAtSeconds,
	}
}

func newVersionPayload(version lifecycle.FileVersion) versionPayload {
	return versionPayload{
		ID:            version.ID,
		FileID:        version.FileID,
		Status:        string(version.Status),
		Size:          version.Size,
		NetworkFileID: version.NetworkFileID,
		UpdatedAt:     version.UpdatedAtSeconds,
	}
}

func (h *httpHandler) itemID(c *gin.Context) (lifecycle.ItemID, bool) {
	id, err := lifecycle.NewItemID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid_id")
		return "", false
	}
	return id, true
}

func (h *httpHandler) handleGetFile(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	file, err := h.lifecycle.GetFile(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFilePayload(file))
}

func (h *httpHandler) handleFileStatus(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	var request statusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	target, err := lifecycle.ParseItemStatus(request.Status)
	if err != nil {
		badRequest(c, "invalid_status")
		return
	}
	file, err := h.lifecycle.TransitionFileStatus(c.Request.Context(), id, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFilePayload(file))
}

func (h *httpHandler) handleGetFolder(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	folder, err := h.lifecycle.GetFolder(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFolderPayload(folder))
}

func (h *httpHandler) handleFolderFiles(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	files, err := h.lifecycle.ListFolderFiles(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]filePayload, 0, len(files))
	for _, file := range files {
		payload = append(payload, newFilePayload(file))
	}
	c.JSON(http.StatusOK, gin.H{"files": payload})
}

func (h *httpHandler) handleTrashFolder(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	folder, err := h.lifecycle.TrashFolder(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFolderPayload(folder))
}

func (h *httpHandler) handleRestoreFolder(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	folder, err := h.lifecycle.RestoreFolder(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFolderPayload(folder))
}

func (h *httpHandler) handleRemoveFolder(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	report, err := h.lifecycle.TransitionFolderRemoved(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cascadePayload{
		Folders:      report.Folders,
		Files:        report.Files,
		Reclamations: report.Reclamations,
		Depth:        report.Depth,
	})
}

func (h *httpHandler) handleGetVersion(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	version, err := h.lifecycle.GetFileVersion(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVersionPayload(version))
}

func (h *httpHandler) handleVersionStatus(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}
	var request statusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	target, err := lifecycle.ParseVersionStatus(request.Status)
	if err != nil {
		badRequest(c, "invalid_status")
		return
	}
	version, err := h.lifecycle.TransitionFileVersionStatus(c.Request.Context(), id, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVersionPayload(version))
}

func (h *httpHandler) kind(c *gin.Context) (reclamation.Kind, bool) {
	kind, err := reclamation.ParseKind(c.Param("kind"))
	if err != nil {
		badRequest(c, "unknown_kind")
		return "", false
	}
	return kind, true
}

func (h *httpHandler) handleReclamationCounts(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	counts, err := h.reclamation.Counts(c.Request.Context(), kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, countsPayload{
		Kind:      kind.String(),
		Pending:   counts.Pending,
		Enqueued:  counts.Enqueued,
		Processed: counts.Processed,
	})
}

func (h *httpHandler) handleDrain(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	var request drainRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil || request.BatchSize < 0 {
			badRequest(c, "invalid_request")
			return
		}
	}
	if request.BatchSize == 0 {
		request.BatchSize = defaultDrainBatch
	}
	pending, err := h.reclamation.Drain(c.Request.Context(), kind, request.BatchSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := drainResponsePayload{Kind: kind.String(), Records: make([]pendingPayload, 0, len(pending))}
	for _, item := range pending {
		response.Records = append(response.Records, pendingPayload{EntityID: item.EntityID, NetworkFileID: item.NetworkFileID})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetReclamation(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	record, err := h.reclamation.Get(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordPayload{
		Kind:          kind.String(),
		EntityID:      record.EntityID,
		NetworkFileID: record.NetworkFileID,
		Enqueued:      record.Enqueued,
		Processed:     record.Processed,
		ProcessedAt:   record.ProcessedAtSeconds,
		CreatedAt:     record.CreatedAtSeconds,
	})
}

func (h *httpHandler) handleMarkReclaimed(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	if err := h.reclamation.MarkReclaimed(c.Request.Context(), kind, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUserUsage(c *gin.Context) {
	result, err := h.usage.GetUserUsage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

var rollupLayouts = map[usage.Type]string{
	usage.TypeDaily:   time.DateOnly,
	usage.TypeMonthly: "2006-01",
	usage.TypeYearly:  "2006",
}

func (h *httpHandler) handleRollup(c *gin.Context) {
	ledgerType := usage.Type(strings.ToLower(c.Param("type")))
	layout, known := rollupLayouts[ledgerType]
	if !known {
		badRequest(c, "unknown_rollup_type")
		return
	}
	var request rollupRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			badRequest(c, "invalid_request")
			return
		}
	}

	var period time.Time
	if raw := strings.TrimSpace(request.Period); raw != "" {
		parsed, err := time.ParseInLocation(layout, raw, time.UTC)
		if err != nil {
			badRequest(c, "invalid_period")
			return
		}
		period = parsed
	}

	report, err := h.runRollup(c, ledgerType, period)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) runRollup(c *gin.Context, ledgerType usage.Type, period time.Time) (usage.RollupReport, error) {
	ctx := c.Request.Context()
	switch ledgerType {
	case usage.TypeDaily:
		if period.IsZero() {
			return h.usage.RunDailyRollup(ctx)
		}
		return h.usage.RunDailyRollupFor(ctx, period)
	case usage.TypeMonthly:
		if period.IsZero() {
			return h.usage.RunMonthlyRollup(ctx)
		}
		return h.usage.RunMonthlyRollupFor(ctx, period)
	default:
		if period.IsZero() {
			return h.usage.RunYearlyRollup(ctx)
		}
		return h.usage.RunYearlyRollupFor(ctx, period)
	}
}
