package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"pulsebench/internal/auth"
	"pulsebench/internal/idgen"
	"pulsebench/internal/models"
)

const maxAuditUploadBytes = 500 * 1024 * 1024

var auditUploadMimeByExt = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

func guessUploadMime(name string) string {
	if m, ok := auditUploadMimeByExt[filepath.Ext(name)]; ok {
		return m
	}
	return "video/mp4"
}

// AuditUpload handles POST /audit/upload, a multipart video upload that
// lands an Upload row the caller then references from POST /audit/run_multimodal
// via upload_id.
func (h *Handler) AuditUpload(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAuditUploadBytes)
	if err := r.ParseMultipartForm(maxAuditUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, BadRequest("invalid multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, BadRequest("file is required"))
		return
	}
	defer closeMultipart(file)

	userDir := filepath.Join(h.Config.AuditUploadDir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		WriteError(w, http.StatusInternalServerError, Fatal(err))
		return
	}
	destPath := filepath.Join(userDir, idgen.New()+filepath.Ext(header.Filename))
	dest, err := os.Create(destPath)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, Fatal(err))
		return
	}
	defer dest.Close()
	size, err := io.Copy(dest, file)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, Fatal(err))
		return
	}

	upload, err := h.Store.CreateUpload(models.Upload{
		UserID: userID, FileURL: destPath, FileType: "video",
		Size: size, Mime: guessUploadMime(header.Filename), CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, Fatal(err))
		return
	}
	WriteJSON(w, http.StatusOK, upload)
}

type auditRunRequest struct {
	UserID       string `json:"user_id,omitempty"`
	SourceItemID string `json:"source_item_id,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	UploadID     string `json:"upload_id,omitempty"`
	PlatformHint string `json:"platform_hint,omitempty"`
}

// AuditRunMultimodal handles POST /audit/run_multimodal.
func (h *Handler) AuditRunMultimodal(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req auditRunRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	input := models.AuditInput{
		SourceItemID: req.SourceItemID, VideoURL: req.VideoURL,
		UploadID: req.UploadID, PlatformHint: req.PlatformHint,
	}
	if req.UploadID != "" {
		upload, ok := h.Store.GetUpload(req.UploadID)
		if !ok || upload.UserID != userID {
			WriteError(w, http.StatusNotFound, NotFound("upload not found"))
			return
		}
		input.UploadPath = upload.FileURL
	}
	created, err := h.Audit.CreateAudit(r.Context(), userID, input)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, created)
}

// ListAudits handles GET /audit.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Store.ListAudits(userID))
}

// GetAudit handles GET /audit/{id}.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request, auditID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	audit, ok := h.Store.GetAudit(auditID)
	if !ok || audit.UserID != userID {
		WriteError(w, http.StatusNotFound, NotFound("audit not found"))
		return
	}
	WriteJSON(w, http.StatusOK, audit)
}

type mediaDownloadRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Platform string `json:"platform" validate:"required"`
	SourceURL string `json:"source_url" validate:"required"`
}

// MediaDownload handles POST /media/download.
func (h *Handler) MediaDownload(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	var req mediaDownloadRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := auth.CheckScope(userID, req.UserID); err != nil {
		WriteError(w, http.StatusForbidden, err)
		return
	}
	job, err := h.Media.EnqueueDownload(r.Context(), userID, models.Platform(req.Platform), req.SourceURL)
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// MediaDownloadGet handles GET /media/download/{id}.
func (h *Handler) MediaDownloadGet(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, _, err := authenticate(h, r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err)
		return
	}
	job, ok := h.Store.GetMediaDownloadJob(jobID)
	if !ok || job.UserID != userID {
		WriteError(w, http.StatusNotFound, NotFound("media download job not found"))
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
