package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidshare/backend/internal/authz"
	"github.com/vidshare/backend/internal/logging"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/videos"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temporary file.
const multipartMemory = 8 << 20

// multipartOverhead allows for form fields and boundaries around the file.
const multipartOverhead = 1 << 20

// VideoHandler provides endpoints for uploading and fetching videos.
// TransferTimeout, when set, replaces the server's read and write deadlines
// for the duration of an upload or download.
type VideoHandler struct {
	Videos          VideoService
	TransferTimeout time.Duration
}

type videoResponse struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	ContentType   string    `json:"contentType"`
	SizeBytes     int64     `json:"sizeBytes"`
	DownloadCount int64     `json:"downloadCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newVideoResponse(video models.Video) videoResponse {
	return videoResponse{
		ID:            video.ID,
		OwnerID:       video.OwnerID,
		Title:         video.Title,
		ContentType:   video.ContentType,
		SizeBytes:     video.SizeBytes,
		DownloadCount: video.DownloadCount,
		CreatedAt:     video.CreatedAt,
	}
}

// videoField names the multipart part carrying the upload.
const videoField = "video"

// Upload handles POST /api/videos as multipart/form-data with a "title"
// field and a "video" file part.
func (h VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := authz.SubjectFromContext(ctx)
	if !ok {
		writeError(ctx, w, authz.ErrUnauthenticated)
		return
	}

	h.extendDeadlines(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, h.Videos.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(ctx, w, videos.ErrFileTooLarge)
			return
		}
		logging.FromContext(ctx).Warn("invalid multipart upload", "error", err)
		writeError(ctx, w, errInvalidBody)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.FromContext(ctx).Warn("remove multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile(videoField)
	if err != nil {
		writeError(ctx, w, videos.ErrEmptyFile)
		return
	}
	defer file.Close()

	video, err := h.Videos.Ingest(ctx, videos.Upload{
		OwnerID:     subject,
		Title:       r.FormValue("title"),
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newVideoResponse(video))
}

// List handles GET /api/videos, returning the caller's uploads.
func (h VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := authz.SubjectFromContext(ctx)
	if !ok {
		writeError(ctx, w, authz.ErrUnauthenticated)
		return
	}

	list, err := h.Videos.List(ctx, subject)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	out := make([]videoResponse, 0, len(list))
	for _, video := range list {
		out = append(out, newVideoResponse(video))
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"videos": out})
}

// Get handles GET /api/videos/{id}.
func (h VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	video, err := h.Videos.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, newVideoResponse(video))
}

// Download handles GET /api/videos/{id}/download.
func (h VideoHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	video, body, err := h.Videos.Download(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	defer body.Close()
	h.extendDeadlines(w, r)

	w.Header().Set("Content-Type", video.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(video.SizeBytes, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+video.ID+video.Extension+`"`)
	w.Header().Set("X-Download-Count", strconv.FormatInt(video.DownloadCount, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		logging.FromContext(ctx).Warn("stream video", "video_id", video.ID, "error", err)
	}
}

// extendDeadlines lifts the server-wide timeouts for a long transfer. Writers
// that cannot adjust deadlines, such as test recorders, are left alone.
func (h VideoHandler) extendDeadlines(w http.ResponseWriter, r *http.Request) {
	if h.TransferTimeout <= 0 {
		return
	}
	deadline := time.Now().Add(h.TransferTimeout)
	rc := http.NewResponseController(w)
	err := errors.Join(rc.SetReadDeadline(deadline), rc.SetWriteDeadline(deadline))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.FromContext(r.Context()).Warn("extend transfer deadline", "error", err)
	}
}
