// Package videos ingests uploaded videos and serves them back.
package videos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vidshare/backend/internal/events"
	"github.com/vidshare/backend/internal/logging"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/repositories"
	"github.com/vidshare/backend/internal/storage"
	"github.com/vidshare/backend/internal/txn"
)

// DefaultMaxUploadBytes caps uploads when Config.MaxUploadBytes is unset.
const DefaultMaxUploadBytes int64 = 100 << 20

var extensions = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
}

// BlobStore keeps video bytes. It has no transactional semantics.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Config controls which uploads are accepted.
type Config struct {
	MaxUploadBytes      int64
	AllowedContentTypes []string
	Now                 func() time.Time
}

// Service implements video ingestion, listing and download.
type Service struct {
	executor *txn.Executor[repositories.Stores]
	stores   repositories.Stores
	blobs    BlobStore

	maxBytes int64
	allowed  []string
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(executor *txn.Executor[repositories.Stores], stores repositories.Stores, blobs BlobStore, cfg Config) *Service {
	if executor == nil || blobs == nil {
		panic("videos: executor and blob store must not be nil")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"video/mp4"}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		executor: executor,
		stores:   stores,
		blobs:    blobs,
		maxBytes: cfg.MaxUploadBytes,
		allowed:  cfg.AllowedContentTypes,
		now:      cfg.Now,
	}
}

// MaxUploadBytes reports the configured upload limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.maxBytes
}

// Upload is one incoming video.
type Upload struct {
	OwnerID     string
	Title       string
	ContentType string
	Filename    string
	Size        int64
	Body        io.Reader
}

// Ingest records the video and writes its bytes in one transaction. A failed
// blob write rolls the row back; any partially written blob is left
// unreferenced. VideoIngested is published after commit.
func (s *Service) Ingest(ctx context.Context, upload Upload) (models.Video, error) {
	ctx, span := logging.StartSpan(ctx, "videos.ingest")
	defer span.End()

	title := strings.TrimSpace(upload.Title)
	if title == "" {
		return models.Video{}, ErrTitleRequired
	}
	contentType, err := s.acceptContentType(upload.ContentType)
	if err != nil {
		return models.Video{}, err
	}
	if upload.Size > s.maxBytes {
		return models.Video{}, ErrFileTooLarge
	}
	if upload.Size == 0 || upload.Body == nil {
		return models.Video{}, ErrEmptyFile
	}

	return txn.Do(ctx, s.executor, func(ctx context.Context, stores repositories.Stores, out *txn.Outbox) (models.Video, error) {
		if _, err := stores.Accounts.FindByID(ctx, upload.OwnerID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return models.Video{}, ErrOwnerNotFound
			}
			return models.Video{}, fmt.Errorf("lookup owner: %w", err)
		}

		id := uuid.NewString()
		ext := extensionFor(contentType, upload.Filename)
		video := models.Video{
			ID:          id,
			OwnerID:     upload.OwnerID,
			Title:       title,
			ContentType: contentType,
			Extension:   ext,
			SizeBytes:   upload.Size,
			StorageKey:  id + ext,
			CreatedAt:   s.now(),
		}
		if err := stores.Videos.Create(ctx, video); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return models.Video{}, ErrOwnerNotFound
			}
			return models.Video{}, fmt.Errorf("create video: %w", err)
		}

		body := &capReader{r: upload.Body, max: s.maxBytes}
		if err := s.blobs.Put(ctx, video.StorageKey, body, upload.Size, contentType); err != nil {
			if errors.Is(err, ErrFileTooLarge) {
				return models.Video{}, ErrFileTooLarge
			}
			return models.Video{}, fmt.Errorf("store video bytes: %w", err)
		}

		out.Emit(events.Event{
			Type:        events.TypeVideoIngested,
			AggregateID: video.ID,
			Attributes: map[string]string{
				"owner_id":   video.OwnerID,
				"size_bytes": strconv.FormatInt(video.SizeBytes, 10),
			},
		})
		return video, nil
	})
}

// Get returns a single video.
func (s *Service) Get(ctx context.Context, id string) (models.Video, error) {
	video, err := s.stores.Videos.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Video{}, ErrVideoNotFound
		}
		return models.Video{}, fmt.Errorf("lookup video: %w", err)
	}
	return video, nil
}

// List returns the owner's videos, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]models.Video, error) {
	videos, err := s.stores.Videos.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

// Download opens the video's bytes and counts the download. A failed counter
// update is logged and does not fail the download.
func (s *Service) Download(ctx context.Context, id string) (models.Video, io.ReadCloser, error) {
	logger := logging.FromContext(ctx)

	video, err := s.Get(ctx, id)
	if err != nil {
		return models.Video{}, nil, err
	}

	body, err := s.blobs.Open(ctx, video.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Error("video row without blob", "video_id", video.ID, "storage_key", video.StorageKey)
		}
		return models.Video{}, nil, fmt.Errorf("open video bytes: %w", err)
	}

	if count, err := s.stores.Videos.IncrementDownloads(ctx, video.ID); err != nil {
		logger.Warn("increment download count", "video_id", video.ID, "error", err)
	} else {
		video.DownloadCount = count
	}

	return video, body, nil
}

func (s *Service) acceptContentType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", ErrUnsupportedMediaType
	}
	if !slices.Contains(s.allowed, mediaType) {
		return "", ErrUnsupportedMediaType
	}
	return mediaType, nil
}

func extensionFor(contentType, filename string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return strings.ToLower(filepath.Ext(filename))
}

// capReader fails once more than max bytes have been read.
type capReader struct {
	r   io.Reader
	n   int64
	max int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.max {
		return n, ErrFileTooLarge
	}
	return n, err
}
