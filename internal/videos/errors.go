package videos

import "errors"

var (
	// ErrOwnerNotFound indicates the uploading account does not exist.
	ErrOwnerNotFound = errors.New("video owner not found")
	// ErrVideoNotFound indicates no video exists for the requested id.
	ErrVideoNotFound = errors.New("video not found")
	// ErrUnsupportedMediaType rejects uploads whose content type is not accepted.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrFileTooLarge rejects uploads above the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrEmptyFile rejects zero-byte uploads.
	ErrEmptyFile = errors.New("file is empty")
	// ErrTitleRequired rejects uploads without a title.
	ErrTitleRequired = errors.New("title is required")
)
