package media

import "errors"

var (
	// ErrDownloadFailed indicates every download attempt failed.
	ErrDownloadFailed = errors.New("media download failed")
	// ErrProviderUnavailable indicates the storage provider is not configured.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrAssetTooLarge indicates the payload exceeds the configured max size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrNotImage indicates the payload is not a photo.
	ErrNotImage = errors.New("media is not an image")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)
