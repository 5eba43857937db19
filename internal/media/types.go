// Package media downloads inbound photos from the WhatsApp gateway and stores
// them under a per-tenant layout.
package media

import (
	"context"
	"io"
	"time"
)

// Photo is a stored inbound image.
type Photo struct {
	StorageKey  string    `json:"storage_key"`
	AccessPath  string    `json:"access_path"`
	Mime        string    `json:"mime"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentHash string    `json:"content_hash"`
	SourceURL   string    `json:"source_url"`
	StoredAt    time.Time `json:"stored_at"`
}

// Downloader fetches raw bytes and their content type.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// AccessPath returns a consumer-accessible reference for a storage key.
	AccessPath(key string) string
}

// PhotoStore fetches and stores one inbound photo for a tenant.
type PhotoStore interface {
	Fetch(ctx context.Context, tenantID, url string) (Photo, error)
}
