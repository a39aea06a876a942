// Package storage provides read access to notebook audio overviews held in
// object storage.
//
// Implementations:
// - LocalStorage: files on disk, for development
// - R2Storage: Cloudflare R2 (S3-compatible), for production
//
// Downloads are never proxied through the service: callers receive a
// time-limited URL once the user's plan allows the download.
package storage

import (
	"context"
	"path"
	"strings"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the object storage operations used for audio downloads.
type Storage interface {
	// Stat returns metadata for the object at key.
	// Returns ErrNotFound if the key doesn't exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// URL returns a download URL for the object at key. For private buckets
	// this is a presigned URL valid for expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	ContentType  string    // MIME type
	LastModified time.Time // Last modification time
	ETag         string    // Entity tag (if available)
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory holding the audio/ tree.
	BasePath string

	// BaseURL is the URL prefix the files are served from.
	// Example: "http://localhost:8080/files"
	BaseURL string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL is the public bucket URL (custom domain), if any. Only used
	// when a URL is requested without expiry.
	PublicURL string

	// Region is required by the AWS SDK. R2 accepts "auto".
	Region string

	// Endpoint overrides https://{account}.r2.cloudflarestorage.com.
	Endpoint string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// =============================================================================
// Key Helpers
// =============================================================================

const (
	// AudioPrefix is the root of all audio overview keys.
	AudioPrefix = "audio/"

	// PremiumAudioPrefix holds audio that requires premium content access.
	PremiumAudioPrefix = AudioPrefix + "premium/"
)

// AudioKey converts a request path into a storage key under AudioPrefix.
// It rejects traversal, empty names and files that are not audio.
//
// Example: "premium/nb-42/overview.mp3" -> "audio/premium/nb-42/overview.mp3"
func AudioKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "..") || strings.ContainsRune(raw, '\\') {
		return "", ErrInvalidKey
	}

	clean := strings.TrimPrefix(path.Clean("/"+raw), "/")
	clean = strings.TrimPrefix(clean, AudioPrefix)
	if clean == "" || clean == "." {
		return "", ErrInvalidKey
	}

	if !IsAudio(DetectContentType(clean)) {
		return "", ErrInvalidKey
	}
	return AudioPrefix + clean, nil
}

// IsPremiumKey reports whether key is premium-only audio.
func IsPremiumKey(key string) bool {
	return strings.HasPrefix(key, PremiumAudioPrefix)
}

// validateKey rejects empty keys and traversal attempts.
func validateKey(key string) error {
	if key == "" || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
