// Package recording writes triggered recordings to disk and optionally
// uploads them to S3-compatible storage.
package recording

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for recording operations.
var (
	// ErrStoreClosed is returned by Open after Close.
	ErrStoreClosed = errors.New("recording store is closed")

	// ErrFinalized is returned when a finalized recording is written to or finalized again.
	ErrFinalized = errors.New("recording already finalized")

	// ErrS3NotConfigured is returned when an S3 operation is requested without credentials.
	ErrS3NotConfigured = errors.New("S3 is not configured")
)

// Format is the container written for recordings.
type Format string

// Supported formats.
const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

// ContentType returns the MIME type used for uploads.
func (f Format) ContentType() string {
	if f == FormatFLAC {
		return "audio/flac"
	}
	return "audio/wav"
}

// StorageMode determines where finished recordings end up.
type StorageMode string

// Storage modes.
const (
	// StorageLocal keeps recordings on disk only.
	StorageLocal StorageMode = "local"
	// StorageS3 uploads recordings and removes the local copy afterwards.
	StorageS3 StorageMode = "s3"
	// StorageBoth uploads recordings and keeps the local copy.
	StorageBoth StorageMode = "both"
)

// UsesS3 reports whether the mode uploads recordings.
func (m StorageMode) UsesS3() bool {
	return m == StorageS3 || m == StorageBoth
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`          // Custom S3 endpoint (empty for AWS)
	Bucket          string `json:"bucket,omitempty"`            // S3 bucket name
	AccessKeyID     string `json:"access_key_id,omitempty"`     // AWS access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty"` // AWS secret access key
	Prefix          string `json:"prefix,omitempty"`            // Key prefix, defaults to "recordings"
}

// IsConfigured returns true if S3 settings are configured.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Config configures a Store.
type Config struct {
	// Path is the directory recordings are written to.
	Path string
	// Prefix starts every filename. Defaults to "noise".
	Prefix        string
	Format        Format
	SampleRate    int
	StorageMode   StorageMode
	RetentionDays int
	S3            S3Config
}

// DefaultPrefix is the filename prefix used when none is configured.
const DefaultPrefix = "noise"

// DefaultS3Prefix is the key prefix used when none is configured.
const DefaultS3Prefix = "recordings"

// MaxUploadRetryAge is the maximum age for retrying uploads.
const MaxUploadRetryAge = 24 * time.Hour

func (c *Config) validate() error {
	if c.Path == "" {
		return errors.New("recording path is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	switch c.Format {
	case FormatWAV, FormatFLAC:
	default:
		return fmt.Errorf("unsupported recording format %q", c.Format)
	}
	switch c.StorageMode {
	case StorageLocal:
	case StorageS3, StorageBoth:
		if !c.S3.IsConfigured() {
			return fmt.Errorf("storage mode %s: %w", c.StorageMode, ErrS3NotConfigured)
		}
	default:
		return fmt.Errorf("unsupported storage mode %q", c.StorageMode)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", c.RetentionDays)
	}
	return nil
}
