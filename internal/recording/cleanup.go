package recording

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// cleanupHour is the local hour at which retention cleanup runs.
const cleanupHour = 3

// cleanupScheduler runs the retention cleanup daily at cleanupHour.
func (s *Store) cleanupScheduler() {
	defer s.wg.Done()

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		slog.Info("cleanup scheduler: next run scheduled", "at", next.Format(time.DateTime))

		select {
		case <-time.After(next.Sub(now)):
			s.RunCleanup(time.Now())
		case <-s.stopCh:
			slog.Info("cleanup scheduler stopped")
			return
		}
	}
}

// RunCleanup removes recordings that started more than RetentionDays before now.
// Recordings that are still being written are skipped.
func (s *Store) RunCleanup(now time.Time) {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)

	if s.cfg.StorageMode != StorageS3 {
		s.cleanupLocalFiles(cutoff)
	}
	if s.objects != nil {
		s.cleanupS3Files(cutoff)
	}
}

func (s *Store) isRecordingName(name string) bool {
	return strings.HasPrefix(name, s.cfg.Prefix+"-") && strings.HasSuffix(name, "."+string(s.cfg.Format))
}

// cleanupLocalFiles removes local recordings older than cutoff.
func (s *Store) cleanupLocalFiles(cutoff time.Time) {
	entries, err := os.ReadDir(s.cfg.Path)
	if err != nil {
		slog.Warn("cleanup: failed to read local directory", "path", s.cfg.Path, "error", err)
		return
	}

	var deleted int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !s.isRecordingName(name) {
			continue
		}
		started, ok := util.ExtractTimeFromFilename(name)
		if !ok || !started.Before(cutoff) {
			continue
		}

		filePath := filepath.Join(s.cfg.Path, name)
		if s.isOpen(filePath) {
			continue
		}
		if err := os.Remove(filePath); err != nil {
			slog.Warn("cleanup: failed to delete local file", "path", filePath, "error", err)
			continue
		}
		deleted++
		slog.Debug("cleanup: deleted local file", "file", name)
	}

	slog.Info("cleanup: local retention applied", "deleted", deleted)
	s.logCleanup("local", deleted)
}

// cleanupS3Files removes S3 objects older than cutoff.
func (s *Store) cleanupS3Files(cutoff time.Time) {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		5*time.Minute,
		errors.New("s3 cleanup timeout"),
	)
	defer cancel()

	var deleted int
	var continuationToken *string
	prefix := s.cfg.S3.Prefix + "/"

	for {
		output, err := s.objects.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.S3.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			slog.Warn("cleanup: failed to list S3 objects", "bucket", s.cfg.S3.Bucket, "error", err)
			return
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			name := filepath.Base(key)
			if !s.isRecordingName(name) {
				continue
			}
			started, ok := util.ExtractTimeFromFilename(name)
			if !ok || !started.Before(cutoff) {
				continue
			}

			_, err := s.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.cfg.S3.Bucket),
				Key:    obj.Key,
			})
			if err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
				continue
			}
			deleted++
			slog.Debug("cleanup: deleted S3 object", "key", key)
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	slog.Info("cleanup: S3 retention applied", "deleted", deleted)
	s.logCleanup("s3", deleted)
}

func (s *Store) logCleanup(storageType string, deleted int) {
	if err := s.eventLogger.LogStorage(eventlog.CleanupCompleted, &eventlog.StorageDetails{
		FilesDeleted: deleted,
		StorageType:  storageType,
	}); err != nil {
		slog.Warn("failed to write event log", "type", eventlog.CleanupCompleted, "error", err)
	}
}
