package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
)

// objectStore is the subset of the S3 API used by the store.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const uploadTimeout = 5 * time.Minute

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// TestS3Connection verifies the bucket is writable by uploading and
// deleting a small probe object.
func TestS3Connection(ctx context.Context, cfg *S3Config) error {
	if !cfg.IsConfigured() {
		return ErrS3NotConfigured
	}
	return testConnection(ctx, createS3Client(cfg), cfg.Bucket)
}

func testConnection(ctx context.Context, client objectStore, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	testKey := fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano())
	testContent := []byte("ZuidWest FM noise trigger connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}
	return nil
}

// uploadRequest represents a file to be uploaded to S3.
type uploadRequest struct {
	localPath string
	s3Key     string
}

// AbandonedUpload describes a recording whose upload was given up.
type AbandonedUpload struct {
	Filename   string
	S3Key      string
	RetryCount int
	LastError  string
}

// pendingUpload tracks a failed upload for retry.
type pendingUpload struct {
	request      uploadRequest
	firstAttempt time.Time
	retryCount   int
	lastError    string
}

func (s *Store) objectKey(filename string) string {
	return path.Join(s.cfg.S3.Prefix, filename)
}

func (s *Store) queueForUpload(localPath string) {
	req := uploadRequest{
		localPath: localPath,
		s3Key:     s.objectKey(filepath.Base(localPath)),
	}

	select {
	case s.uploadQueue <- req:
		slog.Info("queued recording for upload", "file", filepath.Base(localPath))
		s.logStorage(eventlog.UploadQueued, req, 0, "")
	default:
		slog.Warn("upload queue full, retrying later", "file", filepath.Base(localPath))
		s.addToRetryQueue(req, "upload queue full")
	}
}

// uploadWorker processes the upload queue, draining remaining items on shutdown.
func (s *Store) uploadWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			for {
				select {
				case req := <-s.uploadQueue:
					if err := s.uploadFile(req); err != nil {
						s.addToRetryQueue(req, err.Error())
					}
				default:
					return
				}
			}
		case req := <-s.uploadQueue:
			if err := s.uploadFile(req); err != nil {
				s.addToRetryQueue(req, err.Error())
			}
		}
	}
}

// uploadFile uploads one recording and removes the local copy in S3-only mode.
func (s *Store) uploadFile(req uploadRequest) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	f, err := os.Open(req.localPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("recording no longer exists, skipping upload", "path", req.localPath)
			return nil
		}
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close file after upload", "path", req.localPath, "error", err)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.S3.Bucket),
		Key:           aws.String(req.s3Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(s.cfg.Format.ContentType()),
	})
	if err != nil {
		slog.Error("upload failed", "s3_key", req.s3Key, "error", err)
		s.logStorage(eventlog.UploadFailed, req, 0, err.Error())
		return err
	}

	slog.Info("upload completed", "s3_key", req.s3Key, "bytes", info.Size())
	s.logStorage(eventlog.UploadCompleted, req, 0, "")

	if s.cfg.StorageMode == StorageS3 {
		if err := os.Remove(req.localPath); err != nil {
			slog.Warn("failed to delete local file after upload", "path", req.localPath, "error", err)
		}
	}
	return nil
}

// addToRetryQueue adds a failed upload to the retry queue.
func (s *Store) addToRetryQueue(req uploadRequest, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.retryQueue {
		if p.request.localPath == req.localPath {
			return
		}
	}
	s.retryQueue = append(s.retryQueue, pendingUpload{
		request:      req,
		firstAttempt: s.now(),
		lastError:    errMsg,
	})
	slog.Info("upload queued for retry", "file", filepath.Base(req.localPath))
}

// retryLoop retries failed uploads with a growing delay that resets once a
// retry round succeeds completely.
func (s *Store) retryLoop() {
	defer s.wg.Done()

	for {
		delay := s.retryDelay.Next()
		select {
		case <-s.stopCh:
			return
		case <-time.After(delay):
			if s.processRetryQueue() {
				s.retryDelay.Reset()
			}
		}
	}
}

// processRetryQueue attempts all pending uploads and reports whether the
// queue is empty afterwards.
func (s *Store) processRetryQueue() bool {
	s.mu.Lock()
	pending := s.retryQueue
	s.retryQueue = nil
	s.mu.Unlock()

	now := s.now()
	var failed []pendingUpload
	for i := range pending {
		p := pending[i]

		if now.Sub(p.firstAttempt) > MaxUploadRetryAge {
			slog.Warn("upload abandoned after 24h",
				"file", filepath.Base(p.request.localPath),
				"attempts", p.retryCount+1,
				"last_error", p.lastError)
			s.logStorage(eventlog.UploadAbandoned, p.request, p.retryCount, "exceeded 24h retry limit")
			s.abandoned(&p)
			continue
		}

		p.retryCount++
		slog.Info("retrying upload", "file", filepath.Base(p.request.localPath), "attempt", p.retryCount)
		if err := s.uploadFile(p.request); err != nil {
			p.lastError = err.Error()
			failed = append(failed, p)
		}
	}

	s.mu.Lock()
	s.retryQueue = append(failed, s.retryQueue...)
	empty := len(s.retryQueue) == 0
	s.mu.Unlock()
	return empty
}

func (s *Store) abandoned(p *pendingUpload) {
	s.mu.RLock()
	fn := s.onAbandoned
	s.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(AbandonedUpload{
		Filename:   filepath.Base(p.request.localPath),
		S3Key:      p.request.s3Key,
		RetryCount: p.retryCount,
		LastError:  p.lastError,
	})
}

// PendingUploads returns the number of uploads waiting for a retry.
func (s *Store) PendingUploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.retryQueue)
}

func (s *Store) logStorage(eventType eventlog.EventType, req uploadRequest, retry int, errMsg string) {
	if err := s.eventLogger.LogStorage(eventType, &eventlog.StorageDetails{
		Filename:   filepath.Base(req.localPath),
		S3Key:      req.s3Key,
		RetryCount: retry,
		Error:      errMsg,
	}); err != nil {
		slog.Warn("failed to write event log", "type", eventType, "error", err)
	}
}

// TestConnection checks the configured bucket using the store's client.
func (s *Store) TestConnection(ctx context.Context) error {
	if s.objects == nil {
		return ErrS3NotConfigured
	}
	return testConnection(ctx, s.objects, s.cfg.S3.Bucket)
}
