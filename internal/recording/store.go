package recording

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// uploadQueueSize bounds the number of finished recordings awaiting upload.
const uploadQueueSize = 64

// Store creates recordings on disk and hands finished files to the upload
// worker. It implements trigger.Sink.
type Store struct {
	cfg         Config
	eventLogger *eventlog.Logger

	mu      sync.RWMutex
	open    map[string]struct{} // paths of recordings still being written
	closed  bool
	started bool

	objects     objectStore
	uploadQueue chan uploadRequest
	retryQueue  []pendingUpload
	retryDelay  *util.Backoff

	stopCh chan struct{}
	wg     sync.WaitGroup

	onAbandoned func(AbandonedUpload)

	now func() time.Time
}

// NewStore validates cfg, ensures the recordings directory is writable and
// creates the S3 client when the storage mode needs one.
func NewStore(cfg Config, eventLogger *eventlog.Logger) (*Store, error) {
	cfg.Prefix = cmp.Or(cfg.Prefix, DefaultPrefix)
	cfg.StorageMode = cmp.Or(cfg.StorageMode, StorageLocal)
	cfg.Format = cmp.Or(cfg.Format, FormatWAV)
	cfg.S3.Prefix = cmp.Or(cfg.S3.Prefix, DefaultS3Prefix)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := util.ValidatePath("recording.path", cfg.Path); err != nil {
		return nil, err
	}
	if err := util.CheckPathWritable(cfg.Path); err != nil {
		return nil, fmt.Errorf("recording path %s: %w", cfg.Path, err)
	}

	s := &Store{
		cfg:         cfg,
		eventLogger: eventLogger,
		open:        make(map[string]struct{}),
		uploadQueue: make(chan uploadRequest, uploadQueueSize),
		retryDelay:  util.NewBackoff(time.Minute, time.Hour),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
	if cfg.StorageMode.UsesS3() {
		s.objects = createS3Client(&cfg.S3)
	}
	return s, nil
}

// Start launches the upload worker, the upload retry loop and the daily
// retention cleanup.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	if s.objects != nil {
		s.wg.Add(2)
		go s.uploadWorker()
		go s.retryLoop()
	}
	if s.cfg.RetentionDays > 0 {
		s.wg.Add(1)
		go s.cleanupScheduler()
	}
	slog.Info("recording store started",
		"path", s.cfg.Path,
		"format", s.cfg.Format,
		"storage", s.cfg.StorageMode,
		"retention_days", s.cfg.RetentionDays)
}

// OnUploadAbandoned registers fn to be called when an upload is given up.
// It must be called before Start.
func (s *Store) OnUploadAbandoned(fn func(AbandonedUpload)) {
	s.mu.Lock()
	s.onAbandoned = fn
	s.mu.Unlock()
}

// Open creates a new recording file named after start.
func (s *Store) Open(start time.Time) (trigger.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	f, path, err := s.createFile(start)
	if err != nil {
		return nil, err
	}

	var w sampleWriter
	switch s.cfg.Format {
	case FormatFLAC:
		w, err = newFLACWriter(f, s.cfg.SampleRate)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return nil, err
		}
	default:
		w = newWAVWriter(f, s.cfg.SampleRate)
	}

	s.open[path] = struct{}{}
	return &file{store: s, path: path, start: start, w: w}, nil
}

// createFile creates a file that does not exist yet, adding a counter
// suffix when a recording already started in the same second.
func (s *Store) createFile(start time.Time) (*os.File, string, error) {
	base := s.cfg.Prefix + "-" + start.Local().Format(util.FileTimeLayout)
	ext := "." + string(s.cfg.Format)

	for n := 1; n <= 100; n++ {
		name := base + ext
		if n > 1 {
			name = base + "-" + strconv.Itoa(n) + ext
		}
		path := filepath.Join(s.cfg.Path, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644) //nolint:gosec // Recordings are meant to be readable
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", util.WrapError("create recording file", err)
		}
	}
	return nil, "", fmt.Errorf("create recording file: too many recordings at %s", base)
}

// finished is called by a recording after its file has been closed.
// Only cleanly closed files are uploaded.
func (s *Store) finished(path string, ok bool) {
	s.mu.Lock()
	delete(s.open, path)
	closed := s.closed
	s.mu.Unlock()

	if !ok || s.objects == nil {
		return
	}
	if closed {
		slog.Warn("store closed, recording not uploaded", "path", path)
		return
	}
	s.queueForUpload(path)
}

func (s *Store) isOpen(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.open[path]
	return ok
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Close stops the background workers after draining the upload queue.
// Recordings still open are not touched; their owner finalizes them.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.RLock()
	pending := len(s.retryQueue)
	s.mu.RUnlock()
	if pending > 0 {
		slog.Warn("recordings left unuploaded at shutdown", "count", pending)
	}
	return nil
}

var (
	_ trigger.Sink   = (*Store)(nil)
	_ trigger.Handle = (*file)(nil)
)

// file is one recording in progress.
type file struct {
	store   *Store
	path    string
	start   time.Time
	w       sampleWriter
	samples uint64
	done    bool
}

func (f *file) Append(samples []float32) error {
	if f.done {
		return ErrFinalized
	}
	if err := f.w.write(samples); err != nil {
		return util.WrapError("write "+filepath.Base(f.path), err)
	}
	f.samples += uint64(len(samples))
	return nil
}

func (f *file) Finalize() error {
	if f.done {
		return ErrFinalized
	}
	f.done = true

	err := f.w.close()
	if err != nil {
		err = util.WrapError("close "+filepath.Base(f.path), err)
	}
	slog.Debug("recording file closed", "path", f.path, "samples", f.samples, "error", err)
	f.store.finished(f.path, err == nil)
	return err
}

func (f *file) Path() string { return f.path }
