package recording

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	mu       sync.Mutex
	puts     map[string]int64
	deletes  []string
	listing  []string
	failPuts int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{puts: make(map[string]int64)}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts > 0 {
		f.failPuts--
		return nil, errors.New("service unavailable")
	}
	n, err := io.Copy(io.Discard, in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[aws.ToString(in.Key)] = n
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range f.listing {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeObjects) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func localConfig(t *testing.T, format Format) Config {
	t.Helper()
	return Config{
		Path:        t.TempDir(),
		Format:      format,
		SampleRate:  8000,
		StorageMode: StorageLocal,
	}
}

func s3Config(t *testing.T, mode StorageMode) Config {
	cfg := localConfig(t, FormatWAV)
	cfg.StorageMode = mode
	cfg.S3 = S3Config{Bucket: "audio", AccessKeyID: "id", SecretAccessKey: "secret"}
	return cfg
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i) / 10))
	}
	return out
}

var start = time.Date(2025, 4, 2, 7, 8, 9, 0, time.Local)

func TestNewStoreValidation(t *testing.T) {
	cfg := localConfig(t, "mp3")
	_, err := NewStore(cfg, nil)
	assert.Error(t, err)

	cfg = localConfig(t, FormatWAV)
	cfg.SampleRate = 0
	_, err = NewStore(cfg, nil)
	assert.Error(t, err)

	cfg = localConfig(t, FormatWAV)
	cfg.StorageMode = StorageS3
	_, err = NewStore(cfg, nil)
	assert.ErrorIs(t, err, ErrS3NotConfigured)

	cfg = localConfig(t, "")
	s, err := NewStore(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, s.Config().Format)
	assert.Equal(t, DefaultPrefix, s.Config().Prefix)
}

func TestStoreWritesWAV(t *testing.T) {
	s, err := NewStore(localConfig(t, FormatWAV), nil)
	require.NoError(t, err)

	rec, err := s.Open(start)
	require.NoError(t, err)
	assert.Equal(t, "noise-2025-04-02-07-08-09.wav", filepath.Base(rec.Path()))
	assert.True(t, s.isOpen(rec.Path()))

	samples := ramp(1500)
	require.NoError(t, rec.Append(samples[:1000]))
	require.NoError(t, rec.Append(nil))
	require.NoError(t, rec.Append(samples[1000:]))
	require.NoError(t, rec.Finalize())
	assert.False(t, s.isOpen(rec.Path()))

	assert.ErrorIs(t, rec.Append(samples), ErrFinalized)
	assert.ErrorIs(t, rec.Finalize(), ErrFinalized)

	f, err := os.Open(rec.Path())
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint32(8000), dec.SampleRate)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, 1500)
	assert.Equal(t, toPCM16(samples[0]), buf.Data[0])
	assert.Equal(t, toPCM16(samples[1499]), buf.Data[1499])

	require.NoError(t, s.Close())
	_, err = s.Open(start)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStoreWritesFLAC(t *testing.T) {
	s, err := NewStore(localConfig(t, FormatFLAC), nil)
	require.NoError(t, err)

	rec, err := s.Open(start)
	require.NoError(t, err)
	assert.Equal(t, ".flac", filepath.Ext(rec.Path()))

	samples := ramp(10000)
	for i := 0; i < len(samples); i += 333 {
		require.NoError(t, rec.Append(samples[i:min(i+333, len(samples))]))
	}
	require.NoError(t, rec.Finalize())

	stream, err := flac.Open(rec.Path())
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, uint32(8000), stream.Info.SampleRate)
	assert.Equal(t, uint8(1), stream.Info.NChannels)

	var decoded []int32
	for {
		fr, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		decoded = append(decoded, fr.Subframes[0].Samples...)
	}
	require.Len(t, decoded, 10000)
	assert.Equal(t, int32(toPCM16(samples[4242])), decoded[4242])
}

func TestOpenSameSecondAddsSuffix(t *testing.T) {
	s, err := NewStore(localConfig(t, FormatWAV), nil)
	require.NoError(t, err)

	first, err := s.Open(start)
	require.NoError(t, err)
	second, err := s.Open(start)
	require.NoError(t, err)

	assert.Equal(t, "noise-2025-04-02-07-08-09-2.wav", filepath.Base(second.Path()))
	require.NoError(t, first.Finalize())
	require.NoError(t, second.Finalize())
}

func TestToPCM16(t *testing.T) {
	assert.Equal(t, 32767, toPCM16(1))
	assert.Equal(t, 32767, toPCM16(3))
	assert.Equal(t, -32767, toPCM16(-2))
	assert.Equal(t, 0, toPCM16(float32(math.NaN())))
	assert.Equal(t, 16384, toPCM16(0.5))
}

func TestUploadAfterFinalizeRemovesLocalCopy(t *testing.T) {
	s, err := NewStore(s3Config(t, StorageS3), nil)
	require.NoError(t, err)
	objects := newFakeObjects()
	s.objects = objects
	s.Start()

	rec, err := s.Open(start)
	require.NoError(t, err)
	require.NoError(t, rec.Append(ramp(800)))
	require.NoError(t, rec.Finalize())

	require.Eventually(t, func() bool { return objects.putCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())

	size, ok := objects.puts["recordings/noise-2025-04-02-07-08-09.wav"]
	require.True(t, ok)
	assert.Equal(t, int64(44+1600), size)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(rec.Path())
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestUploadRetryAndAbandon(t *testing.T) {
	s, err := NewStore(s3Config(t, StorageBoth), nil)
	require.NoError(t, err)
	objects := newFakeObjects()
	objects.failPuts = 1
	s.objects = objects

	rec, err := s.Open(start)
	require.NoError(t, err)
	require.NoError(t, rec.Finalize())

	req := <-s.uploadQueue
	require.Error(t, s.uploadFile(req))
	s.addToRetryQueue(req, "service unavailable")
	s.addToRetryQueue(req, "duplicate")
	assert.Equal(t, 1, s.PendingUploads())

	assert.True(t, s.processRetryQueue())
	assert.Equal(t, 1, objects.putCount())
	assert.FileExists(t, rec.Path())

	// Uploads older than the retry window are dropped.
	var abandoned []AbandonedUpload
	s.OnUploadAbandoned(func(a AbandonedUpload) { abandoned = append(abandoned, a) })
	s.addToRetryQueue(req, "again")
	s.now = func() time.Time { return time.Now().Add(MaxUploadRetryAge + time.Hour) }
	assert.True(t, s.processRetryQueue())
	assert.Zero(t, s.PendingUploads())
	require.Len(t, abandoned, 1)
	assert.Equal(t, "recordings/noise-2025-04-02-07-08-09.wav", abandoned[0].S3Key)
	assert.Equal(t, "again", abandoned[0].LastError)
}

func TestRunCleanupLocal(t *testing.T) {
	cfg := localConfig(t, FormatWAV)
	cfg.RetentionDays = 7
	s, err := NewStore(cfg, nil)
	require.NoError(t, err)

	now := time.Date(2025, 4, 20, 12, 0, 0, 0, time.Local)
	old := filepath.Join(cfg.Path, "noise-2025-04-01-10-00-00.wav")
	recent := filepath.Join(cfg.Path, "noise-2025-04-19-10-00-00.wav")
	other := filepath.Join(cfg.Path, "notes-2025-04-01-10-00-00.wav")
	for _, p := range []string{old, recent, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
	inProgress, err := s.Open(time.Date(2025, 4, 2, 10, 0, 0, 0, time.Local))
	require.NoError(t, err)

	s.RunCleanup(now)

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, other)
	assert.FileExists(t, inProgress.Path())
	require.NoError(t, inProgress.Finalize())
}

func TestRunCleanupS3(t *testing.T) {
	cfg := s3Config(t, StorageS3)
	cfg.RetentionDays = 30
	s, err := NewStore(cfg, nil)
	require.NoError(t, err)
	objects := newFakeObjects()
	objects.listing = []string{
		"recordings/noise-2025-01-01-00-00-00.wav",
		"recordings/noise-2025-04-19-00-00-00.wav",
		"recordings/readme.txt",
	}
	s.objects = objects

	s.RunCleanup(time.Date(2025, 4, 20, 0, 0, 0, 0, time.Local))
	assert.Equal(t, []string{"recordings/noise-2025-01-01-00-00-00.wav"}, objects.deletes)
}

func TestConnectionProbe(t *testing.T) {
	s, err := NewStore(s3Config(t, StorageBoth), nil)
	require.NoError(t, err)
	objects := newFakeObjects()
	s.objects = objects

	require.NoError(t, s.TestConnection(context.Background()))
	assert.Equal(t, 1, objects.putCount())
	assert.Len(t, objects.deletes, 1)

	local, err := NewStore(localConfig(t, FormatWAV), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, local.TestConnection(context.Background()), ErrS3NotConfigured)
	assert.ErrorIs(t, TestS3Connection(context.Background(), &S3Config{}), ErrS3NotConfigured)
}
