package util

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("open file", nil))

	base := errors.New("boom")
	err := WrapError("open file", base)
	require.Error(t, err)
	assert.Equal(t, "failed to open file: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestJoinClose(t *testing.T) {
	first := errors.New("first")
	calls := 0
	err := JoinClose(
		func() error { calls++; return first },
		nil,
		func() error { calls++; return nil },
	)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, first)
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, time.Second, b.Next())
}

func TestExtractTimeFromFilename(t *testing.T) {
	got, ok := ExtractTimeFromFilename("noise-2025-03-14-09-26-53.wav")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local), got)

	_, ok = ExtractTimeFromFilename("noise-2025-03-14.wav")
	assert.False(t, ok)

	_, ok = ExtractTimeFromFilename("noise-2025-13-40-09-26-53.wav")
	assert.False(t, ok)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{154 * time.Second, "2m 34s"},
		{83 * time.Minute, "1h 23m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestValidatePath(t *testing.T) {
	assert.Error(t, ValidatePath("recording.path", ""))
	assert.Error(t, ValidatePath("recording.path", "/var/../etc"))
	assert.NoError(t, ValidatePath("recording.path", "/var/lib/noisetrigger"))
}

func TestCheckPathWritable(t *testing.T) {
	dir := t.TempDir() + "/nested/recordings"
	require.NoError(t, CheckPathWritable(dir))
	assert.DirExists(t, dir)
}
