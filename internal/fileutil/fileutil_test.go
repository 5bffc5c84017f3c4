package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/plomtts/internal/fileutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile_PreservesSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "generated.wav")
	dst := filepath.Join(dir, "out.mp3")

	require.NoError(t, os.WriteFile(src, []byte("audio-bytes"), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("stale content that is longer"), 0o600))

	require.NoError(t, fileutil.CopyFile(src, dst))

	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(copied))
	assert.True(t, fileutil.FileExists(src))
}

func TestCopyFile_MissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := fileutil.CopyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.False(t, fileutil.FileExists(filepath.Join(dir, "out")))
}

func TestCommitPartial(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "voice.wav")
	require.NoError(t, os.WriteFile(fileutil.PartialPath(target), []byte("x"), 0o600))

	require.NoError(t, fileutil.CommitPartial(target))
	assert.True(t, fileutil.FileExists(target))
	assert.False(t, fileutil.FileExists(fileutil.PartialPath(target)))
}

func TestRemoveIfExists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tmp.mp3")

	require.NoError(t, fileutil.RemoveIfExists(path))
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, fileutil.RemoveIfExists(path))
	assert.False(t, fileutil.FileExists(path))
}

func TestEnsureDirAndDirExists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a", "b")

	assert.False(t, fileutil.DirExists(path))
	require.NoError(t, fileutil.EnsureDir(path))
	assert.True(t, fileutil.DirExists(path))
	assert.False(t, fileutil.FileExists(path))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45.2s", fileutil.FormatDuration(45.2))
	assert.Equal(t, "5m 30.5s", fileutil.FormatDuration(330.5))
	assert.Equal(t, "1h 15m", fileutil.FormatDuration(4500))
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", fileutil.FormatFileSize(512))
	assert.Equal(t, "1.5 KB", fileutil.FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", fileutil.FormatFileSize(2*1024*1024))
}

func TestSanitizeFilenameAndExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a_b_c.mp3", fileutil.SanitizeFilename("a/b:c.mp3"))
	assert.Equal(t, "FLAC", fileutil.GetFileExtension("voice.FLAC"))
	assert.Empty(t, fileutil.GetFileExtension("voice"))
}
