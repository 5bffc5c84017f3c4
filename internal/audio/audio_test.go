package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/book-expert/plomtts/internal/audio"
	"github.com/book-expert/plomtts/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want audio.Format
	}{
		{"voice.mp3", audio.FormatMP3},
		{"/a/b/Voice.WAV", audio.FormatWAV},
		{"sample.Flac", audio.FormatFLAC},
		{"x.ogg", audio.FormatOGG},
		{"clip.m4a", audio.Format("m4a")},
		{"noext", audio.Format("")},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, audio.FormatOf(tc.path), tc.path)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wav := testutil.WriteFile(t, dir, "a.wav", []byte("not really audio"))
	m4a := testutil.WriteFile(t, dir, "a.m4a", []byte("x"))

	assert.True(t, audio.Validate(wav), "content is not inspected")
	assert.False(t, audio.Validate(m4a))
	assert.False(t, audio.Validate(filepath.Join(dir, "missing.mp3")))
	assert.False(t, audio.Validate(dir))
}

func TestProcessor_ConvertFailureIsReported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "a.mp3", []byte("x"))
	processor := audio.NewProcessor(testutil.FailingCodec{}, testutil.NewLogger(t))

	ok := processor.Convert(context.Background(), input, filepath.Join(dir, "a.wav"), audio.FormatWAV)

	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "a.wav"))
}

func TestProcessor_DurationFallsBackToWAVHeader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wav := testutil.WriteFile(t, dir, "a.wav", testutil.WAV(1.5))
	mp3 := testutil.WriteFile(t, dir, "a.mp3", []byte("garbage"))
	processor := audio.NewProcessor(testutil.FailingCodec{}, testutil.NewLogger(t))

	assert.InDelta(t, 1.5, processor.Duration(context.Background(), wav), 0.001)
	assert.Zero(t, processor.Duration(context.Background(), mp3))
	assert.Zero(t, processor.Duration(context.Background(), filepath.Join(dir, "missing.wav")))
}

func TestWAVDuration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wav := testutil.WriteFile(t, dir, "a.wav", testutil.WAV(2))
	bad := testutil.WriteFile(t, dir, "b.wav", []byte("RIFF0000AVI "))

	seconds, err := audio.WAVDuration(wav)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, seconds, 0.001)

	_, err = audio.WAVDuration(bad)
	require.ErrorIs(t, err, audio.ErrNotWAV)
}

// riffChunk encodes one chunk with the given declared size.
func riffChunk(id string, size uint32, body []byte) []byte {
	var buf bytes.Buffer

	buf.WriteString(id)
	_ = binary.Write(&buf, binary.LittleEndian, size)
	buf.Write(body)

	if len(body)%2 == 1 {
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

// fmtBody is a PCM fmt chunk body with byte rate 8000 and extra trailing bytes.
func fmtBody(extra int) []byte {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(8000))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(8000))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(8))
	buf.Write(make([]byte, extra))

	return buf.Bytes()
}

func riffFile(chunks ...[]byte) []byte {
	body := bytes.Join(chunks, nil)

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+len(body)))
	buf.WriteString("WAVE")
	buf.Write(body)

	return buf.Bytes()
}

func TestWAVDuration_ChunkLayouts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := make([]byte, 4000)
	fmtChunk := riffChunk("fmt ", 16, fmtBody(0))
	dataChunk := riffChunk("data", uint32(len(data)), data)

	tests := []struct {
		name string
		file []byte
		want float64
	}{
		{"data before fmt", riffFile(dataChunk, fmtChunk), 0.5},
		{"extended fmt", riffFile(riffChunk("fmt ", 18, fmtBody(2)), dataChunk), 0.5},
		{"odd sized list chunk", riffFile(fmtChunk, riffChunk("LIST", 3, []byte("abc")), dataChunk), 0.5},
	}

	for _, tc := range tests {
		path := testutil.WriteFile(t, dir, tc.name+".wav", tc.file)

		seconds, err := audio.WAVDuration(path)
		require.NoError(t, err, tc.name)
		assert.InDelta(t, tc.want, seconds, 0.001, tc.name)
	}
}

func TestWAVDuration_RejectsMalformedChunks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := riffChunk("data", 4, make([]byte, 4))

	tests := []struct {
		name string
		file []byte
	}{
		{"oversized fmt", riffFile(riffChunk("fmt ", 0xFFFFFFF0, fmtBody(0)))},
		{"short fmt", riffFile(riffChunk("fmt ", 8, make([]byte, 8)), data)},
		{"no fmt", riffFile(data)},
		{"no data", riffFile(riffChunk("fmt ", 16, fmtBody(0)))},
	}

	for _, tc := range tests {
		path := testutil.WriteFile(t, dir, tc.name+".wav", tc.file)

		_, err := audio.WAVDuration(path)
		require.ErrorIs(t, err, audio.ErrMissingChunk, tc.name)
	}
}

func TestFFmpegCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath(audio.DefaultFFmpegPath); err != nil {
		t.Skip("ffmpeg not installed")
	}

	if _, err := exec.LookPath(audio.DefaultFFprobePath); err != nil {
		t.Skip("ffprobe not installed")
	}

	ctx := context.Background()
	dir := t.TempDir()
	source := testutil.WriteFile(t, dir, "source.wav", testutil.WAV(1))
	flac := filepath.Join(dir, "source.flac")
	back := filepath.Join(dir, "back.wav")
	codec := audio.NewFFmpegCodec("", "")

	require.NoError(t, codec.Convert(ctx, source, flac, string(audio.FormatFLAC)))
	require.NoError(t, codec.Convert(ctx, flac, back, string(audio.FormatWAV)))

	original, err := codec.Duration(ctx, source)
	require.NoError(t, err)

	converted, err := codec.Duration(ctx, back)
	require.NoError(t, err)
	assert.InDelta(t, original, converted, 0.05)
	assert.NoFileExists(t, back+".part")
}

func TestFFmpegCodec_ConvertFailureLeavesNoOutput(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath(audio.DefaultFFmpegPath); err != nil {
		t.Skip("ffmpeg not installed")
	}

	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "broken.mp3", []byte("definitely not mpeg"))
	output := filepath.Join(dir, "broken.wav")

	err := audio.NewFFmpegCodec("", "").Convert(context.Background(), input, output, "wav")
	require.Error(t, err)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
	assert.NoFileExists(t, output+".part")
}

func TestFFmpegCodec_MissingBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := testutil.WriteFile(t, dir, "a.wav", testutil.WAV(0.1))
	codec := audio.NewFFmpegCodec(filepath.Join(dir, "no-ffmpeg"), filepath.Join(dir, "no-ffprobe"))

	require.Error(t, codec.Convert(context.Background(), input, filepath.Join(dir, "a.mp3"), "mp3"))

	_, err := codec.Duration(context.Background(), input)
	require.Error(t, err)
}
