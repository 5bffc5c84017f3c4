// Package testutil provides shared fixtures for the service's tests: a file logger
// rooted in the test's temp dir, synthetic WAV audio, and fake audio codecs.
package testutil

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/fileutil"
)

// SampleRate used for generated WAV fixtures.
const SampleRate = 16000

// ErrCodecUnavailable is returned by FailingCodec.
var ErrCodecUnavailable = errors.New("codec unavailable")

// NewLogger creates a logger writing into a per-test directory and closes it on cleanup.
func NewLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

// WAV returns a mono 16-bit PCM WAV file of silence lasting seconds.
func WAV(seconds float64) []byte {
	const (
		bitsPerSample = 16
		channels      = 1
		blockAlign    = channels * bitsPerSample / 8
	)

	dataSize := uint32(seconds*SampleRate) * blockAlign

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}

// WriteFile writes data to dir/name and returns the full path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)

	err := os.WriteFile(path, data, fileutil.FilePermissions)
	if err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}

	return path
}

// CopyCodec is a fake codec whose conversions copy the input bytes to the output.
type CopyCodec struct {
	mu          sync.Mutex
	conversions []string
	calls       atomic.Int32
	// Seconds is returned from Duration for every path.
	Seconds float64
}

// Convert copies inputPath to outputPath.
func (c *CopyCodec) Convert(_ context.Context, inputPath, outputPath, _ string) error {
	c.calls.Add(1)

	err := fileutil.CopyFile(inputPath, outputPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conversions = append(c.conversions, outputPath)
	c.mu.Unlock()

	return nil
}

// Duration returns the configured Seconds.
func (c *CopyCodec) Duration(_ context.Context, _ string) (float64, error) {
	return c.Seconds, nil
}

// Conversions returns the output paths of completed conversions.
func (c *CopyCodec) Conversions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.conversions...)
}

// Calls returns the number of Convert invocations.
func (c *CopyCodec) Calls() int {
	return int(c.calls.Load())
}

// FailingCodec is a fake codec for which every operation fails.
type FailingCodec struct{}

// Convert always fails.
func (FailingCodec) Convert(context.Context, string, string, string) error {
	return ErrCodecUnavailable
}

// Duration always fails.
func (FailingCodec) Duration(context.Context, string) (float64, error) {
	return 0, ErrCodecUnavailable
}
