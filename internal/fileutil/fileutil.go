// Package fileutil provides file and path helpers shared by the voice store,
// the synthesis client and the command-line tools.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Permissions used for files and directories created by the service.
const (
	DirPermissions  = 0o750
	FilePermissions = 0o600
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
	partialSuffix   = ".part"
)

// Error format strings.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtOpenSource        = "failed to open %s: %w"
	errFmtCreateDestination = "failed to create %s: %w"
	errFmtCopy              = "failed to copy %s to %s: %w"
)

// EnsureDir ensures a directory exists at the given path, creating parents as needed.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, DirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// CopyFile copies src to dst, leaving src untouched. dst is truncated if it exists.
func CopyFile(src, dst string) (err error) {
	source, err := os.Open(src) // #nosec G304 -- caller controls the path
	if err != nil {
		return fmt.Errorf(errFmtOpenSource, src, err)
	}
	defer source.Close()

	destination, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FilePermissions) // #nosec G304
	if err != nil {
		return fmt.Errorf(errFmtCreateDestination, dst, err)
	}

	defer func() {
		closeErr := destination.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf(errFmtCopy, src, dst, closeErr)
		}
	}()

	_, copyErr := io.Copy(destination, source)
	if copyErr != nil {
		return fmt.Errorf(errFmtCopy, src, dst, copyErr)
	}

	return nil
}

// PartialPath returns the sibling path used while a file is being produced.
func PartialPath(path string) string {
	return path + partialSuffix
}

// CommitPartial renames the partial sibling of path into place.
func CommitPartial(path string) error {
	renameErr := os.Rename(PartialPath(path), path)
	if renameErr != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, renameErr)
	}

	return nil
}

// RemoveIfExists removes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// GetFileExtension returns the file extension without the leading dot.
func GetFileExtension(filename string) string {
	return strings.TrimPrefix(filepath.Ext(filename), ".")
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", "_",
		">", "_",
		":", "_",
		"\"", "_",
		"/", "_",
		"\\", "_",
		"|", "_",
		"?", "_",
		"*", "_",
	)

	return replacer.Replace(filename)
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	const (
		kilobyte = 1024
		megabyte = kilobyte * 1024
		gigabyte = megabyte * 1024
	)

	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}
