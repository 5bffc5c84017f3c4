// Package voicestore manages voice assets held as directories on a filesystem.
//
// Each voice is a directory named by its id containing a primary reference audio
// file <id>.<ext>, an optional normalized <id>.wav companion and an optional
// <id>.txt transcript. The directory is the only source of truth: a directory
// without a recognized primary audio file is not a voice.
package voicestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/audio"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/fileutil"
)

// DefaultCacheTTL bounds how long a cached listing may be served without a rescan.
const DefaultCacheTTL = 5 * time.Second

// Error details surfaced to callers.
const (
	msgInvalidID = "voice id must contain only letters, numbers, hyphens, and underscores"
)

// Log messages.
const (
	logFmtSkipNoAudio     = "Skipping %s: no audio file found"
	logFmtReadRootFailed  = "Failed to read voices directory %s: %v"
	logFmtSavedTranscript = "Saved transcript to %s"
	logFmtNoTranscript    = "No transcript provided for voice '%s'; it cannot be used for synthesis until one is added"
	logFmtConvertingWAV   = "Converting %s to WAV for voice '%s'"
	logFmtCreatedWAV      = "Created WAV version: %s"
	logFmtWAVFailed       = "Failed to create WAV version for voice '%s'; the primary file will be used as reference"
	logFmtCreatedVoice    = "Created voice '%s' with audio format: %s"
	logFmtCleanupFailed   = "Failed to clean up voice directory %s after error: %v"
	logFmtDeletedVoice    = "Deleted voice '%s'"
	logFmtDeleteFailed    = "Failed to delete voice '%s': %v"
	logFmtCacheDisabled   = "Voice listing cache disabled: %v"
)

// Options configures a Store.
type Options struct {
	// CacheListing keeps the last scan in memory, invalidated by filesystem events.
	CacheListing bool
	// CacheTTL bounds the age of a cached listing. Zero means DefaultCacheTTL.
	CacheTTL time.Duration
}

// Store implements core.VoiceStore over a directory tree.
type Store struct {
	layout Layout
	audio  *audio.Processor
	log    *logger.Logger
	cache  *listingCache
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string, processor *audio.Processor, log *logger.Logger, opts Options) (*Store, error) {
	dirErr := fileutil.EnsureDir(root)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to prepare voices directory: %w", dirErr)
	}

	store := &Store{
		layout: Layout{Root: root},
		audio:  processor,
		log:    log,
	}

	if opts.CacheListing {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}

		cache, cacheErr := newListingCache(root, ttl, log)
		if cacheErr != nil {
			log.Warn(logFmtCacheDisabled, cacheErr)
		} else {
			store.cache = cache
		}
	}

	return store, nil
}

// Layout returns the path layout used by the store.
func (s *Store) Layout() Layout {
	return s.layout
}

// Close stops the listing cache watcher, if any.
func (s *Store) Close() error {
	if s.cache == nil {
		return nil
	}

	return s.cache.close()
}

// List returns every voice under the root, sorted by id. Directories without a
// recognized primary audio file are skipped.
func (s *Store) List() []core.Voice {
	if s.cache == nil {
		voices, _ := s.scan()

		return voices
	}

	cached, ok := s.cache.get()
	if ok {
		return cached
	}

	generation := s.cache.generation()
	voices, dirs := s.scan()
	s.cache.put(generation, voices, dirs)

	return slices.Clone(voices)
}

// Get returns the voice with the given id.
func (s *Store) Get(id string) (core.Voice, bool) {
	for _, voice := range s.List() {
		if voice.ID == id {
			return voice, true
		}
	}

	return core.Voice{}, false
}

// Exists reports whether a directory named id exists under the root. The directory
// does not need to hold audio.
func (s *Store) Exists(id string) bool {
	if !safeName(id) {
		return false
	}

	return fileutil.DirExists(s.layout.Dir(id))
}

// Create stores a new voice. On any failure after the directory is created the
// directory is removed before the error is returned.
func (s *Store) Create(
	ctx context.Context,
	id string,
	audioData []byte,
	audioFilename string,
	transcript *string,
) (core.Voice, error) {
	if !ValidID(id) {
		return core.Voice{}, fmt.Errorf("%w: %s", core.ErrInvalidID, msgInvalidID)
	}

	dir := s.layout.Dir(id)

	// Mkdir is atomic, so of two concurrent creates exactly one wins.
	mkdirErr := os.Mkdir(dir, fileutil.DirPermissions)
	if mkdirErr != nil {
		if errors.Is(mkdirErr, fs.ErrExist) {
			return core.Voice{}, fmt.Errorf("voice '%s': %w", id, core.ErrAlreadyExists)
		}

		return core.Voice{}, fmt.Errorf("failed to create voice directory: %w", mkdirErr)
	}

	defer s.invalidate()

	voice, err := s.populate(ctx, id, audioData, audioFilename, transcript)
	if err != nil {
		removeErr := os.RemoveAll(dir)
		if removeErr != nil {
			s.log.Error(logFmtCleanupFailed, dir, removeErr)
		}

		return core.Voice{}, err
	}

	s.log.Info(logFmtCreatedVoice, id, voice.AudioFormat)

	return voice, nil
}

// Delete removes the voice directory tree. It returns false when the voice does not
// exist or could not be removed.
func (s *Store) Delete(id string) bool {
	if !safeName(id) {
		return false
	}

	dir := s.layout.Dir(id)
	if !fileutil.DirExists(dir) {
		return false
	}

	defer s.invalidate()

	removeErr := os.RemoveAll(dir)
	if removeErr != nil {
		s.log.Error(logFmtDeleteFailed, id, removeErr)

		return false
	}

	s.log.Info(logFmtDeletedVoice, id)

	return true
}

func (s *Store) populate(
	ctx context.Context,
	id string,
	audioData []byte,
	audioFilename string,
	transcript *string,
) (core.Voice, error) {
	format := audio.FormatOf(audioFilename)
	if !audio.IsSupported(format) {
		return core.Voice{}, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, format)
	}

	primary := s.layout.AudioPath(id, format)

	writeErr := os.WriteFile(primary, audioData, fileutil.FilePermissions)
	if writeErr != nil {
		return core.Voice{}, fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	if !audio.Validate(primary) {
		return core.Voice{}, core.ErrValidationFailed
	}

	hasTranscript, transcriptErr := s.writeTranscript(id, transcript)
	if transcriptErr != nil {
		return core.Voice{}, transcriptErr
	}

	if format != audio.FormatWAV {
		s.log.Info(logFmtConvertingWAV, strings.ToUpper(string(format)), id)

		companion := s.layout.CompanionPath(id)
		if s.audio.Convert(ctx, primary, companion, audio.FormatWAV) {
			s.log.Info(logFmtCreatedWAV, companion)
		} else {
			s.log.Warn(logFmtWAVFailed, id)
		}
	}

	createdAt := time.Now()

	return core.Voice{
		ID:            id,
		Name:          id,
		HasTranscript: hasTranscript,
		AudioFormat:   string(format),
		CreatedAt:     &createdAt,
	}, nil
}

// writeTranscript stores the trimmed transcript. A missing or blank transcript is
// not written.
func (s *Store) writeTranscript(id string, transcript *string) (bool, error) {
	if transcript == nil || strings.TrimSpace(*transcript) == "" {
		s.log.Warn(logFmtNoTranscript, id)

		return false, nil
	}

	path := s.layout.TranscriptPath(id)

	writeErr := os.WriteFile(path, []byte(strings.TrimSpace(*transcript)), fileutil.FilePermissions)
	if writeErr != nil {
		return false, fmt.Errorf("failed to write transcript: %w", writeErr)
	}

	s.log.Info(logFmtSavedTranscript, path)

	return true, nil
}

// scan reads the root and returns the voices found plus every subdirectory visited.
func (s *Store) scan() ([]core.Voice, []string) {
	entries, err := os.ReadDir(s.layout.Root)
	if err != nil {
		s.log.Error(logFmtReadRootFailed, s.layout.Root, err)

		return []core.Voice{}, nil
	}

	voices := make([]core.Voice, 0, len(entries))
	dirs := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		dir := s.layout.Dir(name)

		info, statErr := os.Stat(dir)
		if statErr != nil || !info.IsDir() {
			continue
		}

		dirs = append(dirs, dir)

		voice, ok := s.inspect(name, info)
		if !ok {
			s.log.Warn(logFmtSkipNoAudio, name)

			continue
		}

		voices = append(voices, voice)
	}

	slices.SortFunc(voices, func(a, b core.Voice) int {
		return strings.Compare(a.ID, b.ID)
	})

	return voices, dirs
}

func (s *Store) inspect(name string, info fs.FileInfo) (core.Voice, bool) {
	var primary audio.Format

	for _, format := range audio.SupportedFormats {
		if fileutil.FileExists(s.layout.AudioPath(name, format)) {
			primary = format

			break
		}
	}

	if primary == "" {
		return core.Voice{}, false
	}

	voice := core.Voice{
		ID:            name,
		Name:          name,
		HasTranscript: fileutil.FileExists(s.layout.TranscriptPath(name)),
		AudioFormat:   string(primary),
	}

	modTime := info.ModTime()
	if !modTime.IsZero() {
		voice.CreatedAt = &modTime
	}

	return voice, true
}

func (s *Store) invalidate() {
	if s.cache != nil {
		s.cache.invalidate()
	}
}

// safeName reports whether id names a direct child of the root.
func safeName(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}

	return !strings.ContainsAny(id, `/\`)
}
