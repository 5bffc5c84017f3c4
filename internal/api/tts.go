package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/plomtts/internal/core"
)

// Response headers describing generated audio.
const (
	HeaderVoiceID       = "X-Voice-ID"
	HeaderTextLength    = "X-Text-Length"
	HeaderAudioDuration = "X-Audio-Duration"

	audioMediaType    = "audio/mpeg"
	tempPattern       = "plomtts-*.mp3"
	filenameModulus   = 10000
	maxTTSRequestBody = 1 << 20
)

// TTSRequest is the body of POST /tts. Omitted sampling fields take their defaults.
type TTSRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	core.SamplingOverrides
}

// DownloadFilename names the attachment for a synthesis response. The suffix is a
// short text hash and is not unique.
func DownloadFilename(voiceID, text string) string {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(text))

	return fmt.Sprintf("%s_%d.mp3", voiceID, hasher.Sum32()%filenameModulus)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTTSRequestBody)).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())

		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Text is required")

		return
	}

	if req.VoiceID == "" {
		writeError(w, http.StatusBadRequest, "voice_id is required")

		return
	}

	params := req.SamplingParams()

	err = params.Validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if !s.deps.Store.Exists(req.VoiceID) {
		writeError(w, http.StatusNotFound, voiceNotFound(req.VoiceID))

		return
	}

	tempPath, err := s.reserveTempFile()
	if err != nil {
		s.deps.Log.Error("Failed to create temporary file: %v", err)
		writeError(w, http.StatusInternalServerError, "TTS generation failed: "+err.Error())

		return
	}
	defer s.removeTempFile(tempPath)

	start := time.Now()

	_, err = s.deps.Synthesizer.SynthesizeToFile(r.Context(), req.Text, req.VoiceID, tempPath, params)
	if err != nil {
		s.recordSynthesis(false, time.Since(start), 0)
		s.deps.Log.Error("TTS generation failed for voice '%s': %v", req.VoiceID, err)

		if core.KindOf(err) == core.KindNotFound {
			writeError(w, http.StatusNotFound, voiceNotFound(req.VoiceID))

			return
		}

		writeError(w, http.StatusInternalServerError, fmt.Sprintf("TTS generation failed: %v", err))

		return
	}

	duration := s.deps.Audio.Duration(r.Context(), tempPath)
	s.recordSynthesis(true, time.Since(start), duration)

	textLength := utf8.RuneCountInString(req.Text)

	err = s.streamAudio(w, tempPath, req.VoiceID, req.Text, textLength, duration)
	if err != nil {
		s.deps.Log.Warn("Failed to stream audio for voice '%s': %v", req.VoiceID, err)

		return
	}

	pubErr := s.deps.Events.SpeechGenerated(r.Context(), core.SpeechGenerated{
		VoiceID:         req.VoiceID,
		TextLength:      textLength,
		DurationSeconds: duration,
	})
	if pubErr != nil {
		s.deps.Log.Warn("Failed to publish speech generated event for '%s': %v", req.VoiceID, pubErr)
	}
}

// reserveTempFile creates the per-request output file and returns its path.
func (s *Server) reserveTempFile() (string, error) {
	tmp, err := os.CreateTemp(s.opts.TempDir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	path := tmp.Name()

	err = tmp.Close()
	if err != nil {
		s.removeTempFile(path)

		return "", fmt.Errorf("failed to close temporary file: %w", err)
	}

	return path, nil
}

func (s *Server) removeTempFile(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.deps.Log.Warn("Failed to remove temporary file %s: %v", path, err)
	}
}

func (s *Server) streamAudio(
	w http.ResponseWriter,
	path, voiceID, text string,
	textLength int,
	duration float64,
) error {
	file, err := os.Open(path) // #nosec G304 -- path comes from os.CreateTemp
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TTS generation failed: "+err.Error())

		return fmt.Errorf("failed to open generated audio: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TTS generation failed: "+err.Error())

		return fmt.Errorf("failed to stat generated audio: %w", err)
	}

	header := w.Header()
	header.Set("Content-Type", audioMediaType)
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", DownloadFilename(voiceID, text)))
	header.Set(HeaderVoiceID, voiceID)
	header.Set(HeaderTextLength, strconv.Itoa(textLength))
	header.Set(HeaderAudioDuration, strconv.FormatFloat(duration, 'f', -1, 64))
	w.WriteHeader(http.StatusOK)

	_, err = io.Copy(w, file)
	if err != nil {
		return fmt.Errorf("failed to write audio response: %w", err)
	}

	return nil
}

func (s *Server) recordSynthesis(success bool, elapsed time.Duration, audioSeconds float64) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSynthesis(success, elapsed, audioSeconds)
	}
}
