package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/book-expert/plomtts/internal/core"
	"github.com/go-chi/chi/v5"
)

const (
	createdAtLayout = "2006-01-02T15:04:05.000000"
	multipartMemory = 8 << 20

	fieldName       = "name"
	fieldAudio      = "audio"
	fieldTranscript = "transcript"

	opCreate = "create"
	opDelete = "delete"
)

// VoiceResponse is the wire shape of a voice.
type VoiceResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	HasTranscript bool    `json:"has_transcript"`
	AudioFormat   string  `json:"audio_format"`
	CreatedAt     *string `json:"created_at"`
}

// VoiceListResponse is returned by GET /voices.
type VoiceListResponse struct {
	Voices []VoiceResponse `json:"voices"`
	Total  int             `json:"total"`
}

// MessageResponse carries a confirmation message.
type MessageResponse struct {
	Message string `json:"message"`
}

func toVoiceResponse(voice core.Voice) VoiceResponse {
	resp := VoiceResponse{
		ID:            voice.ID,
		Name:          voice.Name,
		HasTranscript: voice.HasTranscript,
		AudioFormat:   voice.AudioFormat,
	}

	if voice.CreatedAt != nil {
		formatted := voice.CreatedAt.Format(createdAtLayout)
		resp.CreatedAt = &formatted
	}

	return resp
}

func voiceNotFound(id string) string {
	return fmt.Sprintf("Voice '%s' not found", id)
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	voices := s.deps.Store.List()

	resp := VoiceListResponse{Voices: make([]VoiceResponse, 0, len(voices)), Total: len(voices)}
	for _, voice := range voices {
		resp.Voices = append(resp.Voices, toVoiceResponse(voice))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "voiceID")

	voice, ok := s.deps.Store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, voiceNotFound(id))

		return
	}

	writeJSON(w, http.StatusOK, toVoiceResponse(voice))
}

func (s *Server) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Upload exceeds the %d byte limit", s.opts.MaxUploadBytes))

			return
		}

		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())

		return
	}

	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	name := r.FormValue(fieldName)

	file, header, err := r.FormFile(fieldAudio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Audio file is required")

		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "Audio filename is required")

		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read audio file: "+err.Error())

		return
	}

	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Audio file is empty")

		return
	}

	var transcript *string
	if values, ok := r.MultipartForm.Value[fieldTranscript]; ok && len(values) > 0 {
		transcript = &values[0]
	}

	voice, err := s.deps.Store.Create(r.Context(), name, data, header.Filename, transcript)
	s.recordVoiceOperation(opCreate, err == nil)

	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.deps.Log.Error("Failed to create voice '%s': %v", name, err)
			writeError(w, status, "Failed to create voice: "+err.Error())

			return
		}

		writeError(w, status, err.Error())

		return
	}

	s.deps.Log.Info("Created voice '%s' (%s, transcript=%t)", voice.ID, voice.AudioFormat, voice.HasTranscript)

	pubErr := s.deps.Events.VoiceCreated(r.Context(), voice)
	if pubErr != nil {
		s.deps.Log.Warn("Failed to publish voice created event for '%s': %v", voice.ID, pubErr)
	}

	writeJSON(w, http.StatusOK, toVoiceResponse(voice))
}

func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "voiceID")

	if !s.deps.Store.Exists(id) {
		writeError(w, http.StatusNotFound, voiceNotFound(id))

		return
	}

	deleted := s.deps.Store.Delete(id)
	s.recordVoiceOperation(opDelete, deleted)

	if !deleted {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete voice '%s'", id))

		return
	}

	s.deps.Log.Info("Deleted voice '%s'", id)

	pubErr := s.deps.Events.VoiceDeleted(r.Context(), id)
	if pubErr != nil {
		s.deps.Log.Warn("Failed to publish voice deleted event for '%s': %v", id, pubErr)
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Voice '%s' deleted successfully", id)})
}
