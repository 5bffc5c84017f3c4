package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// GeneratedPath is the backend-side path reported for generated audio.
const GeneratedPath = "/tmp/gradio/generated/audio.wav"

const fakeEventID = "evt-0001"

// GradioCall records one generation request received by FakeGradio.
type GradioCall struct {
	Data []json.RawMessage
}

// FakeGradio is an in-process stand-in for a fish-speech Gradio server. Behaviour
// fields must be set before the first request.
type FakeGradio struct {
	Server    *httptest.Server
	APIPrefix string

	// Output is served as the generated audio.
	Output []byte
	// ErrorMessage, when set, is returned as the endpoint's error output.
	ErrorMessage string
	// NullOutput returns null in place of the audio output.
	NullOutput bool
	// StreamError emits an error event instead of a result.
	StreamError bool
	// MissingFile makes the generated file download return 404.
	MissingFile bool
	// ConfigStatus overrides the status of the config endpoint.
	ConfigStatus int

	mu      sync.Mutex
	uploads map[string][]byte
	calls   []GradioCall
}

// NewFakeGradio starts a fake backend closed on test cleanup.
func NewFakeGradio(t *testing.T) *FakeGradio {
	t.Helper()

	fake := &FakeGradio{
		APIPrefix: "/gradio_api",
		Output:    WAV(1),
		uploads:   make(map[string][]byte),
	}

	fake.Server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.Server.Close)

	return fake
}

// URL returns the base URL of the fake backend.
func (f *FakeGradio) URL() string {
	return f.Server.URL
}

// Uploads returns the uploaded file contents keyed by backend path.
func (f *FakeGradio) Uploads() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	uploads := make(map[string][]byte, len(f.uploads))
	for path, data := range f.uploads {
		uploads[path] = data
	}

	return uploads
}

// Calls returns the generation requests received so far.
func (f *FakeGradio) Calls() []GradioCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]GradioCall(nil), f.calls...)
}

func (f *FakeGradio) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && path == "/config":
		f.serveConfig(w)
	case r.Method == http.MethodPost && path == f.APIPrefix+"/upload":
		f.serveUpload(w, r)
	case r.Method == http.MethodPost && path == f.APIPrefix+"/call/partial":
		f.serveCall(w, r)
	case r.Method == http.MethodGet && path == f.APIPrefix+"/call/partial/"+fakeEventID:
		f.serveResult(w)
	case r.Method == http.MethodGet && strings.HasPrefix(path, f.APIPrefix+"/file="):
		f.serveFile(w)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeGradio) serveConfig(w http.ResponseWriter) {
	if f.ConfigStatus != 0 && f.ConfigStatus != http.StatusOK {
		w.WriteHeader(f.ConfigStatus)

		return
	}

	writeJSON(w, map[string]any{"version": "5.0.0", "api_prefix": f.APIPrefix})
}

func (f *FakeGradio) serveUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("files")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	f.mu.Lock()
	path := fmt.Sprintf("/tmp/gradio/upload-%d/%s", len(f.uploads), header.Filename)
	f.uploads[path] = data
	f.mu.Unlock()

	writeJSON(w, []string{path})
}

func (f *FakeGradio) serveCall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data []json.RawMessage `json:"data"`
	}

	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)

		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, GradioCall{Data: body.Data})
	f.mu.Unlock()

	writeJSON(w, map[string]string{"event_id": fakeEventID})
}

func (f *FakeGradio) serveResult(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")

	_, _ = io.WriteString(w, "event: generating\ndata: null\n\n")

	if f.StreamError {
		_, _ = io.WriteString(w, "event: error\ndata: \"CUDA out of memory\"\n\n")

		return
	}

	var audio any = map[string]any{
		"path": GeneratedPath,
		"url":  f.Server.URL + f.APIPrefix + "/file=" + GeneratedPath,
		"meta": map[string]string{"_type": "gradio.FileData"},
	}

	if f.NullOutput {
		audio = nil
	}

	var message any
	if f.ErrorMessage != "" {
		message = f.ErrorMessage
	}

	data, _ := json.Marshal([]any{audio, message})

	_, _ = fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
}

func (f *FakeGradio) serveFile(w http.ResponseWriter) {
	if f.MissingFile {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(f.Output)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
