// Package client is a Go client for the plomtts HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/plomtts/internal/api"
	"github.com/book-expert/plomtts/internal/fileutil"
)

// DefaultTimeout bounds every request. Synthesis can take minutes on a cold backend.
const DefaultTimeout = 5 * time.Minute

// ErrUnhealthy is returned when a health endpoint answers with a non-200 status.
var ErrUnhealthy = errors.New("service is not healthy")

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
}

// Speech describes a synthesized audio response.
type Speech struct {
	VoiceID         string
	TextLength      int
	DurationSeconds float64
	Filename        string
	Bytes           int64
}

// Client talks to a plomtts server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the server at baseURL. A nil httpClient uses one with
// DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// ListVoices returns every stored voice.
func (c *Client) ListVoices(ctx context.Context) (api.VoiceListResponse, error) {
	var out api.VoiceListResponse

	err := c.doJSON(ctx, http.MethodGet, "/voices", nil, "", &out)

	return out, err
}

// GetVoice returns a single voice.
func (c *Client) GetVoice(ctx context.Context, id string) (api.VoiceResponse, error) {
	var out api.VoiceResponse

	err := c.doJSON(ctx, http.MethodGet, "/voices/"+url.PathEscape(id), nil, "", &out)

	return out, err
}

// CreateVoice uploads audioPath as a new voice. An empty transcript is omitted.
func (c *Client) CreateVoice(ctx context.Context, name, audioPath, transcript string) (api.VoiceResponse, error) {
	var out api.VoiceResponse

	data, err := os.ReadFile(audioPath) // #nosec G304 -- user supplied upload
	if err != nil {
		return out, fmt.Errorf("failed to read audio file %s: %w", audioPath, err)
	}

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	err = writer.WriteField("name", name)
	if err != nil {
		return out, fmt.Errorf("failed to write name field: %w", err)
	}

	if transcript != "" {
		err = writer.WriteField("transcript", transcript)
		if err != nil {
			return out, fmt.Errorf("failed to write transcript field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return out, fmt.Errorf("failed to create audio part: %w", err)
	}

	_, err = part.Write(data)
	if err != nil {
		return out, fmt.Errorf("failed to write audio part: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return out, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	err = c.doJSON(ctx, http.MethodPost, "/voices", &body, writer.FormDataContentType(), &out)

	return out, err
}

// DeleteVoice removes a voice and returns the server's confirmation message.
func (c *Client) DeleteVoice(ctx context.Context, id string) (string, error) {
	var out api.MessageResponse

	err := c.doJSON(ctx, http.MethodDelete, "/voices/"+url.PathEscape(id), nil, "", &out)

	return out.Message, err
}

// Synthesize requests speech for req and streams the audio into w.
func (c *Client) Synthesize(ctx context.Context, req api.TTSRequest, w io.Writer) (Speech, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Speech{}, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/tts", bytes.NewReader(payload), "application/json")
	if err != nil {
		return Speech{}, err
	}
	defer resp.Body.Close()

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return Speech{}, fmt.Errorf("failed to read audio: %w", err)
	}

	speech := Speech{
		VoiceID:  resp.Header.Get(api.HeaderVoiceID),
		Filename: attachmentName(resp.Header.Get("Content-Disposition")),
		Bytes:    written,
	}
	speech.TextLength, _ = strconv.Atoi(resp.Header.Get(api.HeaderTextLength))
	speech.DurationSeconds, _ = strconv.ParseFloat(resp.Header.Get(api.HeaderAudioDuration), 64)

	return speech, nil
}

// SynthesizeToFile writes the audio for req to outputPath. Nothing is left at
// outputPath on failure.
func (c *Client) SynthesizeToFile(ctx context.Context, req api.TTSRequest, outputPath string) (Speech, error) {
	partial := fileutil.PartialPath(outputPath)

	file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileutil.FilePermissions) // #nosec G304
	if err != nil {
		return Speech{}, fmt.Errorf("failed to create %s: %w", partial, err)
	}

	speech, err := c.Synthesize(ctx, req, file)

	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", partial, closeErr)
	}

	if err != nil {
		_ = fileutil.RemoveIfExists(partial)

		return Speech{}, err
	}

	err = fileutil.CommitPartial(outputPath)
	if err != nil {
		return Speech{}, err
	}

	return speech, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.checkHealth(ctx, "/health")
}

// BackendHealth checks GET /health/backend.
func (c *Client) BackendHealth(ctx context.Context) error {
	return c.checkHealth(ctx, "/health/backend")
}

func (c *Client) checkHealth(ctx context.Context, path string) error {
	var out map[string]string

	err := c.doJSON(ctx, http.MethodGet, path, nil, "", &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: %s", ErrUnhealthy, apiErr.Detail)
		}

		return err
	}

	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}

	return nil
}

// send performs the request and converts non-2xx replies into *APIError.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer resp.Body.Close()

	return nil, &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(resp.Body)}
}

// errorDetail extracts the detail field of an error body, falling back to the raw text.
func errorDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 64<<10))

	var parsed struct {
		Detail string `json:"detail"`
		Status string `json:"status"`
	}

	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}

		if parsed.Status != "" {
			return parsed.Status
		}
	}

	return strings.TrimSpace(string(raw))
}

func attachmentName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}

	return params["filename"]
}
