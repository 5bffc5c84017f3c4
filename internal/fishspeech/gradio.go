package fishspeech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/fileutil"
	"github.com/google/uuid"
)

// Gradio endpoints, relative to the api prefix.
const (
	pathConfig     = "/config"
	pathUpload     = "/upload"
	pathCall       = "/call/"
	pathFilePrefix = "/file="
)

// Server-sent event names emitted by a Gradio call stream.
const (
	eventComplete = "complete"
	eventError    = "error"
)

const (
	fieldFiles       = "files"
	fileDataType     = "gradio.FileData"
	sseDataPrefix    = "data:"
	sseEventPrefix   = "event:"
	maxSSELineBytes  = 4 << 20
	maxErrorBodySize = 4096
)

var (
	errNoEventID        = errors.New("backend returned no event id")
	errStreamIncomplete = errors.New("event stream ended without a result")
	errEmptyUpload      = errors.New("backend returned no upload path")
)

// FileData references a file held by the Gradio server.
type FileData struct {
	Path     string   `json:"path"`
	URL      string   `json:"url,omitempty"`
	OrigName string   `json:"orig_name,omitempty"`
	Meta     fileMeta `json:"meta"`
}

type fileMeta struct {
	Type string `json:"_type"`
}

type gradioConfig struct {
	APIPrefix string `json:"api_prefix"`
}

type callRequest struct {
	Data []any `json:"data"`
}

type callResponse struct {
	EventID string `json:"event_id"`
}

// GradioClient speaks the Gradio HTTP API of a connected backend.
type GradioClient struct {
	httpClient *http.Client
	baseURL    string
	apiPrefix  string
}

// Connect fetches the backend configuration and returns a client bound to its api
// prefix. Any failure is reported as core.ErrBackendUnreachable.
func Connect(ctx context.Context, httpClient *http.Client, baseURL string) (*GradioClient, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+pathConfig, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrBackendUnreachable, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: config returned status %s", core.ErrBackendUnreachable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config: %w", core.ErrBackendUnreachable, err)
	}

	var cfg gradioConfig

	err = parseJSON(body, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrBackendUnreachable, err)
	}

	return &GradioClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiPrefix:  "/" + strings.Trim(cfg.APIPrefix, "/"),
	}, nil
}

// Upload sends a local file to the backend and returns a reference to it.
func (g *GradioClient) Upload(ctx context.Context, path string) (FileData, error) {
	payload, contentType, err := multipartFile(path)
	if err != nil {
		return FileData{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(pathUpload), payload)
	if err != nil {
		return FileData{}, fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return FileData{}, fmt.Errorf("%w: upload failed: %w", core.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FileData{}, statusError("upload", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FileData{}, fmt.Errorf("%w: failed to read upload response: %w", core.ErrBackendError, err)
	}

	var paths []string

	err = parseJSON(body, &paths)
	if err != nil {
		return FileData{}, fmt.Errorf("%w: %w", core.ErrBackendError, err)
	}

	if len(paths) == 0 || paths[0] == "" {
		return FileData{}, fmt.Errorf("%w: %w", core.ErrBackendError, errEmptyUpload)
	}

	return FileData{
		Path:     paths[0],
		OrigName: filepath.Base(path),
		Meta:     fileMeta{Type: fileDataType},
	}, nil
}

// Predict invokes the named endpoint and waits for its result. The returned slice
// holds the endpoint's output components in order.
func (g *GradioClient) Predict(ctx context.Context, apiName string, data []any) ([]json.RawMessage, error) {
	eventID, err := g.submit(ctx, apiName, data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.callPath(apiName)+"/"+eventID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create result request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: result stream failed: %w", core.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("result stream", resp)
	}

	return readResult(resp.Body)
}

// Download fetches a backend file into dir and returns the local path. A file the
// backend no longer has is reported as core.ErrGeneratedFileMissing.
func (g *GradioClient) Download(ctx context.Context, file FileData, dir string) (string, error) {
	source := g.fileURL(file)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download failed: %w", core.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", core.ErrGeneratedFileMissing, file.Path)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError("download", resp)
	}

	dirErr := fileutil.EnsureDir(dir)
	if dirErr != nil {
		return "", fmt.Errorf("failed to prepare download directory: %w", dirErr)
	}

	base := file.Path
	if base == "" {
		base = file.URL
	}

	name := uuid.NewString() + "_" + fileutil.SanitizeFilename(filepath.Base(base))
	target := filepath.Join(dir, name)

	writeErr := writePartial(target, resp.Body)
	if writeErr != nil {
		return "", writeErr
	}

	if !fileutil.FileExists(target) {
		return "", fmt.Errorf("%w: %s", core.ErrGeneratedFileMissing, target)
	}

	return target, nil
}

func (g *GradioClient) submit(ctx context.Context, apiName string, data []any) (string, error) {
	body, err := json.Marshal(callRequest{Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.callPath(apiName), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create call request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: call failed: %w", core.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("call", resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read call response: %w", core.ErrBackendError, err)
	}

	var call callResponse

	err = parseJSON(respBody, &call)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrBackendError, err)
	}

	if call.EventID == "" {
		return "", fmt.Errorf("%w: %w", core.ErrBackendError, errNoEventID)
	}

	return call.EventID, nil
}

func (g *GradioClient) endpoint(path string) string {
	return g.baseURL + strings.TrimRight(g.apiPrefix, "/") + path
}

func (g *GradioClient) callPath(apiName string) string {
	return g.endpoint(pathCall + strings.TrimPrefix(apiName, "/"))
}

func (g *GradioClient) fileURL(file FileData) string {
	if file.URL != "" {
		parsed, err := url.Parse(file.URL)
		if err == nil && parsed.IsAbs() {
			return file.URL
		}

		return g.baseURL + "/" + strings.TrimPrefix(file.URL, "/")
	}

	return g.endpoint(pathFilePrefix + file.Path)
}

// readResult consumes a Gradio event stream until the call completes or fails.
func readResult(stream io.Reader) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	var (
		event string
		data  strings.Builder
	)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			output, done, err := dispatch(event, data.String())
			if done {
				return output, err
			}

			event = ""
			data.Reset()
		case strings.HasPrefix(line, sseEventPrefix):
			event = strings.TrimSpace(strings.TrimPrefix(line, sseEventPrefix))
		case strings.HasPrefix(line, sseDataPrefix):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}

			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix)))
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("%w: failed to read event stream: %w", core.ErrBackendError, scanErr)
	}

	// A final event may lack its terminating blank line.
	output, done, err := dispatch(event, data.String())
	if done {
		return output, err
	}

	return nil, fmt.Errorf("%w: %w", core.ErrBackendError, errStreamIncomplete)
}

func dispatch(event, data string) ([]json.RawMessage, bool, error) {
	switch event {
	case eventComplete:
		var output []json.RawMessage

		err := parseJSON([]byte(data), &output)
		if err != nil {
			return nil, true, fmt.Errorf("%w: %w", core.ErrBackendError, err)
		}

		return output, true, nil
	case eventError:
		message := data
		if message == "" || message == "null" {
			message = "backend reported an error without details"
		}

		return nil, true, fmt.Errorf("%w: %s", core.ErrBackendError, message)
	default:
		return nil, false, nil
	}
}

func multipartFile(path string) (io.Reader, string, error) {
	file, err := os.Open(path) // #nosec G304 -- reference audio inside the voices root
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(fieldFiles, filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func writePartial(target string, body io.Reader) (err error) {
	partial := fileutil.PartialPath(target)

	file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileutil.FilePermissions) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}

	defer func() {
		if err != nil {
			_ = fileutil.RemoveIfExists(partial)
		}
	}()

	_, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	if copyErr != nil {
		return fmt.Errorf("%w: failed to download generated audio: %w", core.ErrBackendError, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", partial, closeErr)
	}

	return fileutil.CommitPartial(target)
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	return fmt.Errorf("%w: %s returned %s: %s", core.ErrBackendError, operation, resp.Status,
		strings.TrimSpace(string(body)))
}

// parseJSON parses JSON data into the target interface.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
