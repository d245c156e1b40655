// Package backend is the HTTP client for the CAD assistant service: health,
// STEP upload, STL meshes, the containment diagram, and voice commands.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/metrics"
	"github.com/vanderheijden86/cadview/pkg/model"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is where the backend listens when run locally.
const DefaultBaseURL = "http://localhost:8000"

// DefaultTimeout bounds a single request. Voice commands go through speech
// recognition and a language model, so this is generous.
const DefaultTimeout = 60 * time.Second

// Client talks to the backend over HTTP/JSON. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	meshes     singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the given base URL (e.g. "http://localhost:8000").
// An empty base URL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents a non-2xx response, or a 2xx response whose JSON body
// carries an "error" field where a mesh was expected.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Health checks the service root.
func (c *Client) Health(ctx context.Context) (*model.Health, error) {
	var h model.Health
	if err := c.doJSON(ctx, http.MethodGet, "/", nil, "", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Upload sends the CAD file at path as the multipart field "file". The
// result is returned as decoded even when its status is not "success"; the
// caller decides whether it is usable.
func (c *Client) Upload(ctx context.Context, path string) (*model.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return c.UploadReader(ctx, filepath.Base(path), f)
}

// UploadReader is Upload for in-memory content.
func (c *Client) UploadReader(ctx context.Context, filename string, r io.Reader) (*model.UploadResult, error) {
	defer metrics.Timer(metrics.Upload)()
	body, contentType, err := multipartFile(filename, r)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/upload", body, contentType, &raw); err != nil {
		return nil, err
	}
	return model.ParseUpload(raw)
}

// Voice submits one recorded audio file to the command pipeline.
func (c *Client) Voice(ctx context.Context, filename string, audio io.Reader) (*model.VoiceResult, error) {
	defer metrics.Timer(metrics.VoiceSubmit)()
	body, contentType, err := multipartFile(filename, audio)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/voice", body, contentType, &raw); err != nil {
		return nil, err
	}
	return model.ParseVoice(raw)
}

// Hasse fetches the containment diagram. Missing fields decode as empty.
func (c *Client) Hasse(ctx context.Context) (*model.HasseGraph, error) {
	defer metrics.Timer(metrics.HasseFetch)()
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/hasse", nil, "", &raw); err != nil {
		return nil, err
	}
	return model.ParseHasse(raw)
}

// ModelURL is the full-assembly mesh URL for a model version token.
func (c *Client) ModelURL(token string) string {
	u := c.baseURL + "/api/model.stl"
	if token != "" {
		u += "?t=" + url.QueryEscape(token)
	}
	return u
}

// ComponentURL is the emphasis mesh URL for one assembly node.
func (c *Client) ComponentURL(id string) string {
	return c.baseURL + "/api/component/" + url.PathEscape(id)
}

// ModelSTL fetches the full-assembly mesh for a model version token.
func (c *Client) ModelSTL(ctx context.Context, token string) ([]byte, error) {
	return c.FetchMesh(ctx, c.ModelURL(token))
}

// ComponentSTL fetches the emphasis mesh of one assembly node.
func (c *Client) ComponentSTL(ctx context.Context, id string) ([]byte, error) {
	return c.FetchMesh(ctx, c.ComponentURL(id))
}

// FetchMesh downloads raw STL bytes. Concurrent fetches of the same URL share
// one request; callers must treat the returned slice as read-only. The shared
// request is not tied to any caller's cancellation: a caller whose ctx ends
// stops waiting, the others still get the mesh.
func (c *Client) FetchMesh(ctx context.Context, rawURL string) ([]byte, error) {
	ch := c.meshes.DoChan(rawURL, func() (any, error) {
		return c.fetchMesh(context.WithoutCancel(ctx), rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		debug.LogIf(res.Shared, "mesh fetch shared: %s", rawURL)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Client) fetchMesh(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, data); err != nil {
		return nil, err
	}
	// The component endpoint answers 200 with {"error": ...} for unknown ids.
	if isJSONError(resp.Header.Get("Content-Type"), data) {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	metrics.MeshFetch.Record(time.Since(start))
	debug.Logger().Debug("mesh fetched",
		zap.String("url", rawURL),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	return data, nil
}

// doJSON performs a request with an optional pre-encoded body and decodes the
// JSON response into result.
func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		debug.Logger().Debug("backend error", zap.String("path", path), zap.Error(err))
		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return &APIError{StatusCode: code, Message: errorMessage(body)}
}

// errorMessage extracts {"error": ...} or {"detail": ...} from a body,
// falling back to the raw text.
func errorMessage(body []byte) string {
	var errResp struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error != "" {
			return errResp.Error
		}
		if errResp.Detail != "" {
			return errResp.Detail
		}
	}
	return strings.TrimSpace(string(body))
}

func isJSONError(contentType string, body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if !strings.Contains(contentType, "json") && !bytes.HasPrefix(trimmed, []byte("{")) {
		return false
	}
	var envelope struct {
		Error *string `json:"error"`
	}
	return json.Unmarshal(trimmed, &envelope) == nil && envelope.Error != nil
}

func multipartFile(filename string, r io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("copying %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
