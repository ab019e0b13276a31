package faceapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Client talks to the face detection service over HTTP.
type Client struct {
	parsedURL *url.URL
	client    *http.Client
}

// NewClient creates a face service client for the given base URL.
func NewClient(baseURL string) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid face service URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid face service URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid face service URL: missing host")
	}
	return &Client{
		parsedURL: parsed,
		client:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Detect sends an image to the detection endpoint and returns all faces
// found in it. Calls are not retried here; the caller decides based on
// DetectionError.Transient.
func (c *Client) Detect(ctx context.Context, imageData []byte) (*DetectResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("could not create multipart field: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("could not write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not finalize multipart body: %w", err)
	}

	var result DetectResult
	if err := c.do(ctx, "detect", "/detect", &buf, writer.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DetectFile reads an image file and delegates to Detect.
func (c *Client) DetectFile(ctx context.Context, path string) (*DetectResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read image file: %w", err)
	}
	return c.Detect(ctx, data)
}

type extractRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type extractResponse struct {
	Embedding []float32 `json:"embedding"`
	DetScore  float64   `json:"det_score"`
}

// ExtractEmbedding sends a base64-encoded image to the embedding endpoint.
// The service expects exactly one face in the image.
func (c *Client) ExtractEmbedding(ctx context.Context, imageData []byte) ([]float32, error) {
	reqBody, err := json.Marshal(extractRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageData),
	})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	var result extractResponse
	if err := c.do(
		ctx, "extract-embedding", "/extract-embedding",
		bytes.NewReader(reqBody), "application/json", &result,
	); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, &DetectionError{
			Op:  "extract-embedding",
			Err: errors.New("no face found in image"),
		}
	}
	return result.Embedding, nil
}

// Health queries the service status and model information.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	reqURL := c.parsedURL.JoinPath("/health")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &DetectionError{Op: "health", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("health", resp)
	}

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &DetectionError{Op: "health", Err: fmt.Errorf("could not parse response: %w", err)}
	}
	return &info, nil
}

// CheckDimension verifies the service's embedding dimension matches want.
// A mismatch is a configuration error, never transient: embeddings from a
// different model would silently poison the match data.
func (c *Client) CheckDimension(ctx context.Context, want int) error {
	info, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if info.EmbeddingDimension != want {
		return fmt.Errorf(
			"face service embedding dimension is %d, expected %d (model %s)",
			info.EmbeddingDimension, want, info.Model,
		)
	}
	return nil
}

// do performs a POST request and unmarshals the JSON response into result.
func (c *Client) do(
	ctx context.Context, op, endpoint string, body io.Reader, contentType string, result any,
) error {
	reqURL := c.parsedURL.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection failures and timeouts are worth retrying.
		return &DetectionError{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &DetectionError{Op: op, Transient: true, Err: fmt.Errorf("could not read response: %w", err)}
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return &DetectionError{Op: op, Err: fmt.Errorf("could not parse response: %w", err)}
	}
	return nil
}

func statusError(op string, resp *http.Response) *DetectionError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &DetectionError{
		Op:        op,
		Transient: resp.StatusCode >= http.StatusInternalServerError,
		Err:       fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}
