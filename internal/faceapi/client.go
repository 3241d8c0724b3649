// Package faceapi talks to the face embedding service (an InsightFace server) that
// detects faces and returns one identity embedding per face.
package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-grouper/internal/constants"
	"github.com/kozaktomas/face-grouper/internal/facematch"
	"github.com/kozaktomas/face-grouper/internal/imageio"
)

const (
	defaultURL   = "http://localhost:8000"
	defaultModel = "buffalo_l"
)

// Options configure the backend selection of the face service.
// They are fixed at startup and are not part of individual requests' semantics.
type Options struct {
	Model        string
	Providers    []string // compute providers, e.g. CPUExecutionProvider, CUDAExecutionProvider
	DetSize      int
	MaxImageSize int
	Timeout      time.Duration
}

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL string
	opts    Options
	client  *http.Client
}

// NewClient creates a new face service client
func NewClient(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.DetSize <= 0 {
		opts.DetSize = constants.DefaultDetSize
	}
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = constants.MaxImageSize
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

// faceDetection represents a single detected face on the wire
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  *float64  `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.opts.Model
}

// AnalysisKey names the settings that change the returned detections: the
// model, the detection size and the upload resolution. Compute providers are
// left out since they do not change results.
func (c *Client) AnalysisKey() string {
	return fmt.Sprintf("%s@det%d/max%d", c.opts.Model, c.opts.DetSize, c.opts.MaxImageSize)
}

// WithProviders returns a client that requests the given compute providers.
func (c *Client) WithProviders(providers []string) facematch.Analyzer {
	opts := c.opts
	opts.Providers = append([]string(nil), providers...)
	return &Client{baseURL: c.baseURL, opts: opts, client: c.client}
}

// ConcurrentSafe reports that the client may be shared between workers.
func (c *Client) ConcurrentSafe() bool {
	return true
}

// Analyze detects faces in img and returns their scores and embeddings.
func (c *Client) Analyze(ctx context.Context, img *imageio.Image) ([]facematch.Detection, error) {
	data, err := imageio.EncodeForAnalysis(img, c.opts.MaxImageSize)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", data)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	dets := make([]facematch.Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		score := 1.0
		if f.DetScore != nil {
			score = *f.DetScore
		}
		dets = append(dets, facematch.Detection{Score: score, Embedding: f.Embedding})
	}
	return dets, nil
}

func (c *Client) endpoint(path string) string {
	q := url.Values{}
	q.Set("model", c.opts.Model)
	q.Set("det_size", strconv.Itoa(c.opts.DetSize))
	for _, p := range c.opts.Providers {
		q.Add("providers", p)
	}
	return c.baseURL + path + "?" + q.Encode()
}

// postMultipartImage constructs a multipart form with the JPEG data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, path string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
