package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

// Client posts utterance chunks to an HTTP transcription endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // bounds in-flight requests

	requests  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
	latency   atomic.Int64 // smoothed, nanoseconds
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration
	HTTPClient *http.Client
}

// Request is one utterance to transcribe
type Request struct {
	Chunk     *audio.AudioChunk
	SessionID string
	Language  string
	Model     string
	Prompt    string
}

// Response is the endpoint's answer. Only Text is required, which makes
// OpenAI compatible /audio/transcriptions endpoints usable as is.
type Response struct {
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	Segments    []Segment `json:"segments,omitempty"`
	ProcessedAt time.Time `json:"-"`
}

// Segment represents a segment of transcribed text
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ClientStats counts requests made by a Client. AvgResponseTime is an
// exponentially weighted average including retries.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe sends a chunk, retrying transient failures with exponential
// backoff.
func (c *Client) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.requests.Add(1)

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.retries.Add(1)

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > c.config.MaxBackoff {
				backoffTime = c.config.MaxBackoff
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := c.doRequest(ctx, request)
		if err == nil {
			c.succeeded.Add(1)
			c.observeLatency(time.Since(startTime))
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil || !isRetryableError(err) {
			break
		}
	}

	c.failed.Add(1)
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) doRequest(ctx context.Context, request *Request) (*Response, error) {
	body, contentType, err := c.createMultipartRequest(request)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "instant-meeting-insights/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var parsed Response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	parsed.ProcessedAt = time.Now()

	return &parsed, nil
}

func (c *Client) createMultipartRequest(request *Request) (io.Reader, string, error) {
	chunk := request.Chunk
	wav, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", chunk.ChunkID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"chunk_id", chunk.ChunkID},
		{"session_id", request.SessionID},
		{"sample_rate", strconv.Itoa(chunk.SampleRate)},
		{"duration", fmt.Sprintf("%.3f", chunk.Duration.Seconds())},
		{"start_offset", fmt.Sprintf("%.3f", chunk.StartOffset.Seconds())},
		{"confidence", fmt.Sprintf("%.3f", chunk.Confidence)},
		{"response_format", "json"},
	}
	if request.Language != "" {
		fields = append(fields, [2]string{"language", request.Language})
	}
	if request.Model != "" {
		fields = append(fields, [2]string{"model", request.Model})
	}
	if request.Prompt != "" {
		fields = append(fields, [2]string{"prompt", request.Prompt})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a failed attempt may succeed if repeated:
// timeouts, network errors, 429 and 5xx responses.
func isRetryableError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// observeLatency folds d into the smoothed latency with weight 1/4.
func (c *Client) observeLatency(d time.Duration) {
	for {
		old := c.latency.Load()
		next := int64(d)
		if old != 0 {
			next = old + (int64(d)-old)/4
		}
		if c.latency.CompareAndSwap(old, next) {
			return
		}
	}
}

// Stats returns a snapshot of the request counters.
func (c *Client) Stats() ClientStats {
	s := ClientStats{
		TotalRequests:   c.requests.Load(),
		SuccessRequests: c.succeeded.Load(),
		FailedRequests:  c.failed.Load(),
		TotalRetries:    c.retries.Load(),
		AvgResponseTime: time.Duration(c.latency.Load()),
		ActiveRequests:  len(c.semaphore),
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.SuccessRequests) / float64(s.TotalRequests) * 100
	}
	return s
}
