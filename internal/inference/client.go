package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

// Client calls the inference gateway over HTTP/JSON. One gateway fronts all
// model services; each capability has its own endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (e.g. for custom timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an inference gateway client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// maxErrorBodySize bounds how much of an error response body is kept.
const maxErrorBodySize = 2048

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Transcribe sends audio for transcription.
func (c *Client) Transcribe(ctx context.Context, audio []byte, hint domain.Language) (*TranscriptResult, error) {
	in := struct {
		Audio        string          `json:"audio"`
		LanguageHint domain.Language `json:"language_hint,omitempty"`
	}{
		Audio:        base64.StdEncoding.EncodeToString(audio),
		LanguageHint: hint,
	}
	var out TranscriptResult
	if err := c.post(ctx, "/v1/transcribe", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Classify detects language, intent, and subject.
func (c *Client) Classify(ctx context.Context, text string) (*Classification, error) {
	in := struct {
		Text string `json:"text"`
	}{Text: text}
	var out Classification
	if err := c.post(ctx, "/v1/classify", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Teach requests an instructional answer.
func (c *Client) Teach(ctx context.Context, req TeachRequest) (*TeachingResult, error) {
	var out TeachingResult
	if err := c.post(ctx, "/v1/teach", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateQuiz requests a question set.
func (c *Client) GenerateQuiz(ctx context.Context, req QuizGenRequest) ([]domain.QuizQuestion, error) {
	var out struct {
		Questions []domain.QuizQuestion `json:"questions"`
	}
	if err := c.post(ctx, "/v1/quiz", req, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// ReviewHomework requests a homework verdict.
func (c *Client) ReviewHomework(ctx context.Context, req HomeworkRequest) (*HomeworkResult, error) {
	var out HomeworkResult
	if err := c.post(ctx, "/v1/homework", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Synthesize requests speech audio for a response.
func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	var out SpeechResult
	if err := c.post(ctx, "/v1/speech", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Render requests an avatar clip for a response.
func (c *Client) Render(ctx context.Context, req AvatarRequest) (*AvatarResult, error) {
	var out AvatarResult
	if err := c.post(ctx, "/v1/avatar", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var (
	_ Transcriber       = (*Client)(nil)
	_ Classifier        = (*Client)(nil)
	_ Generator         = (*Client)(nil)
	_ SpeechSynthesizer = (*Client)(nil)
	_ AvatarRenderer    = (*Client)(nil)
)
