// Package vision verifies that the ui elements an event trigger needs
// are actually present on a rendered page, using a multimodal inference
// service. Model responses are treated as untrusted payloads and are
// strictly schema validated.
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jakopako/tagcheck/config"
	"google.golang.org/genai"
)

// An Inferrer sends a screenshot together with a structured prompt to a
// vision model and returns the raw response text. The response is never
// trusted structured data, validation happens in the verifier.
type Inferrer interface {
	Infer(ctx context.Context, screenshot []byte, prompt string) (string, error)
}

// GeminiInferrer calls the Gemini API via the genai sdk.
type GeminiInferrer struct {
	client      *genai.Client
	model       string
	maxRetries  int
	minInterval time.Duration
	timeout     time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

func NewGeminiInferrer(ctx context.Context, cfg config.VisionConfig) (*GeminiInferrer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = time.Minute
	}
	return &GeminiInferrer{
		client:      client,
		model:       model,
		maxRetries:  maxRetries,
		minInterval: time.Duration(cfg.MinIntervalMs) * time.Millisecond,
		timeout:     timeout,
	}, nil
}

// Infer sends a single multimodal request. Rate limit rejections are
// retried with exponential backoff; all other errors are returned to
// the caller which degrades the affected events.
func (g *GeminiInferrer) Infer(ctx context.Context, screenshot []byte, prompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.throttle()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(screenshot, "image/png"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	var lastErr error
	for i := 0; i <= g.maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genConfig)
		if err != nil {
			lastErr = err
			if isRateLimited(err) {
				continue
			}
			return "", fmt.Errorf("gemini request failed: %w", err)
		}
		text := resp.Text()
		if text == "" {
			return "", fmt.Errorf("gemini returned an empty response")
		}
		return text, nil
	}
	return "", fmt.Errorf("gemini request failed after %d retries: %w", g.maxRetries, lastErr)
}

func isRateLimited(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	return false
}

// throttle enforces a minimal interval between requests, gemini rate
// limits are otherwise hit quickly when many pages verify in parallel.
func (g *GeminiInferrer) throttle() {
	if g.minInterval <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	elapsed := time.Since(g.lastRequest)
	if elapsed < g.minInterval {
		time.Sleep(g.minInterval - elapsed)
	}
	g.lastRequest = time.Now()
}
