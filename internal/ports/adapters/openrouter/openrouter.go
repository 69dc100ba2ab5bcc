package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/forPelevin/clipscout/internal/types"
)

const (
	defaultModel      = "google/gemini-2.0-flash-001"
	defaultEmbedModel = "openai/text-embedding-3-small"
	defaultTimeout    = 90 * time.Second
)

// ErrEmptyResponse is returned when the backend answers without usable content.
var ErrEmptyResponse = errors.New("openrouter: empty response")

type Adapter struct {
	key        string
	model      string
	embedModel string
	baseURL    string
	timeout    time.Duration
	client     *http.Client
}

type Options struct {
	APIKey     string
	Model      string
	EmbedModel string
	BaseURL    string
	// Timeout bounds a single request; zero uses 90s.
	Timeout time.Duration
}

func New(opts Options) *Adapter {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = defaultEmbedModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Adapter{
		key:        opts.APIKey,
		model:      opts.Model,
		embedModel: opts.EmbedModel,
		baseURL:    normalizeBaseURL(opts.BaseURL),
		timeout:    opts.Timeout,
		client:     &http.Client{Timeout: 5 * time.Minute},
	}
}

// EmbedModel names the model vectors come from; caches key on it.
func (a *Adapter) EmbedModel() string { return a.embedModel }

// AnalyzeVisual asks the model for highlight clips over the sampled frames.
// Unlike text refinement there is no heuristic fallback: without a parseable
// clip list the caller has nothing to show.
func (a *Adapter) AnalyzeVisual(ctx context.Context, frames []types.Frame, duration float64) ([]types.RawClip, error) {
	if len(frames) == 0 {
		return nil, errors.New("openrouter: no frames to analyze")
	}

	content := make([]map[string]any, 0, 2*len(frames)+1)
	content = append(content, map[string]any{"type": "text", "text": buildVisualPrompt(duration, len(frames))})
	for _, f := range frames {
		content = append(content,
			map[string]any{"type": "text", "text": fmt.Sprintf("Frame at %.2fs:", f.Timestamp)},
			map[string]any{"type": "image_url", "image_url": map[string]any{
				"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.Image),
			}},
		)
	}

	payload := map[string]any{
		"model":  a.model,
		"stream": false,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "clipscout_visual",
				"schema": clipsSchema(),
			},
		},
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := a.postJSON(ctx, "/api/v1/chat/completions", a.model, payload, &raw); err != nil {
		return nil, err
	}
	if len(raw.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	text, err := messageContentToString(raw.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	clean, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var out struct {
		Clips []types.RawClip `json:"clips"`
	}
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("openrouter: decode clips: %w", err)
	}
	return out.Clips, nil
}

// Embed returns the embedding vector for text.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openrouter: empty embedding input")
	}
	payload := map[string]any{
		"model": a.embedModel,
		"input": text,
	}
	var raw struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := a.postJSON(ctx, "/api/v1/embeddings", a.embedModel, payload, &raw); err != nil {
		return nil, err
	}
	if len(raw.Data) == 0 || len(raw.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	return raw.Data[0].Embedding, nil
}

func (a *Adapter) postJSON(ctx context.Context, path, model string, payload any, dst any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("openrouter timeout after %s (model=%s)", a.timeout, model)
		}
		return fmt.Errorf("openrouter request: %s", redactSecrets(err.Error(), a.key))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("openrouter status %d and read body failed: %v", resp.StatusCode, readErr)
		}
		return fmt.Errorf("openrouter status %d: %s", resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("openrouter: decode response: %w", err)
	}
	return nil
}

func buildVisualPrompt(duration float64, frames int) string {
	return fmt.Sprintf(
		"You are given %d frames sampled from a %.1f second video, each labelled with its timestamp. "+
			"Identify the most engaging highlight clips. "+
			"Return strictly valid JSON (no markdown, no code fences) matching the provided schema. "+
			"start_sec and end_sec are seconds within [0, %.1f] with start_sec < end_sec. "+
			"virality_score is an integer 0-100. "+
			"transcript_stub is your best guess of what is said during the clip. "+
			"List clips in chronological order.",
		frames, duration, duration,
	)
}

func clipsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"clips": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"start_sec":       map[string]any{"type": "number"},
						"end_sec":         map[string]any{"type": "number"},
						"title":           map[string]any{"type": "string"},
						"summary":         map[string]any{"type": "string"},
						"virality_score":  map[string]any{"type": "integer"},
						"reasoning":       map[string]any{"type": "string"},
						"tags":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"transcript_stub": map[string]any{"type": "string"},
					},
					"required": []string{"start_sec", "end_sec", "title", "summary", "virality_score", "reasoning", "tags", "transcript_stub"},
				},
			},
		},
		"required": []string{"clips"},
	}
}

func messageContentToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []any:
		// Some providers return an array of {type,text} parts.
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		s := b.String()
		if strings.TrimSpace(s) == "" {
			return "", ErrEmptyResponse
		}
		return s, nil
	default:
		return "", fmt.Errorf("openrouter: unexpected content type %T", v)
	}
}

func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", ErrEmptyResponse
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("openrouter: could not locate JSON object in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
