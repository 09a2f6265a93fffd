package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

const systemPrompt = `You help the administrator of ARDU, a community feed, review posts before they are published.
Rate each post from 0 (must be rejected: spam, abuse, personal data, off-topic advertising)
to 10 (clearly fine to publish). Answer with JSON only: {"score": <0-10>, "reason": "<one short sentence>"}.`

const postTemplate = `Author: %s
Has media: %t
Post:
%s`

var errBudgetExhausted = errors.New("model budget exhausted")

// generateFunc sends one prompt to one model and returns the reply text.
type generateFunc func(ctx context.Context, model, prompt string) (string, error)

// GeminiReviewer scores pending posts. Its output is advisory; the admin decides.
type GeminiReviewer struct {
	Client *genai.Client

	models   []model
	quota    *quota
	generate generateFunc
}

func NewGeminiReviewer(ctx context.Context, apiKey string) (*GeminiReviewer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	r := &GeminiReviewer{
		Client: client,
		models: defaultModels,
		quota:  newQuota(),
	}
	r.generate = r.callGemini
	return r, nil
}

var _ ports.Reviewer = (*GeminiReviewer)(nil)

func (r *GeminiReviewer) EvaluatePost(ctx context.Context, post domain.Post) (int, string, error) {
	prompt := fmt.Sprintf(postTemplate, post.Author.Name, post.MediaURL != "", post.Content)
	raw, err := r.ask(ctx, prompt)
	if err != nil {
		return 0, "", err
	}
	return parseVerdict(raw)
}

// ask walks the model list in order, skipping models over budget and
// falling through on quota or unknown-model errors.
func (r *GeminiReviewer) ask(ctx context.Context, prompt string) (string, error) {
	lastErr := errBudgetExhausted
	for _, m := range r.models {
		if !r.quota.allow(m) {
			continue
		}
		text, err := r.generate(ctx, m.Name, prompt)
		if err != nil {
			if retryable(err) {
				slog.Debug("gemini model unavailable, trying next", "model", m.Name, "error", err)
				lastErr = err
				continue
			}
			return "", err
		}
		if text == "" {
			continue
		}
		r.quota.record(m)
		return text, nil
	}
	return "", fmt.Errorf("all models failed: %w", lastErr)
}

func (r *GeminiReviewer) callGemini(ctx context.Context, model, prompt string) (string, error) {
	result, err := r.Client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", nil
	}
	return result.Text(), nil
}

func retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "rate limit", "exhausted", "404", "not found"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// parseVerdict pulls the JSON verdict out of a model reply that may be
// wrapped in a code fence or surrounded by prose.
func parseVerdict(raw string) (int, string, error) {
	cleaned := stripFence(raw)
	if start := strings.Index(cleaned, "{"); start != -1 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}
	var v struct {
		Score  int    `json:"score"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return 0, "", fmt.Errorf("unreadable verdict %q: %w", raw, err)
	}
	return min(max(v.Score, 0), 10), strings.TrimSpace(v.Reason), nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
