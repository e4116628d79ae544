// Package rephrase shortens message drafts to fit a single SMS.
package rephrase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/congregation-messaging/internal/config"
)

const defaultPrompt = "Rephrase the following church announcement as a warm, clear SMS of at most %d characters. " +
	"Keep names, dates, times and places. Reply with the SMS text only."

type Result struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	Original string `json:"original"`
}

const (
	SourceAI        = "ai"
	SourceHeuristic = "heuristic"
)

type Rephraser struct {
	apiKey    string
	baseURL   string
	model     string
	prompt    string
	charLimit int
	client    *http.Client
	logger    *slog.Logger
}

func New(cfg config.AIConfig, logger *slog.Logger) *Rephraser {
	limit := cfg.CharLimit
	if limit <= 0 {
		limit = 160
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf(defaultPrompt, limit)
	}
	return &Rephraser{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		prompt:    prompt,
		charLimit: limit,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

// Rephrase asks the model for a shorter wording and falls back to Shorten
// when the model is unavailable or answers over the limit.
func (r *Rephraser) Rephrase(ctx context.Context, message string) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, fmt.Errorf("message is empty")
	}

	if r.apiKey != "" {
		text, err := r.complete(ctx, message)
		switch {
		case err != nil:
			r.logger.Warn("ai rephrase failed, using heuristic", "err", err)
		case utf8.RuneCountInString(text) > r.charLimit:
			r.logger.Warn("ai rephrase over limit, using heuristic", "length", utf8.RuneCountInString(text), "limit", r.charLimit)
		case text != "":
			return Result{Text: text, Source: SourceAI, Original: message}, nil
		}
	}

	return Result{Text: Shorten(message, r.charLimit), Source: SourceHeuristic, Original: message}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *Rephraser) complete(ctx context.Context, message string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: r.prompt},
			{Role: "user", Content: message},
		},
		Temperature: 0.4,
		MaxTokens:   120,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w status=%d", err, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if cr.Error != nil {
			return "", fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, cr.Error.Message)
		}
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return strings.Trim(strings.TrimSpace(cr.Choices[0].Message.Content), `"`), nil
}

var (
	spaces  = regexp.MustCompile(`\s+`)
	fillers = regexp.MustCompile(`(?i)\b(please note that|kindly note that|we would like to|we wish to|just|really|very)\s+`)
)

// Shorten collapses whitespace, drops filler phrases and truncates on a word
// boundary with an ellipsis when the text is still longer than limit runes.
func Shorten(text string, limit int) string {
	text = strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	text = strings.TrimSpace(spaces.ReplaceAllString(fillers.ReplaceAllString(text, ""), " "))
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	const ellipsis = "..."
	if limit <= len(ellipsis) {
		return string([]rune(text)[:limit])
	}

	cut := []rune(text)[:limit-len(ellipsis)]
	s := string(cut)
	if i := strings.LastIndex(s, " "); i > 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, " ,.;:-") + ellipsis
}
