// Package correct post-processes transcripts with a chat model.
package correct

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/skquievreux/Speechering/internal/config"
	"github.com/skquievreux/Speechering/internal/transcribe"
)

// MaxInputChars is the longest transcript sent for correction.
const MaxInputChars = 10000

// ErrSkipped is returned when the text is not eligible for correction.
var ErrSkipped = errors.New("correction skipped")

// DefaultPrompt is used when CORRECTION_PROMPT is empty.
const DefaultPrompt = "Du bist ein professioneller Textkorrektor. Korrigiere Grammatik, " +
	"Rechtschreibung und Interpunktion des folgenden transkribierten Textes und behalte den " +
	"originalen Sinn bei. Antworte nur mit dem korrigierten Text, ohne Kommentare."

// Corrector rewrites a transcript. Callers fall back to the input on error.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// OpenAICorrector uses chat completions.
type OpenAICorrector struct {
	Model       string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// Policy bounds each request and decides which failures are retried.
	Policy transcribe.RetryPolicy

	client *openai.Client
	log    zerolog.Logger
}

// NewOpenAICorrector builds a corrector sharing the remote credentials.
func NewOpenAICorrector(cfg config.Config, httpClient *http.Client, log zerolog.Logger) *OpenAICorrector {
	oc := openai.DefaultConfig(cfg.Token)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	prompt := cfg.CorrectionPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return &OpenAICorrector{
		Model:       cfg.CorrectionModel,
		Prompt:      prompt,
		Temperature: 0.3,
		MaxTokens:   1000,
		Policy:      transcribe.RetryPolicyFrom(cfg),
		client:      openai.NewClientWithConfig(oc),
		log:         log,
	}
}

// Correct returns the corrected text.
func (c *OpenAICorrector) Correct(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty input", ErrSkipped)
	}
	if n := utf8.RuneCountInString(text); n > MaxInputChars {
		return "", fmt.Errorf("%w: input too long (%d chars)", ErrSkipped, n)
	}

	start := time.Now()
	var out string
	err := c.Policy.Run(ctx, c.log, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: c.Prompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
		})
		if err != nil {
			c.log.Debug().Err(err).Msg("correction attempt failed")
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("correction returned no choices")
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("correction: %w", err)
	}

	out = TrimQuotes(out)
	if out == "" {
		return "", errors.New("correction returned empty text")
	}
	c.log.Debug().Dur("took", time.Since(start)).Int("in", len(text)).Int("out", len(out)).Msg("text corrected")
	return out, nil
}

// TrimQuotes removes surrounding whitespace and a leading and/or trailing quote.
func TrimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, "„", "“", "”"} {
		if strings.HasPrefix(s, q) {
			s = strings.TrimSpace(strings.TrimPrefix(s, q))
			break
		}
	}
	for _, q := range []string{`"`, "“", "”"} {
		if strings.HasSuffix(s, q) {
			s = strings.TrimSpace(strings.TrimSuffix(s, q))
			break
		}
	}
	return s
}
