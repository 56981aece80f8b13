package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/skquievreux/Speechering/internal/config"
)

// OpenAIBackend calls the OpenAI-compatible transcription API.
type OpenAIBackend struct {
	Model  string
	Prompt string
	Policy RetryPolicy

	client  *openai.Client
	hasAuth bool
	log     zerolog.Logger
}

// NewOpenAIBackend builds a client from the config. httpClient may be nil.
func NewOpenAIBackend(cfg config.Config, httpClient *http.Client, log zerolog.Logger) *OpenAIBackend {
	oc := openai.DefaultConfig(cfg.Token)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{
		Model:   model,
		Prompt:  cfg.Prompt,
		Policy:  RetryPolicyFrom(cfg),
		client:  openai.NewClientWithConfig(oc),
		hasAuth: cfg.Token != "" || cfg.OpenAIBaseURL != "",
		log:     log,
	}
}

func (b *OpenAIBackend) Name() string { return Remote }

// Available reports whether a token (or a self-hosted base URL) is configured.
func (b *OpenAIBackend) Available(context.Context) bool { return b.hasAuth }

func (b *OpenAIBackend) Transcribe(ctx context.Context, req Request) (Result, error) {
	if !b.hasAuth {
		return Result{}, fmt.Errorf("%w: no API token", ErrBackendUnavailable)
	}
	p := req.RemotePayload()
	if err := ValidatePayload(p, b.log); err != nil {
		return Result{}, err
	}
	data, err := p.Bytes()
	if err != nil {
		return Result{}, err
	}

	var text string
	err = b.Policy.Run(ctx, b.log, func(ctx context.Context) error {
		resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    b.Model,
			FilePath: p.filename(),
			Reader:   bytes.NewReader(data),
			Language: req.Language,
			Prompt:   b.Prompt,
			Format:   openai.AudioResponseFormatJSON,
		})
		if err != nil {
			b.log.Debug().Err(err).Msg("transcription attempt failed")
			return err
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return finish(Remote, text, nil), nil
}
