package transcribe

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/config"
	"github.com/skquievreux/Speechering/internal/jsonpath"
)

// HTTPBackend uploads audio as multipart form data to a generic endpoint.
type HTTPBackend struct {
	Endpoint string
	Token    string
	Model    string
	Prompt   string
	TextPath string
	Policy   RetryPolicy

	extra  map[string]any
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPBackend creates the backend and parses EXTRA_CONFIG.
func NewHTTPBackend(cfg config.Config, client *http.Client, log zerolog.Logger) (*HTTPBackend, error) {
	b := &HTTPBackend{
		Endpoint: cfg.APIEndpoint,
		Token:    cfg.Token,
		Model:    cfg.Model,
		Prompt:   cfg.Prompt,
		TextPath: cfg.TEXTPath,
		Policy:   RetryPolicyFrom(cfg),
		client:   client,
		log:      log,
	}
	if cfg.ExtraConfig != "" {
		if err := json.Unmarshal([]byte(cfg.ExtraConfig), &b.extra); err != nil {
			return nil, fmt.Errorf("invalid extra-config JSON: %w", err)
		}
	}
	if b.client == nil {
		b.client = &http.Client{}
	}
	return b, nil
}

func (b *HTTPBackend) Name() string { return Remote }

func (b *HTTPBackend) Available(context.Context) bool { return b.Endpoint != "" }

// Transcribe uploads the remote payload with retries.
func (b *HTTPBackend) Transcribe(ctx context.Context, req Request) (Result, error) {
	if b.Endpoint == "" {
		return Result{}, fmt.Errorf("%w: API endpoint is empty", ErrBackendUnavailable)
	}
	p := req.RemotePayload()
	if err := ValidatePayload(p, b.log); err != nil {
		return Result{}, err
	}
	data, err := p.Bytes()
	if err != nil {
		return Result{}, err
	}

	var body []byte
	err = b.Policy.Run(ctx, b.log, func(ctx context.Context) error {
		res, err := b.upload(ctx, p.filename(), data, req.Language)
		if err != nil {
			b.log.Debug().Err(err).Msg("upload attempt failed")
			return err
		}
		body = res
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	text, err := jsonpath.ExtractText(body, b.TextPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", err, formatResponse(body))
	}
	return finish(Remote, text, body), nil
}

func (b *HTTPBackend) upload(ctx context.Context, name string, data []byte, language string) ([]byte, error) {
	b.log.Debug().Str("file", name).Str("endpoint", b.Endpoint).Int("bytes", len(data)).Msg("uploading")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	for k, v := range b.fields(language) {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if b.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.Token)
	}
	req.Header.Set("User-Agent", "speechering/1.0")

	start := time.Now()
	resp, err := b.client.Do(req)
	b.log.Debug().Dur("elapsed", time.Since(start)).Msg("request finished")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: formatResponse(respBody)}
	}
	return respBody, nil
}

// fields merges model, language and prompt with EXTRA_CONFIG; extra keys win.
func (b *HTTPBackend) fields(language string) map[string]string {
	base := make(map[string]any)
	if b.Model != "" {
		base["model"] = b.Model
	}
	if language != "" {
		base["language"] = language
	}
	if b.Prompt != "" {
		base["prompt"] = b.Prompt
	}
	for k, v := range b.extra {
		base[k] = v
	}
	out := make(map[string]string, len(base))
	for k, v := range base {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool, float64:
			out[k] = fmt.Sprintf("%v", val)
		default:
			if js, err := json.Marshal(val); err == nil {
				out[k] = string(js)
			} else {
				out[k] = fmt.Sprintf("%v", val)
			}
		}
	}
	return out
}

func formatResponse(b []byte) string {
	if len(b) == 0 {
		return "<empty>"
	}
	const maxText = 1000
	const maxBin = 256

	if utf8.Valid(b) {
		s := string(b)
		if len(s) > maxText {
			return fmt.Sprintf("%s... (truncated, total %d bytes)", s[:maxText], len(b))
		}
		return s
	}
	if len(b) > maxBin {
		return fmt.Sprintf("<binary %d bytes, prefix hex: %s...>", len(b), hex.EncodeToString(b[:maxBin]))
	}
	return fmt.Sprintf("<binary %d bytes, hex: %s>", len(b), hex.EncodeToString(b))
}
