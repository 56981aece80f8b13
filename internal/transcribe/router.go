package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Strategy decides which backends to try and in what order.
type Strategy interface {
	Order(req Request) []string
}

// PreferredFirst tries req.Preferred and, if Fallback is set, the other backend.
type PreferredFirst struct {
	Fallback bool
}

func (s PreferredFirst) Order(req Request) []string {
	first := req.Preferred
	if first != Local && first != Remote {
		first = Remote
	}
	order := []string{first}
	if s.Fallback {
		if first == Local {
			order = append(order, Remote)
		} else {
			order = append(order, Local)
		}
	}
	return order
}

type routeState int

const (
	routeStart routeState = iota
	routeTryPreferred
	routeFallBack
	routeTryFallback
	routeSuccess
	routeFail
	routeDone
)

func (s routeState) String() string {
	return [...]string{"start", "try-preferred", "fall-back", "try-fallback", "success", "fail", "done"}[s]
}

// Router dispatches a request over the backends chosen by its Strategy.
type Router struct {
	backends map[string]Backend
	strategy Strategy
	log      zerolog.Logger
	tracer   trace.Tracer
}

// NewRouter registers backends by Name. A later backend with the same name replaces an earlier one.
func NewRouter(strategy Strategy, log zerolog.Logger, backends ...Backend) *Router {
	r := &Router{
		backends: make(map[string]Backend, len(backends)),
		strategy: strategy,
		log:      log,
		tracer:   otel.Tracer("github.com/skquievreux/Speechering/internal/transcribe"),
	}
	for _, b := range backends {
		if b != nil {
			r.backends[b.Name()] = b
		}
	}
	return r
}

// Transcribe runs Start -> TryPreferred -> {Success | FallBack -> TryFallback -> {Success | Fail}} -> Done.
func (r *Router) Transcribe(ctx context.Context, req Request) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "transcribe.route",
		trace.WithAttributes(attribute.String("preferred", req.Preferred), attribute.Int64("duration_ms", req.Duration.Milliseconds())))
	defer span.End()

	order := r.strategy.Order(req)
	var (
		state = routeStart
		next  int
		res   Result
		ok    bool
		errs  []error
	)
	for state != routeDone {
		r.log.Trace().Stringer("state", state).Msg("route")
		switch state {
		case routeStart:
			if len(order) == 0 {
				errs = append(errs, errors.New("no backend configured"))
				state = routeFail
				break
			}
			state = routeTryPreferred
		case routeTryPreferred, routeTryFallback:
			name := order[next]
			next++
			var err error
			res, err = r.attempt(ctx, name, req)
			switch {
			case err == nil:
				state = routeSuccess
			case ctx.Err() != nil:
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				state = routeFail
			default:
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				state = routeFallBack
			}
		case routeFallBack:
			if next >= len(order) {
				state = routeFail
				break
			}
			r.log.Warn().Err(errs[len(errs)-1]).Str("next", order[next]).Msg("backend failed; falling back")
			state = routeTryFallback
		case routeSuccess:
			span.SetAttributes(attribute.String("backend", res.Backend), attribute.Bool("no_speech", res.NoSpeech))
			ok = true
			state = routeDone
		case routeFail:
			state = routeDone
		}
	}

	if !ok {
		err := fmt.Errorf("%w: %w", ErrTranscriptionFailure, errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "all backends failed")
		return Result{}, err
	}
	return res, nil
}

func (r *Router) attempt(ctx context.Context, name string, req Request) (Result, error) {
	b, ok := r.backends[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: not configured", ErrBackendUnavailable)
	}
	if !b.Available(ctx) {
		r.log.Info().Str("backend", name).Msg("backend unavailable; skipping")
		return Result{}, ErrBackendUnavailable
	}
	ctx, span := r.tracer.Start(ctx, "transcribe."+name)
	defer span.End()

	res, err := b.Transcribe(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn().Err(err).Str("backend", name).Msg("transcription attempt failed")
		return Result{}, err
	}
	if res.Backend == "" {
		res.Backend = name
	}
	r.log.Info().Str("backend", name).Bool("no_speech", res.NoSpeech).Int("chars", len(res.Text)).Msg("transcribed")
	return res, nil
}
