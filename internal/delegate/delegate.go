// Package delegate answers model_request envelopes on behalf of relay clients.
package delegate

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/metrics"
	"github.com/xiaot623/gogo/relay/internal/models"
	"github.com/xiaot623/gogo/relay/internal/protocol"
)

// DefaultTimeout bounds a model call when neither the server nor the request sets one.
const DefaultTimeout = 60 * time.Second

// MaxTimeout caps a per-request timeout.
const MaxTimeout = time.Hour

// MissingModelError reports a named model that is not configured.
type MissingModelError struct {
	Name string
}

func (e *MissingModelError) Error() string {
	return fmt.Sprintf("server missing model config: %s", e.Name)
}

// InvocationError wraps a failure while resolving or calling the model.
type InvocationError struct {
	Provider string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("remote model call failed: %v", e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// replyText renders err as the error-shaped reply sent to the requester.
func replyText(err error) string {
	return "[ERROR] " + err.Error()
}

// Defaults are the server-level fallbacks for resolution.
type Defaults struct {
	// Model is used when a request names no model and carries no api_cfg.
	Model string
	// Timeout applies unless the request overrides it.
	Timeout time.Duration
}

// Delegate resolves model configuration and calls the model client.
type Delegate struct {
	models   models.Lookup
	client   llm.LLMClient
	defaults Defaults
	logger   zerolog.Logger
}

// New creates a Delegate. lookup may be nil, in which case every named model is missing.
func New(lookup models.Lookup, client llm.LLMClient, defaults Defaults, logger zerolog.Logger) *Delegate {
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}
	return &Delegate{
		models:   lookup,
		client:   client,
		defaults: defaults,
		logger:   logger.With().Str("component", "delegate").Logger(),
	}
}

// Resolve builds the configuration for env.
//
// Inline api_cfg fields override the named model's fields. A named model
// that is not configured fails with *MissingModelError before any merge.
func (d *Delegate) Resolve(ctx context.Context, env *protocol.Envelope) (llm.ResolvedConfig, error) {
	cfg := llm.ResolvedConfig{Timeout: d.defaults.Timeout}

	// An empty api_cfg object counts as absent.
	inline := env.APIConfig
	if inline.IsZero() {
		inline = nil
	}

	name := env.Model
	if name == "" && inline == nil {
		name = d.defaults.Model
	}

	if name != "" {
		named, ok, err := d.lookup(ctx, name)
		if err != nil {
			return cfg, errors.Wrapf(err, "lookup model %s", name)
		}
		if !ok {
			return cfg, &MissingModelError{Name: name}
		}
		cfg.Provider = named.ProviderOrDefault()
		cfg.BaseURL = named.BaseURL
		cfg.APIKey = named.APIKey
		cfg.Model = named.Model
	}

	if inline != nil {
		if inline.Provider != "" {
			cfg.Provider = inline.Provider
		}
		if inline.BaseURL != "" {
			cfg.BaseURL = inline.BaseURL
		}
		if inline.APIKey != "" {
			cfg.APIKey = inline.APIKey
		}
		if inline.Model != "" {
			cfg.Model = inline.Model
		}
		if inline.Timeout > 0 {
			cfg.Timeout = inlineTimeout(inline.Timeout)
		}
	}

	return cfg, nil
}

// inlineTimeout converts a timeout in seconds, capped at MaxTimeout.
func inlineTimeout(seconds float64) time.Duration {
	if seconds >= MaxTimeout.Seconds() {
		return MaxTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}

func (d *Delegate) lookup(ctx context.Context, name string) (models.NamedModel, bool, error) {
	if d.models == nil {
		return models.NamedModel{}, false, nil
	}
	return d.models.GetModel(ctx, name)
}

// ResolveAndCall answers a model request. The returned reply is always
// suitable for a model_reply; err describes the failure path, if any.
func (d *Delegate) ResolveAndCall(ctx context.Context, env *protocol.Envelope) (string, error) {
	cfg, err := d.Resolve(ctx, env)
	if err != nil {
		var missing *MissingModelError
		if errors.As(err, &missing) {
			metrics.ModelRequestsTotal.WithLabelValues("missing_model").Inc()
			return replyText(missing), missing
		}
		metrics.ModelRequestsTotal.WithLabelValues("failed").Inc()
		ierr := &InvocationError{Err: err}
		return replyText(ierr), ierr
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := d.call(callCtx, env, cfg)
	metrics.ModelCallDuration.WithLabelValues(cfg.Provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelRequestsTotal.WithLabelValues("failed").Inc()
		ierr := &InvocationError{Provider: cfg.Provider, Err: err}
		if errors.Is(err, llm.ErrUnsupportedProvider) {
			return "[ERROR] unsupported provider: " + cfg.Provider, ierr
		}
		return replyText(ierr), ierr
	}

	metrics.ModelRequestsTotal.WithLabelValues("ok").Inc()
	d.logger.Debug().
		Str("session_id", env.SessionID).
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Dur("latency", time.Since(start)).
		Msg("model call completed")
	return reply, nil
}

// call invokes the client, turning a panic into an error.
func (d *Delegate) call(ctx context.Context, env *protocol.Envelope, cfg llm.ResolvedConfig) (reply string, err error) {
	if d.client == nil {
		return "", errors.New("no model client configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("model client panic: %v", r)
		}
	}()
	return d.client.SendChat(ctx, env.Text, env.Context, cfg)
}
