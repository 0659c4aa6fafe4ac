// Package completion sends system/user prompt pairs to an OpenAI-compatible
// chat completions service. Calls never fail from the caller's point of view:
// every outcome is a Result, and callers choose whether to show the generated
// text or the Fallback string.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"VirtualDoctor/internal/cache"
)

// Fallback is shown to users whenever a completion could not be generated.
const Fallback = "I'm sorry, I couldn't generate a response at this time."

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 30 * time.Second

const instrumentationName = "VirtualDoctor/internal/completion"

// Reason classifies why a completion produced no text.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTransport
	ReasonTimeout
	ReasonCanceled
	ReasonRateLimited
	ReasonService
	ReasonEmpty
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonTransport:
		return "transport"
	case ReasonTimeout:
		return "timeout"
	case ReasonCanceled:
		return "canceled"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonService:
		return "service"
	case ReasonEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Result is either generated text (Reason == ReasonNone) or a failure reason
// with the underlying error.
type Result struct {
	Text   string
	Reason Reason
	Err    error
	Cached bool
}

// OK reports whether the completion produced text.
func (r Result) OK() bool {
	return r.Reason == ReasonNone
}

// TextOr returns the generated text, or fallback when the call failed.
func (r Result) TextOr(fallback string) string {
	if !r.OK() {
		return fallback
	}
	return r.Text
}

// ChatAPI is the subset of *openai.Client the Client depends on.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client calls a fixed model with a system role and user prompt.
type Client struct {
	api     ChatAPI
	model   string
	timeout time.Duration
	cache   *cache.Cache
	logger  *slog.Logger
	tracer  trace.Tracer

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCache serves repeated prompts from c until they expire.
func WithCache(rc *cache.Cache) Option {
	return func(c *Client) {
		c.cache = rc
	}
}

// WithLogger sets the operator-facing logger failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the tracer used for completion spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMeter registers request and latency instruments on m.
func WithMeter(m metric.Meter) Option {
	return func(c *Client) {
		if m != nil {
			c.instrument(m)
		}
	}
}

// NewClient returns a Client sending every request to model through api.
func NewClient(api ChatAPI, model string, opts ...Option) *Client {
	c := &Client{
		api:     api,
		model:   model,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
	}
	c.instrument(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) instrument(m metric.Meter) {
	requests, err := m.Int64Counter(
		"completion.requests",
		metric.WithDescription("Completion calls by outcome"),
	)
	if err != nil {
		c.logger.Warn("failed to create counter", "name", "completion.requests", "error", err)
	} else {
		c.requests = requests
	}

	duration, err := m.Float64Histogram(
		"completion.duration",
		metric.WithDescription("Completion call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		c.logger.Warn("failed to create histogram", "name", "completion.duration", "error", err)
	} else {
		c.duration = duration
	}
}

// Model returns the model identifier requests are sent with.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the prompt pair and classifies the outcome.
func (c *Client) Complete(ctx context.Context, systemRole, userPrompt string) Result {
	ctx, span := c.tracer.Start(ctx, "completion.call",
		trace.WithAttributes(attribute.String("llm.model", c.model)),
	)
	defer span.End()

	var key string
	if c.cache != nil {
		key = cache.GenerateCacheKey(systemRole, userPrompt)
		if text, ok := c.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool("completion.cached", true))
			c.logger.Debug("completion cache hit", "key", key[:16])
			c.record(ctx, ReasonNone, 0)
			return Result{Text: text, Cached: true}
		}
	}

	start := time.Now()
	res := c.call(ctx, systemRole, userPrompt)
	elapsed := time.Since(start)
	c.record(ctx, res.Reason, elapsed)

	span.SetAttributes(attribute.String("completion.outcome", res.Reason.String()))
	if !res.OK() {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Reason.String())
		c.logger.Error("completion failed",
			"model", c.model,
			"reason", res.Reason.String(),
			"duration_ms", elapsed.Milliseconds(),
			"error", res.Err,
		)
		return res
	}

	c.logger.Info("completion succeeded",
		"model", c.model,
		"duration_ms", elapsed.Milliseconds(),
		"chars", len(res.Text),
	)
	if c.cache != nil {
		c.cache.Put(key, res.Text)
	}
	return res
}

// CompleteText returns the generated text, or Fallback on any failure.
func (c *Client) CompleteText(ctx context.Context, systemRole, userPrompt string) string {
	return c.Complete(ctx, systemRole, userPrompt).TextOr(Fallback)
}

func (c *Client) call(ctx context.Context, systemRole, userPrompt string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Reason: ReasonTransport, Err: panicError{value: p}}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemRole},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return Result{Reason: Classify(err), Err: err}
	}

	if len(resp.Choices) == 0 {
		return Result{Reason: ReasonEmpty, Err: errors.New("completion service returned no choices")}
	}

	return Result{Text: resp.Choices[0].Message.Content}
}

func (c *Client) record(ctx context.Context, reason Reason, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", reason.String()))
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.duration != nil && elapsed > 0 {
		c.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}

// Classify maps an error returned by the completion service to a Reason.
func Classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return ReasonRateLimited
		}
		return ReasonService
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return ReasonRateLimited
		}
		return ReasonService
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ReasonTimeout
	}

	return ReasonTransport
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("completion call panicked: %v", e.value)
}
