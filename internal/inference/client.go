package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"Pikol/internal/backend"
	"Pikol/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const truncationMarker = "..."

// Client talks to a local Ollama server. Apart from the last version reported
// by the health probe it carries configuration only; every call is independent.
type Client struct {
	cfg        config.Ollama
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram

	mu            sync.Mutex
	serverVersion string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTelemetry sets the tracer and meter used for spans and request durations.
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(c *Client) {
		c.tracer = tracer
		c.duration = newDurationHistogram(meter)
	}
}

// New creates a Client for cfg.
func New(cfg config.Ollama, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		baseURL:    cfg.BaseURL(),
		httpClient: &http.Client{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("Pikol/inference"),
		duration:   newDurationHistogram(otel.Meter("Pikol/inference")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "inference")
	return c
}

func newDurationHistogram(meter metric.Meter) metric.Float64Histogram {
	h, err := meter.Float64Histogram(
		"pikol.ollama.request.duration",
		metric.WithDescription("Ollama request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil
	}
	return h
}

// CheckHealth reports whether the version endpoint answers 200 within the
// health timeout. It never returns an error; every failure is false.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "ollama.health")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		c.logger.Warn("failed to create health request", "error", err)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(ctx, "health", start, "unreachable")
		c.logger.Debug("health check failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if !ok {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.record(ctx, "health", start, "status")
		return false
	}
	c.record(ctx, "health", start, "ok")

	// the status code alone decides health; the body only feeds the version
	var version backend.VersionResponse
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil || version.Version == "" {
		c.logger.Debug("health response carried no version", "error", err)
		return true
	}
	span.SetAttributes(attribute.String("ollama.version", version.Version))
	c.setServerVersion(version.Version)
	return true
}

// ServerVersion returns the version reported by the last successful health
// probe, or "" before one has succeeded.
func (c *Client) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

func (c *Client) setServerVersion(v string) {
	c.mu.Lock()
	prev := c.serverVersion
	c.serverVersion = v
	c.mu.Unlock()

	if prev != v {
		c.logger.Info("ollama server version", "version", v, "previous", prev, "model", c.cfg.Model)
	}
}

// Chat posts the full history and returns the trimmed reply, truncated to the
// configured character budget. Failures are *Error values.
func (c *Client) Chat(ctx context.Context, messages []backend.ChatMessage) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ollama.chat", trace.WithAttributes(
		attribute.String("ollama.model", c.cfg.Model),
		attribute.Int("ollama.messages", len(messages)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChatTimeout)
	defer cancel()

	reqBody := backend.ChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options: backend.ChatOptions{
			Temperature: c.cfg.Temperature,
			NumPredict:  c.cfg.NumPredict,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", c.fail(span, &Error{Kind: KindUpstream, Err: fmt.Errorf("failed to marshal request: %w", err)})
	}

	start := time.Now()
	body, status, err := c.do(ctx, http.MethodPost, "/api/chat", jsonData)
	if err != nil {
		ie := classifyTransport(err)
		c.record(ctx, "chat", start, ie.Kind.String())
		return "", c.fail(span, ie)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if status < 200 || status > 299 {
		ie := c.classifyStatus(status, body)
		c.record(ctx, "chat", start, ie.Kind.String())
		return "", c.fail(span, ie)
	}

	var apiResp backend.ChatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		c.record(ctx, "chat", start, KindUpstream.String())
		return "", c.fail(span, &Error{Kind: KindUpstream, StatusCode: status, Err: fmt.Errorf("failed to unmarshal response: %w", err)})
	}
	c.record(ctx, "chat", start, "ok")

	return Truncate(strings.TrimSpace(apiResp.Message.Content), c.cfg.MaxResponseLength), nil
}

// ListModels returns the models the server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]backend.Model, error) {
	ctx, span := c.tracer.Start(ctx, "ollama.tags")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	body, status, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		ie := classifyTransport(err)
		c.record(ctx, "tags", start, ie.Kind.String())
		return nil, c.fail(span, ie)
	}
	if status != http.StatusOK {
		c.record(ctx, "tags", start, KindUpstream.String())
		return nil, c.fail(span, &Error{Kind: KindUpstream, StatusCode: status, Err: fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))})
	}

	var tagsResp backend.TagsResponse
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, c.fail(span, &Error{Kind: KindUpstream, StatusCode: status, Err: fmt.Errorf("failed to unmarshal response: %w", err)})
	}
	c.record(ctx, "tags", start, "ok")
	return tagsResp.Models, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) classifyStatus(status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	var errResp backend.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	if status == http.StatusNotFound && modelMissing(msg, c.cfg.Model) {
		return &Error{Kind: KindModelNotFound, StatusCode: status, Err: fmt.Errorf("model %q is not loaded: %s", c.cfg.Model, msg)}
	}
	return &Error{Kind: KindUpstream, StatusCode: status, Err: fmt.Errorf("API error: %s", msg)}
}

func (c *Client) fail(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Kind.String())
	c.logger.Warn("ollama call failed", "kind", err.Kind.String(), "status", err.StatusCode, "error", err.Err)
	return err
}

func (c *Client) record(ctx context.Context, endpoint string, start time.Time, outcome string) {
	if c.duration == nil {
		return
	}
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("outcome", outcome),
		),
	)
}

// classifyTransport maps a failure that produced no usable response.
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUpstream, Err: err}
	}
	return &Error{Kind: KindServiceUnavailable, Err: err}
}

// modelMissing reports whether a 404 body says the configured model is absent.
// Ollama answers `model "<name>" not found, try pulling it first`; a body that
// names a different model does not count.
func modelMissing(msg, model string) bool {
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "not found") {
		return false
	}
	if model != "" && strings.Contains(msg, model) {
		return true
	}
	named, ok := quotedModel(msg)
	return ok && sameModel(named, model)
}

// sameModel compares identifiers ignoring case and the implicit ":latest" tag.
func sameModel(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if !strings.Contains(s, ":") {
			s += ":latest"
		}
		return s
	}
	return norm(a) == norm(b)
}

// quotedModel extracts <name> from a body of the form `model "<name>" not found`.
func quotedModel(msg string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(msg), "model ")
	if !ok {
		return "", false
	}
	unquoted, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(strings.TrimSpace(rest[len(unquoted):]), "not found") {
		return "", false
	}
	name, err := strconv.Unquote(unquoted)
	if err != nil {
		return "", false
	}
	return name, true
}

// Truncate clips s to limit runes and appends "..." when anything was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncationMarker
}
