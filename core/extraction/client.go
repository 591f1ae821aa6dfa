package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/forksight/forksight/core/ratelimit"
	"github.com/forksight/forksight/model"
)

// ClientConfig holds the construction-time configuration of the
// extraction client. APIKey and Model are required and validated at
// construction, not at call time.
type ClientConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, used by tests
	BaseURL string
	// Rate limit scope of the extraction call
	Service   string
	Operation string
	// Per-call network timeout
	TimeoutSeconds int
	Retry          model.RetryConfig
}

// DefaultClientConfig returns the default client configuration; APIKey
// must still be provided by the caller.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Model:          openai.GPT4oMini,
		Service:        "openai",
		Operation:      "extract",
		TimeoutSeconds: 30,
		Retry:          model.DefaultRetryConfig(),
	}
}

// Client issues extraction calls to the model API, gated through the
// rate limit coordinator, and parses the structured responses into
// mentions.
type Client struct {
	api         *openai.Client
	config      ClientConfig
	coordinator *ratelimit.Coordinator
	retryHints  *retryAfterTransport
	logger      *slog.Logger
}

// retryAfterTransport captures the Retry-After header of 429 responses
// so error classification can carry the upstream's backoff hint. The
// API error surfaced by the client library does not expose headers.
type retryAfterTransport struct {
	base http.RoundTripper

	mu   sync.Mutex
	hint time.Duration
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		t.mu.Lock()
		t.hint = parseRetryAfter(resp.Header.Get("Retry-After"))
		t.mu.Unlock()
	}
	return resp, err
}

// takeHint returns and clears the last captured hint
func (t *retryAfterTransport) takeHint() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	hint := t.hint
	t.hint = 0
	return hint
}

// parseRetryAfter handles both the delta-seconds and HTTP-date forms of
// the header. Zero means no usable hint.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return 0
}

// NewClient creates an extraction client. Missing required
// configuration fails fast here with a configuration error.
func NewClient(config ClientConfig, coordinator *ratelimit.Coordinator, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, model.NewPipelineError(model.ErrorKindConfiguration, "missing API key", nil)
	}
	if config.Model == "" {
		return nil, model.NewPipelineError(model.ErrorKindConfiguration, "missing model name", nil)
	}
	if coordinator == nil {
		return nil, model.NewPipelineError(model.ErrorKindConfiguration, "missing rate limit coordinator", nil)
	}
	if logger == nil {
		return nil, model.NewPipelineError(model.ErrorKindConfiguration, "missing logger", nil)
	}
	if config.Service == "" {
		config.Service = "openai"
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 30
	}

	apiConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		apiConfig.BaseURL = config.BaseURL
	}
	retryHints := &retryAfterTransport{base: http.DefaultTransport}
	apiConfig.HTTPClient = &http.Client{Transport: retryHints}

	return &Client{
		api:         openai.NewClientWithConfig(apiConfig),
		config:      config,
		coordinator: coordinator,
		retryHints:  retryHints,
		logger:      logger,
	}, nil
}

// ProcessContent extracts mentions from a batch of content items with
// one model call. The rate limit coordinator is consulted first; a
// denial short-circuits without touching the network.
func (c *Client) ProcessContent(ctx context.Context, items []*model.MergedContentItem) ([]*model.Mention, error) {
	if len(items) == 0 {
		return nil, nil
	}

	decision := c.coordinator.RequestPermission(c.config.Service, c.config.Operation, "")
	if !decision.Allowed {
		return nil, &model.PipelineError{
			Kind:       model.ErrorKindRateLimit,
			Message:    fmt.Sprintf("local rate limit reached for %s", c.config.Service),
			RetryAfter: decision.RetryAfter,
		}
	}

	userPrompt, err := buildUserPrompt(items)
	if err != nil {
		return nil, model.NewPipelineError(model.ErrorKindValidation, "building extraction prompt", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.TimeoutSeconds)*time.Second)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "restaurant_mentions",
				Schema: &mentionsSchema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, c.classifyError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &model.PipelineError{
			Kind:    model.ErrorKindResponseParsing,
			Message: "extraction response has no candidate with text content",
		}
	}

	mentions, err := ParseMentions(resp.Choices[0].Message.Content, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Extraction finished",
		slog.Int("items", len(items)), slog.Int("mentions", len(mentions)))

	return mentions, nil
}

// ProcessContentWithRetry wraps ProcessContent with exponential backoff
// for retryable failures. Authentication and parsing failures are never
// retried.
func (c *Client) ProcessContentWithRetry(ctx context.Context, items []*model.MergedContentItem) ([]*model.Mention, error) {
	var lastErr error

	for attempt := 0; attempt < c.config.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.config.Retry, attempt, lastErr)
			c.logger.Warn("retrying extraction",
				slog.Int("attempt", attempt+1), slog.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		mentions, err := c.ProcessContent(ctx, items)
		if err == nil {
			return mentions, nil
		}
		if !model.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// backoffDelay computes delay = base x factor^(attempt-1), raised to a
// reported RetryAfter hint when one is larger.
func backoffDelay(retry model.RetryConfig, attempt int, lastErr error) time.Duration {
	delay := time.Duration(retry.BaseDelayMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * retry.BackoffFactor)
	}

	var pipelineErr *model.PipelineError
	if errors.As(lastErr, &pipelineErr) && pipelineErr.RetryAfter > delay {
		delay = pipelineErr.RetryAfter
	}

	return delay
}

// classifyError maps a transport or API failure onto the error
// taxonomy. Rate limit hits are always reported to the coordinator so
// subsequent local calls are denied until the window resets.
func (c *Client) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return &model.PipelineError{
				Kind:       model.ErrorKindAuthentication,
				Message:    "extraction API rejected credentials",
				StatusCode: apiErr.HTTPStatusCode,
				Err:        err,
			}
		case 429:
			// Honor the upstream's Retry-After when one was sent
			retryAfter := c.retryHints.takeHint()
			if retryAfter <= 0 {
				retryAfter = 60 * time.Second
			}
			c.coordinator.ReportRateLimitHit(c.config.Service, c.config.Operation, int(retryAfter.Seconds()))
			return &model.PipelineError{
				Kind:       model.ErrorKindRateLimit,
				Message:    "extraction API rate limit hit",
				StatusCode: apiErr.HTTPStatusCode,
				RetryAfter: retryAfter,
				Err:        err,
			}
		default:
			return &model.PipelineError{
				Kind:       model.ErrorKindAPI,
				Message:    "extraction API call failed",
				StatusCode: apiErr.HTTPStatusCode,
				RawPayload: apiErr.Message,
				Err:        err,
			}
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return &model.PipelineError{
			Kind:    model.ErrorKindNetwork,
			Message: "extraction API unreachable",
			Err:     err,
		}
	}

	return model.NewPipelineError(model.ErrorKindAPI, "extraction call failed", err)
}
