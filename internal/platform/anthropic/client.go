package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yungbote/featurepulse-backend/internal/observability"
	"github.com/yungbote/featurepulse-backend/internal/pkg/envutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/httpx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

const providerName = "anthropic"

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
}

func ConfigFromEnv(log *logger.Logger) Config {
	return Config{
		APIKey:     envutil.String("ANTHROPIC_API_KEY", "", nil),
		BaseURL:    envutil.String("ANTHROPIC_BASE_URL", "", log),
		Model:      envutil.String("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022", log),
		MaxTokens:  envutil.Int("ANTHROPIC_MAX_TOKENS", 2048, log),
		MaxRetries: envutil.Int("ANTHROPIC_MAX_RETRIES", 3, log),
	}
}

// Client implements JSON generation on the Messages API. The schema travels in the
// system prompt and the reply is cut down to its outermost JSON object.
type Client struct {
	log        *logger.Logger
	client     *anthropic.Client
	model      string
	maxTokens  int64
	maxRetries int
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		// Retries are driven here so every attempt is logged and metered.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		log:        log.With("service", "AnthropicClient"),
		client:     &client,
		model:      strings.TrimSpace(cfg.Model),
		maxTokens:  int64(cfg.MaxTokens),
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (c *Client) Provider() string { return providerName }

func (c *Client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (json.RawMessage, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: system + "\n\nRespond with a single JSON object and nothing else. It must match this JSON schema (" +
				schemaName + "):\n" + string(schemaJSON),
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}

	resp, err := c.newMessage(ctx, schemaName, params)
	if err != nil {
		return nil, err
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	obj := ExtractJSONObject(text.String())
	if obj == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	return json.RawMessage(obj), nil
}

func (c *Client) newMessage(ctx context.Context, schemaName string, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	backoff := time.Second
	start := time.Now()
	metrics := observability.Current()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.Messages.New(ctx, params)
		if err == nil {
			metrics.ObserveLLMRequest(providerName, schemaName, "200", time.Since(start),
				int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
			return resp, nil
		}
		if !isRetryable(err) || attempt == c.maxRetries {
			metrics.ObserveLLMRequest(providerName, schemaName, statusFromErr(err), time.Since(start), 0, 0)
			return nil, fmt.Errorf("anthropic API call failed: %w", err)
		}
		sleepFor := httpx.JitterSleep(httpx.ExponentialBackoff(backoff, 10*time.Second, attempt+1))
		c.log.Warn("Anthropic request retrying",
			"schema", schemaName,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if sErr := httpx.Sleep(ctx, sleepFor); sErr != nil {
			return nil, sErr
		}
	}
	return nil, fmt.Errorf("unreachable retry loop")
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is the overloaded status.
		return httpx.IsRetryableHTTPStatus(apiErr.StatusCode) || apiErr.StatusCode == 529
	}
	return httpx.IsRetryableError(err)
}

func statusFromErr(err error) string {
	var apiErr *anthropic.Error
	switch {
	case errors.As(err, &apiErr):
		return strconv.Itoa(apiErr.StatusCode)
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

// ExtractJSONObject returns the outermost {...} span of s, tolerating code fences and prose.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
