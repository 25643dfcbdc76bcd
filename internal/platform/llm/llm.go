package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/platform/anthropic"
	"github.com/yungbote/featurepulse-backend/internal/platform/openai"
)

// Client is the structured-output capability the pipeline depends on.
type Client interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (json.RawMessage, error)
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// New builds the client for provider ("openai" when empty) from its env config.
func New(log *logger.Logger, provider string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAI:
		c, err := openai.NewClient(log, openai.ConfigFromEnv(log))
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderAnthropic:
		c, err := anthropic.NewClient(log, anthropic.ConfigFromEnv(log))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}
}
