package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/config"
)

// NewChatModel creates the chat model for the configured provider. Missing
// credentials are only warned about; the first remote call reports them.
func NewChatModel(ctx context.Context, cfg config.AIConfig, log *zap.Logger) (model.BaseChatModel, error) {
	if !cfg.HasCredentials() {
		log.Warn("ai credentials missing, remote calls will fail until configured",
			zap.String("provider", cfg.Provider))
	}

	temperature := optionalFloat32(cfg.Temperature)
	topP := optionalFloat32(cfg.TopP)
	var maxTokens *int
	if cfg.MaxTokens > 0 {
		val := cfg.MaxTokens
		maxTokens = &val
	}

	switch cfg.Provider {
	case config.ProviderArk:
		cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     cfg.ArkBaseURL,
			Region:      cfg.ArkRegion,
			APIKey:      cfg.ArkAPIKey,
			AccessKey:   cfg.ArkAccessKey,
			SecretKey:   cfg.ArkSecretKey,
			Model:       cfg.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
		if err != nil {
			return nil, fmt.Errorf("create ark chat model: %w", err)
		}
		return cm, nil
	case config.ProviderOllama:
		cm, err := NewOllamaModel(OllamaConfig{
			Host:        cfg.OllamaHost,
			Model:       cfg.Model,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		}, nil)
		if err != nil {
			return nil, err
		}
		return cm, nil
	case config.ProviderGemini, "":
		return NewGeminiModel(GeminiConfig{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.Model,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

func optionalFloat32(v float64) *float32 {
	if v <= 0 {
		return nil
	}
	val := float32(v)
	return &val
}
