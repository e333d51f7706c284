package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	ollamaapi "github.com/ollama/ollama/api"
)

// OllamaConfig configures a local Ollama chat model.
type OllamaConfig struct {
	Host        string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// OllamaModel adapts the Ollama API client to eino's chat model interface.
type OllamaModel struct {
	client *ollamaapi.Client
	cfg    OllamaConfig
}

var _ model.BaseChatModel = (*OllamaModel)(nil)

// NewOllamaModel builds a client for cfg.Host. A bare "host:port" is treated as http.
func NewOllamaModel(cfg OllamaConfig, httpClient *http.Client) (*OllamaModel, error) {
	host := strings.TrimSpace(cfg.Host)
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", cfg.Host, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &OllamaModel{
		client: ollamaapi.NewClient(base, httpClient),
		cfg:    cfg,
	}, nil
}

// Generate runs a non-streaming chat request.
func (m *OllamaModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	req := m.buildRequest(input, false, opts...)

	var builder strings.Builder
	var last ollamaapi.ChatResponse
	err := m.client.Chat(ctx, req, func(resp ollamaapi.ChatResponse) error {
		builder.WriteString(resp.Message.Content)
		last = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	msg := schema.AssistantMessage(builder.String(), nil)
	msg.ResponseMeta = ollamaMeta(last)
	return msg, nil
}

// Stream forwards every chunk Ollama emits.
func (m *OllamaModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.buildRequest(input, true, opts...)
	sr, sw := schema.Pipe[*schema.Message](8)

	go func() {
		defer sw.Close()
		err := m.client.Chat(ctx, req, func(resp ollamaapi.ChatResponse) error {
			chunk := schema.AssistantMessage(resp.Message.Content, nil)
			if resp.Done {
				chunk.ResponseMeta = ollamaMeta(resp)
			}
			if closed := sw.Send(chunk, nil); closed {
				return context.Canceled
			}
			return nil
		})
		if err != nil {
			sw.Send(nil, fmt.Errorf("ollama stream: %w", err))
		}
	}()

	return sr, nil
}

func (m *OllamaModel) buildRequest(input []*schema.Message, stream bool, opts ...model.Option) *ollamaapi.ChatRequest {
	name := m.cfg.Model
	options := model.GetCommonOptions(&model.Options{
		Model:       &name,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)
	if options.Model != nil && *options.Model != "" {
		name = *options.Model
	}

	params := map[string]any{}
	if options.Temperature != nil {
		params["temperature"] = *options.Temperature
	}
	if options.TopP != nil {
		params["top_p"] = *options.TopP
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		params["num_predict"] = *options.MaxTokens
	}

	return &ollamaapi.ChatRequest{
		Model:    name,
		Messages: toOllamaMessages(input),
		Stream:   &stream,
		Options:  params,
	}
}

func toOllamaMessages(input []*schema.Message) []ollamaapi.Message {
	result := make([]ollamaapi.Message, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		result = append(result, ollamaapi.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return result
}

func ollamaMeta(resp ollamaapi.ChatResponse) *schema.ResponseMeta {
	return &schema.ResponseMeta{
		FinishReason: resp.DoneReason,
		Usage: &schema.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
}
