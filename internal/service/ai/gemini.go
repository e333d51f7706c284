package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// ErrMissingAPIKey is returned on first use when no Gemini key is configured.
var ErrMissingAPIKey = errors.New("gemini api key is not configured")

// GeminiConfig configures the Gemini chat model.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// GeminiModel adapts the Google GenAI SDK to eino's chat model interface.
// The SDK client is created lazily so a missing key surfaces on the first
// call instead of at start-up.
type GeminiModel struct {
	cfg GeminiConfig

	mu     sync.Mutex
	client *genai.Client
}

var _ model.BaseChatModel = (*GeminiModel)(nil)

// NewGeminiModel returns an adapter; it never dials.
func NewGeminiModel(cfg GeminiConfig) *GeminiModel {
	return &GeminiModel{cfg: cfg}
}

func (m *GeminiModel) getClient(ctx context.Context) (*genai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}
	if strings.TrimSpace(m.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  m.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	m.client = client
	return client, nil
}

// Generate sends the whole conversation and returns the model's reply.
func (m *GeminiModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	client, err := m.getClient(ctx)
	if err != nil {
		return nil, err
	}

	name, contents, cfg := m.buildRequest(input, opts...)
	resp, err := client.Models.GenerateContent(ctx, name, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	return geminiToMessage(resp), nil
}

// Stream yields reply chunks as the SDK receives them.
func (m *GeminiModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	client, err := m.getClient(ctx)
	if err != nil {
		return nil, err
	}

	name, contents, cfg := m.buildRequest(input, opts...)
	sr, sw := schema.Pipe[*schema.Message](8)

	go func() {
		defer sw.Close()
		for resp, err := range client.Models.GenerateContentStream(ctx, name, contents, cfg) {
			if err != nil {
				sw.Send(nil, fmt.Errorf("gemini stream: %w", err))
				return
			}
			if closed := sw.Send(geminiToMessage(resp), nil); closed {
				return
			}
		}
	}()

	return sr, nil
}

func (m *GeminiModel) buildRequest(input []*schema.Message, opts ...model.Option) (string, []*genai.Content, *genai.GenerateContentConfig) {
	name := m.cfg.Model
	options := model.GetCommonOptions(&model.Options{
		Model:       &name,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)

	system, contents := toGeminiContents(input)

	cfg := &genai.GenerateContentConfig{
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if options.Model != nil && *options.Model != "" {
		name = *options.Model
	}

	return name, contents, cfg
}

// toGeminiContents splits system messages into the system instruction and
// maps the remaining turns onto Gemini's user/model roles.
func toGeminiContents(input []*schema.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(input))

	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
		case schema.Assistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return strings.Join(system, "\n\n"), contents
}

func geminiToMessage(resp *genai.GenerateContentResponse) *schema.Message {
	if resp == nil {
		return schema.AssistantMessage("", nil)
	}

	msg := schema.AssistantMessage(resp.Text(), nil)
	if usage := resp.UsageMetadata; usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{
			Usage: &schema.TokenUsage{
				PromptTokens:     int(usage.PromptTokenCount),
				CompletionTokens: int(usage.CandidatesTokenCount),
				TotalTokens:      int(usage.TotalTokenCount),
			},
		}
	}
	return msg
}
