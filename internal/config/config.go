package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"
)

// 支持的模型提供方。
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
	ProviderOllama = "ollama"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	AI      AIConfig      `yaml:"ai"`
	Scoring ScoringConfig `yaml:"scoring"`
	Lesson  LessonConfig  `yaml:"lesson"`
	Bot     BotConfig     `yaml:"bot"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string        `yaml:"port" env:"PORT" env-default:"8080"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_HEADER_TIMEOUT" env-default:"5s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"120s"`

	// Addr 由 Port 归一化得到，不直接从环境变量读取。
	Addr string `yaml:"-"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string        `yaml:"provider" env:"AI_PROVIDER" env-default:"gemini"`
	Model       string        `yaml:"model" env:"AI_MODEL"`
	Temperature float64       `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.7"`
	TopP        float64       `yaml:"top_p" env:"AI_TOP_P"`
	MaxTokens   int           `yaml:"max_tokens" env:"AI_MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"AI_TIMEOUT" env-default:"60s"`

	GeminiAPIKey string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	LegacyAPIKey string `yaml:"-" env:"API_KEY"`

	ArkAPIKey    string `yaml:"ark_api_key" env:"ARK_API_KEY"`
	ArkAccessKey string `yaml:"ark_access_key" env:"ARK_ACCESS_KEY"`
	ArkSecretKey string `yaml:"ark_secret_key" env:"ARK_SECRET_KEY"`
	ArkBaseURL   string `yaml:"ark_base_url" env:"ARK_BASE_URL" env-default:"https://ark.cn-beijing.volces.com/api/v3"`
	ArkRegion    string `yaml:"ark_region" env:"ARK_REGION" env-default:"cn-beijing"`

	OllamaHost string `yaml:"ollama_host" env:"OLLAMA_HOST" env-default:"http://127.0.0.1:11434"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig 控制远程模型调用的熔断器。
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" env:"AI_BREAKER_MAX_REQUESTS" env-default:"3"`
	Interval         time.Duration `yaml:"interval" env:"AI_BREAKER_INTERVAL" env-default:"60s"`
	Timeout          time.Duration `yaml:"timeout" env:"AI_BREAKER_TIMEOUT" env-default:"30s"`
	MinRequests      uint32        `yaml:"min_requests" env:"AI_BREAKER_MIN_REQUESTS" env-default:"5"`
	FailureThreshold float64       `yaml:"failure_threshold" env:"AI_BREAKER_FAILURE_RATIO" env-default:"0.6"`
}

// ScoringConfig 控制脑力评分调用。
type ScoringConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"SCORE_TIMEOUT" env-default:"20s"`
	Rate    float64       `yaml:"rate" env:"SCORE_RATE_PER_SECOND" env-default:"2"`
	Burst   int           `yaml:"burst" env:"SCORE_BURST" env-default:"4"`
}

// LessonConfig 控制内存中课程的回收。
type LessonConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl" env:"LESSON_IDLE_TTL" env-default:"2h"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"LESSON_SWEEP_INTERVAL" env-default:"5m"`
}

// BotConfig 描述 Telegram 机器人。
type BotConfig struct {
	Token       string        `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	PollTimeout time.Duration `yaml:"poll_timeout" env:"TELEGRAM_POLL_TIMEOUT" env-default:"10s"`
}

// Load 从环境变量加载配置；若设置了 CONFIG_FILE，则先读取该 YAML 文件，环境变量仍然优先。
func Load() (*Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	switch cfg.AI.Provider {
	case ProviderGemini, ProviderArk, ProviderOllama:
	default:
		return nil, fmt.Errorf("invalid AI_PROVIDER value: %q", cfg.AI.Provider)
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}
	if cfg.AI.GeminiAPIKey == "" {
		cfg.AI.GeminiAPIKey = cfg.AI.LegacyAPIKey
	}

	if cfg.Scoring.Burst < 1 {
		cfg.Scoring.Burst = 1
	}

	return &cfg, nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	return ":" + port, nil
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOllama:
		return "llama3.2"
	case ProviderArk:
		// Ark 需要显式的 endpoint id，留空会在首次调用时失败。
		return ""
	default:
		return "gemini-3-flash-preview"
	}
}

// HasCredentials 表示是否提供了当前提供方所需的密钥。缺失时不阻止启动，首次调用时才会失败。
func (c AIConfig) HasCredentials() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Model != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	case ProviderOllama:
		return c.OllamaHost != ""
	default:
		return c.GeminiAPIKey != ""
	}
}

// Fields 返回可安全写入日志的配置摘要，密钥一律隐藏。
func (c *Config) Fields() []zap.Field {
	return []zap.Field{
		zap.String("addr", c.Server.Addr),
		zap.Strings("allowed_origins", c.Server.AllowedOrigins),
		zap.String("log_level", c.Log.Level),
		zap.String("ai_provider", c.AI.Provider),
		zap.String("ai_model", c.AI.Model),
		zap.Float64("ai_temperature", c.AI.Temperature),
		zap.Bool("ai_credentials", c.AI.HasCredentials()),
		zap.Duration("score_timeout", c.Scoring.Timeout),
		zap.Duration("lesson_idle_ttl", c.Lesson.IdleTTL),
		zap.Bool("bot_token", c.Bot.Token != ""),
	}
}
