// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/joho/godotenv"
	"github.com/mathchat/go-chat-v2/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// LLM
	LLMModel       string  `env:"LLM_MODEL" default:"gpt-4o"`
	LLMTemperature float64 `env:"LLM_TEMPERATURE" default:"0.7" min:"0"`
	OpenAIAPIKey   string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string  `env:"OPENAI_BASE_URL"`
	LLMTimeoutSec  int     `env:"LLM_TIMEOUT" default:"120" min:"1"`

	// HTTP API
	ListenAddr      string `env:"CHATD_LISTEN_ADDR" default:"127.0.0.1:9000"`
	AllowedOrigin   string `env:"CHATD_ALLOWED_ORIGIN" default:"http://localhost:3000"`
	SSEKeepaliveSec int    `env:"CHATD_SSE_KEEPALIVE_SEC" default:"30" min:"1"`

	// Session
	SessionTTLMin    int `env:"SESSION_TTL_MIN" default:"30" min:"1"`
	SessionGCSec     int `env:"SESSION_GC_SEC" default:"60" min:"1"`
	SessionQueueSize int `env:"SESSION_QUEUE_SIZE" default:"256" min:"16"`

	// MCP
	MCPServersPath   string `env:"MCP_SERVERS_PATH" default:"servers.yaml"`
	MCPTimeoutSec    int    `env:"MCP_TIMEOUT_SEC" default:"45" min:"1"`
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" default:"system.md"`

	// 日志
	LogDir string `env:"LOG_DIR"`
	AppEnv string `env:"APP_ENV" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// LoadDotenv 读取 .env 文件, 不存在时静默忽略。
func LoadDotenv() {
	_ = godotenv.Load()
}
