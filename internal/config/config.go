package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/audio"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	ISE     ISEConfig
	Audio   AudioConfig
	Storage StorageConfig
	Library LibraryConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	ise, err := loadISEConfig()
	if err != nil {
		return nil, err
	}

	audioCfg, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	library, err := loadLibraryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		ISE:     ise,
		Audio:   audioCfg,
		Storage: storage,
		Library: library,
		Log:     loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置，仅用于练习教练。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	CoachEnabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	coach, err := parseBoolEnv("COACH_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		CoachEnabled: coach,
	}, nil
}

// ISEConfig 讯飞语音评测配置
type ISEConfig struct {
	AppID            string
	APIKey           string
	APISecret        string
	Host             string
	Path             string
	ChunkSize        int
	Pacing           time.Duration
	ReceiveTimeout   time.Duration
	HandshakeTimeout time.Duration
	Category         string
	Engine           string
	ConnectRetries   int
	Enabled          bool
}

// Endpoint 转换为评测会话使用的配置
func (c ISEConfig) Endpoint() *evaluation.ISEConfig {
	cfg := evaluation.DefaultISEConfig()
	cfg.AppID = c.AppID
	cfg.APIKey = c.APIKey
	cfg.APISecret = c.APISecret
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Path != "" {
		cfg.Path = c.Path
	}
	if c.Category != "" {
		cfg.Category = c.Category
	}
	if c.Engine != "" {
		cfg.Engine = c.Engine
	}
	if c.ChunkSize > 0 {
		cfg.ChunkSize = c.ChunkSize
	}
	cfg.Pacing = c.Pacing
	if c.ReceiveTimeout > 0 {
		cfg.ReceiveTimeout = c.ReceiveTimeout
	}
	if c.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = c.HandshakeTimeout
	}
	return &cfg
}

func loadISEConfig() (ISEConfig, error) {
	def := evaluation.DefaultISEConfig()

	chunk := def.ChunkSize
	if override, err := parseOptionalIntEnv("ISE_CHUNK_SIZE"); err != nil {
		return ISEConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return ISEConfig{}, fmt.Errorf("invalid ISE_CHUNK_SIZE value %d: must be positive", *override)
		}
		chunk = *override
	}

	pacing := def.Pacing
	if override, err := parseOptionalIntEnv("ISE_PACING_MS"); err != nil {
		return ISEConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return ISEConfig{}, fmt.Errorf("invalid ISE_PACING_MS value %d: must not be negative", *override)
		}
		pacing = time.Duration(*override) * time.Millisecond
	}

	receive, err := parseDurationEnv("ISE_RECEIVE_TIMEOUT", def.ReceiveTimeout)
	if err != nil {
		return ISEConfig{}, err
	}

	handshake, err := parseDurationEnv("ISE_HANDSHAKE_TIMEOUT", def.HandshakeTimeout)
	if err != nil {
		return ISEConfig{}, err
	}

	retries := 1
	if override, err := parseOptionalIntEnv("ISE_CONNECT_RETRIES"); err != nil {
		return ISEConfig{}, err
	} else if override != nil && *override >= 0 {
		retries = *override
	}

	appID := strings.TrimSpace(os.Getenv("XFYUN_APPID"))
	apiKey := strings.TrimSpace(os.Getenv("XFYUN_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("XFYUN_API_SECRET"))

	return ISEConfig{
		AppID:            appID,
		APIKey:           apiKey,
		APISecret:        apiSecret,
		Host:             getEnvOrDefault("XFYUN_ISE_HOST", def.Host),
		Path:             getEnvOrDefault("XFYUN_ISE_PATH", def.Path),
		ChunkSize:        chunk,
		Pacing:           pacing,
		ReceiveTimeout:   receive,
		HandshakeTimeout: handshake,
		Category:         getEnvOrDefault("ISE_CATEGORY", def.Category),
		Engine:           getEnvOrDefault("ISE_ENGINE", def.Engine),
		ConnectRetries:   retries,
		Enabled:          appID != "" && apiKey != "" && apiSecret != "",
	}, nil
}

// AudioConfig 音频质量检查与预处理
type AudioConfig struct {
	MinDuration     float64
	MaxDuration     float64
	MinRMS          float64
	MaxRMS          float64
	MaxSilenceRatio float64
	Preprocess      bool
}

// Thresholds 转换为质量检查阈值
func (c AudioConfig) Thresholds() audio.Thresholds {
	return audio.Thresholds{
		MinDuration:     c.MinDuration,
		MaxDuration:     c.MaxDuration,
		MinRMS:          c.MinRMS,
		MaxRMS:          c.MaxRMS,
		MaxSilenceRatio: c.MaxSilenceRatio,
	}
}

func loadAudioConfig() (AudioConfig, error) {
	def := audio.DefaultThresholds()
	cfg := AudioConfig{
		MinDuration:     def.MinDuration,
		MaxDuration:     def.MaxDuration,
		MinRMS:          def.MinRMS,
		MaxRMS:          def.MaxRMS,
		MaxSilenceRatio: def.MaxSilenceRatio,
	}

	overrides := []struct {
		key    string
		target *float64
	}{
		{"AUDIO_MIN_DURATION", &cfg.MinDuration},
		{"AUDIO_MAX_DURATION", &cfg.MaxDuration},
		{"AUDIO_MIN_RMS", &cfg.MinRMS},
		{"AUDIO_MAX_RMS", &cfg.MaxRMS},
		{"AUDIO_MAX_SILENCE_RATIO", &cfg.MaxSilenceRatio},
	}
	for _, o := range overrides {
		val, err := parseOptionalFloatEnv(o.key)
		if err != nil {
			return AudioConfig{}, err
		}
		if val != nil {
			*o.target = *val
		}
	}

	if cfg.MinDuration > cfg.MaxDuration {
		return AudioConfig{}, fmt.Errorf("AUDIO_MIN_DURATION %.2f exceeds AUDIO_MAX_DURATION %.2f", cfg.MinDuration, cfg.MaxDuration)
	}
	if cfg.MinRMS > cfg.MaxRMS {
		return AudioConfig{}, fmt.Errorf("AUDIO_MIN_RMS %.0f exceeds AUDIO_MAX_RMS %.0f", cfg.MinRMS, cfg.MaxRMS)
	}

	preprocess, err := parseBoolEnv("AUDIO_PREPROCESS", true)
	if err != nil {
		return AudioConfig{}, err
	}
	cfg.Preprocess = preprocess
	return cfg, nil
}

// StorageConfig 缓存与历史记录
type StorageConfig struct {
	Dir          string
	CacheTTL     time.Duration
	CacheEnabled bool
	HistoryLimit int
}

func loadStorageConfig() (StorageConfig, error) {
	ttl := 7 * 24 * time.Hour
	if hours, err := parseOptionalIntEnv("CACHE_TTL_HOURS"); err != nil {
		return StorageConfig{}, err
	} else if hours != nil && *hours > 0 {
		ttl = time.Duration(*hours) * time.Hour
	}

	enabled, err := parseBoolEnv("CACHE_ENABLED", true)
	if err != nil {
		return StorageConfig{}, err
	}

	limit := 50
	if override, err := parseOptionalIntEnv("HISTORY_LIMIT"); err != nil {
		return StorageConfig{}, err
	} else if override != nil && *override > 0 {
		limit = *override
	}

	return StorageConfig{
		Dir:          getEnvOrDefault("DATA_DIR", filepath.Join(".", "data")),
		CacheTTL:     ttl,
		CacheEnabled: enabled,
		HistoryLimit: limit,
	}, nil
}

// LibraryConfig 绕口令库
type LibraryConfig struct {
	Path  string
	Watch bool
}

func loadLibraryConfig() (LibraryConfig, error) {
	watch, err := parseBoolEnv("TWISTER_LIBRARY_WATCH", false)
	if err != nil {
		return LibraryConfig{}, err
	}
	return LibraryConfig{
		Path:  strings.TrimSpace(os.Getenv("TWISTER_LIBRARY_PATH")),
		Watch: watch,
	}, nil
}

// LogConfig 日志
type LogConfig struct {
	Mode     string
	Level    string
	Encoding string
}

// Options 转换为日志构造参数
func (c LogConfig) Options(service string) logger.Options {
	return logger.Options{Mode: c.Mode, Level: c.Level, Encoding: c.Encoding, Service: service}
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Mode:     getEnvOrDefault("LOG_MODE", "release"),
		Level:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Encoding: getEnvOrDefault("LOG_ENCODING", "console"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 接受 time.ParseDuration 格式，纯数字按秒处理
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
