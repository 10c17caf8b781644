package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	GRPCAddr   string
	LogLevel   string

	RateLimit float64
	RateBurst int

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string

	OllamaURL       string
	OllamaModels    []string
	ProviderTimeout time.Duration

	CacheBackend  string
	CacheID       string
	CacheMaxItems int
	CacheTTL      time.Duration
	CacheLogging  bool

	DifferenceEngine  string
	ReferenceStrategy string
	MinAnalysisGap    time.Duration
	MaxStreams        int
	DefaultWatching   bool

	TuningFile string

	OTLPEndpoint string
	OTLPInsecure bool

	RTCICEServers   []ICEServerConfig
	RTCPortMin      int
	RTCPortMax      int
	CaptureInterval time.Duration

	ProviderCheckInterval time.Duration
	HealthWatchInterval   time.Duration
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		GRPCAddr:   getEnv("GRPC_ADDR", ":50051"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		RateLimit: getEnvFloat("RATE_LIMIT", 50),
		RateBurst: getEnvInt("RATE_BURST", 100),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "frames"),

		OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModels:    splitList(getEnv("OLLAMA_MODELS", "llava")),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),

		CacheBackend:  getEnv("CACHE_BACKEND", "redis"),
		CacheID:       getEnv("CACHE_ID", "frames"),
		CacheMaxItems: getEnvInt("CACHE_MAX_ITEMS", 10000),
		CacheTTL:      getEnvDuration("CACHE_TTL", 24*time.Hour),
		CacheLogging:  getEnv("CACHE_LOG_ACTIVITY", "false") == "true",

		DifferenceEngine:  getEnv("DIFFERENCE_ENGINE", "feature"),
		ReferenceStrategy: getEnv("REFERENCE_STRATEGY", "on-significant-change"),
		MinAnalysisGap:    getEnvDuration("MIN_ANALYSIS_GAP", 2*time.Second),
		MaxStreams:        getEnvInt("MAX_STREAMS", 64),
		DefaultWatching:   getEnv("DEFAULT_WATCHING", "true") == "true",

		TuningFile: getEnv("TUNING_FILE", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: getEnv("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",

		RTCICEServers:   parseICEServers(getEnv("RTC_ICE_SERVERS", "stun:stun.l.google.com:19302")),
		RTCPortMin:      getEnvInt("RTC_PORT_MIN", 10000),
		RTCPortMax:      getEnvInt("RTC_PORT_MAX", 20000),
		CaptureInterval: getEnvDuration("CAPTURE_INTERVAL", 2*time.Second),

		ProviderCheckInterval: getEnvDuration("PROVIDER_CHECK_INTERVAL", 30*time.Second),
		HealthWatchInterval:   getEnvDuration("HEALTH_WATCH_INTERVAL", 15*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseICEServers(envValue string) []ICEServerConfig {
	var servers []ICEServerConfig
	for _, url := range splitList(envValue) {
		servers = append(servers, ICEServerConfig{URLs: []string{url}})
	}
	return servers
}
