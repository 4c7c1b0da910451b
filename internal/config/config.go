package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the full service configuration, loaded from the environment.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Turn          TurnConfig
	Chat          ChatConfig
	Gemini        GeminiConfig
	TTS           TTSConfig
	Database      DatabaseConfig
	Supabase      SupabaseConfig
	Persistence   PersistenceConfig
	Kafka         KafkaConfig
	HTTP          HTTPConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
	Env         string
}

// STTConfig selects and configures the recognition engine.
type STTConfig struct {
	Provider       string // mock, google, relay
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	StartTimeout   time.Duration
	MaxAudioBytes  int64
}

// TurnConfig holds the turn-taking timings.
type TurnConfig struct {
	SilenceTimeout         time.Duration
	ProgressInterval       time.Duration
	MinTranscriptLength    int
	ErrorRestartDelay      time.Duration
	EndRestartDelay        time.Duration
	MaxConsecutiveRestarts int
	ResumeCooldown         time.Duration
	EndMarkerDelay         time.Duration
	MicResumeDelay         time.Duration
	HistoryLimit           int
	EndMarker              string
}

type ChatConfig struct {
	Provider     string // kimi, gemini
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type TTSConfig struct {
	Provider       string // minimax, deepgram, none
	MinimaxGroupID string
	MinimaxAPIKey  string
	MinimaxBaseURL string
	MinimaxModel   string
	VoiceID        string
	DeepgramAPIKey string
	DeepgramModel  string
	Timeout        time.Duration
}

type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

type SupabaseConfig struct {
	URL string
	Key string
}

type PersistenceConfig struct {
	Backend    string // postgres, supabase, none
	MaxRetries int
	RetryDelay time.Duration
}

// KafkaConfig mirrors events.Config.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicTurns     string
	TopicSummaries string
	Principal      string
}

type HTTPConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
	QueryAPI       bool
	MaxSessions    int
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the environment (and a .env file when present).
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-interview-voice")
	env := os.Getenv("ENV")

	logFormat := envOrDefault("LOG_FORMAT", "json")
	if env == "dev" && os.Getenv("LOG_FORMAT") == "" {
		logFormat = "console"
	}

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			Env:         env,
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "zh-CN"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			StartTimeout:   envOrDefaultDuration("STT_START_TIMEOUT", 5*time.Second),
			MaxAudioBytes:  int64(envOrDefaultInt("STT_MAX_AUDIO_BYTES", 32*1024*1024)),
		},
		Turn: TurnConfig{
			SilenceTimeout:         envOrDefaultDuration("TURN_SILENCE_TIMEOUT", 4*time.Second),
			ProgressInterval:       envOrDefaultDuration("TURN_PROGRESS_INTERVAL", 50*time.Millisecond),
			MinTranscriptLength:    envOrDefaultInt("TURN_MIN_TRANSCRIPT_LENGTH", 2),
			ErrorRestartDelay:      envOrDefaultDuration("TURN_ERROR_RESTART_DELAY", time.Second),
			EndRestartDelay:        envOrDefaultDuration("TURN_END_RESTART_DELAY", 100*time.Millisecond),
			MaxConsecutiveRestarts: envOrDefaultInt("TURN_MAX_CONSECUTIVE_RESTARTS", 5),
			ResumeCooldown:         envOrDefaultDuration("TURN_RESUME_COOLDOWN", 800*time.Millisecond),
			EndMarkerDelay:         envOrDefaultDuration("TURN_END_MARKER_DELAY", time.Second),
			MicResumeDelay:         envOrDefaultDuration("TURN_MIC_RESUME_DELAY", 500*time.Millisecond),
			HistoryLimit:           envOrDefaultInt("TURN_HISTORY_LIMIT", 10),
			EndMarker:              envOrDefault("TURN_END_MARKER", "</end>"),
		},
		Chat: ChatConfig{
			Provider:     envOrDefault("CHAT_PROVIDER", "kimi"),
			BaseURL:      envOrDefault("KIMI_BASE_URL", "https://api.moonshot.cn/v1"),
			APIKey:       os.Getenv("KIMI_API_KEY"),
			Model:        envOrDefault("KIMI_MODEL", "moonshot-v1-8k"),
			SystemPrompt: os.Getenv("CHAT_SYSTEM_PROMPT"),
			Timeout:      envOrDefaultDuration("CHAT_TIMEOUT", 30*time.Second),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		TTS: TTSConfig{
			Provider:       envOrDefault("TTS_PROVIDER", "minimax"),
			MinimaxGroupID: os.Getenv("MINIMAX_GROUP_ID"),
			MinimaxAPIKey:  os.Getenv("MINIMAX_API_KEY"),
			MinimaxBaseURL: envOrDefault("MINIMAX_BASE_URL", "https://api.minimaxi.com"),
			MinimaxModel:   envOrDefault("MINIMAX_MODEL", "speech-02-turbo"),
			VoiceID:        envOrDefault("TTS_VOICE_ID", "male-qn-qingse"),
			DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramModel:  envOrDefault("DEEPGRAM_MODEL", "aura-2-thalia-en"),
			Timeout:        envOrDefaultDuration("TTS_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:         os.Getenv("DATABASE_URL"),
			AutoMigrate: envOrDefaultBool("DATABASE_AUTO_MIGRATE", true),
		},
		Supabase: SupabaseConfig{
			URL: os.Getenv("SUPABASE_URL"),
			Key: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		},
		Persistence: PersistenceConfig{
			Backend:    envOrDefault("PERSISTENCE_BACKEND", "postgres"),
			MaxRetries: envOrDefaultInt("PERSISTENCE_MAX_RETRIES", 3),
			RetryDelay: envOrDefaultDuration("PERSISTENCE_RETRY_DELAY", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			TopicTurns:     envOrDefault("KAFKA_TOPIC_TURNS", "interview.turn"),
			TopicSummaries: envOrDefault("KAFKA_TOPIC_SUMMARIES", "interview.summary"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   envOrDefaultFloat("HTTP_RATE_LIMIT_RPS", 5),
			RateLimitBurst: envOrDefaultInt("HTTP_RATE_LIMIT_BURST", 10),
			AllowedOrigins: splitList(os.Getenv("HTTP_ALLOWED_ORIGINS")),
			QueryAPI:       envOrDefaultBool("QUERY_API_ENABLED", false),
			MaxSessions:    envOrDefaultInt("HTTP_MAX_SESSIONS", 100),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: logFormat,
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid number, using default")
		return def
	}
	return f
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
