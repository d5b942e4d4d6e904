package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"scribe-server/pkg/errors"
)

// Config represents the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	STT       STTConfig       `json:"stt"`
	AI        AIConfig        `json:"ai"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
	Messaging MessagingConfig `json:"messaging"`
}

// HTTPConfig holds the HTTP/websocket server configuration.
type HTTPConfig struct {
	Port         int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`

	// MaxMessageBytes bounds a single inbound websocket message.
	MaxMessageBytes int64 `json:"max_message_bytes" env:"HTTP_MAX_MESSAGE_BYTES" default:"2097152"`
}

// STTConfig holds the speech-to-text provider configuration.
type STTConfig struct {
	APIKey         string        `json:"-" env:"DEEPGRAM_API_KEY"`
	Model          string        `json:"model" env:"STT_MODEL" default:"nova-2"`
	Language       string        `json:"language" env:"STT_LANGUAGE" default:"en-US"`
	Encoding       string        `json:"encoding" env:"STT_ENCODING" default:"linear16"`
	SampleRate     int           `json:"sample_rate" env:"STT_SAMPLE_RATE" default:"16000"`
	Channels       int           `json:"channels" env:"STT_CHANNELS" default:"1"`
	Diarize        bool          `json:"diarize" env:"STT_DIARIZE" default:"true"`
	Punctuate      bool          `json:"punctuate" env:"STT_PUNCTUATE" default:"true"`
	InterimResults bool          `json:"interim_results" env:"STT_INTERIM_RESULTS" default:"true"`
	UtteranceEndMs int           `json:"utterance_end_ms" env:"STT_UTTERANCE_END_MS" default:"2000"`
	Endpointing    int           `json:"endpointing" env:"STT_ENDPOINTING" default:"800"`
	Keywords       []string      `json:"keywords" env:"STT_KEYWORDS"`
	ConnectRetries int           `json:"connect_retries" env:"STT_CONNECT_RETRIES" default:"3"`
	RetryBackoff   time.Duration `json:"retry_backoff" env:"STT_RETRY_BACKOFF" default:"1s"`

	// MaxChunkBytes bounds a single decoded audio chunk.
	MaxChunkBytes int `json:"max_chunk_bytes" env:"STT_MAX_CHUNK_BYTES" default:"1048576"`
}

// AIConfig holds the language model configuration.
type AIConfig struct {
	APIKey      string        `json:"-" env:"OPENAI_API_KEY"`
	Model       string        `json:"model" env:"AI_MODEL" default:"gpt-4o"`
	MaxTokens   int           `json:"max_tokens" env:"AI_MAX_TOKENS" default:"4000"`
	Temperature float32       `json:"temperature" env:"AI_TEMPERATURE" default:"0.1"`
	Timeout     time.Duration `json:"timeout" env:"AI_TIMEOUT" default:"30s"`

	// MinTranscriptChars is the short-circuit threshold below which no
	// model call is made.
	MinTranscriptChars int `json:"min_transcript_chars" env:"AI_MIN_TRANSCRIPT_CHARS" default:"10"`
}

// CacheConfig holds the analysis response cache configuration.
type CacheConfig struct {
	MaxEntries int           `json:"max_entries" env:"CACHE_MAX_ENTRIES" default:"50"`
	TTL        time.Duration `json:"ttl" env:"CACHE_TTL" default:"1h"`

	SessionMaxEntries int           `json:"session_max_entries" env:"SESSION_CACHE_MAX_ENTRIES" default:"20"`
	SessionTTL        time.Duration `json:"session_ttl" env:"SESSION_CACHE_TTL" default:"2h"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"text"`
}

// MessagingConfig holds the optional AMQP delivery configuration.
// Delivery is disabled unless both URL and queue name are set.
type MessagingConfig struct {
	AMQPUrl   string `json:"-" env:"AMQP_URL"`
	QueueName string `json:"queue_name" env:"AMQP_QUEUE_NAME"`
}

// Enabled reports whether AMQP delivery is configured.
func (m *MessagingConfig) Enabled() bool {
	return m.AMQPUrl != "" && m.QueueName != ""
}

// defaultKeywords is the domain vocabulary boost list sent to the speech
// provider when STT_KEYWORDS is not set.
var defaultKeywords = []string{
	"patient", "doctor", "symptoms", "diagnosis", "treatment",
	"medication", "prescription", "mg", "ml", "blood pressure",
	"temperature", "pain", "history", "allergies", "surgery",
	"chronic", "acute",
}

// Load loads the application configuration from the environment, reading a
// .env file first when one is present.
func Load(logger *logrus.Logger) (*Config, error) {
	if envFile := findEnvFile(); envFile != "" {
		if err := godotenv.Load(envFile); err == nil {
			logger.WithField("path", envFile).Info("Loaded .env file")
		}
	} else {
		logger.Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	loadHTTPConfig(&config.HTTP)
	loadLoggingConfig(&config.Logging)
	loadCacheConfig(&config.Cache)
	loadMessagingConfig(&config.Messaging)

	if err := loadSTTConfig(logger, &config.STT); err != nil {
		return nil, err
	}
	if err := loadAIConfig(logger, &config.AI); err != nil {
		return nil, err
	}

	return config, nil
}

func findEnvFile() string {
	for _, candidate := range []string{".env", "../.env"} {
		if _, err := os.Stat(candidate); err == nil {
			abs, _ := filepath.Abs(candidate)
			return abs
		}
	}
	return ""
}

func loadHTTPConfig(config *HTTPConfig) {
	config.Port = getEnvInt("HTTP_PORT", 8080)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.MaxMessageBytes = int64(getEnvInt("HTTP_MAX_MESSAGE_BYTES", 2*1024*1024))
}

func loadSTTConfig(logger *logrus.Logger, config *STTConfig) error {
	config.APIKey = getEnv("DEEPGRAM_API_KEY", "")
	if config.APIKey == "" {
		return errors.NewConfiguration("DEEPGRAM_API_KEY is not set in the environment")
	}

	config.Model = getEnv("STT_MODEL", "nova-2")
	config.Language = getEnv("STT_LANGUAGE", "en-US")
	config.Encoding = getEnv("STT_ENCODING", "linear16")
	config.SampleRate = getEnvInt("STT_SAMPLE_RATE", 16000)
	config.Channels = getEnvInt("STT_CHANNELS", 1)
	config.Diarize = getEnvBool("STT_DIARIZE", true)
	config.Punctuate = getEnvBool("STT_PUNCTUATE", true)
	config.InterimResults = getEnvBool("STT_INTERIM_RESULTS", true)
	config.UtteranceEndMs = getEnvInt("STT_UTTERANCE_END_MS", 2000)
	config.Endpointing = getEnvInt("STT_ENDPOINTING", 800)
	config.ConnectRetries = getEnvInt("STT_CONNECT_RETRIES", 3)
	config.RetryBackoff = getEnvDuration("STT_RETRY_BACKOFF", time.Second)
	config.MaxChunkBytes = getEnvInt("STT_MAX_CHUNK_BYTES", 1024*1024)

	if keywordsStr := getEnv("STT_KEYWORDS", ""); keywordsStr != "" {
		keywords := strings.Split(keywordsStr, ",")
		for i, keyword := range keywords {
			keywords[i] = strings.TrimSpace(keyword)
		}
		config.Keywords = keywords
	} else {
		config.Keywords = defaultKeywords
	}

	if config.SampleRate <= 0 {
		return errors.NewConfiguration("STT sample rate must be positive",
			map[string]interface{}{"sample_rate": config.SampleRate})
	}
	if config.ConnectRetries < 1 {
		return errors.NewConfiguration("STT connect retries must be at least 1",
			map[string]interface{}{"connect_retries": config.ConnectRetries})
	}

	logger.WithFields(logrus.Fields{
		"model":           config.Model,
		"language":        config.Language,
		"diarize":         config.Diarize,
		"interim_results": config.InterimResults,
		"sample_rate":     config.SampleRate,
	}).Info("Configured speech-to-text provider")

	return nil
}

func loadAIConfig(logger *logrus.Logger, config *AIConfig) error {
	config.APIKey = getEnv("OPENAI_API_KEY", "")
	if config.APIKey == "" {
		return errors.NewConfiguration("OPENAI_API_KEY is not set in the environment")
	}

	config.Model = getEnv("AI_MODEL", "gpt-4o")
	config.MaxTokens = getEnvInt("AI_MAX_TOKENS", 4000)
	config.Temperature = float32(getEnvFloat("AI_TEMPERATURE", 0.1))
	config.Timeout = getEnvDuration("AI_TIMEOUT", 30*time.Second)
	config.MinTranscriptChars = getEnvInt("AI_MIN_TRANSCRIPT_CHARS", 10)

	if config.MaxTokens <= 0 {
		return errors.NewConfiguration("AI max tokens must be positive",
			map[string]interface{}{"max_tokens": config.MaxTokens})
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return errors.NewConfiguration("AI temperature must be in [0, 2]",
			map[string]interface{}{"temperature": config.Temperature})
	}

	logger.WithFields(logrus.Fields{
		"model":       config.Model,
		"max_tokens":  config.MaxTokens,
		"temperature": config.Temperature,
		"timeout":     config.Timeout,
	}).Info("Configured language model")

	return nil
}

func loadCacheConfig(config *CacheConfig) {
	config.MaxEntries = getEnvInt("CACHE_MAX_ENTRIES", 50)
	config.TTL = getEnvDuration("CACHE_TTL", time.Hour)
	config.SessionMaxEntries = getEnvInt("SESSION_CACHE_MAX_ENTRIES", 20)
	config.SessionTTL = getEnvDuration("SESSION_CACHE_TTL", 2*time.Hour)
}

func loadLoggingConfig(config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", "info")
	config.Format = getEnv("LOG_FORMAT", "text")
}

func loadMessagingConfig(config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.QueueName = getEnv("AMQP_QUEUE_NAME", "")
}

// ApplyLogging configures the logger from the loaded logging section.
func (c *Config) ApplyLogging(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithField("level", c.Logging.Level).Warn("Invalid log level, defaulting to info")
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.Logging.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}
