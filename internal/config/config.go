package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"docchat-client/internal/constant"
)

type Config struct {
	App     AppConfig
	Widget  WidgetConfig
	Limits  LimitsConfig
	Storage StorageConfig
	Server  ServerConfig
}

type AppConfig struct {
	Environment string `validate:"required,oneof=development production test"`
	LogFilePath string `validate:"required"`
	NatsURL     string
	DeviceId    string
}

type WidgetConfig struct {
	ApiURL                 string        `validate:"required,url"`
	SessionEndpoint        string        `validate:"required,url"`
	MaxTextSelectionLength int           `validate:"gt=0"`
	FallbackTextLength     int           `validate:"gtefield=MaxTextSelectionLength"`
	SelectionDebounce      time.Duration `validate:"gte=0"`
	RequestTimeout         time.Duration `validate:"gt=0"`
}

type LimitsConfig struct {
	MessageLimit     int           `validate:"gt=0"`
	WarningThreshold int           `validate:"gte=0,ltfield=MessageLimit"`
	ResetPolicy      string        `validate:"oneof=session daily window never"`
	ResetWindow      time.Duration `validate:"gte=0"`
}

type StorageConfig struct {
	Driver   string `validate:"oneof=memory file redis"`
	Path     string
	MaxBytes int `validate:"gte=0"`
	RedisURL string
}

type ServerConfig struct {
	Port               string `validate:"required"`
	CorsAllowedOrigins string
	JwtSecret          string `validate:"required"`
	CredentialTTL      time.Duration `validate:"gt=0"`
	IndexPath          string
	StreamChunkDelay   time.Duration `validate:"gte=0"`
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	env := getEnv("GO_ENV", "development")
	apiURL := resolveApiURL(env)

	return &Config{
		App: AppConfig{
			Environment: env,
			LogFilePath: getEnv("LOG_FILE_PATH", "logs/docchat.log"),
			NatsURL:     getEnv("NATS_URL", "nats://localhost:4222"),
			DeviceId:    getEnv("DEVICE_ID", ""),
		},
		Widget: WidgetConfig{
			ApiURL:                 apiURL,
			SessionEndpoint:        getEnv("CHAT_SESSION_ENDPOINT", apiURL+constant.CredentialRoutePath),
			MaxTextSelectionLength: getEnvAsInt("MAX_TEXT_SELECTION_LENGTH", constant.DefaultMaxTextSelectionLength),
			FallbackTextLength:     getEnvAsInt("FALLBACK_TEXT_LENGTH", constant.DefaultFallbackTextLength),
			SelectionDebounce:      getEnvAsDuration("SELECTION_DEBOUNCE", 100*time.Millisecond),
			RequestTimeout:         getEnvAsDuration("CHAT_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Limits: LimitsConfig{
			MessageLimit:     getEnvAsInt("MESSAGE_LIMIT", constant.DefaultMessageLimit),
			WarningThreshold: getEnvAsInt("MESSAGE_WARNING_THRESHOLD", constant.DefaultWarningThreshold),
			ResetPolicy:      getEnv("LIMIT_RESET_POLICY", "session"),
			ResetWindow:      getEnvAsDuration("LIMIT_RESET_WINDOW", 24*time.Hour),
		},
		Storage: StorageConfig{
			Driver:   getEnv("STORAGE_DRIVER", "file"),
			Path:     getEnv("STORAGE_PATH", ".docchat"),
			MaxBytes: getEnvAsInt("STORAGE_MAX_BYTES", 5*1024*1024),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Server: ServerConfig{
			Port:               getEnv("APP_PORT", "8000"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			JwtSecret:          getEnv("JWT_SECRET", "dev-secret"),
			CredentialTTL:      getEnvAsDuration("CREDENTIAL_TTL", 10*time.Minute),
			IndexPath:          getEnv("DOCS_INDEX_PATH", ""),
			StreamChunkDelay:   getEnvAsDuration("STREAM_CHUNK_DELAY", 30*time.Millisecond),
		},
	}
}

// resolveApiURL picks the chat backend host for the current deployment.
// CHAT_API_URL always wins; otherwise production and local hosts are configured separately.
func resolveApiURL(env string) string {
	if explicit := getEnv("CHAT_API_URL", ""); explicit != "" {
		return strings.TrimRight(explicit, "/")
	}
	if env == "production" {
		return strings.TrimRight(getEnv("CHAT_API_URL_PRODUCTION", ""), "/")
	}
	return strings.TrimRight(getEnv("CHAT_API_URL_LOCAL", constant.DefaultLocalApiURL), "/")
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Storage.Driver == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("invalid configuration: REDIS_URL is required for the redis storage driver")
	}
	if c.Limits.ResetPolicy == "window" && c.Limits.ResetWindow <= 0 {
		return fmt.Errorf("invalid configuration: LIMIT_RESET_WINDOW must be positive for the window reset policy")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
