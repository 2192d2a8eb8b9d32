package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"market-chat/internal/chat"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	BrokerRedis = "redis"
	BrokerLocal = "local"

	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Config holds every setting the server reads from the environment.
type Config struct {
	Addr      string `env:"ADDR,default=:8080"`
	DBDSN     string `env:"DB_DSN,required=true"`
	JWTSecret string `env:"JWT_SECRET,required=true"`

	TokenTTL time.Duration `env:"TOKEN_TTL,default=24h"`

	Broker        string `env:"BROKER,default=redis"`
	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	MessageStore string `env:"MESSAGE_STORE,default=postgres"`
	BadgerPath   string `env:"BADGER_PATH,default=data/chat"`

	SendBuffer     int           `env:"SEND_BUFFER,default=256"`
	MaxMessageSize int           `env:"MAX_MESSAGE_SIZE,default=32768"`
	MaxBodyLength  int           `env:"MAX_BODY_LENGTH,default=2000"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT,default=5s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`

	CensoredWords string `env:"CENSORED_WORDS"`
	CensorChar    string `env:"CENSOR_CHAR,default=*"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if !lo.Contains([]string{BrokerRedis, BrokerLocal}, c.Broker) {
		errs = append(errs, fmt.Errorf("BROKER must be %q or %q, got %q", BrokerRedis, BrokerLocal, c.Broker))
	}
	if !lo.Contains([]string{StorePostgres, StoreBadger}, c.MessageStore) {
		errs = append(errs, fmt.Errorf("MESSAGE_STORE must be %q or %q, got %q", StorePostgres, StoreBadger, c.MessageStore))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER must be positive"))
	}
	if c.MaxBodyLength <= 0 {
		errs = append(errs, errors.New("MAX_BODY_LENGTH must be positive"))
	} else if limit := chat.FrameLimit(c.MaxBodyLength); int64(c.MaxMessageSize) < limit {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_SIZE must be at least %d for MAX_BODY_LENGTH %d, got %d",
			limit, c.MaxBodyLength, c.MaxMessageSize))
	}
	if _, err := c.CensorRune(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Words splits CENSORED_WORDS on commas, dropping blanks.
func (c Config) Words() []string {
	words := lo.Map(strings.Split(c.CensoredWords, ","), func(w string, _ int) string {
		return strings.TrimSpace(w)
	})
	return lo.Compact(words)
}

func (c Config) CensorRune() (rune, error) {
	r := []rune(c.CensorChar)
	if len(r) != 1 {
		return 0, fmt.Errorf("CENSOR_CHAR must be a single character, got %q", c.CensorChar)
	}
	return r[0], nil
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
