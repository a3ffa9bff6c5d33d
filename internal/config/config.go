package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr       string
	AllowedOrigins []string
	InstanceID     string

	RedisURL    string
	DatabaseURL string
	RoomTTL     time.Duration

	StockfishPath     string
	EngineTimeout     time.Duration
	EngineBotTimeout  time.Duration
	EnginePool        bool
	EnginePoolPerSpec int

	MatchEloBand     int
	MatchPoll        time.Duration
	MatchWindow      time.Duration
	SweepInterval    time.Duration
	SweepConcurrency int

	MessagesDir string
	DefaultBot  string
}

// Load reads an optional .env file and then the process environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:          ":8080",
		RoomTTL:           24 * time.Hour,
		EngineTimeout:     5 * time.Second,
		EngineBotTimeout:  10 * time.Second,
		EnginePoolPerSpec: 2,
		MatchEloBand:      100,
		MatchPoll:         time.Second,
		MatchWindow:       30 * time.Second,
		SweepInterval:     time.Second,
		SweepConcurrency:  16,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))
	cfg.InstanceID = strings.TrimSpace(os.Getenv("INSTANCE_ID"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if n, ok := envInt("ROOM_TTL_HOURS"); ok {
		cfg.RoomTTL = time.Duration(n) * time.Hour
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if n, ok := envInt("ENGINE_TIMEOUT_MS"); ok {
		cfg.EngineTimeout = time.Duration(n) * time.Millisecond
	}
	if n, ok := envInt("ENGINE_BOT_TIMEOUT_MS"); ok {
		cfg.EngineBotTimeout = time.Duration(n) * time.Millisecond
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_POOL")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnginePool = b
		}
	}
	if n, ok := envInt("ENGINE_POOL_CAPACITY"); ok {
		cfg.EnginePoolPerSpec = n
	}

	if n, ok := envInt("MATCH_ELO_BAND"); ok {
		cfg.MatchEloBand = n
	}
	if n, ok := envInt("MATCH_POLL_MS"); ok {
		cfg.MatchPoll = time.Duration(n) * time.Millisecond
	}
	if n, ok := envInt("MATCH_WINDOW_MS"); ok {
		cfg.MatchWindow = time.Duration(n) * time.Millisecond
	}
	if n, ok := envInt("SWEEP_INTERVAL_MS"); ok {
		cfg.SweepInterval = time.Duration(n) * time.Millisecond
	}
	if n, ok := envInt("SWEEP_CONCURRENCY"); ok {
		cfg.SweepConcurrency = n
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.DefaultBot = strings.TrimSpace(os.Getenv("DEFAULT_BOT"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}

// RequireEngine reports whether the engine binary is configured.
func (c *AppConfig) RequireEngine() error {
	if strings.TrimSpace(c.StockfishPath) == "" {
		return errors.New("STOCKFISH_PATH is required")
	}
	return nil
}

// envInt returns a positive integer from the environment.
func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
