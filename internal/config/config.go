package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port       string `yaml:"port"`
		AdminToken string `yaml:"admin_token"`
		// AllowedOrigins feeds the CORS handler of the web API.
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL               string `yaml:"ttl"`
		QuestionTimeLimit string `yaml:"question_time_limit"`
		TimerGrace        string `yaml:"timer_grace"`
		LeaderboardSize   int    `yaml:"leaderboard_size"`
		CatalogFile       string `yaml:"catalog_file"`
	} `yaml:"quiz"`
	Telegram struct {
		Token       string `yaml:"token"`
		BotUsername string `yaml:"bot_username"`
		PollTimeout string `yaml:"poll_timeout"`
	} `yaml:"telegram"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	// Admins are Telegram usernames allowed to run admin commands.
	Admins []string `yaml:"admins"`
}

// Load reads YAML config from path, then applies overrides from a .env file next to
// the working directory and from the process environment. A missing config file is
// not an error so the service can run purely from environment variables.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.AdminToken, "ADMIN_TOKEN")
	setList(&cfg.Server.AllowedOrigins, "ALLOWED_ORIGINS")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setString(&cfg.Quiz.QuestionTimeLimit, "QUESTION_TIME_LIMIT")
	setString(&cfg.Quiz.CatalogFile, "QUIZ_CATALOG_FILE")
	setString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.BotUsername, "TELEGRAM_BOT_USERNAME")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setList(&cfg.Admins, "ADMIN_USERNAMES")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	items := make([]string, 0)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IsAdmin reports whether username is listed in admins, ignoring case and a leading @.
func (c Config) IsAdmin(username string) bool {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return false
	}
	for _, admin := range c.Admins {
		if strings.EqualFold(strings.TrimPrefix(admin, "@"), username) {
			return true
		}
	}
	return false
}
