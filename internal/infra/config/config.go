package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without a zoneinfo database

	"github.com/joho/godotenv"
)

// Job store backends.
const (
	JobStoreMemory   = "memory"
	JobStoreRedis    = "redis"
	JobStorePostgres = "postgres"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken     string
	DatabaseURL       string
	ForumGroupID      int64
	AdminTelegramIDs  []int64
	LogLevel          string
	Environment       string
	Timezone          *time.Location // For timestamps shown to users
	HTTPAddr          string         // Empty disables the diagnostics server
	JobStore          string
	RedisURL          string
	JobSweepSpec      string
	JobMisfireGrace   time.Duration
	JobTimeout        time.Duration
	AttentionInterval time.Duration
	DeleteDelay       time.Duration // Default delay for run-delete timers
	RemoveTopicDelay  time.Duration

	RemoveOldQuestions     bool
	RemoveOldQuestionsDays int
	CronSpecPurge          string

	DefaultActivityStatus       bool
	DefaultActivityWarnMinutes  int
	DefaultActivityCloseMinutes int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	forumIDStr := os.Getenv("FORUM_GROUP_ID")
	if forumIDStr == "" {
		return nil, fmt.Errorf("FORUM_GROUP_ID is not set")
	}
	cfg.ForumGroupID, err = strconv.ParseInt(forumIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid FORUM_GROUP_ID: %w", err)
	}

	cfg.AdminTelegramIDs, err = parseIDList(os.Getenv("ADMIN_TELEGRAM_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_IDS: %w", err)
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	tz := getenv("TIMEZONE", "Asia/Yekaterinburg")
	cfg.Timezone, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.HTTPAddr = ":8080"
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}

	cfg.JobStore = strings.ToLower(getenv("JOB_STORE", JobStoreMemory))
	switch cfg.JobStore {
	case JobStoreMemory, JobStorePostgres:
	case JobStoreRedis:
		cfg.RedisURL = os.Getenv("REDIS_URL")
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when JOB_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("invalid JOB_STORE %q: expected memory, redis or postgres", cfg.JobStore)
	}

	cfg.JobSweepSpec = getenv("JOB_SWEEP_SPEC", "@every 1s")

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"JOB_MISFIRE_GRACE", 300 * time.Second, &cfg.JobMisfireGrace},
		{"JOB_TIMEOUT", 1 * time.Minute, &cfg.JobTimeout},
		{"ATTENTION_INTERVAL", 5 * time.Minute, &cfg.AttentionInterval},
		{"DELETE_MESSAGES_DELAY", 60 * time.Second, &cfg.DeleteDelay},
		{"REMOVE_TOPIC_DELAY", 30 * time.Second, &cfg.RemoveTopicDelay},
	}
	for _, d := range durations {
		*d.dest, err = getDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
	}

	cfg.RemoveOldQuestions, err = getBool("REMOVE_OLD_QUESTIONS", false)
	if err != nil {
		return nil, err
	}
	cfg.RemoveOldQuestionsDays, err = getInt("REMOVE_OLD_QUESTIONS_DAYS", 60)
	if err != nil {
		return nil, err
	}
	cfg.CronSpecPurge = getenv("CRON_SPEC_PURGE", "0 3 * * *") // Default: 3 AM daily

	cfg.DefaultActivityStatus, err = getBool("DEFAULT_ACTIVITY_STATUS", true)
	if err != nil {
		return nil, err
	}
	cfg.DefaultActivityWarnMinutes, err = getInt("DEFAULT_ACTIVITY_WARN_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	cfg.DefaultActivityCloseMinutes, err = getInt("DEFAULT_ACTIVITY_CLOSE_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	if cfg.DefaultActivityWarnMinutes <= 0 || cfg.DefaultActivityCloseMinutes <= cfg.DefaultActivityWarnMinutes {
		return nil, fmt.Errorf("DEFAULT_ACTIVITY_WARN_MINUTES (%d) must be positive and less than DEFAULT_ACTIVITY_CLOSE_MINUTES (%d)",
			cfg.DefaultActivityWarnMinutes, cfg.DefaultActivityCloseMinutes)
	}

	return cfg, nil
}

// IsAdmin reports whether telegramID is one of the configured admins.
func (c *AppConfig) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminTelegramIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
