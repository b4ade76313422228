package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at process start and threaded through the app context.
// Everything is environment-driven; there are no implicit globals.
type Config struct {
	NNTP      NNTPConfig
	Ingest    IngestConfig
	Breaker   BreakerConfig
	Retention RetentionConfig
	Category  CategoryConfig
	API       APIConfig

	CursorDB      string
	DatabaseURL   string
	OpenSearchURL string
	RedisURL      string
	LogLevel      string
}

type NNTPConfig struct {
	Host            string
	Port            int
	TLS             bool
	User            string
	Pass            string
	Groups          []string
	IgnoreGroups    []string
	GroupWildcard   string
	Timeout         time.Duration
	ConnectBase     time.Duration
	ConnectMaxDelay time.Duration
}

type IngestConfig struct {
	Batch          int
	BatchMin       int
	BatchMax       int
	PollMin        time.Duration
	PollMax        time.Duration
	SleepMs        int
	DBLatencyMs    int
	OSLatencyMs    int
	LogEvery       int
	Workers        int
	DetectLanguage bool
	ValidateSegs   bool
	PartMaxRels    int
	IrrelevantTTL  time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	ResetSeconds     float64
	RetryMax         int
	RetryBase        time.Duration
	RetryJitter      time.Duration
}

type RetentionConfig struct {
	Days                 int
	MaxReleaseBytes      int64
	MovieMinSizeMB       int64
	MovieMaxSizeMB       int64
	TVMinSizeMB          int64
	TVMaxSizeMB          int64
	XXXMinSizeMB         int64
	XXXMaxSizeMB         int64
	DisallowedExtensions []string
	Cron                 string
}

type CategoryConfig struct {
	MoviesCatID int
	TVCatID     int
	AudioCatID  int
	BooksCatID  int
	AdultCatID  int
	AllowXXX    bool
	SafeSearch  bool
}

type APIConfig struct {
	Port        string
	APIKeys     []string
	RateLimit   int
	RateWindow  time.Duration
	Title       string
	NZBCacheTTL time.Duration
	NZBFailTTL  time.Duration
}

// Load reads the environment into a Config. A missing DATABASE_URL is a fatal
// configuration error; the process refuses to start without one.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// NNTP
	v.SetDefault("NNTP_PORT", 119)
	v.SetDefault("NNTP_GROUP_WILDCARD", "alt.binaries.*")
	v.SetDefault("NNTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("NNTP_CONNECT_BASE", 1)
	v.SetDefault("NNTP_CONNECT_MAX_DELAY", 60)

	// Ingest
	v.SetDefault("INGEST_BATCH", 1000)
	v.SetDefault("INGEST_BATCH_MIN", 100)
	v.SetDefault("INGEST_BATCH_MAX", 5000)
	v.SetDefault("INGEST_POLL_MIN_SECONDS", 5)
	v.SetDefault("INGEST_POLL_MAX_SECONDS", 300)
	v.SetDefault("INGEST_SLEEP_MS", 1000)
	v.SetDefault("INGEST_DB_LATENCY_MS", 50)
	v.SetDefault("INGEST_OS_LATENCY_MS", 100)
	v.SetDefault("INGEST_LOG_EVERY", 10)
	v.SetDefault("INGEST_WORKERS", 1)
	v.SetDefault("DETECT_LANGUAGE", true)
	v.SetDefault("VALIDATE_SEGMENTS", true)
	v.SetDefault("RELEASE_PART_MAX_RELEASES", 10000)
	v.SetDefault("IRRELEVANT_TTL_HOURS", 24)

	// Breaker / retry
	v.SetDefault("CB_FAILURE_THRESHOLD", 5)
	v.SetDefault("CB_RESET_SECONDS", 30.0)
	v.SetDefault("RETRY_MAX", 3)
	v.SetDefault("RETRY_BASE_MS", 100)
	v.SetDefault("RETRY_JITTER_MS", 100)

	// Retention
	v.SetDefault("RELEASE_RETENTION_DAYS", 0)
	v.SetDefault("MAX_RELEASE_BYTES", 0)
	v.SetDefault("DISALLOWED_EXTENSIONS", "")
	v.SetDefault("RETENTION_CRON", "@daily")

	// Category overrides
	v.SetDefault("MOVIES_CAT_ID", 2000)
	v.SetDefault("TV_CAT_ID", 5000)
	v.SetDefault("AUDIO_CAT_ID", 3000)
	v.SetDefault("BOOKS_CAT_ID", 7000)
	v.SetDefault("ADULT_CAT_ID", 6000)
	v.SetDefault("ALLOW_XXX", true)
	v.SetDefault("SAFESEARCH", false)

	// API + infra
	v.SetDefault("PORT", "8080")
	v.SetDefault("API_TITLE", "nzbidx")
	v.SetDefault("API_RATE_LIMIT", 60)
	v.SetDefault("API_RATE_WINDOW_SECONDS", 60)
	v.SetDefault("NZB_CACHE_TTL_HOURS", 24)
	v.SetDefault("NZB_FAIL_TTL_SECONDS", 300)
	v.SetDefault("CURSOR_DB", "cursors.db")
	v.SetDefault("OPENSEARCH_URL", "http://localhost:9200")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		NNTP: NNTPConfig{
			Host:            v.GetString("NNTP_HOST"),
			Port:            v.GetInt("NNTP_PORT"),
			User:            v.GetString("NNTP_USER"),
			Pass:            v.GetString("NNTP_PASS"),
			GroupWildcard:   v.GetString("NNTP_GROUP_WILDCARD"),
			Timeout:         time.Duration(v.GetInt("NNTP_TIMEOUT_SECONDS")) * time.Second,
			ConnectBase:     time.Duration(v.GetInt("NNTP_CONNECT_BASE")) * time.Second,
			ConnectMaxDelay: time.Duration(v.GetInt("NNTP_CONNECT_MAX_DELAY")) * time.Second,
		},
		Ingest: IngestConfig{
			Batch:          v.GetInt("INGEST_BATCH"),
			BatchMin:       v.GetInt("INGEST_BATCH_MIN"),
			BatchMax:       v.GetInt("INGEST_BATCH_MAX"),
			PollMin:        time.Duration(v.GetInt("INGEST_POLL_MIN_SECONDS")) * time.Second,
			PollMax:        time.Duration(v.GetInt("INGEST_POLL_MAX_SECONDS")) * time.Second,
			SleepMs:        v.GetInt("INGEST_SLEEP_MS"),
			DBLatencyMs:    v.GetInt("INGEST_DB_LATENCY_MS"),
			OSLatencyMs:    v.GetInt("INGEST_OS_LATENCY_MS"),
			LogEvery:       v.GetInt("INGEST_LOG_EVERY"),
			Workers:        v.GetInt("INGEST_WORKERS"),
			DetectLanguage: v.GetBool("DETECT_LANGUAGE"),
			ValidateSegs:   v.GetBool("VALIDATE_SEGMENTS"),
			PartMaxRels:    v.GetInt("RELEASE_PART_MAX_RELEASES"),
			IrrelevantTTL:  time.Duration(v.GetInt("IRRELEVANT_TTL_HOURS")) * time.Hour,
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("CB_FAILURE_THRESHOLD"),
			ResetSeconds:     v.GetFloat64("CB_RESET_SECONDS"),
			RetryMax:         v.GetInt("RETRY_MAX"),
			RetryBase:        time.Duration(v.GetInt("RETRY_BASE_MS")) * time.Millisecond,
			RetryJitter:      time.Duration(v.GetInt("RETRY_JITTER_MS")) * time.Millisecond,
		},
		Retention: RetentionConfig{
			Days:                 v.GetInt("RELEASE_RETENTION_DAYS"),
			MaxReleaseBytes:      v.GetInt64("MAX_RELEASE_BYTES"),
			MovieMinSizeMB:       v.GetInt64("MOVIE_MIN_SIZE_MB"),
			MovieMaxSizeMB:       v.GetInt64("MOVIE_MAX_SIZE_MB"),
			TVMinSizeMB:          v.GetInt64("TV_MIN_SIZE_MB"),
			TVMaxSizeMB:          v.GetInt64("TV_MAX_SIZE_MB"),
			XXXMinSizeMB:         v.GetInt64("XXX_MIN_SIZE_MB"),
			XXXMaxSizeMB:         v.GetInt64("XXX_MAX_SIZE_MB"),
			DisallowedExtensions: splitList(v.GetString("DISALLOWED_EXTENSIONS")),
			Cron:                 v.GetString("RETENTION_CRON"),
		},
		Category: CategoryConfig{
			MoviesCatID: v.GetInt("MOVIES_CAT_ID"),
			TVCatID:     v.GetInt("TV_CAT_ID"),
			AudioCatID:  v.GetInt("AUDIO_CAT_ID"),
			BooksCatID:  v.GetInt("BOOKS_CAT_ID"),
			AdultCatID:  v.GetInt("ADULT_CAT_ID"),
			AllowXXX:    v.GetBool("ALLOW_XXX"),
			SafeSearch:  v.GetBool("SAFESEARCH"),
		},
		API: APIConfig{
			Port:        v.GetString("PORT"),
			APIKeys:     splitList(v.GetString("API_KEYS")),
			RateLimit:   v.GetInt("API_RATE_LIMIT"),
			RateWindow:  time.Duration(v.GetInt("API_RATE_WINDOW_SECONDS")) * time.Second,
			Title:       v.GetString("API_TITLE"),
			NZBCacheTTL: time.Duration(v.GetInt("NZB_CACHE_TTL_HOURS")) * time.Hour,
			NZBFailTTL:  time.Duration(v.GetInt("NZB_FAIL_TTL_SECONDS")) * time.Second,
		},
		CursorDB:      v.GetString("CURSOR_DB"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		OpenSearchURL: v.GetString("OPENSEARCH_URL"),
		RedisURL:      v.GetString("REDIS_URL"),
		LogLevel:      v.GetString("LOG_LEVEL"),
	}

	// Port 563 is the well-known NNTPS port; NNTP_SSL overrides either way.
	cfg.NNTP.TLS = cfg.NNTP.Port == 563
	if v.IsSet("NNTP_SSL") {
		cfg.NNTP.TLS = v.GetBool("NNTP_SSL")
	}

	groups, err := loadGroups(v)
	if err != nil {
		return nil, err
	}
	cfg.NNTP.Groups = groups
	cfg.NNTP.IgnoreGroups = splitList(v.GetString("NNTP_IGNORE_GROUPS"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadGroups resolves the explicit group list: NNTP_GROUPS wins, then
// NNTP_GROUP_FILE. An empty result means the ingest loop discovers groups
// from the wildcard via LIST.
func loadGroups(v *viper.Viper) ([]string, error) {
	if raw := v.GetString("NNTP_GROUPS"); raw != "" {
		return splitList(raw), nil
	}
	if path := v.GetString("NNTP_GROUP_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading NNTP_GROUP_FILE %s: %w", path, err)
		}
		return splitList(string(data)), nil
	}
	return nil, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Ingest.BatchMin > c.Ingest.BatchMax {
		return fmt.Errorf("INGEST_BATCH_MIN (%d) exceeds INGEST_BATCH_MAX (%d)", c.Ingest.BatchMin, c.Ingest.BatchMax)
	}
	if c.Ingest.Workers < 1 {
		c.Ingest.Workers = 1
	}
	if c.Ingest.Workers > 4 {
		c.Ingest.Workers = 4
	}
	return nil
}

// splitList accepts comma or newline separated values and trims the noise.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
