package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/salinassolar/crm-messaging/internal/model"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Channels  ChannelsConfig
	Window    WindowConfig
	Vendors   VendorsConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	// UseMemory selects the in-memory store (STORE=memory); PostgresURL is
	// then not required. Meant for local runs and tests only.
	UseMemory   bool
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval    time.Duration
	SendTimeout time.Duration
}

// ChannelsConfig holds the minimum spacing between consecutive sends per
// channel, matching each provider's rate limit.
type ChannelsConfig struct {
	SendIntervals map[model.Channel]time.Duration
}

type WindowConfig struct {
	// HumanAgent is the extended messaging-window duration for Meta
	// channels. Zero disables the extended window; a nonzero value must
	// exceed the 24h standard window or validation rejects it.
	HumanAgent time.Duration
}

type VendorsConfig struct {
	Semaphore SemaphoreConfig
	Resend    ResendConfig
	Meta      MetaConfig
}

// A vendor config with missing credentials disables its channel(s).

type SemaphoreConfig struct {
	URL        string
	APIKey     string
	SenderName string
}

func (c SemaphoreConfig) Enabled() bool { return c.APIKey != "" }

type ResendConfig struct {
	URL    string
	APIKey string
	From   string
}

func (c ResendConfig) Enabled() bool { return c.APIKey != "" && c.From != "" }

type MetaConfig struct {
	URL         string
	PageID      string
	AccessToken string
}

func (c MetaConfig) Enabled() bool { return c.PageID != "" && c.AccessToken != "" }

func LoadAll() (*Config, error) {
	var errs []error

	collectInt := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	useMemory := getEnv("STORE", "postgres") == "memory"

	var postgresURL string
	if !useMemory {
		v, err := requireEnv("POSTGRES_URL")
		if err != nil {
			errs = append(errs, err)
		}
		postgresURL = v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			UseMemory:   useMemory,
			PostgresURL: postgresURL,
		},
		Scheduler: SchedulerConfig{
			Interval:    time.Duration(collectInt("SCHED_INTERVAL_SECONDS", 60)) * time.Second,
			SendTimeout: time.Duration(collectInt("SEND_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Channels: ChannelsConfig{
			SendIntervals: map[model.Channel]time.Duration{
				model.ChannelSMS:       time.Duration(collectInt("SMS_SEND_INTERVAL_SECONDS", 1)) * time.Second,
				model.ChannelEmail:     time.Duration(collectInt("EMAIL_SEND_INTERVAL_SECONDS", 6)) * time.Second,
				model.ChannelFacebook:  time.Duration(collectInt("FACEBOOK_SEND_INTERVAL_SECONDS", 2)) * time.Second,
				model.ChannelInstagram: time.Duration(collectInt("INSTAGRAM_SEND_INTERVAL_SECONDS", 2)) * time.Second,
			},
		},
		Window: WindowConfig{
			HumanAgent: time.Duration(collectInt("HUMAN_AGENT_WINDOW_HOURS", 168)) * time.Hour,
		},
		Vendors: VendorsConfig{
			Semaphore: SemaphoreConfig{
				URL:        getEnv("SEMAPHORE_URL", "https://api.semaphore.co/api/v4/messages"),
				APIKey:     os.Getenv("SEMAPHORE_API_KEY"),
				SenderName: os.Getenv("SEMAPHORE_SENDER_NAME"),
			},
			Resend: ResendConfig{
				URL:    getEnv("RESEND_URL", "https://api.resend.com"),
				APIKey: os.Getenv("RESEND_API_KEY"),
				From:   os.Getenv("RESEND_FROM"),
			},
			Meta: MetaConfig{
				URL:         getEnv("META_GRAPH_URL", "https://graph.facebook.com/v19.0"),
				PageID:      os.Getenv("META_PAGE_ID"),
				AccessToken: os.Getenv("META_ACCESS_TOKEN"),
			},
		},
	}

	cfg.Redis, errs = loadRedisConfig(errs)

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig(errs []error) (RedisConfig, []error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, errs
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errs
}

func validate(cfg *Config) []error {
	var errs []error

	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT_SECONDS must be > 0"))
	}
	for ch, interval := range cfg.Channels.SendIntervals {
		if interval <= 0 {
			errs = append(errs, fmt.Errorf("send interval for channel %s must be > 0", ch))
		}
	}
	if ha := cfg.Window.HumanAgent; ha < 0 || (ha > 0 && ha <= 24*time.Hour) {
		errs = append(errs, errors.New("HUMAN_AGENT_WINDOW_HOURS must be 0 or > 24"))
	}

	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
