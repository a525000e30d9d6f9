package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the trading agent.
type Config struct {
	Storage   Storage        `yaml:"storage"`
	Logging   Logging        `yaml:"logging"`
	Server    Server         `yaml:"server"`
	Trading   TradingConfig  `yaml:"trading"`
	Monitor   MonitorConfig  `yaml:"monitor"`
	Schedule  ScheduleConfig `yaml:"schedule"`
	Quote     QuoteConfig    `yaml:"quote"`
	LLM       LLMConfig      `yaml:"llm"`
	DingTalk  DingTalkConfig `yaml:"dingtalk"`
	Watchlist []string       `yaml:"watchlist"`
	Settings  Settings       `yaml:"settings"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Server holds the status API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TradingConfig defines ledger and risk parameters.
type TradingConfig struct {
	InitialCash    float64 `yaml:"initial_cash"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	MaxBuyCount    int     `yaml:"max_buy_count"`
}

// MonitorConfig controls the price monitor poll loop.
type MonitorConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// ScheduleConfig holds HH:MM times (market timezone) for the daily routines.
type ScheduleConfig struct {
	PreMarket string `yaml:"pre_market"`
	Midday    string `yaml:"midday"`
	PreClose  string `yaml:"pre_close"`
	DataSync  string `yaml:"data_sync"`
}

// QuoteConfig holds the market-data API endpoint and credentials.
type QuoteConfig struct {
	BaseURL         string `yaml:"base_url"`
	Token           string `yaml:"token"`
	TimeoutSec      int    `yaml:"timeout_sec"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// LLMConfig holds the OpenAI-compatible analysis endpoint.
type LLMConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// DingTalkConfig holds the notification webhook credentials. Notifications
// are disabled when the access token is empty.
type DingTalkConfig struct {
	AccessToken string `yaml:"access_token"`
	Secret      string `yaml:"secret"`
}

// Settings holds feature toggles for the daily routines.
type Settings struct {
	EnableAutoMining bool `yaml:"enable_auto_mining"`
	ScanLimit        int  `yaml:"scan_limit"`
	NewsLimit        int  `yaml:"news_limit"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set. Secrets are
// expected to come from the environment rather than the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.Quote.Token = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL_ID"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("DING_ROBOT_ACCESS_TOKEN"); v != "" {
		cfg.DingTalk.AccessToken = v
	}
	if v := os.Getenv("DING_ROBOT_SECRET"); v != "" {
		cfg.DingTalk.Secret = v
	}
}

// applyDefaults fills zero values the rest of the system depends on.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/strategy.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Trading.InitialCash == 0 {
		cfg.Trading.InitialCash = 1000000
	}
	if cfg.Trading.MaxPositionPct == 0 {
		cfg.Trading.MaxPositionPct = 1.0
	}
	if cfg.Trading.MaxBuyCount == 0 {
		cfg.Trading.MaxBuyCount = 2
	}
	if cfg.Monitor.IntervalSec == 0 {
		cfg.Monitor.IntervalSec = 60
	}
	if cfg.Schedule.PreMarket == "" {
		cfg.Schedule.PreMarket = "08:45"
	}
	if cfg.Schedule.Midday == "" {
		cfg.Schedule.Midday = "11:15"
	}
	if cfg.Schedule.PreClose == "" {
		cfg.Schedule.PreClose = "14:40"
	}
	if cfg.Schedule.DataSync == "" {
		cfg.Schedule.DataSync = "16:30"
	}
	if cfg.Quote.TimeoutSec == 0 {
		cfg.Quote.TimeoutSec = 10
	}
	if cfg.Quote.RateLimitPerMin == 0 {
		cfg.Quote.RateLimitPerMin = 120
	}
	if cfg.LLM.TimeoutSec == 0 {
		cfg.LLM.TimeoutSec = 60
	}
	if cfg.Settings.ScanLimit == 0 {
		cfg.Settings.ScanLimit = 5
	}
	if cfg.Settings.NewsLimit == 0 {
		cfg.Settings.NewsLimit = 3
	}

	for i, code := range cfg.Watchlist {
		cfg.Watchlist[i] = strings.TrimSpace(code)
	}
}
