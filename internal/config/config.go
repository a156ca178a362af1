package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	State    StateConfig    `yaml:"state"`
	Venues   []VenueConfig  `yaml:"venues"`
	Hedge    HedgeConfig    `yaml:"hedge"`
	Risk     RiskConfig     `yaml:"risk"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Retry    []RetryRule    `yaml:"retry"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	History  HistoryConfig  `yaml:"history"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type VenueConfig struct {
	Name          string        `yaml:"name"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	PriceDecimals int           `yaml:"price_decimals"`
	SizeDecimals  int           `yaml:"size_decimals"`
}

type HedgeConfig struct {
	Symbols        []string      `yaml:"symbols"`
	NotionalUSD    float64       `yaml:"notional_usd"`
	Leverage       float64       `yaml:"leverage"`
	Cycles         int           `yaml:"cycles"`
	WaitBetween    time.Duration `yaml:"wait_between"`
	HoldDuration   time.Duration `yaml:"hold_duration"`
	CloseFirst     string        `yaml:"close_first"`
	SlippagePct    float64       `yaml:"slippage_pct"`
	MaxSlippagePct float64       `yaml:"max_slippage_pct"`
}

type RiskConfig struct {
	Mode           string     `yaml:"mode"`
	TargetPercent  float64    `yaml:"target_percent"`
	StopPercent    float64    `yaml:"stop_percent"`
	RiskReward     [2]float64 `yaml:"risk_reward"`
	MaxStopPercent float64    `yaml:"max_stop_percent"`
}

type MonitorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxHold      time.Duration `yaml:"max_hold"`
}

type RetryRule struct {
	Match       string  `yaml:"match"`
	StopPercent float64 `yaml:"stop_percent"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	Schema    string `yaml:"schema"`
	QueueSize int    `yaml:"queue_size"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// applyEnvOverrides lets secrets stay out of the yaml file.
func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("MV_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("MV_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/mv-hedge-bot.db"
	}
	for i := range cfg.Venues {
		if cfg.Venues[i].Timeout == 0 {
			cfg.Venues[i].Timeout = 10 * time.Second
		}
		if cfg.Venues[i].PriceDecimals == 0 {
			cfg.Venues[i].PriceDecimals = 2
		}
		if cfg.Venues[i].SizeDecimals == 0 {
			cfg.Venues[i].SizeDecimals = 4
		}
	}
	if cfg.Hedge.Leverage == 0 {
		cfg.Hedge.Leverage = 1
	}
	if cfg.Hedge.WaitBetween == 0 {
		cfg.Hedge.WaitBetween = 30 * time.Second
	}
	if cfg.Hedge.HoldDuration == 0 {
		cfg.Hedge.HoldDuration = 5 * time.Minute
	}
	if cfg.Hedge.SlippagePct == 0 {
		cfg.Hedge.SlippagePct = 3
	}
	if cfg.Hedge.CloseFirst == "" && len(cfg.Venues) > 0 {
		cfg.Hedge.CloseFirst = cfg.Venues[0].Name
	}
	if cfg.Risk.Mode == "" {
		cfg.Risk.Mode = "percent"
	}
	if cfg.Risk.MaxStopPercent == 0 {
		cfg.Risk.MaxStopPercent = 20
	}
	if cfg.Monitor.PollInterval == 0 {
		cfg.Monitor.PollInterval = 5 * time.Second
	}
	if cfg.Monitor.MaxHold == 0 {
		cfg.Monitor.MaxHold = cfg.Hedge.HoldDuration
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if len(cfg.Venues) == 0 {
		return errors.New("at least one venue is required")
	}
	seen := make(map[string]struct{}, len(cfg.Venues))
	for _, v := range cfg.Venues {
		if v.Name == "" {
			return errors.New("venue.name is required")
		}
		if v.BaseURL == "" {
			return fmt.Errorf("venue %s: base_url is required", v.Name)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("duplicate venue name %s", v.Name)
		}
		seen[v.Name] = struct{}{}
	}
	if len(cfg.Hedge.Symbols) == 0 {
		return errors.New("hedge.symbols is required")
	}
	if cfg.Hedge.NotionalUSD <= 0 {
		return errors.New("hedge.notional_usd must be > 0")
	}
	if cfg.Hedge.Leverage <= 0 {
		return errors.New("hedge.leverage must be > 0")
	}
	if _, ok := seen[cfg.Hedge.CloseFirst]; !ok {
		return fmt.Errorf("hedge.close_first %q is not a configured venue", cfg.Hedge.CloseFirst)
	}
	switch cfg.Risk.Mode {
	case "percent":
		if cfg.Risk.TargetPercent < 0 || cfg.Risk.StopPercent < 0 {
			return errors.New("risk percentages must be >= 0")
		}
	case "risk_reward":
		if cfg.Risk.StopPercent <= 0 {
			return errors.New("risk.stop_percent must be > 0 in risk_reward mode")
		}
		if cfg.Risk.RiskReward[0] <= 0 || cfg.Risk.RiskReward[1] <= 0 {
			return errors.New("risk.risk_reward parts must be > 0")
		}
	default:
		return fmt.Errorf("unknown risk.mode %q", cfg.Risk.Mode)
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram token and chat_id are required when telegram is enabled")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	return nil
}
