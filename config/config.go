package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/risk"
	"github.com/rustyeddy/exitengine/scheduler"
	"github.com/rustyeddy/exitengine/strategy"
)

// Config represents the complete engine configuration
type Config struct {
	Account     AccountConfig                `json:"account" yaml:"account"`
	Engine      EngineConfig                 `json:"engine" yaml:"engine"`
	Exits       ExitsConfig                  `json:"exits" yaml:"exits"`
	Strategy    StrategyConfig               `json:"strategy" yaml:"strategy"`
	Scheduler   SchedulerConfig              `json:"scheduler" yaml:"scheduler"`
	Instruments map[string]market.Instrument `json:"instruments,omitempty" yaml:"instruments,omitempty"`
	Journal     JournalConfig                `json:"journal" yaml:"journal"`
	Exchange    ExchangeConfig               `json:"exchange" yaml:"exchange"`
	API         APIConfig                    `json:"api" yaml:"api"`
	Log         LogConfig                    `json:"log" yaml:"log"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Equity   float64 `json:"equity" yaml:"equity"`
}

// EngineConfig sizes and fills positions
type EngineConfig struct {
	RiskFraction float64 `json:"risk_fraction" yaml:"risk_fraction"` // 0.01 = 1% of equity
	SlippageBps  float64 `json:"slippage_bps" yaml:"slippage_bps"`
	Interval     string  `json:"interval" yaml:"interval"`
	Warmup       int     `json:"warmup" yaml:"warmup"`
	risk.Policy  `yaml:",inline"`
}

// ExitsConfig picks and tunes exit profiles
type ExitsConfig struct {
	Mode               string            `json:"mode" yaml:"mode"` // auto, map or a profile name
	ProfileMap         map[string]string `json:"profile_map,omitempty" yaml:"profile_map,omitempty"`
	exitprofile.Params `yaml:",inline"`
}

// StrategyConfig names the signal function and its parameters
type StrategyConfig struct {
	Name            string `json:"name" yaml:"name"`
	strategy.Params `yaml:",inline"`
}

// SchedulerConfig drives paper runs and the tick watcher
type SchedulerConfig struct {
	Symbols        []string `json:"symbols" yaml:"symbols"`
	Concurrency    int      `json:"concurrency" yaml:"concurrency"`
	Retries        int      `json:"retries" yaml:"retries"`
	BarsLimit      int      `json:"bars_limit" yaml:"bars_limit"`
	PollMS         int      `json:"poll_ms" yaml:"poll_ms"`
	FetchTimeoutMS int      `json:"fetch_timeout_ms" yaml:"fetch_timeout_ms"`
	RatePerSec     float64  `json:"rate_per_sec" yaml:"rate_per_sec"`
	WatchMode      string   `json:"watch_mode" yaml:"watch_mode"`
	Watch          []string `json:"watch,omitempty" yaml:"watch,omitempty"`
	TradeEnabled   bool     `json:"trade_enabled" yaml:"trade_enabled"`
	BarsDir        string   `json:"bars_dir,omitempty" yaml:"bars_dir,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite", "csv" or "none"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

type ExchangeConfig struct {
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty" yaml:"api_secret,omitempty"`
	Testnet   bool   `json:"testnet" yaml:"testnet"`
}

type APIConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "console" or "json"
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if !(c.Account.Equity > 0) {
		return fmt.Errorf("account.equity must be positive")
	}
	if !(c.Engine.RiskFraction > 0) || c.Engine.RiskFraction > 1 {
		return fmt.Errorf("engine.risk_fraction must be between 0 and 1")
	}
	if c.Engine.SlippageBps < 0 {
		return fmt.Errorf("engine.slippage_bps must not be negative")
	}
	if _, err := market.IntervalDuration(c.Engine.Interval); err != nil {
		return fmt.Errorf("engine.interval: %w", err)
	}
	if c.Engine.Warmup < 0 {
		return fmt.Errorf("engine.warmup must not be negative")
	}
	if _, err := c.Selector(); err != nil {
		return err
	}
	if err := c.Exits.Params.Validate(); err != nil {
		return err
	}
	if c.Strategy.Name != "" {
		if _, err := strategy.ByName(c.Strategy.Name, c.Strategy.Params); err != nil {
			return fmt.Errorf("strategy.name: %w", err)
		}
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1")
	}
	if c.Scheduler.Retries < 0 {
		return fmt.Errorf("scheduler.retries must not be negative")
	}
	if _, err := scheduler.ParseWatchMode(c.Scheduler.WatchMode); err != nil {
		return err
	}
	for sym, in := range c.Instruments {
		if in.QtyStep < 0 || in.MinQty < 0 {
			return fmt.Errorf("instruments.%s: step and min qty must not be negative", sym)
		}
	}
	switch c.Journal.Type {
	case "none", "":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.Dir == "" {
			return fmt.Errorf("journal dir required for CSV type")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}
	return nil
}

// Selector builds the exit profile selector from the exits section.
func (c *Config) Selector() (exitprofile.Selector, error) {
	sel := exitprofile.Selector{Mode: strings.ToLower(strings.TrimSpace(c.Exits.Mode))}
	switch sel.Mode {
	case "", exitprofile.ModeAuto, exitprofile.ModeMap:
	default:
		if _, err := exitprofile.Parse(sel.Mode); err != nil {
			return exitprofile.Selector{}, fmt.Errorf("exits.mode: %w", err)
		}
	}
	if len(c.Exits.ProfileMap) > 0 {
		sel.Map = make(map[string]exitprofile.Profile, len(c.Exits.ProfileMap))
		for k, v := range c.Exits.ProfileMap {
			p, err := exitprofile.Parse(v)
			if err != nil {
				return exitprofile.Selector{}, fmt.Errorf("exits.profile_map.%s: %w", k, err)
			}
			sel.Map[strings.ToLower(k)] = p
		}
	}
	return sel, nil
}

// RegisterInstruments adds the configured instruments to the market table.
func (c *Config) RegisterInstruments() {
	for sym, in := range c.Instruments {
		if in.Symbol == "" {
			in.Symbol = sym
		}
		market.Register(in)
	}
}

// PollInterval is the watcher period, never below the scheduler minimum.
func (c *Config) PollInterval() time.Duration {
	return max(time.Duration(c.Scheduler.PollMS)*time.Millisecond, scheduler.MinPollInterval)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "paper",
			Currency: "USDT",
			Equity:   10000,
		},
		Engine: EngineConfig{
			RiskFraction: 0.01,
			SlippageBps:  0,
			Interval:     "4h",
			Warmup:       50,
		},
		Exits: ExitsConfig{
			Mode:   exitprofile.ModeAuto,
			Params: exitprofile.DefaultParams(),
		},
		Strategy: StrategyConfig{
			Name: "atr_breakout",
		},
		Scheduler: SchedulerConfig{
			Symbols:        []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			Concurrency:    scheduler.DefaultConcurrency,
			Retries:        scheduler.DefaultRetries,
			BarsLimit:      scheduler.DefaultBarsLimit,
			PollMS:         1000,
			FetchTimeoutMS: 5000,
			RatePerSec:     10,
			WatchMode:      string(scheduler.WatchAuto),
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./exitengine.db",
		},
		API: APIConfig{Addr: ":8080"},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the process environment on c.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	float := func(key string, dst *float64, scale float64) {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f * scale
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	float("EQUITY", &c.Account.Equity, 1)
	float("RISK_PCT", &c.Engine.RiskFraction, 0.01)
	float("SLIPPAGE_BPS", &c.Engine.SlippageBps, 1)
	str("INTERVAL", &c.Engine.Interval)

	str("EXIT_MODE", &c.Exits.Mode)
	if v, ok := get("EXIT_PROFILE_MAP"); ok {
		m, err := exitprofile.ParseMap(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("EXIT_PROFILE_MAP: %w", err))
		} else {
			c.Exits.ProfileMap = make(map[string]string, len(m))
			for k, p := range m {
				c.Exits.ProfileMap[k] = p.String()
			}
		}
	}
	float("CHANDELIER_K", &c.Exits.ChandelierK, 1)
	float("HARD_TP_RR_TREND", &c.Exits.TrendTargetRR, 1)
	float("ATR_TP_MULT", &c.Exits.ATRTargetMult, 1)
	integer("TIME_STOP_BARS", &c.Exits.TimeStopBars)
	float("MR_TP_RR", &c.Exits.MeanRevertRR, 1)

	str("STRATEGY", &c.Strategy.Name)

	if v, ok := get("SYMBOLS"); ok {
		c.Scheduler.Symbols = splitSymbols(v)
	}
	integer("CONCURRENCY", &c.Scheduler.Concurrency)
	integer("RETRIES", &c.Scheduler.Retries)
	integer("RT_POLL_MS", &c.Scheduler.PollMS)
	if c.Scheduler.PollMS > 0 && c.Scheduler.PollMS < 200 {
		c.Scheduler.PollMS = 200
	}
	str("RT_WATCH_MODE", &c.Scheduler.WatchMode)
	if v, ok := get("RT_WATCH"); ok {
		c.Scheduler.Watch = splitSymbols(v)
	}
	boolean("TRADE_ENABLED", &c.Scheduler.TradeEnabled)

	str("BINANCE_API_KEY", &c.Exchange.APIKey)
	str("BINANCE_API_SECRET", &c.Exchange.APISecret)
	boolean("BINANCE_TESTNET", &c.Exchange.Testnet)

	if v, ok := get("JOURNAL_DB"); ok {
		c.Journal.Type = "sqlite"
		c.Journal.DBPath = v
	}
	str("API_ADDR", &c.API.Addr)
	str("LOG_LEVEL", &c.Log.Level)

	return errors.Join(errs...)
}

// splitSymbols accepts "BTC/USDT, eth/usdt" style lists.
func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(p), "/", ""))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
