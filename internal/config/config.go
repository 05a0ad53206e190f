package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full execution engine configuration. Values come from an
// optional JSON file, overridden by environment variables; an .env file is
// loaded first when present.
type Config struct {
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`
	LogDir      string `json:"log_dir"`
	StateDir    string `json:"state_dir"`

	Exchanges []ExchangeConfig `json:"exchanges"`

	Risk       RiskConfig       `json:"risk"`
	Orders     OrdersConfig     `json:"orders"`
	MarketData MarketDataConfig `json:"market_data"`

	Monitoring    MonitoringConfig    `json:"monitoring"`
	Notifications NotificationsConfig `json:"notifications"`
}

// NotificationsConfig carries the optional operator alert channel
type NotificationsConfig struct {
	TelegramToken  string `json:"telegram_token"`
	TelegramChatID string `json:"telegram_chat_id"`
}

// ExchangeConfig describes one venue to register at startup
type ExchangeConfig struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	APIKey  string `json:"api_key"`
	Secret  string `json:"secret"`
	Testnet bool   `json:"testnet"`
	Demo    bool   `json:"demo"`
}

// RiskConfig carries the portfolio policy limits
type RiskConfig struct {
	MaxExposureRatio     float64 `json:"max_exposure_ratio"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	MaxConcentration     float64 `json:"max_concentration"`
	MaxLeverage          float64 `json:"max_leverage"`
	MaxPositionSizeRatio float64 `json:"max_position_size_ratio"`
}

// OrdersConfig tunes the strategy order monitors
type OrdersConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	TickInterval time.Duration `json:"tick_interval"`
	MaxRetries   int           `json:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// MarketDataConfig tunes the tick cache and price streamer. With no symbols
// configured the streamer stays off.
type MarketDataConfig struct {
	Symbols         []string      `json:"symbols"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	WebsocketURL    string        `json:"websocket_url"`
	WebsocketVenue  string        `json:"websocket_venue"`
	ArbScanInterval time.Duration `json:"arb_scan_interval"`
	MinArbSpreadPct float64       `json:"min_arb_spread_pct"`
}

// MonitoringConfig carries the observability endpoints
type MonitoringConfig struct {
	PrometheusPort int `json:"prometheus_port"`
	HealthPort     int `json:"health_port"`
}

// Load builds the engine configuration. configFile may be empty, in which
// case only defaults and environment variables apply.
func Load(configFile string) (*Config, error) {
	// Best effort: a missing .env file is not an error
	_ = godotenv.Load()

	cfg := defaults()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		LogDir:      "logs",
		StateDir:    "state",
		Risk: RiskConfig{
			MaxExposureRatio:     1.0,
			MaxDrawdown:          0.25,
			MaxConcentration:     0.40,
			MaxLeverage:          10.0,
			MaxPositionSizeRatio: 0.20,
		},
		Orders: OrdersConfig{
			PollInterval: 500 * time.Millisecond,
			TickInterval: 250 * time.Millisecond,
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		MarketData: MarketDataConfig{
			RefreshInterval: 2 * time.Second,
			ArbScanInterval: 10 * time.Second,
			MinArbSpreadPct: 0.001,
		},
		Monitoring: MonitoringConfig{
			PrometheusPort: 8080,
			HealthPort:     8081,
		},
	}
}

// applyEnv overlays environment variables on top of the loaded values
func (c *Config) applyEnv() {
	c.Environment = getEnv("ENV", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.StateDir = getEnv("STATE_DIR", c.StateDir)

	c.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", c.Monitoring.PrometheusPort)
	c.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", c.Monitoring.HealthPort)

	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)

	c.Orders.PollInterval = getEnvDuration("ORDER_POLL_INTERVAL", c.Orders.PollInterval)
	c.Orders.TickInterval = getEnvDuration("ORDER_TICK_INTERVAL", c.Orders.TickInterval)

	if symbols := os.Getenv("MARKETDATA_SYMBOLS"); symbols != "" {
		c.MarketData.Symbols = splitList(symbols)
	}
	c.MarketData.RefreshInterval = getEnvDuration("MARKETDATA_REFRESH_INTERVAL", c.MarketData.RefreshInterval)
	c.MarketData.WebsocketURL = getEnv("MARKETDATA_WS_URL", c.MarketData.WebsocketURL)
	c.MarketData.WebsocketVenue = getEnv("MARKETDATA_WS_VENUE", c.MarketData.WebsocketVenue)

	c.Risk.MaxExposureRatio = getEnvFloat("RISK_MAX_EXPOSURE_RATIO", c.Risk.MaxExposureRatio)
	c.Risk.MaxDrawdown = getEnvFloat("RISK_MAX_DRAWDOWN", c.Risk.MaxDrawdown)
	c.Risk.MaxConcentration = getEnvFloat("RISK_MAX_CONCENTRATION", c.Risk.MaxConcentration)
	c.Risk.MaxLeverage = getEnvFloat("RISK_MAX_LEVERAGE", c.Risk.MaxLeverage)
	c.Risk.MaxPositionSizeRatio = getEnvFloat("RISK_MAX_POSITION_SIZE_RATIO", c.Risk.MaxPositionSizeRatio)

	// Single-venue setups can configure the exchange entirely from env
	if name := os.Getenv("EXCHANGE_TYPE"); name != "" {
		c.Exchanges = append(c.Exchanges, ExchangeConfig{
			ID:      getEnv("EXCHANGE_ID", name),
			Type:    name,
			APIKey:  os.Getenv("EXCHANGE_API_KEY"),
			Secret:  os.Getenv("EXCHANGE_SECRET"),
			Testnet: getEnvBool("EXCHANGE_TESTNET", true),
			Demo:    getEnvBool("EXCHANGE_DEMO", false),
		})
	}
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.ID == "" {
			return fmt.Errorf("exchange entry is missing an id")
		}
		if ex.Type == "" {
			return fmt.Errorf("exchange %s is missing a type", ex.ID)
		}
		if seen[ex.ID] {
			return fmt.Errorf("duplicate exchange id %s", ex.ID)
		}
		seen[ex.ID] = true
	}

	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown > 1 {
		return fmt.Errorf("risk.max_drawdown must be in (0, 1], got %v", c.Risk.MaxDrawdown)
	}
	if c.Risk.MaxConcentration <= 0 || c.Risk.MaxConcentration > 1 {
		return fmt.Errorf("risk.max_concentration must be in (0, 1], got %v", c.Risk.MaxConcentration)
	}
	if c.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("risk.max_leverage must be positive, got %v", c.Risk.MaxLeverage)
	}
	if c.Orders.PollInterval <= 0 || c.Orders.TickInterval <= 0 {
		return fmt.Errorf("order intervals must be positive")
	}
	if len(c.MarketData.Symbols) > 0 && c.MarketData.RefreshInterval <= 0 {
		return fmt.Errorf("market_data.refresh_interval must be positive")
	}
	return nil
}

// splitList parses a comma-separated env value, trimming whitespace
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
