package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Config carries every engine tunable. Values come from environment
// variables or an optional app.env file in the working directory.
type Config struct {
	// Exchange access
	APIKey     string `mapstructure:"API_KEY"`
	APISecret  string `mapstructure:"API_SECRET"`
	BaseURL    string `mapstructure:"BASE_URL"`
	StreamURL  string `mapstructure:"STREAM_URL"`
	ProxyURL   string `mapstructure:"PROXY_URL"`
	SymbolsCSV string `mapstructure:"SYMBOLS"`

	// Position sizing
	Leverage    int     `mapstructure:"LEVERAGE"`
	MarginUSDT  float64 `mapstructure:"MARGIN_USDT"` // fixed margin per entry; 0 means explicit amounts
	MaxLeverage int     `mapstructure:"MAX_LEVERAGE"`

	// Protective exits
	SLPct             float64 `mapstructure:"SL_PCT"`
	TPPct             float64 `mapstructure:"TP_PCT"`
	TrailTriggerROI   float64 `mapstructure:"TRAIL_TRIGGER_ROI"`
	TrailLockROI      float64 `mapstructure:"TRAIL_LOCK_ROI"`
	TrailLockFraction float64 `mapstructure:"TRAIL_LOCK_FRACTION"`
	FeeBufferPct      float64 `mapstructure:"FEE_BUFFER_PCT"`
	RetracementPct    float64 `mapstructure:"RETRACEMENT_PCT"`

	// Portfolio risk
	RiskPerTrade         float64 `mapstructure:"RISK_PER_TRADE"`
	MaxPortfolioLeverage float64 `mapstructure:"MAX_PORTFOLIO_LEVERAGE"`
	MaxDrawdownPct       float64 `mapstructure:"MAX_DRAWDOWN_PCT"`
	CorrelationThreshold float64 `mapstructure:"CORRELATION_THRESHOLD"`
	CorrelationWindow    int     `mapstructure:"CORRELATION_WINDOW"`

	// Entry execution
	ChaseTimeoutSec   int     `mapstructure:"CHASE_TIMEOUT_SEC"`
	PollIntervalMs    int     `mapstructure:"POLL_INTERVAL_MS"`
	TwapThresholdUSDT float64 `mapstructure:"TWAP_THRESHOLD_USDT"`
	TwapChunks        int     `mapstructure:"TWAP_CHUNKS"`
	TwapDelaySec      int     `mapstructure:"TWAP_DELAY_SEC"`
	GridEnabled       bool    `mapstructure:"GRID_ENABLED"`
	GridLevels        int     `mapstructure:"GRID_LEVELS"`
	GridSpacingPct    float64 `mapstructure:"GRID_SPACING_PCT"`
	GridWaitSec       int     `mapstructure:"GRID_WAIT_SEC"`

	// Backtest
	FeeRate        float64 `mapstructure:"FEE_RATE"`
	MaxPositionPct float64 `mapstructure:"MAX_POSITION_PCT"`

	// Scheduling
	TickIntervalSec      int  `mapstructure:"TICK_INTERVAL_SEC"`
	ReconcileIntervalSec int  `mapstructure:"RECONCILE_INTERVAL_SEC"`
	SnapshotIntervalSec  int  `mapstructure:"SNAPSHOT_INTERVAL_SEC"`
	SignalMaxAgeSec      int  `mapstructure:"SIGNAL_MAX_AGE_SEC"`
	WorkerCap            int  `mapstructure:"WORKER_CAP"`
	AutoReverse          bool `mapstructure:"AUTO_REVERSE"`

	// Infrastructure
	NatsURL      string `mapstructure:"NATS_URL"`
	DBDSN        string `mapstructure:"DB_DSN"`
	OpsPort      string `mapstructure:"OPS_PORT"`
	SnapshotPath string `mapstructure:"SNAPSHOT_PATH"`
}

// Symbols returns the configured symbol list.
func (c Config) Symbols() []string {
	parts := strings.Split(c.SymbolsCSV, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(strings.ToUpper(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadConfig reads configuration from app.env and the environment.
func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("BASE_URL", "https://fapi.binance.com")
	viper.SetDefault("STREAM_URL", "wss://fstream.binance.com/ws")
	viper.SetDefault("SYMBOLS", "BTCUSDT")

	viper.SetDefault("LEVERAGE", 5)
	viper.SetDefault("MARGIN_USDT", 100.0)
	viper.SetDefault("MAX_LEVERAGE", 20)

	viper.SetDefault("SL_PCT", 0.02)
	viper.SetDefault("TP_PCT", 0.06)
	viper.SetDefault("TRAIL_TRIGGER_ROI", 0.3)
	viper.SetDefault("TRAIL_LOCK_ROI", 0.8)
	viper.SetDefault("TRAIL_LOCK_FRACTION", 0.5)
	viper.SetDefault("FEE_BUFFER_PCT", 0.001)
	viper.SetDefault("RETRACEMENT_PCT", 0.015)

	viper.SetDefault("RISK_PER_TRADE", 0.02)
	viper.SetDefault("MAX_PORTFOLIO_LEVERAGE", 3.0)
	viper.SetDefault("MAX_DRAWDOWN_PCT", 0.1)
	viper.SetDefault("CORRELATION_THRESHOLD", 0.8)
	viper.SetDefault("CORRELATION_WINDOW", 48)

	viper.SetDefault("CHASE_TIMEOUT_SEC", 5)
	viper.SetDefault("POLL_INTERVAL_MS", 1000)
	viper.SetDefault("TWAP_THRESHOLD_USDT", 5000.0)
	viper.SetDefault("TWAP_CHUNKS", 3)
	viper.SetDefault("TWAP_DELAY_SEC", 2)
	viper.SetDefault("GRID_ENABLED", false)
	viper.SetDefault("GRID_LEVELS", 3)
	viper.SetDefault("GRID_SPACING_PCT", 0.001)
	viper.SetDefault("GRID_WAIT_SEC", 10)

	viper.SetDefault("FEE_RATE", 0.0005)
	viper.SetDefault("MAX_POSITION_PCT", 0.5)

	viper.SetDefault("TICK_INTERVAL_SEC", 3)
	viper.SetDefault("RECONCILE_INTERVAL_SEC", 300)
	viper.SetDefault("SNAPSHOT_INTERVAL_SEC", 60)
	viper.SetDefault("SIGNAL_MAX_AGE_SEC", 300)
	viper.SetDefault("WORKER_CAP", 8)
	viper.SetDefault("AUTO_REVERSE", false)

	viper.SetDefault("NATS_URL", "nats://localhost:4222")
	viper.SetDefault("OPS_PORT", "9090")
	viper.SetDefault("SNAPSHOT_PATH", "account_status.json")

	err = viper.ReadInConfig()
	// If config file not found, we can still use env vars
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}

	if err != nil {
		return Config{}, err
	}
	err = viper.Unmarshal(&config)
	return
}

// Store hands out the current configuration and accepts live updates.
// Readers always get a copy.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore wraps an initial configuration.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies a mutation to the stored configuration.
func (s *Store) Update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}
