package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Strategy struct {
		CombineMode      string        `yaml:"combine_mode"` // AND, OR, SEQUENTIAL
		Conditions       []string      `yaml:"conditions"`
		SequentialWindow time.Duration `yaml:"sequential_window"`
		MaxHoldings      int           `yaml:"max_holdings"`
		MaxExposurePct   float64       `yaml:"max_exposure_pct"` // 0 disables the cap
		EntryCooldown    time.Duration `yaml:"entry_cooldown"`
		MarketOpen       string        `yaml:"market_open"`  // HH:MM, local time
		MarketClose      string        `yaml:"market_close"` // HH:MM, local time
	} `yaml:"strategy"`
	Allocation struct {
		Policy        string  `yaml:"policy"` // fixed_amount, percentage, pyramid
		Amount        int64   `yaml:"amount"`
		Percent       float64 `yaml:"percent"`
		InitialPct    float64 `yaml:"initial_pct"`
		AdditionalPct float64 `yaml:"additional_pct"`
	} `yaml:"allocation"`
	Exit struct {
		TakeProfitPct   float64       `yaml:"take_profit_pct"`
		StopLossPct     float64       `yaml:"stop_loss_pct"`
		TrailingEnabled bool          `yaml:"trailing_enabled"`
		TrailingTrigger float64       `yaml:"trailing_trigger_pct"`
		TrailingRate    float64       `yaml:"trailing_rate_pct"`
		MaxHold         time.Duration `yaml:"max_hold"` // zero disables
	} `yaml:"exit"`
	Orders struct {
		UnfilledTimeout   time.Duration `yaml:"unfilled_timeout"`
		SweepInterval     time.Duration `yaml:"sweep_interval"`
		ResubmitAsMarket  bool          `yaml:"resubmit_as_market"`
		ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	} `yaml:"orders"`
	Dispatch struct {
		QueueSize int `yaml:"queue_size"`
		Workers   int `yaml:"workers"`
	} `yaml:"dispatch"`
	RateLimit struct {
		PerSecond int `yaml:"per_second"`
		PerHour   int `yaml:"per_hour"`
	} `yaml:"rate_limit"`
	Health struct {
		Interval           time.Duration `yaml:"interval"`
		TokenRefreshMargin time.Duration `yaml:"token_refresh_margin"`
	} `yaml:"health"`
	Kiwoom struct {
		WebSocketURL string        `yaml:"websocket_url"`
		AppKey       string        `yaml:"app_key"`
		AppSecret    string        `yaml:"app_secret"`
		PingInterval time.Duration `yaml:"ping_interval"`
		Buffer       int           `yaml:"buffer"`
	} `yaml:"kiwoom"`
	KIS struct {
		URL                string        `yaml:"url"`
		AppKey             string        `yaml:"app_key"`
		AppSecret          string        `yaml:"app_secret"`
		AccountNumber      string        `yaml:"account_number"`
		AccountProductCode string        `yaml:"account_product_code"`
		Timeout            time.Duration `yaml:"timeout"`
		RetryAttempts      int           `yaml:"retry_attempts"`
	} `yaml:"kis"`
	Notify struct {
		Capacity   int    `yaml:"capacity"`
		KafkaTopic string `yaml:"kafka_topic"`
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notify"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Redis struct {
		Host          string        `yaml:"host"`
		Port          int           `yaml:"port"`
		Password      string        `yaml:"password"`
		DB            int           `yaml:"db"`
		BlacklistKey  string        `yaml:"blacklist_key"`
		RefreshPeriod time.Duration `yaml:"refresh_period"`
	} `yaml:"redis"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets with environment
// variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KIWOOM_APP_KEY"); v != "" {
		c.Kiwoom.AppKey = v
	}
	if v := os.Getenv("KIWOOM_APP_SECRET"); v != "" {
		c.Kiwoom.AppSecret = v
	}
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		c.KIS.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		c.KIS.AppSecret = v
	}
	if v := os.Getenv("KIS_ACCOUNT_NUMBER"); v != "" {
		c.KIS.AccountNumber = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Strategy.CombineMode == "" {
		c.Strategy.CombineMode = "OR"
	}
	if c.Strategy.SequentialWindow <= 0 {
		c.Strategy.SequentialWindow = 3 * time.Minute
	}
	if c.Strategy.MaxHoldings <= 0 {
		c.Strategy.MaxHoldings = 5
	}
	if c.Strategy.MarketOpen == "" {
		c.Strategy.MarketOpen = "09:00"
	}
	if c.Strategy.MarketClose == "" {
		c.Strategy.MarketClose = "15:30"
	}
	if c.Orders.UnfilledTimeout <= 0 {
		c.Orders.UnfilledTimeout = 60 * time.Second
	}
	if c.Orders.SweepInterval <= 0 {
		c.Orders.SweepInterval = 5 * time.Second
	}
	if c.Orders.ReconcileInterval <= 0 {
		c.Orders.ReconcileInterval = time.Second
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 256
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 2
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = 5
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = 30 * time.Second
	}
	if c.Health.TokenRefreshMargin <= 0 {
		c.Health.TokenRefreshMargin = time.Hour
	}
	if c.Notify.Capacity <= 0 {
		c.Notify.Capacity = 100
	}
	if c.Kiwoom.Buffer <= 0 {
		c.Kiwoom.Buffer = 1024
	}
	if c.Kiwoom.PingInterval <= 0 {
		c.Kiwoom.PingInterval = 30 * time.Second
	}
	if c.KIS.Timeout <= 0 {
		c.KIS.Timeout = 10 * time.Second
	}
	if c.Redis.BlacklistKey == "" {
		c.Redis.BlacklistKey = "blacklist"
	}
	if c.Redis.RefreshPeriod <= 0 {
		c.Redis.RefreshPeriod = time.Minute
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Strategy.CombineMode {
	case "AND", "OR":
	case "SEQUENTIAL":
		if len(c.Strategy.Conditions) != 2 {
			return fmt.Errorf("strategy.combine_mode SEQUENTIAL requires exactly two conditions, got %d", len(c.Strategy.Conditions))
		}
	default:
		return fmt.Errorf("strategy.combine_mode must be AND, OR or SEQUENTIAL, got '%s'", c.Strategy.CombineMode)
	}
	if len(c.Strategy.Conditions) == 0 {
		return fmt.Errorf("strategy.conditions cannot be empty")
	}
	if c.Strategy.MaxExposurePct < 0 || c.Strategy.MaxExposurePct > 100 {
		return fmt.Errorf("strategy.max_exposure_pct must be in [0,100], got %v", c.Strategy.MaxExposurePct)
	}
	switch c.Allocation.Policy {
	case "fixed_amount":
		if c.Allocation.Amount <= 0 {
			return fmt.Errorf("allocation.amount must be positive for fixed_amount policy")
		}
	case "percentage":
		if c.Allocation.Percent <= 0 || c.Allocation.Percent > 100 {
			return fmt.Errorf("allocation.percent must be in (0,100], got %v", c.Allocation.Percent)
		}
	case "pyramid":
		if c.Allocation.InitialPct <= 0 || c.Allocation.AdditionalPct < 0 {
			return fmt.Errorf("allocation pyramid percentages invalid")
		}
	default:
		return fmt.Errorf("allocation.policy must be fixed_amount, percentage or pyramid, got '%s'", c.Allocation.Policy)
	}
	if _, err := parseClock(c.Strategy.MarketOpen); err != nil {
		return fmt.Errorf("strategy.market_open: %w", err)
	}
	if _, err := parseClock(c.Strategy.MarketClose); err != nil {
		return fmt.Errorf("strategy.market_close: %w", err)
	}
	if c.KIS.URL == "" {
		return fmt.Errorf("kis.url is required")
	}
	if c.Kiwoom.WebSocketURL == "" {
		return fmt.Errorf("kiwoom.websocket_url is required")
	}
	return nil
}

// InOperatingHours reports whether t falls inside the configured trading
// window on a weekday.
func (c *Config) InOperatingHours(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	openMin, _ := parseClock(c.Strategy.MarketOpen)
	closeMin, _ := parseClock(c.Strategy.MarketClose)
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= openMin && minutes <= closeMin
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time '%s'", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
