// Package config loads trader configuration from a YAML file with
// COINTRADER_* environment overrides. Venue credentials normally arrive
// through the environment only.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Venue    VenueConfig        `mapstructure:"venue"`
	Log      LogConfig          `mapstructure:"log"`
	Bucket   BucketConfig       `mapstructure:"bucket"`
	Engine   EngineConfig       `mapstructure:"engine"`
	Backtest BacktestConfig     `mapstructure:"backtest"`
	Products []InstrumentConfig `mapstructure:"products"`
}

type VenueConfig struct {
	RestURL   string `mapstructure:"rest_url"`
	WsURL     string `mapstructure:"ws_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"` // error, warn, info
}

type BucketConfig struct {
	Capacity int           `mapstructure:"capacity"`
	Interval time.Duration `mapstructure:"interval"`
}

type EngineConfig struct {
	WatchdogPeriod time.Duration `mapstructure:"watchdog_period"`
	AccountPeriod  time.Duration `mapstructure:"account_period"`
}

type AlphaConfig struct {
	BuyerInitial  float64       `mapstructure:"buyer_initial"`
	SellerInitial float64       `mapstructure:"seller_initial"`
	Lower         float64       `mapstructure:"lower"`
	Upper         float64       `mapstructure:"upper"`
	Decay         float64       `mapstructure:"decay"`
	FillBump      float64       `mapstructure:"fill_bump"`
	RapidBoost    float64       `mapstructure:"rapid_boost"` // set negative to disable
	Backoff       float64       `mapstructure:"backoff"`
	LongIdle      time.Duration `mapstructure:"long_idle"`
	RapidWindow   time.Duration `mapstructure:"rapid_window"`
}

type InstrumentConfig struct {
	ProductID      string      `mapstructure:"product_id"`
	Trade          bool        `mapstructure:"trade"`
	PDiffThresh    float64     `mapstructure:"p_diff_thresh"`
	VDiffThresh    float64     `mapstructure:"v_diff_thresh"`
	PortfolioRatio float64     `mapstructure:"portfolio_ratio"`
	Alpha          AlphaConfig `mapstructure:"alpha"`
}

type BacktestConfig struct {
	TicksCSV       string        `mapstructure:"ticks_csv"`
	WalletCSV      string        `mapstructure:"wallet_csv"`
	Delta          time.Duration `mapstructure:"delta"`
	BaseMinSize    float64       `mapstructure:"base_min_size"`
	QuoteIncrement float64       `mapstructure:"quote_increment"`
	BaseIncrement  float64       `mapstructure:"base_increment"`
	MakerFeeRate   float64       `mapstructure:"maker_fee_rate"`
	TakerFeeRate   float64       `mapstructure:"taker_fee_rate"`
}

// Load reads the config file (optional) and applies env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for i := range cfg.Products {
		applyAlphaDefaults(&cfg.Products[i].Alpha)
		if cfg.Products[i].ProductID == "" {
			return nil, fmt.Errorf("products[%d]: product_id is required", i)
		}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("venue.rest_url", "https://api.pro.coinbase.com")
	v.SetDefault("venue.ws_url", "wss://ws-feed.pro.coinbase.com")
	// Registered so AutomaticEnv can see them; set via COINTRADER_VENUE_*.
	v.SetDefault("venue.api_key", "")
	v.SetDefault("venue.api_secret", "")

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")

	// 5 tokens refilled every 200ms: 5/s average, 10/s bursts.
	v.SetDefault("bucket.capacity", 5)
	v.SetDefault("bucket.interval", 200*time.Millisecond)

	v.SetDefault("engine.watchdog_period", 15*time.Second)
	v.SetDefault("engine.account_period", 5*time.Second)

	v.SetDefault("backtest.delta", time.Second)
	v.SetDefault("backtest.base_min_size", 0.0001)
	v.SetDefault("backtest.quote_increment", 0.01)
	v.SetDefault("backtest.base_increment", 0.0001)
	v.SetDefault("backtest.maker_fee_rate", 0.001)
	v.SetDefault("backtest.taker_fee_rate", 0.002)
}

func applyAlphaDefaults(a *AlphaConfig) {
	if a.BuyerInitial == 0 {
		a.BuyerInitial = 0.02
	}
	if a.SellerInitial == 0 {
		a.SellerInitial = 0.03
	}
	if a.Lower == 0 {
		a.Lower = 0.0005
	}
	if a.Upper == 0 {
		a.Upper = 0.5
	}
	if a.Decay == 0 {
		a.Decay = 1.25
	}
	if a.FillBump == 0 {
		a.FillBump = 1.0075
	}
	if a.RapidBoost == 0 {
		a.RapidBoost = 5
	}
	if a.Backoff == 0 {
		a.Backoff = 1.05
	}
	if a.LongIdle == 0 {
		a.LongIdle = 5 * time.Minute
	}
	if a.RapidWindow == 0 {
		a.RapidWindow = 30 * time.Second
	}
}
