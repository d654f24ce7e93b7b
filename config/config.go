// Package config holds the validated parameter records for a simulation run
// and loads them from YAML files with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/evdnx/gridbot/exchange"
)

// SideParams is the full strategy parameter vector for one side of the book.
// Long and short carry independent instances.
type SideParams struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	WalletExposureLimit float64 `mapstructure:"wallet_exposure_limit" yaml:"wallet_exposure_limit"`

	// Ladder shape
	MaxNEntryOrders int     `mapstructure:"max_n_entry_orders" yaml:"max_n_entry_orders"`
	GridSpan        float64 `mapstructure:"grid_span" yaml:"grid_span"`
	EPriceExpBase   float64 `mapstructure:"eprice_exp_base" yaml:"eprice_exp_base"`

	// First-order placement
	InitialQtyPct        float64 `mapstructure:"initial_qty_pct" yaml:"initial_qty_pct"`
	InitialEPriceEMADist float64 `mapstructure:"initial_eprice_ema_dist" yaml:"initial_eprice_ema_dist"`

	// Per-step average-price drift
	EPricePPriceDiff float64 `mapstructure:"eprice_pprice_diff" yaml:"eprice_pprice_diff"`

	// Tail tranche
	SecondaryAllocation float64 `mapstructure:"secondary_allocation" yaml:"secondary_allocation"`
	SecondaryPPriceDiff float64 `mapstructure:"secondary_pprice_diff" yaml:"secondary_pprice_diff"`

	// Close ladder
	MinMarkup    float64 `mapstructure:"min_markup" yaml:"min_markup"`
	MarkupRange  float64 `mapstructure:"markup_range" yaml:"markup_range"`
	NCloseOrders float64 `mapstructure:"n_close_orders" yaml:"n_close_orders"`

	// Unstick policy
	AutoUnstuckWalletExposureThreshold float64 `mapstructure:"auto_unstuck_wallet_exposure_threshold" yaml:"auto_unstuck_wallet_exposure_threshold"`
	AutoUnstuckEMADist                 float64 `mapstructure:"auto_unstuck_ema_dist" yaml:"auto_unstuck_ema_dist"`

	// EMA band bounds, in minutes
	EMASpanMin float64 `mapstructure:"ema_span_min" yaml:"ema_span_min"`
	EMASpanMax float64 `mapstructure:"ema_span_max" yaml:"ema_span_max"`
}

// Validate checks that the side vector is admissible. It returns the first
// encountered problem so the caller can surface a clear configuration error
// before any simulation starts.
func (p *SideParams) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.WalletExposureLimit <= 0 {
		return fmt.Errorf("wallet_exposure_limit (%f) must be positive", p.WalletExposureLimit)
	}
	if p.MaxNEntryOrders < 1 {
		return errors.New("max_n_entry_orders must be at least 1")
	}
	if p.GridSpan <= 0 || p.GridSpan >= 1 {
		return fmt.Errorf("grid_span (%f) must be in (0, 1)", p.GridSpan)
	}
	if p.EPriceExpBase <= 0 {
		return errors.New("eprice_exp_base must be positive")
	}
	if p.InitialQtyPct <= 0 || p.InitialQtyPct > 1 {
		return fmt.Errorf("initial_qty_pct (%f) must be in (0, 1]", p.InitialQtyPct)
	}
	if p.EPricePPriceDiff <= 0 {
		return errors.New("eprice_pprice_diff must be positive")
	}
	if p.SecondaryAllocation < 0 || p.SecondaryAllocation >= 1 {
		return fmt.Errorf("secondary_allocation (%f) must be in [0, 1)", p.SecondaryAllocation)
	}
	if p.MinMarkup <= 0 {
		return errors.New("min_markup must be positive")
	}
	if p.MarkupRange < 0 {
		return errors.New("markup_range cannot be negative")
	}
	if p.NCloseOrders < 1 {
		return errors.New("n_close_orders must be at least 1")
	}
	if p.AutoUnstuckWalletExposureThreshold < 0 || p.AutoUnstuckWalletExposureThreshold > 1 {
		return fmt.Errorf("auto_unstuck_wallet_exposure_threshold (%f) must be in [0, 1]", p.AutoUnstuckWalletExposureThreshold)
	}
	if p.EMASpanMin <= 0 || p.EMASpanMax <= 0 {
		return errors.New("ema spans must be positive")
	}
	if p.EMASpanMin > p.EMASpanMax {
		return fmt.Errorf("ema_span_min (%f) cannot exceed ema_span_max (%f)", p.EMASpanMin, p.EMASpanMax)
	}
	return nil
}

// BotConfig is the complete description of a simulation run.
type BotConfig struct {
	Exchange        exchange.Instrument `mapstructure:"exchange" yaml:"exchange"`
	StartingBalance float64             `mapstructure:"starting_balance" yaml:"starting_balance"`
	LatencyMS       float64             `mapstructure:"latency_ms" yaml:"latency_ms"`
	Long            SideParams          `mapstructure:"long" yaml:"long"`
	Short           SideParams          `mapstructure:"short" yaml:"short"`
}

// Validate checks the run configuration and both side vectors.
func (c *BotConfig) Validate() error {
	if c.StartingBalance <= 0 {
		return fmt.Errorf("starting_balance (%f) must be positive", c.StartingBalance)
	}
	if c.LatencyMS < 0 {
		return errors.New("latency_ms cannot be negative")
	}
	if c.Exchange.QtyStep <= 0 {
		return errors.New("exchange qty_step must be positive")
	}
	if c.Exchange.PriceStep <= 0 {
		return errors.New("exchange price_step must be positive")
	}
	if c.Exchange.CMult <= 0 {
		return errors.New("exchange c_mult must be positive")
	}
	if c.Exchange.Spot && c.Short.Enabled {
		return errors.New("spot markets disallow the short side")
	}
	if err := c.Long.Validate(); err != nil {
		return fmt.Errorf("long: %w", err)
	}
	if err := c.Short.Validate(); err != nil {
		return fmt.Errorf("short: %w", err)
	}
	return nil
}

// Load reads the configuration from the default search paths and environment.
// Config file search order:
//  1. ./config/gridbot.yaml
//  2. ~/.gridbot/gridbot.yaml
//
// Environment variables override config file values, GRIDBOT_LONG_GRID_SPAN style.
func Load() (*BotConfig, error) {
	v := newViper()
	v.SetConfigName("gridbot")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".gridbot"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// no config file: defaults plus env vars
	}
	return unmarshal(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*BotConfig, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GRIDBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*BotConfig, error) {
	var cfg BotConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults applies the reference parameter vector so a minimal config file
// only needs to override what differs.
func setDefaults(v *viper.Viper) {
	v.SetDefault("starting_balance", 1000.0)
	v.SetDefault("latency_ms", 1000.0)

	v.SetDefault("exchange.qty_step", 0.001)
	v.SetDefault("exchange.price_step", 0.01)
	v.SetDefault("exchange.min_qty", 0.001)
	v.SetDefault("exchange.min_cost", 5.0)
	v.SetDefault("exchange.c_mult", 1.0)
	v.SetDefault("exchange.maker_fee", 0.0002)

	for _, side := range []string{"long", "short"} {
		v.SetDefault(side+".enabled", side == "long")
		v.SetDefault(side+".wallet_exposure_limit", 0.5)
		v.SetDefault(side+".max_n_entry_orders", 10)
		v.SetDefault(side+".grid_span", 0.3)
		v.SetDefault(side+".eprice_exp_base", 1.618034)
		v.SetDefault(side+".initial_qty_pct", 0.01)
		v.SetDefault(side+".initial_eprice_ema_dist", 0.0)
		v.SetDefault(side+".eprice_pprice_diff", 0.0025)
		v.SetDefault(side+".secondary_allocation", 0.0)
		v.SetDefault(side+".secondary_pprice_diff", 0.25)
		v.SetDefault(side+".min_markup", 0.0075)
		v.SetDefault(side+".markup_range", 0.0075)
		v.SetDefault(side+".n_close_orders", 7)
		v.SetDefault(side+".auto_unstuck_wallet_exposure_threshold", 0.0)
		v.SetDefault(side+".auto_unstuck_ema_dist", 0.0)
		v.SetDefault(side+".ema_span_min", 240.0)
		v.SetDefault(side+".ema_span_max", 1440.0)
	}
}

// SaveToFile writes the configuration to a YAML file.
func SaveToFile(cfg *BotConfig, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
