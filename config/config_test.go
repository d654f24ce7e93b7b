package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evdnx/gridbot/exchange"
)

func validConfig() BotConfig {
	side := SideParams{
		Enabled:             true,
		WalletExposureLimit: 0.3,
		MaxNEntryOrders:     8,
		GridSpan:            0.3,
		EPriceExpBase:       1.618034,
		InitialQtyPct:       0.05,
		EPricePPriceDiff:    0.01,
		MinMarkup:           0.0075,
		MarkupRange:         0.0075,
		NCloseOrders:        7,
		EMASpanMin:          240,
		EMASpanMax:          1440,
	}
	short := side
	short.Enabled = false
	return BotConfig{
		Exchange: exchange.Instrument{
			QtyStep:   0.001,
			PriceStep: 0.01,
			MinQty:    0.001,
			MinCost:   5,
			CMult:     1,
			MakerFee:  0.0002,
		},
		StartingBalance: 1000,
		LatencyMS:       1000,
		Long:            side,
		Short:           short,
	}
}

func TestValidateSuccess(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateFailsOnBadSecondaryAllocation(t *testing.T) {
	cfg := validConfig()
	cfg.Long.SecondaryAllocation = 1.0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for secondary_allocation >= 1")
	}
}

func TestValidateFailsOnNegativeBalance(t *testing.T) {
	cfg := validConfig()
	cfg.StartingBalance = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative starting balance")
	}
}

func TestValidateFailsOnSpotShort(t *testing.T) {
	cfg := validConfig()
	cfg.Exchange.Spot = true
	cfg.Short.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for short side on spot market")
	}
}

func TestValidateSkipsDisabledSide(t *testing.T) {
	cfg := validConfig()
	cfg.Short = SideParams{} // zeroed but disabled
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled side should not be validated, got %v", err)
	}
}

func TestValidateFailsOnSpanOrder(t *testing.T) {
	cfg := validConfig()
	cfg.Long.EMASpanMin = 2000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for ema_span_min > ema_span_max")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridbot.yaml")
	yaml := `
starting_balance: 2000
exchange:
  qty_step: 0.01
long:
  grid_span: 0.25
  wallet_exposure_limit: 0.4
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.StartingBalance != 2000 {
		t.Fatalf("starting_balance = %v, want 2000", cfg.StartingBalance)
	}
	if cfg.Exchange.QtyStep != 0.01 {
		t.Fatalf("qty_step = %v, want 0.01", cfg.Exchange.QtyStep)
	}
	if cfg.Long.GridSpan != 0.25 {
		t.Fatalf("grid_span = %v, want 0.25", cfg.Long.GridSpan)
	}
	if cfg.Long.WalletExposureLimit != 0.4 {
		t.Fatalf("wallet_exposure_limit = %v, want 0.4", cfg.Long.WalletExposureLimit)
	}
	// defaults fill the rest
	if cfg.Long.EPriceExpBase != 1.618034 {
		t.Fatalf("eprice_exp_base default = %v, want 1.618034", cfg.Long.EPriceExpBase)
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "gridbot.yaml")
	cfg := validConfig()
	if err := SaveToFile(&cfg, path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.StartingBalance != cfg.StartingBalance {
		t.Fatalf("round trip starting_balance = %v, want %v", loaded.StartingBalance, cfg.StartingBalance)
	}
	if loaded.Long.GridSpan != cfg.Long.GridSpan {
		t.Fatalf("round trip grid_span = %v, want %v", loaded.Long.GridSpan, cfg.Long.GridSpan)
	}
}
