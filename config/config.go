package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"tierlend/native/lending"
)

// Config is the on-disk protocol configuration. Amount fields are decimal
// strings in base units so large values survive the TOML round trip.
type Config struct {
	DataDir        string `toml:"DataDir"`
	PrincipalToken string `toml:"PrincipalToken"`

	Protocol    Protocol           `toml:"Protocol"`
	Pauses      Pauses             `toml:"Pauses"`
	RateModel   RateModel          `toml:"RateModel"`
	Lending     lending.Params     `toml:"Lending"`
	Tiers       []lending.RiskTier `toml:"Tiers"`
	Collateral  []CollateralToken  `toml:"Collateral"`
	CreditScore CreditScore        `toml:"CreditScore"`
	Oracle      Oracle             `toml:"Oracle"`
}

// Protocol names the treasury accounts the engine moves value through.
type Protocol struct {
	PoolAddress    string `toml:"PoolAddress"`
	VaultAddress   string `toml:"VaultAddress"`
	ReserveAddress string `toml:"ReserveAddress"`
	AdminAddress   string `toml:"AdminAddress"`
}

// Pauses holds the per-module kill switches.
type Pauses struct {
	Lending     bool `toml:"Lending"`
	CreditScore bool `toml:"CreditScore"`
}

// IsPaused implements the pause view consulted by module guards.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "lending":
		return p.Lending
	case "creditscore":
		return p.CreditScore
	default:
		return false
	}
}

// RateModel carries the kinked-curve coefficients as 1e18 fixed-point decimal
// strings. RiskAdjustment may be negative.
type RateModel struct {
	BaseRate       string `toml:"BaseRate"`
	Slope1         string `toml:"Slope1"`
	Slope2         string `toml:"Slope2"`
	Kink           string `toml:"Kink"`
	RiskAdjustment string `toml:"RiskAdjustment"`
	MaxBorrowRate  string `toml:"MaxBorrowRate"`
	ReserveFactor  string `toml:"ReserveFactor"`
}

// CollateralToken allow-lists one token and assigns its staleness class.
type CollateralToken struct {
	Symbol string `toml:"Symbol"`
	Class  string `toml:"Class"`
}

// CreditScore bounds the attestation validity window.
type CreditScore struct {
	ValidityWindowSeconds int64 `toml:"ValidityWindowSeconds"`
}

// Oracle seeds the price aggregator at startup. BootstrapPrices supplies
// initial 1e18 quotes per symbol; later updates come through registered feeds
// or the admin price endpoint.
type Oracle struct {
	BootstrapPrices map[string]string `toml:"BootstrapPrices"`
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./tierlend-data"
	}
	if c.PrincipalToken == "" {
		c.PrincipalToken = "TLD"
	}
	c.Lending.EnsureDefaults()
	if len(c.Tiers) == 0 {
		c.Tiers = lending.DefaultTiers()
	}
	if len(c.Collateral) == 0 {
		c.Collateral = []CollateralToken{
			{Symbol: "ETH", Class: "volatile"},
			{Symbol: "USDT", Class: "stable"},
		}
	}
	if c.RateModel == (RateModel{}) {
		c.RateModel = defaultRateModel()
	}
	if len(c.Oracle.BootstrapPrices) == 0 {
		// The principal token is a dollar-pegged unit of account.
		c.Oracle.BootstrapPrices = map[string]string{
			c.PrincipalToken: "1000000000000000000",
		}
	}
}

func defaultRateModel() RateModel {
	return RateModel{
		BaseRate:       "20000000000000000",   // 2%
		Slope1:         "100000000000000000",  // 10%
		Slope2:         "1000000000000000000", // 100% past the kink
		Kink:           "800000000000000000",  // 80% utilisation
		RiskAdjustment: "0",
		MaxBorrowRate:  "2000000000000000000", // 200% hard cap
		ReserveFactor:  "100000000000000000",  // 10% protocol cut
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
