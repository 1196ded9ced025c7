package config

import (
	"fmt"
	"math/big"
	"strings"

	"tierlend/crypto"
	"tierlend/native/lending"
	"tierlend/native/pricing"
	"tierlend/native/rates"
)

// Addresses are the parsed treasury accounts.
type Addresses struct {
	Pool    crypto.Address
	Vault   crypto.Address
	Reserve crypto.Address
	Admin   crypto.Address
}

// Addresses parses the configured bech32 treasury addresses.
func (c *Config) Addresses() (Addresses, error) {
	out := Addresses{}
	var err error
	if out.Pool, err = parseAddress("Protocol.PoolAddress", c.Protocol.PoolAddress); err != nil {
		return out, err
	}
	if out.Vault, err = parseAddress("Protocol.VaultAddress", c.Protocol.VaultAddress); err != nil {
		return out, err
	}
	if out.Reserve, err = parseAddress("Protocol.ReserveAddress", c.Protocol.ReserveAddress); err != nil {
		return out, err
	}
	if out.Admin, err = parseAddress("Protocol.AdminAddress", c.Protocol.AdminAddress); err != nil {
		return out, err
	}
	return out, nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("config: %s is required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("config: invalid %s: %w", field, err)
	}
	return addr, nil
}

// BuildRateModel parses the coefficient strings into a validated model.
func (c *Config) BuildRateModel() (*rates.Model, error) {
	base, err := parseAmount("RateModel.BaseRate", c.RateModel.BaseRate)
	if err != nil {
		return nil, err
	}
	slope1, err := parseAmount("RateModel.Slope1", c.RateModel.Slope1)
	if err != nil {
		return nil, err
	}
	slope2, err := parseAmount("RateModel.Slope2", c.RateModel.Slope2)
	if err != nil {
		return nil, err
	}
	kink, err := parseAmount("RateModel.Kink", c.RateModel.Kink)
	if err != nil {
		return nil, err
	}
	adjustment, err := parseSignedAmount("RateModel.RiskAdjustment", c.RateModel.RiskAdjustment)
	if err != nil {
		return nil, err
	}
	maxRate, err := parseAmount("RateModel.MaxBorrowRate", c.RateModel.MaxBorrowRate)
	if err != nil {
		return nil, err
	}
	reserve, err := parseAmount("RateModel.ReserveFactor", c.RateModel.ReserveFactor)
	if err != nil {
		return nil, err
	}
	return rates.NewModel(base, slope1, slope2, kink, adjustment, maxRate, reserve)
}

// CollateralSymbols returns the allow-listed token symbols in config order.
func (c *Config) CollateralSymbols() []string {
	out := make([]string, 0, len(c.Collateral))
	for _, token := range c.Collateral {
		out = append(out, token.Symbol)
	}
	return out
}

// TokenClasses maps each configured symbol to its oracle staleness class.
func (c *Config) TokenClasses() (map[string]pricing.TokenClass, error) {
	out := make(map[string]pricing.TokenClass, len(c.Collateral))
	for _, token := range c.Collateral {
		switch strings.ToLower(strings.TrimSpace(token.Class)) {
		case "", "volatile":
			out[token.Symbol] = pricing.ClassVolatile
		case "stable":
			out[token.Symbol] = pricing.ClassStable
		default:
			return nil, fmt.Errorf("config: unknown token class %q for %s", token.Class, token.Symbol)
		}
	}
	return out, nil
}

// BootstrapPrices parses the startup quotes into 1e18 integers.
func (c *Config) BootstrapPrices() (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(c.Oracle.BootstrapPrices))
	for symbol, raw := range c.Oracle.BootstrapPrices {
		price, err := parseAmount("Oracle.BootstrapPrices."+symbol, raw)
		if err != nil {
			return nil, err
		}
		if price.Sign() <= 0 {
			return nil, fmt.Errorf("config: Oracle.BootstrapPrices.%s must be positive", symbol)
		}
		out[symbol] = price
	}
	return out, nil
}

// ValidatedTiers returns the tier table after checking range coverage.
func (c *Config) ValidatedTiers() ([]lending.RiskTier, error) {
	if err := lending.ValidateTiers(c.Tiers); err != nil {
		return nil, err
	}
	return c.Tiers, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	out, err := parseSignedAmount(field, value)
	if err != nil {
		return nil, err
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("config: %s must not be negative", field)
	}
	return out, nil
}

func parseSignedAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("config: invalid %s: %q is not a base-10 amount", field, value)
	}
	return out, nil
}
