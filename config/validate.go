package config

import "fmt"

// ValidateConfig rejects configurations the engines cannot safely run with.
// Address and coefficient parsing happens in the typed accessors; this covers
// the cross-field rules.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if _, err := c.Addresses(); err != nil {
		return err
	}
	if _, err := c.BuildRateModel(); err != nil {
		return err
	}
	if _, err := c.ValidatedTiers(); err != nil {
		return err
	}
	if _, err := c.TokenClasses(); err != nil {
		return err
	}
	if _, err := c.BootstrapPrices(); err != nil {
		return err
	}
	if len(c.Collateral) == 0 {
		return fmt.Errorf("config: at least one collateral token is required")
	}
	if c.PrincipalToken == "" {
		return fmt.Errorf("config: PrincipalToken is required")
	}
	if c.Lending.MinDeposit != nil && c.Lending.MaxDeposit != nil &&
		c.Lending.MinDeposit.Cmp(c.Lending.MaxDeposit) > 0 {
		return fmt.Errorf("lending: MinDeposit exceeds MaxDeposit")
	}
	if c.Lending.EarlyWithdrawPenaltyPct > 100 {
		return fmt.Errorf("lending: EarlyWithdrawPenaltyPct exceeds 100")
	}
	if c.Lending.LiquidationLTVPct == 0 || c.Lending.LiquidationLTVPct > 100 {
		return fmt.Errorf("lending: LiquidationLTVPct must be in (0,100]")
	}
	return nil
}
