package lending

// FeeTotals returns a copy of the accumulated origination and late fee
// counters. The underlying tokens already live at the reserve address.
func (e *Engine) FeeTotals() (*FeeAccrual, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	fees, err := e.ensureFees()
	if err != nil {
		return nil, err
	}
	return fees.Clone(), nil
}
