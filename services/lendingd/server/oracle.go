package server

import (
	"time"

	"tierlend/native/lending"
	"tierlend/native/pricing"
	"tierlend/observability"
)

// instrumentedPriceSource counts every oracle read the engine makes and
// tracks the age of accepted quotes.
type instrumentedPriceSource struct {
	inner lending.PriceSource
}

// InstrumentPriceSource wraps a price source with oracle read metrics.
func InstrumentPriceSource(inner lending.PriceSource) lending.PriceSource {
	if inner == nil {
		return nil
	}
	return &instrumentedPriceSource{inner: inner}
}

func (s *instrumentedPriceSource) LatestPrice(token string) (pricing.Quote, error) {
	quote, err := s.inner.LatestPrice(token)
	observability.Oracle().RecordRead(token, time.Since(quote.UpdatedAt), err)
	return quote, err
}

func (s *instrumentedPriceSource) Healthy(token string) bool {
	return s.inner.Healthy(token)
}
