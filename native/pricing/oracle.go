package pricing

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

// TokenClass partitions collateral tokens by volatility so stale-price windows
// can be tuned per class: volatile assets tolerate far less staleness than
// stablecoins.
type TokenClass string

const (
	ClassVolatile TokenClass = "volatile"
	ClassStable   TokenClass = "stable"
)

var (
	// ErrNoFreshQuote indicates no registered feed produced a quote inside
	// the staleness window for the token.
	ErrNoFreshQuote = errors.New("pricing: no fresh oracle quote available")
	// ErrStalePrice indicates the best available quote is older than the
	// token's maximum age. Callers must treat this as fatal to the current
	// operation rather than falling back to the stale value.
	ErrStalePrice = errors.New("pricing: quote older than staleness window")
	// ErrFeedNotConfigured indicates the token has no price feed at all.
	ErrFeedNotConfigured = errors.New("pricing: no feed configured for token")
	// ErrInvalidPrice rejects zero or negative prices at the feed boundary.
	ErrInvalidPrice = errors.New("pricing: price must be positive")
)

// Quote carries a token price in 1e18 fixed point along with the feed's
// report time and identifier.
type Quote struct {
	Price     *big.Int
	UpdatedAt time.Time
	Source    string
}

// Clone returns a deep copy of the quote so callers cannot mutate shared
// state.
func (q Quote) Clone() Quote {
	clone := Quote{UpdatedAt: q.UpdatedAt, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Oracle resolves the latest price for a token symbol.
type Oracle interface {
	LatestPrice(token string) (Quote, error)
}

// Aggregator consults registered feeds in priority order until one returns a
// quote inside the token's staleness window. It also backs the liquidation
// circuit breaker through Healthy.
type Aggregator struct {
	mu          sync.RWMutex
	priority    []string
	feeds       map[string]Oracle
	classes     map[string]TokenClass
	maxAge      map[TokenClass]time.Duration
	manual      map[string]Quote
	nowFn       func() time.Time
	manualLabel string
}

// NewAggregator constructs an aggregator with the given staleness windows.
// Zero windows fall back to conservative defaults.
func NewAggregator(volatileMaxAge, stableMaxAge time.Duration) *Aggregator {
	if volatileMaxAge <= 0 {
		volatileMaxAge = 5 * time.Minute
	}
	if stableMaxAge <= 0 {
		stableMaxAge = time.Hour
	}
	return &Aggregator{
		feeds:   make(map[string]Oracle),
		classes: make(map[string]TokenClass),
		maxAge: map[TokenClass]time.Duration{
			ClassVolatile: volatileMaxAge,
			ClassStable:   stableMaxAge,
		},
		manual:      make(map[string]Quote),
		nowFn:       time.Now,
		manualLabel: "manual",
	}
}

// SetNowFunc overrides the wall clock, used by tests to pin staleness checks.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// SetTokenClass records the volatility class used to select the staleness
// window for a token. Unclassified tokens are treated as volatile.
func (a *Aggregator) SetTokenClass(token string, class TokenClass) {
	if a == nil {
		return
	}
	symbol := normalizeSymbol(token)
	if symbol == "" {
		return
	}
	a.mu.Lock()
	a.classes[symbol] = class
	a.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier. Identifiers
// are lowercased so lookups are casing independent.
func (a *Aggregator) Register(name string, feed Oracle) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || feed == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// SetManualPrice installs an admin-supplied quote for the token. Manual quotes
// participate in staleness checks like any feed and are consulted last.
func (a *Aggregator) SetManualPrice(token string, price *big.Int, updatedAt time.Time) error {
	if a == nil {
		return ErrFeedNotConfigured
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	symbol := normalizeSymbol(token)
	if symbol == "" {
		return ErrFeedNotConfigured
	}
	a.mu.Lock()
	a.manual[symbol] = Quote{Price: new(big.Int).Set(price), UpdatedAt: updatedAt, Source: a.manualLabel}
	a.mu.Unlock()
	return nil
}

// LatestPrice returns the freshest acceptable quote for the token. Stale
// quotes are rejected outright: the caller must abort rather than price
// against old data.
func (a *Aggregator) LatestPrice(token string) (Quote, error) {
	if a == nil {
		return Quote{}, ErrFeedNotConfigured
	}
	symbol := normalizeSymbol(token)
	if symbol == "" {
		return Quote{}, ErrFeedNotConfigured
	}

	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAgeFor(symbol)
	manual, hasManual := a.manual[symbol]
	now := a.nowFn()
	a.mu.RUnlock()

	sawQuote := false
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[name]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		quote, err := feed.LatestPrice(symbol)
		if err != nil {
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			continue
		}
		sawQuote = true
		if now.Sub(quote.UpdatedAt) <= maxAge {
			if quote.Source == "" {
				quote.Source = name
			}
			return quote.Clone(), nil
		}
	}

	if hasManual {
		sawQuote = true
		if now.Sub(manual.UpdatedAt) <= maxAge {
			return manual.Clone(), nil
		}
	}

	if sawQuote {
		return Quote{}, ErrStalePrice
	}
	return Quote{}, ErrNoFreshQuote
}

// Healthy reports whether the token currently has a fresh quote. Liquidation
// uses this as a circuit breaker: one unhealthy feed blocks seizure entirely.
func (a *Aggregator) Healthy(token string) bool {
	_, err := a.LatestPrice(token)
	return err == nil
}

func (a *Aggregator) maxAgeFor(symbol string) time.Duration {
	class, ok := a.classes[symbol]
	if !ok {
		class = ClassVolatile
	}
	age, ok := a.maxAge[class]
	if !ok {
		return 5 * time.Minute
	}
	return age
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
