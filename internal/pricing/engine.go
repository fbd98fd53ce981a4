package pricing

import (
	"fmt"
	"strings"
)

// Mode selects which quantity drives tier selection for a product.
type Mode string

const (
	// ModeLine selects the tier from the line's own quantity.
	ModeLine Mode = "line"
	// ModeCart selects the tier from the summed quantity of every line that
	// shares the product key.
	ModeCart Mode = "cart"
)

// CartLine is a read-only snapshot of one cart row.
type CartLine struct {
	ProductKey ProductKey `json:"productKey"`
	Quantity   int        `json:"quantity"`
}

// LineTotal is the priced form of a CartLine.
type LineTotal struct {
	ProductKey   ProductKey `json:"productKey"`
	Quantity     int        `json:"quantity"`
	TierQuantity int        `json:"tierQuantity"`
	DiscountResult
}

// BonusRule grants Quantity units of Reward once the cart holds at least
// Threshold units of Trigger.
type BonusRule struct {
	Trigger   ProductKey `yaml:"trigger" json:"trigger"`
	Reward    ProductKey `yaml:"reward" json:"reward"`
	Threshold int        `yaml:"threshold" json:"threshold"`
	Quantity  int        `yaml:"quantity" json:"quantity"`
}

// CartTotals aggregates computed pricing components for one cart snapshot.
type CartTotals struct {
	Lines         []LineTotal `json:"lines"`
	Total         Money       `json:"total"`
	OriginalTotal Money       `json:"originalTotal"`
	BonusEligible bool        `json:"bonusEligible"`
	BonusProduct  ProductKey  `json:"bonusProduct,omitempty"`
	BonusQuantity int         `json:"bonusQuantity"`
	// BonusMissing is how many more trigger units unlock the bonus.
	BonusMissing int `json:"bonusMissing"`
}

// Savings returns the discount granted relative to base prices.
func (t CartTotals) Savings() Money {
	return t.OriginalTotal - t.Total
}

// Engine resolves prices for single products and whole carts. An Engine is
// immutable after construction; replace it wholesale through Provider.
type Engine struct {
	version  string
	currency string
	table    *TierTable
	resolver *Resolver
	modes    map[ProductKey]Mode
	labels   map[ProductKey]map[string]string
	bonus    *BonusRule
}

// Version identifies the configuration the engine was built from.
func (e *Engine) Version() string { return e.version }

// Currency returns the ISO currency code prices are expressed in.
func (e *Engine) Currency() string { return e.currency }

// Table exposes the tier table for read-only listings.
func (e *Engine) Table() *TierTable { return e.table }

// Bonus returns the configured bonus rule, if any.
func (e *Engine) Bonus() (BonusRule, bool) {
	if e.bonus == nil {
		return BonusRule{}, false
	}
	return *e.bonus, true
}

// Known reports whether key has tiers configured.
func (e *Engine) Known(key ProductKey) bool {
	_, ok := e.table.tiers[key]
	return ok
}

// Mode returns the tier selection mode for key.
func (e *Engine) Mode(key ProductKey) Mode {
	if m, ok := e.modes[key]; ok {
		return m
	}
	return ModeLine
}

// Label returns the display name of key for locale, falling back to English
// and then to the key itself.
func (e *Engine) Label(key ProductKey, locale string) string {
	labels := e.labels[key]
	if v := labels[strings.ToLower(strings.TrimSpace(locale))]; v != "" {
		return v
	}
	if v := labels["en"]; v != "" {
		return v
	}
	return string(key)
}

// Resolve prices quantity units of key using the line's own quantity.
func (e *Engine) Resolve(key ProductKey, quantity int) DiscountResult {
	return e.resolver.Resolve(key, quantity)
}

// Aggregate prices every line and totals the cart. Lines with an unknown key
// or a non-positive quantity contribute zero.
func (e *Engine) Aggregate(lines []CartLine) CartTotals {
	sums := make(map[ProductKey]int, len(lines))
	for _, l := range lines {
		if l.Quantity > 0 {
			sums[l.ProductKey] += l.Quantity
		}
	}

	totals := CartTotals{Lines: make([]LineTotal, 0, len(lines))}
	for _, l := range lines {
		tierQty := l.Quantity
		if l.Quantity > 0 && e.Mode(l.ProductKey) == ModeCart {
			tierQty = sums[l.ProductKey]
		}
		res := e.resolver.resolve(l.ProductKey, tierQty, l.Quantity)
		totals.Lines = append(totals.Lines, LineTotal{
			ProductKey:     l.ProductKey,
			Quantity:       l.Quantity,
			TierQuantity:   tierQty,
			DiscountResult: res,
		})
		totals.Total += res.TotalPrice
		if !res.IsZero() {
			totals.OriginalTotal += res.BasePrice * Money(l.Quantity)
		}
	}

	if e.bonus != nil {
		have := sums[e.bonus.Trigger]
		totals.BonusProduct = e.bonus.Reward
		totals.BonusQuantity = e.bonus.Quantity
		totals.BonusEligible = have >= e.bonus.Threshold
		if !totals.BonusEligible {
			totals.BonusMissing = e.bonus.Threshold - have
		}
	}
	return totals
}

func validateBonus(b BonusRule, table *TierTable) error {
	if _, ok := table.tiers[b.Trigger]; !ok {
		return fmt.Errorf("bonus trigger %q is not priced: %w", b.Trigger, ErrInvalidTable)
	}
	if _, ok := table.tiers[b.Reward]; !ok {
		return fmt.Errorf("bonus reward %q is not priced: %w", b.Reward, ErrInvalidTable)
	}
	if b.Threshold < 1 {
		return fmt.Errorf("bonus threshold must be positive: %w", ErrInvalidTable)
	}
	if b.Quantity < 0 {
		return fmt.Errorf("bonus quantity must not be negative: %w", ErrInvalidTable)
	}
	return nil
}
