package pricing

import "fmt"

// DiscountResult is the resolved price for one product at one quantity.
// TotalPrice always equals PricePerUnit multiplied by the requested quantity.
type DiscountResult struct {
	BasePrice       Money `json:"basePrice"`
	PricePerUnit    Money `json:"pricePerUnit"`
	TotalPrice      Money `json:"totalPrice"`
	DiscountPercent int   `json:"discountPercent"`
}

// IsZero reports whether the result carries no pricing information.
func (r DiscountResult) IsZero() bool {
	return r == DiscountResult{}
}

// Override pins the unit price of a product once the quantity reaches
// MinQuantity, ignoring the tier table for those quantities.
type Override struct {
	Product     ProductKey `yaml:"product" json:"product"`
	MinQuantity int        `yaml:"minQuantity" json:"minQuantity"`
	UnitPrice   Money      `yaml:"unitPrice" json:"unitPrice"`
}

// Resolver selects unit prices from a tier table and product overrides.
type Resolver struct {
	table     *TierTable
	overrides map[ProductKey]Override
}

// NewResolver validates overrides against the table.
func NewResolver(table *TierTable, overrides ...Override) (*Resolver, error) {
	if table == nil {
		return nil, fmt.Errorf("nil tier table: %w", ErrInvalidTable)
	}
	byKey := make(map[ProductKey]Override, len(overrides))
	for _, ov := range overrides {
		if _, ok := table.tiers[ov.Product]; !ok {
			return nil, fmt.Errorf("override for unknown product %q: %w", ov.Product, ErrInvalidTable)
		}
		if ov.MinQuantity < 1 {
			return nil, fmt.Errorf("%s: override min quantity must be positive: %w", ov.Product, ErrInvalidTable)
		}
		if ov.UnitPrice < 0 {
			return nil, fmt.Errorf("%s: negative override price: %w", ov.Product, ErrInvalidTable)
		}
		// The override applies from MinQuantity on, so it must not cost more
		// than the breakpoint it replaces or anything below it.
		if _, tier, _ := table.floor(ov.Product, ov.MinQuantity); ov.UnitPrice > tier.UnitPrice {
			return nil, fmt.Errorf("%s: override price %d exceeds tier price %d at quantity %d: %w",
				ov.Product, ov.UnitPrice, tier.UnitPrice, tier.Quantity, ErrInvalidTable)
		}
		if ov.MinQuantity > 1 {
			if _, below, _ := table.floor(ov.Product, ov.MinQuantity-1); ov.UnitPrice > below.UnitPrice {
				return nil, fmt.Errorf("%s: override price %d rises above %d at quantity %d: %w",
					ov.Product, ov.UnitPrice, below.UnitPrice, below.Quantity, ErrInvalidTable)
			}
		}
		if _, dup := byKey[ov.Product]; dup {
			return nil, fmt.Errorf("%s: duplicate override: %w", ov.Product, ErrInvalidTable)
		}
		byKey[ov.Product] = ov
	}
	return &Resolver{table: table, overrides: byKey}, nil
}

// Resolve prices quantity units of key. Unknown keys and non-positive
// quantities yield a zero result rather than an error so that checkout paths
// never fail on a configuration gap.
func (r *Resolver) Resolve(key ProductKey, quantity int) DiscountResult {
	return r.resolve(key, quantity, quantity)
}

// resolve selects the tier with tierQty and charges qty units.
func (r *Resolver) resolve(key ProductKey, tierQty, qty int) DiscountResult {
	if r == nil || qty <= 0 || tierQty <= 0 {
		return DiscountResult{}
	}
	base, tier, ok := r.table.floor(key, tierQty)
	if !ok {
		return DiscountResult{}
	}

	if ov, ok := r.overrides[key]; ok && tierQty >= ov.MinQuantity {
		return DiscountResult{
			BasePrice:       base.UnitPrice,
			PricePerUnit:    ov.UnitPrice,
			TotalPrice:      ov.UnitPrice * Money(qty),
			DiscountPercent: percentOff(base.UnitPrice, ov.UnitPrice),
		}
	}

	pct := percentOff(base.UnitPrice, tier.UnitPrice)
	if tier.DiscountPercent != nil {
		pct = *tier.DiscountPercent
	}
	return DiscountResult{
		BasePrice:       base.UnitPrice,
		PricePerUnit:    tier.UnitPrice,
		TotalPrice:      tier.UnitPrice * Money(qty),
		DiscountPercent: pct,
	}
}

// percentOff returns round_half_up((base-price)/base*100) using integer math.
func percentOff(base, price Money) int {
	if base <= 0 || price >= base {
		return 0
	}
	if price < 0 {
		price = 0
	}
	diff := base - price
	return int((diff*200 + base) / (2 * base))
}
