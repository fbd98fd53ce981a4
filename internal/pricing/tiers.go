package pricing

import (
	"errors"
	"fmt"
	"sort"
)

// Money represents a monetary value stored in the smallest displayed currency unit.
type Money = int64

// ErrInvalidTable is returned when a tier table violates its invariants.
var ErrInvalidTable = errors.New("invalid tier table")

// TierEntry is a single quantity breakpoint.
type TierEntry struct {
	Quantity        int    `yaml:"quantity" json:"quantity"`
	UnitPrice       Money  `yaml:"unitPrice" json:"unitPrice"`
	DiscountPercent *int   `yaml:"discountPercent,omitempty" json:"discountPercent,omitempty"`
	BoxPrice        *Money `yaml:"boxPrice,omitempty" json:"boxPrice,omitempty"`
}

// TierTable maps product keys to their breakpoints ordered by quantity. It is
// immutable once built and safe for concurrent readers.
type TierTable struct {
	tiers map[ProductKey][]TierEntry
}

// NewTierTable copies, sorts and validates the provided breakpoints.
func NewTierTable(src map[ProductKey][]TierEntry) (*TierTable, error) {
	tiers := make(map[ProductKey][]TierEntry, len(src))
	for key, entries := range src {
		if key == "" {
			return nil, fmt.Errorf("empty product key: %w", ErrInvalidTable)
		}
		sorted := make([]TierEntry, len(entries))
		copy(sorted, entries)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Quantity < sorted[j].Quantity })
		if err := validateTiers(key, sorted); err != nil {
			return nil, err
		}
		tiers[key] = sorted
	}
	return &TierTable{tiers: tiers}, nil
}

func validateTiers(key ProductKey, entries []TierEntry) error {
	if len(entries) == 0 || entries[0].Quantity != 1 {
		return fmt.Errorf("%s: breakpoint 1 is required: %w", key, ErrInvalidTable)
	}
	for i, e := range entries {
		if e.UnitPrice < 0 {
			return fmt.Errorf("%s: negative unit price at quantity %d: %w", key, e.Quantity, ErrInvalidTable)
		}
		if e.DiscountPercent != nil && (*e.DiscountPercent < 0 || *e.DiscountPercent > 100) {
			return fmt.Errorf("%s: discount percent out of range at quantity %d: %w", key, e.Quantity, ErrInvalidTable)
		}
		if e.BoxPrice != nil && *e.BoxPrice < 0 {
			return fmt.Errorf("%s: negative box price at quantity %d: %w", key, e.Quantity, ErrInvalidTable)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if e.Quantity == prev.Quantity {
			return fmt.Errorf("%s: duplicate breakpoint %d: %w", key, e.Quantity, ErrInvalidTable)
		}
		if e.UnitPrice > prev.UnitPrice {
			return fmt.Errorf("%s: unit price rises from %d to %d at quantity %d: %w", key, prev.UnitPrice, e.UnitPrice, e.Quantity, ErrInvalidTable)
		}
	}
	return nil
}

// Lookup returns a copy of the breakpoints for key. Unknown keys report false.
func (t *TierTable) Lookup(key ProductKey) ([]TierEntry, bool) {
	if t == nil {
		return nil, false
	}
	entries, ok := t.tiers[key]
	if !ok {
		return nil, false
	}
	out := make([]TierEntry, len(entries))
	copy(out, entries)
	return out, true
}

// Keys returns the configured product keys in lexical order.
func (t *TierTable) Keys() []ProductKey {
	if t == nil {
		return nil
	}
	keys := make([]ProductKey, 0, len(t.tiers))
	for k := range t.tiers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// floor returns the base breakpoint and the highest breakpoint not exceeding qty.
func (t *TierTable) floor(key ProductKey, qty int) (base, selected TierEntry, ok bool) {
	if t == nil {
		return TierEntry{}, TierEntry{}, false
	}
	entries := t.tiers[key]
	if len(entries) == 0 {
		return TierEntry{}, TierEntry{}, false
	}
	base = entries[0]
	selected = base
	for _, e := range entries {
		if e.Quantity > qty {
			break
		}
		selected = e
	}
	return base, selected, true
}
