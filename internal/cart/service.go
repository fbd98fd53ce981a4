package cart

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shbotirov227/nutva-sub000/internal/obs"
	"github.com/shbotirov227/nutva-sub000/internal/pricing"
)

// ErrPricingUnavailable indicates no pricing table has been loaded.
var ErrPricingUnavailable = errors.New("pricing table not loaded")

// Line is one requested cart row.
type Line struct {
	ProductKey string `json:"productKey" validate:"required,max=64"`
	Quantity   int    `json:"quantity" validate:"min=1,max=1000"`
}

// QuoteLine is a priced cart row as presented to clients.
type QuoteLine struct {
	ProductKey      pricing.ProductKey `json:"productKey"`
	Label           string             `json:"label"`
	Quantity        int                `json:"quantity"`
	TierQuantity    int                `json:"tierQuantity"`
	BasePrice       pricing.Money      `json:"basePrice"`
	PricePerUnit    pricing.Money      `json:"pricePerUnit"`
	TotalPrice      pricing.Money      `json:"totalPrice"`
	DiscountPercent int                `json:"discountPercent"`
	Priced          bool               `json:"priced"`
}

// Bonus describes the reward state of a quote.
type Bonus struct {
	Eligible   bool               `json:"eligible"`
	ProductKey pricing.ProductKey `json:"productKey"`
	Label      string             `json:"label"`
	Quantity   int                `json:"quantity"`
	Missing    int                `json:"missing"`
}

// Quote is the full pricing view of a cart.
type Quote struct {
	PricingVersion string               `json:"pricingVersion"`
	Currency       string               `json:"currency"`
	Lines          []QuoteLine          `json:"lines"`
	Total          pricing.Money        `json:"total"`
	OriginalTotal  pricing.Money        `json:"originalTotal"`
	Savings        pricing.Money        `json:"savings"`
	Bonus          *Bonus               `json:"bonus,omitempty"`
	Unpriced       []pricing.ProductKey `json:"unpriced,omitempty"`
}

// Service prices carts against the current pricing snapshot.
type Service struct {
	Pricing *pricing.Provider
	Metrics *obs.DomainMetrics
}

// Quote prices lines with one engine snapshot. source labels the fallback
// metric ("quote" or "order"). Bonus grants are recorded by the caller once
// the quote is actually used.
func (s *Service) Quote(ctx context.Context, lines []Line, locale, source string) (Quote, error) {
	engine := s.engine()
	if engine == nil {
		s.Metrics.Quote("unavailable")
		return Quote{}, ErrPricingUnavailable
	}

	cartLines := make([]pricing.CartLine, len(lines))
	for i, l := range lines {
		cartLines[i] = pricing.CartLine{ProductKey: pricing.ParseProductKey(l.ProductKey), Quantity: l.Quantity}
	}
	totals := engine.Aggregate(cartLines)

	q := Quote{
		PricingVersion: engine.Version(),
		Currency:       engine.Currency(),
		Lines:          make([]QuoteLine, len(totals.Lines)),
		Total:          totals.Total,
		OriginalTotal:  totals.OriginalTotal,
		Savings:        totals.Savings(),
	}
	seen := make(map[pricing.ProductKey]struct{})
	for i, lt := range totals.Lines {
		priced := engine.Known(lt.ProductKey)
		q.Lines[i] = QuoteLine{
			ProductKey:      lt.ProductKey,
			Label:           engine.Label(lt.ProductKey, locale),
			Quantity:        lt.Quantity,
			TierQuantity:    lt.TierQuantity,
			BasePrice:       lt.BasePrice,
			PricePerUnit:    lt.PricePerUnit,
			TotalPrice:      lt.TotalPrice,
			DiscountPercent: lt.DiscountPercent,
			Priced:          priced,
		}
		if !priced {
			if _, dup := seen[lt.ProductKey]; !dup {
				seen[lt.ProductKey] = struct{}{}
				q.Unpriced = append(q.Unpriced, lt.ProductKey)
			}
		}
	}
	if _, ok := engine.Bonus(); ok {
		q.Bonus = &Bonus{
			Eligible:   totals.BonusEligible,
			ProductKey: totals.BonusProduct,
			Label:      engine.Label(totals.BonusProduct, locale),
			Quantity:   totals.BonusQuantity,
			Missing:    totals.BonusMissing,
		}
	}

	if len(q.Unpriced) > 0 {
		keys := make([]string, len(q.Unpriced))
		for i, k := range q.Unpriced {
			keys[i] = k.String()
		}
		zerolog.Ctx(ctx).Warn().
			Str("source", source).
			Str("pricing_version", q.PricingVersion).
			Str("products", strings.Join(keys, ",")).
			Msg("pricing_fallback")
		s.Metrics.Fallback(source, countUnpriced(q.Lines))
	}
	s.Metrics.Quote("ok")
	return q, nil
}

// BonusEligible reports whether q unlocked the bonus reward.
func (q Quote) BonusEligible() bool {
	return q.Bonus != nil && q.Bonus.Eligible
}

func (s *Service) engine() *pricing.Engine {
	if s == nil {
		return nil
	}
	return s.Pricing.Engine()
}

func countUnpriced(lines []QuoteLine) int {
	n := 0
	for _, l := range lines {
		if !l.Priced {
			n++
		}
	}
	return n
}
