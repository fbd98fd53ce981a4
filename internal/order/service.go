package order

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shbotirov227/nutva-sub000/internal/cart"
	"github.com/shbotirov227/nutva-sub000/internal/common"
	"github.com/shbotirov227/nutva-sub000/internal/crm"
	"github.com/shbotirov227/nutva-sub000/internal/obs"
	"github.com/shbotirov227/nutva-sub000/internal/pricing"
)

// Forwarder hands accepted orders to the CRM pipeline.
type Forwarder interface {
	Enqueue(ctx context.Context, d crm.Deal) (string, error)
}

// Customer identifies who placed the order.
type Customer struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Phone string `json:"phone" validate:"required,e164"`
}

// SubmitRequest is the body of POST /orders.
type SubmitRequest struct {
	Customer    Customer    `json:"customer"`
	Lines       []cart.Line `json:"lines" validate:"required,min=1,max=50,dive"`
	ClientTotal *int64      `json:"clientTotal,omitempty" validate:"omitempty,min=0"`
	Locale      string      `json:"locale,omitempty" validate:"omitempty,max=8"`
	Comment     string      `json:"comment,omitempty" validate:"max=500"`
}

// Receipt is returned once an order is accepted for forwarding.
type Receipt struct {
	OrderID   string     `json:"orderId"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	Drift     bool       `json:"priceChanged"`
	Quote     cart.Quote `json:"quote"`
}

// Service validates orders against the current pricing and queues them.
type Service struct {
	Quotes    *cart.Service
	Forwarder Forwarder
	Metrics   *obs.DomainMetrics
	Now       func() time.Time
	NewID     func() string
}

// Submit prices req with the authoritative engine and queues it for the CRM.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Receipt, error) {
	logger := zerolog.Ctx(ctx)
	locale := strings.ToLower(strings.TrimSpace(req.Locale))

	quote, err := s.Quotes.Quote(ctx, req.Lines, locale, "order")
	if err != nil {
		s.Metrics.OrderSubmission("unavailable")
		if errors.Is(err, cart.ErrPricingUnavailable) {
			return Receipt{}, common.NewAppError("PRICING_UNAVAILABLE", "pricing is not loaded", http.StatusServiceUnavailable, err)
		}
		return Receipt{}, err
	}
	if len(quote.Unpriced) > 0 {
		s.Metrics.OrderSubmission("unknown_product")
		return Receipt{}, common.NewAppError("UNKNOWN_PRODUCT", "order contains products without pricing", http.StatusUnprocessableEntity, nil).
			WithDetails(map[string]any{"products": quote.Unpriced})
	}

	receipt := Receipt{
		OrderID:   s.newID(),
		Status:    "accepted",
		CreatedAt: s.now().UTC(),
		Quote:     quote,
	}
	if req.ClientTotal != nil && pricing.Money(*req.ClientTotal) != quote.Total {
		receipt.Drift = true
		s.Metrics.Drift()
		logger.Warn().
			Str("order_id", receipt.OrderID).
			Int64("client_total", *req.ClientTotal).
			Int64("server_total", quote.Total).
			Str("pricing_version", quote.PricingVersion).
			Msg("pricing_drift")
	}

	deal := buildDeal(receipt, req, locale)
	taskID, err := s.Forwarder.Enqueue(ctx, deal)
	if err != nil {
		s.Metrics.OrderSubmission("enqueue_failed")
		logger.Error().Err(err).Str("order_id", receipt.OrderID).Msg("order_enqueue_failed")
		return Receipt{}, common.NewAppError("QUEUE_UNAVAILABLE", "order could not be accepted, try again", http.StatusServiceUnavailable, err)
	}

	s.Metrics.OrderSubmission("accepted")
	if quote.BonusEligible() {
		s.Metrics.BonusGranted("order")
	}
	logger.Info().
		Str("order_id", receipt.OrderID).
		Str("task_id", taskID).
		Int64("total", quote.Total).
		Msg("order_accepted")
	return receipt, nil
}

func buildDeal(r Receipt, req SubmitRequest, locale string) crm.Deal {
	q := r.Quote
	d := crm.Deal{
		OrderID:        r.OrderID,
		CreatedAt:      r.CreatedAt,
		Name:           strings.TrimSpace(req.Customer.Name),
		Phone:          req.Customer.Phone,
		Comment:        strings.TrimSpace(req.Comment),
		Locale:         locale,
		Currency:       q.Currency,
		PricingVersion: q.PricingVersion,
		Total:          q.Total,
		OriginalTotal:  q.OriginalTotal,
		Items:          make([]crm.DealItem, 0, len(q.Lines)),
	}
	for _, l := range q.Lines {
		d.Items = append(d.Items, crm.DealItem{
			ProductKey:      l.ProductKey,
			Label:           l.Label,
			Quantity:        l.Quantity,
			PricePerUnit:    l.PricePerUnit,
			TotalPrice:      l.TotalPrice,
			DiscountPercent: l.DiscountPercent,
		})
	}
	if q.BonusEligible() {
		d.Bonus = &crm.DealBonus{ProductKey: q.Bonus.ProductKey, Label: q.Bonus.Label, Quantity: q.Bonus.Quantity}
	}
	return d
}

// NormalizePhone strips formatting characters and prefixes a plus sign so
// "+998 (90) 123-45-67" becomes "+998901234567".
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
