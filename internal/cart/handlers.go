package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/shbotirov227/nutva-sub000/internal/common"
	"github.com/shbotirov227/nutva-sub000/internal/pricing"
)

// QuoteRequest is the body of POST /cart/quote.
type QuoteRequest struct {
	Lines  []Line `json:"lines" validate:"max=50,dive"`
	Locale string `json:"locale" validate:"omitempty,max=8"`
}

// Handler wires cart pricing to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Quote prices the submitted cart.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := common.DecodeAndValidate(r, h.Validate, &req); err != nil {
		h.Svc.Metrics.Quote("invalid")
		common.WriteError(w, err)
		return
	}
	quote, err := h.Svc.Quote(r.Context(), req.Lines, Locale(r, req.Locale), "quote")
	if err != nil {
		writeError(w, err)
		return
	}
	if quote.BonusEligible() {
		h.Svc.Metrics.BonusGranted("quote")
	}
	common.Data(w, http.StatusOK, quote)
}

// TierView is one breakpoint as shown to the storefront.
type TierView struct {
	Quantity        int            `json:"quantity"`
	UnitPrice       pricing.Money  `json:"unitPrice"`
	DiscountPercent int            `json:"discountPercent"`
	BoxPrice        *pricing.Money `json:"boxPrice,omitempty"`
}

// ProductView is the tier listing of one product.
type ProductView struct {
	ProductKey pricing.ProductKey `json:"productKey"`
	Label      string             `json:"label"`
	Mode       pricing.Mode       `json:"mode"`
	Tiers      []TierView         `json:"tiers"`
}

// ListProducts returns every priced product with its tiers.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	engine := h.Svc.engine()
	if engine == nil {
		writeError(w, ErrPricingUnavailable)
		return
	}
	locale := Locale(r, "")
	keys := engine.Table().Keys()
	views := make([]ProductView, 0, len(keys))
	for _, key := range keys {
		views = append(views, productView(engine, key, locale))
	}
	common.Data(w, http.StatusOK, map[string]any{
		"pricingVersion": engine.Version(),
		"currency":       engine.Currency(),
		"products":       views,
	})
}

// GetProduct returns the tier listing of a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	engine := h.Svc.engine()
	if engine == nil {
		writeError(w, ErrPricingUnavailable)
		return
	}
	key := pricing.ParseProductKey(chi.URLParam(r, "key"))
	if !engine.Known(key) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not priced", nil)
		return
	}
	common.Data(w, http.StatusOK, productView(engine, key, Locale(r, "")))
}

func productView(engine *pricing.Engine, key pricing.ProductKey, locale string) ProductView {
	tiers, _ := engine.Table().Lookup(key)
	view := ProductView{
		ProductKey: key,
		Label:      engine.Label(key, locale),
		Mode:       engine.Mode(key),
		Tiers:      make([]TierView, 0, len(tiers)),
	}
	for _, t := range tiers {
		res := engine.Resolve(key, t.Quantity)
		box := t.BoxPrice
		if box != nil && res.PricePerUnit != t.UnitPrice {
			// an override replaced the table price, so the pack price follows it
			box = &res.TotalPrice
		}
		view.Tiers = append(view.Tiers, TierView{
			Quantity:        t.Quantity,
			UnitPrice:       res.PricePerUnit,
			DiscountPercent: res.DiscountPercent,
			BoxPrice:        box,
		})
	}
	return view
}

// Locale picks the display locale from the body, the query string or
// Accept-Language, in that order.
func Locale(r *http.Request, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return strings.ToLower(v)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("locale")); v != "" {
		return strings.ToLower(v)
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		tag := strings.SplitN(v, ",", 2)[0]
		tag = strings.SplitN(tag, ";", 2)[0]
		tag = strings.SplitN(tag, "-", 2)[0]
		return strings.ToLower(strings.TrimSpace(tag))
	}
	return "en"
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPricingUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "PRICING_UNAVAILABLE", "pricing is not loaded", nil)
	default:
		common.WriteError(w, err)
	}
}
