package order

import (
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/shbotirov227/nutva-sub000/internal/cart"
	"github.com/shbotirov227/nutva-sub000/internal/common"
)

// Handler wires order submission to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Submit accepts an order and replies 202 once it is queued for the CRM.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.Svc.Metrics.OrderSubmission("invalid")
		common.WriteError(w, err)
		return
	}
	req.Customer.Phone = NormalizePhone(req.Customer.Phone)
	req.Locale = cart.Locale(r, req.Locale)
	if err := common.Validate(h.Validate, &req); err != nil {
		h.Svc.Metrics.OrderSubmission("invalid")
		common.WriteError(w, err)
		return
	}
	receipt, err := h.Svc.Submit(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusAccepted, receipt)
}
