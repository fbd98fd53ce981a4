package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/shbotirov227/nutva-sub000/internal/cart"
	"github.com/shbotirov227/nutva-sub000/internal/common"
	"github.com/shbotirov227/nutva-sub000/internal/crm"
	"github.com/shbotirov227/nutva-sub000/internal/obs"
	"github.com/shbotirov227/nutva-sub000/internal/order"
	"github.com/shbotirov227/nutva-sub000/internal/pricing"
)

type fakeForwarder struct {
	deals []crm.Deal
	err   error
}

func (f *fakeForwarder) Enqueue(_ context.Context, d crm.Deal) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.deals = append(f.deals, d)
	return "task-" + d.OrderID, nil
}

type envelope struct {
	Data  order.Receipt     `json:"data"`
	Error *common.ErrorBody `json:"error"`
}

func newHandler(t *testing.T, fwd *fakeForwarder) (*order.Handler, *obs.DomainMetrics) {
	t.Helper()
	engine, err := pricing.LoadEngine("")
	require.NoError(t, err)
	metrics := obs.NewDomainMetrics("test", prometheus.NewRegistry())
	svc := &order.Service{
		Quotes:    &cart.Service{Pricing: pricing.NewProvider(engine), Metrics: metrics},
		Forwarder: fwd,
		Metrics:   metrics,
		Now:       func() time.Time { return time.Date(2024, 11, 5, 14, 0, 0, 0, time.FixedZone("UZT", 5*3600)) },
		NewID:     func() string { return "order-1" },
	}
	return &order.Handler{Svc: svc, Validate: common.NewValidator()}, metrics
}

func submit(t *testing.T, h *order.Handler, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Submit(rr, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return rr, env
}

func TestSubmitAcceptsOrder(t *testing.T) {
	fwd := &fakeForwarder{}
	h, metrics := newHandler(t, fwd)

	rr, env := submit(t, h, `{
		"customer": {"name": "Aziza", "phone": "+998 (90) 123-45-67"},
		"lines": [{"productKey": "COMPLEX", "quantity": 3}, {"productKey": "gelmin-kids", "quantity": 1}],
		"clientTotal": 1950000,
		"locale": "uz"
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "order-1", env.Data.OrderID)
	require.Equal(t, "accepted", env.Data.Status)
	require.False(t, env.Data.Drift)
	require.Equal(t, pricing.Money(1950000), env.Data.Quote.Total)
	require.Equal(t, time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC), env.Data.CreatedAt)

	require.Len(t, fwd.deals, 1)
	deal := fwd.deals[0]
	require.Equal(t, "order-1", deal.OrderID)
	require.Equal(t, "+998901234567", deal.Phone)
	require.Equal(t, "uz", deal.Locale)
	require.Equal(t, pricing.Money(1950000), deal.Total)
	require.Len(t, deal.Items, 2)
	require.Equal(t, "Kompleks", deal.Items[0].Label)
	require.NotNil(t, deal.Bonus)
	require.Equal(t, pricing.ComplexExtra, deal.Bonus.ProductKey)
	require.Equal(t, "Kompleks Ekstra", deal.Bonus.Label)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.OrderSubmissionTotal.WithLabelValues("accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.BonusGrantedTotal.WithLabelValues("order")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.DriftTotal))
}

func TestSubmitServerTotalWinsOnDrift(t *testing.T) {
	fwd := &fakeForwarder{}
	h, metrics := newHandler(t, fwd)

	rr, env := submit(t, h, `{
		"customer": {"name": "Aziza", "phone": "998901234567"},
		"lines": [{"productKey": "COMPLEX", "quantity": 2}],
		"clientTotal": 1000
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.True(t, env.Data.Drift)
	require.Equal(t, pricing.Money(1640000), env.Data.Quote.Total)
	require.Equal(t, pricing.Money(1640000), fwd.deals[0].Total)
	require.Nil(t, fwd.deals[0].Bonus)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.DriftTotal))
}

func TestSubmitRejectsUnknownProduct(t *testing.T) {
	fwd := &fakeForwarder{}
	h, metrics := newHandler(t, fwd)

	rr, env := submit(t, h, `{
		"customer": {"name": "Aziza", "phone": "+998901234567"},
		"lines": [{"productKey": "COMPLEX", "quantity": 3}, {"productKey": "NONEXISTENT", "quantity": 1}]
	}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "UNKNOWN_PRODUCT", env.Error.Code)
	require.Empty(t, fwd.deals)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.OrderSubmissionTotal.WithLabelValues("unknown_product")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.BonusGrantedTotal.WithLabelValues("order")))
}

func TestSubmitValidation(t *testing.T) {
	h, _ := newHandler(t, &fakeForwarder{})

	cases := map[string]string{
		"missing customer": `{"lines":[{"productKey":"COMPLEX","quantity":1}]}`,
		"bad phone":        `{"customer":{"name":"Aziza","phone":"call me"},"lines":[{"productKey":"COMPLEX","quantity":1}]}`,
		"no lines":         `{"customer":{"name":"Aziza","phone":"+998901234567"},"lines":[]}`,
		"negative total":   `{"customer":{"name":"Aziza","phone":"+998901234567"},"lines":[{"productKey":"COMPLEX","quantity":1}],"clientTotal":-5}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr, env := submit(t, h, body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.Equal(t, "VALIDATION_FAILED", env.Error.Code)
		})
	}
}

func TestSubmitQueueFailure(t *testing.T) {
	h, metrics := newHandler(t, &fakeForwarder{err: errors.New("redis down")})

	rr, env := submit(t, h, `{
		"customer": {"name": "Aziza", "phone": "+998901234567"},
		"lines": [{"productKey": "COMPLEX", "quantity": 3}]
	}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "QUEUE_UNAVAILABLE", env.Error.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.OrderSubmissionTotal.WithLabelValues("enqueue_failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.BonusGrantedTotal.WithLabelValues("order")))
}

func TestNormalizePhone(t *testing.T) {
	require.Equal(t, "+998901234567", order.NormalizePhone(" +998 90 123-45-67 "))
	require.Equal(t, "+998901234567", order.NormalizePhone("(998) 90 1234567"))
	require.Empty(t, order.NormalizePhone("n/a"))
}
