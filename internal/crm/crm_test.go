package crm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shbotirov227/nutva-sub000/internal/crm"
	"github.com/shbotirov227/nutva-sub000/internal/obs"
	"github.com/shbotirov227/nutva-sub000/internal/pricing"
	"github.com/shbotirov227/nutva-sub000/internal/resilience"
)

func sampleDeal() crm.Deal {
	return crm.Deal{
		OrderID:        "4a1f7a64-0d7c-4a4c-9f7e-1d2b3c4d5e6f",
		CreatedAt:      time.Date(2024, 11, 5, 9, 30, 0, 0, time.UTC),
		Name:           "Aziza",
		Phone:          "+998901234567",
		Locale:         "uz",
		Currency:       "UZS",
		PricingVersion: "2024-11-storefront",
		Total:          1500000,
		OriginalTotal:  3510000,
		Items: []crm.DealItem{{
			ProductKey:      pricing.Complex,
			Label:           "Kompleks",
			Quantity:        3,
			PricePerUnit:    500000,
			TotalPrice:      1500000,
			DiscountPercent: 57,
		}},
		Bonus: &crm.DealBonus{ProductKey: pricing.ComplexExtra, Label: "Kompleks Ekstra", Quantity: 1},
	}
}

type captured struct {
	auth      string
	signature string
	timestamp string
	idemKey   string
	body      []byte
}

func newCRMServer(t *testing.T, status int) (*httptest.Server, *atomic.Pointer[captured]) {
	t.Helper()
	var last atomic.Pointer[captured]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		last.Store(&captured{
			auth:      r.Header.Get("Authorization"),
			signature: r.Header.Get("X-Signature"),
			timestamp: r.Header.Get("X-Timestamp"),
			idemKey:   r.Header.Get("X-Idempotency-Key"),
			body:      body,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func newClient(srv *httptest.Server, token string) crm.Client {
	now := time.Unix(1730800000, 0)
	return crm.Client{
		HTTP:  resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 2, BaseBackoff: time.Millisecond},
		URL:   srv.URL,
		Token: token,
		Now:   func() time.Time { return now },
	}
}

func TestClientSendSignsDeal(t *testing.T) {
	srv, last := newCRMServer(t, http.StatusCreated)
	client := newClient(srv, "s3cret")
	deal := sampleDeal()

	require.NoError(t, client.Send(context.Background(), deal))

	got := last.Load()
	require.NotNil(t, got)
	require.Equal(t, "Bearer s3cret", got.auth)
	require.Equal(t, "1730800000", got.timestamp)
	require.Equal(t, deal.OrderID, got.idemKey)
	require.Equal(t, crm.ComputeSignature("s3cret", 1730800000, deal.OrderID, got.body), got.signature)

	var decoded crm.Deal
	require.NoError(t, json.Unmarshal(got.body, &decoded))
	require.Equal(t, deal, decoded)
}

func TestClientSendRejected(t *testing.T) {
	srv, _ := newCRMServer(t, http.StatusUnprocessableEntity)
	err := newClient(srv, "").Send(context.Background(), sampleDeal())
	require.ErrorIs(t, err, crm.ErrRejected)
}

func TestClientSendRejectsInvalidURL(t *testing.T) {
	client := crm.Client{HTTP: resilience.HTTPClient{Client: http.DefaultClient}, URL: "http://crm.example.test/hook"}
	require.Error(t, client.Send(context.Background(), sampleDeal()))

	client.URL = "ftp://crm.example.test"
	require.Error(t, client.Send(context.Background(), sampleDeal()))
}

func TestWorkerHandleForwardOrder(t *testing.T) {
	payload, err := json.Marshal(sampleDeal())
	require.NoError(t, err)

	cases := []struct {
		name      string
		status    int
		payload   []byte
		skipRetry bool
		wantErr   bool
		result    string
	}{
		{name: "delivered", status: http.StatusOK, payload: payload, result: "delivered"},
		{name: "rejected", status: http.StatusBadRequest, payload: payload, wantErr: true, skipRetry: true, result: "rejected"},
		{name: "upstream failure", status: http.StatusBadGateway, payload: payload, wantErr: true, result: "retry"},
		{name: "bad payload", status: http.StatusOK, payload: []byte("{"), wantErr: true, skipRetry: true, result: "invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newCRMServer(t, tc.status)
			metrics := obs.NewDomainMetrics("test", prometheus.NewRegistry())
			w := &crm.Worker{Sender: newClient(srv, "tok"), Metrics: metrics, Logger: zerolog.Nop()}

			err := w.HandleForwardOrder(context.Background(), asynq.NewTask(crm.TypeForwardOrder, tc.payload))
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
			require.Equal(t, 1.0, testutil.ToFloat64(metrics.CRMForwardTotal.WithLabelValues(tc.result)))
		})
	}
}

type fakeTaskClient struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeTaskClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: "crm"}, nil
}

func TestEnqueuer(t *testing.T) {
	fake := &fakeTaskClient{}
	enq := crm.Enqueuer{Client: fake, Queue: "crm", MaxRetry: 5}

	id, err := enq.Enqueue(context.Background(), sampleDeal())
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
	require.Len(t, fake.tasks, 1)
	require.Equal(t, crm.TypeForwardOrder, fake.tasks[0].Type())

	var decoded crm.Deal
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &decoded))
	require.Equal(t, sampleDeal().OrderID, decoded.OrderID)

	fake.err = asynq.ErrTaskIDConflict
	id, err = enq.Enqueue(context.Background(), sampleDeal())
	require.NoError(t, err)
	require.Equal(t, sampleDeal().OrderID, id)

	fake.err = errors.New("redis down")
	_, err = enq.Enqueue(context.Background(), sampleDeal())
	require.Error(t, err)

	_, err = crm.NewForwardTask(crm.Deal{})
	require.Error(t, err)
}

func TestWorkerSuppressesReplayedDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv, _ := newCRMServer(t, http.StatusOK)
	var hits atomic.Int32
	sender := countingSender{inner: newClient(srv, ""), hits: &hits}
	metrics := obs.NewDomainMetrics("test", prometheus.NewRegistry())
	w := &crm.Worker{
		Sender:  sender,
		Metrics: metrics,
		Logger:  zerolog.Nop(),
		Guard:   crm.RedisDeliveryGuard{Client: rdb, TTL: time.Hour},
	}
	payload, err := json.Marshal(sampleDeal())
	require.NoError(t, err)
	task := asynq.NewTask(crm.TypeForwardOrder, payload)

	require.NoError(t, w.HandleForwardOrder(context.Background(), task))
	require.NoError(t, w.HandleForwardOrder(context.Background(), task))
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.CRMForwardTotal.WithLabelValues("duplicate")))
	require.True(t, mr.Exists("crm:delivered:"+sampleDeal().OrderID))
	require.Equal(t, time.Hour, mr.TTL("crm:delivered:"+sampleDeal().OrderID))
}

func TestDeliveryGuardDisabledWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	g := crm.RedisDeliveryGuard{Client: rdb, Prefix: "deals:"}
	for i := 0; i < 2; i++ {
		ok, err := g.Claim(context.Background(), "order-9")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Empty(t, mr.Keys())

	g.TTL = time.Minute
	ok, err := g.Claim(context.Background(), "order-9")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("deals:order-9"))
	require.NoError(t, g.Forget(context.Background(), "order-9"))
	require.False(t, mr.Exists("deals:order-9"))
}

func TestWorkerReleasesClaimOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv, _ := newCRMServer(t, http.StatusServiceUnavailable)
	w := &crm.Worker{
		Sender: newClient(srv, ""),
		Logger: zerolog.Nop(),
		Guard:  crm.RedisDeliveryGuard{Client: rdb, TTL: time.Hour},
	}
	payload, err := json.Marshal(sampleDeal())
	require.NoError(t, err)

	require.Error(t, w.HandleForwardOrder(context.Background(), asynq.NewTask(crm.TypeForwardOrder, payload)))
	require.Empty(t, mr.Keys())
}

type countingSender struct {
	inner crm.Sender
	hits  *atomic.Int32
}

func (c countingSender) Send(ctx context.Context, d crm.Deal) error {
	c.hits.Add(1)
	return c.inner.Send(ctx, d)
}
