package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shbotirov227/nutva-sub000/internal/pricing"
)

// TypeForwardOrder is the asynq task type that delivers an order to the CRM.
const TypeForwardOrder = "crm:forward_order"

// Deal is the order snapshot handed to the CRM.
type Deal struct {
	OrderID        string        `json:"orderId"`
	CreatedAt      time.Time     `json:"createdAt"`
	Name           string        `json:"name"`
	Phone          string        `json:"phone"`
	Comment        string        `json:"comment,omitempty"`
	Locale         string        `json:"locale"`
	Currency       string        `json:"currency"`
	PricingVersion string        `json:"pricingVersion"`
	Total          pricing.Money `json:"total"`
	OriginalTotal  pricing.Money `json:"originalTotal"`
	Items          []DealItem    `json:"items"`
	Bonus          *DealBonus    `json:"bonus,omitempty"`
}

// DealItem is one priced order line.
type DealItem struct {
	ProductKey      pricing.ProductKey `json:"productKey"`
	Label           string             `json:"label"`
	Quantity        int                `json:"quantity"`
	PricePerUnit    pricing.Money      `json:"pricePerUnit"`
	TotalPrice      pricing.Money      `json:"totalPrice"`
	DiscountPercent int                `json:"discountPercent"`
}

// DealBonus is the free reward attached to a qualifying order.
type DealBonus struct {
	ProductKey pricing.ProductKey `json:"productKey"`
	Label      string             `json:"label"`
	Quantity   int                `json:"quantity"`
}

// NewForwardTask encodes d as a forwarding task. The order ID doubles as the
// task ID so an order is queued at most once.
func NewForwardTask(d Deal, opts ...asynq.Option) (*asynq.Task, error) {
	if d.OrderID == "" {
		return nil, errors.New("crm: deal requires an order id")
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode deal: %w", err)
	}
	opts = append([]asynq.Option{asynq.TaskID(d.OrderID)}, opts...)
	return asynq.NewTask(TypeForwardOrder, payload, opts...), nil
}

// TaskClient is the subset of *asynq.Client used for enqueueing.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules forwarding tasks on an asynq queue.
type Enqueuer struct {
	Client   TaskClient
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Enqueue queues d for delivery and returns the task ID. Re-enqueueing an
// order that is already queued is not an error.
func (e Enqueuer) Enqueue(ctx context.Context, d Deal) (string, error) {
	if e.Client == nil {
		return "", errors.New("crm: task client not configured")
	}
	opts := []asynq.Option{}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Timeout > 0 {
		opts = append(opts, asynq.Timeout(e.Timeout))
	}
	task, err := NewForwardTask(d, opts...)
	if err != nil {
		return "", err
	}
	info, err := e.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return d.OrderID, nil
		}
		return "", fmt.Errorf("enqueue %s: %w", TypeForwardOrder, err)
	}
	return info.ID, nil
}
