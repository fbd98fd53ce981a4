package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/shbotirov227/nutva-sub000/internal/obs"
)

// Sender delivers a deal to the CRM.
type Sender interface {
	Send(ctx context.Context, d Deal) error
}

// Worker processes forwarding tasks.
type Worker struct {
	Sender  Sender
	Metrics *obs.DomainMetrics
	Logger  zerolog.Logger
	Guard   DeliveryGuard
}

// Register attaches the worker's handlers to mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeForwardOrder, w.HandleForwardOrder)
}

// HandleForwardOrder delivers one order. Undecodable payloads and CRM
// rejections skip retry; everything else is retried by asynq.
func (w *Worker) HandleForwardOrder(ctx context.Context, t *asynq.Task) error {
	var d Deal
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		w.Metrics.CRMForward("invalid")
		w.Logger.Error().Err(err).Str("task_type", t.Type()).Msg("crm_payload_invalid")
		return fmt.Errorf("decode deal: %v: %w", err, asynq.SkipRetry)
	}
	logger := w.Logger.With().Str("order_id", d.OrderID).Logger()
	if retried, ok := asynq.GetRetryCount(ctx); ok {
		logger = logger.With().Int("retry", retried).Logger()
	}

	claimed := false
	if w.Guard != nil {
		ok, err := w.Guard.Claim(ctx, d.OrderID)
		if err != nil {
			w.Metrics.CRMForward("retry")
			logger.Warn().Err(err).Msg("crm_replay_guard_unavailable")
			return err
		}
		if !ok {
			w.Metrics.CRMForward("duplicate")
			logger.Info().Msg("crm_replay_suppressed")
			return nil
		}
		claimed = true
	}

	err := w.Sender.Send(ctx, d)
	if err != nil && claimed {
		if relErr := w.Guard.Forget(context.WithoutCancel(ctx), d.OrderID); relErr != nil {
			logger.Error().Err(relErr).Msg("crm_replay_release_failed")
		}
	}
	switch {
	case err == nil:
		w.Metrics.CRMForward("delivered")
		logger.Info().Msg("crm_forwarded")
		return nil
	case errors.Is(err, ErrRejected):
		w.Metrics.CRMForward("rejected")
		logger.Error().Err(err).Msg("crm_rejected")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		w.Metrics.CRMForward("retry")
		logger.Warn().Err(err).Msg("crm_forward_failed")
		return err
	}
}
