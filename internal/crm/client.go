package crm

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shbotirov227/nutva-sub000/internal/resilience"
)

// ErrRejected marks a deal the CRM refused with a 4xx status. Retrying will
// not help.
var ErrRejected = errors.New("crm rejected deal")

// Client posts deals to the CRM webhook.
type Client struct {
	HTTP  resilience.HTTPClient
	URL   string
	Token string
	Now   func() time.Time
}

// Send delivers d. A 2xx response is success; 4xx wraps ErrRejected.
func (c Client) Send(ctx context.Context, d Deal) error {
	ctx, span := otel.Tracer("crm.Client").Start(ctx, "Client.Send")
	defer span.End()
	span.SetAttributes(attribute.String("crm.order_id", d.OrderID))

	if err := validateURL(c.URL); err != nil {
		span.RecordError(err)
		return err
	}
	body, err := json.Marshal(d)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode deal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	ts := c.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nutva-storefront/1.0")
	req.Header.Set("X-Idempotency-Key", d.OrderID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("X-Signature", ComputeSignature(c.Token, ts, d.OrderID, body))
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(snippet))
	default:
		return fmt.Errorf("crm responded with status %d", resp.StatusCode)
	}
}

func (c Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<orderID>.<body>" keyed by the
// CRM token.
func ComputeSignature(secret string, ts int64, orderID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(orderID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewHTTPClient returns an instrumented client for CRM delivery.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid crm url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("crm url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("crm url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http crm url only allowed for localhost")
		}
	}
	return nil
}
