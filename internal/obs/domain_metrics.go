package obs

import "github.com/prometheus/client_golang/prometheus"

// DomainMetrics holds pricing and order collectors. A nil *DomainMetrics is
// valid and records nothing.
type DomainMetrics struct {
	// QuoteTotal counts cart quotes by outcome.
	QuoteTotal *prometheus.CounterVec
	// FallbackTotal counts lines priced at zero because their product is unknown.
	FallbackTotal *prometheus.CounterVec
	// DriftTotal counts orders whose client total differed from the server total.
	DriftTotal prometheus.Counter
	// BonusGrantedTotal counts carts that unlocked the bonus reward.
	BonusGrantedTotal *prometheus.CounterVec
	// OrderSubmissionTotal counts order submissions by outcome.
	OrderSubmissionTotal *prometheus.CounterVec
	// CRMForwardTotal counts CRM forwarding attempts by outcome.
	CRMForwardTotal *prometheus.CounterVec
}

// NewDomainMetrics registers the domain collectors on reg, reusing collectors
// that are already registered.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &DomainMetrics{
		QuoteTotal: registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quote_total",
			Help:      "Count of cart quotes by outcome.",
		}, []string{"result"})),
		FallbackTotal: registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_fallback_total",
			Help:      "Count of cart lines priced at zero because the product has no tiers.",
		}, []string{"source"})),
		DriftTotal: registerOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_drift_total",
			Help:      "Count of orders whose client-side total differed from the authoritative total.",
		})),
		BonusGrantedTotal: registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_bonus_granted_total",
			Help:      "Count of carts that unlocked the bonus reward.",
		}, []string{"source"})),
		OrderSubmissionTotal: registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submission_total",
			Help:      "Count of order submissions by outcome.",
		}, []string{"result"})),
		CRMForwardTotal: registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_forward_total",
			Help:      "Count of CRM forwarding attempts by outcome.",
		}, []string{"result"})),
	}
}

// Quote records a quote outcome.
func (m *DomainMetrics) Quote(result string) {
	if m == nil {
		return
	}
	m.QuoteTotal.WithLabelValues(result).Inc()
}

// Fallback records n zero-priced lines.
func (m *DomainMetrics) Fallback(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FallbackTotal.WithLabelValues(source).Add(float64(n))
}

// Drift records a client/server total mismatch.
func (m *DomainMetrics) Drift() {
	if m == nil {
		return
	}
	m.DriftTotal.Inc()
}

// BonusGranted records a cart that met the bonus threshold.
func (m *DomainMetrics) BonusGranted(source string) {
	if m == nil {
		return
	}
	m.BonusGrantedTotal.WithLabelValues(source).Inc()
}

// OrderSubmission records an order submission outcome.
func (m *DomainMetrics) OrderSubmission(result string) {
	if m == nil {
		return
	}
	m.OrderSubmissionTotal.WithLabelValues(result).Inc()
}

// CRMForward records a CRM forwarding outcome.
func (m *DomainMetrics) CRMForward(result string) {
	if m == nil {
		return
	}
	m.CRMForwardTotal.WithLabelValues(result).Inc()
}
