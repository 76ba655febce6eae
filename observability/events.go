package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"voucherchain/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
	payouts *prometheus.CounterVec
	amounts *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voucher",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "payout_total",
				Help:      "Non-zero payout credits segmented by asset class and receiving party.",
			}, []string{"class", "party"}),
			amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "payout_amount_total",
				Help:      "Sum of credited base units segmented by asset and receiving party.",
			}, []string{"asset", "party"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.payouts, eventRegistry.amounts)
	})
	return eventRegistry
}

var payoutParties = []struct {
	attr  string
	party string
}{
	{"buyerAmount", "buyer"},
	{"sellerAmount", "seller"},
	{"escrowAmount", "pool"},
}

// Emit implements events.Emitter so the registry can be attached as an event
// sink.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := normalizeLabel(evt.EventType())
	m.emitted.WithLabelValues(eventType).Inc()
	if eventType != "escrow.distributed" {
		return
	}
	payload, ok := evt.(events.Payload)
	if !ok || payload.Event() == nil {
		return
	}
	attrs := payload.Event().Attributes
	class := normalizeLabel(attrs["class"])
	asset := normalizeLabel(strings.ToLower(attrs["asset"]))
	for _, entry := range payoutParties {
		amount, ok := new(big.Int).SetString(attrs[entry.attr], 10)
		if !ok || amount.Sign() <= 0 {
			continue
		}
		m.payouts.WithLabelValues(class, entry.party).Inc()
		value, _ := new(big.Float).SetInt(amount).Float64()
		m.amounts.WithLabelValues(asset, entry.party).Add(value)
	}
}
