package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics records purchases, consumptions and lock conflicts.
type InventoryMetrics struct {
	purchases    *prometheus.CounterVec
	consumptions *prometheus.CounterVec
	grams        *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	remaining    *prometheus.GaugeVec
}

// NewInventoryMetrics registers the inventory metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_purchases_total",
		Help: "Metal batches recorded.",
	}, []string{"metal_type"})
	consumptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_consumptions_total",
		Help: "Committed consumptions.",
	}, []string{"metal_type", "method"})
	grams := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_consumed_grams_total",
		Help: "Grams debited from batches.",
	}, []string{"metal_type"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_consumption_conflicts_total",
		Help: "Consumptions rejected because inventory changed under the plan.",
	}, []string{"metal_type"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_consumption_duration_seconds",
		Help:    "Duration of the consumption transaction in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	remaining := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inventory_remaining_grams",
		Help: "Grams on hand per metal type at the last stock report.",
	}, []string{"metal_type"})
	reg.MustRegister(purchases, consumptions, grams, conflicts, duration, remaining)
	return &InventoryMetrics{
		purchases:    purchases,
		consumptions: consumptions,
		grams:        grams,
		conflicts:    conflicts,
		duration:     duration,
		remaining:    remaining,
	}
}

// IncPurchase counts a recorded batch.
func (m *InventoryMetrics) IncPurchase(metalType string) {
	if m == nil || m.purchases == nil {
		return
	}
	m.purchases.WithLabelValues(normalizeLabel(metalType)).Inc()
}

// ObserveConsumption counts a committed consumption and the grams it debited.
func (m *InventoryMetrics) ObserveConsumption(metalType, method string, grams float64, elapsed time.Duration) {
	if m == nil || m.consumptions == nil {
		return
	}
	metal := normalizeLabel(metalType)
	m.consumptions.WithLabelValues(metal, normalizeLabel(method)).Inc()
	m.grams.WithLabelValues(metal).Add(grams)
	m.duration.WithLabelValues(normalizeLabel(method)).Observe(elapsed.Seconds())
}

// IncConflict counts a consumption that lost a race for a batch.
func (m *InventoryMetrics) IncConflict(metalType string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(metalType)).Inc()
}

// SetRemaining records the stock level of one metal type.
func (m *InventoryMetrics) SetRemaining(metalType string, grams float64) {
	if m == nil || m.remaining == nil {
		return
	}
	m.remaining.WithLabelValues(normalizeLabel(metalType)).Set(grams)
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
