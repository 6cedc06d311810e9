package metrics

import (
	"time"

	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения метки outcome
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Значения метки source для заказов
const (
	OrderSourceCheckout = "checkout"
	OrderSourceRenewal  = "renewal"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncWebhookEvent(kind, outcome string)
	ObserveHandlerDuration(kind string, d time.Duration)
	IncBotsProvisioned(n int)
	IncBotProvisioningFailed()
	ObserveOrder(source string, amount float64)
	IncCouponRedemption(result string)
}

type billingMetrics struct {
	log               *logger.Logger
	webhookEvents     *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
	botsProvisioned   prometheus.Counter
	botProvisionFails prometheus.Counter
	orders            *prometheus.CounterVec
	orderAmount       *prometheus.HistogramVec
	couponRedemptions *prometheus.CounterVec
}

// NewRegistry создает реестр со стандартными коллекторами процесса и рантайма Go
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// NewBillingMetrics создает и регистрирует метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	factory := promauto.With(registry)

	return &billingMetrics{
		log: log,
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Payment events by kind and processing outcome",
			},
			[]string{"kind", "outcome"},
		),
		handlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_handler_duration_seconds",
				Help:    "Time spent reconciling one payment event",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		botsProvisioned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_bots_provisioned_total",
				Help: "Bots created by purchases",
			},
		),
		botProvisionFails: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_bot_provisioning_failures_total",
				Help: "Bots that could not be created after the subscription was written",
			},
		),
		orders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_orders_total",
				Help: "Orders appended by source",
			},
			[]string{"source"},
		),
		orderAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_order_amount",
				Help:    "Order amounts distribution in major currency units",
				Buckets: prometheus.ExponentialBuckets(5, 2, 8), // 5 .. 640
			},
			[]string{"source"},
		),
		couponRedemptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_coupon_redemptions_total",
				Help: "Coupon redemption attempts by result",
			},
			[]string{"result"},
		),
	}
}

func (m *billingMetrics) IncWebhookEvent(kind, outcome string) {
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *billingMetrics) ObserveHandlerDuration(kind string, d time.Duration) {
	m.handlerDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *billingMetrics) IncBotsProvisioned(n int) {
	m.botsProvisioned.Add(float64(n))
}

func (m *billingMetrics) IncBotProvisioningFailed() {
	m.botProvisionFails.Inc()
}

func (m *billingMetrics) ObserveOrder(source string, amount float64) {
	m.orders.WithLabelValues(source).Inc()
	m.orderAmount.WithLabelValues(source).Observe(amount)
}

func (m *billingMetrics) IncCouponRedemption(result string) {
	m.couponRedemptions.WithLabelValues(result).Inc()
}
