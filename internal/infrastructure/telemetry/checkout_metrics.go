package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Operation results recorded on checkout_requests_total
const (
	ResultOK       = "ok"
	ResultReplayed = "replayed"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metric attribute keys
var (
	AttrOperation   = attribute.Key("operation")
	AttrResult      = attribute.Key("result")
	AttrOutcome     = attribute.Key("outcome")
	AttrFailureKind = attribute.Key("failure_kind")
	AttrNetwork     = attribute.Key("network")
	AttrTransient   = attribute.Key("transient")
)

// LedgerDurationBuckets are histogram bounds in seconds for a ledger round trip.
// Consensus usually lands within a few seconds.
var LedgerDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30}

// CheckoutMetrics counts protocol requests and settlement outcomes
type CheckoutMetrics struct {
	requests      metric.Int64Counter
	settlements   metric.Int64Counter
	duration      metric.Float64Histogram
	settledAmount metric.Int64Counter
}

// NewCheckoutMetrics creates the checkout instruments on meter
func NewCheckoutMetrics(meter metric.Meter) (*CheckoutMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   CheckoutMetrics
		err error
	)
	if m.requests, err = meter.Int64Counter("checkout_requests_total",
		metric.WithDescription("Checkout protocol calls by operation and result"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.settlements, err = meter.Int64Counter("settlement_total",
		metric.WithDescription("Settlement attempts by outcome and failure kind"),
		metric.WithUnit("{settlement}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("settlement_duration_seconds",
		metric.WithDescription("Time from credential decode to final ledger receipt"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(LedgerDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.settledAmount, err = meter.Int64Counter("settlement_amount_base_units_total",
		metric.WithDescription("Ledger base units received by successful settlements"),
		metric.WithUnit("{unit}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordRequest counts one protocol call
func (m *CheckoutMetrics) RecordRequest(ctx context.Context, operation, result string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(operation), AttrResult.String(result)))
}

// RecordSettlement records one settlement attempt. An empty kind means success.
func (m *CheckoutMetrics) RecordSettlement(ctx context.Context, network, kind string, transient bool, amount int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if kind != "" {
		outcome = "failure"
	}
	net := AttrNetwork.String(network)
	m.settlements.Add(ctx, 1, metric.WithAttributes(
		net,
		AttrOutcome.String(outcome),
		AttrFailureKind.String(kind),
		AttrTransient.Bool(transient),
	))
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(net, AttrOutcome.String(outcome)))
	if kind == "" && amount > 0 {
		m.settledAmount.Add(ctx, amount, metric.WithAttributes(net))
	}
}
