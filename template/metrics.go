// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments a Template records against.
// Grounded on the teacher's server/otel.Metrics: a struct of named
// instruments built off a single meter, constructed once and error-checked
// eagerly rather than lazily on first use.
type Metrics struct {
	meter metric.Meter

	sendsTotal      metric.Int64Counter
	executesTotal   metric.Int64Counter
	errorsTotal     metric.Int64Counter
	executeDuration metric.Float64Histogram
}

// NewMetrics builds a Metrics instance against meter. Pass
// otel.GetMeterProvider().Meter("gocms/template") for real instrumentation,
// or leave Options.Meter nil to fall back to the global no-op meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	var err error
	m.sendsTotal, err = meter.Int64Counter(
		"gocms.template.sends.total",
		metric.WithDescription("Total number of messages sent through Template.Send"),
	)
	if err != nil {
		return nil, fmt.Errorf("gocms/template: create sendsTotal counter: %w", err)
	}

	m.executesTotal, err = meter.Int64Counter(
		"gocms.template.executes.total",
		metric.WithDescription("Total number of Template.Execute/ExecuteProducer callback invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("gocms/template: create executesTotal counter: %w", err)
	}

	m.errorsTotal, err = meter.Int64Counter(
		"gocms.template.errors.total",
		metric.WithDescription("Total number of Template callback errors, re-raised with an origin marker"),
	)
	if err != nil {
		return nil, fmt.Errorf("gocms/template: create errorsTotal counter: %w", err)
	}

	m.executeDuration, err = meter.Float64Histogram(
		"gocms.template.execute.duration",
		metric.WithDescription("Wall-clock duration of a Template execute/send call, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("gocms/template: create executeDuration histogram: %w", err)
	}

	return m, nil
}
