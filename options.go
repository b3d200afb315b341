package realtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/techviking/realtime/logger"
)

const instrumentationName = "gitlab.com/techviking/realtime"

const defaultStopTimeout = 10 * time.Second

// Option configures a Provider or a tracker.
type Option func(*options)

type options struct {
	log           *logger.Logger
	meterProvider metric.MeterProvider
	tracer        trace.TracerProvider
	stopTimeout   time.Duration
	unhandled     func(error)
}

// WithLogger sets the logger used for lifecycle and call logging.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMeterProvider sets the meter provider. Defaults to the otel global.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider. Defaults to the otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithStopTimeout bounds how long the provider waits for a replaced
// connection to stop. Provider only.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}

// WithUnhandledError receives start failures when Props.OnError is nil.
// Provider only. The default logs the failure at error level.
func WithUnhandledError(fn func(error)) Option {
	return func(o *options) { o.unhandled = fn }
}

func buildOptions(component string, opts []Option) *options {
	o := &options{stopTimeout: defaultStopTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Get(component)
	} else {
		o.log = o.log.WithComponent(component)
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}
	return o
}

// telemetry bundles the instruments shared by providers and trackers.
type telemetry struct {
	log      *logger.Logger
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	starts   metric.Int64Counter
}

func newTelemetry(o *options) *telemetry {
	meter := o.meterProvider.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	tel := &telemetry{
		log:    o.log,
		tracer: o.tracer.Tracer(instrumentationName),
	}

	var err error
	if tel.calls, err = meter.Int64Counter("realtime.calls",
		metric.WithDescription("Remote calls issued through trackers"),
	); err != nil {
		o.log.Warn("creating realtime.calls counter", logger.ErrorFields("metrics", err))
		tel.calls, _ = fallback.Int64Counter("realtime.calls")
	}
	if tel.duration, err = meter.Float64Histogram("realtime.call.duration",
		metric.WithDescription("Duration of remote calls in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		o.log.Warn("creating realtime.call.duration histogram", logger.ErrorFields("metrics", err))
		tel.duration, _ = fallback.Float64Histogram("realtime.call.duration")
	}
	if tel.starts, err = meter.Int64Counter("realtime.connection.starts",
		metric.WithDescription("Connection start attempts by outcome"),
	); err != nil {
		o.log.Warn("creating realtime.connection.starts counter", logger.ErrorFields("metrics", err))
		tel.starts, _ = fallback.Int64Counter("realtime.connection.starts")
	}
	return tel
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNoConnection(err):
		return "no_connection"
	default:
		return "error"
	}
}

func (t *telemetry) startSpan(ctx context.Context, kind, method string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "realtime."+kind+" "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("realtime.method", method)),
	)
}

func (t *telemetry) recordCall(ctx context.Context, span trace.Span, kind, method string, err error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome(err)),
	)
	t.calls.Add(ctx, 1, attrs)
	t.duration.Record(ctx, elapsed.Seconds(), attrs)

	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *telemetry) recordStart(err error) {
	t.starts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}
