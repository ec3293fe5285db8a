// Package otelsink mirrors audit events to an OTLP log collector,
// in addition to (never instead of) the primary JSONL file. Export
// errors are swallowed so a collector outage never blocks a request.
package otelsink

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc/credentials"

	sdklog "go.opentelemetry.io/otel/sdk/log"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
)

// Config holds the configuration needed to construct a Sink.
type Config struct {
	Endpoint string
	Protocol string // "grpc" or "http"

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
	TLSInsecure bool

	Headers map[string]string

	Timeout      time.Duration
	BatchTimeout time.Duration
	BatchMaxSize int

	Resource *resource.Resource
}

// Sink exports audit events as OTEL log records. It is safe for
// concurrent use.
type Sink struct {
	logProvider *sdklog.LoggerProvider
	logger      otellog.Logger
}

// New creates a Sink. The context is used only for constructing the
// exporter connection, not for its lifetime.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 5 * time.Second
	}
	batchMaxSize := cfg.BatchMaxSize
	if batchMaxSize == 0 {
		batchMaxSize = 512
	}

	exp, err := newLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otel log exporter: %w", err)
	}

	batchProc := sdklog.NewBatchProcessor(exp,
		sdklog.WithExportTimeout(timeout),
		sdklog.WithExportInterval(batchTimeout),
		sdklog.WithExportMaxBatchSize(batchMaxSize),
	)

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(batchProc),
		sdklog.WithResource(cfg.Resource),
	)

	return &Sink{
		logProvider: provider,
		logger:      provider.Logger("conductor"),
	}, nil
}

// Append converts one audit event into an OTEL log record and emits
// it. Errors are never returned to the caller; a failed export is a
// degraded observability posture, not a failed audit write.
func (s *Sink) Append(ctx context.Context, event string, payload map[string]any) error {
	var rec otellog.Record
	rec.SetTimestamp(time.Now())
	rec.SetBody(otellog.StringValue(event))
	rec.SetSeverity(otellog.SeverityInfo)

	rec.AddAttributes(otellog.String("event", event))
	for k, v := range payload {
		rec.AddAttributes(otellog.String(k, fmt.Sprintf("%v", v)))
	}

	s.logger.Emit(ctx, rec)
	return nil
}

// Close shuts down the log provider, flushing any pending records.
func (s *Sink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.logProvider.Shutdown(ctx); err != nil {
		slog.Warn("otel log provider shutdown error", "error", err)
		return err
	}
	return nil
}

func newLogExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	switch cfg.Protocol {
	case "grpc":
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploggrpc.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploggrpc.WithHeaders(cfg.Headers))
		}
		if cfg.TLSEnabled {
			tlsCfg := &tls.Config{InsecureSkipVerify: cfg.TLSInsecure}
			if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
				cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
				if err != nil {
					return nil, fmt.Errorf("load TLS client cert: %w", err)
				}
				tlsCfg.Certificates = []tls.Certificate{cert}
			}
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
		} else {
			opts = append(opts, otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, opts...)

	case "http":
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
		}
		if cfg.TLSEnabled {
			tlsCfg := &tls.Config{InsecureSkipVerify: cfg.TLSInsecure}
			if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
				cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
				if err != nil {
					return nil, fmt.Errorf("load TLS client cert: %w", err)
				}
				tlsCfg.Certificates = []tls.Certificate{cert}
			}
			opts = append(opts, otlploghttp.WithTLSClientConfig(tlsCfg))
		} else {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTEL protocol %q", cfg.Protocol)
	}
}
