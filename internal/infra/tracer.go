// Package infra は外部プロセス・DB・テレメトリとの接続を提供する。
package infra

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"dovecot-keyhandler/config"
)

// リソース属性のキー
const (
	attrDoveadmBin    = attribute.Key("keyhandler.doveadm_bin")
	attrEscalationBin = attribute.Key("keyhandler.escalation_bin")
	attrAuditStore    = attribute.Key("keyhandler.audit_store")
	attrHashEndpoint  = attribute.Key("keyhandler.hash_endpoint")
)

// InitTracer はトレーサープロバイダーを初期化する。
// OTEL_ENABLED=false の場合は nil を返す。
func InitTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	if !cfg.OtelEnabled {
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating trace resource: %w", err)
	}

	// doveadmの実行は鍵操作1回につき1スパンなので、親の判定に従う
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.OtelSamplingRate))),
	)
	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// exporterOptions はOTLPエクスポーターの接続設定を返す。
// OTEL_INSECURE=true のときだけ平文で接続する。
func exporterOptions(cfg *config.Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
	}
	if cfg.OtelInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

// newResource はこのサービスの実行環境を表すリソースを生成する。
// パスワードハッシュやDSNは含めない。
func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.OtelServiceName),
			semconv.ServiceVersion(config.Version),
			attrDoveadmBin.String(cfg.DoveadmBin),
			attrEscalationBin.String(cfg.DoasBin),
			attrAuditStore.String(AuditStoreKind(cfg.AuditDatabaseURL)),
			attrHashEndpoint.Bool(cfg.EnableHashEndpoint),
		),
	)
}
