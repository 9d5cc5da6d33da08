package availability

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

type recordingProvider struct {
	embedded.TracerProvider

	mu      sync.Mutex
	tracers []string
	attrs   []attribute.KeyValue
}

func (p *recordingProvider) Tracer(name string, _ ...trace.TracerOption) trace.Tracer {
	p.mu.Lock()
	p.tracers = append(p.tracers, name)
	p.mu.Unlock()
	return recordingTracer{p: p}
}

func (p *recordingProvider) record(kv ...attribute.KeyValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs = append(p.attrs, kv...)
}

type recordingTracer struct {
	embedded.Tracer
	p *recordingProvider
}

func (t recordingTracer) Start(ctx context.Context, _ string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	t.p.record(cfg.Attributes()...)
	span := recordingSpan{Span: trace.SpanFromContext(context.Background()), p: t.p}
	return trace.ContextWithSpan(ctx, span), span
}

type recordingSpan struct {
	trace.Span
	p *recordingProvider
}

func (s recordingSpan) SetAttributes(kv ...attribute.KeyValue) { s.p.record(kv...) }

func TestSearchSpanNaming(t *testing.T) {
	rec := &recordingProvider{}
	otel.SetTracerProvider(rec)

	svc := NewService(&fakeSource{slots: []scheduling.Slot{{Start: at(8), RoomID: 1000}}}, logging.Discard())
	_, err := svc.Search(context.Background(), Query{CenterID: 100, DurationMinutes: 60})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.tracers, "or-scheduler.internal.availability")
	require.NotEmpty(t, rec.attrs)
	for _, kv := range rec.attrs {
		assert.True(t, strings.HasPrefix(string(kv.Key), "scheduler."), string(kv.Key))
	}
}
