// Package trace sends eval spans to Braintrust.
//
// The span processor tags every span with its Braintrust parent (an experiment
// or project), the org and the app URL, and forwards only spans created by
// braintrust tracers. Spans from other instrumentation, such as the HTTP server
// middleware, stay local.
//
//	tp, err := trace.NewTracerProvider(session, trace.Config{DefaultProjectName: "my-project"})
//	if err != nil {
//	    return err
//	}
//	defer tp.Shutdown(context.Background())
package trace

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/braintrustdata/braintrust-eval-server/internal/auth"
	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// ScopePrefix is the instrumentation scope prefix of every exported span.
const ScopePrefix = "braintrust."

// Config holds configuration for Braintrust tracing
type Config struct {
	// DefaultProjectName is the parent of spans that have none.
	DefaultProjectName string

	// SpanFilterFuncs further restrict which braintrust spans are exported.
	SpanFilterFuncs []SpanFilterFunc

	// EnableConsoleLog also prints every span to stdout.
	EnableConsoleLog bool

	// Exporter replaces the OTLP exporter, e.g. with an in-memory one in tests.
	Exporter sdktrace.SpanExporter

	Logger logger.Logger
}

// SpanFilterFunc decides which spans to send to Braintrust.
// Return >0 to keep, <0 to drop, 0 to not influence.
type SpanFilterFunc func(span sdktrace.ReadOnlySpan) int

// Source supplies the credentials and org the processor stamps on spans.
// *auth.Session implements it.
type Source interface {
	Endpoints() auth.Endpoints
	OrgName() string
}

// NewTracerProvider returns a tracer provider that exports to Braintrust when
// src is non-nil or cfg.Exporter is set. Without either it only records
// locally, plus stdout when console logging is on.
func NewTracerProvider(src Source, cfg Config) (*sdktrace.TracerProvider, error) {
	tp := sdktrace.NewTracerProvider()
	if src == nil && cfg.Exporter == nil {
		if cfg.EnableConsoleLog {
			addConsoleExporter(tp, cfg.Logger)
		}
		return tp, nil
	}
	if err := AddSpanProcessor(tp, src, cfg); err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}
	return tp, nil
}

// GetSpanProcessor creates a Braintrust span processor.
func GetSpanProcessor(src Source, cfg Config) (sdktrace.SpanProcessor, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	exporter := cfg.Exporter
	if exporter == nil {
		if src == nil {
			return nil, fmt.Errorf("trace: a source or exporter is required")
		}
		endpoints := src.Endpoints()
		otelOpts, err := getHTTPOtelOpts(endpoints.APIURL, endpoints.APIKey)
		if err != nil {
			return nil, err
		}
		exporter, err = otlptrace.New(context.Background(), otlptracehttp.NewClient(otelOpts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.Debug("created OTLP HTTP exporter", "endpoint", endpoints.APIURL)
	}

	parent := Parent{Type: ParentTypeProjectName, ID: cfg.DefaultProjectName}
	if parent.ID == "" {
		parent.ID = "braintrust-eval-server"
	}

	filters := append([]SpanFilterFunc{braintrustScopeFilter}, cfg.SpanFilterFuncs...)
	return newSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter), parent, filters, src, log), nil
}

// AddSpanProcessor creates and registers a Braintrust span processor.
func AddSpanProcessor(tp *sdktrace.TracerProvider, src Source, cfg Config) error {
	processor, err := GetSpanProcessor(src, cfg)
	if err != nil {
		return err
	}
	tp.RegisterSpanProcessor(processor)

	if cfg.EnableConsoleLog {
		addConsoleExporter(tp, cfg.Logger)
	}
	return nil
}

func addConsoleExporter(tp *sdktrace.TracerProvider, log logger.Logger) {
	if log == nil {
		log = logger.Discard()
	}
	consoleExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.Warn("failed to create console exporter", "error", err)
		return
	}
	tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(consoleExporter))
	log.Debug("registered console trace exporter")
}

// ParentOtelAttrKey is the OpenTelemetry attribute key used to associate spans with Braintrust parents.
// Parents are formatted as "project_name:{name}", "project_id:{uuid}" or "experiment_id:{uuid}".
const ParentOtelAttrKey = "braintrust.parent"

const (
	orgAttrKey    = "braintrust.org"
	appURLAttrKey = "braintrust.app_url"
)

type contextKey string

var parentContextKey contextKey = ParentOtelAttrKey

// SetParent will add a parent to the given context. Spans started with that
// context that carry no parent of their own are sent to it.
//
// The parent is stored both as a context value and as W3C baggage.
func SetParent(ctx context.Context, parent Parent) context.Context {
	ctx = context.WithValue(ctx, parentContextKey, parent)

	member, err := baggage.NewMember(ParentOtelAttrKey, parent.String())
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// GetParent returns the parent from the context and a boolean indicating if it was set.
func GetParent(ctx context.Context) (bool, Parent) {
	if parent, ok := ctx.Value(parentContextKey).(Parent); ok {
		return true, parent
	}

	if parentStr := baggage.FromContext(ctx).Member(ParentOtelAttrKey).Value(); parentStr != "" {
		parent, err := ParseParent(parentStr)
		if err != nil {
			return false, Parent{}
		}
		return true, parent
	}
	return false, Parent{}
}

// ParentType represents the different places spans can be sent to
// in Braintrust - projects, experiments, etc.
type ParentType string

const (
	// ParentTypeProjectName is the type of parent that represents a project by name.
	ParentTypeProjectName ParentType = "project_name"
	// ParentTypeProjectID is the type of parent that represents a project by ID.
	ParentTypeProjectID ParentType = "project_id"
	// ParentTypeExperimentID is the type of parent that represents an experiment by ID.
	ParentTypeExperimentID ParentType = "experiment_id"
)

// IsValid returns true if the ParentType is a valid type.
func (p ParentType) IsValid() bool {
	return p == ParentTypeProjectName || p == ParentTypeProjectID || p == ParentTypeExperimentID
}

// Parent represents where data goes in Braintrust - a project, an experiment, etc.
type Parent struct {
	Type ParentType
	ID   string
}

// Attr returns the OTel attribute for this parent.
func (p Parent) Attr() attribute.KeyValue {
	return attribute.String(ParentOtelAttrKey, p.String())
}

func (p Parent) String() string {
	return fmt.Sprintf("%s:%s", p.Type, p.ID)
}

// ParseParent parses the "type:id" form produced by Parent.String.
func ParseParent(s string) (Parent, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Parent{}, fmt.Errorf("invalid parent format: %s", s)
	}
	pt := ParentType(typ)
	if !pt.IsValid() {
		return Parent{}, fmt.Errorf("invalid parent type: %s", typ)
	}
	return Parent{Type: pt, ID: id}, nil
}

type spanProcessor struct {
	wrapped       sdktrace.SpanProcessor
	filters       []SpanFilterFunc
	defaultParent attribute.KeyValue
	src           Source
	logger        logger.Logger

	mu      sync.Mutex
	orgName string
}

func newSpanProcessor(proc sdktrace.SpanProcessor, defaultParent Parent, filters []SpanFilterFunc, src Source, log logger.Logger) *spanProcessor {
	return &spanProcessor{
		wrapped:       proc,
		filters:       filters,
		defaultParent: defaultParent.Attr(),
		src:           src,
		logger:        log,
	}
}

// attrs returns the org and app URL attributes. The org name is remembered
// once the source reports it, since login finishes after startup.
func (sp *spanProcessor) attrs() []attribute.KeyValue {
	if sp.src == nil {
		return nil
	}

	sp.mu.Lock()
	if sp.orgName == "" {
		sp.orgName = sp.src.OrgName()
	}
	orgName := sp.orgName
	sp.mu.Unlock()

	var attrs []attribute.KeyValue
	if orgName != "" {
		attrs = append(attrs, attribute.String(orgAttrKey, orgName))
	}
	if appURL := sp.src.Endpoints().AppURL; appURL != "" {
		attrs = append(attrs, attribute.String(appURLAttrKey, appURL))
	}
	return attrs
}

// OnStart assigns the span's parent: its own, the context's, or the default.
func (sp *spanProcessor) OnStart(ctx context.Context, span sdktrace.ReadWriteSpan) {
	if !hasParent(span) {
		if ok, parent := GetParent(ctx); ok {
			span.SetAttributes(parent.Attr())
		} else {
			span.SetAttributes(sp.defaultParent)
		}
	}
	span.SetAttributes(sp.attrs()...)
	sp.wrapped.OnStart(ctx, span)
}

// OnEnd forwards spans that pass the filters.
func (sp *spanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if sp.shouldForwardSpan(span) {
		sp.wrapped.OnEnd(span)
	}
}

// shouldForwardSpan applies the filters in order; the first one with an
// opinion wins and spans nobody has an opinion on are kept.
func (sp *spanProcessor) shouldForwardSpan(span sdktrace.ReadOnlySpan) bool {
	for _, filter := range sp.filters {
		switch result := filter(span); {
		case result > 0:
			return true
		case result < 0:
			return false
		}
	}
	return true
}

// Shutdown shuts down the span processor.
func (sp *spanProcessor) Shutdown(ctx context.Context) error {
	return sp.wrapped.Shutdown(ctx)
}

// ForceFlush forces a flush of the span processor.
func (sp *spanProcessor) ForceFlush(ctx context.Context) error {
	return sp.wrapped.ForceFlush(ctx)
}

var _ sdktrace.SpanProcessor = &spanProcessor{}

// braintrustScopeFilter drops spans from tracers outside the braintrust scope.
func braintrustScopeFilter(span sdktrace.ReadOnlySpan) int {
	if strings.HasPrefix(span.InstrumentationScope().Name, ScopePrefix) {
		return 0
	}
	return -1
}

// getHTTPOtelOpts parses the URL and creates OTLP HTTP options with proper security settings
func getHTTPOtelOpts(fullURL, apiKey string) ([]otlptracehttp.Option, error) {
	protocol, host, ok := strings.Cut(fullURL, "://")
	if !ok || host == "" {
		return nil, fmt.Errorf("invalid url: %s", fullURL)
	}

	otelOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(strings.TrimRight(host, "/")),
		otlptracehttp.WithURLPath("/otel/v1/traces"),
		otlptracehttp.WithHeaders(map[string]string{
			"Authorization": "Bearer " + apiKey,
		}),
	}
	if protocol == "http" {
		otelOpts = append(otelOpts, otlptracehttp.WithInsecure())
	}
	return otelOpts, nil
}

func hasParent(span sdktrace.ReadWriteSpan) bool {
	for _, attr := range span.Attributes() {
		if attr.Key == ParentOtelAttrKey {
			return true
		}
	}
	return false
}
